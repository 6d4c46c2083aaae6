package main

import (
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"

	"github.com/jas-dzied/room-matcher/config"
	"github.com/jas-dzied/room-matcher/logger"
	"github.com/jas-dzied/room-matcher/solver"
)

var (
	gray   = color.RGB(100, 100, 100)
	accent = color.RGB(55, 80, 140)
	green  = color.New(color.FgGreen)
	blue   = color.New(color.FgBlue)
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "serve" {
		serve(os.Args[2:])
		return
	}

	seed := flag.Int64("seed", 0, "master random seed (0 picks one from the clock)")
	samples := flag.Int("samples", 0, "override the roster's solutions count")
	workers := flag.Int("workers", 0, "sampling goroutines (0 means one per CPU)")
	flag.Parse()

	path := config.DefaultPath
	if flag.NArg() > 0 {
		path = flag.Arg(0)
	}

	if err := run(path, *seed, *samples, *workers); err != nil {
		fmt.Fprintf(os.Stderr, "room-matcher: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, seed int64, samples, workers int) error {
	log := logger.New(os.Stdout)

	shown := path
	if abs, err := filepath.Abs(path); err == nil {
		shown = abs
	}
	step := log.Infof("%s %s", gray.Sprint("Loading config file from"), shown)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	step.End()

	if samples > 0 {
		cfg.Solutions = samples
	}

	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	step = log.Infof("%s %s", gray.Sprint("Initialising rng with seed"), accent.Sprint(seed))
	rng := rand.New(rand.NewSource(seed))
	step.End()

	step = log.Infof("%s %s %s",
		gray.Sprint("Generating"), accent.Sprint(cfg.Solutions), gray.Sprint("solutions"))
	params := solver.Params{Samples: cfg.Solutions, Workers: workers}
	solutions, err := solver.Sample(cfg.Population, cfg.Constraints, params, rng)
	if err != nil {
		return err
	}
	step.End()

	step = log.Info(gray.Sprint("Finding optimal solutions"))
	best, err := solver.SelectBest(solutions, rng)
	if err != nil {
		return err
	}
	step.End()

	renderResult(os.Stdout, best)
	return nil
}

func renderResult(w io.Writer, sol solver.Solution) {
	fmt.Fprintf(w, "%s preferred matchups:   %s\n", green.Sprint("RESULT"), blue.Sprint(sol.Preferred))
	fmt.Fprintf(w, "       accepted matchups:    %s\n", blue.Sprint(sol.Accepted))
	fmt.Fprintf(w, "       unpreferred matchups: %s\n", blue.Sprint(sol.Unpreferred))
	for i, pair := range sol.Pairs {
		fmt.Fprintf(w, "       ROOM %d: %s & %s\n", i+1, blue.Sprint(pair.A), blue.Sprint(pair.B))
	}
}
