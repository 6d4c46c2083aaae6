// solver-tune sweeps sample counts over a roster file and reports how
// stable the winning pairing is: run the sampler many times per count,
// tally the winning (preferred, accepted, unpreferred) outcomes, and
// count how many distinct winning pairings show up. Useful for picking
// a solutions value large enough that reruns agree.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jas-dzied/room-matcher/config"
	"github.com/jas-dzied/room-matcher/solver"
)

// pairingKey canonicalizes a pairing: members sorted within each pair,
// pairs sorted between themselves. Two pairings with the same rooms get
// the same key regardless of assembly order.
func pairingKey(pairs []solver.Pair) string {
	rooms := make([][2]string, len(pairs))
	for i, p := range pairs {
		a, b := p.A, p.B
		if b < a {
			a, b = b, a
		}
		rooms[i] = [2]string{a, b}
	}
	slices.SortFunc(rooms, func(x, y [2]string) int { return strings.Compare(x[0], y[0]) })
	var buf strings.Builder
	for _, room := range rooms {
		buf.WriteString(room[0])
		buf.WriteByte('&')
		buf.WriteString(room[1])
		buf.WriteByte(';')
	}
	return buf.String()
}

type runResult struct {
	winner  solver.Solution
	elapsed time.Duration
}

func outcomeKey(s solver.Solution) string {
	return fmt.Sprintf("preferred=%d accepted=%d unpreferred=%d", s.Preferred, s.Accepted, s.Unpreferred)
}

func printStats(label string, results []runResult, runs int) {
	outcomes := map[string]int{}
	pairings := map[string]int{}
	var totalTime time.Duration
	for _, r := range results {
		totalTime += r.elapsed
		outcomes[outcomeKey(r.winner)]++
		pairings[pairingKey(r.winner.Pairs)]++
	}

	fmt.Printf("--- %s ---\n", label)
	fmt.Printf("  avg time: %v\n", totalTime/time.Duration(runs))

	var outcomeList []struct {
		key   string
		count int
	}
	for k, c := range outcomes {
		outcomeList = append(outcomeList, struct {
			key   string
			count int
		}{k, c})
	}
	sort.Slice(outcomeList, func(i, j int) bool { return outcomeList[i].count > outcomeList[j].count })

	fmt.Printf("  winning outcome distribution:\n")
	for _, oc := range outcomeList {
		fmt.Printf("    %s: %d/%d runs (%.0f%%)\n", oc.key, oc.count, runs, float64(oc.count)/float64(runs)*100)
	}

	fmt.Printf("  unique winning pairings: %d\n", len(pairings))
	stable := 0
	for _, c := range pairings {
		if c == runs {
			stable++
		}
	}
	fmt.Printf("  pairings that won every run: %d\n", stable)

	var pairFreqs []int
	for _, c := range pairings {
		pairFreqs = append(pairFreqs, c)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(pairFreqs)))
	if len(pairFreqs) > 0 {
		topN := min(5, len(pairFreqs))
		fmt.Printf("  top %d pairing frequencies: ", topN)
		for i := range topN {
			if i > 0 {
				fmt.Print(", ")
			}
			fmt.Printf("%d/%d", pairFreqs[i], runs)
		}
		fmt.Println()
	}
	fmt.Println()
}

func main() {
	path := flag.String("config", config.DefaultPath, "roster TOML file")
	runs := flag.Int("runs", 20, "sampler runs per sample count")
	sampleCounts := flag.String("samples", "10,100,1000", "comma-separated sample counts to sweep")
	workers := flag.Int("workers", 0, "sampling goroutines per run (0 means one per CPU)")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "solver-tune: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("People: %d, Runs per config: %d\n\n", len(cfg.Population), *runs)

	for _, samples := range parseIntList(*sampleCounts) {
		params := solver.Params{Samples: samples, Workers: *workers}
		var results []runResult
		for run := range *runs {
			rng := rand.New(rand.NewSource(int64(run * 31337)))
			start := time.Now()
			best, err := solver.Best(cfg.Population, cfg.Constraints, params, rng)
			elapsed := time.Since(start)
			if err != nil {
				fmt.Fprintf(os.Stderr, "solver-tune: samples=%d run=%d: %v\n", samples, run, err)
				os.Exit(1)
			}
			results = append(results, runResult{best, elapsed})
		}
		printStats(fmt.Sprintf("samples=%d", samples), results, *runs)
	}
}

func parseIntList(s string) []int {
	parts := strings.Split(s, ",")
	var result []int
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err == nil {
			result = append(result, v)
		}
	}
	return result
}
