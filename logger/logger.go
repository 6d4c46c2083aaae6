// Package logger prints step progress lines with elapsed times:
//
//	 INFO  Loading roster from /home/x/config.toml took 212μs
//
// Info starts a line and the clock; End finishes the line. Steps are
// sequential: finish one before starting the next, or lines interleave.
package logger

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
)

var (
	infoTag = color.New(color.FgYellow)
	dim     = color.RGB(150, 150, 150)
)

// Logger writes progress lines to one destination.
type Logger struct {
	out io.Writer
	now func() time.Time
}

// New returns a Logger writing to out.
func New(out io.Writer) *Logger {
	return &Logger{out: out, now: time.Now}
}

// Info prints the INFO tag and text without a newline and starts the
// clock. End the returned step to finish the line.
func (l *Logger) Info(text string) *Step {
	fmt.Fprintf(l.out, "%s %s", infoTag.Sprint(" INFO "), text)
	return &Step{logger: l, start: l.now()}
}

// Infof is Info with formatting.
func (l *Logger) Infof(format string, args ...any) *Step {
	return l.Info(fmt.Sprintf(format, args...))
}

// Step is one running timed step.
type Step struct {
	logger *Logger
	start  time.Time
}

// End completes the step's line with the elapsed time.
func (s *Step) End() {
	elapsed := s.logger.now().Sub(s.start)
	fmt.Fprintf(s.logger.out, " %s\n", dim.Sprintf("took %s", formatElapsed(elapsed)))
}

// formatElapsed renders d in the coarsest unit that keeps the value at
// or below 5000, using integer division: 999ns, 212μs, 4800ms, 12s.
func formatElapsed(d time.Duration) string {
	n := d.Nanoseconds()
	units := []string{"ns", "μs", "ms", "s"}
	i := 0
	for n > 5000 && i < len(units)-1 {
		n /= 1000
		i++
	}
	return fmt.Sprintf("%d%s", n, units[i])
}
