package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/chazu/squash/history"
	"github.com/chazu/squash/pkg/bytecode"
	"github.com/chazu/squash/pkg/optimizer"
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

func isTerminalOut() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func setupColor(disabled bool) {
	if disabled || !isTerminalOut() {
		color.NoColor = true
	}
}

func fatal(msg interface{}) {
	fmt.Fprintf(os.Stderr, "%s\n", red(fmt.Sprint(msg)))
	os.Exit(1)
}

func warn(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", yellow("warning:"), fmt.Sprintf(format, args...))
}

func header(w io.Writer, title string) {
	fmt.Fprintf(w, "%s\n", bold(title))
}

// printDisassembly writes the annotated listing of u with instruction
// offsets highlighted.
func printDisassembly(w io.Writer, title string, u *bytecode.Unit) {
	header(w, title)
	for _, line := range strings.Split(strings.TrimRight(bytecode.Disassemble(u), "\n"), "\n") {
		if strings.HasPrefix(line, ";") {
			fmt.Fprintln(w, cyan(line))
			continue
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
}

func printSummary(w io.Writer, res *optimizer.Result) {
	fmt.Fprintf(w, "Went from %d to %d bytes\n", res.Before.Bytes, res.After.Bytes)
	fmt.Fprintf(w, "  before: %s\n", res.Before)
	fmt.Fprintf(w, "  after:  %s\n", res.After)

	state := green("converged")
	if !res.Converged {
		state = yellow("stopped at round cap")
	}
	fmt.Fprintf(w, "  %d rounds, %d edits, %s\n", res.Rounds, res.TotalEdits, state)

	byPass := res.EditsByPass()
	var parts []string
	for _, p := range res.History[0].Passes {
		if n := byPass[p.Pass]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", p.Pass, n))
		}
	}
	if len(parts) > 0 {
		fmt.Fprintf(w, "  edits: %s\n", strings.Join(parts, " "))
	}
}

func printRuns(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No recorded runs")
		return
	}
	for _, r := range runs {
		status := green("ok")
		if !r.Converged {
			status = yellow("cap")
		}
		fmt.Fprintf(w, "%s  %s  %-24s %5d -> %5d bytes (-%d)  %3d rounds  %s  %s\n",
			r.At.Local().Format("2006-01-02 15:04:05"),
			cyan(r.ID[:8]),
			r.Input,
			r.Before.Bytes, r.After.Bytes, r.Saved(),
			r.Rounds, status, r.Fingerprint)
	}
}
