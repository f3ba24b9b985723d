// Squash CLI - optimizes compiled bytecode containers
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/squash/history"
	"github.com/chazu/squash/manifest"
	"github.com/chazu/squash/pkg/bytecode"
	"github.com/chazu/squash/pkg/optimizer"
	"github.com/chazu/squash/pkg/samples"
)

func main() {
	outPath := flag.String("o", "", "Write the optimized container to this path")
	disassemble := flag.Bool("dis", false, "Print disassembly before and after optimization")
	check := flag.Bool("check", false, "Run both versions and compare their output")
	historyN := flag.Int("history", 0, "List the N most recent recorded runs and exit")
	sampleName := flag.String("sample", "", "Optimize a built-in sample program ('list' to show them)")
	emitPath := flag.String("emit", "", "With -sample, write the unoptimized sample container to this path")
	verbosity := flag.Int("v", -1, "Log verbosity, higher is more detailed (default from manifest)")
	logFile := flag.String("log", "", "Write logs to this file instead of stderr")
	maxRounds := flag.Int("rounds", 0, "Maximum optimization rounds")
	inlineMax := flag.Int("inline-max", 0, "Instruction limit for inlining candidates")
	disable := flag.String("disable", "", "Comma-separated passes to disable")
	noHistory := flag.Bool("no-history", false, "Do not record this run")
	noColor := flag.Bool("no-color", false, "Disable colored output")
	steps := flag.Int("steps", bytecode.DefaultMaxSteps, "Instruction limit for -check")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: squash [options] file.sqbc\n\n")
		fmt.Fprintf(os.Stderr, "Optimizes a compiled bytecode container and reports the size reduction.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  squash prog.sqbc                 # Optimize, write prog.opt.sqbc\n")
		fmt.Fprintf(os.Stderr, "  squash -dis -check prog.sqbc     # Show listings, verify output\n")
		fmt.Fprintf(os.Stderr, "  squash -sample inline -dis       # Optimize a built-in sample\n")
		fmt.Fprintf(os.Stderr, "  squash -history 10               # Show recent runs\n")
		fmt.Fprintf(os.Stderr, "\nPasses: %s\n", strings.Join(passNames(), ", "))
	}
	flag.Parse()
	setupColor(*noColor)

	cwd, err := os.Getwd()
	if err != nil {
		fatal(err)
	}
	m, err := manifest.FindAndLoad(cwd)
	if err != nil {
		fatal(err)
	}
	if m == nil {
		m = manifest.Default()
	}

	// Flags override the manifest
	if *verbosity >= 0 {
		m.Log.Verbosity = *verbosity
	}
	if *logFile != "" {
		m.Log.File = *logFile
	}
	if *maxRounds > 0 {
		m.Optimizer.MaxRounds = *maxRounds
	}
	if *inlineMax > 0 {
		m.Optimizer.InlineMaxOps = *inlineMax
	}
	if *disable != "" {
		m.Optimizer.Disable = append(m.Optimizer.Disable, strings.Split(*disable, ",")...)
	}
	if *disassemble {
		m.Output.Disassemble = true
	}
	configureLogging(m)

	if *historyN > 0 {
		showHistory(m, *historyN)
		return
	}

	if *sampleName == "list" {
		for _, s := range samples.All() {
			fmt.Printf("%-16s %s\n", s.Name, strings.ReplaceAll(strings.TrimSpace(s.Source), "\n", "; "))
		}
		return
	}

	input, unit := loadInput(*sampleName, *emitPath)

	if m.Output.Disassemble {
		printDisassembly(os.Stdout, "Original:", unit)
	}

	opt := optimizer.New(optimizerOptions(m)...)
	res, err := opt.Run(unit)
	if err != nil {
		fatal(fmt.Errorf("%s: %w", input, err))
	}

	if m.Output.Disassemble {
		printDisassembly(os.Stdout, "Optimized:", res.Unit)
	}
	printSummary(os.Stdout, res)
	if w := res.Warning(); w != nil {
		warn("%s", w)
	}

	failed := false
	if *check {
		failed = !checkEquivalence(unit, res.Unit, *steps)
	}

	target := *outPath
	if target == "" && *sampleName == "" {
		target = m.OutputPath(input)
	}
	if target != "" {
		if err := bytecode.SaveFile(target, res.Unit, bytecode.FlagOptimized, time.Now()); err != nil {
			fatal(err)
		}
		fmt.Printf("Wrote %s\n", target)
	}

	if m.History.Enabled && !*noHistory {
		record(m, input, unit, res)
	}

	if failed {
		os.Exit(1)
	}
}

func passNames() []string {
	var names []string
	for _, p := range optimizer.New().Pipeline() {
		names = append(names, p.Name)
	}
	return names
}

func configureLogging(m *manifest.Manifest) {
	var path *string
	if p := m.LogFilePath(); p != "" {
		path = &p
	}
	commonlog.Configure(m.Log.Verbosity, path)
}

func optimizerOptions(m *manifest.Manifest) []optimizer.Option {
	opts := []optimizer.Option{
		optimizer.WithMaxRounds(m.Optimizer.MaxRounds),
		optimizer.WithInlineMaxOps(m.Optimizer.InlineMaxOps),
		optimizer.WithCoercionName(m.Optimizer.CoercionName),
	}
	known := make(map[string]bool)
	for _, n := range passNames() {
		known[n] = true
	}
	var disabled []string
	for _, name := range m.Optimizer.Disable {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !known[name] {
			fatal(fmt.Sprintf("unknown pass %q (passes: %s)", name, strings.Join(passNames(), ", ")))
		}
		disabled = append(disabled, name)
	}
	if len(disabled) > 0 {
		opts = append(opts, optimizer.WithoutPasses(disabled...))
	}
	return opts
}

// loadInput returns a display name and the unit to optimize.
func loadInput(sampleName, emitPath string) (string, *bytecode.Unit) {
	if sampleName != "" {
		s, ok := samples.Get(sampleName)
		if !ok {
			fatal(fmt.Sprintf("unknown sample %q (samples: %s)", sampleName, strings.Join(samples.Names(), ", ")))
		}
		u := s.Build()
		if emitPath != "" {
			if err := bytecode.SaveFile(emitPath, u, 0, time.Now()); err != nil {
				fatal(err)
			}
			fmt.Printf("Wrote %s\n", emitPath)
		}
		return "sample:" + s.Name, u
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)
	u, hdr, err := bytecode.LoadFile(path)
	if err != nil {
		fatal(err)
	}
	if hdr.Flags&bytecode.FlagOptimized != 0 {
		warn("%s is already optimized", path)
	}
	return path, u
}

func checkEquivalence(original, optimized *bytecode.Unit, steps int) bool {
	want, errWant := bytecode.Output(original, steps)
	got, errGot := bytecode.Output(optimized, steps)
	switch {
	case errWant != nil && errGot != nil:
		warn("both versions failed: %v / %v", errWant, errGot)
		return false
	case errGot != nil:
		fmt.Printf("%s optimized version failed: %v\n", red("check:"), errGot)
		return false
	case errWant != nil:
		warn("original failed (%v); optimized printed %q", errWant, got)
		return false
	case got != want:
		fmt.Printf("%s output differs\n  original:  %q\n  optimized: %q\n", red("check:"), want, got)
		return false
	}
	fmt.Printf("%s output identical (%d bytes)\n", green("check:"), len(got))
	return true
}

func record(m *manifest.Manifest, input string, unit *bytecode.Unit, res *optimizer.Result) {
	store, err := history.Open(m.DatabasePath())
	if err != nil {
		warn("history: %v", err)
		return
	}
	defer store.Close()
	if _, err := store.Record(input, unit, res); err != nil {
		warn("history: %v", err)
	}
}

func showHistory(m *manifest.Manifest, n int) {
	store, err := history.Open(m.DatabasePath())
	if err != nil {
		fatal(err)
	}
	defer store.Close()
	runs, err := store.Recent(n)
	if err != nil {
		fatal(err)
	}
	printRuns(os.Stdout, runs)
}
