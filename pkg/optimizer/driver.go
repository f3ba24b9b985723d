package optimizer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/squash/pkg/bytecode"
)

// ErrNonConvergence is reported (as a warning) when the round cap is reached
// while passes still make edits.
var ErrNonConvergence = errors.New("optimizer did not converge")

// Pass names, in pipeline order.
const (
	PassPropagate  = "propagate"
	PassFold       = "fold"
	PassBranches   = "branches"
	PassDeadVars   = "deadvars"
	PassInline     = "inline"
	PassDeadFuncs  = "deadfuncs"
	PassBoolCoerce = "boolcoerce"
	PassCompact    = "compact"
)

// Pass is one step of the pipeline. Run returns the number of edits made.
// A pass that replaces the instruction stream does so with
// MutableUnit.SetCode.
type Pass struct {
	Name string
	Run  func(m *MutableUnit) (int, error)
}

// Options configures an Optimizer.
type Options struct {
	MaxRounds    int
	InlineMaxOps int
	CoercionName string
	Disabled     map[string]bool
	Passes       []Pass // Replaces the standard pipeline when set
}

// Option mutates Options.
type Option func(*Options)

// WithMaxRounds caps the number of rounds.
func WithMaxRounds(n int) Option {
	return func(o *Options) { o.MaxRounds = n }
}

// WithInlineMaxOps sets the instruction-count limit for inlining candidates.
func WithInlineMaxOps(n int) Option {
	return func(o *Options) { o.InlineMaxOps = n }
}

// WithCoercionName sets the builtin rewritten by the bool-coercion pass.
func WithCoercionName(name string) Option {
	return func(o *Options) { o.CoercionName = name }
}

// WithoutPasses disables passes by name.
func WithoutPasses(names ...string) Option {
	return func(o *Options) {
		if o.Disabled == nil {
			o.Disabled = make(map[string]bool)
		}
		for _, n := range names {
			o.Disabled[n] = true
		}
	}
}

// WithPasses replaces the standard pipeline.
func WithPasses(passes ...Pass) Option {
	return func(o *Options) { o.Passes = passes }
}

// Optimizer runs the pass pipeline to a fixed point.
type Optimizer struct {
	opts     Options
	pipeline []Pass
}

// New creates an optimizer with the standard pipeline.
func New(opts ...Option) *Optimizer {
	o := Options{
		MaxRounds:    DefaultMaxRounds,
		InlineMaxOps: DefaultInlineMaxOps,
		CoercionName: DefaultCoercionName,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxRounds <= 0 {
		o.MaxRounds = DefaultMaxRounds
	}

	pipeline := o.Passes
	if pipeline == nil {
		pipeline = StandardPipeline(o.InlineMaxOps, o.CoercionName)
	}
	var enabled []Pass
	for _, p := range pipeline {
		if !o.Disabled[p.Name] {
			enabled = append(enabled, p)
		}
	}
	return &Optimizer{opts: o, pipeline: enabled}
}

// StandardPipeline returns the passes in their fixed order, ending with
// NOP compaction.
func StandardPipeline(inlineMaxOps int, coercionName string) []Pass {
	return []Pass{
		{PassPropagate, PropagateConstants},
		{PassFold, FoldConstants},
		{PassBranches, CollapseConstantBranches},
		{PassDeadVars, RemoveUnusedVariables},
		{PassInline, func(m *MutableUnit) (int, error) { return InlineFunctions(m, inlineMaxOps) }},
		{PassDeadFuncs, RemoveUnusedFunctions},
		{PassBoolCoerce, func(m *MutableUnit) (int, error) { return RewriteBoolCalls(m, coercionName) }},
		{PassCompact, CompactNops},
	}
}

// Options returns the effective options.
func (o *Optimizer) Options() Options {
	return o.opts
}

// Pipeline returns the enabled passes in order.
func (o *Optimizer) Pipeline() []Pass {
	return o.pipeline
}

// PassEdits is the edit count of one pass in one round.
type PassEdits struct {
	Pass  string
	Edits int
}

// RoundStats records one round.
type RoundStats struct {
	Round  int // 1-based
	Passes []PassEdits
	Total  int
}

// String renders "round 2: propagate=1 fold=0 ... (total 3)".
func (r RoundStats) String() string {
	parts := make([]string, len(r.Passes))
	for i, p := range r.Passes {
		parts[i] = fmt.Sprintf("%s=%d", p.Pass, p.Edits)
	}
	return fmt.Sprintf("round %d: %s (total %d)", r.Round, strings.Join(parts, " "), r.Total)
}

// Round runs every enabled pass once over m.
func (o *Optimizer) Round(m *MutableUnit, round int) (RoundStats, error) {
	stats := RoundStats{Round: round, Passes: make([]PassEdits, 0, len(o.pipeline))}
	for _, p := range o.pipeline {
		n, err := p.Run(m)
		if err != nil {
			return stats, fmt.Errorf("round %d, pass %s: %w", round, p.Name, err)
		}
		stats.Passes = append(stats.Passes, PassEdits{Pass: p.Name, Edits: n})
		stats.Total += n
	}
	return stats, nil
}

// Result describes an optimization run.
type Result struct {
	Unit       *bytecode.Unit
	Rounds     int
	History    []RoundStats
	TotalEdits int
	Before     bytecode.Stats
	After      bytecode.Stats
	Converged  bool
}

// Warning returns a non-nil error wrapping ErrNonConvergence when the run
// stopped at the round cap.
func (r *Result) Warning() error {
	if r.Converged {
		return nil
	}
	return fmt.Errorf("%w: stopped after %d rounds", ErrNonConvergence, r.Rounds)
}

// EditsByPass sums the edits of each pass over all rounds.
func (r *Result) EditsByPass() map[string]int {
	out := make(map[string]int)
	for _, round := range r.History {
		for _, p := range round.Passes {
			out[p.Pass] += p.Edits
		}
	}
	return out
}

// Run validates u and optimizes a copy of it until a round makes no edits
// or the round cap is reached. u is not modified. Reaching the cap is not an
// error; see Result.Warning.
func (o *Optimizer) Run(u *bytecode.Unit) (*Result, error) {
	if err := bytecode.Validate(u); err != nil {
		return nil, err
	}
	before, err := u.Stats()
	if err != nil {
		return nil, err
	}

	m := NewMutableUnit(u)
	res := &Result{Before: before}
	for res.Rounds < o.opts.MaxRounds {
		res.Rounds++
		stats, err := o.Round(m, res.Rounds)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", u.Name, err)
		}
		res.History = append(res.History, stats)
		res.TotalEdits += stats.Total
		logger().Infof("%s %s", u.Name, stats)
		if stats.Total == 0 {
			res.Converged = true
			break
		}
	}

	res.Unit = m.Unit()
	res.After, err = res.Unit.Stats()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", u.Name, err)
	}
	if !res.Converged {
		logger().Warningf("%s: %s", u.Name, res.Warning())
	}
	return res, nil
}
