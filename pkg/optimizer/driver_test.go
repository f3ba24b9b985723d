package optimizer

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/squash/pkg/bytecode"
	"github.com/chazu/squash/pkg/samples"
)

func TestOptimizeArithmetic(t *testing.T) {
	res := optimize(t, sample(t, "arith"))

	if !res.Converged || res.Rounds != 3 {
		t.Errorf("Converged = %v, Rounds = %d; want true, 3", res.Converged, res.Rounds)
	}
	// print 12; return None
	want := []byte{
		byte(lc), 3, 0,
		byte(bytecode.OpPrintItem),
		byte(bytecode.OpPrintNewline),
		byte(lc), 2, 0,
		byte(ret),
	}
	if !bytes.Equal(res.Unit.Code, want) {
		t.Errorf("code = %v, want %v", res.Unit.Code, want)
	}
	if res.Unit.Consts[3] != int64(12) {
		t.Errorf("Consts[3] = %v, want 12", res.Unit.Consts[3])
	}
	if got := output(t, res.Unit); got != "12\n" {
		t.Errorf("output = %q, want %q", got, "12\n")
	}

	byPass := res.EditsByPass()
	for pass, n := range map[string]int{PassFold: 1, PassPropagate: 1, PassDeadVars: 1, PassCompact: 10} {
		if byPass[pass] != n {
			t.Errorf("%s edits = %d, want %d", pass, byPass[pass], n)
		}
	}
	if res.TotalEdits != 13 {
		t.Errorf("TotalEdits = %d, want 13", res.TotalEdits)
	}
	if res.Warning() != nil {
		t.Errorf("Warning() = %v, want nil", res.Warning())
	}
}

func TestOptimizeIfTrue(t *testing.T) {
	res := optimize(t, sample(t, "ifelse"))
	if res.After.Bytes >= res.Before.Bytes {
		t.Errorf("size %d -> %d, want a decrease", res.Before.Bytes, res.After.Bytes)
	}
	want := []bytecode.Opcode{lc, ret}
	if got := opsOf(t, res.Unit.Code); !sameOps(got, want) {
		t.Errorf("ops = %v, want %v", got, want)
	}
}

func TestOptimizeInline(t *testing.T) {
	res := optimize(t, sample(t, "inline"))

	if got := output(t, res.Unit); got != "42\n" {
		t.Errorf("output = %q, want %q", got, "42\n")
	}
	for _, op := range []bytecode.Opcode{ln, bytecode.OpCallFunction, bytecode.OpMakeFunction, bytecode.OpBinaryAdd, nop} {
		if n := countOp(t, res.Unit.Code, op); n != 0 {
			t.Errorf("%s left %d times", op, n)
		}
	}
	byPass := res.EditsByPass()
	if byPass[PassInline] != 1 || byPass[PassDeadFuncs] != 1 {
		t.Errorf("inline = %d, deadfuncs = %d; want 1, 1", byPass[PassInline], byPass[PassDeadFuncs])
	}
	// The pool keeps the function object even after its declaration is gone.
	if len(res.Unit.Nested()) != 1 {
		t.Errorf("len(Nested()) = %d, want 1", len(res.Unit.Nested()))
	}
}

func TestOptimizeInlineRefused(t *testing.T) {
	for _, name := range []string{"inline-multiply", "inline-large"} {
		t.Run(name, func(t *testing.T) {
			u := sample(t, name)
			res := optimize(t, u)
			if res.TotalEdits != 0 || res.Rounds != 1 {
				t.Errorf("TotalEdits = %d, Rounds = %d; want 0, 1", res.TotalEdits, res.Rounds)
			}
			if !bytes.Equal(res.Unit.Code, u.Code) {
				t.Errorf("code changed")
			}
		})
	}
}

func TestOptimizeInlineLargerLimit(t *testing.T) {
	res := optimize(t, sample(t, "inline-large"), WithInlineMaxOps(20))
	if got := output(t, res.Unit); got != "15\n" {
		t.Errorf("output = %q, want %q", got, "15\n")
	}
	want := []bytecode.Opcode{lc, bytecode.OpPrintItem, bytecode.OpPrintNewline, lc, ret}
	if got := opsOf(t, res.Unit.Code); !sameOps(got, want) {
		t.Errorf("ops = %v, want %v", got, want)
	}
}

// Declarations are found without regard to control flow, so the binding in
// the else arm wins even though the true arm is the one that runs.
func TestPropagationIgnoresControlFlow(t *testing.T) {
	u := sample(t, "ifelse-print")
	if got := output(t, u); got != "1\n" {
		t.Fatalf("original output = %q, want %q", got, "1\n")
	}
	res := optimize(t, u)
	if got := output(t, res.Unit); got != "2\n" {
		t.Errorf("optimized output = %q, want %q", got, "2\n")
	}
}

func TestPropagationBreaksLoopCounters(t *testing.T) {
	u := sample(t, "loop")
	res := optimize(t, u)
	_, err := bytecode.Output(res.Unit, 10_000)
	if !errors.Is(err, bytecode.ErrStepLimit) {
		t.Errorf("err = %v, want ErrStepLimit", err)
	}
}

func TestOptimizedSamplesBehaveTheSame(t *testing.T) {
	unsound := map[string]bool{"ifelse-print": true, "loop": true}
	for _, s := range samples.All() {
		if unsound[s.Name] {
			continue
		}
		t.Run(s.Name, func(t *testing.T) {
			u := s.Build()
			want := output(t, u)
			res := optimize(t, u)
			if err := bytecode.Validate(res.Unit); err != nil {
				t.Fatalf("optimized unit invalid: %v", err)
			}
			if got := output(t, res.Unit); got != want {
				t.Errorf("output = %q, want %q", got, want)
			}
			if res.After.Bytes > res.Before.Bytes {
				t.Errorf("size grew from %d to %d bytes", res.Before.Bytes, res.After.Bytes)
			}
			if !res.Converged {
				t.Errorf("did not converge in %d rounds", res.Rounds)
			}
		})
	}
}

func TestPoolOnlyGrows(t *testing.T) {
	for _, s := range samples.All() {
		u := s.Build()
		res := optimize(t, u)
		if len(res.Unit.Consts) < len(u.Consts) {
			t.Errorf("%s: pool shrank from %d to %d", s.Name, len(u.Consts), len(res.Unit.Consts))
			continue
		}
		for i, c := range u.Consts {
			if res.Unit.Consts[i] != c {
				t.Errorf("%s: Consts[%d] = %v, want %v", s.Name, i, res.Unit.Consts[i], c)
			}
		}
		if len(res.Unit.Names) != len(u.Names) {
			t.Errorf("%s: name table changed size", s.Name)
		}
	}
}

func TestFixedPoint(t *testing.T) {
	for _, s := range samples.All() {
		first := optimize(t, s.Build())
		second := optimize(t, first.Unit)
		if second.TotalEdits != 0 || second.Rounds != 1 {
			t.Errorf("%s: re-optimizing made %d edits in %d rounds", s.Name, second.TotalEdits, second.Rounds)
		}
		if !bytes.Equal(first.Unit.Code, second.Unit.Code) {
			t.Errorf("%s: re-optimizing changed the code", s.Name)
		}
	}
}

func TestRunLeavesInputUntouched(t *testing.T) {
	u := sample(t, "mixed")
	code := append([]byte(nil), u.Code...)
	pool := len(u.Consts)
	optimize(t, u)
	if !bytes.Equal(u.Code, code) || len(u.Consts) != pool {
		t.Errorf("input unit modified")
	}
}

// grow appends a NOP for compaction to remove, so every round has edits.
func grow(m *MutableUnit) (int, error) {
	m.SetCode(append(m.Code, byte(bytecode.OpNop)))
	return 1, nil
}

func TestNonConvergence(t *testing.T) {
	opt := New(WithPasses(Pass{Name: "grow", Run: grow}, Pass{Name: PassCompact, Run: CompactNops}))
	res, err := opt.Run(sample(t, "arith"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Converged {
		t.Error("Converged = true, want false")
	}
	if res.Rounds != DefaultMaxRounds {
		t.Errorf("Rounds = %d, want %d", res.Rounds, DefaultMaxRounds)
	}
	if !errors.Is(res.Warning(), ErrNonConvergence) {
		t.Errorf("Warning() = %v, want ErrNonConvergence", res.Warning())
	}
	if len(res.Unit.Code) != len(sample(t, "arith").Code) {
		t.Errorf("final code has %d bytes, want the compacted original", len(res.Unit.Code))
	}
}

func TestMaxRounds(t *testing.T) {
	opt := New(WithMaxRounds(5), WithPasses(Pass{Name: "grow", Run: grow}, Pass{Name: PassCompact, Run: CompactNops}))
	res, err := opt.Run(sample(t, "arith"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Rounds != 5 || len(res.History) != 5 {
		t.Errorf("Rounds = %d, len(History) = %d; want 5, 5", res.Rounds, len(res.History))
	}
	if !strings.Contains(res.Warning().Error(), "5 rounds") {
		t.Errorf("Warning() = %q", res.Warning())
	}
}

func TestPassErrorsAbortTheRun(t *testing.T) {
	boom := errors.New("boom")
	opt := New(WithPasses(Pass{Name: "fail", Run: func(*MutableUnit) (int, error) { return 0, boom }}))
	_, err := opt.Run(sample(t, "arith"))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if err != nil && !strings.Contains(err.Error(), "pass fail") {
		t.Errorf("err = %q, want the failing pass named", err)
	}
}

func TestRunValidatesInput(t *testing.T) {
	u := bytecode.NewUnit("<module>")
	u.Code = []byte{byte(lc), 0}
	if _, err := New().Run(u); !errors.Is(err, bytecode.ErrMalformedStream) {
		t.Errorf("truncated stream: err = %v, want ErrMalformedStream", err)
	}

	u = bytecode.NewUnit("<module>")
	u.EmitArg(lc, 4)
	if _, err := New().Run(u); !errors.Is(err, bytecode.ErrInvalidIndex) {
		t.Errorf("bad constant index: err = %v, want ErrInvalidIndex", err)
	}
}

func TestOptions(t *testing.T) {
	o := New().Options()
	if o.MaxRounds != 100 || o.InlineMaxOps != 10 || o.CoercionName != "bool" {
		t.Errorf("defaults = %+v", o)
	}
	if got := New(WithMaxRounds(0)).Options().MaxRounds; got != DefaultMaxRounds {
		t.Errorf("MaxRounds(0) = %d, want %d", got, DefaultMaxRounds)
	}

	var names []string
	for _, p := range New().Pipeline() {
		names = append(names, p.Name)
	}
	want := "propagate fold branches deadvars inline deadfuncs boolcoerce compact"
	if got := strings.Join(names, " "); got != want {
		t.Errorf("pipeline = %q, want %q", got, want)
	}

	names = names[:0]
	for _, p := range New(WithoutPasses(PassInline, PassBoolCoerce)).Pipeline() {
		names = append(names, p.Name)
	}
	want = "propagate fold branches deadvars deadfuncs compact"
	if got := strings.Join(names, " "); got != want {
		t.Errorf("pipeline = %q, want %q", got, want)
	}
}

func TestWithoutPasses(t *testing.T) {
	res := optimize(t, sample(t, "arith"), WithoutPasses(PassFold))
	if res.TotalEdits != 0 {
		t.Errorf("TotalEdits = %d, want 0 without folding", res.TotalEdits)
	}

	res = optimize(t, sample(t, "bool"), WithCoercionName("truth"))
	if n := res.EditsByPass()[PassBoolCoerce]; n != 0 {
		t.Errorf("boolcoerce edits = %d with another builtin name, want 0", n)
	}
}

func TestRoundStatsString(t *testing.T) {
	r := RoundStats{Round: 2, Passes: []PassEdits{{PassPropagate, 1}, {PassFold, 0}}, Total: 1}
	want := "round 2: propagate=1 fold=0 (total 1)"
	if got := r.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
