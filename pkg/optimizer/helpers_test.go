package optimizer

import (
	"testing"

	"github.com/chazu/squash/pkg/bytecode"
	"github.com/chazu/squash/pkg/samples"
)

func sample(t *testing.T, name string) *bytecode.Unit {
	t.Helper()
	s, ok := samples.Get(name)
	if !ok {
		t.Fatalf("sample %q not registered", name)
	}
	return s.Build()
}

func opsOf(t *testing.T, code []byte) []bytecode.Opcode {
	t.Helper()
	instrs, err := bytecode.Decode(code)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ops := make([]bytecode.Opcode, len(instrs))
	for i, in := range instrs {
		ops[i] = in.Op
	}
	return ops
}

func countOp(t *testing.T, code []byte, op bytecode.Opcode) int {
	t.Helper()
	n := 0
	for _, o := range opsOf(t, code) {
		if o == op {
			n++
		}
	}
	return n
}

func sameOps(got, want []bytecode.Opcode) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func runPass(t *testing.T, pass func(*MutableUnit) (int, error), m *MutableUnit) int {
	t.Helper()
	n, err := pass(m)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	return n
}

func optimize(t *testing.T, u *bytecode.Unit, opts ...Option) *Result {
	t.Helper()
	res, err := New(opts...).Run(u)
	if err != nil {
		t.Fatalf("Run(%s): %v", u.Name, err)
	}
	return res
}

func output(t *testing.T, u *bytecode.Unit) string {
	t.Helper()
	out, err := bytecode.Output(u, 0)
	if err != nil {
		t.Fatalf("run %s: %v", u.Name, err)
	}
	return out
}
