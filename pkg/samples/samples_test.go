package samples

import (
	"testing"

	"github.com/chazu/squash/pkg/bytecode"
)

func TestSamplesValidateAndRun(t *testing.T) {
	want := map[string]string{
		"arith":           "12\n",
		"ifelse":          "",
		"ifelse-print":    "1\n",
		"iffalse":         "else\nafter\n",
		"inline":          "42\n",
		"inline-multiply": "42\n",
		"inline-large":    "15\n",
		"bool":            "False True\n",
		"loop":            "0 1 2",
		"countdown":       "3 2 1 liftoff\n",
		"ternary":         "7\n",
		"strings":         "hello, world\nTrue\n",
		"deadcode":        "ok\n",
		"global-escape":   "hi\n",
		"mixed":           "limit 8\n",
	}

	for _, s := range All() {
		t.Run(s.Name, func(t *testing.T) {
			u := s.Build()
			if err := bytecode.Validate(u); err != nil {
				t.Fatalf("Validate: %v", err)
			}
			got, err := bytecode.Output(u, 0)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			expected, ok := want[s.Name]
			if !ok {
				t.Fatalf("no expected output for sample %q", s.Name)
			}
			if got != expected {
				t.Errorf("output = %q, want %q", got, expected)
			}
		})
	}
	if len(All()) != len(want) {
		t.Errorf("len(All()) = %d, want %d", len(All()), len(want))
	}
}

func TestBuildReturnsFreshUnits(t *testing.T) {
	s, ok := Get("arith")
	if !ok {
		t.Fatal("arith not registered")
	}
	a, b := s.Build(), s.Build()
	a.Code[0] = byte(bytecode.OpNop)
	if b.Code[0] != byte(bytecode.OpLoadConst) {
		t.Errorf("second build shares code with the first")
	}
}

func TestNamesSorted(t *testing.T) {
	names := Names()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("Names() not sorted at %d: %q >= %q", i, names[i-1], names[i])
		}
	}
	if _, ok := Get("no-such-sample"); ok {
		t.Error("Get(no-such-sample) found a sample")
	}
}

func TestIncShape(t *testing.T) {
	f := Inc()
	if f.ArgCount != 1 {
		t.Errorf("ArgCount = %d, want 1", f.ArgCount)
	}
	if len(f.Consts) != 2 || f.Consts[0] != nil || f.Consts[1] != int64(1) {
		t.Errorf("Consts = %v, want [None 1]", f.Consts)
	}
	n, err := bytecode.InstructionCount(f.Code)
	if err != nil || n != 4 {
		t.Errorf("InstructionCount = %d, %v; want 4", n, err)
	}
}
