package bytecode

import (
	"errors"
	"strings"
	"testing"
)

func runOutput(t *testing.T, u *Unit) string {
	t.Helper()
	out, err := Output(u, 0)
	if err != nil {
		t.Fatalf("run %s: %v", u.Name, err)
	}
	return out
}

func TestVMPrintArithmetic(t *testing.T) {
	u := NewUnit("<module>")
	u.EmitConst(int64(5))
	u.EmitConst(int64(7))
	u.Emit(OpBinaryAdd)
	u.EmitName(OpStoreName, "x")
	u.EmitName(OpLoadName, "x")
	u.Emit(OpPrintItem)
	u.EmitConst("done")
	u.Emit(OpPrintItem)
	u.Emit(OpPrintNewline)
	u.EmitConst(nil)
	u.Emit(OpReturnValue)

	if got := runOutput(t, u); got != "12 done\n" {
		t.Errorf("output = %q, want %q", got, "12 done\n")
	}
}

func TestVMIfElse(t *testing.T) {
	u := validIfElse()
	vm := NewVM(nil)
	if _, err := vm.Run(u); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := vm.Globals()["a"]; got != int64(1) {
		t.Errorf("a = %v, want 1", got)
	}
}

func TestVMFunctionCall(t *testing.T) {
	f := NewFunction("add", "a", "b")
	f.EmitLocal(OpLoadFast, "a")
	f.EmitLocal(OpLoadFast, "b")
	f.Emit(OpBinaryAdd)
	f.Emit(OpReturnValue)

	u := NewUnit("<module>")
	u.EmitConst(int64(10))
	u.EmitConst(f)
	u.EmitArg(OpMakeFunction, 1)
	u.EmitName(OpStoreName, "add")
	u.EmitName(OpLoadName, "add")
	u.EmitConst(int64(3))
	u.EmitArg(OpCallFunction, 1)
	u.Emit(OpPrintItem)
	u.EmitName(OpLoadName, "add")
	u.EmitConst("a")
	u.EmitConst("b")
	u.EmitArg(OpCallFunction, 2)
	u.Emit(OpPrintItem)
	u.Emit(OpPrintNewline)

	if got := runOutput(t, u); got != "13 ab\n" {
		t.Errorf("output = %q, want %q", got, "13 ab\n")
	}
}

func TestVMLoopWithBreak(t *testing.T) {
	// i = 0
	// while True:
	//     if i == 3: break
	//     print i,
	//     i = i + 1
	u := NewUnit("<module>")
	u.EmitConst(int64(0))
	u.EmitName(OpStoreName, "i")
	setup := u.EmitJump(OpSetupLoop)
	head := u.CurrentOffset()
	u.EmitName(OpLoadName, "i")
	u.EmitConst(int64(3))
	u.EmitCompare(CmpEqual)
	notDone := u.EmitJump(OpPopJumpIfFalse)
	u.Emit(OpBreakLoop)
	u.PatchJump(notDone)
	u.EmitName(OpLoadName, "i")
	u.Emit(OpPrintItem)
	u.EmitName(OpLoadName, "i")
	u.EmitConst(int64(1))
	u.Emit(OpBinaryAdd)
	u.EmitName(OpStoreName, "i")
	u.EmitJumpTo(OpJumpAbsolute, head)
	u.Emit(OpPopBlock)
	u.PatchJump(setup)
	u.Emit(OpPrintNewline)

	if got := runOutput(t, u); got != "0 1 2\n" {
		t.Errorf("output = %q, want %q", got, "0 1 2\n")
	}
}

func TestVMBuiltins(t *testing.T) {
	u := NewUnit("<module>")
	for _, call := range []struct {
		fn  string
		arg Value
	}{
		{"bool", int64(0)},
		{"bool", "x"},
		{"len", "abcd"},
		{"str", 2.0},
		{"abs", int64(-4)},
	} {
		u.EmitName(OpLoadName, call.fn)
		u.EmitConst(call.arg)
		u.EmitArg(OpCallFunction, 1)
		u.Emit(OpPrintItem)
	}
	u.Emit(OpPrintNewline)

	if got := runOutput(t, u); got != "False True 4 2.0 4\n" {
		t.Errorf("output = %q", got)
	}
}

func TestVMListsAndSubscript(t *testing.T) {
	u := NewUnit("<module>")
	u.EmitConst(int64(1))
	u.EmitConst("two")
	u.EmitArg(OpBuildList, 2)
	u.EmitName(OpStoreName, "xs")
	u.EmitName(OpLoadName, "xs")
	u.EmitConst(int64(-1))
	u.Emit(OpBinarySubscr)
	u.Emit(OpPrintItem)
	u.EmitName(OpLoadName, "xs")
	u.Emit(OpPrintItem)
	u.Emit(OpPrintNewline)

	if got := runOutput(t, u); got != "two [1, 'two']\n" {
		t.Errorf("output = %q", got)
	}
}

func TestVMErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(u *Unit)
		want  error
	}{
		{"undefined name", func(u *Unit) {
			u.EmitName(OpLoadName, "nope")
		}, ErrNameNotDefined},
		{"type mismatch", func(u *Unit) {
			u.EmitConst("a")
			u.EmitConst(int64(1))
			u.Emit(OpBinaryAdd)
		}, ErrTypeMismatch},
		{"not callable", func(u *Unit) {
			u.EmitConst(int64(1))
			u.EmitArg(OpCallFunction, 0)
		}, ErrNotCallable},
		{"underflow", func(u *Unit) {
			u.Emit(OpPopTop)
		}, ErrStackUnderflow},
		{"break outside loop", func(u *Unit) {
			u.Emit(OpBreakLoop)
		}, ErrBlockUnderflow},
	}

	for _, tt := range tests {
		u := NewUnit("<module>")
		tt.build(u)
		_, err := Output(u, 0)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestVMStepLimit(t *testing.T) {
	u := NewUnit("<module>")
	u.EmitJumpTo(OpJumpAbsolute, 0)

	_, err := Output(u, 50)
	if !errors.Is(err, ErrStepLimit) {
		t.Errorf("err = %v, want ErrStepLimit", err)
	}
}

func TestVMRejectsInvalidUnit(t *testing.T) {
	u := NewUnit("<module>")
	u.EmitArg(OpLoadConst, 3)
	_, err := Output(u, 0)
	if !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("err = %v, want ErrInvalidIndex", err)
	}
}

func TestVMTrace(t *testing.T) {
	u := NewUnit("<module>")
	u.EmitConst(int64(1))
	u.Emit(OpPopTop)

	var sb strings.Builder
	vm := NewVM(&sb)
	vm.Trace = true
	if _, err := vm.Run(u); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(sb.String(), "[0] LOAD_CONST (1)") {
		t.Errorf("trace = %q", sb.String())
	}
}
