package bytecode

import (
	"bytes"
	"testing"
)

func TestNewUnit(t *testing.T) {
	u := NewUnit("<module>")

	if u.Name != "<module>" {
		t.Errorf("Name = %q, want %q", u.Name, "<module>")
	}
	if u.Code == nil {
		t.Error("Code is nil")
	}
	if u.Consts == nil {
		t.Error("Consts is nil")
	}
}

func TestUnitAddConst(t *testing.T) {
	u := NewUnit("m")

	if idx := u.AddConst(int64(5)); idx != 0 {
		t.Errorf("First constant index = %d, want 0", idx)
	}
	if idx := u.AddConst("five"); idx != 1 {
		t.Errorf("Second constant index = %d, want 1", idx)
	}
	if idx := u.AddConst(int64(5)); idx != 0 {
		t.Errorf("Duplicate constant index = %d, want 0", idx)
	}

	// True and 1 compare equal but must not share a slot.
	if idx := u.AddConst(true); idx != 2 {
		t.Errorf("AddConst(true) = %d, want 2", idx)
	}
	if idx := u.AddConst(int64(1)); idx != 3 {
		t.Errorf("AddConst(1) = %d, want 3", idx)
	}
	if idx := u.AddConst(nil); idx != 4 {
		t.Errorf("AddConst(nil) = %d, want 4", idx)
	}
	if idx := u.AddConst(nil); idx != 4 {
		t.Errorf("second AddConst(nil) = %d, want 4", idx)
	}

	if len(u.Consts) != 5 {
		t.Errorf("len(Consts) = %d, want 5", len(u.Consts))
	}
}

func TestUnitAddName(t *testing.T) {
	u := NewUnit("m")
	a := u.AddName("a")
	b := u.AddName("b")
	again := u.AddName("a")

	if a != 0 || b != 1 || again != 0 {
		t.Errorf("AddName indices = %d, %d, %d, want 0, 1, 0", a, b, again)
	}
	if len(u.Names) != 2 {
		t.Errorf("len(Names) = %d, want 2", len(u.Names))
	}
}

func TestUnitEmit(t *testing.T) {
	u := NewUnit("m")

	off0 := u.EmitConst(int64(300))
	off1 := u.EmitName(OpStoreName, "x")
	off2 := u.Emit(OpPrintNewline)

	if off0 != 0 || off1 != 3 || off2 != 6 {
		t.Errorf("offsets = %d, %d, %d, want 0, 3, 6", off0, off1, off2)
	}

	want := []byte{byte(OpLoadConst), 0, 0, byte(OpStoreName), 0, 0, byte(OpPrintNewline)}
	if !bytes.Equal(u.Code, want) {
		t.Errorf("Code = %v, want %v", u.Code, want)
	}
}

func TestUnitEmitArgLittleEndian(t *testing.T) {
	u := NewUnit("m")
	u.EmitArg(OpBuildList, 0x0102)

	if u.Code[1] != 0x02 || u.Code[2] != 0x01 {
		t.Errorf("operand bytes = %02X %02X, want 02 01", u.Code[1], u.Code[2])
	}
}

func TestUnitEmitPanicsOnWrongShape(t *testing.T) {
	assertPanics := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Errorf("%s did not panic", name)
			}
		}()
		fn()
	}

	u := NewUnit("m")
	assertPanics("Emit(LOAD_CONST)", func() { u.Emit(OpLoadConst) })
	assertPanics("EmitArg(NOP)", func() { u.EmitArg(OpNop, 1) })
	assertPanics("EmitJump(LOAD_CONST)", func() { u.EmitJump(OpLoadConst) })
}

func TestUnitPatchJumpRelative(t *testing.T) {
	u := NewUnit("m")
	j := u.EmitJump(OpJumpForward)
	u.EmitConst(int64(1))
	u.Emit(OpPopTop)
	u.PatchJump(j)

	in, err := DecodeAt(u.Code, j)
	if err != nil {
		t.Fatalf("DecodeAt: %v", err)
	}
	if in.Arg != 4 {
		t.Errorf("JUMP_FORWARD delta = %d, want 4", in.Arg)
	}
	if target, _ := in.JumpTarget(); target != 7 {
		t.Errorf("target = %d, want 7", target)
	}
}

func TestUnitPatchJumpAbsolute(t *testing.T) {
	u := NewUnit("m")
	u.EmitConst(true)
	j := u.EmitJump(OpPopJumpIfFalse)
	u.EmitConst(int64(1))
	u.Emit(OpPrintItem)
	u.PatchJump(j)

	in, _ := DecodeAt(u.Code, j)
	if in.Arg != 10 {
		t.Errorf("POP_JUMP_IF_FALSE target = %d, want 10", in.Arg)
	}
}

func TestUnitEmitJumpTo(t *testing.T) {
	u := NewUnit("m")
	head := u.CurrentOffset()
	u.EmitName(OpLoadName, "x")
	u.Emit(OpPopTop)
	j := u.EmitJumpTo(OpJumpAbsolute, head)

	in, _ := DecodeAt(u.Code, j)
	if target, _ := in.JumpTarget(); target != head {
		t.Errorf("target = %d, want %d", target, head)
	}
}

func TestUnitClone(t *testing.T) {
	inner := NewFunction("f", "a")
	u := NewUnit("m")
	u.EmitConst(inner)
	u.EmitName(OpStoreName, "f")

	c := u.Clone()
	c.Code[0] = byte(OpNop)
	c.Consts = append(c.Consts, int64(1))
	c.Names[0] = "g"

	if u.Code[0] != byte(OpLoadConst) {
		t.Error("Clone shares Code with the original")
	}
	if len(u.Consts) != 1 {
		t.Error("Clone shares Consts with the original")
	}
	if u.Names[0] != "f" {
		t.Error("Clone shares Names with the original")
	}
	if c.Consts[0] != inner {
		t.Error("Clone should share nested units")
	}
}

func TestUnitLookupFunction(t *testing.T) {
	f := NewFunction("f", "a")
	g := NewFunction("g", "a")
	u := NewUnit("m")
	u.AddConst(int64(1))
	u.AddConst(f)
	u.AddConst(g)

	got, idx, ok := u.LookupFunction("g")
	if !ok || got != g || idx != 2 {
		t.Errorf("LookupFunction(g) = %v, %d, %v", got, idx, ok)
	}
	if _, _, ok := u.LookupFunction("h"); ok {
		t.Error("LookupFunction(h) should fail")
	}
	if n := len(u.Nested()); n != 2 {
		t.Errorf("len(Nested()) = %d, want 2", n)
	}
}
