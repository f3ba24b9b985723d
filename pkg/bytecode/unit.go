package bytecode

import (
	"encoding/binary"
	"fmt"
)

// MaxOperand is the largest value a 16-bit operand can hold.
const MaxOperand = 0xFFFF

// Unit is one compiled function or module: a byte stream, a constant pool
// and the tables its operands index into.
type Unit struct {
	Name     string   // Declared name (function name, "<module>" for the top level)
	ArgCount int      // Number of positional parameters
	Code     []byte   // Instruction stream
	Consts   []Value  // Constant pool; entries may be nested *Unit values
	Names    []string // Global/module names referenced by *_NAME and *_GLOBAL
	VarNames []string // Local slots referenced by LOAD_FAST / STORE_FAST
}

// NewUnit creates an empty unit with the given declared name.
func NewUnit(name string) *Unit {
	return &Unit{
		Name:   name,
		Code:   make([]byte, 0, 64),
		Consts: make([]Value, 0, 8),
	}
}

// NewFunction creates an empty unit for a function taking the named
// parameters. Parameters occupy the first local slots.
func NewFunction(name string, params ...string) *Unit {
	u := NewUnit(name)
	u.ArgCount = len(params)
	u.VarNames = append(u.VarNames, params...)
	return u
}

// AddConst adds a value to the pool and returns its index.
// If an identical value of the same type is already present, its index is
// reused. Only builders use this; optimization passes append through
// PatchConstOperand instead.
func (u *Unit) AddConst(v Value) uint16 {
	for i, c := range u.Consts {
		if sameConst(c, v) {
			return uint16(i)
		}
	}
	return u.appendConst(v)
}

func (u *Unit) appendConst(v Value) uint16 {
	if len(u.Consts) > MaxOperand {
		panic(fmt.Sprintf("bytecode: constant pool of %s exceeds %d entries", u.Name, MaxOperand+1))
	}
	idx := uint16(len(u.Consts))
	u.Consts = append(u.Consts, v)
	return idx
}

// sameConst is strict about type so that True and 1 stay distinct entries.
func sameConst(a, b Value) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case int64:
		y, ok := b.(int64)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case *Unit:
		y, ok := b.(*Unit)
		return ok && x == y
	}
	return false
}

// AddName adds a name to the name table and returns its index.
func (u *Unit) AddName(name string) uint16 {
	return addString(&u.Names, name)
}

// AddVarName adds a local slot name and returns its index.
func (u *Unit) AddVarName(name string) uint16 {
	return addString(&u.VarNames, name)
}

func addString(table *[]string, s string) uint16 {
	for i, existing := range *table {
		if existing == s {
			return uint16(i)
		}
	}
	*table = append(*table, s)
	return uint16(len(*table) - 1)
}

// Emit appends a no-operand instruction and returns its offset.
func (u *Unit) Emit(op Opcode) int {
	if op.HasArg() {
		panic(fmt.Sprintf("bytecode: %s requires an operand", op))
	}
	offset := len(u.Code)
	u.Code = append(u.Code, byte(op))
	return offset
}

// EmitArg appends an instruction with a 16-bit operand and returns its offset.
func (u *Unit) EmitArg(op Opcode, arg uint16) int {
	if !op.HasArg() {
		panic(fmt.Sprintf("bytecode: %s takes no operand", op))
	}
	offset := len(u.Code)
	u.Code = append(u.Code, byte(op))
	u.Code = binary.LittleEndian.AppendUint16(u.Code, arg)
	return offset
}

// EmitConst emits LOAD_CONST for v, adding it to the pool if needed.
func (u *Unit) EmitConst(v Value) int {
	return u.EmitArg(OpLoadConst, u.AddConst(v))
}

// EmitName emits a name-operand instruction (LOAD_NAME, STORE_NAME, ...).
func (u *Unit) EmitName(op Opcode, name string) int {
	return u.EmitArg(op, u.AddName(name))
}

// EmitLocal emits LOAD_FAST or STORE_FAST for the named local slot.
func (u *Unit) EmitLocal(op Opcode, name string) int {
	return u.EmitArg(op, u.AddVarName(name))
}

// EmitCompare emits COMPARE_OP.
func (u *Unit) EmitCompare(cmp CompareOp) int {
	return u.EmitArg(OpCompareOp, uint16(cmp))
}

// EmitJump emits a jump instruction with a placeholder operand.
// Returns the instruction offset for later patching.
func (u *Unit) EmitJump(op Opcode) int {
	if !op.IsJump() {
		panic(fmt.Sprintf("bytecode: %s is not a jump", op))
	}
	return u.EmitArg(op, MaxOperand)
}

// PatchJump points the jump at offset to the current end of the code.
func (u *Unit) PatchJump(offset int) {
	u.PatchJumpTo(offset, len(u.Code))
}

// PatchJumpTo points the jump at offset to target.
// Relative jumps can only move forward.
func (u *Unit) PatchJumpTo(offset, target int) {
	op := Opcode(u.Code[offset])
	arg := target
	if op.Operand() == OperandJumpRel {
		arg = target - (offset + op.InstructionLen())
	}
	if arg < 0 || arg > MaxOperand {
		panic(fmt.Sprintf("bytecode: %s at %d cannot reach %d", op, offset, target))
	}
	binary.LittleEndian.PutUint16(u.Code[offset+1:], uint16(arg))
}

// EmitJumpTo emits a jump to a known target, typically a loop head.
func (u *Unit) EmitJumpTo(op Opcode, target int) int {
	offset := u.EmitJump(op)
	u.PatchJumpTo(offset, target)
	return offset
}

// CurrentOffset returns the offset the next instruction will occupy.
func (u *Unit) CurrentOffset() int {
	return len(u.Code)
}

// Clone returns a copy of u whose code and tables can be modified without
// affecting u. Nested units in the pool are shared.
func (u *Unit) Clone() *Unit {
	return &Unit{
		Name:     u.Name,
		ArgCount: u.ArgCount,
		Code:     append([]byte(nil), u.Code...),
		Consts:   append([]Value(nil), u.Consts...),
		Names:    append([]string(nil), u.Names...),
		VarNames: append([]string(nil), u.VarNames...),
	}
}

// Nested returns the nested units in the constant pool, in pool order.
func (u *Unit) Nested() []*Unit {
	var out []*Unit
	for _, c := range u.Consts {
		if n, ok := c.(*Unit); ok {
			out = append(out, n)
		}
	}
	return out
}

// LookupFunction returns the first nested unit declared with the given name.
func (u *Unit) LookupFunction(name string) (*Unit, int, bool) {
	for i, c := range u.Consts {
		if n, ok := c.(*Unit); ok && n.Name == name {
			return n, i, true
		}
	}
	return nil, -1, false
}
