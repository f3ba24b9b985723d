package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrMalformedStream reports an unknown opcode, a truncated operand or a
	// jump that does not land on an instruction boundary.
	ErrMalformedStream = errors.New("malformed instruction stream")

	// ErrInvalidIndex reports an operand outside the table it indexes.
	ErrInvalidIndex = errors.New("invalid operand index")
)

// Instruction is one decoded instruction.
type Instruction struct {
	Offset int    // Byte offset of the opcode
	Op     Opcode // Opcode
	Arg    uint16 // Operand; zero when the opcode takes none
}

// Len returns the encoded width of the instruction (1 or 3).
func (in Instruction) Len() int {
	return in.Op.InstructionLen()
}

// End returns the offset of the byte following the instruction.
func (in Instruction) End() int {
	return in.Offset + in.Len()
}

// HasArg reports whether the instruction carries an operand.
func (in Instruction) HasArg() bool {
	return in.Op.HasArg()
}

// Is reports whether the instruction has opcode op.
func (in Instruction) Is(op Opcode) bool {
	return in.Op == op
}

// JumpTarget returns the offset a jump transfers control to.
// Relative jumps count from the end of the instruction.
func (in Instruction) JumpTarget() (int, bool) {
	switch in.Op.Operand() {
	case OperandJumpRel:
		return in.End() + int(in.Arg), true
	case OperandJumpAbs:
		return int(in.Arg), true
	}
	return 0, false
}

// OperandOffset returns the offset of the first operand byte.
func (in Instruction) OperandOffset() int {
	return in.Offset + 1
}

// DecodeAt decodes the instruction starting at offset.
// It never reads past the end of code.
func DecodeAt(code []byte, offset int) (Instruction, error) {
	if offset < 0 || offset >= len(code) {
		return Instruction{}, fmt.Errorf("%w: offset %d outside stream of %d bytes", ErrMalformedStream, offset, len(code))
	}
	op := Opcode(code[offset])
	if !op.IsKnown() {
		return Instruction{}, fmt.Errorf("%w: unknown opcode 0x%02X at %d", ErrMalformedStream, byte(op), offset)
	}
	in := Instruction{Offset: offset, Op: op}
	if op.HasArg() {
		if offset+3 > len(code) {
			return Instruction{}, fmt.Errorf("%w: %s at %d truncated", ErrMalformedStream, op, offset)
		}
		in.Arg = binary.LittleEndian.Uint16(code[offset+1:])
	}
	return in, nil
}

// ReadOperand returns the little-endian operand stored at at.
func ReadOperand(code []byte, at int) uint16 {
	return binary.LittleEndian.Uint16(code[at:])
}

// PutOperand stores a little-endian operand at at.
func PutOperand(code []byte, at int, v uint16) {
	binary.LittleEndian.PutUint16(code[at:], v)
}

// Cursor walks an instruction stream one instruction boundary at a time.
// It never classifies operand bytes as opcodes.
//
//	c := NewCursor(code)
//	for c.Next() {
//		in := c.Instruction()
//		...
//	}
//	if err := c.Err(); err != nil { ... }
type Cursor struct {
	code []byte
	next int
	cur  Instruction
	err  error
}

// NewCursor returns a cursor positioned before the first instruction.
func NewCursor(code []byte) *Cursor {
	return &Cursor{code: code}
}

// Next decodes the next instruction. It returns false at the end of the
// stream or after a decoding error.
func (c *Cursor) Next() bool {
	if c.err != nil || c.next >= len(c.code) {
		return false
	}
	in, err := DecodeAt(c.code, c.next)
	if err != nil {
		c.err = err
		return false
	}
	c.cur = in
	c.next = in.End()
	return true
}

// Instruction returns the instruction decoded by the last call to Next.
func (c *Cursor) Instruction() Instruction {
	return c.cur
}

// Err returns the decoding error that stopped the cursor, if any.
func (c *Cursor) Err() error {
	return c.err
}

// Seek makes the next call to Next decode at offset. The caller is
// responsible for offset being an instruction boundary.
func (c *Cursor) Seek(offset int) {
	c.next = offset
}

// Offset returns where the next call to Next will decode.
func (c *Cursor) Offset() int {
	return c.next
}

// Reset rewinds the cursor onto a (possibly modified) stream.
func (c *Cursor) Reset(code []byte) {
	c.code = code
	c.next = 0
	c.cur = Instruction{}
	c.err = nil
}

// Window decodes up to n consecutive instructions starting at offset.
// Fewer than n are returned when the stream ends first.
func Window(code []byte, offset, n int) ([]Instruction, error) {
	out := make([]Instruction, 0, n)
	for len(out) < n && offset < len(code) {
		in, err := DecodeAt(code, offset)
		if err != nil {
			return out, err
		}
		out = append(out, in)
		offset = in.End()
	}
	return out, nil
}

// Decode decodes the whole stream.
func Decode(code []byte) ([]Instruction, error) {
	var out []Instruction
	c := NewCursor(code)
	for c.Next() {
		out = append(out, c.Instruction())
	}
	return out, c.Err()
}

// InstructionCount returns the number of instructions in code.
func InstructionCount(code []byte) (int, error) {
	n := 0
	c := NewCursor(code)
	for c.Next() {
		n++
	}
	return n, c.Err()
}

// Boundaries returns the set of instruction start offsets in code, plus
// len(code) as the end-of-stream boundary.
func Boundaries(code []byte) (map[int]bool, error) {
	b := make(map[int]bool)
	c := NewCursor(code)
	for c.Next() {
		b[c.Instruction().Offset] = true
	}
	b[len(code)] = true
	return b, c.Err()
}
