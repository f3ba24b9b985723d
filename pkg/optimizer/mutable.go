package optimizer

import (
	"errors"
	"fmt"

	"github.com/chazu/squash/pkg/bytecode"
)

var (
	// ErrPoolOverflow reports a constant pool that no longer fits a 16-bit operand.
	ErrPoolOverflow = errors.New("constant pool overflow")

	// ErrOffsetOverflow reports a relocated jump that no longer fits a 16-bit operand.
	ErrOffsetOverflow = errors.New("jump offset overflow")
)

// MutableUnit is the owned, mutable form of a compiled unit that the passes
// rewrite in place. The constant pool only grows and the name table is never
// reordered or shrunk.
type MutableUnit struct {
	Code   []byte
	Consts []bytecode.Value
	Names  []string

	source     *bytecode.Unit
	targets    map[int]bool
	targetsLen int
}

// NewMutableUnit copies u into a MutableUnit. u itself is never modified.
func NewMutableUnit(u *bytecode.Unit) *MutableUnit {
	return &MutableUnit{
		Code:   append([]byte(nil), u.Code...),
		Consts: append([]bytecode.Value(nil), u.Consts...),
		Names:  append([]string(nil), u.Names...),
		source: u,
	}
}

// Source returns the unit this MutableUnit was created from.
func (m *MutableUnit) Source() *bytecode.Unit {
	return m.source
}

// Unit returns a snapshot of the current state as a compiled unit.
func (m *MutableUnit) Unit() *bytecode.Unit {
	return &bytecode.Unit{
		Name:     m.source.Name,
		ArgCount: m.source.ArgCount,
		Code:     append([]byte(nil), m.Code...),
		Consts:   append([]bytecode.Value(nil), m.Consts...),
		Names:    append([]string(nil), m.Names...),
		VarNames: append([]string(nil), m.source.VarNames...),
	}
}

// PatchConstOperand appends v to the constant pool and stores the new index
// in the little-endian operand at offset at. It is the only way passes
// reference a new constant: existing slots are never reused or overwritten.
func (m *MutableUnit) PatchConstOperand(at int, v bytecode.Value) (uint16, error) {
	if len(m.Consts) > bytecode.MaxOperand {
		return 0, fmt.Errorf("%w: %d entries", ErrPoolOverflow, len(m.Consts))
	}
	if at < 1 || at+2 > len(m.Code) {
		return 0, fmt.Errorf("%w: operand offset %d outside stream of %d bytes", bytecode.ErrMalformedStream, at, len(m.Code))
	}
	idx := uint16(len(m.Consts))
	m.Consts = append(m.Consts, v)
	bytecode.PutOperand(m.Code, at, idx)
	return idx, nil
}

func (m *MutableUnit) constAt(in bytecode.Instruction) (bytecode.Value, error) {
	if int(in.Arg) >= len(m.Consts) {
		return nil, fmt.Errorf("%w: %s %d at %d, pool has %d entries", bytecode.ErrInvalidIndex, in.Op, in.Arg, in.Offset, len(m.Consts))
	}
	return m.Consts[in.Arg], nil
}

func (m *MutableUnit) nameAt(in bytecode.Instruction) (string, error) {
	if int(in.Arg) >= len(m.Names) {
		return "", fmt.Errorf("%w: %s %d at %d, name table has %d entries", bytecode.ErrInvalidIndex, in.Op, in.Arg, in.Offset, len(m.Names))
	}
	return m.Names[in.Arg], nil
}

// nopFill overwrites [from, to) with NOP.
func (m *MutableUnit) nopFill(from, to int) {
	for i := from; i < to; i++ {
		m.Code[i] = byte(bytecode.OpNop)
	}
}

// jumpTargets returns the offsets some jump in the stream transfers to.
// The set is cached until SetCode is called or the stream changes length;
// NOP fills only ever remove jumps, so a cached set is a superset of the
// live one.
func (m *MutableUnit) jumpTargets() (map[int]bool, error) {
	if m.targets != nil && m.targetsLen == len(m.Code) {
		return m.targets, nil
	}
	targets := make(map[int]bool)
	c := bytecode.NewCursor(m.Code)
	for c.Next() {
		if t, ok := c.Instruction().JumpTarget(); ok {
			targets[t] = true
		}
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	m.targets, m.targetsLen = targets, len(m.Code)
	return targets, nil
}

// window decodes n instructions at offset for a peephole match. ok is false
// when the stream ends first or when control can enter the window anywhere
// but at its first instruction.
func (m *MutableUnit) window(offset, n int) (w []bytecode.Instruction, ok bool, err error) {
	w, err = bytecode.Window(m.Code, offset, n)
	if err != nil || len(w) < n {
		return nil, false, err
	}
	targets, err := m.jumpTargets()
	if err != nil {
		return nil, false, err
	}
	for _, in := range w[1:] {
		if targets[in.Offset] {
			return nil, false, nil
		}
	}
	return w, true, nil
}

// SetCode replaces the instruction stream. Passes that change the stream's
// length or add jumps must go through it so that peephole matches see the
// new jump targets.
func (m *MutableUnit) SetCode(code []byte) {
	m.Code = code
	m.targets = nil
}

// splice inserts body at offset at, which must be an instruction boundary,
// and relocates every jump so that it still reaches the same instruction.
// Jumps that targeted at now reach the first inserted instruction.
func (m *MutableUnit) splice(at int, body []byte) error {
	old, err := bytecode.Decode(m.Code)
	if err != nil {
		return err
	}
	inserted, err := bytecode.Decode(body)
	if err != nil {
		return err
	}
	for _, in := range inserted {
		if in.Op.IsJump() {
			return fmt.Errorf("%w: cannot splice %s at %d", bytecode.ErrMalformedStream, in.Op, at)
		}
	}

	n := len(body)
	code := make([]byte, 0, len(m.Code)+n)
	code = append(code, m.Code[:at]...)
	code = append(code, body...)
	code = append(code, m.Code[at:]...)

	moves := make([]moved, 0, len(old))
	for _, in := range old {
		off := in.Offset
		if off >= at {
			off += n
		}
		moves = append(moves, moved{in: in, offset: off})
	}
	shift := func(t int) (int, bool) {
		if t > at {
			return t + n, true
		}
		return t, true
	}
	if err := relocateJumps(code, moves, shift); err != nil {
		return err
	}
	m.SetCode(code)
	return nil
}

// moved pairs an instruction of the previous stream with its new offset.
type moved struct {
	in     bytecode.Instruction
	offset int
}

// relocateJumps rewrites the operand of every moved jump in code so that it
// addresses mapTarget(old target).
func relocateJumps(code []byte, moves []moved, mapTarget func(int) (int, bool)) error {
	for _, mv := range moves {
		old, ok := mv.in.JumpTarget()
		if !ok {
			continue
		}
		target, ok := mapTarget(old)
		if !ok {
			return fmt.Errorf("%w: %s at %d targets %d, not an instruction boundary", bytecode.ErrMalformedStream, mv.in.Op, mv.in.Offset, old)
		}
		arg := target
		if mv.in.Op.Operand() == bytecode.OperandJumpRel {
			arg = target - (mv.offset + argWidth)
		}
		if arg < 0 || arg > bytecode.MaxOperand {
			return fmt.Errorf("%w: %s moved to %d cannot reach %d", ErrOffsetOverflow, mv.in.Op, mv.offset, target)
		}
		bytecode.PutOperand(code, mv.offset+1, uint16(arg))
	}
	return nil
}
