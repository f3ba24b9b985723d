package optimizer

import "github.com/chazu/squash/pkg/bytecode"

// FoldConstants evaluates [LOAD_CONST a][LOAD_CONST b][BINARY_ADD|BINARY_SUBTRACT]
// and [LOAD_CONST v][UNARY_NOT] at optimization time. The result is appended
// to the pool and referenced by the first load; the remaining instructions
// of the window become NOPs. Combinations the VM would reject at run time
// are left alone.
func FoldConstants(m *MutableUnit) (int, error) {
	edits := 0
	c := bytecode.NewCursor(m.Code)
	for c.Next() {
		in := c.Instruction()
		if in.Op != bytecode.OpLoadConst {
			continue
		}
		a, err := m.constAt(in)
		if err != nil {
			return edits, err
		}
		if bytecode.IsOpaque(a) {
			continue
		}

		folded, next, err := foldBinary(m, in, a)
		if err != nil {
			return edits, err
		}
		if !folded {
			folded, next, err = foldNot(m, in, a)
			if err != nil {
				return edits, err
			}
		}
		if folded {
			edits++
			c.Seek(next)
		}
	}
	return edits, c.Err()
}

func foldBinary(m *MutableUnit, first bytecode.Instruction, a bytecode.Value) (bool, int, error) {
	w, ok, err := m.window(first.Offset, binaryFoldInstrs)
	if err != nil || !ok {
		return false, 0, err
	}
	second, op := w[1], w[2]
	fold, known := foldableBinary[op.Op]
	if second.Op != bytecode.OpLoadConst || !known {
		return false, 0, nil
	}
	b, err := m.constAt(second)
	if err != nil {
		return false, 0, err
	}
	if bytecode.IsOpaque(b) {
		return false, 0, nil
	}
	result, err := fold.fn(a, b)
	if err != nil {
		logger().Debugf("Not folding %s %s %s @ byte %d: %s", bytecode.Repr(a), fold.token, bytecode.Repr(b), op.Offset, err)
		return false, 0, nil
	}
	if _, err := m.PatchConstOperand(first.OperandOffset(), result); err != nil {
		return false, 0, err
	}
	m.nopFill(second.Offset, second.Offset+binaryFoldErased)
	logger().Debugf("Folded %s %s %s to %s @ byte %d", bytecode.Repr(a), fold.token, bytecode.Repr(b), bytecode.Repr(result), op.Offset)
	return true, op.End(), nil
}

func foldNot(m *MutableUnit, first bytecode.Instruction, v bytecode.Value) (bool, int, error) {
	w, ok, err := m.window(first.Offset, notFoldInstrs)
	if err != nil || !ok || w[1].Op != bytecode.OpUnaryNot {
		return false, 0, err
	}
	result := !bytecode.Truthy(v)
	if _, err := m.PatchConstOperand(first.OperandOffset(), result); err != nil {
		return false, 0, err
	}
	m.nopFill(w[1].Offset, w[1].Offset+notFoldErased)
	logger().Debugf("Folded not %s to %s @ byte %d", bytecode.Repr(v), bytecode.Repr(result), w[1].Offset)
	return true, w[1].End(), nil
}
