package optimizer

import "github.com/chazu/squash/pkg/bytecode"

// RewriteBoolCalls turns [LOAD_NAME bool][LOAD_CONST v][CALL_FUNCTION 1] into
// [LOAD_CONST v][UNARY_NOT][UNARY_NOT] followed by NOP padding, which
// constant folding then reduces to a single literal.
//
// The callee name is resolved through the name table of the unit m was
// created from, not through m.Names.
func RewriteBoolCalls(m *MutableUnit, builtin string) (int, error) {
	source := m.Source().Names

	edits := 0
	c := bytecode.NewCursor(m.Code)
	for c.Next() {
		in := c.Instruction()
		if in.Op != bytecode.OpLoadName {
			continue
		}
		w, ok, err := m.window(in.Offset, callInstrs)
		if err != nil {
			return edits, err
		}
		if !ok || w[1].Op != bytecode.OpLoadConst || w[2].Op != bytecode.OpCallFunction || w[2].Arg != 1 {
			continue
		}
		v, err := m.constAt(w[1])
		if err != nil {
			return edits, err
		}
		if bytecode.IsOpaque(v) {
			continue
		}
		if int(in.Arg) >= len(source) || source[in.Arg] != builtin {
			continue
		}

		at := in.Offset
		m.Code[at] = byte(bytecode.OpLoadConst)
		bytecode.PutOperand(m.Code, at+1, w[1].Arg)
		m.Code[at+argWidth] = byte(bytecode.OpUnaryNot)
		m.Code[at+argWidth+opWidth] = byte(bytecode.OpUnaryNot)
		m.nopFill(at+notNotWidth, at+notNotWidth+notNotPadding)
		logger().Debugf("Replaced %s(%s) with not not %s @ byte %d", builtin, bytecode.Repr(v), bytecode.Repr(v), w[2].Offset)
		edits++
		c.Seek(at + callWidth)
	}
	return edits, c.Err()
}
