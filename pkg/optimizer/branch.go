package optimizer

import "github.com/chazu/squash/pkg/bytecode"

// CollapseConstantBranches resolves [LOAD_CONST v][POP_JUMP_IF_FALSE t] with a
// literal v and a forward target t.
//
// A falsy v always jumps: everything from the load up to t is erased.
// A truthy v never jumps: the condition and jump are erased, and when the
// instruction ending exactly at t is a JUMP_FORWARD (the jump over an else
// arm), that jump and the span it skips are erased too. Without such a jump
// (an if with no else, a while loop) nothing more is removed.
func CollapseConstantBranches(m *MutableUnit) (int, error) {
	edits := 0
	c := bytecode.NewCursor(m.Code)
	for c.Next() {
		in := c.Instruction()
		if in.Op != bytecode.OpLoadConst {
			continue
		}
		v, err := m.constAt(in)
		if err != nil {
			return edits, err
		}
		if bytecode.IsOpaque(v) {
			continue
		}
		w, ok, err := m.window(in.Offset, branchInstrs)
		if err != nil {
			return edits, err
		}
		if !ok || w[1].Op != bytecode.OpPopJumpIfFalse {
			continue
		}
		target, _ := w[1].JumpTarget()
		if target < w[1].End() || target > len(m.Code) {
			continue
		}

		if !bytecode.Truthy(v) {
			m.nopFill(in.Offset, target)
			logger().Debugf("Collapsed constant if statement (%s) @ byte %d, skipped to %d", bytecode.Repr(v), in.Offset, target)
			edits++
			c.Seek(target)
			continue
		}

		m.nopFill(in.Offset, in.Offset+branchWidth)
		if err := eraseElseArm(m, w[1].End(), target); err != nil {
			return edits, err
		}
		logger().Debugf("Collapsed constant if statement (%s) @ byte %d", bytecode.Repr(v), in.Offset)
		edits++
		c.Seek(w[1].End())
	}
	return edits, c.Err()
}

// eraseElseArm looks for the JUMP_FORWARD that ends exactly at the end of a
// then-arm spanning [from, end) and erases it together with its span.
func eraseElseArm(m *MutableUnit, from, end int) error {
	c := bytecode.NewCursor(m.Code)
	c.Seek(from)
	for c.Next() {
		in := c.Instruction()
		if in.End() < end {
			continue
		}
		if in.End() == end && in.Op == bytecode.OpJumpForward {
			skip, _ := in.JumpTarget()
			m.nopFill(in.Offset, skip)
			logger().Debugf("Removed else branch [%d, %d)", in.Offset, skip)
		}
		return nil
	}
	return c.Err()
}
