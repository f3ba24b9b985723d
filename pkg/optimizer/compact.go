package optimizer

import "github.com/chazu/squash/pkg/bytecode"

// CompactNops rebuilds the stream without NOP instructions and returns how
// many were removed. Only bytes at instruction boundaries are tested, so an
// operand byte that happens to equal the NOP opcode is copied like any
// other. Jump operands are rewritten so each jump reaches the same
// instruction; a jump that targeted a removed NOP reaches the next surviving
// instruction.
func CompactNops(m *MutableUnit) (int, error) {
	code := make([]byte, 0, len(m.Code))
	newOffset := make(map[int]int)
	var moves []moved
	removed := 0

	c := bytecode.NewCursor(m.Code)
	for c.Next() {
		in := c.Instruction()
		newOffset[in.Offset] = len(code)
		if in.Op == bytecode.OpNop {
			removed++
			continue
		}
		moves = append(moves, moved{in: in, offset: len(code)})
		code = append(code, m.Code[in.Offset:in.End()]...)
	}
	if err := c.Err(); err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}
	newOffset[len(m.Code)] = len(code)

	lookup := func(t int) (int, bool) {
		n, ok := newOffset[t]
		return n, ok
	}
	if err := relocateJumps(code, moves, lookup); err != nil {
		return 0, err
	}
	m.SetCode(code)
	logger().Debugf("Removed %d NOPs", removed)
	return removed, nil
}
