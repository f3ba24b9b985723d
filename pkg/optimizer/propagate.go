package optimizer

import "github.com/chazu/squash/pkg/bytecode"

// PropagateConstants rewrites LOAD_NAME n into LOAD_CONST c wherever n has a
// [LOAD_CONST c][STORE_NAME n] declaration anywhere in the stream. The
// rewritten load reuses the declaration's pool index.
//
// Declarations are collected without regard to control flow, so a name that
// is rebound on some path (a loop counter, a branch) is still treated as the
// constant of its last literal declaration. This is a known limitation.
func PropagateConstants(m *MutableUnit) (int, error) {
	decls, err := findConstDeclarations(m)
	if err != nil {
		return 0, err
	}
	if len(decls) == 0 {
		return 0, nil
	}

	edits := 0
	c := bytecode.NewCursor(m.Code)
	for c.Next() {
		in := c.Instruction()
		if in.Op != bytecode.OpLoadName {
			continue
		}
		name, err := m.nameAt(in)
		if err != nil {
			return edits, err
		}
		d, ok := decls[name]
		if !ok {
			continue
		}
		m.Code[in.Offset] = byte(bytecode.OpLoadConst)
		bytecode.PutOperand(m.Code, in.OperandOffset(), d.value)
		logger().Debugf("Propagated %s as constant literal @ byte %d", name, in.Offset)
		edits++
	}
	return edits, c.Err()
}
