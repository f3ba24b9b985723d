package optimizer

import (
	"fmt"

	"github.com/chazu/squash/pkg/bytecode"
)

// InlineFunctions replaces [LOAD_NAME f][LOAD_CONST arg][CALL_FUNCTION 1] with
// the body of f when f is a small single-expression function found in the
// constant pool. The call-site LOAD_NAME and CALL_FUNCTION become NOPs and
// the argument load stays in place of f's LOAD_FAST prologue; the body is
// spliced in after it with its constants re-pooled into m.
//
// Splicing changes the stream length. Jumps are relocated by the splice and
// the scan resumes after the inserted bytes.
func InlineFunctions(m *MutableUnit, maxOps int) (int, error) {
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
		name, err := m.nameAt(in)
		if err != nil {
			return edits, err
		}
		if _, err := m.constAt(w[1]); err != nil {
			return edits, err
		}
		f := lookupFunction(m, name)
		if f == nil {
			continue
		}
		body, err := inlineBody(f, maxOps)
		if err != nil {
			logger().Debugf("Not inlining %s @ byte %d: %s", name, in.Offset, err)
			continue
		}

		call := w[2]
		m.nopFill(in.Offset, in.End())
		m.nopFill(call.Offset, call.End())
		if err := m.splice(call.Offset, body); err != nil {
			return edits, err
		}
		if err := repoolBody(m, f, call.Offset, body); err != nil {
			return edits, err
		}
		logger().Debugf("Inlined call to function %s @ byte %d", name, call.Offset)
		edits++

		c.Reset(m.Code)
		c.Seek(call.Offset + len(body) + argWidth)
	}
	return edits, c.Err()
}

// lookupFunction returns the first nested unit in m's pool declared as name.
func lookupFunction(m *MutableUnit, name string) *bytecode.Unit {
	for _, v := range m.Consts {
		if u, ok := v.(*bytecode.Unit); ok && u.Name == name {
			return u
		}
	}
	return nil
}

// inlineBody returns f's code without its LOAD_FAST 0 prologue and
// RETURN_VALUE epilogue, or an error describing why f cannot be inlined.
func inlineBody(f *bytecode.Unit, maxOps int) ([]byte, error) {
	instrs, err := bytecode.Decode(f.Code)
	if err != nil {
		return nil, err
	}
	if len(instrs) >= maxOps {
		return nil, fmt.Errorf("%d instructions, limit is %d", len(instrs), maxOps)
	}
	for _, in := range instrs {
		if !inlineWhitelist[in.Op] {
			return nil, fmt.Errorf("uses %s", in.Op)
		}
	}
	if f.ArgCount != 1 {
		return nil, fmt.Errorf("takes %d arguments", f.ArgCount)
	}
	n := len(instrs)
	if n < 2 || instrs[0].Op != bytecode.OpLoadFast || instrs[0].Arg != 0 || instrs[n-1].Op != bytecode.OpReturnValue {
		return nil, fmt.Errorf("not a single-expression body")
	}

	depth := 1 // the argument
	for _, in := range instrs[1 : n-1] {
		switch in.Op {
		case bytecode.OpLoadConst:
			if int(in.Arg) >= len(f.Consts) {
				return nil, fmt.Errorf("%w: constant %d", bytecode.ErrInvalidIndex, in.Arg)
			}
			if bytecode.IsOpaque(f.Consts[in.Arg]) {
				return nil, fmt.Errorf("loads a nested unit")
			}
			depth++
		case bytecode.OpBinaryAdd:
			depth--
		default:
			return nil, fmt.Errorf("not a single-expression body")
		}
		if depth < 1 {
			return nil, fmt.Errorf("consumes more than its argument")
		}
	}
	if depth != 1 {
		return nil, fmt.Errorf("leaves %d values on the stack", depth)
	}
	return f.Code[inlinePrologue : len(f.Code)-inlineEpilogue], nil
}

// repoolBody points every LOAD_CONST spliced in at offset at to a fresh copy
// of the constant in m's pool. Indices are local to the unit they came from.
func repoolBody(m *MutableUnit, f *bytecode.Unit, at int, body []byte) error {
	c := bytecode.NewCursor(body)
	for c.Next() {
		in := c.Instruction()
		if in.Op != bytecode.OpLoadConst {
			continue
		}
		if _, err := m.PatchConstOperand(at+in.OperandOffset(), f.Consts[in.Arg]); err != nil {
			return err
		}
	}
	return c.Err()
}
