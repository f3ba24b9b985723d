package bytecode

import "fmt"

// Validate decodes the whole unit and checks every operand against the table
// it indexes. Nested units in the constant pool are validated too.
func Validate(u *Unit) error {
	return validate(u, u.Name)
}

func validate(u *Unit, path string) error {
	instrs, err := Decode(u.Code)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	bounds := make(map[int]bool, len(instrs)+1)
	for _, in := range instrs {
		bounds[in.Offset] = true
	}
	bounds[len(u.Code)] = true

	for _, in := range instrs {
		if err := checkOperand(u, in, bounds); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	for i, c := range u.Consts {
		if n, ok := c.(*Unit); ok {
			if err := validate(n, fmt.Sprintf("%s/const[%d]:%s", path, i, n.Name)); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkOperand(u *Unit, in Instruction, bounds map[int]bool) error {
	idx := int(in.Arg)
	switch in.Op.Operand() {
	case OperandConst:
		if idx >= len(u.Consts) {
			return fmt.Errorf("%w: %s %d at %d, pool has %d entries", ErrInvalidIndex, in.Op, idx, in.Offset, len(u.Consts))
		}
	case OperandName:
		if idx >= len(u.Names) {
			return fmt.Errorf("%w: %s %d at %d, name table has %d entries", ErrInvalidIndex, in.Op, idx, in.Offset, len(u.Names))
		}
	case OperandLocal:
		if idx >= len(u.VarNames) {
			return fmt.Errorf("%w: %s %d at %d, %d local slots", ErrInvalidIndex, in.Op, idx, in.Offset, len(u.VarNames))
		}
	case OperandCompare:
		if !CompareOp(in.Arg).Valid() {
			return fmt.Errorf("%w: unknown comparison %d at %d", ErrMalformedStream, idx, in.Offset)
		}
	case OperandJumpRel, OperandJumpAbs:
		target, _ := in.JumpTarget()
		if !bounds[target] {
			return fmt.Errorf("%w: %s at %d targets %d, not an instruction boundary", ErrMalformedStream, in.Op, in.Offset, target)
		}
	}
	return nil
}
