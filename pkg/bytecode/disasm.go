package bytecode

import (
	"fmt"
	"strings"
)

// FormatInstruction renders one decoded instruction as
// "[offset] OPNAME (description)". Instructions without an operand have no
// description.
func FormatInstruction(u *Unit, in Instruction) string {
	if !in.HasArg() {
		return fmt.Sprintf("[%d] %s", in.Offset, in.Op)
	}
	return fmt.Sprintf("[%d] %s (%s)", in.Offset, in.Op, describeOperand(u, in))
}

// describeOperand resolves an operand against the unit's tables.
func describeOperand(u *Unit, in Instruction) string {
	idx := int(in.Arg)
	switch in.Op.Operand() {
	case OperandConst:
		if idx < len(u.Consts) {
			v := Repr(u.Consts[idx])
			if len(v) > 40 {
				v = v[:37] + "..."
			}
			return v
		}
		return fmt.Sprintf("<const %d?>", idx)
	case OperandName:
		if idx < len(u.Names) {
			return u.Names[idx]
		}
		return fmt.Sprintf("<name %d?>", idx)
	case OperandLocal:
		if idx < len(u.VarNames) {
			return u.VarNames[idx]
		}
		return fmt.Sprintf("<local %d?>", idx)
	case OperandJumpRel, OperandJumpAbs:
		target, _ := in.JumpTarget()
		return fmt.Sprintf("to %d", target)
	case OperandCompare:
		return CompareOp(in.Arg).String()
	default:
		return fmt.Sprintf("%d", in.Arg)
	}
}

// DisassembleToLines returns one formatted line per instruction.
// Decoding stops at the first malformed instruction, which is reported as
// the final line.
func DisassembleToLines(u *Unit) []string {
	var lines []string
	c := NewCursor(u.Code)
	for c.Next() {
		lines = append(lines, FormatInstruction(u, c.Instruction()))
	}
	if err := c.Err(); err != nil {
		lines = append(lines, fmt.Sprintf("[%d] <%v>", c.Offset(), err))
	}
	return lines
}

// Disassemble returns a full listing of the unit, its tables and, after it,
// every nested unit in the constant pool.
func Disassemble(u *Unit) string {
	var sb strings.Builder
	disassembleInto(&sb, u, u.Name)
	return sb.String()
}

func disassembleInto(sb *strings.Builder, u *Unit, path string) {
	fmt.Fprintf(sb, "; === %s ===\n", path)
	if u.ArgCount > 0 {
		fmt.Fprintf(sb, "; Arguments (%d): %s\n", u.ArgCount, strings.Join(u.VarNames[:min(u.ArgCount, len(u.VarNames))], ", "))
	}
	if len(u.Consts) > 0 {
		sb.WriteString("; Constants:\n")
		for i, c := range u.Consts {
			fmt.Fprintf(sb, ";   [%3d] %s\n", i, Repr(c))
		}
	}
	if len(u.Names) > 0 {
		fmt.Fprintf(sb, "; Names: %s\n", strings.Join(u.Names, ", "))
	}
	sb.WriteString("; Code:\n")
	for _, line := range DisassembleToLines(u) {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}

	for i, c := range u.Consts {
		if n, ok := c.(*Unit); ok {
			sb.WriteByte('\n')
			disassembleInto(sb, n, fmt.Sprintf("%s/const[%d]:%s", path, i, n.Name))
		}
	}
}

// Stats summarizes the size of a unit.
type Stats struct {
	Instructions int
	Bytes        int
	Consts       int
	Names        int
}

// String renders the summary line printed before and after optimization.
func (s Stats) String() string {
	return fmt.Sprintf("%d instructions, %d bytes, %d constants, %d names", s.Instructions, s.Bytes, s.Consts, s.Names)
}

// Stats counts the unit's instructions and table sizes.
func (u *Unit) Stats() (Stats, error) {
	n, err := InstructionCount(u.Code)
	return Stats{
		Instructions: n,
		Bytes:        len(u.Code),
		Consts:       len(u.Consts),
		Names:        len(u.Names),
	}, err
}
