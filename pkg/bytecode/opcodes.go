package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes at or above HaveArgument carry a 16-bit little-endian operand.
type Opcode byte

// HaveArgument is the first opcode value that takes an operand.
const HaveArgument Opcode = 90

const (
	// ========================================================================
	// No operand (< HaveArgument)
	// ========================================================================

	OpPopTop         Opcode = 1  // Pop top of stack
	OpRotTwo         Opcode = 2  // Swap top two stack elements
	OpDupTop         Opcode = 4  // Duplicate top of stack
	OpNop            Opcode = 9  // No operation (placeholder for erased bytes)
	OpUnaryNegative  Opcode = 11 // Negate top of stack
	OpUnaryNot       Opcode = 12 // Logical NOT of top of stack
	OpBinaryMultiply Opcode = 20 // Pop two, push product
	OpBinaryAdd      Opcode = 23 // Pop two, push sum
	OpBinarySubtract Opcode = 24 // Pop two, push difference (TOS1 - TOS)
	OpBinarySubscr   Opcode = 25 // Pop index and container, push element
	OpPrintItem      Opcode = 71 // Pop and print top of stack
	OpPrintNewline   Opcode = 72 // Print a newline
	OpBreakLoop      Opcode = 80 // Leave the innermost loop block
	OpReturnValue    Opcode = 83 // Return top of stack
	OpPopBlock       Opcode = 87 // Pop the innermost loop block

	// ========================================================================
	// With operand (>= HaveArgument)
	// ========================================================================

	OpStoreName         Opcode = 90  // Pop and bind: STORE_NAME <name:u16>
	OpDeleteName        Opcode = 91  // Unbind: DELETE_NAME <name:u16>
	OpStoreGlobal       Opcode = 97  // Pop and bind global: STORE_GLOBAL <name:u16>
	OpLoadConst         Opcode = 100 // Push constant: LOAD_CONST <const:u16>
	OpLoadName          Opcode = 101 // Push binding: LOAD_NAME <name:u16>
	OpBuildList         Opcode = 103 // Pop n, push list: BUILD_LIST <count:u16>
	OpCompareOp         Opcode = 107 // Pop two, push comparison: COMPARE_OP <cmp:u16>
	OpJumpForward       Opcode = 110 // Relative jump: JUMP_FORWARD <delta:u16>
	OpJumpIfFalseOrPop  Opcode = 111 // JUMP_IF_FALSE_OR_POP <target:u16>
	OpJumpIfTrueOrPop   Opcode = 112 // JUMP_IF_TRUE_OR_POP <target:u16>
	OpJumpAbsolute      Opcode = 113 // JUMP_ABSOLUTE <target:u16>
	OpPopJumpIfFalse    Opcode = 114 // Pop, jump if falsy: POP_JUMP_IF_FALSE <target:u16>
	OpPopJumpIfTrue     Opcode = 115 // Pop, jump if truthy: POP_JUMP_IF_TRUE <target:u16>
	OpLoadGlobal        Opcode = 116 // Push global: LOAD_GLOBAL <name:u16>
	OpSetupLoop         Opcode = 120 // Push loop block: SETUP_LOOP <delta:u16>
	OpLoadFast          Opcode = 124 // Push local: LOAD_FAST <slot:u16>
	OpStoreFast         Opcode = 125 // Pop into local: STORE_FAST <slot:u16>
	OpCallFunction      Opcode = 131 // Call: CALL_FUNCTION <argc:u16>
	OpMakeFunction      Opcode = 132 // Pop code (and defaults), push function: MAKE_FUNCTION <ndefaults:u16>
)

// OperandKind classifies what an instruction's operand refers to.
type OperandKind uint8

const (
	OperandNone    OperandKind = iota // No operand
	OperandConst                      // Index into Consts
	OperandName                       // Index into Names
	OperandLocal                      // Index into VarNames
	OperandJumpRel                    // Delta from the end of the instruction
	OperandJumpAbs                    // Byte offset from stream start
	OperandCompare                    // Index into the comparison operator table
	OperandRaw                        // Plain integer (arity, counts)
)

// String returns a human-readable name for OperandKind.
func (k OperandKind) String() string {
	switch k {
	case OperandNone:
		return "none"
	case OperandConst:
		return "const"
	case OperandName:
		return "name"
	case OperandLocal:
		return "local"
	case OperandJumpRel:
		return "jrel"
	case OperandJumpAbs:
		return "jabs"
	case OperandCompare:
		return "compare"
	case OperandRaw:
		return "raw"
	default:
		return fmt.Sprintf("OperandKind(%d)", k)
	}
}

// OpcodeInfo provides metadata about each opcode for decoding and display.
type OpcodeInfo struct {
	Name    string      // Human-readable name
	Operand OperandKind // What the operand refers to
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack
	OpPopTop: {"POP_TOP", OperandNone},
	OpRotTwo: {"ROT_TWO", OperandNone},
	OpDupTop: {"DUP_TOP", OperandNone},
	OpNop:    {"NOP", OperandNone},

	// Operators
	OpUnaryNegative:  {"UNARY_NEGATIVE", OperandNone},
	OpUnaryNot:       {"UNARY_NOT", OperandNone},
	OpBinaryMultiply: {"BINARY_MULTIPLY", OperandNone},
	OpBinaryAdd:      {"BINARY_ADD", OperandNone},
	OpBinarySubtract: {"BINARY_SUBTRACT", OperandNone},
	OpBinarySubscr:   {"BINARY_SUBSCR", OperandNone},
	OpCompareOp:      {"COMPARE_OP", OperandCompare},

	// Output
	OpPrintItem:    {"PRINT_ITEM", OperandNone},
	OpPrintNewline: {"PRINT_NEWLINE", OperandNone},

	// Blocks and returns
	OpBreakLoop:   {"BREAK_LOOP", OperandNone},
	OpReturnValue: {"RETURN_VALUE", OperandNone},
	OpPopBlock:    {"POP_BLOCK", OperandNone},
	OpSetupLoop:   {"SETUP_LOOP", OperandJumpRel},

	// Names
	OpStoreName:   {"STORE_NAME", OperandName},
	OpDeleteName:  {"DELETE_NAME", OperandName},
	OpStoreGlobal: {"STORE_GLOBAL", OperandName},
	OpLoadName:    {"LOAD_NAME", OperandName},
	OpLoadGlobal:  {"LOAD_GLOBAL", OperandName},

	// Constants and locals
	OpLoadConst: {"LOAD_CONST", OperandConst},
	OpLoadFast:  {"LOAD_FAST", OperandLocal},
	OpStoreFast: {"STORE_FAST", OperandLocal},

	// Jumps
	OpJumpForward:      {"JUMP_FORWARD", OperandJumpRel},
	OpJumpIfFalseOrPop: {"JUMP_IF_FALSE_OR_POP", OperandJumpAbs},
	OpJumpIfTrueOrPop:  {"JUMP_IF_TRUE_OR_POP", OperandJumpAbs},
	OpJumpAbsolute:     {"JUMP_ABSOLUTE", OperandJumpAbs},
	OpPopJumpIfFalse:   {"POP_JUMP_IF_FALSE", OperandJumpAbs},
	OpPopJumpIfTrue:    {"POP_JUMP_IF_TRUE", OperandJumpAbs},

	// Calls and construction
	OpBuildList:    {"BUILD_LIST", OperandRaw},
	OpCallFunction: {"CALL_FUNCTION", OperandRaw},
	OpMakeFunction: {"MAKE_FUNCTION", OperandRaw},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op)), Operand: OperandNone}
}

// IsKnown reports whether op belongs to the opcode set.
func (op Opcode) IsKnown() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// HasArg returns true if the opcode is followed by a 2-byte operand.
func (op Opcode) HasArg() bool {
	return op >= HaveArgument
}

// Operand returns the operand kind for this opcode.
func (op Opcode) Operand() OperandKind {
	return GetOpcodeInfo(op).Operand
}

// InstructionLen returns the total length of an instruction (1 or 3).
func (op Opcode) InstructionLen() int {
	if op.HasArg() {
		return 3
	}
	return 1
}

// IsJump returns true if this opcode's operand is a jump target.
func (op Opcode) IsJump() bool {
	k := op.Operand()
	return k == OperandJumpRel || k == OperandJumpAbs
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}

// CompareOp is the operand of COMPARE_OP.
type CompareOp uint16

const (
	CmpLess         CompareOp = 0
	CmpLessEqual    CompareOp = 1
	CmpEqual        CompareOp = 2
	CmpNotEqual     CompareOp = 3
	CmpGreater      CompareOp = 4
	CmpGreaterEqual CompareOp = 5
)

var compareOpNames = []string{"<", "<=", "==", "!=", ">", ">="}

// String returns the operator symbol, e.g. "<=".
func (c CompareOp) String() string {
	if int(c) < len(compareOpNames) {
		return compareOpNames[c]
	}
	return fmt.Sprintf("CompareOp(%d)", uint16(c))
}

// Valid reports whether c is a known comparison.
func (c CompareOp) Valid() bool {
	return int(c) < len(compareOpNames)
}
