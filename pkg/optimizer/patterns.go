package optimizer

import "github.com/chazu/squash/pkg/bytecode"

// Widths of the instruction encodings.
const (
	opWidth  = 1 // Opcode without operand
	argWidth = 3 // Opcode plus 16-bit operand
)

// Peephole windows, in instructions and in bytes.
const (
	// [LOAD_CONST c][STORE_NAME n]
	declInstrs = 2
	declWidth  = 2 * argWidth

	// [LOAD_CONST code][MAKE_FUNCTION 0][STORE_NAME f]
	funcDeclInstrs = 3
	funcDeclWidth  = 3 * argWidth

	// [LOAD_CONST a][LOAD_CONST b][BINARY_ADD|BINARY_SUBTRACT]
	binaryFoldInstrs = 3
	binaryFoldErased = argWidth + opWidth // second load and operator

	// [LOAD_CONST v][UNARY_NOT]
	notFoldInstrs = 2
	notFoldErased = opWidth

	// [LOAD_CONST v][POP_JUMP_IF_FALSE t]
	branchInstrs = 2
	branchWidth  = 2 * argWidth

	// [LOAD_NAME f][LOAD_CONST arg][CALL_FUNCTION 1]
	callInstrs = 3
	callWidth  = 3 * argWidth

	// Inlined bodies lose their LOAD_FAST 0 prologue and RETURN_VALUE epilogue.
	inlinePrologue = argWidth
	inlineEpilogue = opWidth

	// [LOAD_CONST v][UNARY_NOT][UNARY_NOT] + padding inside a call window
	notNotWidth   = argWidth + 2*opWidth
	notNotPadding = callWidth - notNotWidth
)

// Defaults for the tunable parts of the pipeline.
const (
	DefaultMaxRounds    = 100
	DefaultInlineMaxOps = 10
	DefaultCoercionName = "bool"
)

// inlineWhitelist is the closed set of opcodes an inlining candidate may use.
var inlineWhitelist = map[bytecode.Opcode]bool{
	bytecode.OpLoadFast:    true,
	bytecode.OpLoadConst:   true,
	bytecode.OpBinaryAdd:   true,
	bytecode.OpReturnValue: true,
}

// foldableBinary lists the binary operators constant folding evaluates.
var foldableBinary = map[bytecode.Opcode]struct {
	token string
	fn    func(a, b bytecode.Value) (bytecode.Value, error)
}{
	bytecode.OpBinaryAdd:      {"+", bytecode.Add},
	bytecode.OpBinarySubtract: {"-", bytecode.Sub},
}
