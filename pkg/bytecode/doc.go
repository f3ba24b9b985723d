// Package bytecode defines the compiled-unit model consumed by the squash
// optimizer: the opcode table, constant values, the Unit type and its
// builder, the instruction codec, the persisted container format and a
// reference interpreter.
//
// # Encoding
//
// An instruction is a one-byte opcode, followed by a 16-bit little-endian
// operand when the opcode value is at or above HaveArgument:
//
//	[op]            1 byte   (op < HaveArgument)
//	[op][lo][hi]    3 bytes  (op >= HaveArgument)
//
// Operands index the constant pool, the name table or the local slots, or
// encode a jump target. Relative jumps count from the end of the jump
// instruction; absolute jumps count from the start of the stream.
//
// Operand bytes may hold any value, including the NOP opcode. Code that
// walks a stream must go through DecodeAt, Cursor or Window so that only
// bytes at instruction boundaries are interpreted as opcodes.
//
// # Containers
//
// Units are persisted with a 16-byte "SQBC" header followed by the unit
// encoded as canonical CBOR. Nested units (function bodies) are stored
// recursively inside the constant pool.
//
// # Reference interpreter
//
// VM executes a unit and records what it prints. It is deliberately small:
// it exists so that an optimized unit can be run side by side with its
// original and the outputs compared.
package bytecode
