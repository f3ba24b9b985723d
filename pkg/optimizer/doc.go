// Package optimizer rewrites compiled units into smaller, equivalent
// bytecode.
//
// A MutableUnit owns a copy of a unit's byte stream, constant pool and name
// table. Passes match fixed peephole windows at instruction boundaries and
// edit the stream in place: by overwriting an instruction, by filling it
// with NOPs, or (inlining and compaction only) by changing the stream
// length, in which case every jump is relocated.
//
// The standard pipeline, run once per round:
//
//	propagate   LOAD_NAME of a literal-bound name -> LOAD_CONST
//	fold        literal + literal, literal - literal, not literal
//	branches    if <literal>: ... else: ...
//	deadvars    literal bindings nothing loads
//	inline      f(literal) for tiny single-expression f
//	deadfuncs   function bindings nothing references
//	boolcoerce  bool(literal) -> not not literal
//	compact     drop NOPs
//
// Optimizer.Run repeats rounds until one makes no edits or the round cap is
// reached. The constant pool only grows; unused entries are left in place.
package optimizer
