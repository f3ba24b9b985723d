package bytecode

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Default execution limits for the reference interpreter.
const (
	DefaultMaxSteps = 1_000_000
	MaxCallDepth    = 200
)

var (
	ErrStepLimit      = errors.New("step limit exceeded")
	ErrNameNotDefined = errors.New("name is not defined")
	ErrUnboundLocal   = errors.New("local variable referenced before assignment")
	ErrStackUnderflow = errors.New("stack underflow")
	ErrNotCallable    = errors.New("object is not callable")
	ErrArity          = errors.New("wrong number of arguments")
	ErrIndex          = errors.New("index out of range")
	ErrCallDepth      = errors.New("maximum call depth exceeded")
	ErrBlockUnderflow = errors.New("no active loop block")
)

// Function is the runtime value produced by MAKE_FUNCTION.
type Function struct {
	Code     *Unit
	Defaults []Value
}

// Builtin is a function implemented in Go.
type Builtin struct {
	Name string
	Fn   func(args []Value) (Value, error)
}

// VM is a reference interpreter for compiled units. It exists to observe a
// program's output so that an optimized unit can be compared with the unit
// it was produced from.
type VM struct {
	// Out receives PRINT_ITEM / PRINT_NEWLINE output.
	Out io.Writer

	// MaxSteps bounds the number of instructions executed by one Run.
	MaxSteps int

	// Trace writes every executed instruction to Out.
	Trace bool

	globals   map[string]Value
	builtins  map[string]*Builtin
	steps     int
	depth     int
	softspace bool
}

// NewVM creates an interpreter writing program output to out.
func NewVM(out io.Writer) *VM {
	vm := &VM{
		Out:      out,
		MaxSteps: DefaultMaxSteps,
		globals:  make(map[string]Value),
		builtins: make(map[string]*Builtin),
	}
	for _, b := range defaultBuiltins() {
		vm.builtins[b.Name] = b
	}
	return vm
}

// Globals returns the module namespace after (or during) a run.
func (vm *VM) Globals() map[string]Value {
	return vm.globals
}

// RegisterBuiltin adds or replaces a builtin function.
func (vm *VM) RegisterBuiltin(b *Builtin) {
	vm.builtins[b.Name] = b
}

// Run executes u as the module body and returns the value it returns.
func (vm *VM) Run(u *Unit) (Value, error) {
	if err := Validate(u); err != nil {
		return nil, err
	}
	vm.steps = 0
	vm.depth = 0
	f := &frame{unit: u, locals: make([]Value, len(u.VarNames)), bound: make([]bool, len(u.VarNames))}
	return vm.exec(f)
}

type loopBlock struct {
	end   int // Offset BREAK_LOOP jumps to
	depth int // Stack depth when the block was entered
}

type frame struct {
	unit   *Unit
	ip     int
	stack  []Value
	locals []Value
	bound  []bool
	blocks []loopBlock
}

func (f *frame) push(v Value) {
	f.stack = append(f.stack, v)
}

func (f *frame) pop() (Value, error) {
	if len(f.stack) == 0 {
		return nil, ErrStackUnderflow
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

func (f *frame) popN(n int) ([]Value, error) {
	if len(f.stack) < n {
		return nil, ErrStackUnderflow
	}
	out := make([]Value, n)
	copy(out, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return out, nil
}

func (vm *VM) exec(f *frame) (Value, error) {
	code := f.unit.Code
	for f.ip < len(code) {
		in, err := DecodeAt(code, f.ip)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.unit.Name, err)
		}
		vm.steps++
		if vm.MaxSteps > 0 && vm.steps > vm.MaxSteps {
			return nil, fmt.Errorf("%w: %d instructions", ErrStepLimit, vm.MaxSteps)
		}
		if vm.Trace && vm.Out != nil {
			fmt.Fprintf(vm.Out, "%s %s stack=%d\n", f.unit.Name, FormatInstruction(f.unit, in), len(f.stack))
		}
		f.ip = in.End()

		done, ret, err := vm.step(f, in)
		if err != nil {
			return nil, fmt.Errorf("%s@%d %s: %w", f.unit.Name, in.Offset, in.Op, err)
		}
		if done {
			return ret, nil
		}
	}
	return nil, nil
}

// step executes one instruction. done is set when the frame returns.
func (vm *VM) step(f *frame, in Instruction) (done bool, ret Value, err error) {
	u := f.unit
	switch in.Op {
	case OpNop:

	case OpPopTop:
		_, err = f.pop()

	case OpRotTwo:
		if len(f.stack) < 2 {
			return false, nil, ErrStackUnderflow
		}
		n := len(f.stack)
		f.stack[n-1], f.stack[n-2] = f.stack[n-2], f.stack[n-1]

	case OpDupTop:
		if len(f.stack) == 0 {
			return false, nil, ErrStackUnderflow
		}
		f.push(f.stack[len(f.stack)-1])

	case OpUnaryNegative:
		var v Value
		if v, err = f.pop(); err == nil {
			v, err = Negate(v)
			f.push(v)
		}

	case OpUnaryNot:
		var v Value
		if v, err = f.pop(); err == nil {
			f.push(!Truthy(v))
		}

	case OpBinaryAdd, OpBinarySubtract, OpBinaryMultiply, OpBinarySubscr:
		var args []Value
		if args, err = f.popN(2); err != nil {
			return false, nil, err
		}
		var v Value
		switch in.Op {
		case OpBinaryAdd:
			v, err = Add(args[0], args[1])
		case OpBinarySubtract:
			v, err = Sub(args[0], args[1])
		case OpBinaryMultiply:
			v, err = Mul(args[0], args[1])
		default:
			v, err = subscript(args[0], args[1])
		}
		f.push(v)

	case OpCompareOp:
		var args []Value
		if args, err = f.popN(2); err != nil {
			return false, nil, err
		}
		var b bool
		b, err = Compare(CompareOp(in.Arg), args[0], args[1])
		f.push(b)

	case OpPrintItem:
		var v Value
		if v, err = f.pop(); err == nil {
			vm.printItem(v)
		}

	case OpPrintNewline:
		vm.write("\n")
		vm.softspace = false

	case OpReturnValue:
		ret, err = f.pop()
		return true, ret, err

	case OpSetupLoop:
		target, _ := in.JumpTarget()
		f.blocks = append(f.blocks, loopBlock{end: target, depth: len(f.stack)})

	case OpPopBlock:
		if len(f.blocks) == 0 {
			return false, nil, ErrBlockUnderflow
		}
		f.blocks = f.blocks[:len(f.blocks)-1]

	case OpBreakLoop:
		if len(f.blocks) == 0 {
			return false, nil, ErrBlockUnderflow
		}
		b := f.blocks[len(f.blocks)-1]
		f.blocks = f.blocks[:len(f.blocks)-1]
		f.stack = f.stack[:b.depth]
		f.ip = b.end

	case OpLoadConst:
		f.push(u.Consts[in.Arg])

	case OpLoadName, OpLoadGlobal:
		var v Value
		v, err = vm.lookup(u.Names[in.Arg])
		f.push(v)

	case OpStoreName, OpStoreGlobal:
		var v Value
		if v, err = f.pop(); err == nil {
			vm.globals[u.Names[in.Arg]] = v
		}

	case OpDeleteName:
		name := u.Names[in.Arg]
		if _, ok := vm.globals[name]; !ok {
			return false, nil, fmt.Errorf("%w: %s", ErrNameNotDefined, name)
		}
		delete(vm.globals, name)

	case OpLoadFast:
		if !f.bound[in.Arg] {
			return false, nil, fmt.Errorf("%w: %s", ErrUnboundLocal, u.VarNames[in.Arg])
		}
		f.push(f.locals[in.Arg])

	case OpStoreFast:
		var v Value
		if v, err = f.pop(); err == nil {
			f.locals[in.Arg] = v
			f.bound[in.Arg] = true
		}

	case OpBuildList:
		var items []Value
		if items, err = f.popN(int(in.Arg)); err == nil {
			f.push(items)
		}

	case OpJumpForward, OpJumpAbsolute:
		f.ip, _ = in.JumpTarget()

	case OpPopJumpIfFalse, OpPopJumpIfTrue:
		var v Value
		if v, err = f.pop(); err != nil {
			return false, nil, err
		}
		if Truthy(v) == (in.Op == OpPopJumpIfTrue) {
			f.ip, _ = in.JumpTarget()
		}

	case OpJumpIfFalseOrPop, OpJumpIfTrueOrPop:
		if len(f.stack) == 0 {
			return false, nil, ErrStackUnderflow
		}
		if Truthy(f.stack[len(f.stack)-1]) == (in.Op == OpJumpIfTrueOrPop) {
			f.ip, _ = in.JumpTarget()
		} else {
			_, err = f.pop()
		}

	case OpMakeFunction:
		var v Value
		if v, err = f.pop(); err != nil {
			return false, nil, err
		}
		code, ok := v.(*Unit)
		if !ok {
			return false, nil, fmt.Errorf("%w: MAKE_FUNCTION on %s", ErrTypeMismatch, typeName(v))
		}
		var defaults []Value
		if defaults, err = f.popN(int(in.Arg)); err == nil {
			f.push(&Function{Code: code, Defaults: defaults})
		}

	case OpCallFunction:
		var args []Value
		if args, err = f.popN(int(in.Arg)); err != nil {
			return false, nil, err
		}
		var callee, v Value
		if callee, err = f.pop(); err != nil {
			return false, nil, err
		}
		v, err = vm.call(callee, args)
		f.push(v)

	default:
		err = fmt.Errorf("%w: no handler for %s", ErrMalformedStream, in.Op)
	}
	return false, nil, err
}

func (vm *VM) lookup(name string) (Value, error) {
	if v, ok := vm.globals[name]; ok {
		return v, nil
	}
	if b, ok := vm.builtins[name]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNameNotDefined, name)
}

func (vm *VM) call(callee Value, args []Value) (Value, error) {
	switch fn := callee.(type) {
	case *Builtin:
		return fn.Fn(args)
	case *Function:
		code := fn.Code
		required := code.ArgCount - len(fn.Defaults)
		if len(args) < required || len(args) > code.ArgCount {
			return nil, fmt.Errorf("%w: %s() takes %d arguments (%d given)", ErrArity, code.Name, code.ArgCount, len(args))
		}
		if vm.depth >= MaxCallDepth {
			return nil, ErrCallDepth
		}
		nf := &frame{
			unit:   code,
			locals: make([]Value, max(len(code.VarNames), code.ArgCount)),
			bound:  make([]bool, max(len(code.VarNames), code.ArgCount)),
		}
		for i := 0; i < code.ArgCount; i++ {
			if i < len(args) {
				nf.locals[i] = args[i]
			} else {
				nf.locals[i] = fn.Defaults[i-required]
			}
			nf.bound[i] = true
		}
		vm.depth++
		defer func() { vm.depth-- }()
		return vm.exec(nf)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotCallable, typeName(callee))
	}
}

func (vm *VM) printItem(v Value) {
	if vm.softspace {
		vm.write(" ")
	}
	vm.write(Str(v))
	vm.softspace = true
}

func (vm *VM) write(s string) {
	if vm.Out != nil {
		io.WriteString(vm.Out, s)
	}
}

func subscript(container, index Value) (Value, error) {
	i, ok := index.(int64)
	if !ok {
		if b, isBool := index.(bool); isBool {
			i, ok = 0, true
			if b {
				i = 1
			}
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s[%s]", ErrTypeMismatch, typeName(container), typeName(index))
	}
	switch c := container.(type) {
	case []Value:
		if i < 0 {
			i += int64(len(c))
		}
		if i < 0 || i >= int64(len(c)) {
			return nil, fmt.Errorf("%w: list index %d", ErrIndex, i)
		}
		return c[i], nil
	case string:
		if i < 0 {
			i += int64(len(c))
		}
		if i < 0 || i >= int64(len(c)) {
			return nil, fmt.Errorf("%w: string index %d", ErrIndex, i)
		}
		return c[i : i+1], nil
	}
	return nil, fmt.Errorf("%w: %s is not subscriptable", ErrTypeMismatch, typeName(container))
}

func defaultBuiltins() []*Builtin {
	return []*Builtin{
		{Name: "bool", Fn: func(args []Value) (Value, error) {
			if len(args) > 1 {
				return nil, fmt.Errorf("%w: bool() takes at most 1 argument (%d given)", ErrArity, len(args))
			}
			if len(args) == 0 {
				return false, nil
			}
			return Truthy(args[0]), nil
		}},
		{Name: "len", Fn: func(args []Value) (Value, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("%w: len() takes exactly 1 argument (%d given)", ErrArity, len(args))
			}
			switch x := args[0].(type) {
			case string:
				return int64(len(x)), nil
			case []Value:
				return int64(len(x)), nil
			}
			return nil, fmt.Errorf("%w: object of type %s has no len()", ErrTypeMismatch, typeName(args[0]))
		}},
		{Name: "str", Fn: func(args []Value) (Value, error) {
			if len(args) > 1 {
				return nil, fmt.Errorf("%w: str() takes at most 1 argument (%d given)", ErrArity, len(args))
			}
			if len(args) == 0 {
				return "", nil
			}
			return Str(args[0]), nil
		}},
		{Name: "abs", Fn: func(args []Value) (Value, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("%w: abs() takes exactly 1 argument (%d given)", ErrArity, len(args))
			}
			n, ok := numeric(args[0])
			if !ok {
				return nil, fmt.Errorf("%w: bad operand type for abs(): %s", ErrTypeMismatch, typeName(args[0]))
			}
			if i, isInt := n.(int64); isInt {
				if i < 0 {
					return Negate(i)
				}
				return i, nil
			}
			f := n.(float64)
			if f < 0 {
				return -f, nil
			}
			return f, nil
		}},
	}
}

// Output runs u on a fresh interpreter and returns everything it printed.
func Output(u *Unit, maxSteps int) (string, error) {
	var sb strings.Builder
	vm := NewVM(&sb)
	if maxSteps > 0 {
		vm.MaxSteps = maxSteps
	}
	_, err := vm.Run(u)
	return sb.String(), err
}
