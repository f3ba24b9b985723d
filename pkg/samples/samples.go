// Package samples builds small compiled programs, laid out the way a
// compiler for the source language would emit them. They serve as optimizer
// fixtures and as inputs for the squash command.
package samples

import (
	"sort"

	"github.com/chazu/squash/pkg/bytecode"
)

// Sample is a named program together with the source it was compiled from.
type Sample struct {
	Name   string
	Source string
	Build  func() *bytecode.Unit
}

var registry = map[string]Sample{}

func register(s Sample) {
	registry[s.Name] = s
}

// Get returns the sample registered under name.
func Get(name string) (Sample, bool) {
	s, ok := registry[name]
	return s, ok
}

// Names lists the registered samples in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns every sample, ordered by name.
func All() []Sample {
	out := make([]Sample, 0, len(registry))
	for _, n := range Names() {
		out = append(out, registry[n])
	}
	return out
}

func module() *bytecode.Unit {
	return bytecode.NewUnit("<module>")
}

// end emits the implicit "return None" that closes a module body.
func end(u *bytecode.Unit) *bytecode.Unit {
	u.EmitConst(nil)
	u.Emit(bytecode.OpReturnValue)
	return u
}

// declare emits def name(...): as [LOAD_CONST code][MAKE_FUNCTION 0][STORE_NAME name].
func declare(u *bytecode.Unit, f *bytecode.Unit) {
	u.EmitConst(f)
	u.EmitArg(bytecode.OpMakeFunction, 0)
	u.EmitName(bytecode.OpStoreName, f.Name)
}

// call emits name(arg) with a literal argument.
func call(u *bytecode.Unit, name string, arg bytecode.Value) {
	u.EmitName(bytecode.OpLoadName, name)
	u.EmitConst(arg)
	u.EmitArg(bytecode.OpCallFunction, 1)
}

func printNewline(u *bytecode.Unit) {
	u.Emit(bytecode.OpPrintItem)
	u.Emit(bytecode.OpPrintNewline)
}

// function creates a one-parameter function whose pool starts with the
// docstring slot (None), as compiled functions do.
func function(name, param string) *bytecode.Unit {
	f := bytecode.NewFunction(name, param)
	f.AddConst(nil)
	return f
}

func init() {
	register(Sample{
		Name:   "arith",
		Source: "x = 5 + 7\nprint x\n",
		Build: func() *bytecode.Unit {
			u := module()
			u.EmitConst(int64(5))
			u.EmitConst(int64(7))
			u.Emit(bytecode.OpBinaryAdd)
			u.EmitName(bytecode.OpStoreName, "x")
			u.EmitName(bytecode.OpLoadName, "x")
			printNewline(u)
			return end(u)
		},
	})

	register(Sample{
		Name:   "ifelse",
		Source: "if True:\n    a = 1\nelse:\n    a = 2\n",
		Build: func() *bytecode.Unit {
			u := module()
			ifElse(u, true, "a")
			return end(u)
		},
	})

	register(Sample{
		Name:   "ifelse-print",
		Source: "if True:\n    a = 1\nelse:\n    a = 2\nprint a\n",
		Build: func() *bytecode.Unit {
			u := module()
			ifElse(u, true, "a")
			u.EmitName(bytecode.OpLoadName, "a")
			printNewline(u)
			return end(u)
		},
	})

	register(Sample{
		Name:   "iffalse",
		Source: "if False:\n    print 'then'\nelse:\n    print 'else'\nprint 'after'\n",
		Build: func() *bytecode.Unit {
			u := module()
			u.EmitConst(false)
			jf := u.EmitJump(bytecode.OpPopJumpIfFalse)
			u.EmitConst("then")
			printNewline(u)
			skip := u.EmitJump(bytecode.OpJumpForward)
			u.PatchJump(jf)
			u.EmitConst("else")
			printNewline(u)
			u.PatchJump(skip)
			u.EmitConst("after")
			printNewline(u)
			return end(u)
		},
	})

	register(Sample{
		Name:   "inline",
		Source: "def inc(n):\n    return n + 1\nprint inc(41)\n",
		Build: func() *bytecode.Unit {
			u := module()
			declare(u, Inc())
			call(u, "inc", int64(41))
			printNewline(u)
			return end(u)
		},
	})

	register(Sample{
		Name:   "inline-multiply",
		Source: "def twice(n):\n    return n * 2\nprint twice(21)\n",
		Build: func() *bytecode.Unit {
			f := function("twice", "n")
			f.EmitLocal(bytecode.OpLoadFast, "n")
			f.EmitConst(int64(2))
			f.Emit(bytecode.OpBinaryMultiply)
			f.Emit(bytecode.OpReturnValue)

			u := module()
			declare(u, f)
			call(u, "twice", int64(21))
			printNewline(u)
			return end(u)
		},
	})

	register(Sample{
		Name:   "inline-large",
		Source: "def big(n):\n    return n + 1 + 2 + 3 + 4 + 5\nprint big(0)\n",
		Build: func() *bytecode.Unit {
			f := function("big", "n")
			f.EmitLocal(bytecode.OpLoadFast, "n")
			for i := int64(1); i <= 5; i++ {
				f.EmitConst(i)
				f.Emit(bytecode.OpBinaryAdd)
			}
			f.Emit(bytecode.OpReturnValue)

			u := module()
			declare(u, f)
			call(u, "big", int64(0))
			printNewline(u)
			return end(u)
		},
	})

	register(Sample{
		Name:   "bool",
		Source: "print bool(0), bool('x')\n",
		Build: func() *bytecode.Unit {
			u := module()
			call(u, "bool", int64(0))
			u.Emit(bytecode.OpPrintItem)
			call(u, "bool", "x")
			printNewline(u)
			return end(u)
		},
	})

	register(Sample{
		Name:   "loop",
		Source: "i = 0\nwhile i < 3:\n    print i,\n    i = i + 1\n",
		Build: func() *bytecode.Unit {
			u := module()
			u.EmitConst(int64(0))
			u.EmitName(bytecode.OpStoreName, "i")
			setup := u.EmitJump(bytecode.OpSetupLoop)
			head := u.CurrentOffset()
			u.EmitName(bytecode.OpLoadName, "i")
			u.EmitConst(int64(3))
			u.EmitCompare(bytecode.CmpLess)
			exit := u.EmitJump(bytecode.OpPopJumpIfFalse)
			u.EmitName(bytecode.OpLoadName, "i")
			u.Emit(bytecode.OpPrintItem)
			u.EmitName(bytecode.OpLoadName, "i")
			u.EmitConst(int64(1))
			u.Emit(bytecode.OpBinaryAdd)
			u.EmitName(bytecode.OpStoreName, "i")
			u.EmitJumpTo(bytecode.OpJumpAbsolute, head)
			u.PatchJump(exit)
			u.Emit(bytecode.OpPopBlock)
			u.PatchJump(setup)
			return end(u)
		},
	})

	register(Sample{
		Name:   "countdown",
		Source: "n = len('abc')\nwhile True:\n    if n == 0:\n        break\n    print n,\n    n = n - 1\nprint 'liftoff'\n",
		Build: func() *bytecode.Unit {
			u := module()
			call(u, "len", "abc")
			u.EmitName(bytecode.OpStoreName, "n")
			setup := u.EmitJump(bytecode.OpSetupLoop)
			head := u.CurrentOffset()
			u.EmitConst(true)
			exit := u.EmitJump(bytecode.OpPopJumpIfFalse)
			u.EmitName(bytecode.OpLoadName, "n")
			u.EmitConst(int64(0))
			u.EmitCompare(bytecode.CmpEqual)
			notZero := u.EmitJump(bytecode.OpPopJumpIfFalse)
			u.Emit(bytecode.OpBreakLoop)
			u.PatchJump(notZero)
			u.EmitName(bytecode.OpLoadName, "n")
			u.Emit(bytecode.OpPrintItem)
			u.EmitName(bytecode.OpLoadName, "n")
			u.EmitConst(int64(1))
			u.Emit(bytecode.OpBinarySubtract)
			u.EmitName(bytecode.OpStoreName, "n")
			u.EmitJumpTo(bytecode.OpJumpAbsolute, head)
			u.PatchJump(exit)
			u.Emit(bytecode.OpPopBlock)
			u.PatchJump(setup)
			u.EmitConst("liftoff")
			printNewline(u)
			return end(u)
		},
	})

	register(Sample{
		Name:   "ternary",
		Source: "flag = len('')\nprint (2 if flag else 3) + 4\n",
		Build: func() *bytecode.Unit {
			u := module()
			call(u, "len", "")
			u.EmitName(bytecode.OpStoreName, "flag")
			u.EmitName(bytecode.OpLoadName, "flag")
			orElse := u.EmitJump(bytecode.OpPopJumpIfFalse)
			u.EmitConst(int64(2))
			done := u.EmitJump(bytecode.OpJumpForward)
			u.PatchJump(orElse)
			u.EmitConst(int64(3))
			u.PatchJump(done)
			u.EmitConst(int64(4))
			u.Emit(bytecode.OpBinaryAdd)
			printNewline(u)
			return end(u)
		},
	})

	register(Sample{
		Name:   "strings",
		Source: "greeting = 'hello, ' + 'world'\nprint greeting\nprint not ''\n",
		Build: func() *bytecode.Unit {
			u := module()
			u.EmitConst("hello, ")
			u.EmitConst("world")
			u.Emit(bytecode.OpBinaryAdd)
			u.EmitName(bytecode.OpStoreName, "greeting")
			u.EmitName(bytecode.OpLoadName, "greeting")
			printNewline(u)
			u.EmitConst("")
			u.Emit(bytecode.OpUnaryNot)
			printNewline(u)
			return end(u)
		},
	})

	register(Sample{
		Name:   "deadcode",
		Source: "def unused(n):\n    return n\nx = 3\ny = 10 - 4\nprint 'ok'\n",
		Build: func() *bytecode.Unit {
			f := function("unused", "n")
			f.EmitLocal(bytecode.OpLoadFast, "n")
			f.Emit(bytecode.OpReturnValue)

			u := module()
			declare(u, f)
			u.EmitConst(int64(3))
			u.EmitName(bytecode.OpStoreName, "x")
			u.EmitConst(int64(10))
			u.EmitConst(int64(4))
			u.Emit(bytecode.OpBinarySubtract)
			u.EmitName(bytecode.OpStoreName, "y")
			u.EmitConst("ok")
			printNewline(u)
			return end(u)
		},
	})

	register(Sample{
		Name:   "global-escape",
		Source: "def show():\n    print greeting\ngreeting = 'hi'\nshow()\n",
		Build: func() *bytecode.Unit {
			f := bytecode.NewFunction("show")
			f.AddConst(nil)
			f.EmitName(bytecode.OpLoadGlobal, "greeting")
			printNewline(f)
			f.EmitConst(nil)
			f.Emit(bytecode.OpReturnValue)

			u := module()
			declare(u, f)
			u.EmitConst("hi")
			u.EmitName(bytecode.OpStoreName, "greeting")
			u.EmitName(bytecode.OpLoadName, "show")
			u.EmitArg(bytecode.OpCallFunction, 0)
			u.Emit(bytecode.OpPopTop)
			return end(u)
		},
	})

	register(Sample{
		Name:   "mixed",
		Source: "def inc(n):\n    return n + 1\nlimit = inc(9)\nif bool(1):\n    print 'limit', limit - 2\nelse:\n    print 'never'\n",
		Build: func() *bytecode.Unit {
			u := module()
			declare(u, Inc())
			call(u, "inc", int64(9))
			u.EmitName(bytecode.OpStoreName, "limit")
			call(u, "bool", int64(1))
			jf := u.EmitJump(bytecode.OpPopJumpIfFalse)
			u.EmitConst("limit")
			u.Emit(bytecode.OpPrintItem)
			u.EmitName(bytecode.OpLoadName, "limit")
			u.EmitConst(int64(2))
			u.Emit(bytecode.OpBinarySubtract)
			printNewline(u)
			skip := u.EmitJump(bytecode.OpJumpForward)
			u.PatchJump(jf)
			u.EmitConst("never")
			printNewline(u)
			u.PatchJump(skip)
			return end(u)
		},
	})
}

// Inc is def inc(n): return n + 1.
func Inc() *bytecode.Unit {
	f := function("inc", "n")
	f.EmitLocal(bytecode.OpLoadFast, "n")
	f.EmitConst(int64(1))
	f.Emit(bytecode.OpBinaryAdd)
	f.Emit(bytecode.OpReturnValue)
	return f
}

// ifElse emits if <cond>: name = 1 else: name = 2.
func ifElse(u *bytecode.Unit, cond bytecode.Value, name string) {
	u.EmitConst(cond)
	jf := u.EmitJump(bytecode.OpPopJumpIfFalse)
	u.EmitConst(int64(1))
	u.EmitName(bytecode.OpStoreName, name)
	skip := u.EmitJump(bytecode.OpJumpForward)
	u.PatchJump(jf)
	u.EmitConst(int64(2))
	u.EmitName(bytecode.OpStoreName, name)
	u.PatchJump(skip)
}
