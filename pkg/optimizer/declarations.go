package optimizer

import (
	"sort"

	"github.com/chazu/squash/pkg/bytecode"
)

// declaration is a constant or function binding found by a linear scan.
type declaration struct {
	name   string
	offset int    // Offset of the LOAD_CONST that starts the declaration
	value  uint16 // Constant index the declaration loads
}

// findConstDeclarations records every [LOAD_CONST c][STORE_NAME n] with a
// non-opaque c. A later declaration of the same name replaces an earlier one.
func findConstDeclarations(m *MutableUnit) (map[string]declaration, error) {
	decls := make(map[string]declaration)
	c := bytecode.NewCursor(m.Code)
	for c.Next() {
		in := c.Instruction()
		if in.Op != bytecode.OpLoadConst {
			continue
		}
		v, err := m.constAt(in)
		if err != nil {
			return nil, err
		}
		if bytecode.IsOpaque(v) {
			continue
		}
		w, ok, err := m.window(in.Offset, declInstrs)
		if err != nil {
			return nil, err
		}
		if !ok || w[1].Op != bytecode.OpStoreName {
			continue
		}
		name, err := m.nameAt(w[1])
		if err != nil {
			return nil, err
		}
		decls[name] = declaration{name: name, offset: in.Offset, value: in.Arg}
		c.Seek(w[1].End())
	}
	return decls, c.Err()
}

// findFunctionDeclarations records every
// [LOAD_CONST code][MAKE_FUNCTION 0][STORE_NAME f].
func findFunctionDeclarations(m *MutableUnit) (map[string]declaration, error) {
	decls := make(map[string]declaration)
	c := bytecode.NewCursor(m.Code)
	for c.Next() {
		in := c.Instruction()
		if in.Op != bytecode.OpLoadConst {
			continue
		}
		v, err := m.constAt(in)
		if err != nil {
			return nil, err
		}
		if !bytecode.IsOpaque(v) {
			continue
		}
		w, ok, err := m.window(in.Offset, funcDeclInstrs)
		if err != nil {
			return nil, err
		}
		if !ok || w[1].Op != bytecode.OpMakeFunction || w[1].Arg != 0 || w[2].Op != bytecode.OpStoreName {
			continue
		}
		name, err := m.nameAt(w[2])
		if err != nil {
			return nil, err
		}
		decls[name] = declaration{name: name, offset: in.Offset, value: in.Arg}
		c.Seek(w[2].End())
	}
	return decls, c.Err()
}

// referencedNames returns the names the stream reads or unbinds.
func referencedNames(m *MutableUnit) (map[string]bool, error) {
	refs := make(map[string]bool)
	c := bytecode.NewCursor(m.Code)
	for c.Next() {
		in := c.Instruction()
		switch in.Op {
		case bytecode.OpLoadName, bytecode.OpLoadGlobal, bytecode.OpDeleteName:
			name, err := m.nameAt(in)
			if err != nil {
				return nil, err
			}
			refs[name] = true
		}
	}
	return refs, c.Err()
}

// escapesToNested reports whether a nested unit other than except mentions
// name. Nested code reaches module bindings by name, so such a binding is
// live even when the module itself never loads it.
func escapesToNested(m *MutableUnit, name string, except *bytecode.Unit) bool {
	for _, c := range m.Consts {
		n, ok := c.(*bytecode.Unit)
		if !ok || n == except {
			continue
		}
		if mentions(n, name) {
			return true
		}
	}
	return false
}

func mentions(u *bytecode.Unit, name string) bool {
	for _, n := range u.Names {
		if n == name {
			return true
		}
	}
	for _, c := range u.Consts {
		if n, ok := c.(*bytecode.Unit); ok && mentions(n, name) {
			return true
		}
	}
	return false
}

// sortedByOffset returns decls in stream order.
func sortedByOffset(decls map[string]declaration) []declaration {
	out := make([]declaration, 0, len(decls))
	for _, d := range decls {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].offset < out[j].offset })
	return out
}

func asUnit(v bytecode.Value) *bytecode.Unit {
	u, _ := v.(*bytecode.Unit)
	return u
}
