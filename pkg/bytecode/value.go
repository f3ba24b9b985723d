package bytecode

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a constant pool entry: nil (None), bool, int64, float64, string,
// or *Unit for a nested compiled unit.
type Value = any

var (
	ErrTypeMismatch = errors.New("unsupported operand types")
	ErrOverflow     = errors.New("integer overflow")
)

// IsOpaque reports whether v is a nested compiled unit.
func IsOpaque(v Value) bool {
	_, ok := v.(*Unit)
	return ok
}

// Truthy reports the truth value of v.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case []Value:
		return len(x) > 0
	default:
		return true
	}
}

// Repr returns the source-like representation of v ("'abc'", "None").
func Repr(v Value) string {
	switch x := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(x, "'", "\\'") + "'"
	case []Value:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = Repr(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return Str(v)
	}
}

// Str returns the printed form of v (strings are not quoted).
func Str(v Value) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) && math.Abs(x) < 1e16 {
			return strconv.FormatFloat(x, 'f', 1, 64)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	case *Unit:
		return fmt.Sprintf("<code %s>", x.Name)
	case *Function:
		return fmt.Sprintf("<function %s>", x.Code.Name)
	case *Builtin:
		return fmt.Sprintf("<built-in function %s>", x.Name)
	case []Value:
		return Repr(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// numeric converts bools to int64 the way the VM promotes them.
func numeric(v Value) (Value, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1), true
		}
		return int64(0), true
	case int64, float64:
		return x, true
	}
	return nil, false
}

func asFloat(v Value) float64 {
	if i, ok := v.(int64); ok {
		return float64(i)
	}
	return v.(float64)
}

// Add returns a + b.
func Add(a, b Value) (Value, error) {
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return sa + sb, nil
		}
		return nil, fmt.Errorf("%w: %s + %s", ErrTypeMismatch, typeName(a), typeName(b))
	}
	if la, ok := a.([]Value); ok {
		if lb, ok := b.([]Value); ok {
			out := make([]Value, 0, len(la)+len(lb))
			return append(append(out, la...), lb...), nil
		}
	}
	x, y, err := numericPair(a, b, "+")
	if err != nil {
		return nil, err
	}
	if ix, ok := x.(int64); ok {
		if iy, ok := y.(int64); ok {
			s := ix + iy
			if (s > ix) != (iy > 0) {
				return nil, fmt.Errorf("%w: %d + %d", ErrOverflow, ix, iy)
			}
			return s, nil
		}
	}
	return asFloat(x) + asFloat(y), nil
}

// Sub returns a - b.
func Sub(a, b Value) (Value, error) {
	x, y, err := numericPair(a, b, "-")
	if err != nil {
		return nil, err
	}
	if ix, ok := x.(int64); ok {
		if iy, ok := y.(int64); ok {
			d := ix - iy
			if (d < ix) != (iy > 0) {
				return nil, fmt.Errorf("%w: %d - %d", ErrOverflow, ix, iy)
			}
			return d, nil
		}
	}
	return asFloat(x) - asFloat(y), nil
}

// Mul returns a * b.
func Mul(a, b Value) (Value, error) {
	if s, ok := a.(string); ok {
		if n, ok := b.(int64); ok {
			if n <= 0 {
				return "", nil
			}
			return strings.Repeat(s, int(n)), nil
		}
	}
	x, y, err := numericPair(a, b, "*")
	if err != nil {
		return nil, err
	}
	if ix, ok := x.(int64); ok {
		if iy, ok := y.(int64); ok {
			if ix != 0 && iy != 0 {
				p := ix * iy
				if p/iy != ix || (ix == -1 && iy == math.MinInt64) || (iy == -1 && ix == math.MinInt64) {
					return nil, fmt.Errorf("%w: %d * %d", ErrOverflow, ix, iy)
				}
				return p, nil
			}
			return int64(0), nil
		}
	}
	return asFloat(x) * asFloat(y), nil
}

// Negate returns -v.
func Negate(v Value) (Value, error) {
	n, ok := numeric(v)
	if !ok {
		return nil, fmt.Errorf("%w: -%s", ErrTypeMismatch, typeName(v))
	}
	if i, ok := n.(int64); ok {
		if i == math.MinInt64 {
			return nil, fmt.Errorf("%w: -%d", ErrOverflow, i)
		}
		return -i, nil
	}
	return -n.(float64), nil
}

// Compare applies a COMPARE_OP operator.
func Compare(op CompareOp, a, b Value) (bool, error) {
	switch op {
	case CmpEqual:
		return Equal(a, b), nil
	case CmpNotEqual:
		return !Equal(a, b), nil
	}
	var c int
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return false, fmt.Errorf("%w: %s %s %s", ErrTypeMismatch, typeName(a), op, typeName(b))
		}
		c = strings.Compare(sa, sb)
	} else {
		x, y, err := numericPair(a, b, op.String())
		if err != nil {
			return false, err
		}
		c = compareNumbers(x, y)
	}
	switch op {
	case CmpLess:
		return c < 0, nil
	case CmpLessEqual:
		return c <= 0, nil
	case CmpGreater:
		return c > 0, nil
	case CmpGreaterEqual:
		return c >= 0, nil
	}
	return false, fmt.Errorf("%w: compare operator %d", ErrTypeMismatch, uint16(op))
}

// Equal reports value equality with numeric promotion (1 == 1.0 == True).
func Equal(a, b Value) bool {
	x, okx := numeric(a)
	y, oky := numeric(b)
	if okx && oky {
		ix, iokx := x.(int64)
		iy, ioky := y.(int64)
		if iokx && ioky {
			return ix == iy
		}
		return asFloat(x) == asFloat(y)
	}
	if la, ok := a.([]Value); ok {
		lb, ok := b.([]Value)
		if !ok || len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !Equal(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	if _, ok := b.([]Value); ok {
		return false
	}
	return a == b
}

func compareNumbers(x, y Value) int {
	if ix, ok := x.(int64); ok {
		if iy, ok := y.(int64); ok {
			switch {
			case ix < iy:
				return -1
			case ix > iy:
				return 1
			}
			return 0
		}
	}
	fx, fy := asFloat(x), asFloat(y)
	switch {
	case fx < fy:
		return -1
	case fx > fy:
		return 1
	}
	return 0
}

func numericPair(a, b Value, op string) (Value, Value, error) {
	x, okx := numeric(a)
	y, oky := numeric(b)
	if !okx || !oky {
		return nil, nil, fmt.Errorf("%w: %s %s %s", ErrTypeMismatch, typeName(a), op, typeName(b))
	}
	return x, y, nil
}

func typeName(v Value) string {
	switch v.(type) {
	case nil:
		return "NoneType"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case *Unit:
		return "code"
	case *Function:
		return "function"
	case *Builtin:
		return "builtin_function_or_method"
	case []Value:
		return "list"
	default:
		return fmt.Sprintf("%T", v)
	}
}
