package script

import (
	"math"
	"strconv"
	"strings"
)

type valueKind uint8

const (
	undefinedVal valueKind = iota
	nullVal
	boolVal
	numberVal
	stringVal
)

// value is a dynamically typed script value. Objects are not first class:
// inputs, outputs and Math only appear as the object of a member access.
type value struct {
	kind valueKind
	num  float64
	str  string
}

var (
	undefined = value{}
	null      = value{kind: nullVal}
)

func number(f float64) value { return value{kind: numberVal, num: f} }

func boolean(b bool) value {
	if b {
		return value{kind: boolVal, num: 1}
	}
	return value{kind: boolVal}
}

func str(s string) value { return value{kind: stringVal, str: s} }

func (v value) toNumber() float64 {
	switch v.kind {
	case nullVal:
		return 0
	case boolVal, numberVal:
		return v.num
	case stringVal:
		s := strings.TrimSpace(v.str)
		if s == "" {
			return 0
		}
		if f, ok := parseNumber(s); ok {
			return f
		}
		return math.NaN()
	default:
		return math.NaN()
	}
}

func (v value) truthy() bool {
	switch v.kind {
	case boolVal:
		return v.num != 0
	case numberVal:
		return v.num != 0 && !math.IsNaN(v.num)
	case stringVal:
		return v.str != ""
	default:
		return false
	}
}

func (v value) toString() string {
	switch v.kind {
	case nullVal:
		return "null"
	case boolVal:
		if v.num != 0 {
			return "true"
		}
		return "false"
	case numberVal:
		return formatNumber(v.num)
	case stringVal:
		return v.str
	default:
		return "undefined"
	}
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// parseNumber accepts decimal, exponent and 0x/0o/0b literals, with optional
// digit separators.
func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(s, "_", "")
	if len(s) > 2 && s[0] == '0' {
		switch s[1] {
		case 'x', 'X', 'o', 'O', 'b', 'B':
			u, err := strconv.ParseUint(strings.ToLower(s), 0, 64)
			if err != nil {
				return 0, false
			}
			return float64(u), true
		}
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1), true
	case "-Infinity":
		return math.Inf(-1), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func toInt32(f float64) int32 {
	return int32(toUint32(f))
}

func toUint32(f float64) uint32 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Mod(math.Trunc(f), 4294967296)
	if f < 0 {
		f += 4294967296
	}
	return uint32(f)
}

func strictEquals(a, b value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case undefinedVal, nullVal:
		return true
	case stringVal:
		return a.str == b.str
	default:
		return a.num == b.num
	}
}

func looseEquals(a, b value) bool {
	if a.kind == b.kind {
		return strictEquals(a, b)
	}
	nullish := func(v value) bool { return v.kind == undefinedVal || v.kind == nullVal }
	if nullish(a) || nullish(b) {
		return nullish(a) && nullish(b)
	}
	return a.toNumber() == b.toNumber()
}

func compare(op string, a, b value) bool {
	if a.kind == stringVal && b.kind == stringVal {
		switch op {
		case "<":
			return a.str < b.str
		case "<=":
			return a.str <= b.str
		case ">":
			return a.str > b.str
		default:
			return a.str >= b.str
		}
	}
	x, y := a.toNumber(), b.toNumber()
	switch op {
	case "<":
		return x < y
	case "<=":
		return x <= y
	case ">":
		return x > y
	default:
		return x >= y
	}
}

func binary(op string, a, b value) (value, bool) {
	switch op {
	case "+":
		if a.kind == stringVal || b.kind == stringVal {
			return str(a.toString() + b.toString()), true
		}
		return number(a.toNumber() + b.toNumber()), true
	case "-":
		return number(a.toNumber() - b.toNumber()), true
	case "*":
		return number(a.toNumber() * b.toNumber()), true
	case "/":
		return number(a.toNumber() / b.toNumber()), true
	case "%":
		return number(math.Mod(a.toNumber(), b.toNumber())), true
	case "**":
		return number(math.Pow(a.toNumber(), b.toNumber())), true
	case "&":
		return number(float64(toInt32(a.toNumber()) & toInt32(b.toNumber()))), true
	case "|":
		return number(float64(toInt32(a.toNumber()) | toInt32(b.toNumber()))), true
	case "^":
		return number(float64(toInt32(a.toNumber()) ^ toInt32(b.toNumber()))), true
	case "<<":
		return number(float64(toInt32(a.toNumber()) << (toUint32(b.toNumber()) & 31))), true
	case ">>":
		return number(float64(toInt32(a.toNumber()) >> (toUint32(b.toNumber()) & 31))), true
	case ">>>":
		return number(float64(toUint32(a.toNumber()) >> (toUint32(b.toNumber()) & 31))), true
	case "==":
		return boolean(looseEquals(a, b)), true
	case "!=":
		return boolean(!looseEquals(a, b)), true
	case "===":
		return boolean(strictEquals(a, b)), true
	case "!==":
		return boolean(!strictEquals(a, b)), true
	case "<", "<=", ">", ">=":
		return boolean(compare(op, a, b)), true
	}
	return undefined, false
}

// coerce converts a program result to an unsigned 32-bit pin value:
// missing and NaN become 0, numbers wrap like x >>> 0.
func coerce(v value) uint32 {
	return toUint32(v.toNumber())
}

var mathFuncs = map[string]func(args []float64) float64{
	"floor": unary(math.Floor),
	"ceil":  unary(math.Ceil),
	"trunc": unary(math.Trunc),
	"abs":   unary(math.Abs),
	"round": unary(func(x float64) float64 { return math.Floor(x + 0.5) }),
	"sign": unary(func(x float64) float64 {
		switch {
		case x > 0:
			return 1
		case x < 0:
			return -1
		}
		return x
	}),
	"pow": func(args []float64) float64 {
		return math.Pow(arg(args, 0), arg(args, 1))
	},
	"min": func(args []float64) float64 {
		r := math.Inf(1)
		for _, a := range args {
			if math.IsNaN(a) {
				return a
			}
			r = math.Min(r, a)
		}
		return r
	},
	"max": func(args []float64) float64 {
		r := math.Inf(-1)
		for _, a := range args {
			if math.IsNaN(a) {
				return a
			}
			r = math.Max(r, a)
		}
		return r
	},
}

func unary(fn func(float64) float64) func([]float64) float64 {
	return func(args []float64) float64 { return fn(arg(args, 0)) }
}

func arg(args []float64, i int) float64 {
	if i < len(args) {
		return args[i]
	}
	return math.NaN()
}
