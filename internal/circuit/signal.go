package circuit

import (
	"strconv"
	"strings"
)

// SignalKind discriminates the Signal variant
type SignalKind uint8

const (
	SignalUnknown SignalKind = iota
	SignalScalar
	SignalBus
)

func (k SignalKind) String() string {
	switch k {
	case SignalScalar:
		return "scalar"
	case SignalBus:
		return "bus"
	default:
		return "unknown"
	}
}

// BusEntry is one named line of a NamedBus signal
type BusEntry struct {
	Name  string
	Value uint32
}

// Bus is an ordered name -> value mapping. Order is the output order of the
// module definition that produced it.
type Bus []BusEntry

// Get returns the value of the named line.
func (b Bus) Get(name string) (uint32, bool) {
	for _, e := range b {
		if e.Name == name {
			return e.Value, true
		}
	}
	return 0, false
}

// Equal reports whether both buses carry the same names and values in the same order.
func (b Bus) Equal(o Bus) bool {
	if len(b) != len(o) {
		return false
	}
	for i := range b {
		if b[i] != o[i] {
			return false
		}
	}
	return true
}

// Signal is the last computed output of a node: Unknown, Scalar or NamedBus.
// The zero value is Unknown.
type Signal struct {
	kind   SignalKind
	scalar uint32
	bus    Bus
}

// Unknown returns the indeterminate signal.
func Unknown() Signal { return Signal{} }

// Scalar returns a single-value signal.
func Scalar(v uint32) Signal { return Signal{kind: SignalScalar, scalar: v} }

// NamedBus returns a multi-output signal. The bus is copied.
func NamedBus(b Bus) Signal {
	cp := make(Bus, len(b))
	copy(cp, b)
	return Signal{kind: SignalBus, bus: cp}
}

// Kind returns the variant tag.
func (s Signal) Kind() SignalKind { return s.kind }

// Known is a shorthand for Kind() != SignalUnknown.
func (s Signal) Known() bool { return s.kind != SignalUnknown }

// Scalar returns the scalar payload. ok is false for any other variant.
func (s Signal) Scalar() (v uint32, ok bool) {
	if s.kind != SignalScalar {
		return 0, false
	}
	return s.scalar, true
}

// Bus returns the bus payload. ok is false for any other variant.
func (s Signal) Bus() (b Bus, ok bool) {
	if s.kind != SignalBus {
		return nil, false
	}
	return s.bus, true
}

// Equal compares two signals variant-wise.
func (s Signal) Equal(o Signal) bool {
	if s.kind != o.kind {
		return false
	}
	switch s.kind {
	case SignalScalar:
		return s.scalar == o.scalar
	case SignalBus:
		return s.bus.Equal(o.bus)
	default:
		return true
	}
}

func (s Signal) String() string {
	switch s.kind {
	case SignalScalar:
		return strconv.FormatUint(uint64(s.scalar), 10)
	case SignalBus:
		var b strings.Builder
		b.WriteByte('{')
		for i, e := range s.bus {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(e.Name)
			b.WriteByte(':')
			b.WriteString(strconv.FormatUint(uint64(e.Value), 10))
		}
		b.WriteByte('}')
		return b.String()
	default:
		return "?"
	}
}

// Activity is the per-edge annotation produced by an evaluation.
type Activity uint8

const (
	Floating Activity = iota
	Low
	High
)

func (a Activity) String() string {
	switch a {
	case Low:
		return "low"
	case High:
		return "high"
	default:
		return "floating"
	}
}
