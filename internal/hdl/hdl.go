// Package hdl translates circuits to and from Verilog and VHDL text and
// generates self-checking Verilog testbenches.
//
// Import builds a graph from the facts found by package extractor; export
// walks the graph and writes one continuous assignment per gate. Text written
// by Generate is accepted by Parse, and for acyclic gate-only circuits the
// round trip preserves the truth table.
package hdl

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/robert-at-pretension-io/logicsim/internal/eval"
	"github.com/robert-at-pretension-io/logicsim/internal/extractor"
)

// Dialect is one of the supported HDLs.
type Dialect = extractor.Dialect

const (
	Verilog = extractor.Verilog
	VHDL    = extractor.VHDL
)

// ParseDialect accepts a dialect name or a file extension.
func ParseDialect(s string) (Dialect, error) { return extractor.ParseDialect(s) }

// DialectForPath picks the dialect from a file extension.
func DialectForPath(path string) (Dialect, bool) { return extractor.DialectForPath(path) }

// Export preconditions. Both are checked before any text is produced.
var (
	ErrEmptyGraph    = errors.New("export: circuit has no nodes")
	ErrTooManyInputs = errors.New("export: too many inputs for an exhaustive testbench")
)

// ParseError rejects a whole import; no partial graph is returned with it.
type ParseError struct {
	Dialect Dialect
	Line    int
	Msg     string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Dialect, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Dialect, e.Msg)
}

// Default export settings.
const (
	DefaultModuleName  = "circuit"
	DefaultHeaderWidth = 72
	DefaultMaxInputs   = 16
)

// Options tune export.
type Options struct {
	// ModuleName overrides the module/entity name; the graph name is used
	// when empty.
	ModuleName string
	// HeaderWidth is the wrap column of the generated header comment.
	HeaderWidth int
	// MaxInputs bounds the number of inputs of a testbench (2^n vectors).
	MaxInputs int
	// Evaluator computes the expected values of a testbench.
	Evaluator *eval.Evaluator
}

func (o Options) withDefaults() Options {
	if o.HeaderWidth <= 0 {
		o.HeaderWidth = DefaultHeaderWidth
	}
	if o.MaxInputs <= 0 {
		o.MaxInputs = DefaultMaxInputs
	}
	if o.Evaluator == nil {
		o.Evaluator = eval.New()
	}
	return o
}
