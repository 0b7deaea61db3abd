package script

import "fmt"

// FaultKind classifies a failure of a module program.
type FaultKind uint8

const (
	SyntaxFault FaultKind = iota
	RuntimeFault
	TimeoutFault
)

func (k FaultKind) String() string {
	switch k {
	case SyntaxFault:
		return "syntax"
	case RuntimeFault:
		return "runtime"
	case TimeoutFault:
		return "timeout"
	default:
		return fmt.Sprintf("fault(%d)", uint8(k))
	}
}

// Fault is the error returned by Compile and Run. Line and Column are 1-based
// and zero when unknown.
type Fault struct {
	Kind   FaultKind
	Line   int
	Column int
	Msg    string
}

func (f *Fault) Error() string {
	if f.Line > 0 {
		return fmt.Sprintf("%s error at %d:%d: %s", f.Kind, f.Line, f.Column, f.Msg)
	}
	return fmt.Sprintf("%s error: %s", f.Kind, f.Msg)
}

func syntaxErr(p pos, format string, args ...interface{}) *Fault {
	return &Fault{Kind: SyntaxFault, Line: p.line, Column: p.col, Msg: fmt.Sprintf(format, args...)}
}

func runtimeErr(p pos, format string, args ...interface{}) *Fault {
	return &Fault{Kind: RuntimeFault, Line: p.line, Column: p.col, Msg: fmt.Sprintf(format, args...)}
}
