// Package truthtable evaluates a circuit for every combination of its
// primary inputs and compares circuits by their tables.
//
// Rows are computed in parallel. Each worker evaluates its own clone of the
// graph, so the caller's graph is never modified.
package truthtable

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
	"github.com/robert-at-pretension-io/logicsim/internal/eval"
	"github.com/robert-at-pretension-io/logicsim/internal/stepper"
)

// DefaultMaxInputs bounds the table size to 2^16 rows.
const DefaultMaxInputs = 16

// ErrTooManyInputs is returned for circuits wider than the configured limit.
var ErrTooManyInputs = errors.New("truthtable: too many inputs")

// Row is one input vector and the outputs it produces.
type Row struct {
	Inputs  []uint32
	Outputs []uint32
	// Settled is false when evaluation hit the pass cap.
	Settled bool
}

// Table is the complete truth table of a circuit. Inputs and outputs are the
// labels of the primary inputs and outputs in stepper order.
type Table struct {
	Inputs  []string
	Outputs []string
	Rows    []Row
}

// Mismatch is a row on which two circuits disagree.
type Mismatch struct {
	Row    int
	Inputs []uint32
	Output string
	Got    uint32
	Want   uint32
}

func (m Mismatch) String() string {
	return fmt.Sprintf("row %d %v: %s = %d, want %d", m.Row, m.Inputs, m.Output, m.Got, m.Want)
}

type options struct {
	ev        *eval.Evaluator
	workers   int
	maxInputs int
}

type Option func(*options)

func WithEvaluator(ev *eval.Evaluator) Option { return func(o *options) { o.ev = ev } }

// WithWorkers sets the number of concurrent evaluations; n <= 0 uses
// GOMAXPROCS.
func WithWorkers(n int) Option { return func(o *options) { o.workers = n } }

func WithMaxInputs(n int) Option { return func(o *options) { o.maxInputs = n } }

func newOptions(opts []Option) options {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.ev == nil {
		o.ev = eval.New()
	}
	if o.workers <= 0 {
		o.workers = runtime.GOMAXPROCS(0)
	}
	if o.maxInputs <= 0 {
		o.maxInputs = DefaultMaxInputs
	}
	return o
}

func labels(g *circuit.Graph, idx []int) []string {
	out := make([]string, len(idx))
	for k, i := range idx {
		out[k] = g.Nodes[i].Label
		if out[k] == "" {
			out[k] = g.Nodes[i].ID
		}
	}
	return out
}

// Build computes the truth table of g.
func Build(ctx context.Context, g *circuit.Graph, opts ...Option) (*Table, error) {
	o := newOptions(opts)
	ins, outs := g.Inputs(), g.Outputs()
	if len(ins) > o.maxInputs {
		return nil, errors.Wrapf(ErrTooManyInputs, "%d inputs, limit %d", len(ins), o.maxInputs)
	}
	vectors, err := stepper.Vectors(len(ins))
	if err != nil {
		return nil, err
	}

	t := &Table{Inputs: labels(g, ins), Outputs: labels(g, outs), Rows: make([]Row, len(vectors))}
	chunk := (len(vectors) + o.workers - 1) / o.workers

	eg, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(vectors); start += chunk {
		start, end := start, start+chunk
		if end > len(vectors) {
			end = len(vectors)
		}
		eg.Go(func() error {
			work := g.Clone()
			for r := start; r < end; r++ {
				for k, i := range ins {
					work.Nodes[i].Value = vectors[r][k]
				}
				rep, err := o.ev.Evaluate(ctx, work)
				if err != nil {
					return errors.Wrapf(err, "row %d", r)
				}
				row := Row{Inputs: vectors[r], Outputs: make([]uint32, len(outs)), Settled: rep.Quiescent}
				for k, i := range outs {
					row.Outputs[k], _ = work.Nodes[i].Signal.Scalar()
				}
				t.Rows[r] = row
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, errors.Wrap(err, "truthtable")
	}
	return t, nil
}

// Compare builds the tables of got and want and returns every output on
// which they differ. The circuits must have the same number of inputs and
// outputs; labels are not compared.
func Compare(ctx context.Context, got, want *circuit.Graph, opts ...Option) ([]Mismatch, error) {
	if a, b := len(got.Inputs()), len(want.Inputs()); a != b {
		return nil, errors.Errorf("truthtable: %d inputs vs %d", a, b)
	}
	if a, b := len(got.Outputs()), len(want.Outputs()); a != b {
		return nil, errors.Errorf("truthtable: %d outputs vs %d", a, b)
	}

	var tg, tw *Table
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		tg, err = Build(ctx, got, opts...)
		return err
	})
	eg.Go(func() (err error) {
		tw, err = Build(ctx, want, opts...)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var out []Mismatch
	for r := range tw.Rows {
		for k, v := range tw.Rows[r].Outputs {
			if g := tg.Rows[r].Outputs[k]; g != v {
				out = append(out, Mismatch{Row: r, Inputs: tw.Rows[r].Inputs, Output: tw.Outputs[k], Got: g, Want: v})
			}
		}
	}
	return out, nil
}

// Write prints the table as aligned text columns.
func (t *Table) Write(w io.Writer) error {
	cols := append(append([]string(nil), t.Inputs...), t.Outputs...)
	widths := make([]int, len(cols))
	for k, c := range cols {
		widths[k] = len(c)
	}
	cells := make([][]string, len(t.Rows))
	for r, row := range t.Rows {
		vals := append(append([]uint32(nil), row.Inputs...), row.Outputs...)
		cells[r] = make([]string, len(vals))
		for k, v := range vals {
			cells[r][k] = fmt.Sprint(v)
			if !row.Settled && k == len(vals)-1 {
				cells[r][k] += "*"
			}
			if l := len(cells[r][k]); l > widths[k] {
				widths[k] = l
			}
		}
	}

	line := func(vals []string) string {
		var b strings.Builder
		for k, v := range vals {
			if k == len(t.Inputs) && k > 0 {
				b.WriteString("| ")
			}
			fmt.Fprintf(&b, "%-*s ", widths[k], v)
		}
		return strings.TrimRight(b.String(), " ") + "\n"
	}
	if _, err := io.WriteString(w, line(cols)); err != nil {
		return err
	}
	for _, c := range cells {
		if _, err := io.WriteString(w, line(c)); err != nil {
			return err
		}
	}
	return nil
}
