package main

import (
	"context"
	"fmt"
	"os"

	"github.com/robert-at-pretension-io/logicsim/internal/truthtable"
)

// runTable prints the truth table of a circuit.
func runTable(args []string) error {
	fs, g := newFlagSet("table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := oneArg(fs)
	if err != nil {
		return err
	}
	cfg, log, err := g.setup(path)
	if err != nil {
		return err
	}

	graph, err := loadGraph(path, log)
	if err != nil {
		return err
	}
	ev, err := newEvaluator(cfg, log)
	if err != nil {
		return err
	}
	t, err := truthtable.Build(context.Background(), graph,
		truthtable.WithEvaluator(ev),
		truthtable.WithMaxInputs(cfg.Export.TestbenchMaxInputs))
	if err != nil {
		return err
	}
	return t.Write(os.Stdout)
}

// runVerify compares two circuits row by row; typically a circuit against
// its own HDL export.
func runVerify(args []string) error {
	fs, g := newFlagSet("verify")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("verify: expected two circuits, got %d", fs.NArg())
	}
	gotPath, wantPath := fs.Arg(0), fs.Arg(1)
	cfg, log, err := g.setup(gotPath)
	if err != nil {
		return err
	}

	got, err := loadGraph(gotPath, log)
	if err != nil {
		return err
	}
	want, err := loadGraph(wantPath, log)
	if err != nil {
		return err
	}
	ev, err := newEvaluator(cfg, log)
	if err != nil {
		return err
	}
	mismatches, err := truthtable.Compare(context.Background(), got, want,
		truthtable.WithEvaluator(ev),
		truthtable.WithMaxInputs(cfg.Export.TestbenchMaxInputs))
	if err != nil {
		return err
	}
	if len(mismatches) == 0 {
		fmt.Println("PASS: truth tables match")
		return nil
	}
	for _, m := range mismatches {
		fmt.Println(m)
	}
	fmt.Printf("FAIL: %d mismatching rows\n", len(mismatches))
	return errFailed
}
