package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
	"github.com/robert-at-pretension-io/logicsim/internal/hdl"
)

// runImport turns a Verilog or VHDL file into a circuit document.
func runImport(args []string) error {
	fs, g := newFlagSet("import")
	out := fs.String("o", "", "write the document to file (default: stdout)")
	dialect := fs.String("dialect", "", "verilog or vhdl (default: from the extension)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := oneArg(fs)
	if err != nil {
		return err
	}
	_, log, err := g.setup(path)
	if err != nil {
		return err
	}

	d, ok := hdl.DialectForPath(path)
	if *dialect != "" {
		if d, err = hdl.ParseDialect(*dialect); err != nil {
			return err
		}
	} else if !ok {
		return fmt.Errorf("import: cannot tell the dialect of %s; pass -dialect", path)
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	graph, rep, err := hdl.Parse(d, string(text))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, w := range rep.Warnings {
		log.WithField("file", path).Warn(w.String())
	}
	if graph.Name == "" {
		graph.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	log.WithField("module", rep.Module).Debugf("imported %d inputs, %d gates, %d outputs", rep.Inputs, rep.Gates, rep.Outputs)

	data, err := circuit.Encode(graph)
	if err != nil {
		return err
	}
	return writeOutput(*out, data)
}

// runExport writes a circuit as Verilog or VHDL.
func runExport(args []string) error {
	fs, g := newFlagSet("export")
	out := fs.String("o", "", "write the HDL to file (default: stdout)")
	dialect := fs.String("dialect", "", "verilog or vhdl (default: export.dialect, or the -o extension)")
	name := fs.String("name", "", "module/entity name (default: export.moduleName, then the circuit name)")
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

	target := *dialect
	if target == "" {
		if d, ok := hdl.DialectForPath(*out); ok {
			target = d.String()
		} else {
			target = cfg.Export.Dialect
		}
	}
	d, err := hdl.ParseDialect(target)
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
	text, err := hdl.Generate(d, graph, exportOptions(cfg, ev, *name))
	if err != nil {
		return err
	}
	return writeOutput(*out, []byte(text))
}

// runTestbench writes a self-checking Verilog testbench for a circuit.
func runTestbench(args []string) error {
	fs, g := newFlagSet("testbench")
	out := fs.String("o", "", "write the testbench to file (default: stdout)")
	name := fs.String("name", "", "module name of the design under test")
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
	text, err := hdl.GenerateTestbench(context.Background(), graph, exportOptions(cfg, ev, *name))
	if err != nil {
		return err
	}
	return writeOutput(*out, []byte(text))
}
