package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
	"github.com/robert-at-pretension-io/logicsim/internal/config"
	"github.com/robert-at-pretension-io/logicsim/internal/eval"
	"github.com/robert-at-pretension-io/logicsim/internal/hdl"
	"github.com/robert-at-pretension-io/logicsim/internal/script"
	"github.com/robert-at-pretension-io/logicsim/internal/validator"
)

// loadGraph reads a circuit document, or imports an HDL file, by extension.
func loadGraph(path string, log logrus.FieldLogger) (*circuit.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		v, err := validator.New()
		if err != nil {
			return nil, err
		}
		if errs := v.ValidationErrors(data); len(errs) > 0 {
			for _, e := range errs {
				log.WithField("file", path).Error(e)
			}
			return nil, fmt.Errorf("%s: not a valid circuit document", path)
		}
		g, err := circuit.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for _, err := range g.Check() {
			log.WithField("file", path).Warn(err)
		}
		return g, nil
	}

	d, ok := hdl.DialectForPath(path)
	if !ok {
		return nil, fmt.Errorf("%s: unsupported file type", path)
	}
	g, rep, err := hdl.Parse(d, string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, w := range rep.Warnings {
		log.WithField("file", path).Warn(w.String())
	}
	if g.Name == "" {
		g.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return g, nil
}

// newEvaluator builds the evaluator described by cfg.
func newEvaluator(cfg *config.Config, log logrus.FieldLogger) (*eval.Evaluator, error) {
	policy, err := eval.ParseWidthPolicy(cfg.Simulation.WidthPolicy)
	if err != nil {
		return nil, err
	}
	rt := &script.Runtime{Timeout: cfg.ScriptTimeout(), MaxSteps: cfg.Script.MaxSteps}
	return eval.New(
		eval.WithWidthPolicy(policy),
		eval.WithMaxPasses(cfg.Simulation.MaxPasses),
		eval.WithRuntime(rt),
		eval.WithLogger(log),
	), nil
}

// exportOptions builds hdl.Options from cfg; name overrides the module name.
func exportOptions(cfg *config.Config, ev *eval.Evaluator, name string) hdl.Options {
	if name == "" {
		name = cfg.Export.ModuleName
	}
	return hdl.Options{
		ModuleName:  name,
		HeaderWidth: cfg.Export.HeaderWidth,
		MaxInputs:   cfg.Export.TestbenchMaxInputs,
		Evaluator:   ev,
	}
}

func logReport(log logrus.FieldLogger, rep *eval.Report) {
	for _, f := range rep.Faults {
		log.WithFields(logrus.Fields{"node": f.Node, "module": f.Module}).Warn(f.Err)
	}
	for _, id := range rep.Missing {
		log.WithField("node", id).Warn("module definition missing")
	}
	if !rep.Quiescent {
		log.WithField("passes", rep.Passes).Warn("circuit did not settle")
	}
}
