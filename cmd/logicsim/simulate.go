package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
	"github.com/robert-at-pretension-io/logicsim/internal/eval"
	"github.com/robert-at-pretension-io/logicsim/internal/session"
	"github.com/robert-at-pretension-io/logicsim/internal/stepper"
)

// runEval evaluates a circuit once with its authored input values and writes
// the annotated document.
func runEval(args []string) error {
	fs, g := newFlagSet("eval")
	out := fs.String("o", "", "write the evaluated document to file (default: stdout)")
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
	rep, err := ev.Evaluate(context.Background(), graph)
	if err != nil {
		return err
	}
	logReport(log, rep)
	log.WithFields(logrus.Fields{"passes": rep.Passes, "quiescent": rep.Quiescent}).Debug("evaluated")

	data, err := circuit.Encode(graph)
	if err != nil {
		return err
	}
	return writeOutput(*out, data)
}

// runStep applies the first n input vectors in counting order and prints the
// outputs after each.
func runStep(args []string) error {
	fs, g := newFlagSet("step")
	n := fs.Int("n", 0, "number of vectors (default: all 2^inputs)")
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
	count := *n
	if count <= 0 {
		inputs := len(graph.Inputs())
		if inputs > cfg.Export.TestbenchMaxInputs {
			return fmt.Errorf("step: %d inputs; pass -n to bound the run", inputs)
		}
		count = 1 << inputs
	}

	st := stepper.New()
	for i := 0; i < count; i++ {
		vec, rep, err := st.Step(context.Background(), graph, ev)
		if err != nil {
			return err
		}
		logReport(log, rep)
		fmt.Printf("%4d  %s -> %s\n", vec.Index, formatVector(graph, vec), formatOutputs(graph))
	}
	return nil
}

// runRun drives a session on its timer until interrupted, the duration
// elapses or the tick limit is reached. With metrics.addr set, the session
// metrics are served at /metrics.
func runRun(args []string) error {
	fs, g := newFlagSet("run")
	dur := fs.Duration("for", 0, "stop after this long (default: until interrupted)")
	ticks := fs.Uint64("ticks", 0, "stop after this many ticks")
	quiet := fs.Bool("q", false, "do not print every tick")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *dur > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *dur)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics server")
			}
		}()
		defer srv.Close()
		log.WithField("addr", cfg.Metrics.Addr).Info("serving metrics")
	}

	s := session.New(graph,
		session.WithEvaluator(ev),
		session.WithInterval(cfg.TickInterval()),
		session.WithLogger(log),
		session.WithMetrics(session.NewMetrics(reg)),
		session.WithTimingLog(os.Getenv("LOGICSIM_TICK_JSONL")),
		session.OnTick(func(t session.Tick) {
			if !*quiet {
				fmt.Printf("%6d  %s -> %s\n", t.Index, formatVector(t.Graph, t.Vector), formatOutputs(t.Graph))
			}
			if *ticks > 0 && t.Index >= *ticks {
				cancel()
			}
		}),
		session.OnFault(func(f eval.ScriptFault) {
			log.WithFields(logrus.Fields{"node": f.Node, "module": f.Module}).Warn(f.Err)
		}),
	)
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	n := s.Ticks()
	if err := s.Close(); err != nil {
		return err
	}
	log.WithField("ticks", n).Info("session stopped")
	return nil
}

func formatVector(g *circuit.Graph, v stepper.Vector) string {
	if len(v.Inputs) == 0 {
		return "-"
	}
	parts := make([]string, len(v.Inputs))
	for k, id := range v.Inputs {
		name := id
		if n := g.Node(id); n != nil && n.Label != "" {
			name = n.Label
		}
		parts[k] = fmt.Sprintf("%s=%d", name, v.Values[k])
	}
	return strings.Join(parts, " ")
}

func formatOutputs(g *circuit.Graph) string {
	outs := g.Outputs()
	if len(outs) == 0 {
		return "-"
	}
	parts := make([]string, len(outs))
	for k, i := range outs {
		n := &g.Nodes[i]
		name := n.Label
		if name == "" {
			name = n.ID
		}
		parts[k] = fmt.Sprintf("%s=%s", name, n.Signal)
	}
	return strings.Join(parts, " ")
}
