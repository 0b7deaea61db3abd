// Package session owns one graph and drives it: a timer that steps the
// primary inputs through every combination, manual steps and evaluations,
// and serialized edits while the timer runs.
//
// All graph access goes through a mutex. Callbacks (OnTick, OnFault) run on
// the goroutine holding it; a call back into the session from there is
// rejected with ErrReentrant instead of deadlocking. Snapshot is the
// exception: the lock holder may read the graph it already owns.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
	"github.com/robert-at-pretension-io/logicsim/internal/eval"
	"github.com/robert-at-pretension-io/logicsim/internal/stepper"
)

const tracerName = "github.com/robert-at-pretension-io/logicsim/internal/session"

// DefaultInterval is the timer period of a running session.
const DefaultInterval = 100 * time.Millisecond

// ErrReentrant is returned when a callback running inside a tick calls back
// into the session.
var ErrReentrant = errors.New("session: re-entrant call from a tick callback")

// Tick describes one completed step or evaluation.
type Tick struct {
	Index    uint64
	Vector   stepper.Vector
	Report   *eval.Report
	Duration time.Duration
	// Graph is the live graph. It is only valid during the callback.
	Graph *circuit.Graph
}

type Option func(*Session)

func WithEvaluator(ev *eval.Evaluator) Option { return func(s *Session) { s.ev = ev } }

// WithInterval sets the timer period. d <= 0 keeps DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option { return func(s *Session) { s.log = l } }

func WithMetrics(m *Metrics) Option { return func(s *Session) { s.metrics = m } }

// WithTimingLog writes one JSON line per tick to path.
func WithTimingLog(path string) Option { return func(s *Session) { s.timingPath = path } }

// OnTick registers a callback run after every step and evaluation.
func OnTick(fn func(Tick)) Option { return func(s *Session) { s.onTick = fn } }

// OnFault registers a callback run for every module program fault.
func OnFault(fn func(eval.ScriptFault)) Option { return func(s *Session) { s.onFault = fn } }

// Session is safe for concurrent use.
type Session struct {
	mu    sync.Mutex
	owner atomic.Int64 // goroutine holding mu, 0 when free

	g     *circuit.Graph
	ev    *eval.Evaluator
	step  *stepper.Stepper
	ticks uint64

	interval   time.Duration
	log        logrus.FieldLogger
	metrics    *Metrics
	timingPath string
	timing     *timingRecorder
	onTick     func(Tick)
	onFault    func(eval.ScriptFault)

	// ctl serializes Start and Stop; cancel and done are guarded by it.
	ctl     sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
}

// New returns a stopped session owning g.
func New(g *circuit.Graph, opts ...Option) *Session {
	s := &Session{
		g:        g,
		step:     stepper.New(),
		interval: DefaultInterval,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.ev == nil {
		s.ev = eval.New(eval.WithLogger(s.log))
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	s.timing = newTimingRecorder(time.Now(), s.timingPath)
	if err := s.timing.Err(); err != nil {
		s.log.WithError(err).WithField("path", s.timingPath).Warn("timing log disabled")
	}
	return s
}

func (s *Session) lock() error {
	id := goid.Get()
	if s.owner.Load() == id {
		return ErrReentrant
	}
	s.mu.Lock()
	s.owner.Store(id)
	return nil
}

func (s *Session) unlock() {
	s.owner.Store(0)
	s.mu.Unlock()
}

func (s *Session) reentrant() bool { return s.owner.Load() == goid.Get() }

// Running reports whether the timer is running.
func (s *Session) Running() bool { return s.running.Load() }

// Start runs the timer until ctx is done or Stop is called. The first step
// runs immediately. Starting a running session does nothing.
func (s *Session) Start(ctx context.Context) error {
	if s.reentrant() {
		return ErrReentrant
	}
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if s.done != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)
	s.metrics.Running.Set(1)
	s.log.WithField("interval", s.interval).Debug("session started")
	go s.loop(ctx, s.done)
	return nil
}

func (s *Session) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		if _, err := s.Step(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Warn("tick failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Stop halts the timer, waits for the running tick to finish, and resets
// the graph: non-source signals become Unknown, edges floating, and the
// stepper starts over. Authored source values are kept.
func (s *Session) Stop() error {
	if s.reentrant() {
		return ErrReentrant
	}
	s.ctl.Lock()
	defer s.ctl.Unlock()
	stopped := false
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel, s.done = nil, nil
		s.running.Store(false)
		s.metrics.Running.Set(0)
		stopped = true
	}

	if err := s.lock(); err != nil {
		return err
	}
	defer s.unlock()
	if stopped {
		s.log.WithField("ticks", s.ticks).Debug("session stopped")
	}
	s.g.ResetSignals()
	s.step.Reset()
	return nil
}

// Close stops the session and closes the timing log.
func (s *Session) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	return s.timing.Close()
}

// Step applies the next input vector and evaluates the graph.
func (s *Session) Step(ctx context.Context) (*eval.Report, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.unlock()
	return s.tick(ctx, true)
}

// Evaluate evaluates the graph with the current input values.
func (s *Session) Evaluate(ctx context.Context) (*eval.Report, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.unlock()
	return s.tick(ctx, false)
}

func (s *Session) tick(ctx context.Context, advance bool) (*eval.Report, error) {
	kind := "evaluate"
	if advance {
		kind = "step"
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "session."+kind)
	defer span.End()

	start := time.Now()
	var (
		vec stepper.Vector
		rep *eval.Report
		err error
	)
	if advance {
		vec, rep, err = s.step.Step(ctx, s.g, s.ev)
	} else {
		rep, err = s.ev.Evaluate(ctx, s.g)
	}
	elapsed := time.Since(start)
	s.ticks++
	s.timing.record(s.ticks, kind, vec.Values, rep, err, start, elapsed)
	span.SetAttributes(attribute.Int64("tick", int64(s.ticks)), attribute.Int("nodes", len(s.g.Nodes)))
	if err != nil {
		fail(span, err)
		return rep, errors.Wrapf(err, "session: %s", kind)
	}
	span.SetAttributes(attribute.Int("passes", rep.Passes), attribute.Bool("quiescent", rep.Quiescent))

	s.metrics.observe(rep, elapsed)
	s.report(rep)
	if s.onTick != nil {
		s.onTick(Tick{Index: s.ticks, Vector: vec, Report: rep, Duration: elapsed, Graph: s.g})
	}
	return rep, nil
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (s *Session) report(rep *eval.Report) {
	for _, id := range rep.Missing {
		s.log.WithFields(logrus.Fields{"tick": s.ticks, "node": id}).Warn("module definition missing")
	}
	if s.onFault == nil {
		return
	}
	for _, f := range rep.Faults {
		s.onFault(f)
	}
}

// Mutate applies fn to the graph. fn works on a copy, so an error leaves
// the graph untouched. A running session re-evaluates right away.
func (s *Session) Mutate(fn func(*circuit.Graph) error) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.unlock()

	next := s.g.Clone()
	if err := fn(next); err != nil {
		return errors.Wrap(err, "session: mutate")
	}
	s.g = next
	if s.Running() {
		if _, err := s.tick(context.Background(), false); err != nil {
			return err
		}
	}
	return nil
}

// SetInput sets the authored value of a source node.
func (s *Session) SetInput(id string, v uint32) error {
	return s.Mutate(func(g *circuit.Graph) error { return g.SetValue(id, v) })
}

// Snapshot returns a copy of the graph.
func (s *Session) Snapshot() *circuit.Graph {
	if s.reentrant() {
		return s.g.Clone()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g.Clone()
}

// Ticks returns the number of steps and evaluations run so far.
func (s *Session) Ticks() uint64 {
	if s.reentrant() {
		return s.ticks
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// Counter returns the index of the next input vector.
func (s *Session) Counter() uint64 {
	if s.reentrant() {
		return s.step.Counter()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step.Counter()
}
