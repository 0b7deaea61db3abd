package session

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
	"github.com/robert-at-pretension-io/logicsim/internal/eval"
)

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// andGraph is a 2-input AND with inputs a (top) and b (bottom).
func andGraph(t *testing.T) *circuit.Graph {
	t.Helper()
	g := circuit.New("and")
	for _, n := range []circuit.Node{
		{ID: "a", Kind: circuit.PrimaryInput, Position: circuit.Position{Y: 0}},
		{ID: "b", Kind: circuit.PrimaryInput, Position: circuit.Position{Y: 100}},
		{ID: "g", Kind: circuit.Gate, Gate: circuit.AND, Arity: 2},
		{ID: "y", Kind: circuit.PrimaryOutput},
	} {
		_, err := g.AddNode(n)
		require.NoError(t, err)
	}
	for _, e := range []circuit.Edge{
		{ID: "e1", Source: "a", Target: "g", TargetPin: circuit.InputPin(0)},
		{ID: "e2", Source: "b", Target: "g", TargetPin: circuit.InputPin(1)},
		{ID: "e3", Source: "g", Target: "y"},
	} {
		require.NoError(t, g.AddEdge(e))
	}
	return g
}

func output(t *testing.T, g *circuit.Graph, id string) uint32 {
	t.Helper()
	n := g.Node(id)
	require.NotNil(t, n)
	v, ok := n.Signal.Scalar()
	require.True(t, ok, "%s has no scalar signal: %v", id, n.Signal)
	return v
}

func TestStepCyclesVectors(t *testing.T) {
	s := New(andGraph(t), WithLogger(quiet()))
	ctx := context.Background()

	var got []uint32
	for i := 0; i < 5; i++ {
		rep, err := s.Step(ctx)
		require.NoError(t, err)
		assert.True(t, rep.Quiescent)
		got = append(got, output(t, s.Snapshot(), "y"))
	}
	assert.Equal(t, []uint32{0, 0, 0, 1, 0}, got)
	assert.Equal(t, uint64(1), s.Counter())
	assert.Equal(t, uint64(5), s.Ticks())
}

func TestStartStop(t *testing.T) {
	s := New(andGraph(t), WithLogger(quiet()), WithInterval(time.Millisecond))
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx), "starting twice is a no-op")
	assert.True(t, s.Running())
	require.Eventually(t, func() bool { return s.Ticks() >= 3 }, 2*time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.Running())
	assert.Equal(t, uint64(0), s.Counter())

	snap := s.Snapshot()
	assert.False(t, snap.Node("y").Signal.Known(), "outputs reset to unknown")
	assert.False(t, snap.Node("g").Signal.Known())
	for _, e := range snap.Edges {
		assert.Equal(t, circuit.Floating, e.Activity)
	}

	ticks := s.Ticks()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, ticks, s.Ticks(), "no ticks after Stop")
}

func TestStartStopsWithContext(t *testing.T) {
	s := New(andGraph(t), WithLogger(quiet()), WithInterval(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	require.Eventually(t, func() bool { return s.Ticks() >= 1 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, s.Stop())
	assert.False(t, s.Running())
}

func TestReentrantCallsRejected(t *testing.T) {
	var stepErr, stopErr, mutateErr error
	var snap *circuit.Graph
	var s *Session
	s = New(andGraph(t), WithLogger(quiet()), OnTick(func(tk Tick) {
		_, stepErr = s.Step(context.Background())
		stopErr = s.Stop()
		mutateErr = s.SetInput("a", 1)
		snap = s.Snapshot()
	}))

	_, err := s.Evaluate(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, stepErr, ErrReentrant)
	assert.ErrorIs(t, stopErr, ErrReentrant)
	assert.ErrorIs(t, mutateErr, ErrReentrant)
	require.NotNil(t, snap)
	assert.Len(t, snap.Nodes, 4)
}

func TestFaultsReported(t *testing.T) {
	g := circuit.New("faulty")
	g.AddModule(circuit.ModuleDef{ID: "bad", Name: "Bad", Inputs: []string{"A"}, Outputs: []string{"Y"}, Code: "outputs.Y = ;"})
	_, err := g.AddNode(circuit.Node{ID: "u", Kind: circuit.CustomModule, ModuleID: "bad"})
	require.NoError(t, err)
	_, err = g.AddNode(circuit.Node{ID: "v", Kind: circuit.CustomModule, ModuleID: "gone"})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	var faults []eval.ScriptFault
	s := New(g, WithLogger(quiet()), WithMetrics(m), OnFault(func(f eval.ScriptFault) {
		faults = append(faults, f)
	}))

	rep, err := s.Evaluate(context.Background())
	require.NoError(t, err)
	require.Len(t, faults, 1)
	assert.Equal(t, "u", faults[0].Node)
	assert.Equal(t, []string{"v"}, rep.Missing)

	bus, ok := s.Snapshot().Node("u").Signal.Bus()
	require.True(t, ok)
	v, _ := bus.Get("Y")
	assert.Equal(t, uint32(0), v, "faulted outputs read as zero")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ticks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Faults))
	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestMutate(t *testing.T) {
	s := New(andGraph(t), WithLogger(quiet()))
	ctx := context.Background()

	err := s.Mutate(func(g *circuit.Graph) error {
		g.RemoveEdge("e3")
		return g.SetValue("g", 1)
	})
	require.Error(t, err, "gates have no authored value")
	assert.Len(t, s.Snapshot().Edges, 3, "failed mutation leaves the graph untouched")

	require.NoError(t, s.SetInput("a", 1))
	require.NoError(t, s.SetInput("b", 1))
	_, err = s.Evaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), output(t, s.Snapshot(), "y"))

	require.NoError(t, s.Stop())
	assert.Equal(t, uint32(1), s.Snapshot().Node("a").Value, "authored values survive Stop")
}

func TestMutateWhileRunning(t *testing.T) {
	var evaluations atomic.Int32
	s := New(andGraph(t), WithLogger(quiet()), WithInterval(time.Hour), OnTick(func(tk Tick) {
		if tk.Vector.Values == nil {
			evaluations.Add(1)
		}
	}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.Eventually(t, func() bool { return s.Ticks() >= 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, s.Mutate(func(g *circuit.Graph) error {
		return g.SetValue("a", 1)
	}))
	assert.Equal(t, int32(1), evaluations.Load(), "running session re-evaluates after a mutation")
}

func TestTimingLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timing.jsonl")
	s := New(andGraph(t), WithLogger(quiet()), WithTimingLog(path))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := s.Step(ctx)
		require.NoError(t, err)
	}
	_, err := s.Evaluate(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []tickEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev tickEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	require.Len(t, events, 3)
	assert.Equal(t, "step", events[0].Kind)
	assert.Equal(t, []uint32{0, 1}, events[1].Vector)
	assert.Equal(t, "evaluate", events[2].Kind)
	assert.Equal(t, uint64(3), events[2].Tick)
	for _, ev := range events {
		assert.Equal(t, "ok", ev.Status)
		assert.True(t, ev.Quiescent)
		assert.GreaterOrEqual(t, ev.EndMS, ev.StartMS)
	}
}

func TestStopWhileEvaluating(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	s := New(andGraph(t), WithLogger(log), WithInterval(time.Millisecond))
	require.NoError(t, s.Start(context.Background()))

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			_, _ = s.Evaluate(context.Background())
		}
	}()
	require.Eventually(t, func() bool { return s.Ticks() >= 5 }, 2*time.Second, time.Millisecond)
	require.NoError(t, s.Stop())
	close(done)
	wg.Wait()

	var stopped *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "session stopped" {
			stopped = e
		}
	}
	require.NotNil(t, stopped)
	ticks, ok := stopped.Data["ticks"].(uint64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, ticks, uint64(5))
}
