package session

import (
	"os"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/robert-at-pretension-io/logicsim/internal/eval"
)

type tickEvent struct {
	Tick       uint64   `json:"tick"`
	Kind       string   `json:"kind"`
	Vector     []uint32 `json:"vector,omitempty"`
	Passes     int      `json:"passes"`
	Quiescent  bool     `json:"quiescent"`
	Faults     int      `json:"faults,omitempty"`
	Status     string   `json:"status"`
	StartMS    float64  `json:"start_ms"`
	DurationMS float64  `json:"duration_ms"`
	EndMS      float64  `json:"end_ms"`
}

// timingRecorder appends one JSON line per tick. A nil or disabled recorder
// ignores every call.
type timingRecorder struct {
	enabled bool
	start   time.Time
	mu      sync.Mutex
	file    *os.File
	enc     *json.Encoder
	err     error
}

func newTimingRecorder(start time.Time, path string) *timingRecorder {
	tr := &timingRecorder{start: start}
	if path == "" {
		return tr
	}
	f, err := os.Create(path)
	if err != nil {
		tr.err = err
		return tr
	}
	tr.enabled = true
	tr.file = f
	tr.enc = json.NewEncoder(f)
	return tr
}

func (tr *timingRecorder) Err() error {
	if tr == nil {
		return nil
	}
	return tr.err
}

func (tr *timingRecorder) Close() error {
	if tr == nil || tr.file == nil {
		return nil
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	err := tr.file.Close()
	tr.file, tr.enc, tr.enabled = nil, nil, false
	return err
}

func (tr *timingRecorder) record(tick uint64, kind string, vector []uint32, rep *eval.Report, err error, start time.Time, d time.Duration) {
	if tr == nil || !tr.enabled {
		return
	}
	startMS := durationToMS(start.Sub(tr.start))
	durationMS := durationToMS(d)
	ev := tickEvent{
		Tick:       tick,
		Kind:       kind,
		Vector:     vector,
		Status:     "ok",
		StartMS:    startMS,
		DurationMS: durationMS,
		EndMS:      startMS + durationMS,
	}
	if rep != nil {
		ev.Passes, ev.Quiescent, ev.Faults = rep.Passes, rep.Quiescent, len(rep.Faults)
	}
	if err != nil {
		ev.Status = "error"
	}
	tr.mu.Lock()
	if tr.enc != nil {
		if werr := tr.enc.Encode(ev); werr != nil && tr.err == nil {
			tr.err = werr
		}
	}
	tr.mu.Unlock()
}

func durationToMS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000_000.0
}
