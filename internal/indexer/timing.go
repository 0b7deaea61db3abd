package indexer

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// timingEvent is one JSONL line: a pipeline stage or one file's load.
type timingEvent struct {
	Phase      string  `json:"phase"`
	Kind       string  `json:"kind"`
	File       string  `json:"file,omitempty"`
	Status     string  `json:"status,omitempty"`
	StartMS    float64 `json:"start_ms"`
	DurationMS float64 `json:"duration_ms"`
	EndMS      float64 `json:"end_ms"`
}

// timingRecorder is a no-op when created without a path.
type timingRecorder struct {
	start time.Time
	mu    sync.Mutex
	file  *os.File
	enc   *json.Encoder
	err   error
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
	tr.file = f
	tr.enc = json.NewEncoder(f)
	return tr
}

func (tr *timingRecorder) Err() error { return tr.err }

func (tr *timingRecorder) Close() {
	if tr.file != nil {
		_ = tr.file.Close()
	}
}

func (tr *timingRecorder) record(ev timingEvent, start time.Time, d time.Duration) {
	if tr.enc == nil {
		return
	}
	ev.StartMS = durationToMS(start.Sub(tr.start))
	ev.DurationMS = durationToMS(d)
	ev.EndMS = ev.StartMS + ev.DurationMS
	tr.mu.Lock()
	_ = tr.enc.Encode(ev)
	tr.mu.Unlock()
}

func (tr *timingRecorder) RecordStage(phase string, start time.Time, d time.Duration, status string) {
	tr.record(timingEvent{Phase: phase, Kind: "stage", Status: status}, start, d)
}

func (tr *timingRecorder) RecordFile(phase, file, status string, start time.Time, d time.Duration) {
	tr.record(timingEvent{Phase: phase, Kind: "file", File: file, Status: status}, start, d)
}

func durationToMS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000_000.0
}

// resolveTimingPath picks the JSONL destination: LOGICSIM_TIMING_JSONL wins,
// then TimingPath, then timing.jsonl in the project when timing is on.
func (idx *Indexer) resolveTimingPath(projectDir string) string {
	if envPath := os.Getenv("LOGICSIM_TIMING_JSONL"); envPath != "" {
		return envPath
	}
	if idx.Timing && idx.TimingPath != "" {
		return idx.TimingPath
	}
	if idx.Timing || envBool("LOGICSIM_TIMING") {
		return filepath.Join(projectDir, "timing.jsonl")
	}
	return ""
}
