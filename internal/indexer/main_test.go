package indexer

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/logicsim/internal/config"
)

const halfAdderJSON = `{
  "name": "half adder",
  "nodes": [
    {"id": "a", "type": "inputNode", "position": {"x": 0, "y": 0}, "data": {"label": "A", "value": 0}},
    {"id": "b", "type": "inputNode", "position": {"x": 0, "y": 80}, "data": {"label": "B", "value": 0}},
    {"id": "x", "type": "logicGate", "position": {"x": 120, "y": 0}, "data": {"type": "XOR", "inputs": 2}},
    {"id": "n", "type": "logicGate", "position": {"x": 120, "y": 80}, "data": {"type": "AND", "inputs": 2}},
    {"id": "s", "type": "outputNode", "position": {"x": 240, "y": 0}, "data": {"label": "S"}},
    {"id": "c", "type": "outputNode", "position": {"x": 240, "y": 80}, "data": {"label": "C"}}
  ],
  "edges": [
    {"id": "e1", "source": "a", "target": "x", "targetHandle": "input-0"},
    {"id": "e2", "source": "b", "target": "x", "targetHandle": "input-1"},
    {"id": "e3", "source": "a", "target": "n", "targetHandle": "input-0"},
    {"id": "e4", "source": "b", "target": "n", "targetHandle": "input-1"},
    {"id": "e5", "source": "x", "target": "s", "targetHandle": "input-0"},
    {"id": "e6", "source": "n", "target": "c", "targetHandle": "input-0"}
  ]
}`

// floatingJSON has an AND gate with its second input unconnected.
const floatingJSON = `{
  "nodes": [
    {"id": "a", "type": "inputNode", "position": {"x": 0, "y": 0}, "data": {"label": "A", "value": 1}},
    {"id": "g", "type": "logicGate", "position": {"x": 100, "y": 0}, "data": {"type": "AND", "inputs": 2}},
    {"id": "y", "type": "outputNode", "position": {"x": 200, "y": 0}, "data": {"label": "Y"}}
  ],
  "edges": [
    {"id": "e1", "source": "a", "target": "g", "targetHandle": "input-0"},
    {"id": "e2", "source": "g", "target": "y", "targetHandle": "input-0"}
  ]
}`

const adderVerilog = `module adder(input a, input b, output s);
  assign s = a ^ b;
endmodule
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func testConfig(cacheDir string, cacheEnabled bool) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DRC.Cache.Enabled = cacheEnabled
	if cacheDir != "" {
		cfg.DRC.Cache.Dir = cacheDir
	}
	return cfg
}

func newTestIndexer(cfg *config.Config) (*Indexer, *bytes.Buffer) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	out := &bytes.Buffer{}
	return &Indexer{Config: cfg, Out: out, Log: l}, out
}

func runIndexerForTest(t *testing.T, idx *Indexer, root string) *CheckResult {
	t.Helper()
	res, err := idx.Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}
