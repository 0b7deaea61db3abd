package circuit

import (
	"bytes"
	"math"
	"sort"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// Node type tags of the circuit document format.
const (
	TagInput    = "inputNode"
	TagConstant = "constantNode"
	TagGate     = "logicGate"
	TagOutput   = "outputNode"
	TagModule   = "customScriptNode"
)

var kindTags = map[NodeKind]string{
	PrimaryInput:   TagInput,
	ConstantSource: TagConstant,
	Gate:           TagGate,
	PrimaryOutput:  TagOutput,
	CustomModule:   TagModule,
}

// Document is the persisted form of a graph. It is the only interchange
// format between the core and the editor and is also the save file format.
type Document struct {
	Name    string      `json:"name,omitempty"`
	Nodes   []DocNode   `json:"nodes"`
	Edges   []DocEdge   `json:"edges"`
	Modules []DocModule `json:"modules,omitempty"`
}

type DocPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type DocNode struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Position DocPosition `json:"position"`
	Data     DocData     `json:"data"`
}

// DocData is the type-specific payload of a node. Value holds the authored
// value of sources and the computed value of every other node: null, a
// number, or an object mapping output names to numbers.
type DocData struct {
	Label    string          `json:"label,omitempty"`
	Type     string          `json:"type,omitempty"`
	Inputs   int             `json:"inputs,omitempty"`
	ModuleID string          `json:"moduleId,omitempty"`
	Width    int             `json:"width,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
}

type DocEdge struct {
	ID           string  `json:"id"`
	Source       string  `json:"source"`
	SourceHandle *string `json:"sourceHandle"`
	Target       string  `json:"target"`
	TargetHandle *string `json:"targetHandle"`
	Activity     string  `json:"activity,omitempty"`
}

type DocModule struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
	Code    string   `json:"code"`
}

// Decode parses a circuit document into a graph.
func Decode(data []byte) (*Graph, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode circuit document")
	}
	return FromDocument(&doc)
}

// FromDocument converts a decoded document into a graph. Edges whose
// endpoints do not exist are kept as they are.
func FromDocument(doc *Document) (*Graph, error) {
	g := New(doc.Name)
	for _, m := range doc.Modules {
		g.AddModule(ModuleDef{ID: m.ID, Name: m.Name, Inputs: m.Inputs, Outputs: m.Outputs, Code: m.Code})
	}
	for _, dn := range doc.Nodes {
		n, err := docNode(g, &dn)
		if err != nil {
			return nil, err
		}
		if _, err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, de := range doc.Edges {
		e := Edge{ID: de.ID, Source: de.Source, Target: de.Target}
		if de.SourceHandle != nil {
			e.SourcePin = *de.SourceHandle
		}
		if de.TargetHandle != nil {
			e.TargetPin = *de.TargetHandle
		}
		switch de.Activity {
		case "high":
			e.Activity = High
		case "low":
			e.Activity = Low
		}
		// dangling edges are kept; Check and the evaluator report them
		g.Edges = append(g.Edges, e)
	}
	return g, nil
}

func docNode(g *Graph, dn *DocNode) (Node, error) {
	n := Node{
		ID:       dn.ID,
		Label:    dn.Data.Label,
		Position: Position{X: dn.Position.X, Y: dn.Position.Y},
		Width:    dn.Data.Width,
	}
	switch dn.Type {
	case TagInput, TagConstant:
		n.Kind = PrimaryInput
		if dn.Type == TagConstant {
			n.Kind = ConstantSource
		}
		v, err := authoredValue(dn.Data.Value)
		if err != nil {
			return n, errors.Wrapf(err, "node %s", dn.ID)
		}
		n.Value = v
		n.Signal = Scalar(v)
	case TagGate:
		n.Kind = Gate
		k, err := ParseGateKind(dn.Data.Type)
		if err != nil {
			return n, errors.Wrapf(err, "node %s", dn.ID)
		}
		n.Gate = k
		n.Arity = dn.Data.Inputs
		switch {
		case k == NOT:
			n.Arity = 1
		case n.Arity == 0:
			n.Arity = MinArity
		}
		n.Signal = computedValue(dn.Data.Value, nil)
	case TagOutput:
		n.Kind = PrimaryOutput
		n.Signal = computedValue(dn.Data.Value, nil)
	case TagModule:
		n.Kind = CustomModule
		n.ModuleID = dn.Data.ModuleID
		var order []string
		if m := g.Module(n.ModuleID); m != nil {
			order = m.Outputs
		}
		n.Signal = computedValue(dn.Data.Value, order)
	default:
		return n, errors.Errorf("node %s: unknown node type %q", dn.ID, dn.Type)
	}
	return n, nil
}

// authoredValue accepts a number or a numeric string and truncates it to an
// unsigned 32-bit integer the way the editor does (ToUint32).
func authoredValue(raw json.RawMessage) (uint32, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return ToUint32(f), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, errors.Errorf("invalid value %s", raw)
	}
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Errorf("invalid value %q", s)
	}
	return ToUint32(f), nil
}

func computedValue(raw json.RawMessage, order []string) Signal {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Unknown()
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return Scalar(ToUint32(f))
	}
	var m map[string]float64
	if err := json.Unmarshal(raw, &m); err != nil || len(m) == 0 {
		return Unknown()
	}
	names := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, o := range order {
		if _, ok := m[o]; ok {
			names = append(names, o)
			seen[o] = true
		}
	}
	var rest []string
	for k := range m {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	names = append(names, rest...)
	bus := make(Bus, len(names))
	for i, k := range names {
		bus[i] = BusEntry{Name: k, Value: ToUint32(m[k])}
	}
	return NamedBus(bus)
}

// ToUint32 converts a number with the ToUint32 semantics of the editor:
// NaN and infinities map to 0, everything else is truncated modulo 2^32.
func ToUint32(f float64) uint32 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Trunc(f)
	f = math.Mod(f, 4294967296)
	if f < 0 {
		f += 4294967296
	}
	return uint32(f)
}

// ToDocument converts g to its persisted form, including computed values
// and edge activity.
func ToDocument(g *Graph) *Document {
	doc := &Document{
		Name:  g.Name,
		Nodes: make([]DocNode, 0, len(g.Nodes)),
		Edges: make([]DocEdge, 0, len(g.Edges)),
	}
	for _, m := range g.Modules {
		doc.Modules = append(doc.Modules, DocModule{ID: m.ID, Name: m.Name, Inputs: m.Inputs, Outputs: m.Outputs, Code: m.Code})
	}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		dn := DocNode{
			ID:       n.ID,
			Type:     kindTags[n.Kind],
			Position: DocPosition{X: n.Position.X, Y: n.Position.Y},
			Data:     DocData{Label: n.Label, Width: n.Width},
		}
		switch n.Kind {
		case PrimaryInput, ConstantSource:
			dn.Data.Value = json.RawMessage(strconv.FormatUint(uint64(n.Value), 10))
		case Gate:
			dn.Data.Type = n.Gate.String()
			dn.Data.Inputs = n.Arity
			dn.Data.Value = signalJSON(n.Signal)
		case CustomModule:
			dn.Data.ModuleID = n.ModuleID
			dn.Data.Value = signalJSON(n.Signal)
		default:
			dn.Data.Value = signalJSON(n.Signal)
		}
		doc.Nodes = append(doc.Nodes, dn)
	}
	for _, e := range g.Edges {
		de := DocEdge{ID: e.ID, Source: e.Source, Target: e.Target, Activity: e.Activity.String()}
		if e.SourcePin != "" {
			sp := e.SourcePin
			de.SourceHandle = &sp
		}
		if e.TargetPin != "" {
			tp := e.TargetPin
			de.TargetHandle = &tp
		}
		doc.Edges = append(doc.Edges, de)
	}
	return doc
}

// Encode writes g as an indented circuit document.
func Encode(g *Graph) ([]byte, error) {
	data, err := json.MarshalIndent(ToDocument(g), "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode circuit document")
	}
	return data, nil
}

func signalJSON(s Signal) json.RawMessage {
	switch s.Kind() {
	case SignalScalar:
		v, _ := s.Scalar()
		return json.RawMessage(strconv.FormatUint(uint64(v), 10))
	case SignalBus:
		b, _ := s.Bus()
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, e := range b {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(e.Name)
			if err != nil {
				return json.RawMessage("null")
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.WriteString(strconv.FormatUint(uint64(e.Value), 10))
		}
		buf.WriteByte('}')
		return json.RawMessage(buf.Bytes())
	default:
		return json.RawMessage("null")
	}
}
