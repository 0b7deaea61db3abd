package circuit

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// Graph is the arena holding a circuit.
type Graph struct {
	Name    string
	Nodes   []Node
	Edges   []Edge
	Modules []ModuleDef

	index map[string]int
	// indexed is len(Nodes) when index was last known to match it.
	indexed int
}

// New returns an empty graph.
func New(name string) *Graph {
	return &Graph{Name: name, index: make(map[string]int)}
}

func (g *Graph) reindex() {
	g.index = make(map[string]int, len(g.Nodes))
	for i := range g.Nodes {
		if _, dup := g.index[g.Nodes[i].ID]; !dup {
			g.index[g.Nodes[i].ID] = i
		}
	}
	g.indexed = len(g.Nodes)
}

// Index returns the arena index of the node with the given id, or -1.
// The id map is rebuilt when a cached entry is stale or Nodes changed length
// since the last rebuild; a miss on an up-to-date map costs one lookup.
func (g *Graph) Index(id string) int {
	i, ok := g.index[id]
	if ok && i < len(g.Nodes) && g.Nodes[i].ID == id {
		return i
	}
	if !ok && g.index != nil && g.indexed == len(g.Nodes) {
		return -1
	}
	g.reindex()
	if i, ok := g.index[id]; ok {
		return i
	}
	return -1
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	if i := g.Index(id); i >= 0 {
		return &g.Nodes[i]
	}
	return nil
}

// Module returns the module definition with the given id, or nil.
func (g *Graph) Module(id string) *ModuleDef {
	for i := range g.Modules {
		if g.Modules[i].ID == id {
			return &g.Modules[i]
		}
	}
	return nil
}

// AddNode appends n and returns its index.
func (g *Graph) AddNode(n Node) (int, error) {
	if n.ID == "" {
		return -1, errors.New("node without id")
	}
	if g.Index(n.ID) >= 0 {
		return -1, errors.Errorf("duplicate node id %q", n.ID)
	}
	if n.Kind == Gate && !n.Gate.ValidArity(n.Arity) {
		return -1, errors.Errorf("node %s: invalid arity %d for %s gate", n.ID, n.Arity, n.Gate)
	}
	g.Nodes = append(g.Nodes, n)
	i := len(g.Nodes) - 1
	g.index[n.ID] = i
	g.indexed = len(g.Nodes)
	return i, nil
}

// AddEdge appends e after checking that both endpoints exist.
func (g *Graph) AddEdge(e Edge) error {
	if g.Index(e.Source) < 0 {
		return errors.Errorf("edge %s: unknown source node %q", e.ID, e.Source)
	}
	if g.Index(e.Target) < 0 {
		return errors.Errorf("edge %s: unknown target node %q", e.ID, e.Target)
	}
	g.Edges = append(g.Edges, e)
	return nil
}

// AddModule registers a module definition, replacing any definition with the
// same id.
func (g *Graph) AddModule(m ModuleDef) {
	for i := range g.Modules {
		if g.Modules[i].ID == m.ID {
			g.Modules[i] = m
			return
		}
	}
	g.Modules = append(g.Modules, m)
}

// RemoveNode deletes a node and every edge touching it.
func (g *Graph) RemoveNode(id string) bool {
	i := g.Index(id)
	if i < 0 {
		return false
	}
	g.Nodes = append(g.Nodes[:i], g.Nodes[i+1:]...)
	edges := g.Edges[:0]
	for _, e := range g.Edges {
		if e.Source != id && e.Target != id {
			edges = append(edges, e)
		}
	}
	g.Edges = edges
	g.reindex()
	return true
}

// RemoveEdge deletes the edge with the given id.
func (g *Graph) RemoveEdge(id string) bool {
	for i := range g.Edges {
		if g.Edges[i].ID == id {
			g.Edges = append(g.Edges[:i], g.Edges[i+1:]...)
			return true
		}
	}
	return false
}

// SetValue edits the authored value of a source node.
func (g *Graph) SetValue(id string, v uint32) error {
	n := g.Node(id)
	if n == nil {
		return errors.Errorf("unknown node %q", id)
	}
	if !n.Kind.IsSource() {
		return errors.Errorf("node %s is a %s, not a source", id, n.Kind)
	}
	n.Value = v
	return nil
}

// IncomingEdges returns the indices into Edges of every edge targeting node i.
func (g *Graph) IncomingEdges(i int) []int {
	id := g.Nodes[i].ID
	var out []int
	for j := range g.Edges {
		if g.Edges[j].Target == id {
			out = append(out, j)
		}
	}
	return out
}

func (g *Graph) ordered(kind NodeKind) []int {
	var idx []int
	for i := range g.Nodes {
		if g.Nodes[i].Kind == kind {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		pa, pb := g.Nodes[idx[a]].Position, g.Nodes[idx[b]].Position
		if pa.Y != pb.Y {
			return pa.Y < pb.Y
		}
		return pa.X < pb.X
	})
	return idx
}

// Inputs returns the indices of the primary inputs, ordered by vertical
// position (then horizontal position, then insertion order).
func (g *Graph) Inputs() []int { return g.ordered(PrimaryInput) }

// Outputs returns the indices of the primary outputs in the same order as Inputs.
func (g *Graph) Outputs() []int { return g.ordered(PrimaryOutput) }

// ResetSignals clears every computed value except the authored values of
// source nodes, and marks every edge floating.
func (g *Graph) ResetSignals() {
	for i := range g.Nodes {
		if !g.Nodes[i].Kind.IsSource() {
			g.Nodes[i].Signal = Unknown()
		}
	}
	for i := range g.Edges {
		g.Edges[i].Activity = Floating
	}
}

// Clone returns a deep copy of g.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		Name:    g.Name,
		Nodes:   make([]Node, len(g.Nodes)),
		Edges:   make([]Edge, len(g.Edges)),
		Modules: make([]ModuleDef, len(g.Modules)),
	}
	copy(c.Nodes, g.Nodes)
	copy(c.Edges, g.Edges)
	for i, m := range g.Modules {
		m.Inputs = append([]string(nil), m.Inputs...)
		m.Outputs = append([]string(nil), m.Outputs...)
		c.Modules[i] = m
	}
	c.reindex()
	return c
}

// Empty reports whether the graph has no nodes.
func (g *Graph) Empty() bool { return len(g.Nodes) == 0 }

// Check verifies the structural invariants of the graph and returns one
// StructuralError per violation.
func (g *Graph) Check() []error {
	var errs []error
	seen := make(map[string]bool, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if seen[n.ID] {
			errs = append(errs, &StructuralError{Node: n.ID, Msg: "duplicate node id"})
		}
		seen[n.ID] = true
		switch n.Kind {
		case Gate:
			if !n.Gate.ValidArity(n.Arity) {
				errs = append(errs, &StructuralError{Node: n.ID, Msg: "invalid arity for " + n.Gate.String() + " gate"})
			}
		case CustomModule:
			if g.Module(n.ModuleID) == nil {
				errs = append(errs, &StructuralError{Node: n.ID, Msg: "missing module definition " + n.ModuleID})
			}
		}
	}
	for _, e := range g.Edges {
		src, dst := g.Index(e.Source), g.Index(e.Target)
		if src < 0 {
			errs = append(errs, &StructuralError{Edge: e.ID, Msg: "missing source node " + e.Source})
		}
		if dst < 0 {
			errs = append(errs, &StructuralError{Edge: e.ID, Msg: "missing target node " + e.Target})
			continue
		}
		if n := &g.Nodes[dst]; n.Kind == Gate {
			if pin, ok := ParseInputPin(e.TargetPin); !ok || pin >= n.Arity {
				errs = append(errs, &StructuralError{Edge: e.ID, Msg: "target pin " + e.TargetPin + " is not an input of " + n.ID})
			}
		}
	}
	return errs
}

// Fingerprint hashes the structure of the graph: nodes, wiring and module
// programs. Authored values and computed signals are not part of it.
func (g *Graph) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [8]byte
	str := func(s string) {
		_, _ = h.WriteString(s)
		_, _ = h.Write([]byte{0})
	}
	num := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	for _, n := range g.Nodes {
		str(n.ID)
		num(uint64(n.Kind))
		num(uint64(n.Gate))
		num(uint64(n.Arity))
		num(uint64(n.Width))
		num(math.Float64bits(n.Position.Y))
		str(n.ModuleID)
	}
	for _, e := range g.Edges {
		str(e.Source)
		str(e.SourcePin)
		str(e.Target)
		str(e.TargetPin)
	}
	for _, m := range g.Modules {
		str(m.ID)
		for _, p := range m.Inputs {
			str(p)
		}
		num(uint64(len(m.Inputs)))
		for _, p := range m.Outputs {
			str(p)
		}
		num(uint64(len(m.Outputs)))
		str(m.Code)
	}
	return h.Sum64()
}
