package facts

import "strconv"

// Delta captures added and removed fact rows between two snapshots.
type Delta struct {
	Added   Tables `json:"added"`
	Removed Tables `json:"removed"`
}

// Empty reports whether the snapshots were identical.
func (d Delta) Empty() bool {
	return d.Added.Len() == 0 && d.Removed.Len() == 0
}

// Len returns the total number of rows.
func (t Tables) Len() int {
	return len(t.Files) + len(t.Nodes) + len(t.Edges) + len(t.Modules) + len(t.ModulePins) +
		len(t.Ports) + len(t.Signals) + len(t.Assigns) + len(t.Operands)
}

// ComputeDelta computes row-level additions and removals between two snapshots.
func ComputeDelta(prev, next Tables) Delta {
	return Delta{
		Added:   diffTables(prev, next),
		Removed: diffTables(next, prev),
	}
}

func diffTables(from, to Tables) Tables {
	out := emptyTables()

	out.Files = diffRows(from.Files, to.Files, func(r FileRow) string {
		return r.Path + "|" + r.Kind
	})
	out.Nodes = diffRows(from.Nodes, to.Nodes, func(r NodeRow) string {
		return r.File + "|" + r.ID + "|" + r.Kind + "|" + r.Label + "|" + r.Gate + "|" + intKey(r.Arity) + "|" + r.Module + "|" + intKey(r.Width)
	})
	out.Edges = diffRows(from.Edges, to.Edges, func(r EdgeRow) string {
		return r.File + "|" + r.ID + "|" + r.Source + "|" + r.SourcePin + "|" + r.Target + "|" + r.TargetPin
	})
	out.Modules = diffRows(from.Modules, to.Modules, func(r ModuleRow) string {
		return r.File + "|" + r.ID + "|" + r.Name
	})
	out.ModulePins = diffRows(from.ModulePins, to.ModulePins, func(r ModulePinRow) string {
		return r.File + "|" + r.Module + "|" + r.Name + "|" + r.Direction + "|" + intKey(r.Index)
	})
	out.Ports = diffRows(from.Ports, to.Ports, func(r PortRow) string {
		return r.File + "|" + r.Module + "|" + r.Name + "|" + r.Direction + "|" + intKey(r.Width) + "|" + intKey(r.Line)
	})
	out.Signals = diffRows(from.Signals, to.Signals, func(r SignalRow) string {
		return r.File + "|" + r.Name
	})
	out.Assigns = diffRows(from.Assigns, to.Assigns, func(r AssignRow) string {
		return r.File + "|" + r.Target + "|" + r.Kind + "|" + r.Gate + "|" + r.Expr + "|" + intKey(r.Line)
	})
	out.Operands = diffRows(from.Operands, to.Operands, func(r OperandRow) string {
		return r.File + "|" + r.Target + "|" + intKey(r.Index) + "|" + r.Name + "|" + intKey(r.Line)
	})

	return out
}

func emptyTables() Tables {
	return Tables{
		Files:      []FileRow{},
		Nodes:      []NodeRow{},
		Edges:      []EdgeRow{},
		Modules:    []ModuleRow{},
		ModulePins: []ModulePinRow{},
		Ports:      []PortRow{},
		Signals:    []SignalRow{},
		Assigns:    []AssignRow{},
		Operands:   []OperandRow{},
	}
}

func diffRows[T any](from, to []T, key func(T) string) []T {
	fromSet := make(map[string]bool, len(from))
	for _, row := range from {
		fromSet[key(row)] = true
	}
	diff := []T{}
	for _, row := range to {
		if !fromSet[key(row)] {
			diff = append(diff, row)
		}
	}
	return diff
}

func intKey(v int) string { return strconv.Itoa(v) }
