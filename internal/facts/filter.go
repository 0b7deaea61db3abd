package facts

// FilterTablesByFiles returns a new Tables object containing only rows whose file
// or path is present in the provided file set.
func FilterTablesByFiles(tables Tables, files map[string]bool) Tables {
	out := emptyTables()
	if len(files) == 0 {
		return out
	}

	out.Files = keep(tables.Files, files, func(r FileRow) string { return r.Path })
	out.Nodes = keep(tables.Nodes, files, func(r NodeRow) string { return r.File })
	out.Edges = keep(tables.Edges, files, func(r EdgeRow) string { return r.File })
	out.Modules = keep(tables.Modules, files, func(r ModuleRow) string { return r.File })
	out.ModulePins = keep(tables.ModulePins, files, func(r ModulePinRow) string { return r.File })
	out.Ports = keep(tables.Ports, files, func(r PortRow) string { return r.File })
	out.Signals = keep(tables.Signals, files, func(r SignalRow) string { return r.File })
	out.Assigns = keep(tables.Assigns, files, func(r AssignRow) string { return r.File })
	out.Operands = keep(tables.Operands, files, func(r OperandRow) string { return r.File })

	return out
}

func keep[T any](rows []T, files map[string]bool, file func(T) string) []T {
	out := []T{}
	for _, row := range rows {
		if files[file(row)] {
			out = append(out, row)
		}
	}
	return out
}

// FilterDeltaByFiles returns a new Delta containing only rows for the specified files.
func FilterDeltaByFiles(delta Delta, files map[string]bool) Delta {
	return Delta{
		Added:   FilterTablesByFiles(delta.Added, files),
		Removed: FilterTablesByFiles(delta.Removed, files),
	}
}
