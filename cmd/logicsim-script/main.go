// logicsim-script prints the syntax tree of a module program and whether it
// compiles within the supported subset. With -run it also executes the
// program once on the given inputs.
//
//	logicsim-script -run "A=3,B=5" -outputs Sum,Carry adder.js
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/robert-at-pretension-io/logicsim/internal/script"
)

func main() {
	run := flag.String("run", "", "comma-separated NAME=value inputs to run the program with")
	outputs := flag.String("outputs", "", "comma-separated output names")
	timeout := flag.Duration("timeout", script.DefaultTimeout, "run time budget")
	flag.Parse()

	var source []byte
	var err error
	switch flag.NArg() {
	case 0:
		source, err = io.ReadAll(os.Stdin)
	case 1:
		source, err = os.ReadFile(flag.Arg(0))
	default:
		fmt.Fprintln(os.Stderr, "Usage: logicsim-script [-run A=1,B=0 -outputs Y] [file]")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	tree, err := script.Parse(ctx, string(source))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer tree.Close()
	dump(tree.RootNode(), source, 0)

	if _, err := script.Compile(ctx, string(source)); err != nil {
		fmt.Printf("\ncompile: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\ncompile: ok")

	if *run == "" {
		return
	}
	inputs, err := parseInputs(*run)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	var names []string
	if *outputs != "" {
		names = strings.Split(*outputs, ",")
	}
	start := time.Now()
	got, err := script.Eval(ctx, string(source), *timeout, inputs, names)
	if err != nil {
		fmt.Printf("run: %v\n", err)
		os.Exit(1)
	}
	keys := make([]string, 0, len(got))
	for k := range got {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s = %d\n", k, got[k])
	}
	fmt.Printf("run: ok (%s)\n", time.Since(start))
}

// dump prints one node per line, indented by depth, with its field name
// and the source text of leaves.
func dump(n *sitter.Node, source []byte, depth int) {
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		field := n.FieldNameForChild(i)
		line := strings.Repeat("  ", depth) + child.Type()
		if field != "" {
			line = strings.Repeat("  ", depth) + field + ": " + child.Type()
		}
		if child.ChildCount() == 0 {
			line += fmt.Sprintf(" %q", child.Content(source))
		}
		if child.IsMissing() {
			line += " (missing)"
		} else if child.IsError() {
			line += " (error)"
		}
		fmt.Printf("[%d:%d] %s\n", child.StartPoint().Row+1, child.StartPoint().Column+1, line)
		dump(child, source, depth+1)
	}
}

func parseInputs(s string) (map[string]uint32, error) {
	inputs := make(map[string]uint32)
	for _, kv := range strings.Split(s, ",") {
		name, val, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok {
			return nil, fmt.Errorf("input %q: want NAME=value", kv)
		}
		v, err := strconv.ParseUint(val, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		inputs[name] = uint32(v)
	}
	return inputs, nil
}
