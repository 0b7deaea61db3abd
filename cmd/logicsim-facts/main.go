// logicsim-facts dumps the fact tables the design rules run on, for a
// project directory or a single file. With -delta-from it also writes the
// rows added and removed since an earlier dump.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/logicsim/internal/config"
	"github.com/robert-at-pretension-io/logicsim/internal/facts"
	"github.com/robert-at-pretension-io/logicsim/internal/indexer"
	"github.com/robert-at-pretension-io/logicsim/internal/validator"
)

// fileList collects repeated -only flags.
type fileList []string

func (f *fileList) String() string { return fmt.Sprint(*f) }

func (f *fileList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func main() {
	output := flag.String("output", "", "write facts JSON to file (default: stdout)")
	flag.StringVar(output, "o", "", "write facts JSON to file (shorthand)")
	deltaFrom := flag.String("delta-from", "", "previous facts JSON to compute delta from")
	deltaOut := flag.String("delta-out", "", "write delta JSON to file (requires --delta-from)")
	configPath := flag.String("c", "", "configuration file")
	var only fileList
	flag.Var(&only, "only", "keep only rows of this file (repeatable)")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: logicsim-facts [-o file] [-only file]... [-delta-from prev.json -delta-out delta.json] <path>")
		os.Exit(1)
	}
	path := args[0]

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	idx := &indexer.Indexer{Config: cfg, Log: log}
	tables, parseErrs, err := idx.Facts(context.Background(), path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	for _, e := range parseErrs {
		log.WithField("file", e.File).Warn(e.Message)
	}

	var keep map[string]bool
	if len(only) > 0 {
		keep = make(map[string]bool, len(only))
		for _, f := range only {
			keep[f] = true
			if abs, err := filepath.Abs(f); err == nil {
				keep[abs] = true
			}
			keep[filepath.Join(path, f)] = true
		}
		tables = facts.FilterTablesByFiles(tables, keep)
	}

	v, err := validator.NewFactsValidator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := v.Validate(tables); err != nil {
		fmt.Fprintf(os.Stderr, "Error: fact tables violate their contract: %v\n", err)
		os.Exit(1)
	}

	if *output != "" {
		if err := writeJSON(*output, tables); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing facts: %v\n", err)
			os.Exit(1)
		}
	} else {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(tables); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding facts: %v\n", err)
			os.Exit(1)
		}
	}

	if *deltaFrom != "" || *deltaOut != "" {
		if *deltaFrom == "" || *deltaOut == "" {
			fmt.Fprintln(os.Stderr, "Error: --delta-from and --delta-out must be used together")
			os.Exit(1)
		}
		prev, err := readTables(*deltaFrom)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading delta-from: %v\n", err)
			os.Exit(1)
		}
		delta := facts.ComputeDelta(prev, tables)
		if keep != nil {
			delta = facts.FilterDeltaByFiles(delta, keep)
		}
		if err := writeJSON(*deltaOut, delta); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing delta: %v\n", err)
			os.Exit(1)
		}
	}

	if len(parseErrs) > 0 {
		os.Exit(1)
	}
}

func readTables(path string) (facts.Tables, error) {
	f, err := os.Open(path)
	if err != nil {
		return facts.Tables{}, err
	}
	defer func() { _ = f.Close() }()

	var tables facts.Tables
	if err := json.NewDecoder(f).Decode(&tables); err != nil {
		return facts.Tables{}, err
	}
	return tables, nil
}

func writeJSON(path string, data interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
