// logicsim simulates digital logic circuits and translates them to and from
// Verilog and VHDL.
//
// The pipeline of every command is the same: load a circuit document (or
// import HDL), check it against the CUE contract, evaluate it, and write the
// result back out. `check` runs the design rules over a whole project.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/logicsim/internal/config"
)

type command struct {
	name  string
	usage string
	run   func(args []string) error
}

var commands = []command{
	{"init", "init [-format json|yaml|toml]", runInit},
	{"eval", "eval [-o out.json] <circuit.json>", runEval},
	{"step", "step [-n vectors] <circuit>", runStep},
	{"run", "run [-for duration] [-ticks n] <circuit.json>", runRun},
	{"import", "import [-o out.json] <file.v|file.vhd>", runImport},
	{"export", "export [-dialect verilog|vhdl] [-name module] [-o file] <circuit.json>", runExport},
	{"testbench", "testbench [-name module] [-o file] <circuit.json>", runTestbench},
	{"check", "check [-json] [-timing] [-clear-cache] <path>", runCheck},
	{"table", "table <circuit>", runTable},
	{"verify", "verify <circuit> <circuit>", runVerify},
}

// errFailed marks a command that already reported its failure.
var errFailed = errors.New("failed")

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	switch name {
	case "-h", "--help", "help":
		printUsage()
		return
	}
	for _, c := range commands {
		if c.name != name {
			continue
		}
		if err := c.run(os.Args[2:]); err != nil {
			if !errors.Is(err, errFailed) {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			os.Exit(1)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
	printUsage()
	os.Exit(1)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: logicsim <command> [options] <args>")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %s\n", c.usage)
	}
	fmt.Fprintln(os.Stderr, `
Every command accepts:
  -c file           configuration file (default: logicsim.{json,yaml,toml} next to the input)
  -v                verbose (debug) logging

A <circuit> is a circuit document (.json) or an HDL file (.v, .sv, .vhd, .vhdl).
Run 'logicsim init' to create a default configuration file.`)
}

// globals are the flags shared by every command.
type globals struct {
	configPath string
	verbose    bool
}

func newFlagSet(name string) (*flag.FlagSet, *globals) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	g := &globals{}
	fs.StringVar(&g.configPath, "c", "", "configuration file")
	fs.BoolVar(&g.verbose, "v", false, "verbose logging")
	return fs, g
}

// setup loads the configuration for target and builds the logger.
func (g *globals) setup(target string) (*config.Config, *logrus.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.LoadFile(g.configPath)
	} else {
		dir := target
		if info, statErr := os.Stat(target); statErr == nil && !info.IsDir() {
			dir = filepath.Dir(target)
		}
		cfg, err = config.Load(dir)
	}
	if err != nil {
		return nil, nil, err
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if g.verbose {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)
	return cfg, log, nil
}

// writeOutput writes data to path, or to stdout when path is empty.
func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func oneArg(fs *flag.FlagSet) (string, error) {
	if fs.NArg() != 1 {
		return "", fmt.Errorf("%s: expected one file argument, got %d", fs.Name(), fs.NArg())
	}
	return fs.Arg(0), nil
}

func runInit(args []string) error {
	fs, _ := newFlagSet("init")
	format := fs.String("format", "json", "configuration format: json, yaml or toml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	configPath := "logicsim." + *format
	switch *format {
	case "json", "yaml", "toml":
	default:
		return fmt.Errorf("init: unknown format %q", *format)
	}

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config file %s already exists. Overwrite? [y/N]: ", configPath)
		var response string
		_, _ = fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := config.DefaultConfig().Save(configPath); err != nil {
		return fmt.Errorf("creating config: %w", err)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println("\nEdit this file to configure:")
	fmt.Println("  - Simulation width policy and tick interval")
	fmt.Println("  - Module program time and step budget")
	fmt.Println("  - Export dialect and module name")
	fmt.Println("  - Design rule severities")
	return nil
}
