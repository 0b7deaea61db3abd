package main

import (
	"context"
	"fmt"

	"github.com/robert-at-pretension-io/logicsim/internal/indexer"
)

// runCheck runs the design rules over a project directory or one file. It
// fails when any error-level violation or unreadable file is found.
func runCheck(args []string) error {
	fs, g := newFlagSet("check")
	jsonOut := fs.Bool("json", false, "print the result as JSON")
	timing := fs.Bool("timing", false, "write stage timings to timing.jsonl")
	timingPath := fs.String("timing-path", "", "timing output file")
	clearCache := fs.Bool("clear-cache", false, "remove the check cache first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := "."
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	cfg, log, err := g.setup(path)
	if err != nil {
		return err
	}

	if *clearCache {
		dir, err := indexer.ClearCache(path, cfg)
		if err != nil {
			return err
		}
		log.WithField("dir", dir).Debug("cache cleared")
	}

	idx := &indexer.Indexer{
		Config:     cfg,
		Verbose:    g.verbose,
		JSONOutput: *jsonOut,
		Timing:     *timing || *timingPath != "",
		TimingPath: *timingPath,
		Log:        log,
	}
	res, err := idx.Run(context.Background(), path)
	if err != nil {
		return err
	}
	if res.Failed() {
		if !*jsonOut {
			fmt.Println("\nFAILED")
		}
		return errFailed
	}
	return nil
}
