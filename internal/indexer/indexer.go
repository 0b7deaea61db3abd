// Package indexer implements `logicsim check`: it loads every circuit
// document and HDL source of a project, reduces them to fact tables, and
// runs the design rules over the merged tables.
//
// The indexer trusts its producers. A circuit document that fails the CUE
// contract is reported as a parse error rather than repaired, and fact
// tables that fail the facts contract abort the run: that is a bug in
// internal/facts, not in the user's files.
package indexer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
	"github.com/robert-at-pretension-io/logicsim/internal/config"
	"github.com/robert-at-pretension-io/logicsim/internal/extractor"
	"github.com/robert-at-pretension-io/logicsim/internal/facts"
	"github.com/robert-at-pretension-io/logicsim/internal/policy"
	"github.com/robert-at-pretension-io/logicsim/internal/validator"
)

// Indexer checks a project. The zero value checks with the configuration
// found next to the checked path and prints to stdout.
type Indexer struct {
	// Config is loaded from the checked path when nil
	Config *config.Config

	// Verbose prints per-file progress and a timing summary
	Verbose bool

	// JSONOutput prints the result as JSON instead of text
	JSONOutput bool

	// Timing output (JSONL)
	Timing     bool
	TimingPath string

	Out io.Writer
	Log logrus.FieldLogger
}

// CheckResult is the structured result of a check.
type CheckResult struct {
	Violations  []policy.Violation `json:"violations"`
	Summary     policy.Summary     `json:"summary"`
	Stats       Stats              `json:"stats"`
	Files       []FileResult       `json:"files"`
	ParseErrors []ParseError       `json:"parse_errors,omitempty"`
}

// Failed reports whether the check found an error-level violation or a file
// that could not be loaded.
func (r *CheckResult) Failed() bool {
	return r.Summary.Errors > 0 || len(r.ParseErrors) > 0
}

// Stats counts what was loaded.
type Stats struct {
	Files    int `json:"files"`
	Circuits int `json:"circuits"`
	Sources  int `json:"sources"`
	Nodes    int `json:"nodes"`
	Edges    int `json:"edges"`
	Modules  int `json:"modules"`
	Ports    int `json:"ports"`
	Signals  int `json:"signals"`
	Assigns  int `json:"assigns"`
}

// FileResult provides per-file violation counts
type FileResult struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Errors   int    `json:"errors"`
	Warnings int    `json:"warnings"`
	Info     int    `json:"info"`
}

// ParseError represents a file that failed to load
type ParseError struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// loaded is the outcome of loading one file.
type loaded struct {
	file   string
	tables facts.Tables
	status string
	err    error
}

func (idx *Indexer) out() io.Writer {
	if idx.Out == nil {
		return os.Stdout
	}
	return idx.Out
}

func (idx *Indexer) log() logrus.FieldLogger {
	if idx.Log == nil {
		return logrus.StandardLogger()
	}
	return idx.Log
}

func (idx *Indexer) printf(format string, args ...interface{}) {
	if idx.JSONOutput {
		return
	}
	fmt.Fprintf(idx.out(), format, args...)
}

// Run checks rootPath, which is either a project directory or a single
// file, prints the report, and returns the result.
func (idx *Indexer) Run(ctx context.Context, rootPath string) (*CheckResult, error) {
	runStart := time.Now()
	log := idx.log()

	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", rootPath, err)
	}
	projectDir := rootPath
	if !info.IsDir() {
		projectDir = filepath.Dir(rootPath)
	}

	timing := newTimingRecorder(runStart, idx.resolveTimingPath(projectDir))
	if err := timing.Err(); err != nil {
		log.WithError(err).Warn("timing output disabled")
	}
	defer timing.Close()

	if idx.Config == nil {
		cfg, err := config.Load(projectDir)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		idx.Config = cfg
	}
	cfg := idx.Config

	// 1. Scan
	stepStart := time.Now()
	files, err := idx.sources(rootPath, info.IsDir())
	if err != nil {
		return nil, err
	}
	idx.printf("Found %d files\n", len(files))
	scanDuration := time.Since(stepStart)
	timing.RecordStage("scan", stepStart, scanDuration, "")

	// 2. Load every file in parallel, through the cache when enabled
	stepStart = time.Now()
	var cache *factsCache
	cacheDir := ""
	if cfg.DRC.Cache.Enabled {
		cacheDir = resolveCacheDir(projectDir, cfg)
		cache = newFactsCache(cacheDir, factsVersion)
		if err := cache.Load(); err != nil {
			log.WithError(err).Warn("cache disabled")
			cache = nil
		}
	}
	results, err := idx.loadAll(ctx, files, cache, timing)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		if err := cache.Save(); err != nil {
			log.WithError(err).Warn("cache index not saved")
		}
	}

	result := &CheckResult{Violations: []policy.Violation{}, Files: []FileResult{}}
	parts := make([]facts.Tables, 0, len(results))
	changed := make(map[string]bool)
	for i, r := range results {
		if idx.Verbose {
			idx.printf("  [%d/%d] %s (%s)\n", i+1, len(results), r.file, r.status)
		}
		if r.err != nil {
			result.ParseErrors = append(result.ParseErrors, ParseError{File: r.file, Message: r.err.Error()})
			continue
		}
		if r.status != statusCacheHit {
			changed[r.file] = true
		}
		parts = append(parts, r.tables)
	}
	tables := facts.Merge(parts...)
	result.Stats = statsFor(tables)
	loadDuration := time.Since(stepStart)
	timing.RecordStage("load", stepStart, loadDuration, "")

	// 3. Validate the policy input against the facts contract
	stepStart = time.Now()
	input := policy.Input{Tables: tables, Config: policy.Settings{Rules: cfg.DRC.Rules}}
	fv, err := validator.NewFactsValidator()
	if err != nil {
		return nil, fmt.Errorf("facts validator: %w", err)
	}
	if err := fv.ValidateInput(input); err != nil {
		return nil, fmt.Errorf("policy input: %w", err)
	}
	validateDuration := time.Since(stepStart)
	timing.RecordStage("validate", stepStart, validateDuration, "")

	// 4. Policy evaluation, reusing the last result when nothing changed
	stepStart = time.Now()
	engine, err := policy.New(cfg.DRC.PolicyDir)
	if err != nil {
		return nil, fmt.Errorf("initialize policy engine: %w", err)
	}
	fileList := sortedFactFiles(tables)
	hash := ""
	cached := false
	if cache != nil {
		logFactDelta(log, cacheDir, tables, changed)

		hash, err = policyConfigHash(input.Config, engine.Digest())
		if err != nil {
			log.WithError(err).Warn("policy cache disabled")
		}
		if hash != "" && len(changed) == 0 {
			if entry, err := loadPolicyCache(cacheDir); err != nil {
				log.WithError(err).Warn("policy cache unreadable")
			} else if policyCacheValid(entry, hash, fileList) {
				applyPolicyResult(result, &entry.Result)
				cached = true
			}
		}
	}
	if !cached {
		res, err := engine.Evaluate(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("policy evaluation failed: %w", err)
		}
		applyPolicyResult(result, res)
		if cache != nil && hash != "" {
			if err := savePolicyCache(cacheDir, policyCacheEntry{
				Version:    policyCacheVersion,
				ConfigHash: hash,
				Files:      fileList,
				Result:     *res,
			}); err != nil {
				log.WithError(err).Warn("policy cache not saved")
			}
		}
	}
	if cache != nil {
		if err := saveFactTablesCache(cacheDir, tables); err != nil {
			log.WithError(err).Warn("fact tables cache not saved")
		}
	}
	result.Files = fileResults(tables, result.Violations)
	policyDuration := time.Since(stepStart)
	policyStatus := ""
	if cached {
		policyStatus = "cached"
	}
	timing.RecordStage("policy", stepStart, policyDuration, policyStatus)

	// 5. Report
	ov, err := validator.NewOutputValidator()
	if err != nil {
		return nil, fmt.Errorf("output validator: %w", err)
	}
	if err := ov.Validate(result); err != nil {
		return nil, fmt.Errorf("check output: %w", err)
	}
	if idx.JSONOutput {
		enc := json.NewEncoder(idx.out())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return nil, fmt.Errorf("failed to encode JSON output: %w", err)
		}
	} else {
		idx.report(result)
	}

	if idx.Verbose {
		idx.printf("\n=== Timing Summary ===\n")
		idx.printf("  scan:     %s\n", formatDuration(scanDuration))
		idx.printf("  load:     %s\n", formatDuration(loadDuration))
		idx.printf("  validate: %s\n", formatDuration(validateDuration))
		if cached {
			idx.printf("  policy:   cached (%s)\n", formatDuration(policyDuration))
		} else {
			idx.printf("  policy:   %s\n", formatDuration(policyDuration))
		}
		idx.printf("  total:    %s\n", formatDuration(time.Since(runStart)))
	}
	timing.RecordStage("total", runStart, time.Since(runStart), "")
	return result, nil
}

// Facts loads rootPath like Run and returns the merged fact tables without
// running the design rules. The cache is not used.
func (idx *Indexer) Facts(ctx context.Context, rootPath string) (facts.Tables, []ParseError, error) {
	info, err := os.Stat(rootPath)
	if err != nil {
		return facts.Tables{}, nil, fmt.Errorf("facts %s: %w", rootPath, err)
	}
	if idx.Config == nil {
		dir := rootPath
		if !info.IsDir() {
			dir = filepath.Dir(rootPath)
		}
		cfg, err := config.Load(dir)
		if err != nil {
			return facts.Tables{}, nil, fmt.Errorf("load config: %w", err)
		}
		idx.Config = cfg
	}
	files, err := idx.sources(rootPath, info.IsDir())
	if err != nil {
		return facts.Tables{}, nil, err
	}
	results, err := idx.loadAll(ctx, files, nil, newTimingRecorder(time.Now(), ""))
	if err != nil {
		return facts.Tables{}, nil, err
	}
	var (
		parts []facts.Tables
		errs  []ParseError
	)
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, ParseError{File: r.file, Message: r.err.Error()})
			continue
		}
		parts = append(parts, r.tables)
	}
	return facts.Merge(parts...), errs, nil
}

func (idx *Indexer) sources(rootPath string, dir bool) ([]string, error) {
	if !dir {
		return []string{rootPath}, nil
	}
	files, err := idx.Config.ResolveSources(rootPath)
	if err != nil {
		return nil, fmt.Errorf("resolve sources: %w", err)
	}
	return files, nil
}

// loadAll loads files concurrently; results keep the order of files.
func (idx *Indexer) loadAll(ctx context.Context, files []string, cache *factsCache, timing *timingRecorder) ([]loaded, error) {
	circuits, err := validator.New()
	if err != nil {
		return nil, fmt.Errorf("circuit validator: %w", err)
	}
	results := make([]loaded, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fileStart := time.Now()
			results[i] = idx.loadFile(circuits, cache, f)
			timing.RecordFile("load", f, results[i].status, fileStart, time.Since(fileStart))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

const (
	statusLoaded   = "loaded"
	statusCacheHit = "cache_hit"
	statusFailed   = "failed"
)

func (idx *Indexer) loadFile(v *validator.Validator, cache *factsCache, file string) loaded {
	data, err := os.ReadFile(file)
	if err != nil {
		return loaded{file: file, status: statusFailed, err: err}
	}
	hash := hashBytes(data)
	if cache != nil {
		tables, ok, err := cache.Get(file, hash)
		if err != nil {
			idx.log().WithError(err).WithField("file", file).Warn("cache read failed")
		} else if ok {
			return loaded{file: file, tables: tables, status: statusCacheHit}
		}
	}

	tables, err := tablesFor(v, file, data)
	if err != nil {
		return loaded{file: file, status: statusFailed, err: err}
	}
	if cache != nil {
		if err := cache.Put(file, hash, tables); err != nil {
			idx.log().WithError(err).WithField("file", file).Warn("cache write failed")
		}
	}
	return loaded{file: file, tables: tables, status: statusLoaded}
}

// tablesFor reduces one file to fact tables.
func tablesFor(v *validator.Validator, file string, data []byte) (facts.Tables, error) {
	if strings.EqualFold(filepath.Ext(file), ".json") {
		if errs := v.ValidationErrors(data); len(errs) > 0 {
			return facts.Tables{}, fmt.Errorf("not a circuit document: %s", strings.Join(errs, "; "))
		}
		g, err := circuit.Decode(data)
		if err != nil {
			return facts.Tables{}, err
		}
		return facts.BuildTables([]facts.Circuit{{File: file, Graph: g}}, nil), nil
	}

	d, ok := extractor.DialectForPath(file)
	if !ok {
		return facts.Tables{}, fmt.Errorf("unsupported file type %q", filepath.Ext(file))
	}
	f, err := extractor.Extract(d, string(data))
	if err != nil {
		return facts.Tables{}, err
	}
	return facts.BuildTables(nil, []facts.Source{{File: file, Facts: f}}), nil
}

func statsFor(t facts.Tables) Stats {
	s := Stats{
		Files:   len(t.Files),
		Nodes:   len(t.Nodes),
		Edges:   len(t.Edges),
		Modules: len(t.Modules),
		Ports:   len(t.Ports),
		Signals: len(t.Signals),
		Assigns: len(t.Assigns),
	}
	for _, f := range t.Files {
		if f.Kind == "circuit" {
			s.Circuits++
		} else {
			s.Sources++
		}
	}
	return s
}

func applyPolicyResult(r *CheckResult, res *policy.Result) {
	if r == nil || res == nil {
		return
	}
	r.Violations = res.Violations
	if r.Violations == nil {
		r.Violations = []policy.Violation{}
	}
	r.Summary = res.Summary
}

// fileResults lists every loaded file, sorted, with its violation counts.
func fileResults(t facts.Tables, violations []policy.Violation) []FileResult {
	byPath := make(map[string]*FileResult, len(t.Files))
	out := make([]FileResult, len(t.Files))
	for i, f := range t.Files {
		out[i] = FileResult{Path: f.Path, Kind: f.Kind}
		byPath[f.Path] = &out[i]
	}
	for _, v := range violations {
		fr, ok := byPath[v.File]
		if !ok {
			continue
		}
		switch v.Severity {
		case "error":
			fr.Errors++
		case "warning":
			fr.Warnings++
		case "info":
			fr.Info++
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (idx *Indexer) report(r *CheckResult) {
	if len(r.Violations) > 0 {
		idx.printf("\n=== Design Rule Violations ===\n")
		for _, v := range r.Violations {
			icon := "ℹ"
			if v.Severity == "error" {
				icon = "✗"
			} else if v.Severity == "warning" {
				icon = "⚠"
			}
			idx.printf("%s %s\n", icon, v)
		}
	}

	idx.printf("\n=== Summary ===\n")
	idx.printf("  Errors:   %d\n", r.Summary.Errors)
	idx.printf("  Warnings: %d\n", r.Summary.Warnings)
	idx.printf("  Info:     %d\n", r.Summary.Info)

	idx.printf("\n=== Loaded ===\n")
	idx.printf("  Files:    %d (%d circuits, %d HDL)\n", r.Stats.Files, r.Stats.Circuits, r.Stats.Sources)
	idx.printf("  Nodes:    %d\n", r.Stats.Nodes)
	idx.printf("  Edges:    %d\n", r.Stats.Edges)
	idx.printf("  Ports:    %d\n", r.Stats.Ports)
	idx.printf("  Assigns:  %d\n", r.Stats.Assigns)

	if len(r.ParseErrors) > 0 {
		idx.printf("\n=== Parse Errors ===\n")
		for _, e := range r.ParseErrors {
			idx.printf("  %s: %s\n", e.File, e.Message)
		}
	}
}

func sortedFactFiles(tables facts.Tables) []string {
	files := make([]string, 0, len(tables.Files))
	for _, file := range tables.Files {
		files = append(files, file.Path)
	}
	sort.Strings(files)
	return files
}

func envBool(key string) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return val == "1" || val == "true" || val == "yes" || val == "on"
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%dus", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}
