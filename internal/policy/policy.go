// Package policy runs the design rules, written in Rego, over the fact
// tables of circuits and HDL sources.
package policy

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/open-policy-agent/opa/rego"

	"github.com/robert-at-pretension-io/logicsim/internal/facts"
)

//go:embed rules/*.rego
var builtin embed.FS

const (
	violationsQuery = "data.logicsim.drc.all_violations"
	summaryQuery    = "data.logicsim.drc.summary"
)

// Engine evaluates OPA policies against fact tables
type Engine struct {
	queries map[string]rego.PreparedEvalQuery
	digest  string
}

// Digest identifies the loaded rule set; it changes when any rule file does.
func (e *Engine) Digest() string { return e.digest }

// Violation represents a policy violation
type Violation struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Message  string `json:"message"`
}

func (v Violation) String() string {
	loc := v.File
	if v.Line > 0 {
		loc = fmt.Sprintf("%s:%d", v.File, v.Line)
	}
	return fmt.Sprintf("%s: %s [%s] %s", loc, v.Severity, v.Rule, v.Message)
}

// Result contains the evaluation results
type Result struct {
	Violations []Violation `json:"violations"`
	Summary    Summary     `json:"summary"`
}

// HasErrors reports whether any violation has error severity.
func (r *Result) HasErrors() bool { return r.Summary.Errors > 0 }

// Summary provides aggregate counts
type Summary struct {
	TotalViolations int `json:"total_violations"`
	Errors          int `json:"errors"`
	Warnings        int `json:"warnings"`
	Info            int `json:"info"`
}

// Input is the data structure passed to OPA
type Input struct {
	Tables facts.Tables `json:"tables"`
	Config Settings     `json:"config"`
}

// Settings carries the per-rule severity overrides ("off" disables a rule).
type Settings struct {
	Rules map[string]string `json:"rules"`
}

// New creates a policy engine. An empty policyDir loads the built-in rules;
// otherwise every .rego file in the directory is loaded instead.
func New(policyDir string) (*Engine, error) {
	var (
		modules []func(*rego.Rego)
		digest  string
		err     error
	)
	if policyDir == "" {
		modules, digest, err = loadModules(builtin, "rules")
	} else {
		modules, digest, err = loadModules(os.DirFS(policyDir), ".")
	}
	if err != nil {
		return nil, err
	}
	if len(modules) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", policyDir)
	}

	engine := &Engine{
		queries: make(map[string]rego.PreparedEvalQuery),
		digest:  digest,
	}
	for name, q := range map[string]string{"violations": violationsQuery, "summary": summaryQuery} {
		opts := append(append([]func(*rego.Rego){}, modules...), rego.Query(q))
		query, err := rego.New(opts...).PrepareForEval(context.Background())
		if err != nil {
			return nil, fmt.Errorf("preparing %s query: %w", name, err)
		}
		engine.queries[name] = query
	}
	return engine, nil
}

func loadModules(fsys fs.FS, dir string) ([]func(*rego.Rego), string, error) {
	files, err := fs.Glob(fsys, path.Join(dir, "*.rego"))
	if err != nil {
		return nil, "", fmt.Errorf("finding policy files: %w", err)
	}
	sort.Strings(files)
	h := xxhash.New()
	var modules []func(*rego.Rego)
	for _, f := range files {
		content, err := fs.ReadFile(fsys, f)
		if err != nil {
			return nil, "", fmt.Errorf("reading %s: %w", f, err)
		}
		_, _ = h.WriteString(f)
		_, _ = h.Write(content)
		modules = append(modules, rego.Module(f, string(content)))
	}
	return modules, strconv.FormatUint(h.Sum64(), 16), nil
}

// Evaluate runs the policies against the input data
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Result, error) {
	// Convert input to map for OPA
	inputMap, err := structToMap(input)
	if err != nil {
		return nil, fmt.Errorf("converting input: %w", err)
	}

	result := &Result{Violations: []Violation{}}

	rs, err := e.queries["violations"].Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating violations: %w", err)
	}

	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		violations, ok := rs[0].Expressions[0].Value.([]interface{})
		if ok {
			for _, v := range violations {
				vmap, ok := v.(map[string]interface{})
				if !ok {
					continue
				}
				result.Violations = append(result.Violations, Violation{
					Rule:     getString(vmap, "rule"),
					Severity: getString(vmap, "severity"),
					File:     getString(vmap, "file"),
					Line:     getInt(vmap, "line"),
					Message:  getString(vmap, "message"),
				})
			}
		}
	}
	sort.SliceStable(result.Violations, func(i, j int) bool {
		a, b := result.Violations[i], result.Violations[j]
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})

	rs, err = e.queries["summary"].Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating summary: %w", err)
	}

	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		smap, ok := rs[0].Expressions[0].Value.(map[string]interface{})
		if ok {
			result.Summary = Summary{
				TotalViolations: getInt(smap, "total_violations"),
				Errors:          getInt(smap, "errors"),
				Warnings:        getInt(smap, "warnings"),
				Info:            getInt(smap, "info"),
			}
		}
	}

	return result, nil
}

func structToMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	err = json.Unmarshal(data, &result)
	return result, err
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		case json.Number:
			i, _ := n.Int64()
			return int(i)
		}
	}
	return 0
}
