package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for logicsim
type Config struct {
	// Simulation controls the evaluator and the run loop
	Simulation SimulationConfig `json:"simulation,omitempty" yaml:"simulation,omitempty" toml:"simulation,omitempty"`

	// Script bounds module program execution
	Script ScriptConfig `json:"script,omitempty" yaml:"script,omitempty" toml:"script,omitempty"`

	// Export contains HDL generation options
	Export ExportConfig `json:"export,omitempty" yaml:"export,omitempty" toml:"export,omitempty"`

	// DRC contains design rule check configuration
	DRC DRCConfig `json:"drc,omitempty" yaml:"drc,omitempty" toml:"drc,omitempty"`

	// Sources lists the circuit and HDL files checked when no file is given
	Sources SourcesConfig `json:"sources,omitempty" yaml:"sources,omitempty" toml:"sources,omitempty"`

	Log     LogConfig     `json:"log,omitempty" yaml:"log,omitempty" toml:"log,omitempty"`
	Metrics MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty" toml:"metrics,omitempty"`
}

// SimulationConfig controls evaluation
type SimulationConfig struct {
	// TickInterval is the run loop period in milliseconds
	TickInterval int `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty" toml:"tickInterval,omitempty"`

	// MaxPasses caps relaxation passes (0 = number of nodes + 1)
	MaxPasses int `json:"maxPasses,omitempty" yaml:"maxPasses,omitempty" toml:"maxPasses,omitempty"`

	// WidthPolicy is "dynamic" or "fixed"
	WidthPolicy string `json:"widthPolicy,omitempty" yaml:"widthPolicy,omitempty" toml:"widthPolicy,omitempty"`
}

// ScriptConfig bounds custom module programs
type ScriptConfig struct {
	TimeoutMs int `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty" toml:"timeoutMs,omitempty"`
	MaxSteps  int `json:"maxSteps,omitempty" yaml:"maxSteps,omitempty" toml:"maxSteps,omitempty"`
}

// ExportConfig contains HDL generation options
type ExportConfig struct {
	// Dialect is "verilog" or "vhdl"
	Dialect    string `json:"dialect,omitempty" yaml:"dialect,omitempty" toml:"dialect,omitempty"`
	ModuleName string `json:"moduleName,omitempty" yaml:"moduleName,omitempty" toml:"moduleName,omitempty"`

	// TestbenchMaxInputs refuses testbenches above 2^n vectors
	TestbenchMaxInputs int `json:"testbenchMaxInputs,omitempty" yaml:"testbenchMaxInputs,omitempty" toml:"testbenchMaxInputs,omitempty"`

	// HeaderWidth is the wrap column of the generated header comment
	HeaderWidth int `json:"headerWidth,omitempty" yaml:"headerWidth,omitempty" toml:"headerWidth,omitempty"`
}

// DRCConfig contains design rule configuration
type DRCConfig struct {
	// Rules maps rule names to severity: "off", "info", "warning", "error"
	Rules map[string]string `json:"rules,omitempty" yaml:"rules,omitempty" toml:"rules,omitempty"`

	// IgnorePatterns is a list of file patterns to skip checking entirely
	IgnorePatterns []string `json:"ignorePatterns,omitempty" yaml:"ignorePatterns,omitempty" toml:"ignorePatterns,omitempty"`

	// PolicyDir replaces the built-in rules with the .rego files it holds
	PolicyDir string `json:"policyDir,omitempty" yaml:"policyDir,omitempty" toml:"policyDir,omitempty"`

	Cache CacheConfig `json:"cache,omitempty" yaml:"cache,omitempty" toml:"cache,omitempty"`
}

// CacheConfig controls the fact and result cache of `logicsim check`
type CacheConfig struct {
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty" toml:"enabled,omitempty"`

	// Dir is relative to the checked path unless absolute
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty" toml:"dir,omitempty"`
}

// SourcesConfig selects files by glob pattern
type SourcesConfig struct {
	Files   []string `json:"files,omitempty" yaml:"files,omitempty" toml:"files,omitempty"`
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty" toml:"exclude,omitempty"`
}

type LogConfig struct {
	// Level is a logrus level name
	Level string `json:"level,omitempty" yaml:"level,omitempty" toml:"level,omitempty"`
}

type MetricsConfig struct {
	// Addr is the listen address of the metrics endpoint; empty disables it
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty" toml:"addr,omitempty"`
}

const (
	defaultTickInterval = 100
	defaultTimeoutMs    = 50
	defaultMaxSteps     = 100000
	defaultMaxInputs    = 16
	defaultHeaderWidth  = 72
	defaultCacheDir     = ".logicsim_cache"
)

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Simulation: SimulationConfig{
			TickInterval: defaultTickInterval,
			MaxPasses:    0, // nodes + 1
			WidthPolicy:  "dynamic",
		},
		Script: ScriptConfig{
			TimeoutMs: defaultTimeoutMs,
			MaxSteps:  defaultMaxSteps,
		},
		Export: ExportConfig{
			Dialect:            "verilog",
			TestbenchMaxInputs: defaultMaxInputs,
			HeaderWidth:        defaultHeaderWidth,
		},
		DRC: DRCConfig{
			Rules:          map[string]string{},
			IgnorePatterns: []string{},
			Cache:          CacheConfig{Dir: defaultCacheDir},
		},
		Sources: SourcesConfig{
			Files: []string{"*.json", "**/*.v", "**/*.vhd", "**/*.vhdl"},
		},
		Log: LogConfig{Level: "info"},
	}
}

// configNames are looked up in each search directory, in order
var configNames = []string{
	"logicsim.json",
	".logicsim.json",
	"logicsim.yaml",
	"logicsim.yml",
	"logicsim.toml",
}

// Load finds and loads the configuration file
// Search order:
//  1. ./logicsim.{json,yaml,yml,toml} and ./.logicsim.json (current working directory)
//  2. the same names under <rootPath> (if different from cwd)
//  3. ~/.config/logicsim/config.json
//
// Returns DefaultConfig if no config file is found
func Load(rootPath string) (*Config, error) {
	cwd, _ := os.Getwd()

	var searchPaths []string
	for _, name := range configNames {
		searchPaths = append(searchPaths, filepath.Join(cwd, name))
	}

	if info, err := os.Stat(rootPath); err == nil && info.IsDir() {
		absRoot, _ := filepath.Abs(rootPath)
		if absRoot != cwd {
			for _, name := range configNames {
				searchPaths = append(searchPaths, filepath.Join(rootPath, name))
			}
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "logicsim", "config.json"))
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}

	return DefaultConfig(), nil
}

// LoadFile loads configuration from a specific file. The format follows the
// extension: .yaml/.yml, .toml, anything else is JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// applyDefaults fills in missing configuration with defaults
func (c *Config) applyDefaults() {
	if c.Simulation.TickInterval <= 0 {
		c.Simulation.TickInterval = defaultTickInterval
	}
	if c.Simulation.WidthPolicy == "" {
		c.Simulation.WidthPolicy = "dynamic"
	}
	if c.Script.TimeoutMs <= 0 {
		c.Script.TimeoutMs = defaultTimeoutMs
	}
	if c.Script.MaxSteps == 0 {
		c.Script.MaxSteps = defaultMaxSteps
	}
	if c.Export.Dialect == "" {
		c.Export.Dialect = "verilog"
	}
	if c.Export.TestbenchMaxInputs <= 0 {
		c.Export.TestbenchMaxInputs = defaultMaxInputs
	}
	if c.Export.HeaderWidth <= 0 {
		c.Export.HeaderWidth = defaultHeaderWidth
	}
	if c.DRC.Rules == nil {
		c.DRC.Rules = make(map[string]string)
	}
	if c.DRC.Cache.Dir == "" {
		c.DRC.Cache.Dir = defaultCacheDir
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects values no component can use
func (c *Config) Validate() error {
	switch c.Simulation.WidthPolicy {
	case "dynamic", "fixed":
	default:
		return fmt.Errorf("simulation.widthPolicy: unknown policy %q", c.Simulation.WidthPolicy)
	}
	switch strings.ToLower(c.Export.Dialect) {
	case "verilog", "vhdl":
	default:
		return fmt.Errorf("export.dialect: unknown dialect %q", c.Export.Dialect)
	}
	for rule, sev := range c.DRC.Rules {
		switch sev {
		case "off", "info", "warning", "error":
		default:
			return fmt.Errorf("drc.rules.%s: unknown severity %q", rule, sev)
		}
	}
	return nil
}

// Save writes the configuration to a file in the format of its extension
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	case ".toml":
		data, err = toml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// TickInterval returns the run loop period
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Simulation.TickInterval) * time.Millisecond
}

// ScriptTimeout returns the wall-clock bound of one module program run
func (c *Config) ScriptTimeout() time.Duration {
	return time.Duration(c.Script.TimeoutMs) * time.Millisecond
}

// GetRuleSeverity returns the severity for a rule, or the default if not configured
func (c *Config) GetRuleSeverity(rule string, defaultSeverity string) string {
	if severity, ok := c.DRC.Rules[rule]; ok {
		return severity
	}
	return defaultSeverity
}

// IsRuleEnabled returns true if the rule is not set to "off"
func (c *Config) IsRuleEnabled(rule string) bool {
	if severity, ok := c.DRC.Rules[rule]; ok {
		return severity != "off"
	}
	return true // enabled by default
}

// ShouldIgnoreFile checks if a file should be skipped entirely
func (c *Config) ShouldIgnoreFile(filePath string) bool {
	for _, pattern := range c.DRC.IgnorePatterns {
		if matched, _ := filepath.Match(pattern, filePath); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, filepath.Base(filePath)); matched {
			return true
		}
	}
	return false
}
