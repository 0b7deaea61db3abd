package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// sourceExts are the file types a source pattern may select
var sourceExts = map[string]bool{
	".json": true,
	".v":    true,
	".sv":   true,
	".vhd":  true,
	".vhdl": true,
}

// ResolveSources expands the source patterns relative to rootPath and returns
// the matching circuit and HDL files, sorted, minus excluded and ignored ones.
// Config files are never returned.
func (c *Config) ResolveSources(rootPath string) ([]string, error) {
	fileSet := make(map[string]bool)
	for _, pattern := range c.Sources.Files {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(rootPath, pattern)
		}

		matches, err := expandGlob(pattern)
		if err != nil {
			// Silently skip invalid patterns
			continue
		}

		for _, match := range matches {
			if !sourceExts[strings.ToLower(filepath.Ext(match))] || isConfigFile(match) {
				continue
			}
			fileSet[match] = true
		}
	}

	for _, pattern := range c.Sources.Exclude {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(rootPath, pattern)
		}

		matches, err := expandGlob(pattern)
		if err != nil {
			continue
		}

		for _, match := range matches {
			delete(fileSet, match)
		}
	}

	var result []string
	for f := range fileSet {
		if !c.ShouldIgnoreFile(f) {
			result = append(result, f)
		}
	}
	sort.Strings(result)
	return result, nil
}

func isConfigFile(path string) bool {
	base := filepath.Base(path)
	for _, name := range configNames {
		if base == name {
			return true
		}
	}
	return false
}

// expandGlob expands a glob pattern, handling ** for recursive matching
func expandGlob(pattern string) ([]string, error) {
	if strings.Contains(pattern, "**") {
		return expandDoubleStarGlob(pattern)
	}
	return filepath.Glob(pattern)
}

// expandDoubleStarGlob handles ** patterns by walking the directory tree
func expandDoubleStarGlob(pattern string) ([]string, error) {
	var results []string

	parts := strings.SplitN(pattern, "**", 2)
	if len(parts) != 2 {
		return filepath.Glob(pattern)
	}

	baseDir := filepath.Clean(parts[0])
	if baseDir == "" {
		baseDir = "."
	}
	suffix := strings.TrimPrefix(parts[1], string(filepath.Separator))

	err := filepath.Walk(baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors, continue walking
		}
		if info.IsDir() {
			return nil
		}
		if suffix == "" {
			results = append(results, path)
			return nil
		}

		relPath, err := filepath.Rel(baseDir, path)
		if err != nil {
			return nil
		}
		if matchSuffix(relPath, suffix) {
			results = append(results, path)
		}
		return nil
	})

	return results, err
}

// matchSuffix checks if a path matches a suffix pattern (after **)
func matchSuffix(path, pattern string) bool {
	pattern = strings.TrimPrefix(pattern, string(filepath.Separator))

	// If pattern has no directory component, match against filename
	if !strings.Contains(pattern, string(filepath.Separator)) {
		matched, _ := filepath.Match(pattern, filepath.Base(path))
		return matched
	}

	matched, _ := filepath.Match(pattern, path)
	if matched {
		return true
	}

	if len(path) > len(pattern) {
		suffix := path[len(path)-len(pattern):]
		matched, _ = filepath.Match(pattern, suffix)
		return matched
	}

	return false
}
