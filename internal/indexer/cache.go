package indexer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	json "github.com/goccy/go-json"

	"github.com/robert-at-pretension-io/logicsim/internal/config"
	"github.com/robert-at-pretension-io/logicsim/internal/facts"
)

const cacheIndexVersion = 1

// factsVersion changes whenever the per-file fact rows change shape, so
// entries written by an older build are never reused.
const factsVersion = "facts-2"

type cacheEntry struct {
	ContentHash  string `json:"content_hash"`
	FactsPath    string `json:"facts_path"`
	FactsVersion string `json:"facts_version"`
}

type cacheIndex struct {
	Version int                   `json:"version"`
	Entries map[string]cacheEntry `json:"entries"`
}

// factsCache stores the fact tables of each file keyed by its content hash.
type factsCache struct {
	dir          string
	factsVersion string
	mu           sync.Mutex
	index        cacheIndex
}

func newFactsCache(dir, factsVersion string) *factsCache {
	return &factsCache{
		dir:          dir,
		factsVersion: factsVersion,
		index: cacheIndex{
			Version: cacheIndexVersion,
			Entries: make(map[string]cacheEntry),
		},
	}
}

func resolveCacheDir(projectDir string, cfg *config.Config) string {
	cacheDir := cfg.DRC.Cache.Dir
	if cacheDir == "" {
		cacheDir = ".logicsim_cache"
	}
	if !filepath.IsAbs(cacheDir) {
		cacheDir = filepath.Join(projectDir, cacheDir)
	}
	return cacheDir
}

func (c *factsCache) indexPath() string {
	return filepath.Join(c.dir, "index.json")
}

func (c *factsCache) factsPathForFile(filePath string) string {
	return filepath.Join(c.dir, "facts", hashBytes([]byte(filePath))+".json")
}

func (c *factsCache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("cache mkdir: %w", err)
	}
	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache index: %w", err)
	}
	var idx cacheIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse cache index: %w", err)
	}
	if idx.Version != cacheIndexVersion {
		c.index = cacheIndex{Version: cacheIndexVersion, Entries: make(map[string]cacheEntry)}
		return nil
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]cacheEntry)
	}
	c.index = idx
	return nil
}

func (c *factsCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeJSONAtomic(c.indexPath(), c.index)
}

func (c *factsCache) Get(filePath, contentHash string) (facts.Tables, bool, error) {
	c.mu.Lock()
	entry, ok := c.index.Entries[filePath]
	c.mu.Unlock()
	if !ok || entry.ContentHash != contentHash || entry.FactsVersion != c.factsVersion {
		return facts.Tables{}, false, nil
	}

	data, err := os.ReadFile(entry.FactsPath)
	if err != nil {
		return facts.Tables{}, false, fmt.Errorf("read cached facts: %w", err)
	}
	var tables facts.Tables
	if err := json.Unmarshal(data, &tables); err != nil {
		return facts.Tables{}, false, fmt.Errorf("parse cached facts: %w", err)
	}
	return tables, true, nil
}

func (c *factsCache) Put(filePath, contentHash string, tables facts.Tables) error {
	factsPath := c.factsPathForFile(filePath)
	if err := writeJSONAtomic(factsPath, tables); err != nil {
		return err
	}

	c.mu.Lock()
	c.index.Entries[filePath] = cacheEntry{
		ContentHash:  contentHash,
		FactsPath:    factsPath,
		FactsVersion: c.factsVersion,
	}
	c.mu.Unlock()
	return nil
}

// ClearCache removes the check cache of the project at rootPath and returns
// the directory it targeted.
func ClearCache(rootPath string, cfg *config.Config) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("clear cache: config is nil")
	}
	projectDir := rootPath
	if info, err := os.Stat(rootPath); err == nil && !info.IsDir() {
		projectDir = filepath.Dir(rootPath)
	}
	cacheDir := resolveCacheDir(projectDir, cfg)
	if err := os.RemoveAll(cacheDir); err != nil {
		return cacheDir, fmt.Errorf("remove cache: %w", err)
	}
	return cacheDir, nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache json: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("temp cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

func hashBytes(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}
