package indexer

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
	json "github.com/goccy/go-json"

	"github.com/robert-at-pretension-io/logicsim/internal/policy"
)

const policyCacheVersion = 3

type policyCacheEntry struct {
	Version    int           `json:"version"`
	ConfigHash string        `json:"config_hash"`
	Files      []string      `json:"files"`
	Result     policy.Result `json:"result"`
}

func loadPolicyCache(dir string) (*policyCacheEntry, error) {
	data, err := os.ReadFile(policyCachePath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entry policyCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parse policy cache: %w", err)
	}
	return &entry, nil
}

func savePolicyCache(dir string, entry policyCacheEntry) error {
	if err := writeJSONAtomic(policyCachePath(dir), entry); err != nil {
		return fmt.Errorf("write policy cache: %w", err)
	}
	return nil
}

func policyCachePath(dir string) string {
	return filepath.Join(dir, "policy_cache.json")
}

// policyCacheValid reports whether entry was computed for the same rule
// configuration, rule set and file list.
func policyCacheValid(entry *policyCacheEntry, hash string, files []string) bool {
	if entry == nil || entry.Version != policyCacheVersion {
		return false
	}
	return entry.ConfigHash == hash && slices.Equal(entry.Files, files)
}

// policyConfigHash identifies the severity overrides together with the
// digest of the loaded rule files.
func policyConfigHash(settings policy.Settings, rulesDigest string) (string, error) {
	rules := make([]string, 0, len(settings.Rules))
	for rule, sev := range settings.Rules {
		rules = append(rules, rule+"="+sev)
	}
	sort.Strings(rules)
	payload := struct {
		Rules         []string `json:"rules"`
		PolicyVersion string   `json:"policy_version"`
	}{
		Rules:         rules,
		PolicyVersion: rulesDigest,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal policy config hash: %w", err)
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16), nil
}
