package indexer

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/robert-at-pretension-io/logicsim/internal/policy"
)

func TestPolicyCacheRoundTripAndValidity(t *testing.T) {
	dir := t.TempDir()
	settings := policy.Settings{Rules: map[string]string{"floating_input": "error"}}
	hash, err := policyConfigHash(settings, "digest-1")
	if err != nil {
		t.Fatalf("policyConfigHash error: %v", err)
	}

	entry := policyCacheEntry{
		Version:    policyCacheVersion,
		ConfigHash: hash,
		Files:      []string{"a.json"},
		Result: policy.Result{
			Violations: []policy.Violation{
				{
					Rule:     "floating_input",
					Severity: "error",
					File:     "a.json",
					Message:  "input 1 of AND gate g is not connected",
				},
			},
			Summary: policy.Summary{TotalViolations: 1, Errors: 1},
		},
	}

	if err := savePolicyCache(dir, entry); err != nil {
		t.Fatalf("savePolicyCache error: %v", err)
	}
	loaded, err := loadPolicyCache(dir)
	if err != nil {
		t.Fatalf("loadPolicyCache error: %v", err)
	}
	if !reflect.DeepEqual(entry, *loaded) {
		t.Fatalf("policy cache mismatch: expected %#v got %#v", entry, loaded)
	}
	if !policyCacheValid(loaded, hash, []string{"a.json"}) {
		t.Fatalf("expected cache to be valid")
	}
	if policyCacheValid(loaded, hash, []string{"a.json", "b.v"}) {
		t.Fatalf("expected cache to be invalid after file list change")
	}

	settings.Rules["floating_input"] = "warning"
	changed, _ := policyConfigHash(settings, "digest-1")
	if policyCacheValid(loaded, changed, []string{"a.json"}) {
		t.Fatalf("expected cache to be invalid after config change")
	}
	settings.Rules["floating_input"] = "error"
	rules, _ := policyConfigHash(settings, "digest-2")
	if policyCacheValid(loaded, rules, []string{"a.json"}) {
		t.Fatalf("expected cache to be invalid after rule change")
	}
}

func TestPolicyConfigHashIgnoresMapOrder(t *testing.T) {
	a, _ := policyConfigHash(policy.Settings{Rules: map[string]string{"x": "off", "y": "info", "z": "error"}}, "d")
	b, _ := policyConfigHash(policy.Settings{Rules: map[string]string{"z": "error", "x": "off", "y": "info"}}, "d")
	if a != b {
		t.Fatalf("hash depends on map order: %s != %s", a, b)
	}
}

func TestClearCache(t *testing.T) {
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, ".cache")
	if err := savePolicyCache(cacheDir, policyCacheEntry{Version: policyCacheVersion}); err != nil {
		t.Fatalf("savePolicyCache error: %v", err)
	}

	got, err := ClearCache(dir, testConfig(".cache", true))
	if err != nil {
		t.Fatalf("ClearCache error: %v", err)
	}
	if got != cacheDir {
		t.Errorf("cleared %s, want %s", got, cacheDir)
	}
	if _, err := os.Stat(cacheDir); !os.IsNotExist(err) {
		t.Fatalf("expected cache dir to be removed, got err: %v", err)
	}
	if _, err := ClearCache(dir, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}
