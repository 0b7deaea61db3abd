package indexer

import (
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/logicsim/internal/facts"
)

const factTablesCacheVersion = 2

const factTablesFile = "fact_tables.json"

// factTablesCache is the merged snapshot of the previous check, kept to
// report what changed since then.
type factTablesCache struct {
	Version int          `json:"version"`
	Tables  facts.Tables `json:"tables"`
}

// logFactDelta compares tables with the snapshot of the previous check and
// logs the size of the difference at debug level.
func logFactDelta(log logrus.FieldLogger, dir string, tables facts.Tables, changed map[string]bool) {
	prev, ok, err := loadFactTablesCache(dir)
	if err != nil {
		log.WithError(err).Warn("fact tables cache unreadable")
		return
	}
	if !ok {
		log.Debug("no previous fact tables")
		return
	}
	delta := facts.ComputeDelta(prev, tables)
	if delta.Empty() {
		log.Debug("fact tables unchanged since last check")
		return
	}
	log.WithFields(logrus.Fields{
		"added":         delta.Added.Len(),
		"removed":       delta.Removed.Len(),
		"files_changed": len(changed),
		"nodes_added":   len(delta.Added.Nodes),
		"edges_added":   len(delta.Added.Edges),
		"assigns_added": len(delta.Added.Assigns),
	}).Debug("fact delta since last check")
}

func loadFactTablesCache(dir string) (facts.Tables, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, factTablesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return facts.Tables{}, false, nil
		}
		return facts.Tables{}, false, fmt.Errorf("read fact tables cache: %w", err)
	}
	var cache factTablesCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return facts.Tables{}, false, fmt.Errorf("parse fact tables cache: %w", err)
	}
	if cache.Version != factTablesCacheVersion {
		return facts.Tables{}, false, nil
	}
	return cache.Tables, true, nil
}

func saveFactTablesCache(dir string, tables facts.Tables) error {
	cache := factTablesCache{
		Version: factTablesCacheVersion,
		Tables:  tables,
	}
	if err := writeJSONAtomic(filepath.Join(dir, factTablesFile), cache); err != nil {
		return fmt.Errorf("write fact tables cache: %w", err)
	}
	return nil
}
