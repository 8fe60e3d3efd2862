// Package snapshot writes the payloads fetched during a run to a JSON file.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Sternrassler/cve-sync/pkg/record"
)

// File names used by the syncer.
const (
	FullLoadFile    = "nvd_all.json"
	IncrementalFile = "nvd_update.json"
)

// Collector accumulates record payloads. Safe for concurrent use.
type Collector struct {
	mu       sync.Mutex
	payloads []json.RawMessage
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Add appends the payloads of records.
func (c *Collector) Add(records []record.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range records {
		payload := r.Payload
		if len(payload) == 0 {
			payload = json.RawMessage("null")
		}
		c.payloads = append(c.payloads, payload)
	}
}

// Len returns the number of payloads collected.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

// WriteFile writes the collected payloads as an indented JSON array,
// creating parent directories as needed.
func (c *Collector) WriteFile(path string) error {
	c.mu.Lock()
	payloads := c.payloads
	if payloads == nil {
		payloads = []json.RawMessage{}
	}
	data, err := json.MarshalIndent(payloads, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
