package edge

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// livenessState is the JSON document written to the health file. Timestamps
// are RFC3339 UTC, null until the first successful poll or upload.
type livenessState struct {
	LastPollTS   *string `json:"last_poll_ts"`
	LastUploadTS *string `json:"last_upload_ts"`
	SpoolCount   int     `json:"spool_count"`
}

// Liveness maintains the on-disk health file consumed by external watchdog
// tooling. Every write replaces the file atomically so a reader never
// observes a torn document.
type Liveness struct {
	mu    sync.Mutex
	path  string
	state livenessState
}

// NewLiveness creates a writer targeting path. Nothing is written until the
// first Flush.
func NewLiveness(path string) *Liveness {
	return &Liveness{path: path}
}

func rfc3339(t time.Time) *string {
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// RecordPoll notes a successful poll cycle.
func (l *Liveness) RecordPoll(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.LastPollTS = rfc3339(t)
}

// RecordUpload notes a successful upload.
func (l *Liveness) RecordUpload(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.LastUploadTS = rfc3339(t)
}

// SetSpoolCount updates the pending-sample count.
func (l *Liveness) SetSpoolCount(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.SpoolCount = n
}

// Flush writes the current state to the health file via an atomic rename.
func (l *Liveness) Flush() error {
	l.mu.Lock()
	data, err := json.Marshal(l.state)
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal liveness state: %w", err)
	}
	if err := renameio.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("write liveness file: %w", err)
	}
	return nil
}
