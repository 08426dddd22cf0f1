// Package snapshot periodically serializes the agent's view of the world to
// disk. The file is advisory, for operators and post-mortems; the position
// database remains the restart source of truth.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"optionsBrain/internal/domain"
	"optionsBrain/internal/ports"
)

// State is the on-disk snapshot shape.
type State struct {
	Timestamp time.Time                           `json:"timestamp"`
	Regime    domain.Regime                       `json:"regime"`
	Symbols   map[string]domain.IndicatorSnapshot `json:"symbols"`
	Positions []domain.Position                   `json:"positions"`
}

// Writer persists State atomically via a temp file and rename, so a crash
// mid-write never leaves a truncated snapshot behind.
type Writer struct {
	path   string
	logger ports.Logger
}

// NewWriter creates a snapshot writer. The target directory is created if
// missing.
func NewWriter(path string, logger ports.Logger) (*Writer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for snapshot writer")
	}
	if path == "" {
		return nil, fmt.Errorf("snapshot path is required: %w", ports.ErrConfigurationError)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &Writer{path: path, logger: logger}, nil
}

// Write serializes the state and swaps it into place.
func (w *Writer) Write(ctx context.Context, state State) error {
	const op = "Write"

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: failed to encode snapshot: %w", op, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(w.path), ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("%s: failed to create temp file: %w", op, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%s: failed to write snapshot: %w", op, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%s: failed to close temp file: %w", op, err)
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%s: failed to replace snapshot: %w", op, err)
	}

	w.logger.Debug(ctx, "State snapshot written", map[string]interface{}{
		"op": op, "path": w.path, "positions": len(state.Positions), "regime": string(state.Regime),
	})
	return nil
}
