package tracker

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/perptrack/internal/domain"
)

// The state file carries tracker counters across restarts so a venue that
// was limping before a deploy does not look pristine after it.

// SaveStateFile writes statuses atomically (temp file + rename).
func SaveStateFile(path string, statuses map[string]domain.TrackerStatus) error {
	data, err := msgpack.Marshal(statuses)
	if err != nil {
		return fmt.Errorf("failed to encode tracker state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write tracker state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace tracker state file: %w", err)
	}
	return nil
}

// LoadStateFile reads a state file written by SaveStateFile.
func LoadStateFile(path string) (map[string]domain.TrackerStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tracker state: %w", err)
	}
	var statuses map[string]domain.TrackerStatus
	if err := msgpack.Unmarshal(data, &statuses); err != nil {
		return nil, fmt.Errorf("failed to decode tracker state: %w", err)
	}
	return statuses, nil
}
