package operation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// PredownloadStatus is the JSON file the predownload pipeline maintains next
// to the chunk store. Finished flips to true only after every scheduled
// chunk is present.
type PredownloadStatus struct {
	Tag         string `json:"Tag"`
	Finished    bool   `json:"Finished"`
	TotalBlocks int64  `json:"TotalBlocks"`
}

// WriteStatus writes the status file atomically via temp-and-rename.
func WriteStatus(path string, status PredownloadStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal predownload status: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create status temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close status temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to commit status file: %w", err)
	}
	return nil
}

// LoadStatus reads a previously written status file.
func LoadStatus(path string) (PredownloadStatus, error) {
	var status PredownloadStatus
	data, err := os.ReadFile(path)
	if err != nil {
		return status, fmt.Errorf("failed to read predownload status: %w", err)
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return status, fmt.Errorf("failed to parse predownload status: %w", err)
	}
	return status, nil
}
