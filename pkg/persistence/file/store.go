package file

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// readRecord loads one JSON record into out. Missing files report
// os.ErrNotExist unwrapped so callers can map to their sentinel.
func readRecord(root, kind, id string, out any) error {
	filePath := filepath.Clean(path.Join(root, kind, id+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}

		return fmt.Errorf("failed to read %s %s: %w", kind, id, err)
	}

	err = json.Unmarshal(body, out)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s %s: %w", kind, id, err)
	}

	return nil
}

// writeRecord stores one JSON record, creating the kind directory on demand.
func writeRecord(root, kind, id string, record any) error {
	err := os.MkdirAll(path.Join(root, kind), 0750)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", kind, id, err)
	}

	return os.WriteFile(path.Join(root, kind, id+".json"), data, 0600)
}

// removeRecord deletes one record; removing a missing record is a no-op and
// reports os.ErrNotExist for callers that care.
func removeRecord(root, kind, id string) error {
	err := os.Remove(path.Join(root, kind, id+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}

	return err
}

// listIDs returns the record ids stored under a kind directory.
func listIDs(root, kind string) ([]string, error) {
	dir := os.DirFS(path.Join(root, kind))

	jsonFiles, err := fs.Glob(dir, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", kind, err)
	}

	ids := make([]string, 0, len(jsonFiles))
	for _, file := range jsonFiles {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	return ids, nil
}
