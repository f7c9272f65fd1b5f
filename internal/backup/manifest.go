package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Manifest records every snapshot a run wrote, so an operator restoring a
// table does not have to pick files apart by timestamp.
type Manifest struct {
	RunID     string    `json:"run_id"`
	User      string    `json:"user"`
	CreatedAt time.Time `json:"created_at"`
	Entries   []Entry   `json:"entries"`
}

// WriteManifest writes m as indented JSON. An empty entry list is skipped;
// a run that repaired nothing leaves no manifest behind.
func WriteManifest(path string, m Manifest) error {
	if len(m.Entries) == 0 {
		return nil
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("backup: encode manifest: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("backup: write manifest: %w", err)
	}
	return nil
}
