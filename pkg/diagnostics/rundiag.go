package diagnostics

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
)

// NewRunID returns a random per-process identifier with no semantic
// meaning beyond uniqueness. cmd/pvmapperd logs it on its startup line and
// writes it into every state dump so operators can separate restarts; it
// is not attached to other log lines.
func NewRunID() string {
	return uuid.NewString()
}

const stateDumpPerm = 0o644

// StateSnapshot is the JSON document cmd/pvmapperd --dump-state renders
// periodically.
type StateSnapshot struct {
	RunID        string    `json:"runId"`
	GeneratedAt  time.Time `json:"generatedAt"`
	PVCount      int       `json:"pvCount"`
	IOCCount     int       `json:"iocCount"`
	BinOccupancy [][]int   `json:"binOccupancy"`
	Proc         ProcStats `json:"proc"`
}

// DumpState atomically writes snapshot to path as JSON. No existing
// reader can observe a partially-written file, since renameio.WriteFile
// writes to a temp file in the same directory and renames into place.
func DumpState(path string, snapshot StateSnapshot) error {
	encoded, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("diagnostics: marshal state snapshot: %w", err)
	}
	if err := renameio.WriteFile(path, encoded, stateDumpPerm); err != nil {
		return fmt.Errorf("diagnostics: write state snapshot: %w", err)
	}
	return nil
}
