package block

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rollkit/l1-committer/pkg/store"
)

// Status is the coarse state of block commitments.
type Status int

const (
	// StatusIdle means every submitted block commitment was confirmed.
	StatusIdle Status = iota
	// StatusCommitting means the latest block commitment is not confirmed yet.
	StatusCommitting
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusCommitting:
		return "Committing"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalJSON encodes the status as its name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status from its name.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "Idle":
		*s = StatusIdle
	case "Committing":
		*s = StatusCommitting
	default:
		return fmt.Errorf("unknown status %q", name)
	}
	return nil
}

// StatusReport is returned by the status endpoint.
type StatusReport struct {
	Status Status `json:"status"`
}

// StatusReporter derives the committer status from storage.
type StatusReporter struct {
	storage store.Storage
}

// NewStatusReporter creates a StatusReporter.
func NewStatusReporter(storage store.Storage) *StatusReporter {
	return &StatusReporter{storage: storage}
}

// CurrentStatus reports Committing when the latest block submission is not
// completed and Idle otherwise.
func (r *StatusReporter) CurrentStatus(ctx context.Context) (StatusReport, error) {
	latest, err := r.storage.LatestBlockSubmission(ctx)
	if err != nil {
		return StatusReport{}, fmt.Errorf("failed to fetch latest block submission: %w", err)
	}
	if latest != nil && !latest.Completed {
		return StatusReport{Status: StatusCommitting}, nil
	}
	return StatusReport{Status: StatusIdle}, nil
}
