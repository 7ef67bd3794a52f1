package domain

import "time"

// SyncStatus is the state of a synchronization run.
type SyncStatus string

const (
	SyncRunning   SyncStatus = "running"
	SyncSucceeded SyncStatus = "succeeded"
	SyncFailed    SyncStatus = "failed"
	SyncCancelled SyncStatus = "cancelled"
)

// Finished reports whether the run reached a final status.
func (s SyncStatus) Finished() bool {
	return s == SyncSucceeded || s == SyncFailed || s == SyncCancelled
}

// TaskRecord is one unit of a sync run: load every page of Loader into Entity.
// Both are stored by name so the record survives restarts and process boundaries.
type TaskRecord struct {
	Entity string `json:"entity"`
	Loader string `json:"loader"`
	Cursor string `json:"cursor,omitempty"`
	Loaded int    `json:"loaded"`
	Done   bool   `json:"done"`
}

// SyncRecord is the durable snapshot of a sync run.
type SyncRecord struct {
	ID           string         `json:"id"`
	Installation InstallationID `json:"installation"`
	Domain       Domain         `json:"domain"`
	Status       SyncStatus     `json:"status"`
	Tasks        []TaskRecord   `json:"tasks"`
	Error        string         `json:"error,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}

// Clone returns a deep copy safe to hand to another goroutine or store.
func (r *SyncRecord) Clone() *SyncRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Tasks = append([]TaskRecord(nil), r.Tasks...)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}
