package models

import "time"

type RunStatus string

const (
	RunOK     RunStatus = "ok"
	RunFailed RunStatus = "failed"
)

type AbstractRecord struct {
	PMID      string
	Title     string
	Abstract  string
	Authors   []string
	Journal   string
	Year      *int
	FetchedAt time.Time
}

// ProcessingRun is one attempt at merging an abstract into the graph.
type ProcessingRun struct {
	ID          string
	PMID        string
	Status      RunStatus
	Error       string
	ChangeCount int
	StartedAt   time.Time
	FinishedAt  time.Time
}

type GraphChange struct {
	ID       int
	RunID    string
	EdgeID   string
	SourceID string
	TargetID string
	Action   string
}

type LedgerStats struct {
	Abstracts   int `json:"abstracts"`
	Pending     int `json:"pending"`
	RunsOK      int `json:"runs_ok"`
	RunsFailed  int `json:"runs_failed"`
	EdgeChanges int `json:"edge_changes"`
}
