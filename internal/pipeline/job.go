package pipeline

import (
	"time"

	"bibflat/internal/sink"
	"bibflat/internal/source"
)

// ── IngestJob ──────────────────────────────────────────────
// A stored, repeatable flattening run: which source to read, where the
// CSV outputs go, and how the run is triggered.

// IngestJob holds the configuration for a single ingest run.
type IngestJob struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	SourceType    string        `json:"sourceType"`
	SourceCfg     source.Config `json:"sourceConfig"`
	OutputDir     string        `json:"outputDir"`
	Policy        string        `json:"policy"`        // "null" | "fail"
	TriggerType   string        `json:"triggerType"`   // "manual" | "schedule" | "file_watch"
	TriggerConfig string        `json:"triggerConfig"` // cron expression or watch directory
	Enabled       bool          `json:"enabled"`
	LastRunAt     time.Time     `json:"lastRunAt"`
	LastStatus    string        `json:"lastStatus"` // "success" | "error" | "running" | ""
	LastError     string        `json:"lastError"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// RunResult is the outcome of one ingest run.
type RunResult struct {
	JobID          string             `json:"jobId"`
	Status         string             `json:"status"` // "success" | "error"
	RecordsRead    int64              `json:"recordsRead"`
	RecordsSkipped int64              `json:"recordsSkipped"`
	RowsWritten    int64              `json:"rowsWritten"`
	Diagnostics    int64              `json:"diagnostics"`
	Outputs        []sink.TableOutput `json:"outputs,omitempty"`
	LoadScript     string             `json:"loadScript,omitempty"` // path to the generated psql script
	Duration       time.Duration      `json:"duration"`
	Error          string             `json:"error,omitempty"`
}

// RunLog is a historical record of an ingest run.
type RunLog struct {
	ID             string    `json:"id"`
	JobID          string    `json:"jobId"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
	Status         string    `json:"status"`
	RecordsRead    int64     `json:"recordsRead"`
	RecordsSkipped int64     `json:"recordsSkipped"`
	RowsWritten    int64     `json:"rowsWritten"`
	Diagnostics    int64     `json:"diagnostics"`
	Error          string    `json:"error,omitempty"`
}
