package storage

import (
	"encoding/json"
	"fmt"

	"bibflat/internal/flatten"
	"bibflat/internal/pipeline"

	"github.com/google/uuid"
)

// RunStore implements persistence for ingest run history and the
// per-field diagnostics collected during a run.
type RunStore struct {
	db *DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

func (s *RunStore) CreateRun(run *pipeline.RunLog) error {
	run.ID = uuid.New().String()
	_, err := s.db.conn.Exec(
		`INSERT INTO ingest_runs (id, job_id, started_at, finished_at, status,
		 records_read, records_skipped, rows_written, diagnostics, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobID, run.StartedAt, run.FinishedAt, run.Status,
		run.RecordsRead, run.RecordsSkipped, run.RowsWritten, run.Diagnostics, run.Error,
	)
	return err
}

func (s *RunStore) ListRuns(jobID string, limit int) ([]pipeline.RunLog, error) {
	rows, err := s.db.conn.Query(
		`SELECT id, job_id, started_at, finished_at, status,
		 records_read, records_skipped, rows_written, diagnostics, error
		 FROM ingest_runs WHERE job_id = ? ORDER BY started_at DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []pipeline.RunLog
	for rows.Next() {
		var r pipeline.RunLog
		if err := rows.Scan(&r.ID, &r.JobID, &r.StartedAt, &r.FinishedAt, &r.Status,
			&r.RecordsRead, &r.RecordsSkipped, &r.RowsWritten, &r.Diagnostics, &r.Error); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SaveDiagnostic persists one flatten diagnostic under a run. The
// offending value is stored as JSON so it survives round-tripping.
func (s *RunStore) SaveDiagnostic(runID string, d flatten.Diagnostic) error {
	value := ""
	if d.Value != nil {
		raw, err := json.Marshal(d.Value)
		if err != nil {
			value = fmt.Sprintf("%v", d.Value)
		} else {
			value = string(raw)
		}
	}
	_, err := s.db.conn.Exec(
		`INSERT INTO ingest_diagnostics (id, run_id, entity, record_key, field_path, detail, value)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), runID, d.Entity, d.Key, d.FieldPath, d.Detail, value,
	)
	return err
}

// StoredDiagnostic is one persisted diagnostic row.
type StoredDiagnostic struct {
	ID        string `json:"id"`
	RunID     string `json:"runId"`
	Entity    string `json:"entity"`
	RecordKey string `json:"recordKey"`
	FieldPath string `json:"fieldPath"`
	Detail    string `json:"detail"`
	Value     string `json:"value"`
}

func (s *RunStore) ListDiagnostics(runID string, limit int) ([]StoredDiagnostic, error) {
	rows, err := s.db.conn.Query(
		`SELECT id, run_id, entity, record_key, field_path, detail, value
		 FROM ingest_diagnostics WHERE run_id = ? ORDER BY created_at ASC LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var diags []StoredDiagnostic
	for rows.Next() {
		var d StoredDiagnostic
		if err := rows.Scan(&d.ID, &d.RunID, &d.Entity, &d.RecordKey, &d.FieldPath, &d.Detail, &d.Value); err != nil {
			return nil, err
		}
		diags = append(diags, d)
	}
	return diags, rows.Err()
}
