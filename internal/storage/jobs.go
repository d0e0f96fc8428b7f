package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"bibflat/internal/pipeline"

	"github.com/google/uuid"
)

// JobStore implements persistence for ingest jobs.
type JobStore struct {
	db *DB
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, name, source_type, source_config, output_dir, policy,
	 trigger_type, trigger_config, enabled,
	 last_run_at, last_status, last_error, created_at, updated_at`

func (s *JobStore) CreateJob(job *pipeline.IngestJob) error {
	now := time.Now()
	job.ID = uuid.New().String()
	job.CreatedAt = now
	job.UpdatedAt = now

	srcCfg, _ := json.Marshal(job.SourceCfg)

	_, err := s.db.conn.Exec(
		`INSERT INTO ingest_jobs (id, name, source_type, source_config, output_dir, policy,
		 trigger_type, trigger_config, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.SourceType, string(srcCfg), job.OutputDir, job.Policy,
		job.TriggerType, job.TriggerConfig, job.Enabled,
		job.CreatedAt, job.UpdatedAt,
	)
	return err
}

func (s *JobStore) GetJob(id string) (*pipeline.IngestJob, error) {
	row := s.db.conn.QueryRow(
		`SELECT `+jobColumns+` FROM ingest_jobs WHERE id = ?`, id)
	job, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("ingest job not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *JobStore) UpdateJob(job *pipeline.IngestJob) error {
	job.UpdatedAt = time.Now()
	srcCfg, _ := json.Marshal(job.SourceCfg)

	_, err := s.db.conn.Exec(
		`UPDATE ingest_jobs SET name=?, source_type=?, source_config=?, output_dir=?,
		 policy=?, trigger_type=?, trigger_config=?, enabled=?, updated_at=? WHERE id=?`,
		job.Name, job.SourceType, string(srcCfg), job.OutputDir,
		job.Policy, job.TriggerType, job.TriggerConfig, job.Enabled,
		job.UpdatedAt, job.ID,
	)
	return err
}

func (s *JobStore) UpdateJobStatus(id, status, errMsg string) error {
	_, err := s.db.conn.Exec(
		`UPDATE ingest_jobs SET last_run_at=?, last_status=?, last_error=?, updated_at=? WHERE id=?`,
		time.Now(), status, errMsg, time.Now(), id,
	)
	return err
}

func (s *JobStore) DeleteJob(id string) error {
	// Diagnostics and run logs first.
	if _, err := s.db.conn.Exec(
		`DELETE FROM ingest_diagnostics WHERE run_id IN (SELECT id FROM ingest_runs WHERE job_id = ?)`, id); err != nil {
		return err
	}
	if _, err := s.db.conn.Exec(`DELETE FROM ingest_runs WHERE job_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.conn.Exec(`DELETE FROM ingest_jobs WHERE id = ?`, id)
	return err
}

func (s *JobStore) ListJobs() ([]pipeline.IngestJob, error) {
	return s.queryJobs(`SELECT ` + jobColumns + ` FROM ingest_jobs ORDER BY created_at ASC`)
}

// ListEnabledTriggeredJobs returns jobs that are enabled with a
// schedule or file-watch trigger.
func (s *JobStore) ListEnabledTriggeredJobs() ([]pipeline.IngestJob, error) {
	return s.queryJobs(`SELECT ` + jobColumns + ` FROM ingest_jobs
		 WHERE enabled = 1 AND trigger_type IN ('schedule', 'file_watch')
		 ORDER BY created_at ASC`)
}

func (s *JobStore) queryJobs(query string, args ...any) ([]pipeline.IngestJob, error) {
	rows, err := s.db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []pipeline.IngestJob
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(scan func(...any) error) (*pipeline.IngestJob, error) {
	job := &pipeline.IngestJob{}
	var srcCfg string
	var lastRunAt sql.NullTime
	if err := scan(
		&job.ID, &job.Name, &job.SourceType, &srcCfg, &job.OutputDir, &job.Policy,
		&job.TriggerType, &job.TriggerConfig, &job.Enabled,
		&lastRunAt, &job.LastStatus, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lastRunAt.Valid {
		job.LastRunAt = lastRunAt.Time
	}
	json.Unmarshal([]byte(srcCfg), &job.SourceCfg)
	return job, nil
}
