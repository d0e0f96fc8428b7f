package service

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"bibflat/internal/flatten"
	"bibflat/internal/pipeline"
	"bibflat/internal/schema"
	"bibflat/internal/source"
	"bibflat/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Ingest Service — business logic for ingest jobs
// ─────────────────────────────────────────────────────────────

// maxStoredDiagnostics caps how many per-field diagnostics one run
// persists; the counters always reflect the full total.
const maxStoredDiagnostics = 1000

// IngestService manages ingest jobs, scheduling, and drop-directory
// watching.
type IngestService struct {
	jobs        *storage.JobStore
	runs        *storage.RunStore
	reg         *schema.Registry
	engineOpts  pipeline.Options
	runningJobs runningJobsGuard

	// watcher / cron lifecycle
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewIngestService creates an IngestService ready for use.
func NewIngestService(jobs *storage.JobStore, runs *storage.RunStore, reg *schema.Registry, engineOpts pipeline.Options) *IngestService {
	return &IngestService{
		jobs:       jobs,
		runs:       runs,
		reg:        reg,
		engineOpts: engineOpts,
	}
}

// ── Job CRUD ───────────────────────────────────────────────

type CreateJobInput struct {
	Name          string        `json:"name"`
	SourceType    string        `json:"sourceType"`
	SourceConfig  source.Config `json:"sourceConfig"`
	OutputDir     string        `json:"outputDir"`
	Policy        string        `json:"policy"`
	TriggerType   string        `json:"triggerType"`
	TriggerConfig string        `json:"triggerConfig"`
	Enabled       bool          `json:"enabled"`
}

func (s *IngestService) CreateJob(ctx context.Context, input CreateJobInput) (*pipeline.IngestJob, error) {
	if _, err := source.Get(input.SourceType); err != nil {
		return nil, err
	}

	job := &pipeline.IngestJob{
		Name:          input.Name,
		SourceType:    input.SourceType,
		SourceCfg:     input.SourceConfig,
		OutputDir:     input.OutputDir,
		Policy:        input.Policy,
		TriggerType:   input.TriggerType,
		TriggerConfig: input.TriggerConfig,
		Enabled:       input.Enabled,
	}
	if job.Policy == "" {
		job.Policy = string(flatten.PolicyNull)
	}
	if job.TriggerType == "" {
		job.TriggerType = "manual"
	}

	if err := s.jobs.CreateJob(job); err != nil {
		return nil, fmt.Errorf("create ingest job: %w", err)
	}
	s.RestartWatchers(ctx)
	return job, nil
}

func (s *IngestService) GetJob(id string) (*pipeline.IngestJob, error) {
	return s.jobs.GetJob(id)
}

func (s *IngestService) ListJobs() ([]pipeline.IngestJob, error) {
	return s.jobs.ListJobs()
}

func (s *IngestService) UpdateJob(ctx context.Context, id string, input CreateJobInput) error {
	job, err := s.jobs.GetJob(id)
	if err != nil {
		return err
	}
	job.Name = input.Name
	job.SourceType = input.SourceType
	job.SourceCfg = input.SourceConfig
	job.OutputDir = input.OutputDir
	job.Policy = input.Policy
	job.TriggerType = input.TriggerType
	job.TriggerConfig = input.TriggerConfig
	job.Enabled = input.Enabled

	if err := s.jobs.UpdateJob(job); err != nil {
		return err
	}
	s.RestartWatchers(ctx)
	return nil
}

func (s *IngestService) DeleteJob(ctx context.Context, id string) error {
	err := s.jobs.DeleteJob(id)
	if err == nil {
		s.RestartWatchers(ctx)
	}
	return err
}

// ── Run ────────────────────────────────────────────────────

// RunJob executes a single ingest job synchronously, recording a run
// log and up to maxStoredDiagnostics diagnostics.
func (s *IngestService) RunJob(ctx context.Context, id string) (*pipeline.RunResult, error) {
	return s.runJobWith(ctx, id, nil)
}

// runJobWith optionally overrides the stored source config, used by
// the drop-directory watcher to point a job at the file that arrived.
func (s *IngestService) runJobWith(ctx context.Context, id string, cfgOverride source.Config) (*pipeline.RunResult, error) {
	// Prevent concurrent execution of the same job.
	if !s.runningJobs.TryLock(id) {
		return nil, fmt.Errorf("job %s is already running", id)
	}
	defer s.runningJobs.Unlock(id)

	job, err := s.jobs.GetJob(id)
	if err != nil {
		return nil, err
	}
	if cfgOverride != nil {
		merged := source.Config{}
		for k, v := range job.SourceCfg {
			merged[k] = v
		}
		for k, v := range cfgOverride {
			merged[k] = v
		}
		job.SourceCfg = merged
	}

	s.jobs.UpdateJobStatus(id, "running", "")

	var (
		diagMu sync.Mutex
		diags  []flatten.Diagnostic
	)
	opts := s.engineOpts
	opts.OnDiagnostic = func(d flatten.Diagnostic) {
		diagMu.Lock()
		if len(diags) < maxStoredDiagnostics {
			diags = append(diags, d)
		}
		diagMu.Unlock()
	}
	engine := pipeline.New(s.reg, opts)

	start := time.Now()
	result, runErr := engine.Run(ctx, job)

	runLog := &pipeline.RunLog{
		JobID:          id,
		StartedAt:      start,
		FinishedAt:     time.Now(),
		Status:         result.Status,
		RecordsRead:    result.RecordsRead,
		RecordsSkipped: result.RecordsSkipped,
		RowsWritten:    result.RowsWritten,
		Diagnostics:    result.Diagnostics,
	}
	if runErr != nil {
		runLog.Error = runErr.Error()
	}
	if err := s.runs.CreateRun(runLog); err != nil {
		log.Printf("ingest: failed to record run for job %s: %v", id, err)
	} else {
		for _, d := range diags {
			if err := s.runs.SaveDiagnostic(runLog.ID, d); err != nil {
				log.Printf("ingest: failed to save diagnostic for run %s: %v", runLog.ID, err)
				break
			}
		}
	}

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	s.jobs.UpdateJobStatus(id, result.Status, errMsg)

	return result, runErr
}

// ListSources returns the available source descriptors.
func (s *IngestService) ListSources() []source.Spec {
	return source.List()
}

// ListRuns returns the last 50 run logs for a job.
func (s *IngestService) ListRuns(jobID string) ([]pipeline.RunLog, error) {
	return s.runs.ListRuns(jobID, 50)
}

// ListDiagnostics returns the persisted diagnostics of one run.
func (s *IngestService) ListDiagnostics(runID string) ([]storage.StoredDiagnostic, error) {
	return s.runs.ListDiagnostics(runID, maxStoredDiagnostics)
}

// ── Watchers (cron + file_watch) ──────────────────────────

// RestartWatchers tears down the current watcher/cron and rebuilds
// them from the enabled triggered jobs.
func (s *IngestService) RestartWatchers(ctx context.Context) {
	s.stopWatchers()

	jobs, err := s.jobs.ListEnabledTriggeredJobs()
	if err != nil {
		log.Printf("ingest watcher: failed to list jobs: %v", err)
		return
	}

	// ── Cron jobs ──
	var scheduled int
	var c *cron.Cron
	for _, j := range jobs {
		if j.TriggerType != "schedule" || j.TriggerConfig == "" {
			continue
		}
		if c == nil {
			c = cron.New()
		}
		jid := j.ID
		_, err := c.AddFunc(j.TriggerConfig, func() {
			log.Printf("ingest cron: running job %s", jid)
			if _, err := s.RunJob(ctx, jid); err != nil {
				log.Printf("ingest cron: job %s failed: %v", jid, err)
			}
		})
		if err != nil {
			log.Printf("ingest cron: invalid expression %q for job %s: %v", j.TriggerConfig, j.ID, err)
			continue
		}
		scheduled++
	}
	if c != nil {
		c.Start()
		s.cronSched = c
		log.Printf("ingest cron: scheduled %d job(s)", scheduled)
	}

	// ── Drop-directory watchers ──
	// A file_watch job names a directory; every .jsonl file that lands
	// there triggers a run against that file.
	dirToJob := make(map[string]string)
	for _, j := range jobs {
		if j.TriggerType != "file_watch" || j.TriggerConfig == "" {
			continue
		}
		absDir, err := filepath.Abs(j.TriggerConfig)
		if err != nil {
			log.Printf("ingest watcher: bad path %q: %v", j.TriggerConfig, err)
			continue
		}
		dirToJob[absDir] = j.ID
	}
	if len(dirToJob) == 0 {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("ingest watcher: failed to create watcher: %v", err)
		return
	}
	s.watcher = watcher

	for dir := range dirToJob {
		if err := watcher.Add(dir); err != nil {
			log.Printf("ingest watcher: failed to watch dir %q: %v", dir, err)
		}
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s.watchCancel = cancel

	go func() {
		timers := make(map[string]*time.Timer)
		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				absPath, _ := filepath.Abs(event.Name)
				if !strings.HasSuffix(absPath, ".jsonl") {
					continue
				}
				jobID, ok := dirToJob[filepath.Dir(absPath)]
				if !ok {
					continue
				}
				// Debounce per file so a file still being written only
				// triggers once it settles.
				if t, exists := timers[absPath]; exists {
					t.Stop()
				}
				jid, path := jobID, absPath
				timers[absPath] = time.AfterFunc(500*time.Millisecond, func() {
					log.Printf("ingest watcher: file arrived %q, running job %s", path, jid)
					if _, err := s.runJobWith(ctx, jid, source.Config{"filePath": path}); err != nil {
						log.Printf("ingest watcher: run failed for job %s: %v", jid, err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("ingest watcher: error: %v", err)
			}
		}
	}()

	log.Printf("ingest watcher: watching %d directorie(s)", len(dirToJob))
}

// WaitRunning blocks until all running jobs finish or ctx is
// cancelled. Used for graceful shutdown.
func (s *IngestService) WaitRunning(ctx context.Context) {
	if running := s.runningJobs.Running(); len(running) > 0 {
		log.Printf("ingest service: waiting for %d running job(s): %v", len(running), running)
	}
	s.runningJobs.WaitAll(ctx)
	if leftover := s.runningJobs.Running(); len(leftover) > 0 {
		log.Printf("ingest service: shutdown proceeding with job(s) still running: %v", leftover)
	}
}

// Stop tears down all watchers and schedulers.
func (s *IngestService) Stop() {
	s.stopWatchers()
}

func (s *IngestService) stopWatchers() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
}
