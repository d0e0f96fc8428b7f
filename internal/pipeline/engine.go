package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"bibflat/internal/emit"
	"bibflat/internal/flatten"
	"bibflat/internal/schema"
	"bibflat/internal/sink"
	"bibflat/internal/source"
)

// ── Engine ─────────────────────────────────────────────────
// Orchestrates: source.Read → flatten workers → sink → emit. Records
// stream through a worker pool, so memory stays bounded by the sink
// queues regardless of collection size.

// Options configures the engine.
type Options struct {
	Workers   int // flatten workers (default 4)
	BatchSize int // sink flush batch (default from sink)
	QueueSize int // sink queue length (default from sink)
	// OnDiagnostic receives every per-field diagnostic in addition to
	// the run counters. May be nil. Must be safe for concurrent calls.
	OnDiagnostic flatten.DiagnosticFunc
}

// Engine runs ingest jobs over a fixed schema registry.
type Engine struct {
	reg  *schema.Registry
	opts Options
}

func New(reg *schema.Registry, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Engine{reg: reg, opts: opts}
}

// Run executes one ingest job end-to-end. Records with an unknown
// entity type, a missing key or (under the fail policy) an uncoercible
// field are skipped and counted; source and sink failures abort the
// run. On success the
// output directory holds one CSV per table plus a load.sql script in
// emission order.
func (e *Engine) Run(ctx context.Context, job *IngestJob) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{JobID: job.ID}
	fail := func(err error) (*RunResult, error) {
		result.Status = "error"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result, err
	}

	src, err := source.Get(job.SourceType)
	if err != nil {
		return fail(err)
	}
	if job.OutputDir == "" {
		return fail(fmt.Errorf("job %q has no output directory", job.Name))
	}

	var diags atomic.Int64
	onDiag := func(d flatten.Diagnostic) {
		diags.Add(1)
		if e.opts.OnDiagnostic != nil {
			e.opts.OnDiagnostic(d)
		}
	}
	policy := flatten.PolicyNull
	if job.Policy == string(flatten.PolicyFail) {
		policy = flatten.PolicyFail
	}
	fl, err := flatten.New(e.reg, flatten.WithPolicy(policy), flatten.WithDiagnostics(onDiag))
	if err != nil {
		return fail(err)
	}

	s, err := sink.New(e.reg.Tables(), sink.Options{
		Dir:       job.OutputDir,
		BatchSize: e.opts.BatchSize,
		QueueSize: e.opts.QueueSize,
	})
	if err != nil {
		return fail(err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	recCh, errCh := src.Read(ctx, job.SourceCfg)

	var (
		read, skipped atomic.Int64
		wg            sync.WaitGroup
		fatalOnce     sync.Once
		fatalErr      error
	)
	abort := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			cancel()
		})
	}

	for i := 0; i < e.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range recCh {
				read.Add(1)
				events, err := fl.Flatten(rec.Entity, rec.Data)
				if err != nil {
					if recoverable(err) {
						skipped.Add(1)
						continue
					}
					abort(err)
					return
				}
				for _, ev := range events {
					if err := s.Accept(ctx, ev.Table, ev.Row); err != nil {
						abort(err)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	if err := <-errCh; err != nil && fatalErr == nil {
		fatalErr = fmt.Errorf("read: %w", err)
	}
	if fatalErr != nil {
		s.Close()
		return fail(fatalErr)
	}

	outputs, err := s.FinalizeAll()
	if err != nil {
		return fail(err)
	}

	em := emit.New(e.reg)
	arranged, err := em.Arrange(outputs)
	if err != nil {
		return fail(err)
	}
	script, err := em.LoadScript(outputs)
	if err != nil {
		return fail(err)
	}
	scriptPath := filepath.Join(job.OutputDir, "load.sql")
	if err := os.WriteFile(scriptPath, []byte(script), 0644); err != nil {
		return fail(fmt.Errorf("write load script: %w", err))
	}

	for _, out := range arranged {
		result.RowsWritten += out.Rows
	}
	result.Status = "success"
	result.RecordsRead = read.Load()
	result.RecordsSkipped = skipped.Load()
	result.Diagnostics = diags.Load()
	result.Outputs = arranged
	result.LoadScript = scriptPath
	result.Duration = time.Since(start)
	log.Printf("[PIPELINE] Job %q: %d records in, %d skipped, %d rows across %d tables in %s",
		job.Name, result.RecordsRead, result.RecordsSkipped, result.RowsWritten,
		len(result.Outputs), result.Duration.Round(time.Millisecond))
	return result, nil
}

// recoverable reports whether a flatten error affects only the one
// record: an unknown entity type, a missing key, or a coercion failure
// under the fail policy. Anything else aborts the run.
func recoverable(err error) bool {
	if errors.Is(err, flatten.ErrMissingKey) || errors.Is(err, schema.ErrUnknownEntity) {
		return true
	}
	var ce *flatten.CoercionError
	return errors.As(err, &ce)
}
