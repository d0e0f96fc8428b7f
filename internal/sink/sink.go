package sink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"bibflat/internal/schema"
)

// ── Table Row Sink ─────────────────────────────────────────
// One bounded queue per destination table with a single consumer
// goroutine draining it to a CSV file. Producers block when a queue is
// full (backpressure); the single consumer guarantees the pipeline
// cannot deadlock. Rows are buffered and flushed in batches so memory
// stays bounded on large collections.

// WriteError is a failure of the underlying output stream. It aborts
// the run: a partial table would break referential integrity on load.
type WriteError struct {
	Table string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("sink write for table %q: %v", e.Table, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Options configures the sink.
type Options struct {
	Dir       string // output directory, one CSV file per table
	BatchSize int    // rows buffered before a flush (default 500)
	QueueSize int    // bounded queue length per table (default 1024)
}

// TableOutput describes one finalized per-table row stream.
type TableOutput struct {
	Table   string
	Path    string
	Rows    int64
	Columns []string
}

// Sink accepts rows for a fixed set of tables and streams them to
// per-table CSV files in the column order fixed by each table's
// definition. Safe for concurrent producers.
type Sink struct {
	dir    string
	order  []string
	tables map[string]*tableWriter
}

type tableWriter struct {
	def  *schema.TableDefinition
	path string
	rows chan []any
	done chan struct{}

	mu    sync.Mutex
	err   error
	count int64

	file *os.File
	w    *bufio.Writer
}

// New creates the output files (header line included) and starts one
// consumer per table. Every table gets a file even if it receives no
// rows, so the load script always finds its inputs.
func New(tables []*schema.TableDefinition, opts Options) (*Sink, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	s := &Sink{dir: opts.Dir, tables: make(map[string]*tableWriter, len(tables))}
	for _, def := range tables {
		path := filepath.Join(opts.Dir, def.Name+".csv")
		file, err := os.Create(path)
		if err != nil {
			s.abort()
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
		tw := &tableWriter{
			def:  def,
			path: path,
			rows: make(chan []any, opts.QueueSize),
			done: make(chan struct{}),
			file: file,
			w:    bufio.NewWriter(file),
		}
		if _, err := tw.w.WriteString(encodeHeader(def.Columns)); err != nil {
			file.Close()
			s.abort()
			return nil, &WriteError{Table: def.Name, Err: err}
		}
		s.order = append(s.order, def.Name)
		s.tables[def.Name] = tw
		go tw.consume(opts.BatchSize)
	}
	return s, nil
}

// Accept enqueues one row for a table, blocking while the table's
// queue is full. It fails fast once the table's consumer has hit a
// write error, and validates the column-count invariant.
func (s *Sink) Accept(ctx context.Context, table string, row []any) error {
	tw, ok := s.tables[table]
	if !ok {
		return fmt.Errorf("sink: unknown table %q", table)
	}
	if len(row) != len(tw.def.Columns) {
		return fmt.Errorf("sink: table %q row has %d values, definition has %d columns",
			table, len(row), len(tw.def.Columns))
	}
	if err := tw.writeErr(); err != nil {
		return err
	}
	select {
	case tw.rows <- row:
		return nil
	case <-tw.done:
		return tw.writeErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finalize closes one table's stream, waits for its queue to drain and
// returns the finished output. Accept must not be called for the table
// afterwards.
func (s *Sink) Finalize(table string) (*TableOutput, error) {
	tw, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("sink: unknown table %q", table)
	}
	out, err := tw.finalize()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FinalizeAll finalizes every table in creation order.
func (s *Sink) FinalizeAll() ([]TableOutput, error) {
	outs := make([]TableOutput, 0, len(s.order))
	var firstErr error
	for _, name := range s.order {
		out, err := s.tables[name].finalize()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		outs = append(outs, *out)
	}
	return outs, firstErr
}

// abort closes whatever has been opened so far. Used on setup failure
// and cancellation; output files are left behind for inspection.
func (s *Sink) abort() {
	for _, tw := range s.tables {
		tw.finalize()
	}
}

// Close releases all resources, finalizing any table not yet
// finalized. Safe to call after FinalizeAll.
func (s *Sink) Close() {
	s.abort()
}

func (tw *tableWriter) consume(batchSize int) {
	defer close(tw.done)
	batch := 0
	for row := range tw.rows {
		if tw.writeErr() != nil {
			continue // drain so producers don't block
		}
		line := encodeRow(row, tw.def.Columns)
		if _, err := tw.w.WriteString(line); err != nil {
			tw.setErr(&WriteError{Table: tw.def.Name, Err: err})
			continue
		}
		tw.mu.Lock()
		tw.count++
		tw.mu.Unlock()
		batch++
		if batch >= batchSize {
			if err := tw.w.Flush(); err != nil {
				tw.setErr(&WriteError{Table: tw.def.Name, Err: err})
			}
			batch = 0
		}
	}
}

func (tw *tableWriter) finalize() (*TableOutput, error) {
	tw.mu.Lock()
	if tw.file == nil { // already finalized
		out := &TableOutput{Table: tw.def.Name, Path: tw.path, Rows: tw.count, Columns: tw.def.ColumnNames()}
		err := tw.err
		tw.mu.Unlock()
		return out, err
	}
	tw.mu.Unlock()

	close(tw.rows)
	<-tw.done

	tw.mu.Lock()
	defer tw.mu.Unlock()
	if err := tw.w.Flush(); err != nil && tw.err == nil {
		tw.err = &WriteError{Table: tw.def.Name, Err: err}
	}
	if err := tw.file.Close(); err != nil && tw.err == nil {
		tw.err = &WriteError{Table: tw.def.Name, Err: err}
	}
	tw.file = nil
	out := &TableOutput{Table: tw.def.Name, Path: tw.path, Rows: tw.count, Columns: tw.def.ColumnNames()}
	return out, tw.err
}

func (tw *tableWriter) writeErr() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.err
}

func (tw *tableWriter) setErr(err error) {
	tw.mu.Lock()
	if tw.err == nil {
		tw.err = err
	}
	tw.mu.Unlock()
}
