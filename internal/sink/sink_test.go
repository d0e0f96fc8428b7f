package sink_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"bibflat/internal/schema"
	"bibflat/internal/sink"
)

func testTable() *schema.TableDefinition {
	return &schema.TableDefinition{
		Name:      "authors",
		Entity:    "author",
		KeyColumn: "id",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeString},
			{Name: "note", Type: schema.TypeString, Nullable: true},
			{Name: "n", Type: schema.TypeInteger, Nullable: true},
			{Name: "ok", Type: schema.TypeBoolean, Nullable: true},
			{Name: "at", Type: schema.TypeTimestamp, Nullable: true},
			{Name: "d", Type: schema.TypeDate, Nullable: true},
		},
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestSink_NullVersusEmptyString(t *testing.T) {
	dir := t.TempDir()
	s, err := sink.New([]*schema.TableDefinition{testTable()}, sink.Options{Dir: dir})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	row := []any{"A1", "", nil, true, at, at}
	if err := s.Accept(context.Background(), "authors", row); err != nil {
		t.Fatalf("accept: %v", err)
	}
	outs, err := s.FinalizeAll()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if len(outs) != 1 || outs[0].Rows != 1 {
		t.Fatalf("unexpected outputs: %+v", outs)
	}

	content := readFile(t, outs[0].Path)
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if lines[0] != "id,note,n,ok,at,d" {
		t.Errorf("header = %q", lines[0])
	}
	// Empty string is quoted, NULL is a bare empty field.
	want := `A1,"",,true,2024-05-01T12:00:00Z,2024-05-01`
	if lines[1] != want {
		t.Errorf("row = %q, want %q", lines[1], want)
	}
}

func TestSink_QuotingSpecialCharacters(t *testing.T) {
	dir := t.TempDir()
	s, err := sink.New([]*schema.TableDefinition{testTable()}, sink.Options{Dir: dir})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	row := []any{"A1", "say \"hi\", twice\nplease", nil, nil, nil, nil}
	if err := s.Accept(context.Background(), "authors", row); err != nil {
		t.Fatalf("accept: %v", err)
	}
	outs, err := s.FinalizeAll()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	content := readFile(t, outs[0].Path)
	if !strings.Contains(content, "\"say \"\"hi\"\", twice\nplease\"") {
		t.Errorf("quoting wrong, content:\n%s", content)
	}
}

func TestSink_EmptyTableStillGetsFile(t *testing.T) {
	dir := t.TempDir()
	s, err := sink.New([]*schema.TableDefinition{testTable()}, sink.Options{Dir: dir})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	outs, err := s.FinalizeAll()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if outs[0].Rows != 0 {
		t.Errorf("rows = %d, want 0", outs[0].Rows)
	}
	content := readFile(t, filepath.Join(dir, "authors.csv"))
	if content != "id,note,n,ok,at,d\n" {
		t.Errorf("empty table file = %q", content)
	}
}

func TestSink_RejectsWrongColumnCount(t *testing.T) {
	dir := t.TempDir()
	s, err := sink.New([]*schema.TableDefinition{testTable()}, sink.Options{Dir: dir})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	defer s.Close()

	if err := s.Accept(context.Background(), "authors", []any{"A1"}); err == nil {
		t.Error("expected error for short row")
	}
	if err := s.Accept(context.Background(), "nope", []any{"A1"}); err == nil {
		t.Error("expected error for unknown table")
	}
}

func TestSink_ConcurrentProducers(t *testing.T) {
	dir := t.TempDir()
	// Small queue so producers hit backpressure.
	s, err := sink.New([]*schema.TableDefinition{testTable()}, sink.Options{Dir: dir, QueueSize: 8, BatchSize: 16})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	const producers = 4
	const perProducer = 250
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				row := []any{"A1", "x", int64(i), false, nil, nil}
				if err := s.Accept(context.Background(), "authors", row); err != nil {
					t.Errorf("accept: %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	outs, err := s.FinalizeAll()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if outs[0].Rows != producers*perProducer {
		t.Errorf("rows = %d, want %d", outs[0].Rows, producers*perProducer)
	}
	lines := strings.Count(readFile(t, outs[0].Path), "\n")
	if lines != producers*perProducer+1 {
		t.Errorf("file has %d lines, want %d", lines, producers*perProducer+1)
	}
}

func TestSink_FinalizeIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := sink.New([]*schema.TableDefinition{testTable()}, sink.Options{Dir: dir})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if _, err := s.Finalize("authors"); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	if _, err := s.Finalize("authors"); err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	s.Close()
}

func TestSink_AcceptHonorsContext(t *testing.T) {
	dir := t.TempDir()
	s, err := sink.New([]*schema.TableDefinition{testTable()}, sink.Options{Dir: dir})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// A cancelled context must not deadlock even if the queue is busy.
	err = s.Accept(ctx, "authors", []any{"A1", nil, nil, nil, nil, nil})
	if err != nil && err != context.Canceled {
		t.Fatalf("unexpected error: %v", err)
	}
}
