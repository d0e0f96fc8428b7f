package source_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bibflat/internal/source"
)

func TestJSONLSource_ReadsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "works.jsonl")
	content := `{"id":"W1","title":"first"}

{"id":"W2","title":"second"}
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	src, err := source.Get("jsonl_file")
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	recCh, errCh := src.Read(context.Background(), source.Config{
		"filePath": path,
		"entity":   "work",
	})

	var recs []source.Record
	for rec := range recCh {
		recs = append(recs, rec)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2 (blank lines skipped)", len(recs))
	}
	if recs[0].Entity != "work" || recs[0].Data["id"] != "W1" {
		t.Errorf("first record = %+v", recs[0])
	}
	if recs[1].Data["title"] != "second" {
		t.Errorf("second record = %+v", recs[1])
	}
}

func TestJSONLSource_InvalidLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	if err := os.WriteFile(path, []byte("{\"id\":\"W1\"}\nnot json\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	src, _ := source.Get("jsonl_file")
	recCh, errCh := src.Read(context.Background(), source.Config{
		"filePath": path,
		"entity":   "work",
	})
	for range recCh {
	}
	err := <-errCh
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected parse error naming line 2, got %v", err)
	}
}

func TestJSONLSource_MissingConfig(t *testing.T) {
	src, _ := source.Get("jsonl_file")

	recCh, errCh := src.Read(context.Background(), source.Config{"entity": "work"})
	for range recCh {
	}
	if err := <-errCh; err == nil {
		t.Error("expected error for missing filePath")
	}

	recCh, errCh = src.Read(context.Background(), source.Config{"filePath": "/tmp/x.jsonl"})
	for range recCh {
	}
	if err := <-errCh; err == nil {
		t.Error("expected error for missing entity")
	}
}

func TestJSONLSource_ContextCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "many.jsonl")
	var b strings.Builder
	for i := 0; i < 5000; i++ {
		b.WriteString(`{"id":"W1"}` + "\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	src, _ := source.Get("jsonl_file")
	recCh, errCh := src.Read(ctx, source.Config{"filePath": path, "entity": "work"})

	// Take a few records, then cancel; the channel must close.
	for i := 0; i < 3; i++ {
		<-recCh
	}
	cancel()
	for range recCh {
	}
	<-errCh
}

func TestSourceRegistry(t *testing.T) {
	if _, err := source.Get("carrier_pigeon"); err == nil {
		t.Error("expected error for unknown source type")
	}
	specs := source.List()
	types := make(map[string]bool, len(specs))
	for _, s := range specs {
		types[s.Type] = true
	}
	for _, want := range []string{"jsonl_file", "openalex_api", "mongodb"} {
		if !types[want] {
			t.Errorf("source %q not registered", want)
		}
	}
}
