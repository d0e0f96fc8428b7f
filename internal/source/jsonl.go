package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// ── JSONL File Source ───────────────────────────────────────
// Streams records from a line-delimited JSON dump, one record per
// line. This is the canonical offline input: harvested API pages are
// written out as JSONL and flattened later.

type jsonlSource struct{}

func init() { Register(&jsonlSource{}) }

func (s *jsonlSource) Spec() Spec {
	return Spec{
		Type:  "jsonl_file",
		Label: "JSONL File",
		ConfigFields: []ConfigField{
			{Key: "filePath", Label: "File Path", Required: true, Help: "Absolute path to the .jsonl file"},
			{Key: "entity", Label: "Entity Type", Required: true, Help: "Entity type of every record in the file (e.g. work)"},
		},
	}
}

func (s *jsonlSource) Read(ctx context.Context, cfg Config) (<-chan Record, <-chan error) {
	out := make(chan Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		filePath, _ := cfg["filePath"].(string)
		if filePath == "" {
			errCh <- fmt.Errorf("filePath is required")
			return
		}
		entity, _ := cfg["entity"].(string)
		if entity == "" {
			errCh <- fmt.Errorf("entity is required")
			return
		}

		f, err := os.Open(filePath)
		if err != nil {
			errCh <- fmt.Errorf("open file: %w", err)
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		// Abstracts and reference lists can make single records large.
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var data map[string]any
			if err := json.Unmarshal(line, &data); err != nil {
				errCh <- fmt.Errorf("parse line %d: %w", lineNo, err)
				return
			}
			select {
			case out <- Record{Entity: entity, Data: data}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- fmt.Errorf("read %s: %w", filePath, err)
		}
	}()

	return out, errCh
}
