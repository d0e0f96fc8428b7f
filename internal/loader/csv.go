package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"bibflat/internal/schema"
)

// readRows streams one finalized CSV file row by row, converting each
// field to a driver-friendly value. An empty field is NULL; the writer
// emits empty strings as quoted `""`, which encoding/csv cannot tell
// apart from an empty field, so the direct-load path maps both to NULL.
// Loads that must preserve empty strings go through the psql script
// instead.
func readRows(path string, def *schema.TableDefinition, fn func(vals []any) error) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true
	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("read header of %s: %w", path, err)
	}
	if len(header) != len(def.Columns) {
		return 0, fmt.Errorf("%s: header has %d columns, table %q has %d",
			path, len(header), def.Name, len(def.Columns))
	}

	var count int64
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read %s: %w", path, err)
		}
		vals := make([]any, len(record))
		for i, field := range record {
			v, err := fieldValue(field, def.Columns[i].Type)
			if err != nil {
				return count, fmt.Errorf("%s row %d column %q: %w", path, count+1, def.Columns[i].Name, err)
			}
			vals[i] = v
		}
		if err := fn(vals); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// fieldValue converts one CSV field back to a typed value. Temporal
// values stay as their canonical strings; every driver here accepts
// them in that form.
func fieldValue(field string, t schema.ScalarType) (any, error) {
	if field == "" {
		return nil, nil
	}
	switch t {
	case schema.TypeInteger:
		n, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse integer %q: %w", field, err)
		}
		return n, nil
	case schema.TypeFloat:
		f, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("parse float %q: %w", field, err)
		}
		return f, nil
	case schema.TypeBoolean:
		b, err := strconv.ParseBool(field)
		if err != nil {
			return nil, fmt.Errorf("parse boolean %q: %w", field, err)
		}
		return b, nil
	default:
		return field, nil
	}
}
