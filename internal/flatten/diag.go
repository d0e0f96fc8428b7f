package flatten

// Diagnostic describes one skipped record or nulled field with enough
// context to find and fix the source data or schema.
type Diagnostic struct {
	Entity    string `json:"entity"`
	Key       string `json:"key"`
	FieldPath string `json:"fieldPath,omitempty"`
	Detail    string `json:"detail"`
	Value     any    `json:"value,omitempty"`
}

// DiagnosticFunc receives diagnostics as they are produced. It is
// called from whichever goroutine is flattening, so implementations
// must be safe for concurrent use.
type DiagnosticFunc func(Diagnostic)
