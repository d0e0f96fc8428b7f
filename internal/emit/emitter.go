package emit

import (
	"fmt"
	"strings"

	"bibflat/internal/schema"
	"bibflat/internal/sink"
)

// Emitter exposes finalized per-table outputs in load order. It does
// not perform the load itself; the loader (or an external bulk-copy
// command) consumes the ordered streams.
type Emitter struct {
	reg *schema.Registry
}

func New(reg *schema.Registry) *Emitter {
	return &Emitter{reg: reg}
}

// Order returns the emission order for every table in the registry.
func (e *Emitter) Order() ([]string, error) {
	return Order(e.reg.Tables())
}

// Arrange sorts finalized sink outputs into emission order. Outputs
// for unknown tables are rejected; tables without output are skipped.
func (e *Emitter) Arrange(outputs []sink.TableOutput) ([]sink.TableOutput, error) {
	byName := make(map[string]sink.TableOutput, len(outputs))
	for _, out := range outputs {
		if _, ok := e.reg.Table(out.Table); !ok {
			return nil, fmt.Errorf("emit: output for unknown table %q", out.Table)
		}
		byName[out.Table] = out
	}
	order, err := e.Order()
	if err != nil {
		return nil, err
	}
	arranged := make([]sink.TableOutput, 0, len(byName))
	for _, name := range order {
		if out, ok := byName[name]; ok {
			arranged = append(arranged, out)
		}
	}
	return arranged, nil
}

// LoadScript renders a psql script that bulk-copies every output in
// emission order. Paths are quoted as psql expects.
func (e *Emitter) LoadScript(outputs []sink.TableOutput) (string, error) {
	arranged, err := e.Arrange(outputs)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("-- generated load script; run with psql -f\n")
	for _, out := range arranged {
		fmt.Fprintf(&b, "\\copy %s (%s) from '%s' with (format csv, header true)\n",
			out.Table, strings.Join(out.Columns, ", "), out.Path)
	}
	return b.String(), nil
}
