package multi

import (
	"context"
	"errors"
	"fmt"

	"github.com/hejijunhao/asa-audit/internal/model"
	"github.com/hejijunhao/asa-audit/internal/output"
)

// Named pairs an output with the name used in error messages.
type Named struct {
	Name   string
	Output output.Output
}

// Multi delivers every record to each wrapped output in order. A failing
// output does not stop delivery to the others; all failures are joined.
type Multi struct {
	outputs []Named
}

// New creates a Multi over the given outputs.
func New(outputs ...Named) *Multi {
	return &Multi{outputs: outputs}
}

// Len reports how many outputs are wrapped.
func (m *Multi) Len() int { return len(m.outputs) }

func (m *Multi) Write(ctx context.Context, record model.Record) error {
	var errs []error
	for _, n := range m.outputs {
		if err := n.Output.Write(ctx, record); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes outputs in reverse order of registration.
func (m *Multi) Close() error {
	var errs []error
	for i := len(m.outputs) - 1; i >= 0; i-- {
		n := m.outputs[i]
		if err := n.Output.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name, err))
		}
	}
	return errors.Join(errs...)
}
