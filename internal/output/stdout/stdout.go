package stdout

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap/zapcore"

	"github.com/hejijunhao/asa-audit/internal/model"
	"github.com/hejijunhao/asa-audit/internal/output"
)

// Output writes JSON-encoded records to stdout, one per line.
type Output struct {
	core zapcore.Core
}

// New creates a stdout Output.
func New() *Output {
	return NewWithWriter(os.Stdout)
}

// NewWithWriter creates an Output writing to w instead of stdout.
func NewWithWriter(w io.Writer) *Output {
	return &Output{core: output.NewCore(zapcore.Lock(zapcore.AddSync(w)))}
}

func (o *Output) Write(_ context.Context, record model.Record) error {
	if err := output.WriteRecord(o.core, record); err != nil {
		return fmt.Errorf("stdout output: %w", err)
	}
	return nil
}

// Close flushes the encoder. Sync errors on terminals and pipes are ignored.
func (o *Output) Close() error {
	_ = o.core.Sync()
	return nil
}
