package file

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hejijunhao/asa-audit/internal/model"
	"github.com/hejijunhao/asa-audit/internal/output"
)

const (
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 5
	defaultMaxAgeDays = 30
)

// Option configures a file Output.
type Option func(*lumberjack.Logger)

// WithMaxSize sets the file size in megabytes at which rotation triggers. Default: 100.
func WithMaxSize(mb int) Option {
	return func(l *lumberjack.Logger) { l.MaxSize = mb }
}

// WithMaxBackups sets how many rotated files are kept. Default: 5.
func WithMaxBackups(n int) Option {
	return func(l *lumberjack.Logger) { l.MaxBackups = n }
}

// WithMaxAge sets how many days rotated files are kept. Default: 30.
func WithMaxAge(days int) Option {
	return func(l *lumberjack.Logger) { l.MaxAge = days }
}

// WithCompress gzips rotated files.
func WithCompress() Option {
	return func(l *lumberjack.Logger) { l.Compress = true }
}

// Output appends JSON lines to a size-rotated file.
type Output struct {
	mu   sync.Mutex
	lj   *lumberjack.Logger
	core zapcore.Core
}

// New creates a file output that writes JSON lines to path. The file and its
// directory are created on first write.
func New(path string, opts ...Option) (*Output, error) {
	if path == "" {
		return nil, fmt.Errorf("file output: empty path")
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    defaultMaxSizeMB,
		MaxBackups: defaultMaxBackups,
		MaxAge:     defaultMaxAgeDays,
	}
	for _, opt := range opts {
		opt(lj)
	}
	return &Output{lj: lj, core: output.NewCore(zapcore.AddSync(lj))}, nil
}

// Write encodes the record and appends it as a line to the file.
func (o *Output) Write(_ context.Context, record model.Record) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := output.WriteRecord(o.core, record); err != nil {
		return fmt.Errorf("file output: write: %w", err)
	}
	return nil
}

// Close closes the file.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.lj.Close(); err != nil {
		return fmt.Errorf("file output: close: %w", err)
	}
	return nil
}
