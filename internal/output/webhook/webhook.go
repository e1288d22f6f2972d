package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hejijunhao/asa-audit/internal/connector/httpclient"
	"github.com/hejijunhao/asa-audit/internal/model"
)

const (
	defaultBatchSize     = 50
	defaultFlushInterval = 5 * time.Second
	defaultTimeout       = 10 * time.Second
)

// Option configures a webhook Output.
type Option func(*Output)

// WithHeaders sets custom HTTP headers sent with every POST.
func WithHeaders(h map[string]string) Option {
	return func(o *Output) {
		for k, v := range h {
			o.headers.Set(k, v)
		}
	}
}

// WithBearerToken authenticates every POST with the given token.
func WithBearerToken(token string) Option {
	return func(o *Output) {
		if token != "" {
			o.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithBatchSize sets the number of records accumulated before a flush. Default: 50.
func WithBatchSize(n int) Option {
	return func(o *Output) { o.batchSize = n }
}

// WithFlushInterval sets the maximum time between flushes. Default: 5s.
func WithFlushInterval(d time.Duration) Option {
	return func(o *Output) { o.flushInterval = d }
}

// WithClient replaces the HTTP client. Default: 10s timeout, 3 retries on 429/5xx.
func WithClient(c *httpclient.Client) Option {
	return func(o *Output) { o.client = c }
}

// WithLogger sets the logger used to report timer-triggered flush failures.
func WithLogger(l *zap.Logger) Option {
	return func(o *Output) { o.logger = l }
}

// Output POSTs batched records to an HTTP endpoint as a JSON array.
// Records accumulate in an internal buffer and are flushed when batchSize is
// reached, flushInterval elapses, or the output is closed.
type Output struct {
	client        *httpclient.Client
	url           string
	headers       http.Header
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger

	mu      sync.Mutex
	pending []model.Record
	timer   *time.Timer
	// timerErr holds a failed timer-triggered flush until the next Write or Close.
	timerErr error
}

// New creates a webhook output targeting the given URL.
func New(url string, opts ...Option) *Output {
	o := &Output{
		client:        httpclient.New(httpclient.WithTimeout(defaultTimeout)),
		url:           url,
		headers:       http.Header{},
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		logger:        zap.NewNop(),
	}
	o.headers.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Write appends a record to the batch. When batchSize is reached, the batch
// is flushed immediately. A timer is started on the first record so the
// batch flushes even if batchSize is never reached. A failed timer flush is
// returned by the next Write, and the record is not queued.
func (o *Output) Write(ctx context.Context, record model.Record) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.takeTimerErr(); err != nil {
		return err
	}
	o.pending = append(o.pending, record)

	if len(o.pending) >= o.batchSize {
		return o.flushLocked(ctx)
	}

	if len(o.pending) == 1 {
		o.timer = time.AfterFunc(o.flushInterval, func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if err := o.flushLocked(context.Background()); err != nil {
				o.logger.Warn("webhook flush error", zap.Error(err))
				o.timerErr = err
			}
		})
	}
	return nil
}

// Close flushes any remaining records and stops the timer. It also reports a
// timer flush failure not yet returned by Write.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	return errors.Join(o.takeTimerErr(), o.flushLocked(context.Background()))
}

func (o *Output) takeTimerErr() error {
	err := o.timerErr
	o.timerErr = nil
	return err
}

// flushLocked sends the pending batch. Caller must hold o.mu.
func (o *Output) flushLocked(ctx context.Context) error {
	if len(o.pending) == 0 {
		return nil
	}
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}

	batch := o.pending
	o.pending = nil

	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	if _, err := o.client.Post(ctx, o.url, o.headers, body); err != nil {
		return fmt.Errorf("webhook: %d records: %w", len(batch), err)
	}
	return nil
}
