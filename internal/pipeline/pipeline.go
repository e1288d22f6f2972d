package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/hejijunhao/asa-audit/internal/connector/scaleft"
	"github.com/hejijunhao/asa-audit/internal/enrich"
	"github.com/hejijunhao/asa-audit/internal/metrics"
	"github.com/hejijunhao/asa-audit/internal/model"
	"github.com/hejijunhao/asa-audit/internal/output"
)

// PageFetcher retrieves one page of the audit feed.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL string, token scaleft.Token) (model.Page, error)
}

// StopReason says why a traversal ended.
type StopReason string

const (
	// StopWindow: an event older than the window was reached.
	StopWindow StopReason = "window"
	// StopExhausted: the last page carried no link header.
	StopExhausted StopReason = "exhausted"
	// StopPageLimit: the page cap was reached with every event still in the window.
	StopPageLimit StopReason = "page_limit"
)

// Options controls one traversal.
type Options struct {
	Window                 time.Duration
	Environment            string
	MaxPages               int // 0 means unbounded
	FailOnMissingReference bool
	RunID                  string
}

// Result summarizes a traversal.
type Result struct {
	Pages      int
	Emitted    int
	Skipped    int
	Unresolved int
	Stop       StopReason
	RateLimit  model.RateLimit // from the most recent page response
}

// Collector walks the audit feed newest-first and writes every event inside
// the window to the output.
type Collector struct {
	fetcher PageFetcher
	out     output.Output
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the diagnostic logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Collector) { c.logger = l }
}

// WithMetrics sets the metric set updated during traversal.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Collector) { c.metrics = m }
}

// WithTracer sets the tracer used for per-page spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Collector) { c.tracer = t }
}

// New creates a Collector.
func New(fetcher PageFetcher, out output.Output, opts Options, options ...Option) *Collector {
	c := &Collector{
		fetcher: fetcher,
		out:     out,
		opts:    opts,
		logger:  zap.NewNop(),
		metrics: metrics.New(),
		tracer:  noop.NewTracerProvider().Tracer(""),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Collect traverses the feed starting at startURL. runStart is the fixed
// reference instant for the window; it does not move while pages are fetched.
//
// Traversal stops at the first event older than the window, when a page has
// no next link, or when MaxPages pages have been fetched. Any fetch, parse or
// output error aborts the traversal; records already written stand.
func (c *Collector) Collect(ctx context.Context, startURL string, token scaleft.Token, runStart time.Time) (Result, error) {
	var res Result
	pageURL := startURL

	for {
		if c.opts.MaxPages > 0 && res.Pages >= c.opts.MaxPages {
			c.logger.Warn("page limit reached with events still inside the window",
				zap.Int("max_pages", c.opts.MaxPages),
				zap.Int("emitted", res.Emitted))
			res.Stop = StopPageLimit
			return res, nil
		}

		page, err := c.fetch(ctx, pageURL, token, res.Pages+1)
		res.RateLimit = page.RateLimit
		if err != nil {
			return res, fmt.Errorf("collect: page %d: %w", res.Pages+1, err)
		}
		res.Pages++
		c.metrics.PagesFetched.Inc()
		c.logger.Debug("page fetched",
			zap.Int("page", res.Pages),
			zap.Int("events", len(page.Events)),
			zap.Bool("has_next", page.Next != ""))

		outside, err := c.processPage(ctx, page, runStart, &res)
		if err != nil {
			return res, fmt.Errorf("collect: page %d: %w", res.Pages, err)
		}
		if outside {
			res.Stop = StopWindow
			return res, nil
		}
		if page.Next == "" {
			res.Stop = StopExhausted
			return res, nil
		}
		pageURL = page.Next
	}
}

func (c *Collector) fetch(ctx context.Context, pageURL string, token scaleft.Token, n int) (model.Page, error) {
	ctx, span := c.tracer.Start(ctx, "asa.fetch_page", trace.WithAttributes(attribute.Int("asa.page", n)))
	defer span.End()

	page, err := c.fetcher.FetchPage(ctx, pageURL, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return page, err
	}
	span.SetAttributes(attribute.Int("asa.events", len(page.Events)))
	return page, nil
}

// processPage emits the page's in-window events in order. It reports true as
// soon as an event falls outside the window; since the feed is descending,
// every later event would too.
func (c *Collector) processPage(ctx context.Context, page model.Page, runStart time.Time, res *Result) (bool, error) {
	for i, event := range page.Events {
		ts, ok, err := event.Timestamp()
		if err != nil {
			return false, fmt.Errorf("%w: event %d: %w", scaleft.ErrParse, i, err)
		}
		if !ok {
			res.Skipped++
			c.metrics.EventsSkipped.WithLabelValues("no_timestamp").Inc()
			continue
		}
		if age(runStart, ts) > c.opts.Window {
			c.logger.Debug("event outside window",
				zap.Time("event_time", ts),
				zap.Duration("window", c.opts.Window))
			return true, nil
		}

		enriched, refErrs := enrich.Enrich(event, page.Related)
		for _, refErr := range refErrs {
			res.Unresolved++
			c.metrics.UnresolvedReferences.WithLabelValues(refErr.Field).Inc()
			if c.opts.FailOnMissingReference {
				return false, fmt.Errorf("event %d: %w", i, refErr)
			}
			c.logger.Warn("passing through unresolved reference",
				zap.Any("event_id", event["id"]),
				zap.Error(refErr))
		}

		if err := c.out.Write(ctx, c.record(enriched)); err != nil {
			return false, fmt.Errorf("output: %w", err)
		}
		res.Emitted++
		c.metrics.EventsEmitted.Inc()
	}
	return false, nil
}

func (c *Collector) record(event model.Event) model.Record {
	r := model.Record{
		Time:      time.Now().UTC(),
		Message:   event.String(),
		EventType: model.EventTypeEvent,
		Method:    model.MethodCollect,
		Env:       c.opts.Environment,
	}
	if c.opts.RunID != "" {
		r.Fields = map[string]any{"run_id": c.opts.RunID}
	}
	return r
}

// age is the absolute distance between the run start and an event.
func age(runStart, ts time.Time) time.Duration {
	d := runStart.Sub(ts)
	if d < 0 {
		return -d
	}
	return d
}
