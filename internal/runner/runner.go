// Package runner drives one collection run: credentials, token exchange,
// traversal, and the closing rate-limit summary.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/hejijunhao/asa-audit/internal/config"
	"github.com/hejijunhao/asa-audit/internal/connector/scaleft"
	"github.com/hejijunhao/asa-audit/internal/metrics"
	"github.com/hejijunhao/asa-audit/internal/model"
	"github.com/hejijunhao/asa-audit/internal/output"
	"github.com/hejijunhao/asa-audit/internal/pipeline"
	"github.com/hejijunhao/asa-audit/internal/secrets"
)

// API is the slice of the ASA client a run needs.
type API interface {
	pipeline.PageFetcher
	Authenticate(ctx context.Context, keyID, keySecret string) (scaleft.Token, model.RateLimit, error)
	AuditsURL() string
}

// Summary describes a completed run.
type Summary struct {
	RunID     string
	Start     time.Time
	Duration  time.Duration
	Result    pipeline.Result
	RateLimit model.RateLimit
}

// Runner executes collection runs against one team.
type Runner struct {
	cfg     config.Config
	api     API
	store   secrets.Store
	out     output.Output
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the diagnostic logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMetrics sets the metric set. Without it every run gets a fresh one.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithTracer sets the tracer for run, authentication and page spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) { r.tracer = t }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a Runner. cfg must already be validated.
func New(cfg config.Config, api API, store secrets.Store, out output.Output, opts ...Option) *Runner {
	r := &Runner{
		cfg:    cfg,
		api:    api,
		store:  store,
		out:    out,
		logger: zap.NewNop(),
		tracer: noop.NewTracerProvider().Tracer(""),
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run performs one collection. The window is measured from the instant Run
// starts. On any error the summary record is not written; records emitted
// before the error stand.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	m := r.metrics
	if m == nil {
		m = metrics.New()
	}
	sum := Summary{RunID: uuid.NewString(), Start: r.now().UTC()}
	log := r.logger.With(zap.String("run_id", sum.RunID))

	ctx, span := r.tracer.Start(ctx, "asa.run", trace.WithAttributes(
		attribute.String("asa.run_id", sum.RunID),
		attribute.String("asa.team", r.cfg.API.Team),
		attribute.Int("asa.window_minutes", r.cfg.Collect.WindowMinutes),
	))
	defer span.End()

	log.Info("run started",
		zap.String("team", r.cfg.API.Team),
		zap.Int("window_minutes", r.cfg.Collect.WindowMinutes),
		zap.String("env", r.cfg.Collect.Environment))

	err := r.run(ctx, log, m, &sum)
	sum.Duration = r.now().Sub(sum.Start)
	m.RunDuration.Set(sum.Duration.Seconds())

	if err != nil {
		m.RunsTotal.WithLabelValues("failure").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("run failed", zap.Error(err), zap.Int("emitted", sum.Result.Emitted))
	} else {
		m.RunsTotal.WithLabelValues("success").Inc()
		m.LastSuccess.Set(float64(r.now().Unix()))
		span.SetAttributes(
			attribute.Int("asa.pages", sum.Result.Pages),
			attribute.Int("asa.emitted", sum.Result.Emitted),
			attribute.String("asa.stop", string(sum.Result.Stop)))
		log.Info("run finished",
			zap.Int("pages", sum.Result.Pages),
			zap.Int("emitted", sum.Result.Emitted),
			zap.Int("skipped", sum.Result.Skipped),
			zap.Int("unresolved", sum.Result.Unresolved),
			zap.String("stop", string(sum.Result.Stop)),
			zap.Duration("duration", sum.Duration))
	}

	r.push(ctx, log, m)
	return sum, err
}

func (r *Runner) run(ctx context.Context, log *zap.Logger, m *metrics.Metrics, sum *Summary) error {
	token, rl, err := r.authenticate(ctx)
	if err != nil {
		return err
	}
	sum.RateLimit = rl
	m.SetRateLimit(rl.Remaining)
	log.Debug("authenticated", zap.String("ratelimit_remaining", rl.Remaining))

	collector := pipeline.New(r.api, r.out, pipeline.Options{
		Window:                 r.cfg.Window(),
		Environment:            r.cfg.Collect.Environment,
		MaxPages:               r.cfg.Collect.MaxPages,
		FailOnMissingReference: r.cfg.Collect.MissingReference == config.MissingReferenceFail,
		RunID:                  sum.RunID,
	},
		pipeline.WithLogger(log),
		pipeline.WithMetrics(m),
		pipeline.WithTracer(r.tracer),
	)

	res, err := collector.Collect(ctx, r.api.AuditsURL(), token, sum.Start)
	sum.Result = res
	if res.Pages > 0 || res.RateLimit.Observed {
		sum.RateLimit = res.RateLimit
	}
	m.SetRateLimit(sum.RateLimit.Remaining)
	if err != nil {
		return err
	}

	return r.out.Write(ctx, r.summaryRecord(sum))
}

func (r *Runner) authenticate(ctx context.Context) (scaleft.Token, model.RateLimit, error) {
	ctx, span := r.tracer.Start(ctx, "asa.authenticate")
	defer span.End()

	token, rl, err := r.credentialsAndToken(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return token, rl, err
}

func (r *Runner) credentialsAndToken(ctx context.Context) (scaleft.Token, model.RateLimit, error) {
	keyID, err := r.store.GetParameter(ctx, r.cfg.Secrets.APIKeyPath)
	if err != nil {
		return "", model.RateLimit{}, fmt.Errorf("%w: read api key: %w", scaleft.ErrAuthentication, err)
	}
	keySecret, err := r.store.GetParameter(ctx, r.cfg.Secrets.APISecretPath)
	if err != nil {
		return "", model.RateLimit{}, fmt.Errorf("%w: read api secret: %w", scaleft.ErrAuthentication, err)
	}
	return r.api.Authenticate(ctx, keyID, keySecret)
}

func (r *Runner) summaryRecord(sum *Summary) model.Record {
	return model.Record{
		Time:      r.now().UTC(),
		Message:   fmt.Sprintf("API requests left: %s", sum.RateLimit.Remaining),
		EventType: model.EventTypeRateLimit,
		Method:    model.MethodRun,
		Env:       r.cfg.Collect.Environment,
		Fields: map[string]any{
			"ratelimit_remaining": sum.RateLimit.Remaining,
			"run_id":              sum.RunID,
		},
	}
}

func (r *Runner) push(ctx context.Context, log *zap.Logger, m *metrics.Metrics) {
	if r.cfg.Metrics.PushgatewayURL == "" {
		return
	}
	if err := m.Push(ctx, r.cfg.Metrics.PushgatewayURL, r.cfg.Metrics.Job); err != nil {
		log.Warn("metrics push failed", zap.Error(err))
	}
}
