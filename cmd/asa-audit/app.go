package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hejijunhao/asa-audit/internal/config"
	"github.com/hejijunhao/asa-audit/internal/connector/httpclient"
	"github.com/hejijunhao/asa-audit/internal/connector/scaleft"
	"github.com/hejijunhao/asa-audit/internal/logging"
	"github.com/hejijunhao/asa-audit/internal/output"
	"github.com/hejijunhao/asa-audit/internal/output/file"
	"github.com/hejijunhao/asa-audit/internal/output/multi"
	"github.com/hejijunhao/asa-audit/internal/output/stdout"
	"github.com/hejijunhao/asa-audit/internal/output/webhook"
	"github.com/hejijunhao/asa-audit/internal/runner"
	"github.com/hejijunhao/asa-audit/internal/secrets"
	"github.com/hejijunhao/asa-audit/internal/telemetry"
)

// app holds everything one invocation builds from configuration.
type app struct {
	logger  *zap.Logger
	runner  *runner.Runner
	out     output.Output
	tracing *telemetry.Provider
}

func newApp(ctx context.Context, v *viper.Viper) (*app, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)

	tracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
		Environment: cfg.Collect.Environment,
	})
	if err != nil {
		return nil, err
	}

	store, err := newSecretStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	hc := httpclient.New(
		httpclient.WithTimeout(cfg.API.Timeout),
		httpclient.WithMaxRetries(cfg.API.MaxRetries),
	)
	client, err := scaleft.New(cfg.API.BaseURL, cfg.API.Team, hc)
	if err != nil {
		return nil, err
	}

	out, err := newOutput(cfg, logger)
	if err != nil {
		return nil, err
	}

	r := runner.New(cfg, client, store, out,
		runner.WithLogger(logger),
		runner.WithTracer(tracing.Tracer()),
	)
	return &app{logger: logger, runner: r, out: out, tracing: tracing}, nil
}

// close flushes and closes the outputs. An output that fails to deliver its
// last records fails the invocation; a tracing shutdown error is only logged.
func (a *app) close(ctx context.Context) error {
	err := a.out.Close()
	if err != nil {
		a.logger.Error("closing outputs", zap.Error(err))
		err = fmt.Errorf("close outputs: %w", err)
	}
	if terr := a.tracing.Shutdown(ctx); terr != nil {
		a.logger.Warn("tracing shutdown", zap.Error(terr))
	}
	_ = a.logger.Sync()
	return err
}

func newSecretStore(ctx context.Context, cfg config.Config) (secrets.Store, error) {
	switch cfg.Secrets.Store {
	case config.SecretStoreEnv:
		return secrets.Env{}, nil
	case config.SecretStoreSSM:
		store, err := secrets.NewSSM(ctx)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown secret store %q", config.ErrInvalidConfig, cfg.Secrets.Store)
	}
}

// newOutput builds the configured sinks in order behind one fan-out.
func newOutput(cfg config.Config, logger *zap.Logger) (output.Output, error) {
	var named []multi.Named
	for _, kind := range cfg.Output.Kinds {
		switch kind {
		case config.OutputStdout:
			named = append(named, multi.Named{Name: kind, Output: stdout.New()})
		case config.OutputFile:
			opts := []file.Option{
				file.WithMaxSize(cfg.Output.FileMaxSizeMB),
				file.WithMaxBackups(cfg.Output.FileMaxBackups),
				file.WithMaxAge(cfg.Output.FileMaxAgeDays),
			}
			if cfg.Output.FileCompress {
				opts = append(opts, file.WithCompress())
			}
			f, err := file.New(cfg.Output.FilePath, opts...)
			if err != nil {
				multi.New(named...).Close()
				return nil, err
			}
			named = append(named, multi.Named{Name: kind, Output: f})
		case config.OutputWebhook:
			named = append(named, multi.Named{Name: kind, Output: webhook.New(cfg.Output.WebhookURL,
				webhook.WithHeaders(cfg.Output.WebhookHeaders),
				webhook.WithBearerToken(cfg.Output.WebhookToken),
				webhook.WithBatchSize(cfg.Output.WebhookBatchSize),
				webhook.WithFlushInterval(cfg.Output.WebhookFlushEvery),
				webhook.WithClient(httpclient.New(httpclient.WithMaxRetries(cfg.API.MaxRetries))),
				webhook.WithLogger(logger),
			)})
		default:
			multi.New(named...).Close()
			return nil, fmt.Errorf("%w: unknown output %q", config.ErrInvalidConfig, kind)
		}
	}
	if len(named) == 1 {
		return named[0].Output, nil
	}
	return multi.New(named...), nil
}
