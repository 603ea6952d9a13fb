package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/harun/goose/internal/config"
	"github.com/harun/goose/internal/logger"
	"github.com/harun/goose/internal/observability"
	"github.com/harun/goose/internal/tracing"
	"github.com/harun/goose/pkg/coretools"
	"github.com/harun/goose/pkg/exchange"
	"github.com/harun/goose/pkg/moderation"
	"github.com/harun/goose/pkg/provider"
	"github.com/harun/goose/pkg/session"
	"github.com/harun/goose/pkg/stats"
	"github.com/harun/goose/pkg/toolexecutor"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// newProvider builds model backends; tests replace it with a scripted backend.
var newProvider = provider.New

// app holds what every command needs: the loaded config, the process logger and the
// session store.
type app struct {
	loader      *config.Loader
	cfg         *config.Config
	logger      *logger.Logger
	store       *session.Store
	stopMetrics context.CancelFunc
}

// newApp loads configuration and sets up logging. Commands that talk to a model also
// call startTelemetry.
func newApp(cmd *cobra.Command) (*app, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	applyFlags(cmd, cfg)

	lg, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		Console:    cfg.Logging.Pretty,
		Pretty:     cfg.Logging.Pretty,
		Redaction:  cfg.Logging.Redaction,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
		Out:        cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	store, err := session.NewStore(cfg.SessionsDir)
	if err != nil {
		lg.Close()
		return nil, err
	}

	return &app{
		loader: loader,
		cfg:    cfg,
		logger: lg,
		store:  store,
	}, nil
}

// applyFlags lets explicitly set global flags override the config file.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
}

// startTelemetry installs the tracer provider and audit log and serves metrics when an
// address is configured.
func (a *app) startTelemetry(ctx context.Context) {
	if err := tracing.InitOpenTelemetry("goose", version); err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	}
	if err := observability.InitAuditLogger(filepath.Join(a.cfg.LogDir, "audit.log")); err != nil {
		log.Warn().Err(err).Msg("Audit log disabled")
	}

	if a.cfg.MetricsAddr == "" {
		return
	}
	metricsCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopMetrics = cancel
	go func() {
		if err := observability.Serve(metricsCtx, a.cfg.MetricsAddr); err != nil {
			log.Error().Err(err).Str("addr", a.cfg.MetricsAddr).Msg("Metrics endpoint failed")
		}
	}()
}

// Close stops telemetry and closes the log.
func (a *app) Close() {
	if a.stopMetrics != nil {
		a.stopMetrics()
	}
	if err := tracing.ShutdownOpenTelemetry(context.Background()); err != nil {
		log.Debug().Err(err).Msg("Tracer shutdown failed")
	}
	if err := observability.GetAuditLogger().Close(); err != nil {
		log.Debug().Err(err).Msg("Audit log close failed")
	}
	a.logger.Close()
}

// liveSession is one session plus the resources it owns.
type liveSession struct {
	session  *session.Session
	toolkits []*coretools.Toolkit
	ledger   *stats.Ledger
}

// Close terminates the session and releases its toolkits and ledger.
func (r *liveSession) Close(ctx context.Context) error {
	errs := []error{r.session.Close(ctx), coretools.CloseAll(r.toolkits)}
	if r.ledger != nil {
		errs = append(errs, r.ledger.Close())
	}
	return errors.Join(errs...)
}

// openSession wires a profile into a session: toolkits into a registry and executor, the
// backend into an exchange, and the exchange into a persisted session.
func (a *app) openSession(ctx context.Context, name string, profile config.Profile, op session.Operator) (*liveSession, error) {
	rc := a.cfg.Runtime

	policy, err := session.ParseInterruptPolicy(rc.InterruptPolicy)
	if err != nil {
		return nil, err
	}

	prov, err := newProvider(provider.Config{
		Provider: profile.Provider,
		APIKey:   config.APIKey(profile.Provider),
		Retry:    provider.DefaultRetryConfig(),
	})
	if err != nil {
		return nil, err
	}

	toolkits, err := coretools.Build(profile.ToolkitNames(), coretools.Options{})
	if err != nil {
		return nil, err
	}
	registry := toolexecutor.NewRegistry()
	if err := coretools.Register(registry, toolkits...); err != nil {
		coretools.CloseAll(toolkits)
		return nil, err
	}
	executor := toolexecutor.New(registry, toolexecutor.Options{Timeout: rc.ToolTimeout})

	mod, err := moderation.New(profile.Moderator, moderation.Options{})
	if err != nil {
		coretools.CloseAll(toolkits)
		return nil, err
	}

	ex, err := exchange.New(exchange.Config{
		Provider:     prov,
		Executor:     executor,
		Model:        profile.Processor,
		SystemPrompt: coretools.SystemPrompt(toolkits),
		MaxTokens:    profile.MaxTokens,
		Temperature:  profile.Temperature,
		Timeout:      rc.ProviderTimeout,
		Moderator:    mod,
	})
	if err != nil {
		coretools.CloseAll(toolkits)
		return nil, err
	}

	ledger, err := stats.OpenLedger(a.cfg.StatsDB)
	if err != nil {
		log.Warn().Err(err).Str("path", a.cfg.StatsDB).Msg("Session stats will not be recorded")
		ledger = nil
	}

	scfg := session.Config{
		Name:            name,
		Exchange:        ex,
		Store:           a.store,
		Operator:        op,
		InterruptPolicy: policy,
		ToolConcurrency: rc.ToolConcurrency,
		MaxToolRounds:   rc.MaxToolRounds,
		CostPerToken:    rc.CostPerToken,
	}
	if ledger != nil {
		scfg.Ledger = ledger
	}

	sess, err := session.New(ctx, scfg)
	if err != nil {
		coretools.CloseAll(toolkits)
		if ledger != nil {
			ledger.Close()
		}
		return nil, err
	}

	return &liveSession{session: sess, toolkits: toolkits, ledger: ledger}, nil
}
