package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jrsteele09/go-coach-engine/credentials"
	"github.com/jrsteele09/go-coach-engine/credentials/badgerrepo"
	"github.com/jrsteele09/go-coach-engine/gateway"
	"github.com/jrsteele09/go-coach-engine/internal/config"
	"github.com/jrsteele09/go-coach-engine/internal/logging"
	"github.com/jrsteele09/go-coach-engine/orchestrator"
	"github.com/jrsteele09/go-coach-engine/socialauth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// app holds everything one CLI invocation needs
type app struct {
	cfg      config.Config
	logger   zerolog.Logger
	repo     *badgerrepo.Repo
	store    *credentials.Store
	engine   *orchestrator.Engine
	registry *prometheus.Registry
}

func newApp(ctx context.Context) (*app, error) {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, fmt.Errorf("[newApp] load env: %w", err)
	}
	cfg := config.New()

	level := cfg.GetLogLevel()
	if verbose {
		level = "debug"
	}
	logger := logging.New(os.Stderr, level, cfg.GetEnv() == "DEV").With().Str("app", cfg.GetAppName()).Logger()

	repo, err := badgerrepo.Open(badgerrepo.Config{
		Path:   filepath.Join(cfg.GetCredentialsDir(), "session"),
		Logger: &logger,
	})
	if err != nil {
		return nil, fmt.Errorf("[newApp] %w", err)
	}
	store, err := credentials.NewStore(repo, credentials.WithLogger(logger))
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("[newApp] %w", err)
	}

	registry := prometheus.NewRegistry()
	client := gateway.NewHTTPClient(cfg.GetAPIBaseURL(), store,
		gateway.WithTimeout(cfg.GetRequestTimeout()),
		gateway.WithRateLimit(cfg.GetRateLimit(), cfg.GetRateBurst()),
		gateway.WithRetries(cfg.GetMaxRetries(), cfg.GetRetryBackoff()),
		gateway.WithMetrics(gateway.NewCollector(registry)),
		gateway.WithLogger(logger),
	)

	options := []orchestrator.EngineOption{
		orchestrator.WithLogger(logger),
		orchestrator.WithAdminEmails(cfg.GetAdminEmails()...),
	}
	if cfg.GetOIDCClientID() != "" {
		flow, err := socialauth.NewFlow(ctx, socialauth.Config{
			Provider:     "google",
			Issuer:       cfg.GetOIDCIssuer(),
			ClientID:     cfg.GetOIDCClientID(),
			ClientSecret: cfg.GetOIDCClientSecret(),
			RedirectURL:  cfg.GetOIDCRedirectURL(),
		}, client, socialauth.WithLogger(logger))
		if err != nil {
			logger.Warn().Err(err).Msg("Social sign-in unavailable")
		} else {
			options = append(options, orchestrator.WithSocialAuth(flow))
		}
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		repo:     repo,
		store:    store,
		engine:   orchestrator.NewEngine(client, store, options...),
		registry: registry,
	}, nil
}

// start restores the persisted session, loading the dashboard when linked
func (a *app) start(ctx context.Context) error {
	return a.engine.Start(ctx)
}

func (a *app) close() {
	if verbose {
		a.logCallMetrics()
	}
	if err := a.repo.Close(); err != nil {
		a.logger.Err(err).Msg("Failed to close credential store")
	}
}

// logCallMetrics writes the gateway call counters gathered during this run
func (a *app) logCallMetrics() {
	families, err := a.registry.Gather()
	if err != nil {
		a.logger.Err(err).Msg("Failed to gather metrics")
		return
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			ev := a.logger.Debug().Str("metric", mf.GetName())
			for _, lp := range m.GetLabel() {
				ev = ev.Str(lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				ev = ev.Float64("value", m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				ev = ev.Uint64("count", m.GetHistogram().GetSampleCount()).Float64("sum", m.GetHistogram().GetSampleSum())
			}
			ev.Msg("Gateway metrics")
		}
	}
}

// withApp builds the app, optionally restores the session, runs fn and closes the app
func withApp(ctx context.Context, restore bool, fn func(*app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if restore {
		if err := a.start(ctx); err != nil {
			return err
		}
	}
	return fn(a)
}
