package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tathienbao/tradegate/internal/alerting"
	"github.com/tathienbao/tradegate/internal/config"
	"github.com/tathienbao/tradegate/internal/gateway/ctp"
	"github.com/tathienbao/tradegate/internal/gateway/ctp/bridge"
	"github.com/tathienbao/tradegate/internal/gateway/ctp/sim"
	"github.com/tathienbao/tradegate/internal/logging"
	"github.com/tathienbao/tradegate/internal/metrics"
	"github.com/tathienbao/tradegate/internal/persistence"
	"github.com/tathienbao/tradegate/internal/registry"
	"github.com/tathienbao/tradegate/internal/tool"
)

// app holds the wired process dependencies.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	alerter  alerting.Alerter
	journal  *persistence.SQLiteJournal
	registry *registry.Registry
	tool     *tool.Tool

	logCloser io.Closer
}

// loadApp loads the configuration and wires every component. Nothing
// connects to the venue yet.
func loadApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, closer, err := logging.New(cfg.ToLoggingConfig(), os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, logCloser: closer}
	a.alerter = newAlerter(cfg, logger)

	var opts []registry.Option
	if cfg.Persistence.Enabled {
		journal, err := persistence.NewSQLiteJournal(cfg.Persistence.Path)
		if err != nil {
			_ = closer.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		a.journal = journal
		opts = append(opts, registry.WithJournal(journal))
	}

	a.registry = registry.New(cfg, logger, opts...)

	front, err := newFront(cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	session := ctp.NewSession(front, cfg.ToCTPConfig(), logger,
		ctp.WithAlerter(a.alerter),
		ctp.WithRecorder(metrics.NewRecorder()),
	)
	a.registry.Register(ctp.Platform, session)

	a.tool = tool.New(a.registry, logger)

	return a, nil
}

// newFront picks the CTP front named by gateway.front.
func newFront(cfg *config.Config, logger *slog.Logger) (ctp.API, error) {
	switch cfg.Gateway.Front {
	case config.FrontSim:
		logger.Info("using simulated CTP front", "account_id", cfg.ToSimConfig().AccountID)
		return sim.NewFront(cfg.ToSimConfig(), logger), nil
	case config.FrontBridge:
		bc := cfg.ToBridgeConfig()
		logger.Info("using CTP bridge", "url", bc.URL)
		return bridge.NewClient(bc, logger), nil
	default:
		return nil, fmt.Errorf("unknown gateway front %q", cfg.Gateway.Front)
	}
}

// newAlerter builds the configured alert channels. Alerting disabled yields
// a nil alerter, which every caller accepts.
func newAlerter(cfg *config.Config, logger *slog.Logger) alerting.Alerter {
	if !cfg.Alerting.Enabled {
		return nil
	}

	multi := alerting.NewMultiAlerter(logger)
	for _, ch := range cfg.Alerting.Channels {
		switch ch.Type {
		case "telegram":
			multi.AddAlerter(alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: ch.BotToken,
				ChatID:   ch.ChatID,
			}))
		case "console":
			multi.AddAlerter(alerting.NewConsoleAlerter(logger))
		}
	}
	if multi.Len() == 0 {
		multi.AddAlerter(alerting.NewConsoleAlerter(logger))
	}

	return alerting.NewFilterAlerter(multi, cfg.IsAlertEventEnabled)
}

// telegram returns the first configured telegram channel for summaries.
func (a *app) telegram() *alerting.TelegramAlerter {
	if !a.cfg.Alerting.Enabled {
		return nil
	}
	tc, ok := a.cfg.TelegramConfig()
	if !ok {
		return nil
	}
	return alerting.NewTelegramAlerter(tc)
}

// connectEnabled connects every enabled account of every configured platform
// that has a registered session.
func (a *app) connectEnabled(ctx context.Context) error {
	targets := make(map[string]registry.Target)
	registered := make(map[string]bool)
	for _, p := range a.registry.Platforms() {
		registered[p] = true
	}

	for _, platform := range a.cfg.PlatformNames() {
		if !registered[platform] {
			a.logger.Warn("no session for configured platform", "platform", platform)
			continue
		}
		for _, account := range a.cfg.EnabledAccounts(platform) {
			targets[platform+"/"+account] = registry.Target{Platform: platform, Account: account}
		}
	}
	if len(targets) == 0 {
		return errors.New("no enabled accounts to connect")
	}

	var errs []error
	for name, err := range a.registry.ConnectMany(ctx, targets) {
		if err != nil {
			a.logger.Error("account connect failed", "account", name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		a.logger.Info("account connected", "account", name)
	}
	if len(errs) == len(targets) {
		return errors.Join(errs...)
	}
	return nil
}

func (a *app) close() {
	if a.registry != nil {
		a.registry.DisconnectAll(context.Background())
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("error closing journal", "err", err)
		}
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}
