package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/tathienbao/tradegate/internal/alerting"
	"github.com/tathienbao/tradegate/internal/api"
	"github.com/tathienbao/tradegate/internal/config"
	"github.com/tathienbao/tradegate/internal/gateway/ctp"
	"github.com/tathienbao/tradegate/internal/metrics"
	"github.com/tathienbao/tradegate/internal/tool"
	"github.com/tathienbao/tradegate/internal/types"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tradegate",
		Short: "Trading gateway for CTP futures fronts",
		Long: `tradegate connects to CTP futures fronts, keeps account, position, order
and tick state in sync with the venue, and exposes a small trading tool
over the command line and HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "config.yaml", "path to configuration file")

	root.AddCommand(
		newRunCmd(),
		newToolCmd(),
		newAccountsCmd(),
		newValidateCmd(),
		newVersionCmd(),
	)

	return root
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tradegate version %s\n", Version)
			fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration is valid!")
			fmt.Fprintf(out, "  Front: %s\n", cfg.Gateway.Front)
			for _, p := range cfg.PlatformNames() {
				fmt.Fprintf(out, "  Platform %s: %d account(s), enabled: %v\n",
					p, len(cfg.Platforms[p].Accounts), cfg.EnabledAccounts(p))
			}
			fmt.Fprintf(out, "  Persistence: %v, API: %v, Metrics: %v\n",
				cfg.Persistence.Enabled, cfg.API.Enabled, cfg.Metrics.Enabled)
			return nil
		},
	}
}

func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List enabled accounts of a platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return err
			}
			platform, _ := cmd.Flags().GetString("platform")

			out := cmd.OutOrStdout()
			for _, name := range cfg.EnabledAccounts(platform) {
				settings, err := cfg.ResolveAccount(platform, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\tuser=%s\tbroker=%s\ttrade=%s\n",
					name, settings.Username, settings.BrokerID, settings.TradeServer)
			}
			return nil
		},
	}
	cmd.Flags().String("platform", ctp.Platform, "platform name")
	return cmd
}

func newToolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool",
		Short: "Connect one account and run a single trading action",
		Example: `  tradegate tool --action get_account
  tradegate tool --action buy --symbol rb2409 --volume 1
  tradegate tool --action sell --symbol rb2409.SHFE --price 3500 --order-type LIMIT
  tradegate tool --action close --symbol rb2409`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath(cmd))
			if err != nil {
				return err
			}
			defer a.close()

			f := cmd.Flags()
			platform, _ := f.GetString("platform")
			account, _ := f.GetString("account")
			action, _ := f.GetString("action")
			symbol, _ := f.GetString("symbol")
			volume, _ := f.GetInt("volume")
			price, _ := f.GetFloat64("price")
			orderType, _ := f.GetString("order-type")

			if account == "" {
				enabled := a.cfg.EnabledAccounts(platform)
				if len(enabled) == 0 {
					return fmt.Errorf("no enabled account on %s; pass --account", platform)
				}
				account = enabled[0]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ok, err := a.registry.Connect(ctx, platform, account)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s/%s: %w", platform, account, types.ErrConnectionTimeout)
			}

			fmt.Fprintln(cmd.OutOrStdout(), a.tool.Run(ctx, tool.Request{
				Platform:  platform,
				Action:    action,
				Symbol:    symbol,
				Volume:    volume,
				Price:     decimal.NewFromFloat(price),
				OrderType: orderType,
			}))
			return nil
		},
	}

	f := cmd.Flags()
	f.String("platform", ctp.Platform, "platform name")
	f.String("account", "", "account name (default: first enabled account)")
	f.String("action", "", "buy, sell, close, get_account or get_positions")
	f.String("symbol", "", "instrument, optionally with .EXCHANGE suffix")
	f.Int("volume", 1, "lots")
	f.Float64("price", 0, "limit price; 0 for market orders")
	f.String("order-type", "MARKET", "MARKET, LIMIT, FAK or FOK")
	_ = cmd.MarkFlagRequired("action")

	return cmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the gateway and serve the trading API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath(cmd))
			if err != nil {
				return err
			}
			defer a.close()
			return run(cmd.Context(), a)
		},
	}
}

func run(parent context.Context, a *app) error {
	cfg := a.cfg
	logger := a.logger

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.SetBuildInfo(Version, GitCommit, BuildTime)
	logger.Info("tradegate starting",
		"version", Version,
		"front", cfg.Gateway.Front,
		"platforms", cfg.PlatformNames(),
	)

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.ToMetricsConfig(), logger)
		metricsServer.RegisterHealthCheck("gateway", func() metrics.Check {
			s, err := a.registry.Current()
			if err != nil || !s.IsConnected() {
				return metrics.Check{Status: metrics.StatusUnhealthy, Message: "no connected session"}
			}
			return metrics.Check{Status: metrics.StatusHealthy}
		})
		if err := metricsServer.Start(); err != nil {
			return err
		}
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		gin.SetMode(gin.ReleaseMode)
		apiServer = api.NewServer(cfg.ToAPIConfig(), a.tool, a.registry, logger)
		if err := apiServer.Start(); err != nil {
			return err
		}
	}

	_ = alerting.Notify(ctx, a.alerter, alerting.EventGatewayStarted, "tradegate started", "version", Version)

	if err := a.connectEnabled(ctx); err != nil {
		logger.Error("no account connected", "err", err)
	}

	go snapshotLoop(ctx, a, cfg.SnapshotInterval())

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	steps := []struct {
		name string
		fn   func() error
	}{
		{"stop API server", func() error {
			if apiServer == nil {
				return nil
			}
			return apiServer.Shutdown(shutdownCtx)
		}},
		{"disconnect sessions", func() error {
			a.registry.DisconnectAll(shutdownCtx)
			return nil
		}},
		{"stop metrics server", func() error {
			if metricsServer == nil {
				return nil
			}
			return metricsServer.Shutdown(shutdownCtx)
		}},
	}
	for _, step := range steps {
		if shutdownCtx.Err() != nil {
			return fmt.Errorf("shutdown timeout during: %s", step.name)
		}
		logger.Debug("shutdown step", "step", step.name)
		if err := step.fn(); err != nil {
			logger.Warn("shutdown step failed", "step", step.name, "err", err)
		}
	}

	_ = alerting.Notify(shutdownCtx, a.alerter, alerting.EventGatewayStopped, "tradegate stopped")
	logger.Info("tradegate shutdown complete")
	return nil
}

// snapshotLoop journals account snapshots and sends summaries every interval.
// A zero interval only keeps the heartbeat metrics alive.
func snapshotLoop(ctx context.Context, a *app, interval time.Duration) {
	recorder := metrics.NewRecorder()
	started := time.Now()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	var snapshots <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		snapshots = t.C
	}
	tg := a.telegram()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			recorder.RecordHeartbeat()
			recorder.RecordUptime(time.Since(started))
		case <-snapshots:
			summaries, err := a.registry.SnapshotAccounts(ctx)
			if err != nil {
				a.logger.Warn("account snapshot incomplete", "err", err)
			}
			for _, s := range summaries {
				a.logger.Info("account snapshot",
					"platform", s.Platform,
					"account_id", s.AccountID,
					"balance", s.Balance.String(),
					"available", s.Available.String(),
					"open_positions", s.OpenPositions,
				)
				if tg != nil && a.cfg.IsAlertEventEnabled(alerting.EventAccountSummary) {
					if err := tg.SendAccountSummary(ctx, s); err != nil {
						a.logger.Warn("failed to send account summary", "err", err)
					}
				}
			}
		}
	}
}
