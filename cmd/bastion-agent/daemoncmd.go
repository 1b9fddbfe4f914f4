package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bastionhost/bastion-agent/internal/config"
	"github.com/bastionhost/bastion-agent/internal/daemon"
	"github.com/bastionhost/bastion-agent/internal/log"
	"github.com/bastionhost/bastion-agent/internal/metrics"
	"github.com/bastionhost/bastion-agent/internal/security"
	"github.com/bastionhost/bastion-agent/internal/session"
)

var metricsAddr string

func init() {
	daemonCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus /metrics on (disabled if empty)")
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the long-lived Unix-socket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAPIKey(); err != nil {
			return err
		}

		logger := log.Logger()
		prompter := &security.AutoDenyPrompter{Logger: logger}
		a, err := buildApp(flagConfigDir, logger, prompter)
		if err != nil {
			return err
		}
		defer a.Close()

		socketPath := a.AgentCfg.SocketPath
		if flagSocket != "" {
			socketPath = flagSocket
		}

		store, err := session.NewStore("./sessions", logger)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			logger.Info("daemon_shutdown_requested")
			cancel()
		}()

		if metricsAddr != "" {
			go func() {
				if err := metrics.Serve(ctx, metricsAddr); err != nil {
					logger.Warn("metrics_server_exited", zap.Error(err))
				}
			}()
		}

		watcher, err := config.NewWatcher(flagConfigDir, logger)
		if err != nil {
			return fmt.Errorf("starting config watcher: %w", err)
		}
		defer watcher.Close()
		if err := watcher.Start(func(servers config.ServersConfig, perms config.PermissionsConfig, err error) {
			if err != nil {
				logger.Warn("config_reload_failed", zap.Error(err))
				return
			}
			a.Inventory.Reload(servers, perms)
			logger.Info("config_reloaded", zap.Int("servers", len(servers.Servers)))
		}); err != nil {
			return fmt.Errorf("watching config dir: %w", err)
		}

		srv := &daemon.Server{
			SocketPath:   socketPath,
			LLMClient:    a.LLMClient,
			Registry:     a.Registry,
			SystemPrompt: a.SystemPrompt,
			AgentCfg:     a.AgentCfg,
			Store:        store,
			Logger:       logger,
		}
		logger.Info("daemon_listening", zap.String("socket", socketPath))
		return srv.Start(ctx)
	},
}
