package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/agentloop/internal/gateway"
	"github.com/user/agentloop/internal/telegram"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentloop daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "agentloop.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogging(cfg)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	path, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(path)

	gw := gateway.New(a.conversations, a.histories, a.caller, a.spec,
		gateway.WithLogger(logger),
		gateway.WithConcurrency(int64(cfg.MaxConcurrent)),
		gateway.WithRunTimeout(a.runTimeout()),
	)
	gw.Start(ctx)
	defer gw.Stop()

	logger.Info("agentloop started",
		"version", version,
		"data_dir", cfg.DataDir,
		"storage", cfg.Storage,
		"max_concurrent", cfg.MaxConcurrent,
		"max_iterations", cfg.MaxIterations,
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"pid_file", path,
	)

	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, gw, a.conversations, a.histories, logger)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		logger.Info("telegram adapter started")
	} else {
		logger.Warn("telegram adapter disabled (no token)")
	}

	return waitForSignal(logger, cfg.DataDir, path)
}

// waitForSignal blocks until SIGINT or SIGTERM. SIGHUP re-executes the
// binary in place.
func waitForSignal(logger *slog.Logger, dataDir, path string) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		sig := <-sigChan
		if sig != syscall.SIGHUP {
			logger.Info("shutting down", "signal", sig)
			return nil
		}

		logger.Info("received SIGHUP, restarting")
		execPath, err := os.Executable()
		if err != nil {
			logger.Error("failed to get executable path", "error", err)
			continue
		}
		os.Remove(path)
		if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
			logger.Error("failed to re-exec", "error", err)
			if _, werr := writePIDFile(dataDir); werr != nil {
				logger.Error("failed to re-write PID file", "error", werr)
			}
		}
	}
}
