// Package daemonrun boots the storyforged runtime. It is shared by the
// storyforged binary and the CLI's foreground daemon command.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"storyforge/internal/config"
	"storyforge/internal/daemon"
	"storyforge/internal/fallback"
	"storyforge/internal/gencache"
	"storyforge/internal/logging"
	"storyforge/internal/notifications"
	"storyforge/internal/orchestrator"
	"storyforge/internal/providers"
	"storyforge/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the storyforge daemon runtime loop and blocks until the context
// is cancelled or a termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := strings.TrimSpace(opts.LogLevel)
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.LogDir, "storyforged.log")},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := filepath.Join(cfg.LogDir, "storyforged.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}

	cache, err := gencache.Open(cfg, logger)
	if err != nil {
		_ = st.Close()
		logger.Error("open generation cache", logging.Error(err))
		return err
	}

	registry := providers.NewRegistry(cfg, logger)
	manager := fallback.NewManager(cfg, registry, cache, st, logger)
	notifier := notifications.NewService(cfg)
	orch := orchestrator.New(st, manager, cache, notifier, logger)

	d, err := daemon.New(cfg, st, cache, orch, logger)
	if err != nil {
		_ = cache.Close()
		_ = st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}

	if available := manager.AvailableProviders(); len(available) == 0 {
		logger.Warn("no generation providers configured; jobs will fail until API keys are set")
	}

	<-signalCtx.Done()
	logger.Info("storyforge daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
