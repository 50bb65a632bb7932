package main

import (
	"context"
	"strings"
	"sync"

	"storyforge/internal/config"
	"storyforge/internal/fallback"
	"storyforge/internal/gencache"
	"storyforge/internal/logging"
	"storyforge/internal/notifications"
	"storyforge/internal/orchestrator"
	"storyforge/internal/providers"
	"storyforge/internal/store"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// runtime bundles the pipeline services a CLI invocation operates on.
type runtime struct {
	cfg   *config.Config
	store *store.Store
	cache *gencache.Cache
	orch  *orchestrator.Orchestrator
}

// withRuntime opens the store and cache, builds the orchestrator, runs fn,
// and closes everything afterwards. CLI invocations log nothing; the daemon
// owns the log stream.
func (c *commandContext) withRuntime(ctx context.Context, fn func(context.Context, *runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	logger := logging.NewNop()
	cache, err := gencache.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer cache.Close()

	registry := providers.NewRegistry(cfg, logger)
	manager := fallback.NewManager(cfg, registry, cache, st, logger)
	orch := orchestrator.New(st, manager, cache, notifications.NewService(cfg), logger)

	return fn(ctx, &runtime{cfg: cfg, store: st, cache: cache, orch: orch})
}
