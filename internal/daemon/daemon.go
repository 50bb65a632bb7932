package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"storyforge/internal/config"
	"storyforge/internal/gencache"
	"storyforge/internal/logging"
	"storyforge/internal/orchestrator"
	"storyforge/internal/store"
	"storyforge/internal/worker"
)

// Daemon coordinates the background services and enforces single-instance
// execution via a lock file under the data directory.
type Daemon struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        *store.Store
	cache        *gencache.Cache
	orchestrator *orchestrator.Orchestrator
	worker       *worker.Worker

	lockPath string
	lock     *flock.Flock

	api *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, cache *gencache.Cache, orch *orchestrator.Orchestrator, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil || orch == nil {
		return nil, errors.New("daemon requires config, store, and orchestrator")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.DataDir, "storyforged.lock")
	d := &Daemon{
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "daemon"),
		store:        st,
		cache:        cache,
		orchestrator: orch,
		worker:       worker.New(cfg, st, orch, logger),
		lockPath:     lockPath,
		lock:         flock.New(lockPath),
	}
	api, err := newAPIServer(cfg, d, logging.NewComponentLogger(logger, "api-server"))
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock and launches the worker, the cache sweep
// loop, and the status API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another storyforge daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.worker.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start worker: %w", err)
	}
	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.worker.Stop()
			cancel()
			_ = d.lock.Unlock()
			return err
		}
	}
	d.cancel = cancel
	d.startSweepLoop(runCtx)

	d.running.Store(true)
	d.logger.Info("storyforge daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop halts background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.worker.Stop()
	if d.api != nil {
		d.api.stop()
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("storyforge daemon stopped")
}

// Close stops the daemon and releases held resources.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.cache != nil {
		errs = append(errs, d.cache.Close())
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	return errors.Join(errs...)
}

// APIAddr returns the listen address of the status API, or empty when the
// API is disabled or not yet started.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

func (d *Daemon) startSweepLoop(ctx context.Context) {
	if d.cache == nil {
		return
	}
	interval := time.Duration(d.cfg.Cache.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				removed, err := d.cache.Sweep(sweepCtx)
				cancel()
				if err != nil && !errors.Is(err, context.Canceled) {
					d.logger.Warn("cache sweep failed", logging.Error(err))
					continue
				}
				if removed > 0 {
					d.logger.Info("cache sweep removed entries", logging.Int64("removed", removed))
				}
			}
		}
	}()
}

// Status reports the current daemon runtime state.
type Status struct {
	Running      bool
	PID          int
	JobDBPath    string
	CacheDBPath  string
	LockFilePath string
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	cachePath := ""
	if d.cache != nil {
		cachePath = d.cache.Path()
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		JobDBPath:    d.store.Path(),
		CacheDBPath:  cachePath,
		LockFilePath: d.lockPath,
	}
}
