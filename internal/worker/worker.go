package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"storyforge/internal/config"
	"storyforge/internal/job"
	"storyforge/internal/logging"
	"storyforge/internal/orchestrator"
	"storyforge/internal/store"
)

// Worker polls for jobs parked in producing stages and runs their generation
// tasks. Approval gates are left alone; only operator decisions move jobs
// past them.
type Worker struct {
	store        *store.Store
	orchestrator *orchestrator.Orchestrator
	logger       *slog.Logger

	pollInterval  time.Duration
	errorInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a worker from configuration.
func New(cfg *config.Config, st *store.Store, orch *orchestrator.Orchestrator, logger *slog.Logger) *Worker {
	poll := time.Duration(cfg.Workflow.PollInterval) * time.Second
	if poll <= 0 {
		poll = 5 * time.Second
	}
	retry := time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second
	if retry <= 0 {
		retry = 30 * time.Second
	}
	return &Worker{
		store:         st,
		orchestrator:  orch,
		logger:        logging.NewComponentLogger(logger, "worker"),
		pollInterval:  poll,
		errorInterval: retry,
	}
}

// Start begins background processing.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.wg.Add(1)
	go w.run(runCtx)
	return nil
}

// Stop terminates background processing and waits for completion.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jb, err := w.store.NextForStages(ctx, job.StagePendingScript, job.StageGeneratingMedia)
		if err != nil {
			w.logger.Error("failed to fetch next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "job_fetch_failed"),
				logging.String(logging.FieldErrorHint, "check pipeline database access"))
			w.wait(ctx, w.errorInterval)
			continue
		}
		if jb == nil {
			w.wait(ctx, w.pollInterval)
			continue
		}

		w.process(ctx, jb)
	}
}

func (w *Worker) process(ctx context.Context, jb *job.Job) {
	w.logger.InfoContext(ctx, "claimed job for generation",
		logging.Int64(logging.FieldJobID, jb.ID),
		logging.String(logging.FieldStage, string(jb.Stage)))

	if _, err := w.orchestrator.RequestGeneration(ctx, jb.ID); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		// Concurrent operators may have moved or cancelled the job; that is
		// not a worker fault.
		if errors.Is(err, job.ErrConcurrentModification) || errors.Is(err, job.ErrInvalidTransition) {
			w.logger.Debug("job moved before generation", logging.Int64(logging.FieldJobID, jb.ID))
			return
		}
		w.logger.Error("generation failed",
			logging.Int64(logging.FieldJobID, jb.ID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "generation_failed"))
		w.wait(ctx, w.errorInterval)
	}
}

func (w *Worker) wait(ctx context.Context, interval time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(interval):
	}
}
