package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/step-groups/internal/config"
)

// Reconciler repairs stored member counts and reports how many groups changed
type Reconciler interface {
	ReconcileMemberCounts(ctx context.Context) (int64, error)
}

// MemberCountWorker periodically rewrites drifted member counts from the
// membership rows
type MemberCountWorker struct {
	store   Reconciler
	config  *config.ReconcileConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewMemberCountWorker creates a new reconciliation worker
func NewMemberCountWorker(store Reconciler, cfg *config.ReconcileConfig, logger *slog.Logger) *MemberCountWorker {
	return &MemberCountWorker{
		store:  store,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the background reconciliation loop
func (w *MemberCountWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("member count worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background loop and waits for it to exit
func (w *MemberCountWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("member count worker stopped")
	return nil
}

func (w *MemberCountWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single reconciliation pass
func (w *MemberCountWorker) RunOnce(ctx context.Context) {
	startTime := time.Now()

	fixed, err := w.store.ReconcileMemberCounts(ctx)
	if err != nil {
		w.logger.Error("member count reconciliation failed", "error", err)
		return
	}

	if fixed > 0 {
		w.logger.Warn("repaired drifted member counts", "groups", fixed, "duration", time.Since(startTime))
		return
	}
	w.logger.Debug("member counts consistent", "duration", time.Since(startTime))
}

// IsRunning returns whether the worker is currently running
func (w *MemberCountWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
