package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/errors"
)

// sweeper drives RunSweep on a fixed interval. Escalation deadlines live on
// the alerts themselves, so a missed tick only delays an escalation, it
// never loses one.
type sweeper struct {
	svc      *service
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func newSweeper(svc *service, interval time.Duration, logger *slog.Logger) *sweeper {
	return &sweeper{
		svc:      svc,
		interval: interval,
		logger:   logger,
	}
}

func (sw *sweeper) Start(ctx context.Context) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.running {
		return errors.NewBusinessError("SWEEP_ALREADY_RUNNING", "alert sweep is already running")
	}
	sw.running = true
	sw.stopCh = make(chan struct{})
	sw.wg.Add(1)
	go sw.loop(ctx)

	sw.logger.InfoContext(ctx, "alert sweep started", "interval", sw.interval.String())
	return nil
}

func (sw *sweeper) loop(ctx context.Context) {
	defer func() {
		sw.mu.Lock()
		sw.running = false
		sw.mu.Unlock()
		sw.wg.Done()
	}()

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sw.stopCh:
			return
		case <-ticker.C:
			if _, err := sw.svc.RunSweep(ctx); err != nil {
				sw.logger.ErrorContext(ctx, "alert sweep failed", "error", err)
			}
		}
	}
}

func (sw *sweeper) Stop() {
	sw.mu.Lock()
	if !sw.running {
		sw.mu.Unlock()
		return
	}
	close(sw.stopCh)
	sw.mu.Unlock()
	sw.wg.Wait()
}
