package reaper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sparkq/sparkq/internal/common/logger"
	"github.com/sparkq/sparkq/internal/store"
)

// purgeChunk bounds how many rows one delete transaction may touch, keeping
// the single writer connection responsive to claims.
const purgeChunk = 500

// Purger periodically deletes terminal tasks older than the retention window.
// The retention settings are read from the database each sweep, so runtime
// config changes take effect without a restart.
type Purger struct {
	store         *store.Store
	interval      time.Duration
	olderThanDays int
	logger        *logger.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	active bool
}

// NewPurger creates the purge loop with seed values from the static config.
func NewPurger(st *store.Store, interval time.Duration, olderThanDays int, log *logger.Logger) *Purger {
	return &Purger{
		store:         st,
		interval:      interval,
		olderThanDays: olderThanDays,
		logger:        log.WithFields(zap.String("component", "purge-reaper")),
	}
}

// Start launches the purge loop.
func (p *Purger) Start(ctx context.Context) {
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return
	}
	p.active = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sweep(ctx)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.sweep(ctx)
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	p.logger.Info("purge reaper started",
		zap.Duration("interval", p.interval),
		zap.Int("older_than_days", p.olderThanDays))
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (p *Purger) Stop() {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	p.active = false
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()
	p.logger.Info("purge reaper stopped")
}

// sweep deletes expired terminal tasks in bounded chunks until none remain.
func (p *Purger) sweep(ctx context.Context) {
	days := p.store.IntConfig(ctx, "purge", "older_than_days", p.olderThanDays)
	if days <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	var total int64
	for {
		deleted, err := p.store.PurgeTerminal(ctx, cutoff, purgeChunk)
		if err != nil {
			p.logger.WithError(err).Warn("purge sweep failed")
			return
		}
		total += deleted
		if deleted < purgeChunk {
			break
		}
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
	}
	if total > 0 {
		p.logger.Info("purge sweep complete",
			zap.Int64("deleted", total),
			zap.Time("cutoff", cutoff))
	}
}
