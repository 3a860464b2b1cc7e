package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ladderfi/bondd/internal/domain"
)

// ExpiryWatcher periodically evaluates the ledger's expiry deadline and,
// once it has passed, triggers the fail-safe sweep on behalf of a configured
// operator. The sweep itself remains available manually via the API; the
// watcher just removes the need for an operator to be awake when the
// deadline lands.
type ExpiryWatcher struct {
	svc      *LedgerService
	operator common.Address
	interval time.Duration
	logger   *slog.Logger
}

// NewExpiryWatcher creates an ExpiryWatcher that checks every interval.
// Intervals below one second are clamped.
func NewExpiryWatcher(svc *LedgerService, operator common.Address, interval time.Duration, logger *slog.Logger) *ExpiryWatcher {
	if interval < time.Second {
		interval = time.Second
	}
	return &ExpiryWatcher{
		svc:      svc,
		operator: operator,
		interval: interval,
		logger:   logger.With(slog.String("component", "expiry_watcher")),
	}
}

// Run blocks until ctx is cancelled or the sweep has been executed. A ledger
// with no deadline configured makes Run return immediately.
func (w *ExpiryWatcher) Run(ctx context.Context) error {
	snap := w.svc.Snapshot()
	if snap.ExpiresAt.IsZero() {
		w.logger.InfoContext(ctx, "no expiry deadline configured, watcher idle")
		return nil
	}

	w.logger.InfoContext(ctx, "watching expiry deadline",
		slog.String("ledger_id", snap.ID),
		slog.Time("expires_at", snap.ExpiresAt),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if done := w.tick(ctx); done {
				return nil
			}
		}
	}
}

// tick attempts the sweep when the deadline has passed. It reports true once
// the watcher has nothing left to do.
func (w *ExpiryWatcher) tick(ctx context.Context) bool {
	snap := w.svc.Snapshot()
	if time.Now().UTC().Before(snap.ExpiresAt) {
		return false
	}

	err := w.svc.Expire(ctx, w.operator)
	switch {
	case err == nil:
		w.logger.InfoContext(ctx, "expiry sweep executed",
			slog.String("ledger_id", snap.ID),
		)
		return true
	case errors.Is(err, domain.ErrNothingToWithdraw):
		// Already swept, or nothing was ever deposited.
		w.logger.InfoContext(ctx, "expiry sweep unnecessary, balance empty",
			slog.String("ledger_id", snap.ID),
		)
		return true
	case errors.Is(err, domain.ErrLockHeld):
		// Another replica is mid-operation, try again next tick.
		return false
	default:
		w.logger.ErrorContext(ctx, "expiry sweep failed",
			slog.String("ledger_id", snap.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
}
