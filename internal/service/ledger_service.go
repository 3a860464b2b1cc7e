// Package service orchestrates the ledger core: it serializes operations,
// persists state after every successful mutation, fans events out to the
// signal bus, the journal, the notifier, and the audit log.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ladderfi/bondd/internal/domain"
	"github.com/ladderfi/bondd/internal/ledger"
)

// defaultLockTTL bounds how long a crashed replica can hold the ledger lock.
const defaultLockTTL = 30 * time.Second

// Alerter abstracts the operator notifier so the service layer never depends
// on concrete delivery channels.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// LedgerService wraps the ledger core with persistence, distributed locking,
// event publication, and audit logging. The core itself is not thread-safe;
// the service guarantees exclusive access via its mutex, and across replicas
// via the optional lock manager.
type LedgerService struct {
	mu        sync.Mutex
	core      *ledger.Ledger
	collector *eventCollector

	store   domain.LedgerStore
	slashes domain.SlashStore
	events  domain.EventStore
	audit   domain.AuditStore
	bus     domain.SignalBus
	locks   domain.LockManager
	alerter Alerter
	logger  *slog.Logger

	lockTTL time.Duration
}

// NewLedgerService creates a LedgerService. Every dependency except the
// logger may be nil: a nil store disables persistence (standalone mode), a
// nil lock manager disables cross-replica locking, and so on.
func NewLedgerService(
	store domain.LedgerStore,
	slashes domain.SlashStore,
	events domain.EventStore,
	audit domain.AuditStore,
	bus domain.SignalBus,
	locks domain.LockManager,
	alerter Alerter,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		collector: &eventCollector{},
		store:     store,
		slashes:   slashes,
		events:    events,
		audit:     audit,
		bus:       bus,
		locks:     locks,
		alerter:   alerter,
		logger:    logger.With(slog.String("component", "ledger_service")),
		lockTTL:   defaultLockTTL,
	}
}

// Open constructs the ledger core. If a persisted snapshot exists for
// cfg.ID the core is restored from it together with the slash log; otherwise
// a fresh ledger is created, which mints the initial debt supply.
func (s *LedgerService) Open(ctx context.Context, cfg ledger.Config, collateral domain.CollateralAsset, debt domain.DebtToken, access domain.AccessChecker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.core != nil {
		return fmt.Errorf("ledger_service: ledger %s already open", s.core.ID())
	}

	if s.store != nil {
		snap, err := s.store.Get(ctx, cfg.ID)
		switch {
		case err == nil:
			records, err := s.loadSlashLog(ctx, cfg.ID)
			if err != nil {
				return err
			}
			core, err := ledger.Restore(cfg, snap, records, collateral, debt, access, s.collector)
			if err != nil {
				return fmt.Errorf("ledger_service: restore ledger: %w", err)
			}
			s.core = core
			s.logger.InfoContext(ctx, "ledger restored",
				slog.String("ledger_id", cfg.ID),
				slog.String("phase", string(snap.Phase)),
				slog.Int("slashes", len(records)),
			)
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("ledger_service: load snapshot: %w", err)
		}
	}

	core, err := ledger.New(ctx, cfg, collateral, debt, access, s.collector)
	if err != nil {
		return fmt.Errorf("ledger_service: create ledger: %w", err)
	}
	s.core = core

	if s.store != nil {
		if err := s.store.Save(ctx, core.Snapshot()); err != nil {
			return fmt.Errorf("ledger_service: save initial snapshot: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "ledger created",
		slog.String("ledger_id", cfg.ID),
		slog.String("initial_debt_supply", cfg.InitialDebtSupply.String()),
	)
	return nil
}

// loadSlashLog rebuilds the in-memory slash log from the store, oldest first.
func (s *LedgerService) loadSlashLog(ctx context.Context, ledgerID string) ([]domain.SlashRecord, error) {
	if s.slashes == nil {
		return nil, nil
	}
	entries, err := s.slashes.List(ctx, ledgerID, domain.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("ledger_service: load slash log: %w", err)
	}
	records := make([]domain.SlashRecord, 0, len(entries))
	for _, e := range entries {
		amount, ok := new(big.Int).SetString(e.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("ledger_service: corrupt slash amount %q (row %d)", e.Amount, e.ID)
		}
		records = append(records, domain.SlashRecord{Reason: e.Reason, Amount: amount})
	}
	return records, nil
}

// Deposit accepts collateral from the depositor and issues matching debt
// tokens.
func (s *LedgerService) Deposit(ctx context.Context, depositor common.Address, amount *big.Int) error {
	return s.mutate(ctx, "deposit", depositor, func() error {
		return s.core.Deposit(ctx, depositor, amount)
	})
}

// Slash removes collateral punitively and sends it to the treasury.
func (s *LedgerService) Slash(ctx context.Context, caller common.Address, amount *big.Int, reason string) error {
	return s.mutate(ctx, "slash", caller, func() error {
		return s.core.Slash(ctx, caller, amount, reason)
	})
}

// AllowRedemption performs the one-way Active -> Redeemable transition and
// fixes the redemption ratio.
func (s *LedgerService) AllowRedemption(ctx context.Context, caller common.Address, reason string) error {
	return s.mutate(ctx, "allow_redemption", caller, func() error {
		return s.core.AllowRedemption(ctx, caller, reason)
	})
}

// Redeem swaps the caller's debt tokens back for collateral at the fixed
// ratio.
func (s *LedgerService) Redeem(ctx context.Context, redeemer common.Address, amount *big.Int) error {
	return s.mutate(ctx, "redeem", redeemer, func() error {
		return s.core.Redeem(ctx, redeemer, amount)
	})
}

// WithdrawCollateral sweeps the remaining collateral balance to the treasury.
func (s *LedgerService) WithdrawCollateral(ctx context.Context, caller common.Address) error {
	return s.mutate(ctx, "withdraw_collateral", caller, func() error {
		return s.core.WithdrawCollateral(ctx, caller)
	})
}

// Expire performs the fail-safe sweep once the deadline has passed.
func (s *LedgerService) Expire(ctx context.Context, caller common.Address) error {
	return s.mutate(ctx, "expire", caller, func() error {
		return s.core.Expire(ctx, caller)
	})
}

// SetTreasury replaces the treasury address.
func (s *LedgerService) SetTreasury(ctx context.Context, caller, replacement common.Address) error {
	return s.mutate(ctx, "set_treasury", caller, func() error {
		return s.core.SetTreasury(ctx, caller, replacement)
	})
}

// Pause halts state-changing operations.
func (s *LedgerService) Pause(ctx context.Context, caller common.Address) error {
	return s.mutate(ctx, "pause", caller, func() error {
		return s.core.Pause(ctx, caller)
	})
}

// Unpause resumes state-changing operations.
func (s *LedgerService) Unpause(ctx context.Context, caller common.Address) error {
	return s.mutate(ctx, "unpause", caller, func() error {
		return s.core.Unpause(ctx, caller)
	})
}

// Snapshot returns the ledger's current accounting state.
func (s *LedgerService) Snapshot() domain.LedgerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.core.Snapshot()
}

// LedgerID returns the identifier of the open ledger.
func (s *LedgerService) LedgerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.core.ID()
}

// SlashLog lists slash entries, newest last. With a store it pages through
// persisted rows, otherwise it serves the in-memory log.
func (s *LedgerService) SlashLog(ctx context.Context, opts domain.ListOpts) ([]domain.SlashEntry, error) {
	s.mu.Lock()
	core := s.core
	s.mu.Unlock()

	if s.slashes != nil {
		return s.slashes.List(ctx, core.ID(), opts)
	}

	records := core.SlashLog()
	entries := make([]domain.SlashEntry, 0, len(records))
	for i, r := range records {
		entries = append(entries, domain.SlashEntry{
			ID:       int64(i + 1),
			LedgerID: core.ID(),
			Reason:   r.Reason,
			Amount:   r.Amount.String(),
		})
	}
	return entries, nil
}

// Events lists journal entries for the open ledger. Without an event store
// it returns ErrNotFound.
func (s *LedgerService) Events(ctx context.Context, opts domain.ListOpts) ([]domain.EventEntry, error) {
	if s.events == nil {
		return nil, fmt.Errorf("ledger_service: event journal not configured: %w", domain.ErrNotFound)
	}
	return s.events.List(ctx, s.LedgerID(), opts)
}

// mutate runs op under the service mutex and, when configured, the
// cross-replica lock. On success it persists the snapshot and fans the
// collected events out to the journal, bus, notifier, and audit log.
func (s *LedgerService) mutate(ctx context.Context, op string, caller common.Address, fn func() error) error {
	if s.locks != nil {
		release, err := s.locks.Acquire(ctx, "ledger:"+s.LedgerID(), s.lockTTL)
		if err != nil {
			return fmt.Errorf("ledger_service: %s: %w", op, err)
		}
		defer func() {
			if relErr := release(ctx); relErr != nil {
				s.logger.WarnContext(ctx, "lock release failed",
					slog.String("op", op),
					slog.String("error", relErr.Error()),
				)
			}
		}()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.collector.reset()
	if err := fn(); err != nil {
		return err
	}

	snap := s.core.Snapshot()
	emitted := s.collector.take()

	if s.store != nil {
		if err := s.store.Save(ctx, snap); err != nil {
			// The in-memory state and any token transfers have already
			// committed, so surface the persistence failure loudly.
			s.logger.ErrorContext(ctx, "snapshot save failed",
				slog.String("op", op),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("ledger_service: %s: save snapshot: %w", op, err)
		}
	}

	s.publish(ctx, snap.ID, emitted)
	s.auditOp(ctx, op, caller, snap)

	s.logger.InfoContext(ctx, "operation applied",
		slog.String("op", op),
		slog.String("ledger_id", snap.ID),
		slog.String("caller", caller.Hex()),
		slog.Int("events", len(emitted)),
	)
	return nil
}

// busEnvelope is the wire shape published on the signal bus.
type busEnvelope struct {
	Event    string          `json:"event"`
	LedgerID string          `json:"ledger_id"`
	Detail   json.RawMessage `json:"detail"`
}

// publish journals the emitted events, pushes them on the signal bus, and
// alerts the notifier. Failures here are logged, never returned: the
// operation itself has already committed.
func (s *LedgerService) publish(ctx context.Context, ledgerID string, emitted []domain.Event) {
	for _, evt := range emitted {
		detail, err := json.Marshal(evt)
		if err != nil {
			s.logger.ErrorContext(ctx, "event marshal failed",
				slog.String("event", evt.EventType()),
				slog.String("error", err.Error()),
			)
			continue
		}

		if s.slashes != nil {
			if sr, ok := evt.(domain.SlashRecorded); ok {
				if err := s.slashes.Append(ctx, ledgerID, sr.Reason, sr.Amount.String()); err != nil {
					s.logger.ErrorContext(ctx, "slash row append failed",
						slog.String("error", err.Error()),
					)
				}
			}
		}

		if s.events != nil {
			if err := s.events.Append(ctx, ledgerID, evt.EventType(), detail); err != nil {
				s.logger.ErrorContext(ctx, "event journal append failed",
					slog.String("event", evt.EventType()),
					slog.String("error", err.Error()),
				)
			}
		}

		if s.bus != nil {
			payload, _ := json.Marshal(busEnvelope{
				Event:    evt.EventType(),
				LedgerID: ledgerID,
				Detail:   detail,
			})
			if err := s.bus.Publish(ctx, "ch:ledger:"+ledgerID, payload); err != nil {
				s.logger.WarnContext(ctx, "bus publish failed",
					slog.String("event", evt.EventType()),
					slog.String("error", err.Error()),
				)
			}
			if err := s.bus.StreamAppend(ctx, "stream:ledger:"+ledgerID, payload); err != nil {
				s.logger.WarnContext(ctx, "stream append failed",
					slog.String("event", evt.EventType()),
					slog.String("error", err.Error()),
				)
			}
		}

		if s.alerter != nil {
			title, message := alertFor(ledgerID, evt)
			if err := s.alerter.Notify(ctx, evt.EventType(), title, message); err != nil {
				s.logger.WarnContext(ctx, "alert delivery failed",
					slog.String("event", evt.EventType()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// auditOp writes the post-operation accounting state to the audit log.
func (s *LedgerService) auditOp(ctx context.Context, op string, caller common.Address, snap domain.LedgerSnapshot) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, "ledger."+op, map[string]any{
		"ledger_id":          snap.ID,
		"caller":             caller.Hex(),
		"phase":              string(snap.Phase),
		"paused":             snap.Paused,
		"collateral_held":    snap.CollateralHeld.String(),
		"collateral_slashed": snap.CollateralSlashed.String(),
		"debt_outstanding":   snap.DebtOutstanding.String(),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
}

// alertFor renders an operator-facing title and body for an event.
func alertFor(ledgerID string, evt domain.Event) (string, string) {
	switch e := evt.(type) {
	case domain.SlashRecorded:
		return "Collateral slashed",
			fmt.Sprintf("ledger %s: %s slashed (%s), held now %s", ledgerID, e.Amount, e.Reason, e.CollateralHeld)
	case domain.PartialCollateralization:
		return "Partial collateralization",
			fmt.Sprintf("ledger %s: %s debt tokens never received collateral", ledgerID, e.DebtRemaining)
	case domain.RedemptionOpened:
		return "Redemption opened",
			fmt.Sprintf("ledger %s: ratio %s/10000 (%s)", ledgerID, e.RedemptionRatio, e.Reason)
	case domain.Expired:
		return "Ledger expired",
			fmt.Sprintf("ledger %s: %s collateral swept to treasury %s", ledgerID, e.Amount, e.Treasury.Hex())
	default:
		return "Ledger event: " + evt.EventType(),
			fmt.Sprintf("ledger %s: %s", ledgerID, evt.EventType())
	}
}

// eventCollector buffers the events a single operation emits. It is only
// touched while the service mutex is held.
type eventCollector struct {
	events []domain.Event
}

func (c *eventCollector) Emit(event domain.Event) {
	c.events = append(c.events, event)
}

func (c *eventCollector) reset() {
	c.events = c.events[:0]
}

func (c *eventCollector) take() []domain.Event {
	out := make([]domain.Event, len(c.events))
	copy(out, c.events)
	c.events = c.events[:0]
	return out
}
