// Package ledger implements the bond ledger state machine: collateral
// accounting, 1:1 debt token issuance, punitive slashing, and the one-time
// redemption-ratio computation that governs proportional payouts once
// redemption opens.
//
// A Ledger is not safe for concurrent use. Every operation must be invoked
// under external serialization (see service.LedgerService); within an
// operation, state mutations that protect invariants commit before any
// external token call, and a failed token call rolls the whole operation
// back.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ladderfi/bondd/internal/domain"
)

// Config carries the immutable construction parameters of a bond ledger.
type Config struct {
	// ID identifies the ledger in persistence and on the signal bus.
	ID string

	// InitialDebtSupply is minted into the ledger's own holding at
	// construction. Immutable afterwards.
	InitialDebtSupply *big.Int

	// MinimumDeposit is the smallest debt-token holding permitted before
	// redemption opens. Zero disables the floor.
	MinimumDeposit *big.Int

	// Treasury receives slashed, withdrawn, and expired collateral.
	Treasury common.Address

	// ExpiresAt is the fail-safe deadline after which anyone may sweep the
	// collateral balance to the treasury. The zero time disables expiry.
	ExpiresAt time.Time
}

// Ledger owns all collateral and debt accounting for a single bond.
type Ledger struct {
	id         string
	collateral domain.CollateralAsset
	debt       domain.DebtToken
	access     domain.AccessChecker
	sink       domain.EventSink

	phase                domain.Phase
	paused               bool
	collateralHeld       *big.Int
	collateralSlashed    *big.Int
	debtInitialSupply    *big.Int
	debtOutstanding      *big.Int
	debtRedemptionExcess *big.Int
	redemptionRatio      *big.Int
	minimumDeposit       *big.Int
	slashLog             []domain.SlashRecord
	treasury             common.Address
	expiresAt            time.Time

	now func() time.Time
}

// New constructs a bond ledger and mints cfg.InitialDebtSupply of the debt
// token into the ledger's own holding. No collateral is held at construction.
func New(ctx context.Context, cfg Config, collateral domain.CollateralAsset, debt domain.DebtToken, access domain.AccessChecker, sink domain.EventSink) (*Ledger, error) {
	l, err := build(cfg, collateral, debt, access, sink)
	if err != nil {
		return nil, err
	}
	if err := debt.MintToSelf(ctx, l.debtInitialSupply); err != nil {
		return nil, fmt.Errorf("ledger: mint initial supply: %w", err)
	}
	return l, nil
}

// Restore rebuilds a ledger from a persisted snapshot and slash log without
// minting. Used on service restart; the token balances already exist.
func Restore(cfg Config, snap domain.LedgerSnapshot, slashes []domain.SlashRecord, collateral domain.CollateralAsset, debt domain.DebtToken, access domain.AccessChecker, sink domain.EventSink) (*Ledger, error) {
	l, err := build(cfg, collateral, debt, access, sink)
	if err != nil {
		return nil, err
	}
	l.phase = snap.Phase
	l.paused = snap.Paused
	l.collateralHeld = clone(snap.CollateralHeld)
	l.collateralSlashed = clone(snap.CollateralSlashed)
	l.debtOutstanding = clone(snap.DebtOutstanding)
	l.debtRedemptionExcess = clone(snap.DebtRedemptionExcess)
	if snap.RedemptionRatio != nil {
		l.redemptionRatio = clone(snap.RedemptionRatio)
	}
	if snap.Treasury != (common.Address{}) {
		l.treasury = snap.Treasury
	}
	l.slashLog = make([]domain.SlashRecord, 0, len(slashes))
	for _, rec := range slashes {
		l.slashLog = append(l.slashLog, domain.SlashRecord{
			Reason: rec.Reason,
			Amount: clone(rec.Amount),
		})
	}
	return l, nil
}

func build(cfg Config, collateral domain.CollateralAsset, debt domain.DebtToken, access domain.AccessChecker, sink domain.EventSink) (*Ledger, error) {
	if cfg.Treasury == (common.Address{}) {
		return nil, fmt.Errorf("%w: treasury address is required", domain.ErrInvalidConfiguration)
	}
	if collateral == nil {
		return nil, fmt.Errorf("%w: collateral asset is required", domain.ErrInvalidConfiguration)
	}
	if debt == nil {
		return nil, fmt.Errorf("%w: debt token is required", domain.ErrInvalidConfiguration)
	}
	if access == nil {
		return nil, fmt.Errorf("%w: access checker is required", domain.ErrInvalidConfiguration)
	}
	if cfg.InitialDebtSupply == nil || cfg.InitialDebtSupply.Sign() < 0 {
		return nil, fmt.Errorf("%w: initial debt supply must be non-negative", domain.ErrInvalidConfiguration)
	}
	minDeposit := cfg.MinimumDeposit
	if minDeposit == nil {
		minDeposit = new(big.Int)
	}
	if minDeposit.Sign() < 0 {
		return nil, fmt.Errorf("%w: minimum deposit must be non-negative", domain.ErrInvalidConfiguration)
	}

	return &Ledger{
		id:                   cfg.ID,
		collateral:           collateral,
		debt:                 debt,
		access:               access,
		sink:                 sink,
		phase:                domain.PhaseActive,
		collateralHeld:       new(big.Int),
		collateralSlashed:    new(big.Int),
		debtInitialSupply:    clone(cfg.InitialDebtSupply),
		debtOutstanding:      new(big.Int),
		debtRedemptionExcess: new(big.Int),
		redemptionRatio:      big.NewInt(domain.RatioScale),
		minimumDeposit:       clone(minDeposit),
		treasury:             cfg.Treasury,
		expiresAt:            cfg.ExpiresAt,
		now:                  time.Now,
	}, nil
}

// Deposit accepts amount of collateral from depositor and hands back the same
// amount of debt tokens from the ledger's holding. Valid only while Active
// and running.
func (l *Ledger) Deposit(ctx context.Context, depositor common.Address, amount *big.Int) error {
	if err := l.requireRunning(); err != nil {
		return err
	}
	if err := l.requireActive(); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}

	remaining, err := l.debt.SelfBalance(ctx)
	if err != nil {
		return fmt.Errorf("ledger: query remaining debt tokens: %w", err)
	}
	if amount.Cmp(remaining) > 0 {
		return domain.ErrExceedsAvailable
	}

	holding, err := l.debt.BalanceOf(ctx, depositor)
	if err != nil {
		return fmt.Errorf("ledger: query depositor holding: %w", err)
	}
	// A holder already at or above the minimum passes this check for any
	// further deposit, including amount 1.
	if new(big.Int).Add(holding, amount).Cmp(l.minimumDeposit) < 0 {
		return domain.ErrBelowMinimum
	}

	// Commit accounting before touching the token: a reentrant call issued
	// by the transfer counterpart must observe the updated state.
	l.collateralHeld.Add(l.collateralHeld, amount)
	l.debtOutstanding.Add(l.debtOutstanding, amount)

	if err := l.collateral.TransferIn(ctx, depositor, amount); err != nil {
		l.collateralHeld.Sub(l.collateralHeld, amount)
		l.debtOutstanding.Sub(l.debtOutstanding, amount)
		return fmt.Errorf("%w: pull collateral: %v", domain.ErrTransferFailed, err)
	}

	if err := l.debt.TransferFromSelf(ctx, depositor, amount); err != nil {
		l.collateralHeld.Sub(l.collateralHeld, amount)
		l.debtOutstanding.Sub(l.debtOutstanding, amount)
		// Return the collateral already pulled; the deposit never happened.
		if refundErr := l.collateral.TransferOut(ctx, depositor, amount); refundErr != nil {
			return fmt.Errorf("%w: issue debt tokens: %v (refund also failed: %v)", domain.ErrTransferFailed, err, refundErr)
		}
		return fmt.Errorf("%w: issue debt tokens: %v", domain.ErrTransferFailed, err)
	}

	l.emit(domain.DepositRecorded{
		Caller:         depositor,
		Amount:         clone(amount),
		CollateralHeld: clone(l.collateralHeld),
	})
	l.emit(domain.DebtIssued{
		Caller:          depositor,
		Amount:          clone(amount),
		DebtOutstanding: clone(l.debtOutstanding),
	})
	if l.debtOutstanding.Cmp(l.debtInitialSupply) == 0 {
		l.emit(domain.FullyCollateralized{
			CollateralHeld: clone(l.collateralHeld),
		})
	}
	return nil
}

// Slash punitively removes amount of collateral to the treasury and records
// the reason in the append-only slash log. Privileged; Active and running
// only.
func (l *Ledger) Slash(ctx context.Context, caller common.Address, amount *big.Int, reason string) error {
	if err := l.requirePrivileged(caller); err != nil {
		return err
	}
	if err := l.requireRunning(); err != nil {
		return err
	}
	if err := l.requireActive(); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}
	if amount.Cmp(l.collateralHeld) > 0 {
		return domain.ErrExceedsHeld
	}

	l.collateralHeld.Sub(l.collateralHeld, amount)
	l.collateralSlashed.Add(l.collateralSlashed, amount)
	l.slashLog = append(l.slashLog, domain.SlashRecord{
		Reason: reason,
		Amount: clone(amount),
	})

	if err := l.collateral.TransferOut(ctx, l.treasury, amount); err != nil {
		l.collateralHeld.Add(l.collateralHeld, amount)
		l.collateralSlashed.Sub(l.collateralSlashed, amount)
		l.slashLog = l.slashLog[:len(l.slashLog)-1]
		return fmt.Errorf("%w: push slashed collateral to treasury: %v", domain.ErrTransferFailed, err)
	}

	l.emit(domain.SlashRecorded{
		Caller:            caller,
		Reason:            reason,
		Amount:            clone(amount),
		CollateralHeld:    clone(l.collateralHeld),
		CollateralSlashed: clone(l.collateralSlashed),
	})
	return nil
}

// AllowRedemption performs the one-way Active -> Redeemable transition,
// freezing any un-collateralized debt as redemption excess and computing the
// fixed-point redemption ratio exactly once. Privileged; Active and running
// only.
func (l *Ledger) AllowRedemption(ctx context.Context, caller common.Address, reason string) error {
	if err := l.requirePrivileged(caller); err != nil {
		return err
	}
	if err := l.requireRunning(); err != nil {
		return err
	}
	if err := l.requireActive(); err != nil {
		return err
	}

	remaining, err := l.debt.SelfBalance(ctx)
	if err != nil {
		return fmt.Errorf("ledger: query remaining debt tokens: %w", err)
	}
	total, err := l.debt.TotalSupply(ctx)
	if err != nil {
		return fmt.Errorf("ledger: query debt total supply: %w", err)
	}

	excess := new(big.Int)
	if remaining.Sign() > 0 {
		excess.Set(remaining)
	}
	// effectiveSupply is the debt amount that is actually collateral-backed.
	effectiveSupply := new(big.Int).Sub(total, excess)

	ratio := clone(l.redemptionRatio)
	if l.collateralHeld.Cmp(effectiveSupply) != 0 {
		// Only reachable when slashing reduced the backing; the ratio divides
		// held by the effective supply at four decimal digits, rounded down.
		ratio, err = scaledRatio(l.collateralHeld, effectiveSupply)
		if err != nil {
			return err
		}
	}

	// All inputs validated; commit the transition in one step.
	l.phase = domain.PhaseRedeemable
	l.debtRedemptionExcess = excess
	l.redemptionRatio = ratio

	if excess.Sign() > 0 {
		l.emit(domain.PartialCollateralization{
			CollateralHeld: clone(l.collateralHeld),
			DebtRemaining:  clone(excess),
		})
	}
	l.emit(domain.RedemptionOpened{
		Caller:          caller,
		Reason:          reason,
		RedemptionRatio: clone(ratio),
	})
	return nil
}

// Redeem burns amount of the redeemer's debt tokens and pays out collateral
// at the redemption ratio. Valid only once Redeemable and while running.
// The payout can be zero after a full slash; the burn still happens.
func (l *Ledger) Redeem(ctx context.Context, redeemer common.Address, amount *big.Int) error {
	if err := l.requireRunning(); err != nil {
		return err
	}
	if err := l.requireRedeemable(); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}

	balance, err := l.debt.BalanceOf(ctx, redeemer)
	if err != nil {
		return fmt.Errorf("ledger: query redeemer balance: %w", err)
	}
	if balance.Cmp(amount) < 0 {
		return domain.ErrInsufficientDebtTokens
	}

	total, err := l.debt.TotalSupply(ctx)
	if err != nil {
		return fmt.Errorf("ledger: query debt total supply: %w", err)
	}
	effectiveSupply := new(big.Int).Sub(total, l.debtRedemptionExcess)

	var payout *big.Int
	if l.collateralHeld.Cmp(effectiveSupply) == 0 {
		payout = clone(amount) // 1:1, no slashing occurred
	} else {
		payout = payoutAmount(l.redemptionRatio, amount)
	}

	l.collateralHeld.Sub(l.collateralHeld, payout)
	l.debtOutstanding.Sub(l.debtOutstanding, payout)

	if err := l.debt.BurnFrom(ctx, redeemer, amount); err != nil {
		l.collateralHeld.Add(l.collateralHeld, payout)
		l.debtOutstanding.Add(l.debtOutstanding, payout)
		return fmt.Errorf("%w: burn debt tokens: %v", domain.ErrTransferFailed, err)
	}

	if payout.Sign() > 0 {
		if err := l.collateral.TransferOut(ctx, redeemer, payout); err != nil {
			l.collateralHeld.Add(l.collateralHeld, payout)
			l.debtOutstanding.Add(l.debtOutstanding, payout)
			// Reissue the burned tokens so the failed redemption leaves no trace.
			if mintErr := l.reissue(ctx, redeemer, amount); mintErr != nil {
				return fmt.Errorf("%w: push collateral: %v (reissue also failed: %v)", domain.ErrTransferFailed, err, mintErr)
			}
			return fmt.Errorf("%w: push collateral: %v", domain.ErrTransferFailed, err)
		}
	}

	l.emit(domain.RedemptionExecuted{
		Caller:           redeemer,
		DebtAmount:       clone(amount),
		CollateralAmount: clone(payout),
	})
	return nil
}

func (l *Ledger) reissue(ctx context.Context, holder common.Address, amount *big.Int) error {
	if err := l.debt.MintToSelf(ctx, amount); err != nil {
		return err
	}
	return l.debt.TransferFromSelf(ctx, holder, amount)
}

// WithdrawCollateral sweeps the ledger's entire collateral-asset balance to
// the treasury, stray balances included. Privileged; Redeemable and running
// only.
func (l *Ledger) WithdrawCollateral(ctx context.Context, caller common.Address) error {
	if err := l.requirePrivileged(caller); err != nil {
		return err
	}
	if err := l.requireRunning(); err != nil {
		return err
	}
	if err := l.requireRedeemable(); err != nil {
		return err
	}

	balance, err := l.collateral.SelfBalance(ctx)
	if err != nil {
		return fmt.Errorf("ledger: query collateral balance: %w", err)
	}
	if balance.Sign() == 0 {
		return domain.ErrNothingToWithdraw
	}

	prevHeld := clone(l.collateralHeld)
	l.collateralHeld.SetInt64(0)

	if err := l.collateral.TransferOut(ctx, l.treasury, balance); err != nil {
		l.collateralHeld.Set(prevHeld)
		return fmt.Errorf("%w: sweep collateral to treasury: %v", domain.ErrTransferFailed, err)
	}

	l.emit(domain.CollateralWithdrawn{
		Caller:   caller,
		Amount:   clone(balance),
		Treasury: l.treasury,
	})
	return nil
}

// Expire is the fail-safe circuit breaker: once the configured deadline has
// passed, anyone may sweep the full collateral balance to the treasury,
// after which the ledger is forced into the paused state. It ignores the
// pause flag and works in either phase.
func (l *Ledger) Expire(ctx context.Context, caller common.Address) error {
	if l.expiresAt.IsZero() || l.now().Before(l.expiresAt) {
		return domain.ErrNotExpired
	}

	balance, err := l.collateral.SelfBalance(ctx)
	if err != nil {
		return fmt.Errorf("ledger: query collateral balance: %w", err)
	}
	if balance.Sign() == 0 {
		return domain.ErrNothingToWithdraw
	}

	prevHeld := clone(l.collateralHeld)
	prevPaused := l.paused
	l.collateralHeld.SetInt64(0)
	l.paused = true // idempotent; expiry pauses regardless of prior state

	if err := l.collateral.TransferOut(ctx, l.treasury, balance); err != nil {
		l.collateralHeld.Set(prevHeld)
		l.paused = prevPaused
		return fmt.Errorf("%w: sweep expired collateral to treasury: %v", domain.ErrTransferFailed, err)
	}

	l.emit(domain.Expired{
		Caller:   caller,
		Amount:   clone(balance),
		Treasury: l.treasury,
	})
	return nil
}

// SetTreasury replaces the treasury address. Privileged; running only.
func (l *Ledger) SetTreasury(ctx context.Context, caller common.Address, replacement common.Address) error {
	if err := l.requirePrivileged(caller); err != nil {
		return err
	}
	if err := l.requireRunning(); err != nil {
		return err
	}
	if replacement == (common.Address{}) {
		return fmt.Errorf("%w: treasury address is required", domain.ErrInvalidConfiguration)
	}

	l.treasury = replacement
	l.emit(domain.TreasuryUpdated{
		Caller:   caller,
		Treasury: replacement,
	})
	return nil
}

// Pause freezes all mutating operations except Expire. Privileged.
func (l *Ledger) Pause(ctx context.Context, caller common.Address) error {
	if err := l.requirePrivileged(caller); err != nil {
		return err
	}
	if l.paused {
		return domain.ErrPaused
	}
	l.paused = true
	l.emit(domain.PausedEvent{Caller: caller})
	return nil
}

// Unpause resumes normal operation. Privileged.
func (l *Ledger) Unpause(ctx context.Context, caller common.Address) error {
	if err := l.requirePrivileged(caller); err != nil {
		return err
	}
	if !l.paused {
		return domain.ErrNotPaused
	}
	l.paused = false
	l.emit(domain.UnpausedEvent{Caller: caller})
	return nil
}

// Snapshot returns a copy of the ledger's accounting state.
func (l *Ledger) Snapshot() domain.LedgerSnapshot {
	return domain.LedgerSnapshot{
		ID:                   l.id,
		Phase:                l.phase,
		Paused:               l.paused,
		CollateralHeld:       clone(l.collateralHeld),
		CollateralSlashed:    clone(l.collateralSlashed),
		DebtInitialSupply:    clone(l.debtInitialSupply),
		DebtOutstanding:      clone(l.debtOutstanding),
		DebtRedemptionExcess: clone(l.debtRedemptionExcess),
		RedemptionRatio:      clone(l.redemptionRatio),
		MinimumDeposit:       clone(l.minimumDeposit),
		Treasury:             l.treasury,
		ExpiresAt:            l.expiresAt,
	}
}

// SlashLog returns a copy of the append-only slash log in insertion order.
func (l *Ledger) SlashLog() []domain.SlashRecord {
	out := make([]domain.SlashRecord, 0, len(l.slashLog))
	for _, rec := range l.slashLog {
		out = append(out, domain.SlashRecord{
			Reason: rec.Reason,
			Amount: clone(rec.Amount),
		})
	}
	return out
}

// SlashAt returns the slash record at index i with bounds checking.
func (l *Ledger) SlashAt(i int) (domain.SlashRecord, error) {
	if i < 0 || i >= len(l.slashLog) {
		return domain.SlashRecord{}, domain.ErrNotFound
	}
	rec := l.slashLog[i]
	return domain.SlashRecord{Reason: rec.Reason, Amount: clone(rec.Amount)}, nil
}

// ID returns the ledger identifier.
func (l *Ledger) ID() string { return l.id }

// Phase returns the current lifecycle phase.
func (l *Ledger) Phase() domain.Phase { return l.phase }

// IsPaused reports whether the ledger is paused.
func (l *Ledger) IsPaused() bool { return l.paused }

// Treasury returns the current treasury address.
func (l *Ledger) Treasury() common.Address { return l.treasury }

// ExpiresAt returns the fail-safe expiry deadline (zero when disabled).
func (l *Ledger) ExpiresAt() time.Time { return l.expiresAt }

func (l *Ledger) requireActive() error {
	if l.phase != domain.PhaseActive {
		return domain.ErrWrongPhase
	}
	return nil
}

func (l *Ledger) requireRedeemable() error {
	if l.phase != domain.PhaseRedeemable {
		return domain.ErrWrongPhase
	}
	return nil
}

func (l *Ledger) requireRunning() error {
	if l.paused {
		return domain.ErrPaused
	}
	return nil
}

func (l *Ledger) requirePrivileged(caller common.Address) error {
	if !l.access.IsPrivileged(caller) {
		return domain.ErrUnauthorized
	}
	return nil
}

func (l *Ledger) emit(event domain.Event) {
	if l.sink != nil {
		l.sink.Emit(event)
	}
}

func requirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrZeroAmount
	}
	return nil
}

func clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
