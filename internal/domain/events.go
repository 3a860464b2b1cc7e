package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event is a single entry in the ledger's observable audit trail. Each
// state-changing operation emits one or more events in a fixed order, and
// each event type marshals its fields in a fixed order -- indexers and
// monitors depend on both.
type Event interface {
	// EventType returns the stable wire name of the event.
	EventType() string
}

// Event wire names. These double as signal-bus channels (prefixed by the
// publisher) and as the `event` column in the journal.
const (
	EventDepositRecorded          = "deposit_recorded"
	EventDebtIssued               = "debt_issued"
	EventFullyCollateralized      = "fully_collateralized"
	EventSlashRecorded            = "slash_recorded"
	EventRedemptionOpened         = "redemption_opened"
	EventPartialCollateralization = "partial_collateralization"
	EventRedemptionExecuted       = "redemption_executed"
	EventCollateralWithdrawn      = "collateral_withdrawn"
	EventExpired                  = "expired"
	EventTreasuryUpdated          = "treasury_updated"
	EventPaused                   = "paused"
	EventUnpaused                 = "unpaused"
)

// DepositRecorded is emitted when a deposit of collateral is accepted.
type DepositRecorded struct {
	Caller         common.Address `json:"caller"`
	Amount         *big.Int       `json:"amount"`
	CollateralHeld *big.Int       `json:"collateral_held"`
}

func (DepositRecorded) EventType() string { return EventDepositRecorded }

// DebtIssued is emitted immediately after DepositRecorded, once the matching
// debt tokens have been handed to the depositor.
type DebtIssued struct {
	Caller          common.Address `json:"caller"`
	Amount          *big.Int       `json:"amount"`
	DebtOutstanding *big.Int       `json:"debt_outstanding"`
}

func (DebtIssued) EventType() string { return EventDebtIssued }

// FullyCollateralized is emitted by the deposit that brings the ledger's
// remaining debt tokens to exactly zero.
type FullyCollateralized struct {
	CollateralHeld *big.Int `json:"collateral_held"`
}

func (FullyCollateralized) EventType() string { return EventFullyCollateralized }

// SlashRecorded is emitted when collateral is punitively removed.
type SlashRecorded struct {
	Caller            common.Address `json:"caller"`
	Reason            string         `json:"reason"`
	Amount            *big.Int       `json:"amount"`
	CollateralHeld    *big.Int       `json:"collateral_held"`
	CollateralSlashed *big.Int       `json:"collateral_slashed"`
}

func (SlashRecorded) EventType() string { return EventSlashRecorded }

// PartialCollateralization is emitted by the redemption-opening transition
// when some debt tokens never received matching collateral. It precedes
// RedemptionOpened.
type PartialCollateralization struct {
	CollateralHeld *big.Int `json:"collateral_held"`
	DebtRemaining  *big.Int `json:"debt_remaining"`
}

func (PartialCollateralization) EventType() string { return EventPartialCollateralization }

// RedemptionOpened is emitted on the one-way Active -> Redeemable transition.
type RedemptionOpened struct {
	Caller          common.Address `json:"caller"`
	Reason          string         `json:"reason"`
	RedemptionRatio *big.Int       `json:"redemption_ratio"`
}

func (RedemptionOpened) EventType() string { return EventRedemptionOpened }

// RedemptionExecuted is emitted when a holder swaps debt tokens back for
// collateral.
type RedemptionExecuted struct {
	Caller           common.Address `json:"caller"`
	DebtAmount       *big.Int       `json:"debt_amount"`
	CollateralAmount *big.Int       `json:"collateral_amount"`
}

func (RedemptionExecuted) EventType() string { return EventRedemptionExecuted }

// CollateralWithdrawn is emitted when the remaining collateral balance is
// swept to the treasury after redemption opened.
type CollateralWithdrawn struct {
	Caller   common.Address `json:"caller"`
	Amount   *big.Int       `json:"amount"`
	Treasury common.Address `json:"treasury"`
}

func (CollateralWithdrawn) EventType() string { return EventCollateralWithdrawn }

// Expired is emitted by the fail-safe expiry sweep.
type Expired struct {
	Caller   common.Address `json:"caller"`
	Amount   *big.Int       `json:"amount"`
	Treasury common.Address `json:"treasury"`
}

func (Expired) EventType() string { return EventExpired }

// TreasuryUpdated is emitted when the treasury address is replaced.
type TreasuryUpdated struct {
	Caller   common.Address `json:"caller"`
	Treasury common.Address `json:"treasury"`
}

func (TreasuryUpdated) EventType() string { return EventTreasuryUpdated }

// PausedEvent is emitted when the ledger is explicitly paused.
type PausedEvent struct {
	Caller common.Address `json:"caller"`
}

func (PausedEvent) EventType() string { return EventPaused }

// UnpausedEvent is emitted when the ledger is explicitly unpaused.
type UnpausedEvent struct {
	Caller common.Address `json:"caller"`
}

func (UnpausedEvent) EventType() string { return EventUnpaused }

// EventSink receives events from the ledger core in emission order. The core
// only calls the sink after an operation has fully committed; a sink never
// observes events from an operation that rolled back.
type EventSink interface {
	Emit(event Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(event Event)

// Emit calls f(event).
func (f EventSinkFunc) Emit(event Event) { f(event) }
