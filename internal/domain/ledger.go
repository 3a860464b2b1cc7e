// Package domain defines the core types, errors, capability contracts, and
// store interfaces for the bond ledger service. It has no dependencies on
// infrastructure packages; everything here is plain data and interfaces.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Phase is the lifecycle phase of a bond ledger. The transition is one-way:
// Active -> Redeemable. The Paused flag is orthogonal and tracked separately.
type Phase string

const (
	PhaseActive     Phase = "active"
	PhaseRedeemable Phase = "redeemable"
)

// RatioScale is the fixed-point scale for the redemption ratio: a ratio of
// 10,000 means 1.0, i.e. four decimal digits of precision. All ratio math is
// integer floor division against this constant; floats never enter the
// calculation.
const RatioScale = 10_000

// SlashRecord is a single entry in the append-only slash log. Records are
// never mutated or removed; insertion order is time order.
type SlashRecord struct {
	Reason string
	Amount *big.Int
}

// LedgerSnapshot is the full accounting state of a bond ledger at a point in
// time. It is what gets persisted after every successful mutation and served
// by the status endpoint.
type LedgerSnapshot struct {
	ID                   string
	Phase                Phase
	Paused               bool
	CollateralHeld       *big.Int
	CollateralSlashed    *big.Int
	DebtInitialSupply    *big.Int
	DebtOutstanding      *big.Int
	DebtRedemptionExcess *big.Int
	RedemptionRatio      *big.Int
	MinimumDeposit       *big.Int
	Treasury             common.Address
	ExpiresAt            time.Time
	UpdatedAt            time.Time
}

// AccessChecker reports whether a caller may invoke privileged operations.
// Role storage lives outside the core; the ledger only gates on this boolean.
type AccessChecker interface {
	IsPrivileged(caller common.Address) bool
}
