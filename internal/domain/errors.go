package domain

import "errors"

// Ledger operation errors. These map one-to-one onto the validation failures
// an operation can surface; the HTTP layer translates them to status codes.
var (
	ErrZeroAmount             = errors.New("amount must be greater than zero")
	ErrExceedsAvailable       = errors.New("amount exceeds debt tokens available for issuance")
	ErrExceedsHeld            = errors.New("amount exceeds collateral held")
	ErrBelowMinimum           = errors.New("resulting holding below minimum deposit")
	ErrInsufficientDebtTokens = errors.New("insufficient debt token balance")
	ErrNothingToWithdraw      = errors.New("no collateral balance to withdraw")
	ErrInvalidConfiguration   = errors.New("invalid configuration")
	ErrTransferFailed         = errors.New("token transfer failed")
	ErrWrongPhase             = errors.New("operation not valid in current phase")
	ErrPaused                 = errors.New("ledger is paused")
	ErrNotPaused              = errors.New("ledger is not paused")
	ErrUnauthorized           = errors.New("caller is not privileged")
	ErrEmptyLedger            = errors.New("no collateral-backed supply to redeem against")
	ErrNotExpired             = errors.New("expiry deadline has not passed")
)

// Token errors surfaced by the collateral asset and debt token capabilities.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Infrastructure errors shared across stores and caches.
var (
	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")
)
