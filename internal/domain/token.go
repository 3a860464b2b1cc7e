package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CollateralAsset is the capability contract for the single asset that backs
// debt tokens. Implementations own the notion of "the ledger's holding": a
// TransferIn moves funds from a depositor into that holding, a TransferOut
// moves funds from the holding to a recipient.
//
// Transfer failures (insufficient balance, insufficient allowance, rejected
// transaction) must be returned as errors; the ledger treats any error as a
// TransferFailed and rolls the enclosing operation back.
type CollateralAsset interface {
	TransferIn(ctx context.Context, from common.Address, amount *big.Int) error
	TransferOut(ctx context.Context, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error)
	// SelfBalance returns the balance of the ledger's own holding.
	SelfBalance(ctx context.Context) (*big.Int, error)
}

// DebtToken is the capability contract for the instrument issued 1:1 against
// collateral. The ledger mints the initial supply into its own holding at
// construction and hands tokens out as deposits arrive.
type DebtToken interface {
	MintToSelf(ctx context.Context, amount *big.Int) error
	TransferFromSelf(ctx context.Context, to common.Address, amount *big.Int) error
	BurnFrom(ctx context.Context, holder common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error)
	// SelfBalance returns the debt tokens still held by the ledger, i.e. the
	// amount that has yet to be collateralized.
	SelfBalance(ctx context.Context) (*big.Int, error)
	TotalSupply(ctx context.Context) (*big.Int, error)
}
