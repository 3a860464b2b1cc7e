package ledger

import (
	"fmt"
	"math/big"

	"github.com/ladderfi/bondd/internal/domain"
)

var ratioScale = big.NewInt(domain.RatioScale)

// scaledRatio computes floor(RatioScale * held / effectiveSupply). It is only
// called on the slashed path of the redemption-opening transition; a zero
// effective supply there would divide by zero, so it is rejected explicitly.
func scaledRatio(held, effectiveSupply *big.Int) (*big.Int, error) {
	if effectiveSupply.Sign() == 0 {
		return nil, domain.ErrEmptyLedger
	}
	if effectiveSupply.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative effective supply", domain.ErrInvalidConfiguration)
	}
	ratio := new(big.Int).Mul(held, ratioScale)
	return ratio.Quo(ratio, effectiveSupply), nil
}

// payoutAmount computes floor(ratio * amount / RatioScale). The fractional
// remainder below the ratio's precision is lost: rounding is biased against
// the redeemer, never against the ledger.
func payoutAmount(ratio, amount *big.Int) *big.Int {
	payout := new(big.Int).Mul(ratio, amount)
	return payout.Quo(payout, ratioScale)
}
