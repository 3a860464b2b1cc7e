// Package access implements the privileged-caller check the ledger core
// gates on. Role storage is a static operator allowlist from configuration;
// the package also verifies personal-sign signatures so privileged HTTP
// calls can prove control of an operator address.
package access

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ladderfi/bondd/internal/crypto"
	"github.com/ladderfi/bondd/internal/domain"
)

// Allowlist is a fixed set of privileged operator addresses.
type Allowlist struct {
	operators map[common.Address]struct{}
}

// NewAllowlist builds an Allowlist from hex-encoded addresses. Malformed
// entries are ignored rather than rejected; config validation reports them
// before the allowlist is built.
func NewAllowlist(addresses []string) *Allowlist {
	ops := make(map[common.Address]struct{}, len(addresses))
	for _, a := range addresses {
		a = strings.TrimSpace(a)
		if !common.IsHexAddress(a) {
			continue
		}
		ops[common.HexToAddress(a)] = struct{}{}
	}
	return &Allowlist{operators: ops}
}

// IsPrivileged reports whether caller is a configured operator.
func (a *Allowlist) IsPrivileged(caller common.Address) bool {
	_, ok := a.operators[caller]
	return ok
}

// VerifySignedCaller recovers the address behind a personal-sign signature
// over body and returns it if it is privileged. Returns ErrUnauthorized for
// both a bad signature and an address outside the allowlist, so callers
// cannot distinguish the two.
func (a *Allowlist) VerifySignedCaller(body []byte, signatureHex string) (common.Address, error) {
	signer, err := crypto.RecoverSigner(body, signatureHex)
	if err != nil {
		return common.Address{}, domain.ErrUnauthorized
	}
	if !a.IsPrivileged(signer) {
		return common.Address{}, domain.ErrUnauthorized
	}
	return signer, nil
}
