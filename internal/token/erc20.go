package token

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ladderfi/bondd/internal/domain"
)

// erc20ABI covers the subset of the ERC20 surface the ledger needs, plus the
// owner-gated mint/burn extension the debt token contract exposes.
const erc20ABI = `[
	{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"holder","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"totalSupply","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"mint","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"name":"burnFrom","type":"function","inputs":[{"name":"holder","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

// ChainConfig holds connection parameters for the on-chain token backends.
type ChainConfig struct {
	RPCURL        string
	ChainID       int64
	PrivateKeyHex string
	// Confirmations to wait for after each transaction. Zero means wait for
	// inclusion only.
	Confirmations uint64
}

// ChainClient wraps an Ethereum RPC connection and the holding account that
// acts as the ledger's on-chain identity.
type ChainClient struct {
	eth           *ethclient.Client
	chainID       *big.Int
	key           *ecdsa.PrivateKey
	self          common.Address
	confirmations uint64
}

// NewChainClient dials the RPC endpoint and derives the holding address from
// the configured private key.
func NewChainClient(ctx context.Context, cfg ChainConfig) (*ChainClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("%w: rpc url is required", domain.ErrInvalidConfiguration)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("token: parse private key: %w", err)
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("token: dial %s: %w", cfg.RPCURL, err)
	}
	return &ChainClient{
		eth:           eth,
		chainID:       big.NewInt(cfg.ChainID),
		key:           key,
		self:          crypto.PubkeyToAddress(key.PublicKey),
		confirmations: cfg.Confirmations,
	}, nil
}

// Self returns the holding address.
func (c *ChainClient) Self() common.Address { return c.self }

// Close releases the RPC connection.
func (c *ChainClient) Close() { c.eth.Close() }

func (c *ChainClient) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("token: build transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// confirmPollInterval is how often waitConfirmed re-reads the chain head.
const confirmPollInterval = time.Second

// waitMined blocks until the transaction is included, checks its status, and
// waits for the configured number of confirmation blocks past inclusion.
func (c *ChainClient) waitMined(ctx context.Context, tx *types.Transaction) error {
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return fmt.Errorf("token: wait for tx %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("token: tx %s reverted", tx.Hash().Hex())
	}
	if c.confirmations == 0 {
		return nil
	}
	if err := waitConfirmed(ctx, c.eth.BlockNumber, receipt.BlockNumber.Uint64(), c.confirmations); err != nil {
		return fmt.Errorf("token: confirm tx %s: %w", tx.Hash().Hex(), err)
	}
	return nil
}

// waitConfirmed polls the chain head until it is at least confirmations
// blocks past the inclusion block.
func waitConfirmed(ctx context.Context, head func(context.Context) (uint64, error), minedAt, confirmations uint64) error {
	target := minedAt + confirmations
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()
	for {
		n, err := head(ctx)
		if err != nil {
			return err
		}
		if n >= target {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ERC20Token is a bound ERC20 contract viewed from the holding account.
type ERC20Token struct {
	client   *ChainClient
	contract *bind.BoundContract
	addr     common.Address
}

// NewERC20Token binds the ERC20 contract at addr.
func NewERC20Token(client *ChainClient, addr common.Address) (*ERC20Token, error) {
	if addr == (common.Address{}) {
		return nil, fmt.Errorf("%w: token contract address is required", domain.ErrInvalidConfiguration)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("token: parse erc20 abi: %w", err)
	}
	return &ERC20Token{
		client:   client,
		contract: bind.NewBoundContract(addr, parsed, client.eth, client.eth, client.eth),
		addr:     addr,
	}, nil
}

func (t *ERC20Token) transact(ctx context.Context, method string, args ...any) error {
	opts, err := t.client.transactOpts(ctx)
	if err != nil {
		return err
	}
	tx, err := t.contract.Transact(opts, method, args...)
	if err != nil {
		return fmt.Errorf("token: %s on %s: %w", method, t.addr.Hex(), err)
	}
	return t.client.waitMined(ctx, tx)
}

func (t *ERC20Token) callUint(ctx context.Context, method string, args ...any) (*big.Int, error) {
	var out []any
	opts := &bind.CallOpts{Context: ctx}
	if err := t.contract.Call(opts, &out, method, args...); err != nil {
		return nil, fmt.Errorf("token: call %s on %s: %w", method, t.addr.Hex(), err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("token: call %s on %s: unexpected output arity %d", method, t.addr.Hex(), len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("token: call %s on %s: unexpected output type %T", method, t.addr.Hex(), out[0])
	}
	return v, nil
}

// ERC20Collateral implements domain.CollateralAsset over a bound ERC20.
// Depositors approve the holding address; TransferIn pulls via transferFrom.
type ERC20Collateral struct {
	*ERC20Token
}

// NewERC20Collateral binds the collateral asset contract at addr.
func NewERC20Collateral(client *ChainClient, addr common.Address) (*ERC20Collateral, error) {
	tok, err := NewERC20Token(client, addr)
	if err != nil {
		return nil, err
	}
	return &ERC20Collateral{ERC20Token: tok}, nil
}

func (c *ERC20Collateral) TransferIn(ctx context.Context, from common.Address, amount *big.Int) error {
	return c.transact(ctx, "transferFrom", from, c.client.self, amount)
}

func (c *ERC20Collateral) TransferOut(ctx context.Context, to common.Address, amount *big.Int) error {
	return c.transact(ctx, "transfer", to, amount)
}

func (c *ERC20Collateral) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	return c.callUint(ctx, "balanceOf", holder)
}

func (c *ERC20Collateral) SelfBalance(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, "balanceOf", c.client.self)
}

// ERC20Debt implements domain.DebtToken over a bound ERC20 with owner-gated
// mint/burnFrom. The holding account must be the token contract's owner.
type ERC20Debt struct {
	*ERC20Token
}

// NewERC20Debt binds the debt token contract at addr.
func NewERC20Debt(client *ChainClient, addr common.Address) (*ERC20Debt, error) {
	tok, err := NewERC20Token(client, addr)
	if err != nil {
		return nil, err
	}
	return &ERC20Debt{ERC20Token: tok}, nil
}

func (d *ERC20Debt) MintToSelf(ctx context.Context, amount *big.Int) error {
	return d.transact(ctx, "mint", d.client.self, amount)
}

func (d *ERC20Debt) TransferFromSelf(ctx context.Context, to common.Address, amount *big.Int) error {
	return d.transact(ctx, "transfer", to, amount)
}

func (d *ERC20Debt) BurnFrom(ctx context.Context, holder common.Address, amount *big.Int) error {
	return d.transact(ctx, "burnFrom", holder, amount)
}

func (d *ERC20Debt) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	return d.callUint(ctx, "balanceOf", holder)
}

func (d *ERC20Debt) SelfBalance(ctx context.Context) (*big.Int, error) {
	return d.callUint(ctx, "balanceOf", d.client.self)
}

func (d *ERC20Debt) TotalSupply(ctx context.Context) (*big.Int, error) {
	return d.callUint(ctx, "totalSupply")
}
