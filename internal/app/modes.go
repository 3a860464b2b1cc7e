package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/ladderfi/bondd/internal/access"
	"github.com/ladderfi/bondd/internal/crypto"
	"github.com/ladderfi/bondd/internal/domain"
	"github.com/ladderfi/bondd/internal/ledger"
	"github.com/ladderfi/bondd/internal/server"
	"github.com/ladderfi/bondd/internal/server/handler"
	"github.com/ladderfi/bondd/internal/server/ws"
	"github.com/ladderfi/bondd/internal/service"
	"github.com/ladderfi/bondd/internal/token"
)

// standaloneSelf is the ledger's own address in standalone mode when no
// wallet key is configured. Memory tokens never sign anything, so any
// address works.
const standaloneSelf = "0x000000000000000000000000000000000000b0dd"

// ServeMode runs the full production stack: ERC-20 backed tokens over an
// Ethereum RPC, Postgres persistence, and the HTTP/WebSocket API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("serve: load wallet key: %w", err)
	}

	chainClient, err := token.NewChainClient(ctx, token.ChainConfig{
		RPCURL:        a.cfg.Chain.RPCURL,
		ChainID:       a.cfg.Chain.ChainID,
		PrivateKeyHex: keyHex,
		Confirmations: a.cfg.Chain.Confirmations,
	})
	if err != nil {
		return fmt.Errorf("serve: chain client: %w", err)
	}
	a.closers = append(a.closers, chainClient.Close)

	collateral, err := token.NewERC20Collateral(chainClient, common.HexToAddress(a.cfg.Chain.CollateralToken))
	if err != nil {
		return fmt.Errorf("serve: collateral token: %w", err)
	}
	debt, err := token.NewERC20Debt(chainClient, common.HexToAddress(a.cfg.Chain.DebtToken))
	if err != nil {
		return fmt.Errorf("serve: debt token: %w", err)
	}

	svc, allowlist, err := a.openLedger(ctx, deps, collateral, debt)
	if err != nil {
		return err
	}

	return a.supervise(ctx, deps, svc, allowlist, chainClient.Self())
}

// StandaloneMode runs the ledger against in-memory tokens with no chain and
// no database; useful for local development and integration testing. Redis
// and the HTTP API still come up when configured.
func (a *App) StandaloneMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting standalone mode")

	self := common.HexToAddress(standaloneSelf)
	if a.cfg.Wallet.PrivateKey != "" {
		signer, err := crypto.NewSigner(a.cfg.Wallet.PrivateKey)
		if err != nil {
			return fmt.Errorf("standalone: wallet key: %w", err)
		}
		self = signer.Address()
	}

	collateralTok := token.NewMemoryToken("COLL")
	debtTok := token.NewMemoryToken("DEBT")
	collateral := token.NewMemoryCollateral(collateralTok, self)
	debt := token.NewMemoryDebt(debtTok, self)

	svc, allowlist, err := a.openLedger(ctx, deps, collateral, debt)
	if err != nil {
		return err
	}

	return a.supervise(ctx, deps, svc, allowlist, self)
}

// openLedger builds the ledger service on top of whatever stores Wire
// produced and opens (or restores) the ledger named in the configuration.
func (a *App) openLedger(
	ctx context.Context,
	deps *Dependencies,
	collateral domain.CollateralAsset,
	debt domain.DebtToken,
) (*service.LedgerService, *access.Allowlist, error) {
	allowlist := access.NewAllowlist(a.cfg.Ledger.Operators)

	var alerter service.Alerter
	if deps.Notifier != nil {
		alerter = deps.Notifier
	}

	svc := service.NewLedgerService(
		deps.LedgerStore, deps.SlashStore, deps.EventStore, deps.AuditStore,
		deps.SignalBus, deps.LockManager, alerter, a.logger,
	)

	cfg := ledger.Config{
		ID:                a.cfg.Ledger.ID,
		InitialDebtSupply: a.cfg.Ledger.ParsedInitialDebtSupply(),
		MinimumDeposit:    a.cfg.Ledger.ParsedMinimumDeposit(),
		Treasury:          common.HexToAddress(a.cfg.Ledger.Treasury),
		ExpiresAt:         a.cfg.Ledger.ParsedExpiresAt(),
	}
	if err := svc.Open(ctx, cfg, collateral, debt, allowlist); err != nil {
		return nil, nil, fmt.Errorf("app: open ledger: %w", err)
	}
	return svc, allowlist, nil
}

// supervise starts the long-running goroutines shared by both modes (HTTP
// server, WebSocket hub, expiry watcher, archiver) and blocks until the
// first one fails or the context is cancelled.
func (a *App) supervise(
	ctx context.Context,
	deps *Dependencies,
	svc *service.LedgerService,
	allowlist *access.Allowlist,
	operator common.Address,
) error {
	g, ctx := errgroup.WithContext(ctx)

	// WebSocket hub — requires the Redis signal bus.
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, svc.LedgerID(), a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		srv := server.NewServer(
			server.Config{
				Port:        a.cfg.Server.Port,
				CORSOrigins: a.cfg.Server.CORSOrigins,
				APIKey:      a.cfg.Server.APIKey,
			},
			server.Handlers{
				Health: handler.NewHealthHandler(a.logger),
				Ledger: handler.NewLedgerHandler(svc, allowlist, a.logger),
			},
			hub,
			a.logger,
		)
		g.Go(func() error {
			a.logger.InfoContext(ctx, "HTTP server listening",
				slog.Int("port", a.cfg.Server.Port),
			)
			return srv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			a.logger.Info("HTTP server shutting down")
			return srv.Shutdown(shutCtx)
		})
	}

	// Expiry watcher — no-op when the ledger has no deadline.
	watcher := service.NewExpiryWatcher(svc, operator, a.cfg.Ledger.ExpiryCheckInterval.Duration, a.logger)
	g.Go(func() error {
		return watcher.Run(ctx)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiver(ctx, deps)
		})
	}

	// Keep the group alive until shutdown even when every optional
	// goroutine above finished early (no server, no deadline).
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	return g.Wait()
}

// runArchiver periodically ships journal rows older than the retention
// window to blob storage and prunes them from Postgres.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			n, err := deps.Archiver.ArchiveEvents(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive run failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "archived journal rows",
					slog.Int64("rows", n),
					slog.Time("cutoff", cutoff),
				)
			}
		}
	}
}
