package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/ladderfi/bondd/internal/access"
	"github.com/ladderfi/bondd/internal/crypto"
	"github.com/ladderfi/bondd/internal/ledger"
	"github.com/ladderfi/bondd/internal/service"
	"github.com/ladderfi/bondd/internal/token"
)

var (
	hSelf     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	hTreasury = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	hHolder   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
)

// operatorKey is the test operator's private key; its address is
// 0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf.
const operatorKey = "0000000000000000000000000000000000000000000000000000000000000001"

const operatorAddr = "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"

type handlerFixture struct {
	h      *LedgerHandler
	coll   *token.MemoryToken
	signer *crypto.Signer
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	coll := token.NewMemoryToken("COLL")
	debt := token.NewMemoryToken("DEBT")
	allow := access.NewAllowlist([]string{operatorAddr})
	logger := slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))

	svc := service.NewLedgerService(nil, nil, nil, nil, nil, nil, nil, logger)
	cfg := ledger.Config{
		ID:                "bond-http",
		InitialDebtSupply: big.NewInt(1000),
		Treasury:          hTreasury,
	}
	require.NoError(t, svc.Open(context.Background(), cfg,
		token.NewMemoryCollateral(coll, hSelf),
		token.NewMemoryDebt(debt, hSelf),
		allow,
	))

	signer, err := crypto.NewSigner(operatorKey)
	require.NoError(t, err)

	return &handlerFixture{
		h:      NewLedgerHandler(svc, allow, logger),
		coll:   coll,
		signer: signer,
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func (f *handlerFixture) do(t *testing.T, handle http.HandlerFunc, method, target string, body any, sign bool) *httptest.ResponseRecorder {
	t.Helper()

	var buf []byte
	if body != nil {
		var err error
		buf, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, target, bytes.NewReader(buf))
	if sign {
		sig, err := f.signer.SignMessage(buf)
		require.NoError(t, err)
		req.Header.Set(signatureHeader, sig)
	}

	rec := httptest.NewRecorder()
	handle(rec, req)
	return rec
}

func TestGetLedgerRendersAmountsAsStrings(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, f.h.GetLedger, http.MethodGet, "/api/ledger", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var view snapshotView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "bond-http", view.ID)
	require.Equal(t, "active", view.Phase)
	require.Equal(t, "1000", view.DebtInitialSupply)
	require.Equal(t, "0", view.CollateralHeld)
	require.EqualValues(t, 10000, view.RatioScale)
}

func TestDepositUpdatesSnapshot(t *testing.T) {
	f := newHandlerFixture(t)
	f.coll.Mint(hHolder, big.NewInt(300))
	f.coll.Approve(hHolder, hSelf, big.NewInt(300))

	rec := f.do(t, f.h.Deposit, http.MethodPost, "/api/ledger/deposit",
		mutationRequest{Caller: hHolder.Hex(), Amount: "300"}, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var view snapshotView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "300", view.CollateralHeld)
	require.Equal(t, "300", view.DebtOutstanding)
}

func TestDepositRejectsMalformedAmount(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, f.h.Deposit, http.MethodPost, "/api/ledger/deposit",
		mutationRequest{Caller: hHolder.Hex(), Amount: "3.5"}, false)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDepositExceedingSupplyIsConflict(t *testing.T) {
	f := newHandlerFixture(t)
	f.coll.Mint(hHolder, big.NewInt(5000))
	f.coll.Approve(hHolder, hSelf, big.NewInt(5000))

	rec := f.do(t, f.h.Deposit, http.MethodPost, "/api/ledger/deposit",
		mutationRequest{Caller: hHolder.Hex(), Amount: "5000"}, false)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestSlashRequiresOperatorSignature(t *testing.T) {
	f := newHandlerFixture(t)
	f.coll.Mint(hHolder, big.NewInt(300))
	f.coll.Approve(hHolder, hSelf, big.NewInt(300))
	rec := f.do(t, f.h.Deposit, http.MethodPost, "/api/ledger/deposit",
		mutationRequest{Caller: hHolder.Hex(), Amount: "300"}, false)
	require.Equal(t, http.StatusOK, rec.Code)

	// Signed by the listed operator: accepted.
	rec = f.do(t, f.h.Slash, http.MethodPost, "/api/ledger/slash",
		mutationRequest{Amount: "50", Reason: "missed payment"}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	// Unsigned body naming a non-operator caller: the core rejects it.
	rec = f.do(t, f.h.Slash, http.MethodPost, "/api/ledger/slash",
		mutationRequest{Caller: hHolder.Hex(), Amount: "50", Reason: "missed payment"}, false)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSlashWithTamperedSignatureIsForbidden(t *testing.T) {
	f := newHandlerFixture(t)

	body, err := json.Marshal(mutationRequest{Amount: "50", Reason: "x"})
	require.NoError(t, err)
	sig, err := f.signer.SignMessage([]byte("different body"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/ledger/slash", bytes.NewReader(body))
	req.Header.Set(signatureHeader, sig)
	rec := httptest.NewRecorder()
	f.h.Slash(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRedemptionFlowOverHTTP(t *testing.T) {
	f := newHandlerFixture(t)
	f.coll.Mint(hHolder, big.NewInt(1000))
	f.coll.Approve(hHolder, hSelf, big.NewInt(1000))

	rec := f.do(t, f.h.Deposit, http.MethodPost, "/api/ledger/deposit",
		mutationRequest{Caller: hHolder.Hex(), Amount: "1000"}, false)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, f.h.AllowRedemption, http.MethodPost, "/api/ledger/redemption",
		mutationRequest{Reason: "maturity"}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var view snapshotView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "redeemable", view.Phase)
	require.Equal(t, "10000", view.RedemptionRatio)

	// Redeeming again in the wrong phase conflicts.
	rec = f.do(t, f.h.AllowRedemption, http.MethodPost, "/api/ledger/redemption",
		mutationRequest{Reason: "again"}, true)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, f.h.Redeem, http.MethodPost, "/api/ledger/redeem",
		mutationRequest{Caller: hHolder.Hex(), Amount: "400"}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "600", view.CollateralHeld)
	require.Equal(t, "600", view.DebtOutstanding)
}

func TestListSlashesFromMemory(t *testing.T) {
	f := newHandlerFixture(t)
	f.coll.Mint(hHolder, big.NewInt(500))
	f.coll.Approve(hHolder, hSelf, big.NewInt(500))

	rec := f.do(t, f.h.Deposit, http.MethodPost, "/api/ledger/deposit",
		mutationRequest{Caller: hHolder.Hex(), Amount: "500"}, false)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, f.h.Slash, http.MethodPost, "/api/ledger/slash",
		mutationRequest{Amount: "75", Reason: "late"}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, f.h.ListSlashes, http.MethodGet, "/api/ledger/slashes", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Slashes []slashView `json:"slashes"`
		Count   int         `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	require.Equal(t, "75", resp.Slashes[0].Amount)
	require.Equal(t, "late", resp.Slashes[0].Reason)
}
