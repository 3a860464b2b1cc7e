package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ladderfi/bondd/internal/crypto"
	"github.com/ladderfi/bondd/internal/domain"
	"github.com/ladderfi/bondd/internal/service"
)

// signatureHeader carries an optional personal-sign signature over the raw
// request body. When present the caller address is recovered from it instead
// of trusting the body's caller field.
const signatureHeader = "X-Caller-Signature"

// maxBodySize bounds mutation request bodies.
const maxBodySize = 1 << 16

// OperatorVerifier recovers a signer from a signed request body and checks
// operator membership.
type OperatorVerifier interface {
	VerifySignedCaller(body []byte, signatureHex string) (common.Address, error)
}

// LedgerHandler serves the ledger API: status, slash log, event journal, and
// all state-changing operations.
type LedgerHandler struct {
	svc      *service.LedgerService
	verifier OperatorVerifier
	logger   *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(svc *service.LedgerService, verifier OperatorVerifier, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{
		svc:      svc,
		verifier: verifier,
		logger:   logHandler(logger, "ledger"),
	}
}

// snapshotView is the JSON rendering of a ledger snapshot. Amounts are
// decimal strings so clients never lose precision to float parsing.
type snapshotView struct {
	ID                   string `json:"id"`
	Phase                string `json:"phase"`
	Paused               bool   `json:"paused"`
	CollateralHeld       string `json:"collateral_held"`
	CollateralSlashed    string `json:"collateral_slashed"`
	DebtInitialSupply    string `json:"debt_initial_supply"`
	DebtOutstanding      string `json:"debt_outstanding"`
	DebtRedemptionExcess string `json:"debt_redemption_excess"`
	RedemptionRatio      string `json:"redemption_ratio"`
	RatioScale           int64  `json:"ratio_scale"`
	MinimumDeposit       string `json:"minimum_deposit"`
	Treasury             string `json:"treasury"`
	ExpiresAt            string `json:"expires_at,omitempty"`
	UpdatedAt            string `json:"updated_at"`
}

func renderSnapshot(snap domain.LedgerSnapshot) snapshotView {
	v := snapshotView{
		ID:                   snap.ID,
		Phase:                string(snap.Phase),
		Paused:               snap.Paused,
		CollateralHeld:       snap.CollateralHeld.String(),
		CollateralSlashed:    snap.CollateralSlashed.String(),
		DebtInitialSupply:    snap.DebtInitialSupply.String(),
		DebtOutstanding:      snap.DebtOutstanding.String(),
		DebtRedemptionExcess: snap.DebtRedemptionExcess.String(),
		RedemptionRatio:      snap.RedemptionRatio.String(),
		RatioScale:           domain.RatioScale,
		MinimumDeposit:       snap.MinimumDeposit.String(),
		Treasury:             snap.Treasury.Hex(),
		UpdatedAt:            snap.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if !snap.ExpiresAt.IsZero() {
		v.ExpiresAt = snap.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return v
}

// GetLedger returns the current accounting snapshot.
// GET /api/ledger
func (h *LedgerHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, renderSnapshot(h.svc.Snapshot()))
}

// mutationRequest is the common body shape for state-changing endpoints.
// Amount fields are decimal strings.
type mutationRequest struct {
	Caller   string `json:"caller"`
	Amount   string `json:"amount,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Treasury string `json:"treasury,omitempty"`
}

// readMutation decodes the body and resolves the caller address. With a
// signature header the caller is the recovered signer; privileged endpoints
// additionally require the signer to be a listed operator.
func (h *LedgerHandler) readMutation(w http.ResponseWriter, r *http.Request, privileged bool) (mutationRequest, common.Address, bool) {
	var req mutationRequest

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body: "+err.Error())
		return req, common.Address{}, false
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "decode request body: "+err.Error())
		return req, common.Address{}, false
	}

	if sig := r.Header.Get(signatureHeader); sig != "" {
		var caller common.Address
		if privileged {
			caller, err = h.verifier.VerifySignedCaller(body, sig)
		} else {
			caller, err = crypto.RecoverSigner(body, sig)
		}
		if err != nil {
			writeError(w, http.StatusForbidden, "signature verification failed")
			return req, common.Address{}, false
		}
		return req, caller, true
	}

	if !common.IsHexAddress(req.Caller) {
		writeError(w, http.StatusBadRequest, "caller must be a hex address")
		return req, common.Address{}, false
	}
	return req, common.HexToAddress(req.Caller), true
}

// Deposit accepts collateral and issues matching debt tokens.
// POST /api/ledger/deposit
func (h *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	req, caller, ok := h.readMutation(w, r, false)
	if !ok {
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount must be a decimal string")
		return
	}
	if err := h.svc.Deposit(r.Context(), caller, amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSnapshot(h.svc.Snapshot()))
}

// Slash removes collateral punitively.
// POST /api/ledger/slash
func (h *LedgerHandler) Slash(w http.ResponseWriter, r *http.Request) {
	req, caller, ok := h.readMutation(w, r, true)
	if !ok {
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount must be a decimal string")
		return
	}
	if err := h.svc.Slash(r.Context(), caller, amount, req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSnapshot(h.svc.Snapshot()))
}

// AllowRedemption performs the one-way Active -> Redeemable transition.
// POST /api/ledger/redemption
func (h *LedgerHandler) AllowRedemption(w http.ResponseWriter, r *http.Request) {
	req, caller, ok := h.readMutation(w, r, true)
	if !ok {
		return
	}
	if err := h.svc.AllowRedemption(r.Context(), caller, req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSnapshot(h.svc.Snapshot()))
}

// Redeem swaps debt tokens back for collateral.
// POST /api/ledger/redeem
func (h *LedgerHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	req, caller, ok := h.readMutation(w, r, false)
	if !ok {
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount must be a decimal string")
		return
	}
	if err := h.svc.Redeem(r.Context(), caller, amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSnapshot(h.svc.Snapshot()))
}

// Withdraw sweeps the remaining collateral to the treasury.
// POST /api/ledger/withdraw
func (h *LedgerHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	_, caller, ok := h.readMutation(w, r, true)
	if !ok {
		return
	}
	if err := h.svc.WithdrawCollateral(r.Context(), caller); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSnapshot(h.svc.Snapshot()))
}

// Expire triggers the fail-safe sweep once the deadline has passed. Unlike
// the other mutations this is deliberately unprivileged.
// POST /api/ledger/expire
func (h *LedgerHandler) Expire(w http.ResponseWriter, r *http.Request) {
	_, caller, ok := h.readMutation(w, r, false)
	if !ok {
		return
	}
	if err := h.svc.Expire(r.Context(), caller); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSnapshot(h.svc.Snapshot()))
}

// SetTreasury replaces the treasury address.
// PUT /api/ledger/treasury
func (h *LedgerHandler) SetTreasury(w http.ResponseWriter, r *http.Request) {
	req, caller, ok := h.readMutation(w, r, true)
	if !ok {
		return
	}
	if !common.IsHexAddress(req.Treasury) {
		writeError(w, http.StatusBadRequest, "treasury must be a hex address")
		return
	}
	if err := h.svc.SetTreasury(r.Context(), caller, common.HexToAddress(req.Treasury)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSnapshot(h.svc.Snapshot()))
}

// Pause halts mutating operations.
// POST /api/ledger/pause
func (h *LedgerHandler) Pause(w http.ResponseWriter, r *http.Request) {
	_, caller, ok := h.readMutation(w, r, true)
	if !ok {
		return
	}
	if err := h.svc.Pause(r.Context(), caller); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSnapshot(h.svc.Snapshot()))
}

// Unpause resumes mutating operations.
// POST /api/ledger/unpause
func (h *LedgerHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	_, caller, ok := h.readMutation(w, r, true)
	if !ok {
		return
	}
	if err := h.svc.Unpause(r.Context(), caller); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSnapshot(h.svc.Snapshot()))
}

// slashView is the JSON rendering of a slash log row.
type slashView struct {
	ID        int64  `json:"id"`
	Reason    string `json:"reason"`
	Amount    string `json:"amount"`
	CreatedAt string `json:"created_at,omitempty"`
}

// ListSlashes returns the slash log, oldest first.
// GET /api/ledger/slashes
func (h *LedgerHandler) ListSlashes(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.SlashLog(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	views := make([]slashView, 0, len(entries))
	for _, e := range entries {
		v := slashView{ID: e.ID, Reason: e.Reason, Amount: e.Amount}
		if !e.CreatedAt.IsZero() {
			v.CreatedAt = e.CreatedAt.UTC().Format(time.RFC3339)
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"slashes": views, "count": len(views)})
}

// eventView is the JSON rendering of an event journal row.
type eventView struct {
	ID        int64           `json:"id"`
	Event     string          `json:"event"`
	Detail    json.RawMessage `json:"detail"`
	CreatedAt string          `json:"created_at"`
}

// ListEvents returns the event journal, oldest first.
// GET /api/ledger/events
func (h *LedgerHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Events(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	views := make([]eventView, 0, len(entries))
	for _, e := range entries {
		views = append(views, eventView{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    json.RawMessage(e.Detail),
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": views, "count": len(views)})
}
