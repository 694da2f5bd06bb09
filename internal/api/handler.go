// Package api exposes the insurance pool over HTTP.
//
// Amounts in requests and responses are integers in the settlement asset's
// smallest unit; the *_display fields and the quote endpoint carry decimal
// renderings for people. The acting identity is taken from the X-Caller
// header. Authentication is out of scope for this service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/liqguard/insurance-engine/internal/amount"
	"github.com/liqguard/insurance-engine/internal/claims"
	"github.com/liqguard/insurance-engine/internal/identity"
	"github.com/liqguard/insurance-engine/internal/model"
	"github.com/liqguard/insurance-engine/internal/monitor"
	"github.com/liqguard/insurance-engine/internal/policy"
	"github.com/liqguard/insurance-engine/internal/pool"
	"github.com/liqguard/insurance-engine/internal/store"
)

// CallerHeader carries the acting identity.
const CallerHeader = "X-Caller"

// Handler serves the pool API.
type Handler struct {
	engine    *pool.Engine
	store     store.Store
	monitor   *monitor.Monitor // optional
	submitter claims.Submitter // optional
	decimals  int32
	log       *zap.Logger
}

// NewHandler creates the API handler. mon and sub may be nil when the
// liquidation monitor is disabled.
func NewHandler(engine *pool.Engine, st store.Store, mon *monitor.Monitor, sub claims.Submitter, decimals int32, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		engine:    engine,
		store:     st,
		monitor:   mon,
		submitter: sub,
		decimals:  decimals,
		log:       log.Named("api"),
	}
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/pool", h.GetPool)
	r.Get("/pool/accounting", h.GetAccounting)

	r.Post("/lp/deposit", h.Deposit)
	r.Post("/lp/withdraw", h.Withdraw)
	r.Get("/lp/{provider}", h.GetLPPosition)

	r.Get("/quote", h.GetQuote)
	r.Post("/policies", h.BuyPolicy)
	r.Get("/policies/{owner}", h.ListPolicies)
	r.Get("/policies/{owner}/{index}", h.GetPolicy)

	r.Post("/claims", h.SubmitClaim)
	r.Get("/claims", h.ListClaims)
	r.Get("/claims/{claimID}", h.GetClaim)
	r.Get("/ledger/events", h.ListLedgerEvents)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/pause", h.Pause)
		r.Post("/unpause", h.Unpause)
		r.Post("/emergency-withdraw", h.EmergencyWithdraw)
		r.Post("/admin", h.ChangeAdmin)
		r.Post("/settler", h.SetSettler)
		r.Post("/volatility", h.SetVolatility)
	})

	r.Post("/monitor/run", h.RunMonitor)
	r.Get("/monitor/report", h.GetMonitorReport)
	r.Get("/monitor/submitter", h.GetSubmitterStatus)
}

// --- Request/Response types ---

// AmountRequest is the body of deposit and emergency-withdraw calls.
type AmountRequest struct {
	Amount uint64 `json:"amount"`
}

// SharesRequest is the body of an LP withdrawal.
type SharesRequest struct {
	Shares uint64 `json:"shares"`
}

// BuyPolicyRequest is the body of POST /policies. The caller is the owner.
type BuyPolicyRequest struct {
	PositionSize     uint64 `json:"position_size"`
	Leverage         uint64 `json:"leverage"`
	LiquidationPrice uint64 `json:"liquidation_price"`
	Premium          uint64 `json:"premium"`
}

// ClaimRequest is the body of POST /claims. The caller must be the
// settlement authority.
type ClaimRequest struct {
	Owner       string `json:"owner"`
	PolicyIndex uint64 `json:"policy_index"`
	LossAmount  uint64 `json:"loss_amount"`
}

// AddressRequest carries a new admin or settlement authority.
type AddressRequest struct {
	Address string `json:"address"`
}

// VolatilityRequest carries the new volatility input.
type VolatilityRequest struct {
	Volatility uint64 `json:"volatility"`
}

// PoolResponse is the pool status with display renderings.
type PoolResponse struct {
	model.PoolStatus
	BalanceDisplay      string           `json:"balance_display"`
	Volatility          uint64           `json:"volatility"`
	Admin               identity.Address `json:"admin"`
	SettlementAuthority identity.Address `json:"settlement_authority"`
}

// QuoteResponse pairs the authoritative integer premium with the advisory
// decimal estimate.
type QuoteResponse struct {
	Premium    uint64          `json:"premium"`
	Volatility uint64          `json:"volatility"`
	RateBps    uint64          `json:"rate_bps"`
	Estimate   decimal.Decimal `json:"estimate"`
}

// --- Pool and LP ---

// GetPool handles GET /pool
func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	st := h.engine.Status()
	writeJSON(w, http.StatusOK, PoolResponse{
		PoolStatus:          st,
		BalanceDisplay:      amount.Format(st.Balance, h.decimals),
		Volatility:          h.engine.Volatility(),
		Admin:               h.engine.Admin(),
		SettlementAuthority: h.engine.SettlementAuthority(),
	})
}

// GetAccounting handles GET /pool/accounting
func (h *Handler) GetAccounting(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Accounting())
}

// Deposit handles POST /lp/deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	shares, err := h.engine.Deposit(r.Context(), caller, req.Amount)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"shares": shares})
}

// Withdraw handles POST /lp/withdraw
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req SharesRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.engine.Withdraw(r.Context(), caller, req.Shares)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetLPPosition handles GET /lp/{provider}
func (h *Handler) GetLPPosition(w http.ResponseWriter, r *http.Request) {
	provider, err := identity.Parse(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	pos, err := h.engine.LPPosition(provider)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// --- Policies and claims ---

// GetQuote handles GET /quote?position_size=100.5&leverage=10
// position_size is in whole units of the settlement asset.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	size, err := decimal.NewFromString(r.URL.Query().Get("position_size"))
	if err != nil || !size.IsPositive() {
		writeError(w, "position_size must be a positive decimal", http.StatusBadRequest)
		return
	}
	lev, err := strconv.ParseUint(r.URL.Query().Get("leverage"), 10, 64)
	if err != nil {
		writeError(w, "leverage must be an integer", http.StatusBadRequest)
		return
	}
	units, err := amount.FromDecimal(size, h.decimals)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	premium, vol, err := h.engine.Quote(units, lev)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	q, err := h.engine.Schedule().Estimate(size, lev, vol, h.decimals)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QuoteResponse{
		Premium:    premium,
		Volatility: vol,
		RateBps:    q.RateBps,
		Estimate:   q.Estimate,
	})
}

// BuyPolicy handles POST /policies
func (h *Handler) BuyPolicy(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req BuyPolicyRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.engine.BuyInsurance(r.Context(), caller, req.PositionSize, req.Leverage, req.LiquidationPrice, req.Premium)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListPolicies handles GET /policies/{owner}
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	owner, err := identity.Parse(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	policies := h.engine.Policies(owner)
	if policies == nil {
		policies = []model.Policy{}
	}
	writeJSON(w, http.StatusOK, policies)
}

// GetPolicy handles GET /policies/{owner}/{index}
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	owner, err := identity.Parse(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	idx, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		writeError(w, "index must be an integer", http.StatusBadRequest)
		return
	}
	p, ok := h.engine.Policy(owner, idx)
	if !ok {
		writeError(w, "policy not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SubmitClaim handles POST /claims
func (h *Handler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req ClaimRequest
	if !decode(w, r, &req) {
		return
	}
	owner, err := identity.Parse(req.Owner)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s, err := h.engine.SubmitClaim(r.Context(), caller, owner, req.PolicyIndex, req.LossAmount)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ListClaims handles GET /claims?owner=&status=&limit=
func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.ClaimFilter
	if o := q.Get("owner"); o != "" {
		owner, err := identity.Parse(o)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.Owner = owner
	}
	f.Status = model.ClaimStatus(q.Get("status"))
	f.Limit = limitParam(q.Get("limit"))

	out, err := h.store.ListClaims(r.Context(), f)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	if out == nil {
		out = []model.ClaimRecord{}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetClaim handles GET /claims/{claimID}
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetClaim(r.Context(), chi.URLParam(r, "claimID"))
	if err != nil {
		h.respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListLedgerEvents handles GET /ledger/events?actor=&type=&limit=
func (h *Handler) ListLedgerEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.EventFilter
	if a := q.Get("actor"); a != "" {
		actor, err := identity.Parse(a)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.Actor = actor
	}
	f.Type = model.LedgerEventType(q.Get("type"))
	f.Limit = limitParam(q.Get("limit"))

	out, err := h.store.ListLedgerEvents(r.Context(), f)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	if out == nil {
		out = []model.LedgerEvent{}
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Admin ---

// Pause handles POST /admin/pause
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.adminCall(w, r, func(caller identity.Address) error {
		return h.engine.Pause(r.Context(), caller)
	})
}

// Unpause handles POST /admin/unpause
func (h *Handler) Unpause(w http.ResponseWriter, r *http.Request) {
	h.adminCall(w, r, func(caller identity.Address) error {
		return h.engine.Unpause(r.Context(), caller)
	})
}

// EmergencyWithdraw handles POST /admin/emergency-withdraw
func (h *Handler) EmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	h.adminCall(w, r, func(caller identity.Address) error {
		if !decode(w, r, &req) {
			return errResponded
		}
		return h.engine.EmergencyWithdraw(r.Context(), caller, req.Amount)
	})
}

// ChangeAdmin handles POST /admin/admin
func (h *Handler) ChangeAdmin(w http.ResponseWriter, r *http.Request) {
	h.addressCall(w, r, h.engine.ChangeAdmin)
}

// SetSettler handles POST /admin/settler
func (h *Handler) SetSettler(w http.ResponseWriter, r *http.Request) {
	h.addressCall(w, r, h.engine.SetSettlementAuthority)
}

// SetVolatility handles POST /admin/volatility
func (h *Handler) SetVolatility(w http.ResponseWriter, r *http.Request) {
	var req VolatilityRequest
	h.adminCall(w, r, func(caller identity.Address) error {
		if !decode(w, r, &req) {
			return errResponded
		}
		return h.engine.SetVolatility(r.Context(), caller, req.Volatility)
	})
}

// errResponded signals that a helper already wrote the response.
var errResponded = errors.New("api: response written")

func (h *Handler) adminCall(w http.ResponseWriter, r *http.Request, fn func(identity.Address) error) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	if err := fn(caller); err != nil {
		if !errors.Is(err, errResponded) {
			h.respondErr(w, err)
		}
		return
	}
	h.GetPool(w, r)
}

func (h *Handler) addressCall(w http.ResponseWriter, r *http.Request, set func(context.Context, identity.Address, identity.Address) error) {
	var req AddressRequest
	h.adminCall(w, r, func(caller identity.Address) error {
		if !decode(w, r, &req) {
			return errResponded
		}
		target, err := identity.Parse(req.Address)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return errResponded
		}
		return set(r.Context(), caller, target)
	})
}

// --- Monitor ---

// RunMonitor handles POST /monitor/run
// Runs one liquidation cycle synchronously and returns its report.
func (h *Handler) RunMonitor(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		writeError(w, "liquidation monitor disabled", http.StatusServiceUnavailable)
		return
	}
	report, err := h.monitor.RunOnce(r.Context())
	if err != nil {
		h.respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetMonitorReport handles GET /monitor/report
func (h *Handler) GetMonitorReport(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		writeError(w, "liquidation monitor disabled", http.StatusServiceUnavailable)
		return
	}
	report, ok := h.monitor.LastReport()
	if !ok {
		writeError(w, "no cycle has completed yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetSubmitterStatus handles GET /monitor/submitter
func (h *Handler) GetSubmitterStatus(w http.ResponseWriter, r *http.Request) {
	if h.submitter == nil {
		writeError(w, "claim submitter disabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.submitter.Status())
}

// --- helpers ---

// callerFrom resolves the acting identity or writes a 401.
func callerFrom(w http.ResponseWriter, r *http.Request) (identity.Address, bool) {
	raw := r.Header.Get(CallerHeader)
	if raw == "" {
		writeError(w, CallerHeader+" header is required", http.StatusUnauthorized)
		return "", false
	}
	caller, err := identity.Parse(raw)
	if err != nil {
		writeError(w, err.Error(), http.StatusUnauthorized)
		return "", false
	}
	return caller, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func limitParam(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// statusFor maps ledger and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pool.ErrInvalidInput), errors.Is(err, policy.ErrInvalidPolicy),
		errors.Is(err, identity.ErrInvalidAddress), errors.Is(err, identity.ErrNullAddress):
		return http.StatusBadRequest
	case errors.Is(err, pool.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, pool.ErrNoActivePolicy), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pool.ErrPaused), errors.Is(err, pool.ErrAlreadyInState),
		errors.Is(err, monitor.ErrCycleInProgress):
		return http.StatusConflict
	case errors.Is(err, pool.ErrInsufficientFunds), errors.Is(err, pool.ErrArithmeticOverflow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
