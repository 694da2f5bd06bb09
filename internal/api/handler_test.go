package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/liqguard/insurance-engine/internal/api"
	"github.com/liqguard/insurance-engine/internal/claims"
	"github.com/liqguard/insurance-engine/internal/identity"
	"github.com/liqguard/insurance-engine/internal/model"
	"github.com/liqguard/insurance-engine/internal/monitor"
	"github.com/liqguard/insurance-engine/internal/oracle"
	"github.com/liqguard/insurance-engine/internal/pool"
	"github.com/liqguard/insurance-engine/internal/store"
)

const unit = 1_000_000

var (
	admin  = identity.MustParse("0x000000000000000000000000000000000000ad01")
	trader = identity.MustParse("0x00000000000000000000000000000000000000a1")
	lp     = identity.MustParse("0x00000000000000000000000000000000000000b1")
)

type testEnv struct {
	engine *pool.Engine
	store  *store.MemoryStore
	feed   *oracle.StaticFeed
	router chi.Router
}

// newTestEnv wires the engine, an in-memory store, and the monitor behind a
// chi router.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	engine, err := pool.New(admin, pool.WithEventSink(store.NewMirror(ms, nil)))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	feed := oracle.NewStaticFeed(100 * unit)
	sub := claims.NewEngineSubmitter(engine, admin, nil)
	mon := monitor.New(engine, oracle.New(feed), sub, ms, nil, monitor.DefaultConfig(), nil)

	r := chi.NewRouter()
	api.NewHandler(engine, ms, mon, sub, 6, nil).Routes(r)
	return &testEnv{engine: engine, store: ms, feed: feed, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, caller identity.Address, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(api.CallerHeader, caller.String())
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	w := e.do(t, "POST", "/lp/deposit", lp, api.AmountRequest{Amount: 1000 * unit})
	expectStatus(t, w, http.StatusOK)
}

// --- tests ---

func TestPolicyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	w := env.do(t, "POST", "/policies", trader, api.BuyPolicyRequest{
		PositionSize: 100 * unit, Leverage: 10, LiquidationPrice: 90 * unit, Premium: 1_500_000,
	})
	expectStatus(t, w, http.StatusCreated)
	p := decodeBody[model.Policy](t, w)
	if p.Owner != trader || p.Index != 0 || p.PremiumPaid != 1_500_000 {
		t.Fatalf("unexpected policy %+v", p)
	}

	w = env.do(t, "GET", "/policies/"+trader.String(), "", nil)
	expectStatus(t, w, http.StatusOK)
	if list := decodeBody[[]model.Policy](t, w); len(list) != 1 {
		t.Errorf("expected 1 policy, got %d", len(list))
	}

	claim := api.ClaimRequest{Owner: trader.String(), PolicyIndex: 0, LossAmount: 100 * unit}
	w = env.do(t, "POST", "/claims", trader, claim)
	expectStatus(t, w, http.StatusForbidden)

	w = env.do(t, "POST", "/claims", admin, claim)
	expectStatus(t, w, http.StatusOK)
	s := decodeBody[model.Settlement](t, w)
	if s.Payout != 50*unit || s.ID == "" {
		t.Errorf("unexpected settlement %+v", s)
	}

	w = env.do(t, "POST", "/claims", admin, claim)
	expectStatus(t, w, http.StatusNotFound)

	w = env.do(t, "GET", "/policies/"+trader.String()+"/0", "", nil)
	expectStatus(t, w, http.StatusOK)
	if got := decodeBody[model.Policy](t, w); !got.Claimed {
		t.Error("policy should be claimed")
	}

	w = env.do(t, "GET", "/pool", "", nil)
	expectStatus(t, w, http.StatusOK)
	st := decodeBody[api.PoolResponse](t, w)
	if st.Balance != 1000*unit+1_500_000-50*unit || st.ActivePolicyCount != 0 {
		t.Errorf("unexpected pool status %+v", st)
	}
	if st.BalanceDisplay != "951.5" {
		t.Errorf("balance_display = %q", st.BalanceDisplay)
	}
}

func TestBuyPolicy_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	tests := []struct {
		name string
		req  api.BuyPolicyRequest
		want int
	}{
		{"underpaid", api.BuyPolicyRequest{PositionSize: 100 * unit, Leverage: 10, LiquidationPrice: 1, Premium: 1}, http.StatusUnprocessableEntity},
		{"zero size", api.BuyPolicyRequest{PositionSize: 0, Leverage: 10, LiquidationPrice: 1, Premium: unit}, http.StatusBadRequest},
		{"zero leverage", api.BuyPolicyRequest{PositionSize: unit, Leverage: 0, LiquidationPrice: 1, Premium: unit}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/policies", trader, tt.req)
			expectStatus(t, w, tt.want)
		})
	}
}

func TestCallerRequired(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "POST", "/lp/deposit", "", api.AmountRequest{Amount: unit})
	expectStatus(t, w, http.StatusUnauthorized)

	req := httptest.NewRequest("POST", "/lp/deposit", bytes.NewBufferString(`{"amount":1}`))
	req.Header.Set(api.CallerHeader, "not-an-address")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestInvalidBody(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest("POST", "/lp/deposit", bytes.NewBufferString(`{"amount":`))
	req.Header.Set(api.CallerHeader, lp.String())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestQuote(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/quote?position_size=100&leverage=10", "", nil)
	expectStatus(t, w, http.StatusOK)
	q := decodeBody[api.QuoteResponse](t, w)
	if q.Premium != 1_500_000 || q.RateBps != 150 {
		t.Errorf("unexpected quote %+v", q)
	}
	if !q.Estimate.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("estimate = %s", q.Estimate)
	}

	w = env.do(t, "POST", "/admin/volatility", admin, api.VolatilityRequest{Volatility: 20})
	expectStatus(t, w, http.StatusOK)
	w = env.do(t, "GET", "/quote?position_size=100&leverage=10", "", nil)
	q = decodeBody[api.QuoteResponse](t, w)
	if q.Volatility != 20 || q.RateBps != 250 || q.Premium != 2_500_000 {
		t.Errorf("quote must follow volatility, got %+v", q)
	}

	w = env.do(t, "GET", "/quote?position_size=-1&leverage=10", "", nil)
	expectStatus(t, w, http.StatusBadRequest)
	w = env.do(t, "GET", "/quote?position_size=1&leverage=x", "", nil)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestLPDepositWithdraw(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	w := env.do(t, "GET", "/lp/"+lp.String(), "", nil)
	expectStatus(t, w, http.StatusOK)
	pos := decodeBody[model.LPPosition](t, w)
	if pos.Shares != 1000*unit || pos.UnderlyingValue != 1000*unit {
		t.Errorf("unexpected position %+v", pos)
	}

	w = env.do(t, "POST", "/lp/withdraw", lp, api.SharesRequest{Shares: 2000 * unit})
	expectStatus(t, w, http.StatusUnprocessableEntity)

	w = env.do(t, "POST", "/lp/withdraw", lp, api.SharesRequest{Shares: 400 * unit})
	expectStatus(t, w, http.StatusOK)
	out := decodeBody[pool.Withdrawal](t, w)
	if out.Shares != 400*unit || out.Principal != 400*unit {
		t.Errorf("unexpected withdrawal %+v", out)
	}
}

func TestAdminEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	w := env.do(t, "POST", "/admin/pause", trader, nil)
	expectStatus(t, w, http.StatusForbidden)

	w = env.do(t, "POST", "/admin/pause", admin, nil)
	expectStatus(t, w, http.StatusOK)
	if st := decodeBody[api.PoolResponse](t, w); !st.Paused {
		t.Error("pool should be paused")
	}
	w = env.do(t, "POST", "/admin/pause", admin, nil)
	expectStatus(t, w, http.StatusConflict)

	w = env.do(t, "POST", "/lp/deposit", lp, api.AmountRequest{Amount: unit})
	expectStatus(t, w, http.StatusConflict)
	w = env.do(t, "POST", "/lp/withdraw", lp, api.SharesRequest{Shares: unit})
	expectStatus(t, w, http.StatusOK)

	w = env.do(t, "POST", "/admin/unpause", admin, nil)
	expectStatus(t, w, http.StatusOK)

	w = env.do(t, "POST", "/admin/emergency-withdraw", admin, api.AmountRequest{Amount: 10_000 * unit})
	expectStatus(t, w, http.StatusUnprocessableEntity)
	w = env.do(t, "POST", "/admin/emergency-withdraw", admin, api.AmountRequest{Amount: 9 * unit})
	expectStatus(t, w, http.StatusOK)
	if st := decodeBody[api.PoolResponse](t, w); st.Balance != 990*unit {
		t.Errorf("balance = %d", st.Balance)
	}

	w = env.do(t, "POST", "/admin/settler", admin, api.AddressRequest{Address: "bogus"})
	expectStatus(t, w, http.StatusBadRequest)
	w = env.do(t, "POST", "/admin/settler", admin, api.AddressRequest{Address: trader.String()})
	expectStatus(t, w, http.StatusOK)
	if st := decodeBody[api.PoolResponse](t, w); st.SettlementAuthority != trader {
		t.Errorf("settler = %s", st.SettlementAuthority)
	}

	w = env.do(t, "POST", "/admin/admin", admin, api.AddressRequest{Address: lp.String()})
	expectStatus(t, w, http.StatusOK)
	w = env.do(t, "POST", "/admin/pause", admin, nil)
	expectStatus(t, w, http.StatusForbidden)
}

func TestMonitorEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	w := env.do(t, "GET", "/monitor/report", "", nil)
	expectStatus(t, w, http.StatusNotFound)

	w = env.do(t, "POST", "/policies", trader, api.BuyPolicyRequest{
		PositionSize: 100 * unit, Leverage: 10, LiquidationPrice: 95 * unit, Premium: 2 * unit,
	})
	expectStatus(t, w, http.StatusCreated)

	env.feed.Set(90 * unit)
	w = env.do(t, "POST", "/monitor/run", "", nil)
	expectStatus(t, w, http.StatusOK)
	if r := decodeBody[monitor.CycleReport](t, w); r.Paid != 1 {
		t.Errorf("unexpected report %+v", r)
	}

	w = env.do(t, "GET", "/claims?owner="+trader.String()+"&status=paid", "", nil)
	expectStatus(t, w, http.StatusOK)
	recs := decodeBody[[]model.ClaimRecord](t, w)
	if len(recs) != 1 || recs[0].PayoutAmount != 50*unit {
		t.Fatalf("unexpected claims %+v", recs)
	}

	w = env.do(t, "GET", "/claims/"+recs[0].ID, "", nil)
	expectStatus(t, w, http.StatusOK)
	w = env.do(t, "GET", "/claims/missing", "", nil)
	expectStatus(t, w, http.StatusNotFound)

	w = env.do(t, "GET", "/monitor/report", "", nil)
	expectStatus(t, w, http.StatusOK)
	w = env.do(t, "GET", "/monitor/submitter", "", nil)
	expectStatus(t, w, http.StatusOK)
	if st := decodeBody[claims.Status](t, w); st.TotalSubmissions != 1 || st.Mode != claims.ModeLive {
		t.Errorf("unexpected submitter status %+v", st)
	}
}

func TestLedgerEvents(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.do(t, "POST", "/admin/pause", admin, nil)

	w := env.do(t, "GET", "/ledger/events", "", nil)
	expectStatus(t, w, http.StatusOK)
	all := decodeBody[[]model.LedgerEvent](t, w)
	if len(all) != 2 || all[0].Type != model.EventPaused {
		t.Fatalf("expected paused then deposit, got %+v", all)
	}

	w = env.do(t, "GET", "/ledger/events?type=lp_deposit&actor="+lp.String(), "", nil)
	deposits := decodeBody[[]model.LedgerEvent](t, w)
	if len(deposits) != 1 || deposits[0].Amount != 1000*unit {
		t.Errorf("unexpected deposits %+v", deposits)
	}

	w = env.do(t, "GET", "/ledger/events?actor=nope", "", nil)
	expectStatus(t, w, http.StatusBadRequest)
}

// brokenStore fails every listing, as a store with a dead connection does.
type brokenStore struct{ *store.MemoryStore }

func (brokenStore) ListClaims(context.Context, store.ClaimFilter) ([]model.ClaimRecord, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) ListLedgerEvents(context.Context, store.EventFilter) ([]model.LedgerEvent, error) {
	return nil, errors.New("connection refused")
}

func TestListings_StoreFailureIsLogged(t *testing.T) {
	engine, err := pool.New(admin)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	st := brokenStore{store.NewMemoryStore()}
	sub := claims.NewEngineSubmitter(engine, admin, nil)
	mon := monitor.New(engine, oracle.New(oracle.NewStaticFeed(unit)), sub, st, nil, monitor.DefaultConfig(), nil)

	core, logs := observer.New(zap.ErrorLevel)
	r := chi.NewRouter()
	api.NewHandler(engine, st, mon, sub, 6, zap.New(core)).Routes(r)
	env := &testEnv{engine: engine, router: r}

	for _, path := range []string{"/claims", "/ledger/events"} {
		w := env.do(t, "GET", path, "", nil)
		expectStatus(t, w, http.StatusInternalServerError)
		if body := decodeBody[map[string]string](t, w); body["error"] != "internal error" {
			t.Errorf("%s: store details must not leak, got %v", path, body)
		}
	}

	entries := logs.FilterMessage("request failed").All()
	if len(entries) != 2 {
		t.Fatalf("expected both failures logged, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["error"]; got != "connection refused" {
		t.Errorf("expected the store error in the log, got %v", got)
	}
}
