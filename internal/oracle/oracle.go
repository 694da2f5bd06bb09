// Package oracle decides whether an insured position has been liquidated.
//
// A PriceOracle reads the current mark price from a PriceFeed and reports a
// position as liquidated once the price is at or below the policy's
// liquidation price. Feeds are the only part that talks to the outside
// world; callers bound every check with a context deadline.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/liqguard/insurance-engine/internal/amount"
	"github.com/liqguard/insurance-engine/internal/identity"
	"github.com/liqguard/insurance-engine/internal/model"
)

var (
	// ErrNoPrice is returned when a feed has no price to report.
	ErrNoPrice = errors.New("oracle: no price available")

	// ErrBadResponse is returned for malformed feed payloads.
	ErrBadResponse = errors.New("oracle: bad feed response")
)

// Result is the outcome of one position check.
type Result struct {
	Liquidated   bool   `json:"liquidated"`
	CurrentPrice uint64 `json:"current_price"` // diagnostic, smallest units
}

// PriceFeed returns the current mark price for an insured position, in the
// same smallest-unit scale as the policy's liquidation price.
type PriceFeed interface {
	Price(ctx context.Context, owner identity.Address, p model.Policy) (uint64, error)
}

// PriceOracle checks positions against a price feed.
type PriceOracle struct {
	feed PriceFeed
}

// New creates a PriceOracle.
func New(feed PriceFeed) *PriceOracle {
	return &PriceOracle{feed: feed}
}

// Check reports whether the position backing p is liquidated.
func (o *PriceOracle) Check(ctx context.Context, owner identity.Address, p model.Policy) (Result, error) {
	price, err := o.feed.Price(ctx, owner, p)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Liquidated:   price <= p.LiquidationPrice,
		CurrentPrice: price,
	}, nil
}

// StaticFeed serves a settable price, optionally overridden per owner.
// Used for development and tests.
type StaticFeed struct {
	mu       sync.RWMutex
	price    uint64
	set      bool
	perOwner map[identity.Address]uint64
}

// NewStaticFeed creates a feed quoting price for everyone.
func NewStaticFeed(price uint64) *StaticFeed {
	return &StaticFeed{price: price, set: true, perOwner: make(map[identity.Address]uint64)}
}

// NewUnpricedFeed creates a feed that reports ErrNoPrice until Set or
// SetFor gives it a price.
func NewUnpricedFeed() *StaticFeed {
	return &StaticFeed{perOwner: make(map[identity.Address]uint64)}
}

// Set changes the global price.
func (f *StaticFeed) Set(price uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price, f.set = price, true
}

// SetFor overrides the price for one owner's positions.
func (f *StaticFeed) SetFor(owner identity.Address, price uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perOwner[owner] = price
}

func (f *StaticFeed) Price(ctx context.Context, owner identity.Address, _ model.Policy) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if p, ok := f.perOwner[owner]; ok {
		return p, nil
	}
	if !f.set {
		return 0, ErrNoPrice
	}
	return f.price, nil
}

// HTTPFeed polls a JSON price endpoint once per check:
//
//	GET {url}?owner=0x..&policy_index=N  ->  {"price": "64123.50"}
//
// The decimal price is scaled to smallest units with Decimals.
type HTTPFeed struct {
	URL      string
	Decimals int32
	Client   *http.Client
}

// NewHTTPFeed creates an HTTP feed with a bounded client.
func NewHTTPFeed(endpoint string, decimals int32, timeout time.Duration) *HTTPFeed {
	return &HTTPFeed{
		URL:      endpoint,
		Decimals: decimals,
		Client:   &http.Client{Timeout: timeout},
	}
}

type priceResponse struct {
	Price decimal.Decimal `json:"price"`
}

func (f *HTTPFeed) Price(ctx context.Context, owner identity.Address, p model.Policy) (uint64, error) {
	u, err := url.Parse(f.URL)
	if err != nil {
		return 0, fmt.Errorf("oracle: feed url: %w", err)
	}
	q := u.Query()
	q.Set("owner", owner.String())
	q.Set("policy_index", strconv.FormatUint(p.Index, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("oracle: fetch price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, ErrNoPrice
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}

	var body priceResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if !body.Price.IsPositive() {
		return 0, fmt.Errorf("%w: non-positive price %s", ErrBadResponse, body.Price)
	}
	units, err := amount.FromDecimal(body.Price, f.Decimals)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return units, nil
}
