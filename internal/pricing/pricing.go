// Package pricing implements the premium schedule for liquidation cover.
//
// The premium rate is linear in leverage and volatility:
//
//	rateBps = Base + LeverageFactor*leverage + VolatilityFactor*volatility
//	premium = positionSize * rateBps / 10000
//
// Integer results are authoritative: they are what the pool charges and
// records. Estimate is a decimal convenience quote for display and is never
// used to charge a buyer.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/liqguard/insurance-engine/internal/amount"
)

// BpsDenominator is the basis-point scale: 10000 bps = 100%.
const BpsDenominator = 10_000

var (
	// ErrInvalidParams is returned when a schedule has no base rate and no
	// factors, which would quote every position at zero.
	ErrInvalidParams = errors.New("pricing: schedule must have a non-zero component")

	// DefaultParams is the calibrated production schedule.
	DefaultParams = Params{Base: 50, LeverageFactor: 10, VolatilityFactor: 5}
)

// Params is a premium schedule. Fixed per deployment.
type Params struct {
	Base             uint64 `json:"base_bps" mapstructure:"base_bps"`
	LeverageFactor   uint64 `json:"leverage_factor_bps" mapstructure:"leverage_factor_bps"`
	VolatilityFactor uint64 `json:"volatility_factor_bps" mapstructure:"volatility_factor_bps"`
}

// Schedule computes premiums for one parameter set. It is stateless and
// safe for concurrent use.
type Schedule struct {
	p Params
}

// NewSchedule creates a schedule from params.
func NewSchedule(p Params) (*Schedule, error) {
	if p.Base == 0 && p.LeverageFactor == 0 && p.VolatilityFactor == 0 {
		return nil, ErrInvalidParams
	}
	return &Schedule{p: p}, nil
}

// Default returns the schedule for DefaultParams.
func Default() *Schedule {
	return &Schedule{p: DefaultParams}
}

// Params returns the schedule's parameters.
func (s *Schedule) Params() Params {
	return s.p
}

// RateBps returns the premium rate in basis points.
func (s *Schedule) RateBps(leverage, volatility uint64) (uint64, error) {
	lev, err := amount.Mul(s.p.LeverageFactor, leverage)
	if err != nil {
		return 0, err
	}
	vol, err := amount.Mul(s.p.VolatilityFactor, volatility)
	if err != nil {
		return 0, err
	}
	rate, err := amount.Add(s.p.Base, lev)
	if err != nil {
		return 0, err
	}
	return amount.Add(rate, vol)
}

// Premium returns the required premium for a position, truncated toward
// zero. A zero position size yields zero; zero leverage yields the
// base-and-volatility rate. Neither is an error.
func (s *Schedule) Premium(positionSize, leverage, volatility uint64) (uint64, error) {
	rate, err := s.RateBps(leverage, volatility)
	if err != nil {
		return 0, err
	}
	return amount.MulDiv(positionSize, rate, BpsDenominator)
}

// Quote is an advisory premium estimate in whole units.
type Quote struct {
	RateBps       uint64          `json:"rate_bps"`
	RatePercent   decimal.Decimal `json:"rate_percent"`
	PositionSize  decimal.Decimal `json:"position_size"`
	Estimate      decimal.Decimal `json:"estimate"`
	RequiredUnits uint64          `json:"required_units"` // authoritative, smallest unit
}

// Estimate returns a display quote for a position expressed in whole units
// (e.g. 100.25 USDC). The RequiredUnits field carries the integer premium
// the pool will actually charge for the same position.
func (s *Schedule) Estimate(positionSize decimal.Decimal, leverage, volatility uint64, decimals int32) (Quote, error) {
	rate, err := s.RateBps(leverage, volatility)
	if err != nil {
		return Quote{}, err
	}
	sizeUnits, err := amount.FromDecimal(positionSize, decimals)
	if err != nil {
		return Quote{}, err
	}
	required, err := s.Premium(sizeUnits, leverage, volatility)
	if err != nil {
		return Quote{}, err
	}

	rateDec := decimal.NewFromUint64(rate)
	bps := decimal.NewFromInt(BpsDenominator)
	return Quote{
		RateBps:       rate,
		RatePercent:   rateDec.Div(decimal.NewFromInt(100)),
		PositionSize:  positionSize,
		Estimate:      positionSize.Mul(rateDec).Div(bps).Round(decimals),
		RequiredUnits: required,
	}, nil
}
