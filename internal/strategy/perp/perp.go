/*

This file contains the perpetual-future exposure strategy. It maintains one
aggregate position through a perpetual router, keeps part of incoming
capital in yield strategies, and adapts leverage to the funding-rate regime.

*/

package perp

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/metazhar-legion/meta-index-sub006/internal/logger"
	"github.com/metazhar-legion/meta-index-sub006/internal/strategy"
	"github.com/metazhar-legion/meta-index-sub006/internal/types"
	"github.com/metazhar-legion/meta-index-sub006/internal/utils"
	"github.com/metazhar-legion/meta-index-sub006/internal/venue"
)

// minLeverageChange is the smallest leverage delta (centi-x) worth acting
// on. Smaller deltas are ignored to avoid churning the position.
const minLeverageChange int64 = 25

var _ strategy.ExposureStrategy = (*Strategy)(nil)

// Strategy is the perpetual exposure strategy instance.
type Strategy struct {
	name    string
	admin   string
	market  string
	assetID string

	router venue.PerpetualRouter
	oracle venue.PriceOracle

	params types.RiskParameters

	baseLeverage    int64 // Centi-x.
	minLeverage     int64
	currentLeverage int64

	fundingThresholdBps int64 // Trailing-average funding rate that triggers deleveraging.
	adjustmentBps       int64 // Leverage adjustment factor in bps (2000 = 20%).
	fundingWindow       int   // Bounded funding history length.
	fundingHistory      []int64

	managementFeeBps int64

	positionID string
	collateral sdkmath.Int // Collateral posted on the perp position.
	notional   sdkmath.Int // totalExposureAmount.

	yieldRouteBps int64 // Share of incoming capital routed to yield, in bps.
	yields        *strategy.YieldBook

	active bool
	guard  strategy.Guard
	events *strategy.EventTail
	log    zerolog.Logger
}

// Config holds the dependencies and tunables for a perpetual strategy.
type Config struct {
	Name                string
	Admin               string
	Market              string
	AssetID             string
	Router              venue.PerpetualRouter
	Oracle              venue.PriceOracle
	RiskParams          types.RiskParameters
	BaseLeverage        int64 // Centi-x; must be within [MinLeverage, RiskParams.MaxLeverage].
	MinLeverage         int64 // Centi-x; defaults to 100 when zero.
	FundingThresholdBps int64
	AdjustmentBps       int64
	FundingWindow       int
	ManagementFeeBps    int64
	YieldRouteBps       int64
	YieldCapBps         int64
}

// New creates a perpetual strategy instance after validating configuration.
func New(cfg Config) (*Strategy, error) {
	if cfg.Name == "" || cfg.Admin == "" || cfg.Market == "" || cfg.AssetID == "" {
		return nil, strategy.ErrEmptyIdentifier
	}
	if cfg.Router == nil {
		return nil, errors.New("perpetual router cannot be nil")
	}
	if cfg.Oracle == nil {
		return nil, errors.New("price oracle cannot be nil")
	}
	if err := cfg.RiskParams.Validate(); err != nil {
		return nil, fmt.Errorf("risk parameters invalid: %w", err)
	}
	minLev := cfg.MinLeverage
	if minLev == 0 {
		minLev = types.LeverageUnit
	}
	if minLev < types.LeverageUnit {
		return nil, fmt.Errorf("min leverage %d below 1x", minLev)
	}
	if cfg.BaseLeverage < minLev || cfg.BaseLeverage > cfg.RiskParams.MaxLeverage {
		return nil, fmt.Errorf("base leverage %d outside [%d, %d]",
			cfg.BaseLeverage, minLev, cfg.RiskParams.MaxLeverage)
	}
	if cfg.FundingThresholdBps <= 0 {
		return nil, errors.New("funding threshold must be positive")
	}
	if cfg.AdjustmentBps <= 0 || cfg.AdjustmentBps >= types.BpsDenominator {
		return nil, errors.New("adjustment factor must be in (0, 10000) bps")
	}
	if cfg.FundingWindow <= 0 {
		return nil, errors.New("funding window must be positive")
	}
	if cfg.ManagementFeeBps < 0 {
		return nil, errors.New("management fee cannot be negative")
	}
	if cfg.YieldRouteBps < 0 || cfg.YieldRouteBps > types.BpsDenominator {
		return nil, errors.New("yield route share out of range")
	}
	if cfg.YieldCapBps < 0 || cfg.YieldCapBps > types.BpsDenominator {
		return nil, errors.New("yield cap out of range")
	}

	log := logger.GetForComponent("perp_strategy")

	return &Strategy{
		name:                cfg.Name,
		admin:               cfg.Admin,
		market:              cfg.Market,
		assetID:             cfg.AssetID,
		router:              cfg.Router,
		oracle:              cfg.Oracle,
		params:              cfg.RiskParams,
		baseLeverage:        cfg.BaseLeverage,
		minLeverage:         minLev,
		currentLeverage:     cfg.BaseLeverage,
		fundingThresholdBps: cfg.FundingThresholdBps,
		adjustmentBps:       cfg.AdjustmentBps,
		fundingWindow:       cfg.FundingWindow,
		managementFeeBps:    cfg.ManagementFeeBps,
		collateral:          sdkmath.ZeroInt(),
		notional:            sdkmath.ZeroInt(),
		yieldRouteBps:       cfg.YieldRouteBps,
		yields:              strategy.NewYieldBook(cfg.YieldCapBps, log),
		events:              strategy.NewEventTail(0),
		log:                 log,
	}, nil
}

// Name returns the instance name.
func (s *Strategy) Name() string { return s.name }

// Kind returns the strategy variant.
func (s *Strategy) Kind() types.StrategyKind { return types.StrategyPerpetual }

// RiskParameters returns the current parameter set.
func (s *Strategy) RiskParameters() types.RiskParameters { return s.params }

// Events returns the recent audit event tail.
func (s *Strategy) Events() []types.Event { return s.events.Snapshot() }

// UpdateRiskParameters replaces the parameter set. Administrator only.
func (s *Strategy) UpdateRiskParameters(caller string, params types.RiskParameters) error {
	if caller != s.admin {
		return strategy.ErrNotAdmin
	}
	if err := params.Validate(); err != nil {
		return err
	}
	before := fmt.Sprintf("maxLeverage=%d", s.params.MaxLeverage)
	s.params = params
	if s.baseLeverage > params.MaxLeverage {
		s.baseLeverage = params.MaxLeverage
	}
	if s.currentLeverage > params.MaxLeverage {
		s.currentLeverage = params.MaxLeverage
	}
	s.events.Append(types.NewEvent(types.EventRiskParamsUpdated, s.name, before,
		fmt.Sprintf("maxLeverage=%d", params.MaxLeverage), ""))
	return nil
}

// OpenExposure routes a slice of the capital to yield strategies and uses
// the remainder as collateral on the perpetual position.
func (s *Strategy) OpenExposure(amount sdkmath.Int) (strategy.OpenResult, error) {
	if err := s.guard.Enter(); err != nil {
		return strategy.OpenResult{}, err
	}
	defer s.guard.Exit()
	return s.openLocked(amount)
}

func (s *Strategy) openLocked(amount sdkmath.Int) (strategy.OpenResult, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return strategy.OpenResult{}, strategy.ErrZeroAmount
	}

	yieldShare, err := utils.ApplyBps(amount, s.yieldRouteBps)
	if err != nil {
		return strategy.OpenResult{}, err
	}
	positionShare := amount.Sub(yieldShare)
	if positionShare.IsZero() {
		return strategy.OpenResult{}, errors.New("position share after yield routing is zero")
	}

	addedNotional, err := utils.ApplyLeverage(positionShare, s.currentLeverage)
	if err != nil {
		return strategy.OpenResult{}, err
	}
	if s.notional.Add(addedNotional).GT(s.params.MaxPositionSize) {
		return strategy.OpenResult{}, errors.Join(strategy.ErrExceedsMaxPosition,
			fmt.Errorf("notional %s + %s exceeds max %s", s.notional, addedNotional, s.params.MaxPositionSize))
	}

	if s.positionID == "" {
		id, err := s.router.OpenPosition(s.market, addedNotional, s.currentLeverage, positionShare)
		if err != nil {
			return strategy.OpenResult{}, errors.Join(strategy.ErrVenueUnavailable, err)
		}
		s.positionID = id
	} else {
		if err := s.router.AdjustPosition(s.positionID, addedNotional, positionShare, s.currentLeverage); err != nil {
			return strategy.OpenResult{}, errors.Join(strategy.ErrVenueUnavailable, err)
		}
	}

	before := s.notional
	s.collateral = s.collateral.Add(positionShare)
	s.notional = s.notional.Add(addedNotional)
	s.active = true

	// Yield routing happens after the position commit so a yield venue
	// failure cannot leave exposure unopened; failures here are isolated.
	if yieldShare.IsPositive() {
		s.yields.Deposit(yieldShare)
	}

	s.recordFundingRate()

	s.events.Append(types.NewEvent(types.EventExposureOpened, s.name,
		before.String(), s.notional.String(),
		fmt.Sprintf("collateral=%s leverage=%d", positionShare, s.currentLeverage)))
	s.log.Info().
		Str("positionID", s.positionID).
		Str("addedNotional", addedNotional.String()).
		Int64("leverage", s.currentLeverage).
		Msg("Perpetual exposure opened")

	return strategy.OpenResult{ActualExposure: addedNotional}, nil
}

// CloseExposure reduces the position by the requested notional and recovers
// the proportional collateral plus any realized PnL. Yield deposits are
// drawn down proportionally, with per-venue failures isolated.
func (s *Strategy) CloseExposure(amount sdkmath.Int) (strategy.CloseResult, error) {
	if err := s.guard.Enter(); err != nil {
		return strategy.CloseResult{}, err
	}
	defer s.guard.Exit()
	return s.closeLocked(amount)
}

func (s *Strategy) closeLocked(amount sdkmath.Int) (strategy.CloseResult, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return strategy.CloseResult{}, strategy.ErrZeroAmount
	}
	if amount.GT(s.notional) {
		return strategy.CloseResult{}, errors.Join(strategy.ErrInsufficientExposure,
			fmt.Errorf("requested %s, current exposure %s", amount, s.notional))
	}

	closeRatioBps := utils.ConcentrationBps(amount, s.notional)

	recovered := sdkmath.ZeroInt()
	if amount.Equal(s.notional) {
		pnlAndCollateral, err := s.router.ClosePosition(s.positionID)
		if err != nil {
			return strategy.CloseResult{}, errors.Join(strategy.ErrVenueUnavailable, err)
		}
		recovered = recovered.Add(pnlAndCollateral)
		s.positionID = ""
		s.collateral = sdkmath.ZeroInt()
		s.notional = sdkmath.ZeroInt()
		s.active = false
	} else {
		collateralOut, err := utils.ApplyBps(s.collateral, closeRatioBps)
		if err != nil {
			return strategy.CloseResult{}, err
		}
		if err := s.router.AdjustPosition(s.positionID, amount.Neg(), collateralOut.Neg(), s.currentLeverage); err != nil {
			return strategy.CloseResult{}, errors.Join(strategy.ErrVenueUnavailable, err)
		}
		recovered = recovered.Add(collateralOut)
		s.collateral = s.collateral.Sub(collateralOut)
		s.notional = s.notional.Sub(amount)
	}

	// Proportional yield drawdown, isolated per venue.
	recovered = recovered.Add(s.yields.WithdrawRatio(closeRatioBps))

	s.events.Append(types.NewEvent(types.EventExposureClosed, s.name,
		s.notional.Add(amount).String(), s.notional.String(), ""))
	s.log.Info().
		Str("closed", amount.String()).
		Str("recovered", recovered.String()).
		Msg("Perpetual exposure closed")

	return strategy.CloseResult{ClosedExposure: amount, CapitalRecovered: recovered}, nil
}

// AdjustExposure opens on a positive delta and closes |delta| on a negative
// one. A zero delta is a no-op returning the current exposure.
func (s *Strategy) AdjustExposure(delta sdkmath.Int) (sdkmath.Int, error) {
	if delta.IsNil() {
		return sdkmath.ZeroInt(), strategy.ErrZeroAmount
	}
	if delta.IsZero() {
		return s.notional, nil
	}
	if err := s.guard.Enter(); err != nil {
		return sdkmath.ZeroInt(), err
	}
	defer s.guard.Exit()

	if delta.IsPositive() {
		if _, err := s.openLocked(delta); err != nil {
			return sdkmath.ZeroInt(), err
		}
	} else {
		if _, err := s.closeLocked(delta.Neg()); err != nil {
			return sdkmath.ZeroInt(), err
		}
	}
	s.events.Append(types.NewEvent(types.EventExposureAdjusted, s.name,
		"", s.notional.String(), fmt.Sprintf("delta=%s", delta)))
	return s.notional, nil
}

// CanHandleExposure reports whether the amount could currently be opened.
func (s *Strategy) CanHandleExposure(amount sdkmath.Int) bool {
	if amount.IsNil() || !amount.IsPositive() {
		return false
	}
	yieldShare, err := utils.ApplyBps(amount, s.yieldRouteBps)
	if err != nil {
		return false
	}
	addedNotional, err := utils.ApplyLeverage(amount.Sub(yieldShare), s.currentLeverage)
	if err != nil {
		return false
	}
	if s.notional.Add(addedNotional).GT(s.params.MaxPositionSize) {
		return false
	}
	if _, err := s.router.GetFundingRate(s.market); err != nil {
		return false
	}
	return true
}

// EstimateExposureCost annualizes the market funding rate plus fees over the
// horizon. Returns types.CostUnavailable on a venue failure.
func (s *Strategy) EstimateExposureCost(amount sdkmath.Int, horizon time.Duration) (int64, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return types.CostUnavailable, strategy.ErrZeroAmount
	}
	if horizon <= 0 {
		return types.CostUnavailable, errors.New("time horizon must be positive")
	}
	rate, err := s.router.GetFundingRate(s.market)
	if err != nil {
		return types.CostUnavailable, errors.Join(strategy.ErrVenueUnavailable, err)
	}
	// A long position pays positive funding; negative funding is income and
	// reduces the estimate, floored at zero cost.
	cost := rate + s.managementFeeBps
	if cost < 0 {
		cost = 0
	}
	return cost, nil
}

// ExposureInfo recomputes the live exposure snapshot.
func (s *Strategy) ExposureInfo() types.ExposureInfo {
	capacity := s.params.MaxPositionSize.Sub(s.notional)
	if capacity.IsNegative() {
		capacity = sdkmath.ZeroInt()
	}

	cost := s.managementFeeBps
	if avg, ok := s.trailingAverageFunding(); ok && avg > 0 {
		cost += avg
	}

	return types.ExposureInfo{
		Kind:             types.StrategyPerpetual,
		UnderlyingAsset:  s.assetID,
		Leverage:         s.currentLeverage,
		CollateralRatio:  utils.CollateralRatioBps(s.collateral, s.notional),
		CurrentExposure:  s.notional,
		MaxCapacity:      capacity,
		CurrentCostBps:   cost,
		RiskScore:        s.riskScore(),
		IsActive:         s.active,
		LiquidationPrice: s.liquidationPrice(),
	}
}

// CostBreakdown reports the itemized carry cost.
func (s *Strategy) CostBreakdown() (types.CostBreakdown, error) {
	funding := int64(0)
	if avg, ok := s.trailingAverageFunding(); ok && avg > 0 {
		funding = avg
	}
	b := types.CostBreakdown{
		FundingRateBps:   funding,
		ManagementFeeBps: s.managementFeeBps,
		LastUpdated:      time.Now(),
	}
	b.TotalCostBps = b.FundingRateBps + b.BorrowRateBps + b.ManagementFeeBps + b.SlippageCostBps + b.GasCostBps
	if err := b.Validate(); err != nil {
		return types.CostBreakdown{}, err
	}
	return b, nil
}

// TotalExposure returns the current notional.
func (s *Strategy) TotalExposure() sdkmath.Int { return s.notional }

// liquidationPrice estimates the price at which the position would be
// liquidated, given current leverage and the configured buffer.
func (s *Strategy) liquidationPrice() sdkmath.Int {
	if s.positionID == "" || s.currentLeverage <= types.LeverageUnit {
		return sdkmath.ZeroInt()
	}
	price, err := s.oracle.GetPrice(s.assetID)
	if err != nil {
		s.log.Warn().Err(err).Msg("Price unavailable for liquidation estimate")
		return sdkmath.ZeroInt()
	}
	// A long at leverage L is wiped by a 1/L price drop; the buffer brings
	// the effective liquidation level closer.
	dropBps := types.BpsDenominator * types.LeverageUnit / s.currentLeverage
	effective := dropBps - s.params.LiquidationBuffer
	if effective < 0 {
		effective = 0
	}
	return price.Mul(sdkmath.NewInt(types.BpsDenominator - effective)).
		Quo(sdkmath.NewInt(types.BpsDenominator))
}

// riskScore derives a coarse 0-100 risk figure from leverage and funding.
func (s *Strategy) riskScore() int64 {
	score := int64(20)
	score += (s.currentLeverage - types.LeverageUnit) / 15
	if avg, ok := s.trailingAverageFunding(); ok && avg > s.fundingThresholdBps {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}
