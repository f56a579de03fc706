/*

This file contains the direct-token exposure strategy. It buys the asset
token outright on a spot exchange, so exposure is unleveraged and there is
no counterparty carry. Idle capital not swapped into the token is parked in
yield strategies.

*/

package spot

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

var ErrSlippageExceeded = errors.New("quoted slippage exceeds limit")

var _ strategy.ExposureStrategy = (*Strategy)(nil)

// Strategy is the direct-token exposure strategy instance.
type Strategy struct {
	name      string
	admin     string
	baseAsset string
	token     string

	exchange venue.SpotExchange
	oracle   venue.PriceOracle

	params types.RiskParameters

	managementFeeBps int64

	tokenBalance sdkmath.Int // Token units held.
	costBasis    sdkmath.Int // Base-asset units spent acquiring the balance.

	yieldRouteBps int64
	yields        *strategy.YieldBook

	active bool
	guard  strategy.Guard
	events *strategy.EventTail
	log    zerolog.Logger
}

// Config holds the dependencies and tunables for a direct-token strategy.
type Config struct {
	Name             string
	Admin            string
	BaseAsset        string
	Token            string
	Exchange         venue.SpotExchange
	Oracle           venue.PriceOracle
	RiskParams       types.RiskParameters
	ManagementFeeBps int64
	YieldRouteBps    int64
	YieldCapBps      int64
}

// New creates a direct-token strategy instance after validating configuration.
func New(cfg Config) (*Strategy, error) {
	if cfg.Name == "" || cfg.Admin == "" || cfg.BaseAsset == "" || cfg.Token == "" {
		return nil, strategy.ErrEmptyIdentifier
	}
	if cfg.Exchange == nil {
		return nil, errors.New("spot exchange cannot be nil")
	}
	if cfg.Oracle == nil {
		return nil, errors.New("price oracle cannot be nil")
	}
	if err := cfg.RiskParams.Validate(); err != nil {
		return nil, fmt.Errorf("risk parameters invalid: %w", err)
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

	log := logger.GetForComponent("spot_strategy")

	return &Strategy{
		name:             cfg.Name,
		admin:            cfg.Admin,
		baseAsset:        cfg.BaseAsset,
		token:            cfg.Token,
		exchange:         cfg.Exchange,
		oracle:           cfg.Oracle,
		params:           cfg.RiskParams,
		managementFeeBps: cfg.ManagementFeeBps,
		tokenBalance:     sdkmath.ZeroInt(),
		costBasis:        sdkmath.ZeroInt(),
		yieldRouteBps:    cfg.YieldRouteBps,
		yields:           strategy.NewYieldBook(cfg.YieldCapBps, log),
		events:           strategy.NewEventTail(0),
		log:              log,
	}, nil
}

// Name returns the instance name.
func (s *Strategy) Name() string { return s.name }

// Kind returns the strategy variant.
func (s *Strategy) Kind() types.StrategyKind { return types.StrategyDirectToken }

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
	before := fmt.Sprintf("slippageLimit=%d", s.params.SlippageLimit)
	s.params = params
	s.events.Append(types.NewEvent(types.EventRiskParamsUpdated, s.name, before,
		fmt.Sprintf("slippageLimit=%d", params.SlippageLimit), ""))
	return nil
}

// OpenExposure swaps the position share of the capital into the token,
// bounded by the slippage limit, and routes the remainder to yield.
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
	swapIn := amount.Sub(yieldShare)
	if swapIn.IsZero() {
		return strategy.OpenResult{}, errors.New("swap share after yield routing is zero")
	}

	exposure, err := s.currentExposure()
	if err != nil {
		return strategy.OpenResult{}, err
	}
	if exposure.Add(swapIn).GT(s.params.MaxPositionSize) {
		return strategy.OpenResult{}, errors.Join(strategy.ErrExceedsMaxPosition,
			fmt.Errorf("exposure %s + %s exceeds max %s", exposure, swapIn, s.params.MaxPositionSize))
	}

	quoted, err := s.exchange.GetAmountsOut(swapIn, s.baseAsset, s.token)
	if err != nil {
		return strategy.OpenResult{}, errors.Join(strategy.ErrVenueUnavailable, err)
	}
	minOut, err := utils.ApplyBps(quoted, types.BpsDenominator-s.params.SlippageLimit)
	if err != nil {
		return strategy.OpenResult{}, err
	}

	got, err := s.exchange.SwapExactTokensForTokens(swapIn, minOut, s.baseAsset, s.token)
	if err != nil {
		return strategy.OpenResult{}, errors.Join(strategy.ErrVenueUnavailable, err)
	}

	before := s.tokenBalance
	s.tokenBalance = s.tokenBalance.Add(got)
	s.costBasis = s.costBasis.Add(swapIn)
	s.active = true

	if yieldShare.IsPositive() {
		s.yields.Deposit(yieldShare)
	}

	actual, err := s.tokenValue(got)
	if err != nil {
		// Swap landed; fall back to the base-asset amount spent.
		actual = swapIn
	}

	s.events.Append(types.NewEvent(types.EventExposureOpened, s.name,
		before.String(), s.tokenBalance.String(),
		fmt.Sprintf("swapIn=%s tokensOut=%s", swapIn, got)))
	s.log.Info().
		Str("swapIn", swapIn.String()).
		Str("tokensOut", got.String()).
		Msg("Direct token exposure opened")

	return strategy.OpenResult{ActualExposure: actual}, nil
}

// CloseExposure sells tokens worth the requested base-asset amount. The
// proportional share of yield deposits is drawn down as well.
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
	exposure, err := s.currentExposure()
	if err != nil {
		return strategy.CloseResult{}, err
	}
	if amount.GT(exposure) {
		return strategy.CloseResult{}, errors.Join(strategy.ErrInsufficientExposure,
			fmt.Errorf("requested %s, current exposure %s", amount, exposure))
	}

	closeRatioBps := utils.ConcentrationBps(amount, exposure)
	tokensToSell, err := utils.ApplyBps(s.tokenBalance, closeRatioBps)
	if err != nil {
		return strategy.CloseResult{}, err
	}
	if amount.Equal(exposure) {
		tokensToSell = s.tokenBalance
	}
	if !tokensToSell.IsPositive() {
		return strategy.CloseResult{}, errors.Join(strategy.ErrInsufficientExposure,
			errors.New("close amount rounds to zero tokens"))
	}

	quoted, err := s.exchange.GetAmountsOut(tokensToSell, s.token, s.baseAsset)
	if err != nil {
		return strategy.CloseResult{}, errors.Join(strategy.ErrVenueUnavailable, err)
	}
	minOut, err := utils.ApplyBps(quoted, types.BpsDenominator-s.params.SlippageLimit)
	if err != nil {
		return strategy.CloseResult{}, err
	}

	recovered, err := s.exchange.SwapExactTokensForTokens(tokensToSell, minOut, s.token, s.baseAsset)
	if err != nil {
		return strategy.CloseResult{}, errors.Join(strategy.ErrVenueUnavailable, err)
	}

	s.tokenBalance = s.tokenBalance.Sub(tokensToSell)
	basisOut, err := utils.ApplyBps(s.costBasis, closeRatioBps)
	if err == nil {
		s.costBasis = s.costBasis.Sub(basisOut)
		if s.costBasis.IsNegative() {
			s.costBasis = sdkmath.ZeroInt()
		}
	}
	if s.tokenBalance.IsZero() {
		s.active = false
		s.costBasis = sdkmath.ZeroInt()
	}

	recovered = recovered.Add(s.yields.WithdrawRatio(closeRatioBps))

	s.events.Append(types.NewEvent(types.EventExposureClosed, s.name,
		exposure.String(), exposure.Sub(amount).String(),
		fmt.Sprintf("tokensSold=%s", tokensToSell)))
	s.log.Info().
		Str("closed", amount.String()).
		Str("recovered", recovered.String()).
		Msg("Direct token exposure closed")

	return strategy.CloseResult{ClosedExposure: amount, CapitalRecovered: recovered}, nil
}

// AdjustExposure opens on a positive delta and closes |delta| on a negative
// one. A zero delta is a no-op returning the current exposure.
func (s *Strategy) AdjustExposure(delta sdkmath.Int) (sdkmath.Int, error) {
	if delta.IsNil() {
		return sdkmath.ZeroInt(), strategy.ErrZeroAmount
	}
	if delta.IsZero() {
		exposure, err := s.currentExposure()
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		return exposure, nil
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
	exposure, err := s.currentExposure()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	s.events.Append(types.NewEvent(types.EventExposureAdjusted, s.name,
		"", exposure.String(), fmt.Sprintf("delta=%s", delta)))
	return exposure, nil
}

// CanHandleExposure reports whether the amount could currently be opened.
func (s *Strategy) CanHandleExposure(amount sdkmath.Int) bool {
	if amount.IsNil() || !amount.IsPositive() {
		return false
	}
	exposure, err := s.currentExposure()
	if err != nil {
		return false
	}
	yieldShare, err := utils.ApplyBps(amount, s.yieldRouteBps)
	if err != nil {
		return false
	}
	if exposure.Add(amount.Sub(yieldShare)).GT(s.params.MaxPositionSize) {
		return false
	}
	if _, err := s.exchange.GetAmountsOut(amount.Sub(yieldShare), s.baseAsset, s.token); err != nil {
		return false
	}
	return true
}

// EstimateExposureCost returns the management fee plus the round-trip
// slippage the exchange currently quotes for the amount. Returns
// types.CostUnavailable when no usable quote exists, and fails when the
// quoted slippage breaches the configured limit.
func (s *Strategy) EstimateExposureCost(amount sdkmath.Int, horizon time.Duration) (int64, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return types.CostUnavailable, strategy.ErrZeroAmount
	}
	if horizon <= 0 {
		return types.CostUnavailable, errors.New("time horizon must be positive")
	}
	slippage, err := s.quotedSlippageBps(amount)
	if err != nil {
		return types.CostUnavailable, err
	}
	if slippage > s.params.SlippageLimit {
		return types.CostUnavailable, errors.Join(ErrSlippageExceeded,
			fmt.Errorf("quoted %d bps, limit %d bps", slippage, s.params.SlippageLimit))
	}
	return s.managementFeeBps + slippage, nil
}

// quotedSlippageBps measures the loss of a round-trip swap of the amount,
// which captures fees plus price impact on the current book.
func (s *Strategy) quotedSlippageBps(amount sdkmath.Int) (int64, error) {
	tokensOut, err := s.exchange.GetAmountsOut(amount, s.baseAsset, s.token)
	if err != nil {
		return 0, errors.Join(strategy.ErrVenueUnavailable, err)
	}
	if !tokensOut.IsPositive() {
		return 0, errors.Join(strategy.ErrVenueUnavailable, errors.New("zero quote"))
	}
	baseBack, err := s.exchange.GetAmountsOut(tokensOut, s.token, s.baseAsset)
	if err != nil {
		return 0, errors.Join(strategy.ErrVenueUnavailable, err)
	}
	if baseBack.GTE(amount) {
		return 0, nil
	}
	// Half the round-trip loss attributes to one direction.
	return utils.ConcentrationBps(amount.Sub(baseBack), amount) / 2, nil
}

// ExposureInfo recomputes the live exposure snapshot. Exposure is marked
// through the oracle, not the cost basis.
func (s *Strategy) ExposureInfo() types.ExposureInfo {
	exposure, err := s.currentExposure()
	if err != nil {
		s.log.Warn().Err(err).Msg("Price unavailable, reporting cost basis")
		exposure = s.costBasis
	}
	capacity := s.params.MaxPositionSize.Sub(exposure)
	if capacity.IsNegative() {
		capacity = sdkmath.ZeroInt()
	}
	cost := s.managementFeeBps
	if slippage, err := s.quotedSlippageBps(s.params.MaxPositionSize); err == nil {
		cost += slippage
	}
	return types.ExposureInfo{
		Kind:            types.StrategyDirectToken,
		UnderlyingAsset: s.token,
		Leverage:        types.LeverageUnit,
		CollateralRatio: types.BpsDenominator, // Fully collateralized by construction.
		CurrentExposure: exposure,
		MaxCapacity:     capacity,
		CurrentCostBps:  cost,
		RiskScore:       s.riskScore(),
		IsActive:        s.active,
		// Unleveraged spot holdings cannot be liquidated.
		LiquidationPrice: sdkmath.ZeroInt(),
	}
}

// CostBreakdown reports the itemized carry cost.
func (s *Strategy) CostBreakdown() (types.CostBreakdown, error) {
	b := types.CostBreakdown{
		ManagementFeeBps: s.managementFeeBps,
		LastUpdated:      time.Now(),
	}
	if slippage, err := s.quotedSlippageBps(s.params.MaxPositionSize); err == nil {
		b.SlippageCostBps = slippage
	}
	b.TotalCostBps = b.FundingRateBps + b.BorrowRateBps + b.ManagementFeeBps + b.SlippageCostBps + b.GasCostBps
	if err := b.Validate(); err != nil {
		return types.CostBreakdown{}, err
	}
	return b, nil
}

// TotalExposure returns the oracle-marked value of the token balance,
// falling back to cost basis when no price is available.
func (s *Strategy) TotalExposure() sdkmath.Int {
	exposure, err := s.currentExposure()
	if err != nil {
		return s.costBasis
	}
	return exposure
}

func (s *Strategy) currentExposure() (sdkmath.Int, error) {
	return s.tokenValue(s.tokenBalance)
}

func (s *Strategy) tokenValue(tokens sdkmath.Int) (sdkmath.Int, error) {
	if tokens.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	price, err := s.oracle.GetPrice(s.token)
	if err != nil {
		return sdkmath.ZeroInt(), errors.Join(strategy.ErrVenueUnavailable, err)
	}
	return tokens.Mul(price).Quo(types.PriceScale), nil
}

// riskScore for an unleveraged holding reflects only liquidity risk.
func (s *Strategy) riskScore() int64 {
	score := int64(10)
	if slippage, err := s.quotedSlippageBps(s.params.MaxPositionSize); err == nil {
		score += slippage / 50
	} else {
		score += 20
	}
	if score > 100 {
		score = 100
	}
	return score
}
