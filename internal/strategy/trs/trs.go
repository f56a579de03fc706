/*

This file contains the total-return-swap exposure strategy. It gains
exposure by writing swap contracts against a registry of counterparties,
spreading notional across them under per-counterparty caps and a portfolio
concentration limit.

*/

package trs

import (
	"errors"
	"fmt"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/metazhar-legion/meta-index-sub006/internal/logger"
	"github.com/metazhar-legion/meta-index-sub006/internal/strategy"
	"github.com/metazhar-legion/meta-index-sub006/internal/types"
	"github.com/metazhar-legion/meta-index-sub006/internal/utils"
	"github.com/metazhar-legion/meta-index-sub006/internal/venue"
)

// concentrationPenaltyThresholdBps is the counterparty concentration above
// which quote scoring starts penalizing that counterparty, strictly favoring
// diversification over marginal cost once concentration is material.
const concentrationPenaltyThresholdBps int64 = 2000

// concentrationPenalty is subtracted from a quote's score when the
// counterparty is already past the penalty threshold.
const concentrationPenalty int64 = 2000

var _ strategy.ExposureStrategy = (*Strategy)(nil)

// Strategy is the TRS exposure strategy instance. It exclusively owns its
// contract and counterparty records; every mutation of a detail record is
// paired with an update to the aggregate totals in the same operation.
type Strategy struct {
	name    string
	admin   string
	assetID string

	registry venue.SwapProviderRegistry
	oracle   venue.PriceOracle

	params                types.RiskParameters
	leverage              int64 // Centi-x leverage requested on new contracts.
	maturityTenor         time.Duration
	concentrationLimitBps int64
	managementFeeBps      int64

	counterparties map[string]*types.CounterpartyAllocation
	cpOrder        []string // Insertion order, for deterministic iteration.
	contracts      map[string]*types.TRSContractInfo

	totalExposure     sdkmath.Int
	totalCollateral   sdkmath.Int
	lastBorrowRateBps int64

	active bool
	guard  strategy.Guard
	events *strategy.EventTail
	log    zerolog.Logger
}

// Config holds the dependencies and tunables for a TRS strategy instance.
type Config struct {
	Name                  string
	Admin                 string
	AssetID               string
	Registry              venue.SwapProviderRegistry
	Oracle                venue.PriceOracle
	RiskParams            types.RiskParameters
	Leverage              int64 // Centi-x, defaults to 100 (unleveraged) when zero.
	MaturityTenor         time.Duration
	ConcentrationLimitBps int64
	ManagementFeeBps      int64
}

// New creates a TRS strategy instance after validating its configuration.
func New(cfg Config) (*Strategy, error) {
	if cfg.Name == "" {
		return nil, errors.Join(strategy.ErrEmptyIdentifier, errors.New("strategy name cannot be empty"))
	}
	if cfg.Admin == "" {
		return nil, errors.Join(strategy.ErrEmptyIdentifier, errors.New("admin cannot be empty"))
	}
	if cfg.AssetID == "" {
		return nil, errors.Join(strategy.ErrEmptyIdentifier, errors.New("asset ID cannot be empty"))
	}
	if cfg.Registry == nil {
		return nil, errors.New("swap provider registry cannot be nil")
	}
	if cfg.Oracle == nil {
		return nil, errors.New("price oracle cannot be nil")
	}
	if err := cfg.RiskParams.Validate(); err != nil {
		return nil, fmt.Errorf("risk parameters invalid: %w", err)
	}
	leverage := cfg.Leverage
	if leverage == 0 {
		leverage = types.LeverageUnit
	}
	if leverage < types.LeverageUnit || leverage > cfg.RiskParams.MaxLeverage {
		return nil, fmt.Errorf("configured leverage %d outside [%d, %d]",
			leverage, types.LeverageUnit, cfg.RiskParams.MaxLeverage)
	}
	if cfg.MaturityTenor <= 0 {
		return nil, errors.New("maturity tenor must be positive")
	}
	if cfg.ConcentrationLimitBps <= 0 || cfg.ConcentrationLimitBps > types.BpsDenominator {
		return nil, errors.New("concentration limit must be in (0, 10000] bps")
	}
	if cfg.ManagementFeeBps < 0 {
		return nil, errors.New("management fee cannot be negative")
	}

	return &Strategy{
		name:                  cfg.Name,
		admin:                 cfg.Admin,
		assetID:               cfg.AssetID,
		registry:              cfg.Registry,
		oracle:                cfg.Oracle,
		params:                cfg.RiskParams,
		leverage:              leverage,
		maturityTenor:         cfg.MaturityTenor,
		concentrationLimitBps: cfg.ConcentrationLimitBps,
		managementFeeBps:      cfg.ManagementFeeBps,
		counterparties:        make(map[string]*types.CounterpartyAllocation),
		contracts:             make(map[string]*types.TRSContractInfo),
		totalExposure:         sdkmath.ZeroInt(),
		totalCollateral:       sdkmath.ZeroInt(),
		events:                strategy.NewEventTail(0),
		log:                   logger.GetForComponent("trs_strategy"),
	}, nil
}

// Name returns the instance name.
func (s *Strategy) Name() string { return s.name }

// Kind returns the strategy variant.
func (s *Strategy) Kind() types.StrategyKind { return types.StrategyTRS }

// RiskParameters returns the current parameter set.
func (s *Strategy) RiskParameters() types.RiskParameters { return s.params }

// Events returns the recent audit event tail.
func (s *Strategy) Events() []types.Event { return s.events.Snapshot() }

// UpdateRiskParameters replaces the risk parameter set. Administrator only;
// the hard leverage and slippage caps are enforced on every update.
func (s *Strategy) UpdateRiskParameters(caller string, params types.RiskParameters) error {
	if caller != s.admin {
		return strategy.ErrNotAdmin
	}
	if err := params.Validate(); err != nil {
		return err
	}
	before := fmt.Sprintf("maxLeverage=%d slippage=%d", s.params.MaxLeverage, s.params.SlippageLimit)
	after := fmt.Sprintf("maxLeverage=%d slippage=%d", params.MaxLeverage, params.SlippageLimit)
	s.params = params
	if s.leverage > params.MaxLeverage {
		s.leverage = params.MaxLeverage
	}
	s.events.Append(types.NewEvent(types.EventRiskParamsUpdated, s.name, before, after, ""))
	s.log.Info().Str("before", before).Str("after", after).Msg("Risk parameters updated")
	return nil
}

// OpenExposure opens or augments exposure by writing a new swap contract
// with the best eligible counterparty.
func (s *Strategy) OpenExposure(amount sdkmath.Int) (strategy.OpenResult, error) {
	if err := s.guard.Enter(); err != nil {
		return strategy.OpenResult{}, err
	}
	defer s.guard.Exit()
	return s.openLocked(amount)
}

// openLocked performs the open with the guard already held. AdjustExposure
// calls this directly rather than re-entering the public entry point.
func (s *Strategy) openLocked(amount sdkmath.Int) (strategy.OpenResult, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return strategy.OpenResult{}, strategy.ErrZeroAmount
	}
	if s.totalExposure.Add(amount).GT(s.params.MaxPositionSize) {
		return strategy.OpenResult{}, errors.Join(strategy.ErrExceedsMaxPosition,
			fmt.Errorf("exposure %s + %s exceeds max %s",
				s.totalExposure, amount, s.params.MaxPositionSize))
	}

	maturity := time.Now().Add(s.maturityTenor)
	quotes, err := s.registry.RequestQuotes(s.assetID, amount, maturity, s.leverage)
	if err != nil {
		return strategy.OpenResult{}, errors.Join(strategy.ErrVenueUnavailable, err)
	}

	best, err := s.selectBestQuote(quotes, amount)
	if err != nil {
		return strategy.OpenResult{}, err
	}

	collateral, err := s.registry.CalculateCollateralRequirement(best.Notional, s.leverage)
	if err != nil {
		return strategy.OpenResult{}, errors.Join(strategy.ErrVenueUnavailable, err)
	}

	contractID, err := s.registry.CreateContract(best.QuoteID, collateral)
	if err != nil {
		return strategy.OpenResult{}, errors.Join(strategy.ErrVenueUnavailable,
			fmt.Errorf("contract creation failed for quote %s: %w", best.QuoteID, err))
	}

	now := time.Now()
	s.contracts[contractID] = &types.TRSContractInfo{
		ContractID:       contractID,
		Counterparty:     best.Counterparty,
		NotionalAmount:   best.Notional,
		CollateralAmount: collateral,
		CreationTime:     now,
		MaturityTime:     best.Maturity,
		Status:           types.ContractActive,
	}

	// Detail record and aggregate move together inside the same operation.
	cp := s.counterparties[best.Counterparty]
	before := s.totalExposure
	cp.CurrentExposure = cp.CurrentExposure.Add(best.Notional)
	cp.LastQuoteTime = now
	s.totalExposure = s.totalExposure.Add(best.Notional)
	s.totalCollateral = s.totalCollateral.Add(collateral)
	s.lastBorrowRateBps = best.BorrowRateBps
	s.active = true

	s.events.Append(types.NewEvent(types.EventContractCreated, s.name,
		"", contractID, fmt.Sprintf("counterparty=%s notional=%s", best.Counterparty, best.Notional)))
	s.events.Append(types.NewEvent(types.EventExposureOpened, s.name,
		before.String(), s.totalExposure.String(), ""))

	s.log.Info().
		Str("contractID", contractID).
		Str("counterparty", best.Counterparty).
		Str("notional", best.Notional.String()).
		Str("collateral", collateral.String()).
		Int64("borrowRateBps", best.BorrowRateBps).
		Msg("Swap contract created")

	return strategy.OpenResult{ActualExposure: best.Notional}, nil
}

// CloseExposure unwinds exposure by terminating whole contracts starting
// from the smallest notional until the requested amount is covered or
// exceeded. Individual swap contracts cannot be partially terminated, so
// the close may overshoot the request.
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
	if amount.GT(s.totalExposure) {
		return strategy.CloseResult{}, errors.Join(strategy.ErrInsufficientExposure,
			fmt.Errorf("requested %s, current exposure %s", amount, s.totalExposure))
	}

	// Greedy bin reduction: smallest contracts first.
	open := s.openContractsByNotional()

	closed := sdkmath.ZeroInt()
	recovered := sdkmath.ZeroInt()
	for _, c := range open {
		if closed.GTE(amount) {
			break
		}
		result, err := s.registry.TerminateContract(c.ContractID)
		if err != nil {
			return strategy.CloseResult{}, errors.Join(strategy.ErrVenueUnavailable,
				fmt.Errorf("failed to terminate contract %s: %w", c.ContractID, err))
		}
		s.retireContract(c, types.ContractTerminated)
		closed = closed.Add(c.NotionalAmount)
		recovered = recovered.Add(result.FinalValue).Add(result.CollateralReturned)

		s.log.Info().
			Str("contractID", c.ContractID).
			Str("notional", c.NotionalAmount.String()).
			Str("recovered", result.FinalValue.Add(result.CollateralReturned).String()).
			Msg("Swap contract terminated")
	}

	if closed.IsZero() {
		return strategy.CloseResult{}, strategy.ErrVenueUnavailable
	}
	if s.totalExposure.IsZero() {
		s.active = false
	}

	s.events.Append(types.NewEvent(types.EventExposureClosed, s.name,
		s.totalExposure.Add(closed).String(), s.totalExposure.String(),
		fmt.Sprintf("requested=%s closed=%s", amount, closed)))

	return strategy.CloseResult{ClosedExposure: closed, CapitalRecovered: recovered}, nil
}

// AdjustExposure opens on a positive delta and closes |delta| on a negative
// one. A zero delta is a no-op returning the current exposure.
func (s *Strategy) AdjustExposure(delta sdkmath.Int) (sdkmath.Int, error) {
	if delta.IsNil() {
		return sdkmath.ZeroInt(), strategy.ErrZeroAmount
	}
	if delta.IsZero() {
		return s.totalExposure, nil
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
		"", s.totalExposure.String(), fmt.Sprintf("delta=%s", delta)))
	return s.totalExposure, nil
}

// CanHandleExposure reports whether the amount could currently be opened.
// The result is advisory: capacity cannot be reserved, and OpenExposure
// re-validates independently.
func (s *Strategy) CanHandleExposure(amount sdkmath.Int) bool {
	if amount.IsNil() || !amount.IsPositive() {
		return false
	}
	if s.totalExposure.Add(amount).GT(s.params.MaxPositionSize) {
		return false
	}
	quotes, err := s.registry.RequestQuotes(s.assetID, amount, time.Now().Add(s.maturityTenor), s.leverage)
	if err != nil {
		return false
	}
	_, err = s.selectBestQuote(quotes, amount)
	return err == nil
}

// ExposureInfo recomputes the live exposure snapshot from current state.
func (s *Strategy) ExposureInfo() types.ExposureInfo {
	capacity := s.params.MaxPositionSize.Sub(s.totalExposure)
	if capacity.IsNegative() {
		capacity = sdkmath.ZeroInt()
	}

	leverage := int64(0)
	if !s.totalCollateral.IsZero() {
		leverage = s.totalExposure.Mul(sdkmath.NewInt(types.LeverageUnit)).Quo(s.totalCollateral).Int64()
	}

	return types.ExposureInfo{
		Kind:             types.StrategyTRS,
		UnderlyingAsset:  s.assetID,
		Leverage:         leverage,
		CollateralRatio:  utils.CollateralRatioBps(s.totalCollateral, s.totalExposure),
		CurrentExposure:  s.totalExposure,
		MaxCapacity:      capacity,
		CurrentCostBps:   s.lastBorrowRateBps + s.managementFeeBps,
		RiskScore:        s.riskScore(),
		IsActive:         s.active,
		LiquidationPrice: sdkmath.ZeroInt(), // Swap contracts margin-call rather than liquidate at a price.
	}
}

// CostBreakdown reports the itemized carry cost of the current book.
func (s *Strategy) CostBreakdown() (types.CostBreakdown, error) {
	b := types.CostBreakdown{
		BorrowRateBps:    s.lastBorrowRateBps,
		ManagementFeeBps: s.managementFeeBps,
		LastUpdated:      time.Now(),
	}
	b.TotalCostBps = b.FundingRateBps + b.BorrowRateBps + b.ManagementFeeBps + b.SlippageCostBps + b.GasCostBps
	if err := b.Validate(); err != nil {
		return types.CostBreakdown{}, err
	}
	return b, nil
}

// TotalExposure returns the aggregate notional across active contracts.
func (s *Strategy) TotalExposure() sdkmath.Int { return s.totalExposure }

// Contracts returns a copy of all contract records, active and terminal.
func (s *Strategy) Contracts() []types.TRSContractInfo {
	out := make([]types.TRSContractInfo, 0, len(s.contracts))
	for _, c := range s.contracts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreationTime.Before(out[j].CreationTime) })
	return out
}

// CounterpartyAllocations returns a copy of the counterparty book in
// insertion order.
func (s *Strategy) CounterpartyAllocations() []types.CounterpartyAllocation {
	out := make([]types.CounterpartyAllocation, 0, len(s.cpOrder))
	for _, name := range s.cpOrder {
		if cp, ok := s.counterparties[name]; ok {
			out = append(out, *cp)
		}
	}
	return out
}

// openContractsByNotional returns active contracts sorted smallest first.
func (s *Strategy) openContractsByNotional() []*types.TRSContractInfo {
	open := make([]*types.TRSContractInfo, 0, len(s.contracts))
	for _, c := range s.contracts {
		if c.IsOpen() {
			open = append(open, c)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		if open[i].NotionalAmount.Equal(open[j].NotionalAmount) {
			return open[i].CreationTime.Before(open[j].CreationTime)
		}
		return open[i].NotionalAmount.LT(open[j].NotionalAmount)
	})
	return open
}

// retireContract moves a contract to a terminal status and unwinds its
// contribution to the counterparty and aggregate totals.
func (s *Strategy) retireContract(c *types.TRSContractInfo, status types.ContractStatus) {
	c.Status = status
	if cp, ok := s.counterparties[c.Counterparty]; ok {
		cp.CurrentExposure = cp.CurrentExposure.Sub(c.NotionalAmount)
		if cp.CurrentExposure.IsNegative() {
			// Should be unreachable; clamp rather than corrupt the book.
			s.log.Error().Str("counterparty", c.Counterparty).Msg("Counterparty exposure went negative, clamping")
			cp.CurrentExposure = sdkmath.ZeroInt()
		}
	}
	s.totalExposure = s.totalExposure.Sub(c.NotionalAmount)
	if s.totalExposure.IsNegative() {
		s.totalExposure = sdkmath.ZeroInt()
	}
	s.totalCollateral = s.totalCollateral.Sub(c.CollateralAmount)
	if s.totalCollateral.IsNegative() {
		s.totalCollateral = sdkmath.ZeroInt()
	}
}

// riskScore derives a coarse 0-100 risk figure from leverage and
// counterparty concentration.
func (s *Strategy) riskScore() int64 {
	score := int64(10)
	if !s.totalCollateral.IsZero() {
		lev := s.totalExposure.Mul(sdkmath.NewInt(types.LeverageUnit)).Quo(s.totalCollateral).Int64()
		score += (lev - types.LeverageUnit) / 20
	}
	var maxConc int64
	for _, cp := range s.counterparties {
		c := utils.ConcentrationBps(cp.CurrentExposure, s.totalExposure)
		if c > maxConc {
			maxConc = c
		}
	}
	score += maxConc / 200 // +50 at full concentration
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}
