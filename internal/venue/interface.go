/*

This file contains the external collaborator interfaces the allocation core
consumes. They abstract the concrete execution venues (swap counterparty
registry, perpetual router, spot exchange, yield strategies and the price
oracle), allowing live and simulated implementations to be swapped freely.

*/

package venue

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// PriceOracle provides reference-asset prices. Prices carry 18 decimals.
type PriceOracle interface {
	// GetPrice returns the price of the asset, failing if no price is set.
	GetPrice(asset string) (sdkmath.Int, error)
}

// Quote is one counterparty's offer to write a TRS contract.
type Quote struct {
	QuoteID       string
	Counterparty  string
	BorrowRateBps int64 // Annualized financing rate charged by the counterparty.
	Notional      sdkmath.Int
	Maturity      time.Time // Maturity of the offered contract.
	ValidUntil    time.Time // Quote expiry; a quote past this time must not be executed.
}

// Expired reports whether the quote can no longer be executed.
func (q Quote) Expired(now time.Time) bool {
	return now.After(q.ValidUntil)
}

// CounterpartyInfo is the registry's view of a counterparty.
type CounterpartyInfo struct {
	Name         string
	CreditRating int64 // 1-10, higher is better.
	IsActive     bool
}

// ContractTerminationResult reports the outcome of terminating one contract.
type ContractTerminationResult struct {
	FinalValue         sdkmath.Int // Realized PnL at termination; negative on a loss.
	CollateralReturned sdkmath.Int
}

// SwapProviderRegistry is the TRS execution venue: a registry of swap
// counterparties that quote, write and settle total-return-swap contracts.
type SwapProviderRegistry interface {
	// RequestQuotes gathers quotes from all registered counterparties.
	RequestQuotes(assetID string, notional sdkmath.Int, maturity time.Time, leverage int64) ([]Quote, error)

	// CreateContract executes a quote, posting the given collateral.
	CreateContract(quoteID string, collateral sdkmath.Int) (string, error)

	// TerminateContract unwinds a contract before maturity.
	TerminateContract(contractID string) (ContractTerminationResult, error)

	// SettleContract settles a contract at or after maturity.
	SettleContract(contractID string) (ContractTerminationResult, error)

	// MarkToMarket returns the current value of a contract.
	MarkToMarket(contractID string) (sdkmath.Int, error)

	// PostCollateral adds collateral to an existing contract.
	PostCollateral(contractID string, amount sdkmath.Int) error

	// WithdrawCollateral removes excess collateral from a contract.
	WithdrawCollateral(contractID string, amount sdkmath.Int) error

	// GetCounterpartyInfo returns registry data for one counterparty.
	GetCounterpartyInfo(name string) (CounterpartyInfo, error)

	// CalculateCollateralRequirement returns the collateral the registry
	// demands for a notional at the given leverage.
	CalculateCollateralRequirement(notional sdkmath.Int, leverage int64) (sdkmath.Int, error)
}

// PerpPosition is the router's view of an open perpetual position.
type PerpPosition struct {
	PositionID string
	Market     string
	Size       sdkmath.Int // Notional size in base-asset units.
	Collateral sdkmath.Int
	Leverage   int64 // Centi-x.
	EntryPrice sdkmath.Int
}

// PerpetualRouter is the perpetual-future execution venue.
type PerpetualRouter interface {
	// OpenPosition opens a position and returns its identifier.
	OpenPosition(market string, size sdkmath.Int, leverage int64, collateral sdkmath.Int) (string, error)

	// ClosePosition closes a position, returning realized PnL plus returned
	// collateral in base-asset units.
	ClosePosition(positionID string) (sdkmath.Int, error)

	// AdjustPosition changes size and/or collateral of an open position.
	AdjustPosition(positionID string, sizeDelta sdkmath.Int, collateralDelta sdkmath.Int, leverage int64) error

	// GetPosition returns the live position state.
	GetPosition(positionID string) (PerpPosition, error)

	// GetFundingRate returns the market's current funding rate in signed bps
	// per funding interval.
	GetFundingRate(market string) (int64, error)

	// GetPositionValue returns the current value of the position including
	// unrealized PnL.
	GetPositionValue(positionID string) (sdkmath.Int, error)
}

// YieldStrategy is a deposit/withdraw yield primitive.
type YieldStrategy interface {
	// Name identifies the strategy.
	Name() string

	// Deposit places base-asset capital and returns shares.
	Deposit(amount sdkmath.Int) (sdkmath.Int, error)

	// Withdraw burns shares and returns base-asset capital.
	Withdraw(shares sdkmath.Int) (sdkmath.Int, error)

	// GetTotalValue returns the base-asset value of this holder's deposit.
	GetTotalValue() (sdkmath.Int, error)

	// HarvestYield collects accrued yield in base-asset units.
	HarvestYield() (sdkmath.Int, error)
}

// SpotExchange is the direct-token execution venue.
type SpotExchange interface {
	// SwapExactTokensForTokens swaps amountIn of tokenIn for at least minOut
	// of tokenOut, returning the actual amount out.
	SwapExactTokensForTokens(amountIn, minOut sdkmath.Int, tokenIn, tokenOut string) (sdkmath.Int, error)

	// GetAmountsOut quotes the output amount for a prospective swap.
	GetAmountsOut(amountIn sdkmath.Int, tokenIn, tokenOut string) (sdkmath.Int, error)
}
