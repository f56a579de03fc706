/*

This file contains the simulated spot exchange. Swap pricing follows the
shared oracle with a flat fee, so quoted and executed amounts agree unless
a test moves the price or fails the exchange between quote and execution.

*/

package sim

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/metazhar-legion/meta-index-sub006/internal/types"
	"github.com/metazhar-legion/meta-index-sub006/internal/venue"
)

var (
	ErrExchangeFailed   = errors.New("exchange is failed")
	ErrSlippageMinOut   = errors.New("output below minimum")
	ErrUnsupportedAsset = errors.New("asset not priced")
)

// Exchange is an in-memory spot venue pricing swaps through the oracle.
type Exchange struct {
	mu     sync.Mutex
	oracle *Oracle
	feeBps int64
	failed bool
}

// NewExchange creates an exchange with a flat swap fee in bps.
func NewExchange(oracle *Oracle, feeBps int64) *Exchange {
	return &Exchange{oracle: oracle, feeBps: feeBps}
}

// Fail makes every operation fail until restored.
func (e *Exchange) Fail(failed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = failed
}

// GetAmountsOut quotes the output amount for a prospective swap.
func (e *Exchange) GetAmountsOut(amountIn sdkmath.Int, tokenIn, tokenOut string) (sdkmath.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quote(amountIn, tokenIn, tokenOut)
}

// SwapExactTokensForTokens executes a swap at the quoted rate, enforcing
// the caller's minimum output.
func (e *Exchange) SwapExactTokensForTokens(amountIn, minOut sdkmath.Int, tokenIn, tokenOut string) (sdkmath.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out, err := e.quote(amountIn, tokenIn, tokenOut)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if !minOut.IsNil() && out.LT(minOut) {
		return sdkmath.ZeroInt(), errors.Join(ErrSlippageMinOut,
			fmt.Errorf("out %s below min %s", out, minOut))
	}
	return out, nil
}

func (e *Exchange) quote(amountIn sdkmath.Int, tokenIn, tokenOut string) (sdkmath.Int, error) {
	if e.failed {
		return sdkmath.ZeroInt(), ErrExchangeFailed
	}
	if amountIn.IsNil() || !amountIn.IsPositive() {
		return sdkmath.ZeroInt(), errors.New("amount in must be positive")
	}
	priceIn, err := e.oracle.GetPrice(tokenIn)
	if err != nil {
		return sdkmath.ZeroInt(), errors.Join(ErrUnsupportedAsset, err)
	}
	priceOut, err := e.oracle.GetPrice(tokenOut)
	if err != nil {
		return sdkmath.ZeroInt(), errors.Join(ErrUnsupportedAsset, err)
	}
	if !priceOut.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("non-positive price for %q", tokenOut)
	}
	gross := amountIn.Mul(priceIn).Quo(priceOut)
	net := gross.Mul(sdkmath.NewInt(types.BpsDenominator - e.feeBps)).
		Quo(sdkmath.NewInt(types.BpsDenominator))
	return net, nil
}

var _ venue.SpotExchange = (*Exchange)(nil)
