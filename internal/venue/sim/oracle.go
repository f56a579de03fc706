/*

This file contains the simulated price oracle. Prices are set directly by
tests and by the simulation harness; reading an asset with no price set is
an error, matching the live oracle contract.

*/

package sim

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
)

var ErrPriceUnknown = errors.New("no price set for asset")

// Oracle is an in-memory price source.
type Oracle struct {
	mu     sync.RWMutex
	prices map[string]sdkmath.Int
}

// NewOracle creates an empty oracle.
func NewOracle() *Oracle {
	return &Oracle{prices: make(map[string]sdkmath.Int)}
}

// SetPrice sets the price for an asset, 18-decimal fixed point.
func (o *Oracle) SetPrice(asset string, price sdkmath.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[asset] = price
}

// GetPrice returns the price of the asset, failing if no price is set.
func (o *Oracle) GetPrice(asset string) (sdkmath.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[asset]
	if !ok {
		return sdkmath.ZeroInt(), errors.Join(ErrPriceUnknown, fmt.Errorf("asset %q", asset))
	}
	return price, nil
}
