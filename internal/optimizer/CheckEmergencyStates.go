/*

This file contains the emergency detection pass. It runs outside the
scoring pipeline so that a strategy with a favorable total score can still
be flagged when its cost, risk, or failure streak breaches the configured
emergency thresholds.

*/

package optimizer

import (
	"fmt"

	"github.com/metazhar-legion/meta-index-sub006/internal/strategy"
	"github.com/metazhar-legion/meta-index-sub006/internal/types"
)

// EmergencyFlag names one strategy in an emergency condition and the
// specific thresholds it breached.
type EmergencyFlag struct {
	Strategy string   `json:"strategy"`
	Reasons  []string `json:"reasons"`
}

// CheckEmergencyStates flags every strategy whose live cost, risk score, or
// recorded failure streak breaches the emergency thresholds. An empty
// result means no strategy is in an emergency state.
func (o *Optimizer) CheckEmergencyStates(strategies []strategy.ExposureStrategy) []EmergencyFlag {
	o.mu.Lock()
	defer o.mu.Unlock()

	var flags []EmergencyFlag
	for _, s := range strategies {
		info := s.ExposureInfo()
		var reasons []string

		if info.CurrentCostBps != types.CostUnavailable && info.CurrentCostBps > o.params.EmergencyCostBps {
			reasons = append(reasons, fmt.Sprintf("carry cost %d bps exceeds emergency threshold %d bps",
				info.CurrentCostBps, o.params.EmergencyCostBps))
		}
		if info.RiskScore > o.params.EmergencyRiskScore {
			reasons = append(reasons, fmt.Sprintf("risk score %d exceeds emergency threshold %d",
				info.RiskScore, o.params.EmergencyRiskScore))
		}
		if o.params.EmergencyFailures > 0 {
			if streak := o.consecutiveFailures(s.Name()); streak >= o.params.EmergencyFailures {
				reasons = append(reasons, fmt.Sprintf("%d consecutive failures reach emergency threshold %d",
					streak, o.params.EmergencyFailures))
			}
		}

		if len(reasons) > 0 {
			flags = append(flags, EmergencyFlag{Strategy: s.Name(), Reasons: reasons})
			o.log.Warn().
				Str("strategy", s.Name()).
				Strs("reasons", reasons).
				Msg("Strategy in emergency state")
		}
	}
	return flags
}
