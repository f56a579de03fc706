/*

This file contains the strategy optimizer type and its performance history.
The optimizer is a scoring engine: every analysis call reads live strategy
state and computes scores from scratch. The only state carried between
calls is the bounded performance history feeding the reliability score.

*/

package optimizer

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/metazhar-legion/meta-index-sub006/internal/logger"
	"github.com/metazhar-legion/meta-index-sub006/internal/types"
)

var (
	ErrNoStrategies      = errors.New("no strategies provided for analysis")
	ErrInvalidParameters = errors.New("optimizer parameters are invalid")
	ErrNoRecommended     = errors.New("no strategy met the recommendation threshold")
)

// Optimizer scores exposure strategies and derives allocation targets and
// rebalance plans from the scores.
type Optimizer struct {
	mu      sync.Mutex
	params  types.OptimizerParameters
	history map[string][]types.PerformanceRecord
	log     zerolog.Logger
}

// New creates an optimizer after strictly validating the parameters.
func New(params types.OptimizerParameters) (*Optimizer, error) {
	if err := params.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidParameters, err)
	}
	return &Optimizer{
		params:  params,
		history: make(map[string][]types.PerformanceRecord),
		log:     logger.GetForComponent("strategy_optimizer"),
	}, nil
}

// Parameters returns the current parameter set.
func (o *Optimizer) Parameters() types.OptimizerParameters {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.params
}

// RecordPerformance appends an observation to the strategy's history,
// evicting the oldest entries past the configured window.
func (o *Optimizer) RecordPerformance(record types.PerformanceRecord) {
	if record.Strategy == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	h := append(o.history[record.Strategy], record)
	if len(h) > o.params.HistoryWindow {
		h = h[len(h)-o.params.HistoryWindow:]
	}
	o.history[record.Strategy] = h
}

// History returns a copy of the recorded observations for a strategy.
func (o *Optimizer) History(strategy string) []types.PerformanceRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]types.PerformanceRecord, len(o.history[strategy]))
	copy(out, o.history[strategy])
	return out
}

// successRate returns the fraction of successful records in the window.
// A strategy with no history is treated as neutral.
func (o *Optimizer) successRate(strategy string) float64 {
	h := o.history[strategy]
	if len(h) == 0 {
		return 0.5
	}
	successes := 0
	for _, r := range h {
		if r.Success {
			successes++
		}
	}
	return float64(successes) / float64(len(h))
}

// consecutiveFailures counts failures at the tail of the history.
func (o *Optimizer) consecutiveFailures(strategy string) int {
	h := o.history[strategy]
	count := 0
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Success {
			break
		}
		count++
	}
	return count
}
