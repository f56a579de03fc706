/*

This file contains the persistent cycle counter. The counter survives
restarts so snapshot history stays monotonic across process lifetimes.

*/

package state

import (
	"fmt"
)

// GetCurrentCycleNumber returns the last assigned cycle number.
func GetCurrentCycleNumber() (int, error) {
	if DB == nil {
		return 0, ErrDBNotInitialized
	}

	var cycle int
	err := DB.QueryRow(`SELECT current_cycle FROM cycle_counter WHERE id = 1`).Scan(&cycle)
	if err != nil {
		return 0, fmt.Errorf("failed to read cycle counter: %w", err)
	}
	return cycle, nil
}

// IncrementCycleNumber advances the counter and returns the new value. Each
// rebalance cycle calls this exactly once before its snapshot is saved.
func IncrementCycleNumber() (int, error) {
	if DB == nil {
		return 0, ErrDBNotInitialized
	}

	var cycle int
	err := DB.QueryRow(`
		UPDATE cycle_counter
		SET current_cycle = current_cycle + 1, updated_at = NOW()
		WHERE id = 1
		RETURNING current_cycle`).Scan(&cycle)
	if err != nil {
		return 0, fmt.Errorf("failed to increment cycle counter: %w", err)
	}
	return cycle, nil
}
