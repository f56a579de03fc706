/*

This file contains persistence for rebalance cycle snapshots. Strategy
states, the instruction plan and the per-instruction receipts are stored as
JSONB so the dashboard and analytics can query them without schema churn.

*/

package state

import (
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/metazhar-legion/meta-index-sub006/internal/types"
)

// SnapshotStore persists rebalance snapshots to PostgreSQL. It satisfies the
// bundle's Store interface. The zero value is usable once InitDB has run.
type SnapshotStore struct{}

// SaveSnapshot assigns the next cycle number and writes the snapshot. The
// snapshot's CycleNumber field is ignored on input; numbering is owned by
// the persistent counter.
func (SnapshotStore) SaveSnapshot(snap types.RebalanceSnapshot) error {
	_, err := SaveRebalanceSnapshot(snap)
	return err
}

// SaveRebalanceSnapshot writes one cycle record and returns its snapshot_id.
func SaveRebalanceSnapshot(snap types.RebalanceSnapshot) (int64, error) {
	if DB == nil {
		return 0, ErrDBNotInitialized
	}

	cycleNumber, err := IncrementCycleNumber()
	if err != nil {
		return 0, err
	}
	snap.CycleNumber = cycleNumber

	initialJSON, err := json.Marshal(snap.InitialStrategies)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal initial strategies: %w", err)
	}
	finalJSON, err := json.Marshal(snap.FinalStrategies)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal final strategies: %w", err)
	}
	targetsJSON, err := json.Marshal(snap.TargetAllocations)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal target allocations: %w", err)
	}
	instructionsJSON, err := json.Marshal(snap.Instructions)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal instructions: %w", err)
	}
	receiptsJSON, err := json.Marshal(snap.Receipts)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal receipts: %w", err)
	}

	var snapshotID int64
	err = DB.QueryRow(`
		INSERT INTO rebalance_snapshots (
			cycle_number, cycle_id, ts, params_id,
			initial_capital, final_capital,
			expected_saving_bps, estimated_cost_bps, rebalanced,
			emergency_flags,
			initial_strategies, final_strategies, target_allocations,
			instructions, receipts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING snapshot_id`,
		snap.CycleNumber, snap.CycleID, snap.Timestamp, snap.ParamsID,
		snap.InitialCapital, snap.FinalCapital,
		snap.ExpectedSavingBps, snap.EstimatedCostBps, snap.Rebalanced,
		pq.Array(snap.EmergencyFlags),
		initialJSON, finalJSON, targetsJSON,
		instructionsJSON, receiptsJSON,
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert rebalance snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", snap.CycleNumber).
		Str("cycle_id", snap.CycleID).
		Bool("rebalanced", snap.Rebalanced).
		Msg("Rebalance snapshot saved")

	return snapshotID, nil
}

// GetRecentSnapshots returns the most recent cycle records, newest first.
func GetRecentSnapshots(limit int) ([]types.RebalanceSnapshot, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := DB.Query(`
		SELECT cycle_number, cycle_id, ts, params_id,
		       initial_capital, final_capital,
		       expected_saving_bps, estimated_cost_bps, rebalanced,
		       emergency_flags,
		       initial_strategies, final_strategies, target_allocations,
		       instructions, receipts
		FROM rebalance_snapshots
		ORDER BY cycle_number DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rebalance snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []types.RebalanceSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rebalance snapshots: %w", err)
	}
	return snaps, nil
}

// GetSnapshotByCycle returns the record for one cycle number.
func GetSnapshotByCycle(cycleNumber int) (types.RebalanceSnapshot, error) {
	if DB == nil {
		return types.RebalanceSnapshot{}, ErrDBNotInitialized
	}

	row := DB.QueryRow(`
		SELECT cycle_number, cycle_id, ts, params_id,
		       initial_capital, final_capital,
		       expected_saving_bps, estimated_cost_bps, rebalanced,
		       emergency_flags,
		       initial_strategies, final_strategies, target_allocations,
		       instructions, receipts
		FROM rebalance_snapshots
		WHERE cycle_number = $1
		ORDER BY snapshot_id DESC
		LIMIT 1`, cycleNumber)

	return scanSnapshot(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (types.RebalanceSnapshot, error) {
	var snap types.RebalanceSnapshot
	var flags pq.StringArray
	var initialJSON, finalJSON, targetsJSON, instructionsJSON, receiptsJSON []byte

	err := row.Scan(
		&snap.CycleNumber, &snap.CycleID, &snap.Timestamp, &snap.ParamsID,
		&snap.InitialCapital, &snap.FinalCapital,
		&snap.ExpectedSavingBps, &snap.EstimatedCostBps, &snap.Rebalanced,
		&flags,
		&initialJSON, &finalJSON, &targetsJSON,
		&instructionsJSON, &receiptsJSON,
	)
	if err != nil {
		return types.RebalanceSnapshot{}, fmt.Errorf("failed to scan rebalance snapshot: %w", err)
	}

	snap.EmergencyFlags = flags
	if err := json.Unmarshal(initialJSON, &snap.InitialStrategies); err != nil {
		return types.RebalanceSnapshot{}, fmt.Errorf("failed to unmarshal initial strategies: %w", err)
	}
	if err := json.Unmarshal(finalJSON, &snap.FinalStrategies); err != nil {
		return types.RebalanceSnapshot{}, fmt.Errorf("failed to unmarshal final strategies: %w", err)
	}
	if err := json.Unmarshal(targetsJSON, &snap.TargetAllocations); err != nil {
		return types.RebalanceSnapshot{}, fmt.Errorf("failed to unmarshal target allocations: %w", err)
	}
	if err := json.Unmarshal(instructionsJSON, &snap.Instructions); err != nil {
		return types.RebalanceSnapshot{}, fmt.Errorf("failed to unmarshal instructions: %w", err)
	}
	if err := json.Unmarshal(receiptsJSON, &snap.Receipts); err != nil {
		return types.RebalanceSnapshot{}, fmt.Errorf("failed to unmarshal receipts: %w", err)
	}

	return snap, nil
}
