/*

This file contains versioned persistence for optimizer parameters. Saving a
new version deactivates the previous active one inside a single transaction,
so exactly one version is active at a time.

*/

package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/metazhar-legion/meta-index-sub006/internal/types"
)

var ErrNoActiveParameters = errors.New("no active optimizer parameters found")

// SaveOptimizerParameters stores a new parameter version and marks it active.
func SaveOptimizerParameters(params types.OptimizerParameters, description string) (int64, error) {
	if DB == nil {
		return 0, ErrDBNotInitialized
	}
	if err := params.Validate(); err != nil {
		return 0, fmt.Errorf("refusing to save invalid parameters: %w", err)
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal optimizer parameters: %w", err)
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE optimizer_parameters SET is_active = FALSE WHERE is_active = TRUE`); err != nil {
		return 0, fmt.Errorf("failed to deactivate previous parameters: %w", err)
	}

	var version int64
	err = tx.QueryRow(`
		INSERT INTO optimizer_parameters (parameters, description, is_active)
		VALUES ($1, $2, TRUE)
		RETURNING version`,
		paramsJSON, description,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to insert optimizer parameters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit parameter save: %w", err)
	}

	log.Info().Int64("version", version).Str("description", description).Msg("Optimizer parameters saved")
	return version, nil
}

// LoadActiveParameters returns the currently active parameter version. When
// none has ever been saved, ErrNoActiveParameters is returned and the caller
// falls back to its configured defaults.
func LoadActiveParameters() (types.OptimizerParameters, int64, error) {
	if DB == nil {
		return types.OptimizerParameters{}, 0, ErrDBNotInitialized
	}

	var version int64
	var paramsJSON []byte
	err := DB.QueryRow(`
		SELECT version, parameters
		FROM optimizer_parameters
		WHERE is_active = TRUE
		ORDER BY version DESC
		LIMIT 1`).Scan(&version, &paramsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return types.OptimizerParameters{}, 0, ErrNoActiveParameters
	}
	if err != nil {
		return types.OptimizerParameters{}, 0, fmt.Errorf("failed to load active parameters: %w", err)
	}

	var params types.OptimizerParameters
	if err := json.Unmarshal(paramsJSON, &params); err != nil {
		return types.OptimizerParameters{}, 0, fmt.Errorf("failed to unmarshal optimizer parameters: %w", err)
	}
	if err := params.Validate(); err != nil {
		return types.OptimizerParameters{}, 0, fmt.Errorf("stored parameters version %d are invalid: %w", version, err)
	}

	return params, version, nil
}
