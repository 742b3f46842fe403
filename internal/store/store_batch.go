package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const batchColumns = "run_id, state, offset_value, limit_value, processed, succeeded, failed, skipped, savings, started_at, updated_at, completed_at"

// LoadBatchState returns the persisted batch cursor. A fresh database reads as idle.
func (s *Store) LoadBatchState(ctx context.Context) (BatchState, error) {
	ctx = ensureContext(ctx)
	var (
		state       BatchState
		status      string
		startedRaw  sql.NullString
		updatedRaw  sql.NullString
		finishedRaw sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batch_state WHERE id = 1`).Scan(
		&state.RunID, &status, &state.Offset, &state.Limit, &state.Processed, &state.Succeeded,
		&state.Failed, &state.Skipped, &state.Savings, &startedRaw, &updatedRaw, &finishedRaw,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return BatchState{State: BatchIdle}, nil
	}
	if err != nil {
		return BatchState{}, fmt.Errorf("load batch state: %w", err)
	}
	state.State = BatchStatus(status)
	state.StartedAt = parseNullTime(startedRaw)
	state.UpdatedAt = parseNullTime(updatedRaw)
	state.CompletedAt = parseNullTime(finishedRaw)
	return state, nil
}

// SaveBatchState writes the cursor. A pause recorded out of band since the
// caller loaded the state survives unless force is set or the run completed.
func (s *Store) SaveBatchState(ctx context.Context, state BatchState, force bool) error {
	stateExpr := `CASE WHEN batch_state.state = 'paused' AND batch_state.run_id = excluded.run_id
		AND excluded.state = 'running' THEN 'paused' ELSE excluded.state END`
	if force {
		stateExpr = `excluded.state`
	}
	return s.execWithoutResultRetry(ctx,
		`INSERT INTO batch_state (id, `+batchColumns+`) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			state = `+stateExpr+`,
			offset_value = excluded.offset_value,
			limit_value = excluded.limit_value,
			processed = excluded.processed,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			skipped = excluded.skipped,
			savings = excluded.savings,
			started_at = excluded.started_at,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at`,
		state.RunID, string(state.State), state.Offset, state.Limit, state.Processed, state.Succeeded,
		state.Failed, state.Skipped, state.Savings, nullableTime(state.StartedAt), s.timestamp(),
		nullableTime(state.CompletedAt),
	)
}

// SetBatchPaused flips a running cursor to paused. It reports false when no
// run was active.
func (s *Store) SetBatchPaused(ctx context.Context) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE batch_state SET state = 'paused', updated_at = ? WHERE id = 1 AND state = 'running'`,
		s.timestamp(),
	)
	if err != nil {
		return false, fmt.Errorf("pause batch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
