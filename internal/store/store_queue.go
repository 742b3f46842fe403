package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const queueColumns = "id, item_id, status, priority, retries, max_retries, error_message, added_at, started_at, completed_at"

// ClampPriority bounds a queue priority to 1..10 (lower runs sooner).
func ClampPriority(priority int) int {
	return min(10, max(1, priority))
}

func scanQueueEntry(scanner rowScanner) (*QueueEntry, error) {
	var (
		entry       QueueEntry
		status      string
		errMsg      sql.NullString
		addedRaw    string
		startedRaw  sql.NullString
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(&entry.ID, &entry.ItemID, &status, &entry.Priority, &entry.Retries,
		&entry.MaxRetries, &errMsg, &addedRaw, &startedRaw, &finishedRaw); err != nil {
		return nil, err
	}
	entry.Status = QueueStatus(status)
	entry.Error = errMsg.String
	if added, err := parseTimeString(addedRaw); err == nil {
		entry.AddedAt = added
	}
	entry.StartedAt = parseNullTime(startedRaw)
	entry.CompletedAt = parseNullTime(finishedRaw)
	return &entry, nil
}

// Enqueue adds an item to the background queue. An item already queued keeps
// its entry and the call reports false.
func (s *Store) Enqueue(ctx context.Context, itemID int64, priority, maxRetries int) (bool, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO optimization_queue (item_id, status, priority, added_at, retries, max_retries)
		 VALUES (?, 'pending', ?, ?, 0, ?)
		 ON CONFLICT(item_id) DO NOTHING`,
		itemID, ClampPriority(priority), s.timestamp(), maxRetries,
	)
	if err != nil {
		return false, fmt.Errorf("enqueue item %d: %w", itemID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// NextQueueEntry returns the next eligible pending entry by priority then age,
// or nil when the queue is drained.
func (s *Store) NextQueueEntry(ctx context.Context) (*QueueEntry, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM optimization_queue
		 WHERE status = 'pending' AND retries < max_retries
		 ORDER BY priority ASC, added_at ASC, id ASC
		 LIMIT 1`)
	entry, err := scanQueueEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next queue entry: %w", err)
	}
	return entry, nil
}

// GetQueueEntry fetches one entry, or nil when absent.
func (s *Store) GetQueueEntry(ctx context.Context, id int64) (*QueueEntry, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM optimization_queue WHERE id = ?`, id)
	entry, err := scanQueueEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return entry, nil
}

// MarkQueueProcessing claims a pending entry. It reports false when another
// worker already claimed it.
func (s *Store) MarkQueueProcessing(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE optimization_queue SET status = 'processing', started_at = ? WHERE id = ? AND status = 'pending'`,
		s.timestamp(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark queue processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// CompleteQueueEntry marks an entry completed.
func (s *Store) CompleteQueueEntry(ctx context.Context, id int64) error {
	return s.execWithoutResultRetry(ctx,
		`UPDATE optimization_queue SET status = 'completed', completed_at = ?, error_message = NULL WHERE id = ?`,
		s.timestamp(), id,
	)
}

// FailQueueEntry records a failed attempt. Retryable failures return the
// entry to pending while retries remain; otherwise it stays failed.
func (s *Store) FailQueueEntry(ctx context.Context, id int64, message string, retryable bool) (QueueStatus, error) {
	ctx = ensureContext(ctx)
	now := s.timestamp()
	if err := s.execWithoutResultRetry(ctx,
		`UPDATE optimization_queue SET
			retries = retries + 1,
			error_message = ?,
			completed_at = ?,
			status = CASE WHEN ? = 1 AND retries + 1 < max_retries THEN 'pending' ELSE 'failed' END
		 WHERE id = ?`,
		nullableString(message), now, boolToInt(retryable), id,
	); err != nil {
		return "", fmt.Errorf("fail queue entry: %w", err)
	}
	entry, err := s.GetQueueEntry(ctx, id)
	if err != nil {
		return "", err
	}
	if entry == nil {
		return "", fmt.Errorf("fail queue entry: entry %d vanished", id)
	}
	return entry.Status, nil
}

// ResetStuckQueue returns entries left in processing (e.g. after a crash) to pending.
func (s *Store) ResetStuckQueue(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE optimization_queue SET status = 'pending', started_at = NULL WHERE status = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("reset stuck queue entries: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailedQueue resets failed entries to pending with a fresh retry budget.
// With no ids every failed entry is reset.
func (s *Store) RetryFailedQueue(ctx context.Context, ids ...int64) (int64, error) {
	query := `UPDATE optimization_queue SET status = 'pending', retries = 0, error_message = NULL,
		started_at = NULL, completed_at = NULL WHERE status = 'failed'`
	args := make([]any, 0, len(ids))
	if len(ids) > 0 {
		query += " AND id IN (" + makePlaceholders(len(ids)) + ")"
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed queue entries: %w", err)
	}
	return res.RowsAffected()
}

// CleanupQueue deletes finished entries whose completion is older than days.
func (s *Store) CleanupQueue(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		days = 0
	}
	cutoff := formatTime(s.now().Add(-time.Duration(days) * 24 * time.Hour))
	res, err := s.execWithRetry(ctx,
		`DELETE FROM optimization_queue WHERE status IN ('completed', 'failed') AND completed_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup queue: %w", err)
	}
	return res.RowsAffected()
}

// ListQueue returns entries in dispatch order, optionally filtered by status.
func (s *Store) ListQueue(ctx context.Context, statuses ...QueueStatus) ([]QueueEntry, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + queueColumns + ` FROM optimization_queue`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += " WHERE status IN (" + makePlaceholders(len(statuses)) + ")"
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += " ORDER BY priority ASC, added_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()
	var entries []QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// QueueStats counts entries per status.
func (s *Store) QueueStats(ctx context.Context) (QueueSummary, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM optimization_queue GROUP BY status`)
	if err != nil {
		return QueueSummary{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var summary QueueSummary
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return QueueSummary{}, err
		}
		summary.Total += count
		switch QueueStatus(status) {
		case QueuePending:
			summary.Pending += count
		case QueueProcessing:
			summary.Processing += count
		case QueueCompleted:
			summary.Completed += count
		case QueueFailed:
			summary.Failed += count
		}
	}
	return summary, rows.Err()
}
