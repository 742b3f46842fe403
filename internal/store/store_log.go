package store

import (
	"context"
	"database/sql"
	"fmt"
)

// AppendLog writes an optimisation history row.
func (s *Store) AppendLog(ctx context.Context, entry LogEntry) error {
	savings := entry.OriginalSize - entry.OptimizedSize
	if savings < 0 {
		savings = 0
	}
	return s.execWithoutResultRetry(ctx,
		`INSERT INTO optimization_log
			(item_id, status, method, original_size, optimized_size, savings, error_message, run_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ItemID,
		string(entry.Status),
		string(entry.Method),
		entry.OriginalSize,
		entry.OptimizedSize,
		savings,
		nullableString(entry.Error),
		nullableString(entry.RunID),
		s.timestamp(),
	)
}

// RecentLogs returns the newest history rows first.
func (s *Store) RecentLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, status, method, original_size, optimized_size, savings, error_message, run_id, created_at
		 FROM optimization_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var (
			entry      LogEntry
			status     string
			method     string
			errMsg     sql.NullString
			runID      sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&entry.ID, &entry.ItemID, &status, &method, &entry.OriginalSize,
			&entry.OptimizedSize, &entry.Savings, &errMsg, &runID, &createdRaw); err != nil {
			return nil, err
		}
		entry.Status = LogStatus(status)
		entry.Method = Method(method)
		entry.Error = errMsg.String
		entry.RunID = runID.String
		if created, err := parseTimeString(createdRaw); err == nil {
			entry.CreatedAt = created
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// LogStats aggregates the optimisation history.
func (s *Store) LogStats(ctx context.Context) (LogStats, error) {
	ctx = ensureContext(ctx)
	var (
		stats   LogStats
		savings sql.NullInt64
		average sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `SELECT
			COUNT(1),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END), 0),
			SUM(savings),
			AVG(savings)
		FROM optimization_log`,
	).Scan(&stats.Total, &stats.Successful, &stats.Failed, &stats.Skipped, &savings, &average)
	if err != nil {
		return LogStats{}, fmt.Errorf("log stats: %w", err)
	}
	stats.TotalSavings = savings.Int64
	stats.AverageSavings = average.Float64
	return stats, nil
}
