package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const recordColumns = "r.item_id, r.optimized, r.method, r.original_size, r.optimized_size, r.savings, r.error_message, r.run_id, r.updated_at"

// eligibleWhere selects items a batch run still owns: never optimised, failed,
// or already touched by the run itself. Keeping the run's own items in the set
// keeps offsets stable while earlier pages flip to optimised.
const eligibleWhere = `(r.item_id IS NULL OR r.optimized = 0 OR r.run_id = ?)`

func scanRecord(scanner rowScanner) (*Record, error) {
	var (
		record     Record
		optimized  int
		method     string
		errMsg     sql.NullString
		runID      sql.NullString
		updatedRaw string
	)
	if err := scanner.Scan(
		&record.ItemID,
		&optimized,
		&method,
		&record.OriginalSize,
		&record.OptimizedSize,
		&record.Savings,
		&errMsg,
		&runID,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	record.Optimized = optimized != 0
	record.Method = Method(method)
	record.Error = errMsg.String
	record.RunID = runID.String
	if updated, err := parseTimeString(updatedRaw); err == nil {
		record.UpdatedAt = updated
	}
	return &record, nil
}

func scanItemWithRecord(scanner rowScanner) (*Item, *Record, error) {
	var (
		item          Item
		createdRaw    string
		updatedRaw    string
		recItemID     sql.NullInt64
		optimized     sql.NullInt64
		method        sql.NullString
		originalSize  sql.NullInt64
		optimizedSize sql.NullInt64
		savings       sql.NullInt64
		errMsg        sql.NullString
		runID         sql.NullString
		recUpdatedRaw sql.NullString
	)
	if err := scanner.Scan(
		&item.ID, &item.Path, &item.Format, &item.Size, &item.Width, &item.Height, &createdRaw, &updatedRaw,
		&recItemID, &optimized, &method, &originalSize, &optimizedSize, &savings, &errMsg, &runID, &recUpdatedRaw,
	); err != nil {
		return nil, nil, err
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		item.UpdatedAt = updated
	}
	if !recItemID.Valid {
		return &item, nil, nil
	}
	record := &Record{
		ItemID:        recItemID.Int64,
		Optimized:     optimized.Int64 != 0,
		Method:        Method(method.String),
		OriginalSize:  originalSize.Int64,
		OptimizedSize: optimizedSize.Int64,
		Savings:       savings.Int64,
		Error:         errMsg.String,
		RunID:         runID.String,
	}
	if updated, err := parseTimeString(recUpdatedRaw.String); err == nil {
		record.UpdatedAt = updated
	}
	return &item, record, nil
}

// GetRecord returns the optimisation record for an item, or nil when none exists.
func (s *Store) GetRecord(ctx context.Context, itemID int64) (*Record, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM optimization_records r WHERE r.item_id = ?`, itemID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return record, nil
}

// SaveRecord upserts the record for record.ItemID. Savings is recomputed from
// the sizes. An empty RunID keeps the run that last touched the item.
func (s *Store) SaveRecord(ctx context.Context, record Record) error {
	savings := record.OriginalSize - record.OptimizedSize
	if savings < 0 {
		savings = 0
	}
	return s.execWithoutResultRetry(ctx,
		`INSERT INTO optimization_records
			(item_id, optimized, method, original_size, optimized_size, savings, error_message, run_id, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(item_id) DO UPDATE SET
			optimized = excluded.optimized,
			method = excluded.method,
			original_size = excluded.original_size,
			optimized_size = excluded.optimized_size,
			savings = excluded.savings,
			error_message = excluded.error_message,
			run_id = COALESCE(excluded.run_id, optimization_records.run_id),
			updated_at = excluded.updated_at`,
		record.ItemID,
		boolToInt(record.Optimized),
		string(record.Method),
		record.OriginalSize,
		record.OptimizedSize,
		savings,
		nullableString(record.Error),
		nullableString(record.RunID),
		s.timestamp(),
	)
}

// ResetRecord clears the optimised flag and error of an item so it can be
// processed again. Sizes are kept for reporting until the next outcome.
func (s *Store) ResetRecord(ctx context.Context, itemID int64) error {
	return s.execWithoutResultRetry(ctx,
		`UPDATE optimization_records SET optimized = 0, error_message = NULL, updated_at = ? WHERE item_id = ?`,
		s.timestamp(), itemID,
	)
}

// ClearRecord deletes the record of an item so it reads as never optimised.
func (s *Store) ClearRecord(ctx context.Context, itemID int64) error {
	return s.execWithoutResultRetry(ctx, `DELETE FROM optimization_records WHERE item_id = ?`, itemID)
}

// EligibleItems returns one page of items a batch run still owns, ordered by id.
func (s *Store) EligibleItems(ctx context.Context, runID string, offset, limit int) ([]*Item, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items i LEFT JOIN optimization_records r ON r.item_id = i.id
		 WHERE `+eligibleWhere+` ORDER BY i.id ASC LIMIT ? OFFSET ?`,
		runID, limit, max(offset, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("query eligible items: %w", err)
	}
	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, item := range items {
		if item.Variants, err = s.ListVariants(ctx, item.ID); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// CountEligible counts the items EligibleItems pages over.
func (s *Store) CountEligible(ctx context.Context, runID string) (int, error) {
	ctx = ensureContext(ctx)
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM items i LEFT JOIN optimization_records r ON r.item_id = i.id WHERE `+eligibleWhere,
		runID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count eligible items: %w", err)
	}
	return count, nil
}
