package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const itemColumns = "i.id, i.path, i.format, i.size_bytes, i.width, i.height, i.created_at, i.updated_at"

func scanItem(scanner rowScanner) (*Item, error) {
	var (
		item       Item
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&item.ID,
		&item.Path,
		&item.Format,
		&item.Size,
		&item.Width,
		&item.Height,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		item.UpdatedAt = updated
	}
	return &item, nil
}

// UpsertItem registers path in the catalogue or refreshes its metadata. The
// returned bool is true when the item was newly created.
func (s *Store) UpsertItem(ctx context.Context, item Item) (*Item, bool, error) {
	ctx = ensureContext(ctx)
	path := strings.TrimSpace(item.Path)
	if path == "" {
		return nil, false, errors.New("item path is required")
	}
	format := item.Format
	if format == "" {
		format = "unknown"
	}

	existing, err := s.GetItemByPath(ctx, path)
	if err != nil {
		return nil, false, err
	}
	now := s.timestamp()
	if existing != nil {
		if err := s.execWithoutResultRetry(ctx,
			`UPDATE items SET format = ?, size_bytes = ?, width = ?, height = ?, updated_at = ? WHERE id = ?`,
			format, item.Size, item.Width, item.Height, now, existing.ID,
		); err != nil {
			return nil, false, fmt.Errorf("update item: %w", err)
		}
		updated, err := s.GetItem(ctx, existing.ID)
		return updated, false, err
	}

	res, err := s.execWithRetry(ctx,
		`INSERT INTO items (path, format, size_bytes, width, height, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		path, format, item.Size, item.Width, item.Height, now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("fetch item id: %w", err)
	}
	created, err := s.GetItem(ctx, id)
	return created, true, err
}

// GetItem fetches an item with its variants. It returns nil when absent.
func (s *Store) GetItem(ctx context.Context, id int64) (*Item, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items i WHERE i.id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if item.Variants, err = s.ListVariants(ctx, item.ID); err != nil {
		return nil, err
	}
	return item, nil
}

// GetItemByPath fetches an item by its absolute path. It returns nil when absent.
func (s *Store) GetItemByPath(ctx context.Context, path string) (*Item, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items i WHERE i.path = ?`, path)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item by path: %w", err)
	}
	if item.Variants, err = s.ListVariants(ctx, item.ID); err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateItemSize records the current on-disk size of an item.
func (s *Store) UpdateItemSize(ctx context.Context, id int64, size int64) error {
	return s.execWithoutResultRetry(ctx,
		`UPDATE items SET size_bytes = ?, updated_at = ? WHERE id = ?`,
		size, s.timestamp(), id,
	)
}

// DeleteItem removes an item. Variants, records, backup rows and queue
// entries cascade.
func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	return s.execWithoutResultRetry(ctx, `DELETE FROM items WHERE id = ?`, id)
}

// ItemPaths returns every catalogued item id keyed by path.
func (s *Store) ItemPaths(ctx context.Context) (map[string]int64, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT id, path FROM items`)
	if err != nil {
		return nil, fmt.Errorf("list item paths: %w", err)
	}
	defer rows.Close()
	paths := make(map[string]int64)
	for rows.Next() {
		var (
			id   int64
			path string
		)
		if err := rows.Scan(&id, &path); err != nil {
			return nil, err
		}
		paths[path] = id
	}
	return paths, rows.Err()
}

// ListItems returns items joined with their records, ordered by id.
func (s *Store) ListItems(ctx context.Context, filter ItemFilter, limit, offset int) ([]ItemSummary, error) {
	ctx = ensureContext(ctx)
	where := ""
	switch filter {
	case FilterOptimized:
		where = "WHERE r.optimized = 1"
	case FilterUnoptimized:
		where = "WHERE r.item_id IS NULL OR r.optimized = 0"
	case FilterFailed:
		where = "WHERE r.optimized = 0 AND r.error_message IS NOT NULL"
	}
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + itemColumns + `, ` + recordColumns + `
		FROM items i LEFT JOIN optimization_records r ON r.item_id = i.id
		` + where + ` ORDER BY i.id ASC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, limit, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var summaries []ItemSummary
	for rows.Next() {
		item, record, err := scanItemWithRecord(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, ItemSummary{Item: *item, Record: record})
	}
	return summaries, rows.Err()
}

// ReplaceVariants swaps the stored derived sizes of an item for variants.
func (s *Store) ReplaceVariants(ctx context.Context, itemID int64, variants []Variant) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM item_variants WHERE item_id = ?`, itemID); err != nil {
			return fmt.Errorf("clear variants: %w", err)
		}
		for _, v := range variants {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO item_variants (item_id, label, path, size_bytes) VALUES (?, ?, ?, ?)
				 ON CONFLICT(path) DO UPDATE SET item_id = excluded.item_id, label = excluded.label, size_bytes = excluded.size_bytes`,
				itemID, v.Label, v.Path, v.Size,
			); err != nil {
				return fmt.Errorf("insert variant: %w", err)
			}
		}
		return tx.Commit()
	})
}

// ListVariants returns the derived sizes of an item ordered by label.
func (s *Store) ListVariants(ctx context.Context, itemID int64) ([]Variant, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, label, path, size_bytes FROM item_variants WHERE item_id = ? ORDER BY label, id`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()
	var variants []Variant
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.ItemID, &v.Label, &v.Path, &v.Size); err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

// UpdateVariantSize records the current on-disk size of a variant.
func (s *Store) UpdateVariantSize(ctx context.Context, id int64, size int64) error {
	return s.execWithoutResultRetry(ctx, `UPDATE item_variants SET size_bytes = ? WHERE id = ?`, size, id)
}
