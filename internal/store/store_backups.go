package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SaveBackup records the backup location of an item. An existing row is kept,
// so the first backup of an item wins.
func (s *Store) SaveBackup(ctx context.Context, itemID int64, path string) error {
	return s.execWithoutResultRetry(ctx,
		`INSERT INTO backups (item_id, backup_path, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(item_id) DO NOTHING`,
		itemID, path, s.timestamp(),
	)
}

// GetBackup returns the backup row of an item, or nil when none exists.
func (s *Store) GetBackup(ctx context.Context, itemID int64) (*Backup, error) {
	ctx = ensureContext(ctx)
	var (
		backup     Backup
		createdRaw string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT item_id, backup_path, created_at FROM backups WHERE item_id = ?`, itemID,
	).Scan(&backup.ItemID, &backup.Path, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backup: %w", err)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		backup.CreatedAt = created
	}
	return &backup, nil
}

// DeleteBackupByPath removes the row pointing at a backup file.
func (s *Store) DeleteBackupByPath(ctx context.Context, path string) error {
	return s.execWithoutResultRetry(ctx, `DELETE FROM backups WHERE backup_path = ?`, path)
}

// CountBackups returns the number of backup rows.
func (s *Store) CountBackups(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM backups`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count backups: %w", err)
	}
	return count, nil
}
