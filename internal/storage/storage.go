package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"k8s.io/apimachinery/pkg/types"

	"github.com/helmcloud/release-watch/internal/podstatus"
)

// Storage keeps the last observed status of each pod in SQLite so that a
// restarted process does not report an already known failure again.
type Storage struct {
	db  *sql.DB
	now func() time.Time
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{db: db, now: time.Now}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *Storage) migrate() error {
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) LastStatus(ctx context.Context, pod types.NamespacedName) (podstatus.FlatStatus, bool, error) {
	var status podstatus.FlatStatus
	err := s.db.QueryRowContext(ctx,
		"SELECT phase, reason FROM pod_statuses WHERE namespace = ? AND name = ?",
		pod.Namespace, pod.Name,
	).Scan(&status.Phase, &status.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return podstatus.FlatStatus{}, false, nil
	}
	if err != nil {
		return podstatus.FlatStatus{}, false, fmt.Errorf("failed to query pod status: %w", err)
	}
	return status, true, nil
}

func (s *Storage) RecordStatus(ctx context.Context, pod types.NamespacedName, status podstatus.FlatStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pod_statuses (namespace, name, phase, reason, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (namespace, name) DO UPDATE SET
			phase = excluded.phase,
			reason = excluded.reason,
			updated_at = excluded.updated_at`,
		pod.Namespace, pod.Name, status.Phase, status.Reason, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save pod status: %w", err)
	}
	return nil
}

// CleanupOldStatuses drops pods that have not been observed for retention.
func (s *Storage) CleanupOldStatuses(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-retention)
	result, err := s.db.ExecContext(ctx, "DELETE FROM pod_statuses WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old pod statuses: %w", err)
	}
	return result.RowsAffected()
}
