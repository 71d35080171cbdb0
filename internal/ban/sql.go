package ban

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"login-gate/internal/db"
)

type SQLStore struct {
	db      *sql.DB
	dialect db.Dialect
	now     Clock
}

func NewSQLStore(database *sql.DB, dialect db.Dialect, clock Clock) *SQLStore {
	if clock == nil {
		clock = SystemClock
	}
	return &SQLStore{db: database, dialect: dialect, now: clock}
}

func (s *SQLStore) Active(ctx context.Context, address string) (bool, error) {
	if address == "" {
		return false, ErrEmptyAddress
	}
	now := s.now().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin ban check tx: %w", err)
	}
	defer tx.Rollback()

	var expiresAt int64
	err = tx.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT expires_at
		FROM gate_bans
		WHERE address = ?
	`), address).Scan(&expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query ban: %w", err)
	}

	if now < expiresAt {
		return true, nil
	}

	// The expiry guard keeps a concurrent re-ban from being evicted.
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`
		DELETE FROM gate_bans
		WHERE address = ? AND expires_at <= ?
	`), address, now); err != nil {
		return false, fmt.Errorf("evict expired ban: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit ban check tx: %w", err)
	}
	return false, nil
}

func (s *SQLStore) Upsert(ctx context.Context, address string, expiresAt time.Time) error {
	if address == "" {
		return ErrEmptyAddress
	}

	if _, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO gate_bans (address, expires_at, banned_at)
		VALUES (?, ?, ?)
		ON CONFLICT (address) DO UPDATE
		SET expires_at = excluded.expires_at, banned_at = excluded.banned_at
	`), address, expiresAt.UnixNano(), s.now().UnixNano()); err != nil {
		return fmt.Errorf("upsert ban: %w", err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`
		SELECT address, expires_at
		FROM gate_bans
		WHERE expires_at > ?
		ORDER BY expires_at ASC
	`), s.now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("list bans: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var record Record
		var expiresAt int64
		if err := rows.Scan(&record.Address, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		record.ExpiresAt = time.Unix(0, expiresAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bans: %w", err)
	}
	return records, nil
}

func (s *SQLStore) Delete(ctx context.Context, address string) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM gate_bans WHERE address = ?`), address)
	if err != nil {
		return false, fmt.Errorf("delete ban: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete ban rows affected: %w", err)
	}
	return affected > 0, nil
}
