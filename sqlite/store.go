// Package sqlite provides a SQLite-backed attribute store: durable scene and
// token flags plus world settings.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/phanxgames/cinema"
	"github.com/phanxgames/cinema/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store implements cinema.FlagStore and cinema.SettingsStore.
type Store struct {
	sqlDB *sql.DB
}

var (
	_ cinema.FlagStore     = (*Store)(nil)
	_ cinema.SettingsStore = (*Store)(nil)
)

func nowMillis() int64 { return time.Now().UTC().UnixMilli() }

// Open opens the database at path and applies the embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetFlag returns the stored JSON value of key on ref.
func (s *Store) GetFlag(ctx context.Context, ref cinema.EntityRef, key string) (json.RawMessage, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var value string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT value FROM flags WHERE entity_kind = ? AND entity_id = ? AND key = ?`,
		string(ref.Kind), ref.ID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get flag %s %s: %w", ref, key, err)
	}
	return json.RawMessage(value), true, nil
}

// SetFlag stores value, JSON-encoded, as key on ref.
func (s *Store) SetFlag(ctx context.Context, ref cinema.EntityRef, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode flag %s %s: %w", ref, key, err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO flags (entity_kind, entity_id, key, value, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (entity_kind, entity_id, key) DO UPDATE SET
		   value = excluded.value,
		   updated_at = excluded.updated_at`,
		string(ref.Kind), ref.ID, key, string(raw), nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("set flag %s %s: %w", ref, key, err)
	}
	return nil
}

// UnsetFlag deletes key on ref. Deleting a missing key is not an error.
func (s *Store) UnsetFlag(ctx context.Context, ref cinema.EntityRef, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM flags WHERE entity_kind = ? AND entity_id = ? AND key = ?`,
		string(ref.Kind), ref.ID, key,
	)
	if err != nil {
		return fmt.Errorf("unset flag %s %s: %w", ref, key, err)
	}
	return nil
}

// Snapshot returns every stored flag as a change record, scene flags first.
func (s *Store) Snapshot(ctx context.Context) ([]cinema.FlagChange, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT entity_kind, entity_id, key, value FROM flags
		 ORDER BY entity_kind = 'scene' DESC, entity_kind, entity_id, key`)
	if err != nil {
		return nil, fmt.Errorf("snapshot flags: %w", err)
	}
	defer rows.Close()

	var out []cinema.FlagChange
	for rows.Next() {
		var kind, id, key, value string
		if err := rows.Scan(&kind, &id, &key, &value); err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}
		out = append(out, cinema.FlagChange{
			Entity: cinema.EntityRef{Kind: cinema.EntityKind(kind), ID: id},
			Key:    key,
			Value:  json.RawMessage(value),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flags: %w", err)
	}
	return out, nil
}

// Register declares a setting with its default. A stored value survives
// re-registration; the default is replaced.
func (s *Store) Register(namespace, key string, def any) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode default %s.%s: %w", namespace, key, err)
	}
	_, err = s.sqlDB.Exec(
		`INSERT INTO settings (namespace, key, default_value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET
		   default_value = excluded.default_value`,
		namespace, key, string(raw), nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("register setting %s.%s: %w", namespace, key, err)
	}
	return nil
}

// Get decodes the stored value of a setting, or its default, into dst.
func (s *Store) Get(ctx context.Context, namespace, key string, dst any) error {
	var def string
	var value sql.NullString
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT default_value, value FROM settings WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&def, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s.%s", cinema.ErrSettingNotRegistered, namespace, key)
	}
	if err != nil {
		return fmt.Errorf("get setting %s.%s: %w", namespace, key, err)
	}
	raw := def
	if value.Valid {
		raw = value.String
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode setting %s.%s: %w", namespace, key, err)
	}
	return nil
}

// Set stores the value of a registered setting.
func (s *Store) Set(ctx context.Context, namespace, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s.%s: %w", namespace, key, err)
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE settings SET value = ?, updated_at = ? WHERE namespace = ? AND key = ?`,
		string(raw), nowMillis(), namespace, key,
	)
	if err != nil {
		return fmt.Errorf("set setting %s.%s: %w", namespace, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set setting %s.%s: %w", namespace, key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s.%s", cinema.ErrSettingNotRegistered, namespace, key)
	}
	return nil
}
