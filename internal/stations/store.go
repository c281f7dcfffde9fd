package stations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store is the SQLite-backed station registry.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the registry database at path and applies
// migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup returns the station with the given id, or ErrNotFound.
func (s *Store) Lookup(ctx context.Context, id int64) (Station, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, export_path FROM stations WHERE id = ?`, id)
	st, err := scanStation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Station{}, fmt.Errorf("station %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Station{}, fmt.Errorf("lookup station: %w", err)
	}
	return st, nil
}

// List returns every station ordered by name.
func (s *Store) List(ctx context.Context) ([]Station, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, export_path FROM stations ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	defer rows.Close()

	var out []Station
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	return out, nil
}

// Replace makes the registry hold exactly list. Stations missing from list
// are removed. An empty ExportPath in list keeps the locally configured path.
func (s *Store) Replace(ctx context.Context, list []Station) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	ids := make([]any, 0, len(list))
	for _, st := range list {
		ids = append(ids, st.ID)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stations (id, name, export_path, updated_at) VALUES (?, ?, ?, ?)
             ON CONFLICT(id) DO UPDATE SET
                 name = excluded.name,
                 export_path = COALESCE(excluded.export_path, stations.export_path),
                 updated_at = excluded.updated_at`,
			st.ID, st.Name, nullableString(st.ExportPath), now,
		); err != nil {
			return fmt.Errorf("upsert station %d: %w", st.ID, err)
		}
	}

	del := `DELETE FROM stations`
	if len(ids) > 0 {
		del += ` WHERE id NOT IN (` + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + `)`
	}
	if _, err := tx.ExecContext(ctx, del, ids...); err != nil {
		return fmt.Errorf("remove stale stations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// SetExportPath sets or, with an empty path, clears the export directory of
// a station.
func (s *Store) SetExportPath(ctx context.Context, id int64, path string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE stations SET export_path = ?, updated_at = ? WHERE id = ?`,
		nullableString(path), time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("set export path: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set export path: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("station %d: %w", id, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStation(row scanner) (Station, error) {
	var (
		st   Station
		path sql.NullString
	)
	if err := row.Scan(&st.ID, &st.Name, &path); err != nil {
		return Station{}, err
	}
	st.ExportPath = path.String
	return st, nil
}

func nullableString(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func (s *Store) applyMigrations(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		if count > 0 {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}
