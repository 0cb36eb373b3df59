// Package snapshot persists live table definitions and a journal of executed
// migration statements in a SQL database. Saved snapshots can stand in for the
// cluster when planning offline.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/koba/cqlsync/internal/database"
	"github.com/koba/cqlsync/internal/schema"
)

// Config holds snapshot store configuration
type Config struct {
	// Driver is sqlite, postgres or mysql.
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

// Snapshot is a saved set of live table definitions.
type Snapshot struct {
	ID        string
	Keyspace  string
	CreatedAt time.Time
	Tables    map[string]*schema.LiveSchema
}

// Store is a snapshot store backed by database/sql.
type Store struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// Open connects to the store and creates its tables.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	driver, err := driverName(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", cfg.Driver, err)
	}
	if driver == "sqlite" {
		// in-memory databases are per connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", cfg.Driver, err)
	}

	s := New(db, driver, logger)
	if err := initializeSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize snapshot schema: %w", err)
	}
	return s, nil
}

// New wraps an open database. The schema is not initialized.
func New(db *sql.DB, driver string, logger *slog.Logger) *Store {
	return &Store{db: db, driver: driver, logger: logger}
}

func driverName(driver string) (string, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return "sqlite", nil
	case "postgres", "postgresql":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported snapshot driver: %s", driver)
	}
}

// Close closes the store
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SetMetadata stores a key/value pair.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM cqlsync_metadata WHERE meta_key = ?"), key); err != nil {
		return fmt.Errorf("failed to delete metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO cqlsync_metadata (meta_key, meta_value) VALUES (?, ?)"), key, value); err != nil {
		return fmt.Errorf("failed to insert metadata: %w", err)
	}
	return tx.Commit()
}

// Metadata returns a stored value.
func (s *Store) Metadata(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT meta_value FROM cqlsync_metadata WHERE meta_key = ?"), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query metadata: %w", err)
	}
	return value, true, nil
}

// CreateSnapshot introspects tables through oracle concurrently and saves
// them as a new snapshot. Tables that do not exist are skipped.
func (s *Store) CreateSnapshot(ctx context.Context, oracle database.SchemaOracle, keyspace string, tables []string) (*Snapshot, error) {
	live := make([]*schema.LiveSchema, len(tables))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, name := range tables {
		g.Go(func() error {
			ls, err := oracle.FetchLiveSchema(gctx, name)
			if err != nil {
				return fmt.Errorf("failed to fetch table %s: %w", name, err)
			}
			live[i] = ls
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ID:        uuid.NewString(),
		Keyspace:  keyspace,
		CreatedAt: time.Now().UTC(),
		Tables:    make(map[string]*schema.LiveSchema, len(tables)),
	}
	for _, ls := range live {
		if ls != nil {
			snap.Tables[ls.Name] = ls
		}
	}
	if err := s.Save(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Save persists snap.
func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		s.rebind("INSERT INTO cqlsync_snapshots (snapshot_id, keyspace_name, created_at) VALUES (?, ?, ?)"),
		snap.ID, snap.Keyspace, snap.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	names := make([]string, 0, len(snap.Tables))
	for name := range snap.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		schemaJSON, err := json.Marshal(snap.Tables[name])
		if err != nil {
			return fmt.Errorf("failed to marshal schema: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			s.rebind("INSERT INTO cqlsync_table_schemas (snapshot_id, table_name, schema_json) VALUES (?, ?, ?)"),
			snap.ID, name, string(schemaJSON),
		)
		if err != nil {
			return fmt.Errorf("failed to insert schema: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.logger.Info("snapshot saved", "id", snap.ID, "tables", len(names))
	return nil
}

// Latest returns the most recent snapshot ID, or "" when none exist.
func (s *Store) Latest(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT snapshot_id FROM cqlsync_snapshots ORDER BY created_at DESC LIMIT 1",
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query snapshots: %w", err)
	}
	return id, nil
}

// Load reads a snapshot.
func (s *Store) Load(ctx context.Context, id string) (*Snapshot, error) {
	snap := &Snapshot{ID: id, Tables: map[string]*schema.LiveSchema{}}

	var created string
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT keyspace_name, created_at FROM cqlsync_snapshots WHERE snapshot_id = ?"), id,
	).Scan(&snap.Keyspace, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot does not exist: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	if snap.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot time: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT table_name, schema_json FROM cqlsync_table_schemas WHERE snapshot_id = ?"), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query table schemas: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tableName, schemaJSON string
		if err := rows.Scan(&tableName, &schemaJSON); err != nil {
			return nil, fmt.Errorf("failed to scan table schema: %w", err)
		}
		var ls schema.LiveSchema
		if err := json.Unmarshal([]byte(schemaJSON), &ls); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
		}
		snap.Tables[tableName] = &ls
	}
	return snap, rows.Err()
}

// FetchLiveSchema lets a loaded snapshot act as a schema oracle.
func (snap *Snapshot) FetchLiveSchema(_ context.Context, table string) (*schema.LiveSchema, error) {
	ls, ok := snap.Tables[table]
	if !ok {
		return nil, nil
	}
	return ls.Clone(), nil
}
