// Package localstore provides the crash-durable local persistence substrate:
// indexed entity collections, the pending sync queue, the dead-letter
// collection, and whole-domain snapshot blobs, all behind one embedded SQLite
// database.
//
// The database runs in embedded mode using WAL so a put that returns success
// is recoverable after abrupt process termination. Records are stored as JSON
// documents; secondary indexes are expression indexes over json_extract.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a record id is absent from a collection.
var ErrNotFound = errors.New("localstore: record not found")

// Collection names for the entity mirrors. The sync queue, dead letter, and
// domain snapshots live in dedicated tables, not collections.
const (
	CollectionMeals         = "meals"
	CollectionCookingLog    = "cooking_log"
	CollectionShoppingTrips = "shopping_trips"
	CollectionPrices        = "ingredient_prices"
)

// IndexDef declares a secondary index over a JSON field of the record body.
type IndexDef struct {
	Name     string
	JSONPath string // e.g. "$.meal_code"
}

// CollectionDef declares a named collection and its secondary indexes.
type CollectionDef struct {
	Name    string
	Indexes []IndexDef
}

// DefaultSchema returns the collections used by the sync core. Adding a
// collection or index here is picked up by Migrate without touching existing
// data.
func DefaultSchema() []CollectionDef {
	return []CollectionDef{
		{Name: CollectionMeals},
		{Name: CollectionCookingLog, Indexes: []IndexDef{
			{Name: "meal_code", JSONPath: "$.meal_code"},
			{Name: "date", JSONPath: "$.date"},
		}},
		{Name: CollectionShoppingTrips, Indexes: []IndexDef{
			{Name: "date", JSONPath: "$.date"},
		}},
		{Name: CollectionPrices, Indexes: []IndexDef{
			{Name: "preferred_store", JSONPath: "$.preferred_store"},
		}},
	}
}

// Store wraps the embedded SQLite database.
type Store struct {
	conn        *sql.DB
	path        string
	logger      *log.Logger
	collections map[string]bool
}

// Open creates (or reopens) the database at path and applies the base schema.
// Collection tables are created by Migrate. The caller must Close when done.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[localstore] ", log.LstdFlags)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:        conn,
		path:        path,
		logger:      logger,
		collections: make(map[string]bool),
	}

	// WAL gives crash durability for committed writes plus concurrent reads.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := s.initBaseSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// initBaseSchema creates the queue, dead-letter, and domain-snapshot tables.
// Idempotent.
func (s *Store) initBaseSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target_table TEXT NOT NULL,
		action TEXT NOT NULL,
		payload TEXT NOT NULL,
		enqueued_at TEXT NOT NULL,
		retries INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_enqueued ON sync_queue(enqueued_at, id);

	CREATE TABLE IF NOT EXISTS dead_letter (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		queue_id INTEGER NOT NULL,
		target_table TEXT NOT NULL,
		action TEXT NOT NULL,
		payload TEXT NOT NULL,
		enqueued_at TEXT NOT NULL,
		retries INTEGER NOT NULL,
		dropped_at TEXT NOT NULL,
		reason TEXT
	);

	CREATE TABLE IF NOT EXISTS domains (
		name TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		saved_at TEXT NOT NULL
	);
	`
	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize base schema: %w", err)
	}
	return nil
}

// Migrate creates the given collections and their indexes. Safe to call
// multiple times; existing collections and their data are untouched.
func (s *Store) Migrate(ctx context.Context, defs []CollectionDef) error {
	for _, def := range defs {
		table := collectionTable(def.Name)
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`, table)
		if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", def.Name, err)
		}

		for _, idx := range def.Indexes {
			stmt := fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (json_extract(data, '%s'))",
				def.Name, idx.Name, table, idx.JSONPath,
			)
			if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create index %s on %s: %w", idx.Name, def.Name, err)
			}
		}
		s.collections[def.Name] = true
	}
	return nil
}

func collectionTable(name string) string {
	return "c_" + name
}

func (s *Store) checkCollection(name string) error {
	if !s.collections[name] {
		return fmt.Errorf("unknown collection %q", name)
	}
	return nil
}

// Put inserts or replaces the record with the given id. The record is stored
// as its JSON encoding.
func (s *Store) Put(ctx context.Context, collection, id string, record any) error {
	if err := s.checkCollection(collection); err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s/%s: %w", collection, id, err)
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (id, data, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, collectionTable(collection))

	_, err = s.conn.ExecContext(ctx, query, id, string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", collection, id, err)
	}
	return nil
}

// Get decodes the record with the given id into out.
// Returns ErrNotFound if the id is absent.
func (s *Store) Get(ctx context.Context, collection, id string, out any) error {
	if err := s.checkCollection(collection); err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT data FROM %s WHERE id = ?", collectionTable(collection))

	var data string
	err := s.conn.QueryRowContext(ctx, query, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", collection, id, err)
	}
	return nil
}

// GetAll returns the raw JSON bodies of every record in the collection,
// ordered by id.
func (s *Store) GetAll(ctx context.Context, collection string) ([]json.RawMessage, error) {
	if err := s.checkCollection(collection); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT data FROM %s ORDER BY id", collectionTable(collection))
	return s.queryRaw(ctx, query)
}

// FindBy returns the records whose indexed JSON field equals value.
func (s *Store) FindBy(ctx context.Context, collection, jsonPath, value string) ([]json.RawMessage, error) {
	if err := s.checkCollection(collection); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT data FROM %s WHERE json_extract(data, '%s') = ? ORDER BY id",
		collectionTable(collection), jsonPath,
	)
	return s.queryRaw(ctx, query, value)
}

func (s *Store) queryRaw(ctx context.Context, query string, args ...any) ([]json.RawMessage, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, json.RawMessage(data))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return out, nil
}

// Delete removes the record with the given id. Idempotent.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := s.checkCollection(collection); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", collectionTable(collection))
	if _, err := s.conn.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Clear removes every record in the collection.
func (s *Store) Clear(ctx context.Context, collection string) error {
	if err := s.checkCollection(collection); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s", collectionTable(collection))
	if _, err := s.conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to clear %s: %w", collection, err)
	}
	return nil
}

// Count returns the number of records in the collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	if err := s.checkCollection(collection); err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", collectionTable(collection))
	var n int
	if err := s.conn.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return n, nil
}
