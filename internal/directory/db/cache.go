// Package db provides the SQLite directory cache.
//
// This package implements the relational cache that mirrors the concrexit
// member directory. It owns three tables:
//
//   - users_concrexit: uid, displayname, token
//   - groups_concrexit: gid, name
//   - groups_memberships_concrexit: uid, gid, manual
//
// The database runs in WAL mode so readers never block on the reconciler.
// Writes go through a dedicated single-connection pool with immediate
// transactions; reads use a separate pool. A reconciliation pass runs inside
// one write transaction, so concurrent readers observe either the state before
// the pass or the state after it, never a half-applied pass.
//
// Workflow:
//  1. The reconcilers fetch a remote snapshot
//  2. The snapshot is diffed and applied inside WithTx
//  3. The query layer reads through the read pool at any time
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"
)

const (
	usersTable       = "users_concrexit"
	groupsTable      = "groups_concrexit"
	membershipsTable = "groups_memberships_concrexit"
)

// Config holds optional settings for OpenWithConfig.
type Config struct {
	// ReadConns is the size of the read pool (0 = 4).
	ReadConns int

	// BusyTimeout is how long a connection waits on a locked database.
	BusyTimeout time.Duration

	// Logger receives migration and maintenance output.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ReadConns:   4,
		BusyTimeout: 5 * time.Second,
		Logger:      zap.NewNop(),
	}
}

// DB is the directory cache.
type DB struct {
	write  *sql.DB
	read   *sql.DB
	path   string
	logger *zap.Logger
	closed atomic.Bool
}

// Open opens the cache at path with default settings, creating the file if needed.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	cache, err := db.Open(".cxdir/cache.db")
//	if err != nil {
//	    return err
//	}
//	defer cache.Close()
//	if err := cache.InitSchema(); err != nil {
//	    return err
//	}
func Open(path string) (*DB, error) {
	return OpenWithConfig(path, DefaultConfig())
}

// OpenWithConfig opens the cache with custom settings.
func OpenWithConfig(path string, config *Config) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("cache path cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.ReadConns <= 0 {
		config.ReadConns = 4
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	write, err := openPool(path, "write", config)
	if err != nil {
		return nil, err
	}

	read, err := openPool(path, "read", config)
	if err != nil {
		_ = write.Close()
		return nil, err
	}

	return &DB{
		write:  write,
		read:   read,
		path:   path,
		logger: logger.Named("cache"),
	}, nil
}

// buildDSN returns a file: URI carrying the per-connection pragmas.
// Pragmas in the DSN apply to every pooled connection, not only the first.
func buildDSN(path, mode string, busyTimeout time.Duration) string {
	params := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeout.Milliseconds()),
		"_pragma=foreign_keys(1)",
		"_pragma=journal_mode(wal)",
		"_pragma=synchronous(normal)",
	}
	if mode == "write" {
		params = append(params, "_txlock=immediate")
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}

func openPool(path, mode string, config *Config) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", buildDSN(path, mode, config.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache (%s): %w", mode, err)
	}

	switch mode {
	case "write":
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	default:
		conn.SetMaxOpenConns(config.ReadConns)
		conn.SetMaxIdleConns(config.ReadConns)
	}
	conn.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache (%s): %w", mode, err)
	}

	return conn, nil
}

// Path returns the cache file location.
func (db *DB) Path() string {
	return db.path
}

// ReadDB returns the read pool.
// This is useful for integrating with other libraries that expect *sql.DB.
func (db *DB) ReadDB() *sql.DB {
	return db.read
}

// Close closes both pools.
// Performs a WAL checkpoint to ensure all changes are persisted.
// Calls after the first are no-ops; queries on a closed cache return a StoreError.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}

	if _, err := db.write.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.logger.Warn("failed to checkpoint WAL", zap.Error(err))
	}

	readErr := db.read.Close()
	writeErr := db.write.Close()

	if writeErr != nil {
		return fmt.Errorf("failed to close cache: %w", writeErr)
	}
	if readErr != nil {
		return fmt.Errorf("failed to close cache: %w", readErr)
	}
	return nil
}

// InitSchema applies all pending migrations. This is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext applies all pending migrations with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	if err := runMigrations(ctx, db.write, db.logger); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// WithTx runs fn inside a single write transaction.
//
// The transaction commits when fn returns nil and rolls back otherwise.
// Only one write transaction is open at any time.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	if db.closed.Load() {
		return storeErr("begin transaction", ErrClosed)
	}
	sqlTx, err := db.write.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return storeErr("commit transaction", err)
	}
	return nil
}

// Stats summarises the cache contents.
type Stats struct {
	Users             int `json:"users" yaml:"users"`
	Groups            int `json:"groups" yaml:"groups"`
	Memberships       int `json:"memberships" yaml:"memberships"`
	ManualMemberships int `json:"manual_memberships" yaml:"manual_memberships"`
}

// GetStats counts the rows of every table.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	query := `
	SELECT
		(SELECT COUNT(*) FROM ` + usersTable + `),
		(SELECT COUNT(*) FROM ` + groupsTable + `),
		(SELECT COUNT(*) FROM ` + membershipsTable + `),
		(SELECT COUNT(*) FROM ` + membershipsTable + ` WHERE manual = 1)
	`

	var stats Stats
	err := db.read.QueryRowContext(ctx, query).Scan(
		&stats.Users,
		&stats.Groups,
		&stats.Memberships,
		&stats.ManualMemberships,
	)
	if err != nil {
		return nil, storeErr("get cache stats", err)
	}
	return &stats, nil
}

// SearchFilter configures listing queries.
type SearchFilter struct {
	// Search is a case-insensitive substring filter (empty = all)
	Search string
	// Limit restricts the number of results (0 or negative = no limit)
	Limit int
	// Offset skips the first N results (for pagination)
	Offset int
}

// likePattern escapes LIKE wildcards in s and wraps it for substring matching.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// paginate appends LIMIT/OFFSET clauses for the filter.
func paginate(query string, args []interface{}, f SearchFilter) (string, []interface{}) {
	switch {
	case f.Limit > 0:
		query += " LIMIT ?"
		args = append(args, f.Limit)
	case f.Offset > 0:
		query += " LIMIT -1"
	}

	if f.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, f.Offset)
	}
	return query, args
}

// scanStrings collects a single string column.
func scanStrings(rows *sql.Rows, op string) ([]string, error) {
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, storeErr(op, err)
		}
		values = append(values, v)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return values, nil
}

// count runs a COUNT query and returns the result.
func count(ctx context.Context, q querier, op, query string, args ...interface{}) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, storeErr(op, err)
	}
	return n, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}
