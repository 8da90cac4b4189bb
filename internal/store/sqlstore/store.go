package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"regexp"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/roach88/ndicore/internal/querysql"
	"github.com/roach88/ndicore/internal/store"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Schema version tracking:
// 0 - no schema
// 1 - documents, document_classes, depends_on
const currentSchemaVersion = 1

// SQLiteDriver is the database/sql driver name registered by this package.
// Its connections carry the regexp function used by compiled queries.
const SQLiteDriver = "sqlite3_ndi"

func init() {
	sql.Register(SQLiteDriver, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc(querysql.RegexpFunc, regexpMatch, true)
		},
	})
}

var regexps sync.Map // pattern -> *regexp.Regexp

// regexpMatch reports whether subject matches pattern. Invalid patterns are
// an error, which SQLite surfaces as a failed statement.
func regexpMatch(pattern, subject string) (bool, error) {
	if re, ok := regexps.Load(pattern); ok {
		return re.(*regexp.Regexp).MatchString(subject), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}
	regexps.Store(pattern, re)
	return re.MatchString(subject), nil
}

// Backend stores documents in SQL tables.
type Backend struct {
	db       *sql.DB
	dialect  querysql.Dialect
	compiler *querysql.Compiler
}

var _ store.Backend = (*Backend)(nil)

// Open creates or opens a SQLite database at path and returns a store with
// binaries under binaryRoot. Pragmas and migrations are applied; calling it
// again on the same file is safe.
func Open(path, binaryRoot string, opts ...store.Option) (*store.Store, error) {
	b, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	s, err := store.New(b, binaryRoot, opts...)
	if err != nil {
		b.Close()
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens the SQLite backend alone.
func OpenSQLite(path string) (*Backend, error) {
	db, err := sql.Open(SQLiteDriver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return newBackend(db, querysql.SQLite), nil
}

// OpenPostgres connects to dsn through pgx and returns a store with
// binaries under binaryRoot.
func OpenPostgres(ctx context.Context, dsn, binaryRoot string, opts ...store.Option) (*store.Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := applyPostgresSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	s, err := store.New(newBackend(db, querysql.Postgres), binaryRoot, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func newBackend(db *sql.DB, d querysql.Dialect) *Backend {
	return &Backend{db: db, dialect: d, compiler: querysql.NewCompiler(d)}
}

func (b *Backend) Name() string { return "sql/" + b.dialect.String() }

// DB returns the underlying sql.DB.
func (b *Backend) DB() *sql.DB { return b.db }

// Close closes the database connection.
func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySQLiteSchema creates tables if needed and records the version in
// user_version.
func applySQLiteSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func applyPostgresSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	var version int
	err := db.QueryRowContext(ctx, "SELECT version FROM schema_version").Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		_, err = db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES ($1)", currentSchemaVersion)
		return err
	case err != nil:
		return fmt.Errorf("get schema version: %w", err)
	case version > currentSchemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
func (b *Backend) verifyPragma(name, expected string) error {
	var value string
	if err := b.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
