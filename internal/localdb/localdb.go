package localdb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/ichi0g0y/ring-overlay/internal/shared/logger"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// 対応ドライバ名。database/sql に登録される名前と一致する。
const (
	DriverSQLite3  = "sqlite3"  // mattn/go-sqlite3 (cgo)
	DriverSQLite   = "sqlite"   // modernc.org/sqlite (pure Go)
	DriverPostgres = "postgres" // lib/pq
)

// DBClient は SetupDB で開いたプロセス共通のストア。
var DBClient *Store

// Options は SetupDB の接続設定。
type Options struct {
	Driver string
	// Path は SQLite 系ドライバのファイルパス。
	Path string
	// URL は Postgres の接続文字列。
	URL string
}

// Store は database/sql の上に方言の差を吸収したリポジトリ。
type Store struct {
	db     *sql.DB
	driver string
}

func SetupDB(opts Options) (*Store, error) {
	if DBClient != nil {
		return DBClient, nil
	}

	store, err := Open(opts)
	if err != nil {
		return nil, err
	}
	DBClient = store
	return store, nil
}

// Open connects and migrates without touching DBClient.
func Open(opts Options) (*Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite3
	}

	var dsn string
	switch driver {
	case DriverSQLite3:
		// WALモードとBusy Timeoutを設定（Race Condition対策）
		dsn = opts.Path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	case DriverSQLite:
		dsn = opts.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	case DriverPostgres:
		if opts.URL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
		dsn = opts.URL
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver != DriverPostgres {
		// SQLiteは単一ライターなので接続プールを1に制限
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db, driver: driver}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("Database ready", zap.String("driver", driver))
	return store, nil
}

// GetDB は現在のストアを返します
func GetDB() *Store {
	return DBClient
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Driver() string { return s.driver }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	statements := []struct {
		name string
		sql  string
	}{
		{"locations", `CREATE TABLE IF NOT EXISTS locations (
			id TEXT PRIMARY KEY,
			longitude DOUBLE PRECISION NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			radius INTEGER,
			created_at BIGINT NOT NULL
		)`},
		{"location_names", `CREATE TABLE IF NOT EXISTS location_names (
			location_id TEXT NOT NULL REFERENCES locations(id) ON DELETE CASCADE,
			lang TEXT NOT NULL,
			name TEXT NOT NULL,
			PRIMARY KEY (location_id, lang)
		)`},
		{"instances", `CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			location_id TEXT NOT NULL,
			started_at BIGINT NOT NULL,
			finished_at BIGINT
		)`},
		// 1 location につき受付中インスタンスは1つまで
		{"idx_instances_open_location", `CREATE UNIQUE INDEX IF NOT EXISTS idx_instances_open_location
			ON instances(location_id) WHERE finished_at IS NULL`},
		{"idx_instances_started_at", `CREATE INDEX IF NOT EXISTS idx_instances_started_at ON instances(started_at)`},
		{"rings", `CREATE TABLE IF NOT EXISTS rings (
			id TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			owner TEXT NOT NULL,
			slot_index INTEGER NOT NULL,
			hue INTEGER NOT NULL,
			created_at BIGINT NOT NULL,
			CONSTRAINT rings_instance_slot UNIQUE (instance_id, slot_index),
			CONSTRAINT rings_instance_created UNIQUE (instance_id, created_at)
		)`},
		{"volatile_tags", `CREATE TABLE IF NOT EXISTS volatile_tags (
			namespace TEXT PRIMARY KEY,
			tag TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		)`},
	}

	for _, st := range statements {
		if _, err := s.db.Exec(st.sql); err != nil {
			logger.Error("Failed to migrate table", zap.String("table", st.name), zap.Error(err))
			return fmt.Errorf("failed to create %s: %w", st.name, err)
		}
	}
	return nil
}

// rebind は ? プレースホルダを方言に合わせて書き換える。
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate は行ロック句を返す。SQLite は接続単位で直列化されるので不要。
func (s *Store) forUpdate() string {
	if s.driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// withTx は fn をトランザクション内で実行し、一時的なロック競合は再試行する。
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retryOnContention(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}
