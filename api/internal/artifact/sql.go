package artifact

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	_ "modernc.org/sqlite"

	"media-relay/api/internal/media"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Dialect selects placeholder syntax and the migration set.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// SQLStore keeps artifacts (bytes included) in a single SQL table.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var (
	_ Store  = (*SQLStore)(nil)
	_ Purger = (*SQLStore)(nil)
)

// OpenPostgres connects through the pgx stdlib driver and applies migrations.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	// пул под небольшую нагрузку бота
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(1 * time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}
	return newSQLStore(ctx, db, Postgres)
}

// OpenSQLite opens (or creates) relay.db in dataDir.
// Pass ":memory:" for an in-memory database (used by tests).
func OpenSQLite(ctx context.Context, dataDir string) (*SQLStore, error) {
	dsn := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "relay.db")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// single connection: avoids "database is locked" and keeps :memory: alive
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	return newSQLStore(ctx, db, SQLite)
}

func newSQLStore(ctx context.Context, db *sql.DB, d Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// Ping is used by the /healthz handlers.
func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

var rePlaceholder = regexp.MustCompile(`\$\d+`)

// q rewrites $N placeholders for dialects that only take "?".
func (s *SQLStore) q(query string) string {
	if s.dialect == SQLite {
		return rePlaceholder.ReplaceAllString(query, "?")
	}
	return query
}

func (s *SQLStore) Put(ctx context.Context, kind media.Kind, owner media.UserID, data []byte) (media.ArtifactID, error) {
	if !kind.Valid() {
		return "", ErrUnknownKind
	}
	id := newID()
	const q = `insert into artifacts (id, kind, owner, data, created_at) values ($1,$2,$3,$4,$5)`
	_, err := s.db.ExecContext(ctx, s.q(q), string(id), kind.String(), int64(owner), cloneBytes(data), s.now().UTC().UnixMicro())
	if err != nil {
		return "", fmt.Errorf("insert artifact: %w", err)
	}
	return id, nil
}

func (s *SQLStore) Get(ctx context.Context, id media.ArtifactID) (media.Artifact, bool, error) {
	const q = `select kind, owner, data, created_at from artifacts where id = $1`
	var (
		kind    string
		owner   int64
		data    []byte
		created int64
	)
	err := s.db.QueryRowContext(ctx, s.q(q), string(id)).Scan(&kind, &owner, &data, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return media.Artifact{}, false, nil
	}
	if err != nil {
		return media.Artifact{}, false, fmt.Errorf("select artifact: %w", err)
	}
	k, ok := media.ParseKind(kind)
	if !ok {
		return media.Artifact{}, false, fmt.Errorf("artifact %s: stored kind %q: %w", id, kind, ErrUnknownKind)
	}
	if data == nil {
		data = []byte{}
	}
	return media.Artifact{
		ID:        id,
		Kind:      k,
		Owner:     media.UserID(owner),
		Data:      data,
		CreatedAt: time.UnixMicro(created).UTC(),
	}, true, nil
}

// PurgeOlderThan удаляет старые артефакты, чтобы не раздувать БД.
func (s *SQLStore) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if err := checkPurgeAge(olderThan); err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-olderThan).UTC().UnixMicro()
	res, err := s.db.ExecContext(ctx, s.q(`delete from artifacts where created_at < $1`), cutoff)
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}

// migrate applies embedded migrations for the store's dialect that have not
// been recorded in schema_version yet.
func (s *SQLStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `create table if not exists schema_version (
		version integer primary key,
		applied_at bigint not null
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	dir := "migrations/" + string(s.dialect)
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRowContext(ctx, s.q(`select count(*) from schema_version where version = $1`), version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(dir + "/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`insert into schema_version (version, applied_at) values ($1, $2)`), version, s.now().Unix()); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// parseMigrationVersion extracts N from "NNN_description.sql".
func parseMigrationVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("migration %s: missing version prefix", name)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, fmt.Errorf("migration %s: bad version: %w", name, err)
	}
	return v, nil
}
