package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// MemoryPath opens a private in-memory log. It lives as long as the Store.
const MemoryPath = ":memory:"

// migration upgrades a log created by an older fxq to version.
type migration struct {
	version int
	name    string
	stmt    string
}

// migrations run in order on every Open; each is guarded by user_version.
var migrations = []migration{
	{1, "units parent index", `CREATE INDEX IF NOT EXISTS idx_units_parent ON units(parent_id)`},
	{2, "units path index", `CREATE INDEX IF NOT EXISTS idx_units_path ON units(path, seq)`},
}

// schemaVersion is the user_version of a fully migrated log.
var schemaVersion = migrations[len(migrations)-1].version

// pragma is one connection setting and the value SQLite reports once applied.
type pragma struct {
	name  string
	value string
	want  string
}

var filePragmas = []pragma{
	{"journal_mode", "WAL", "wal"},
	{"synchronous", "NORMAL", "1"},
	{"busy_timeout", "5000", "5000"},
	{"foreign_keys", "ON", "1"},
}

// Store is a compilation log backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the compilation log at path. MemoryPath opens a
// throwaway log for tests and scenario runs. Opening an existing log
// upgrades its schema in place.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection: SQLite has a single writer, and an in-memory
	// database exists only on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	for _, p := range s.pragmas() {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("failed to apply pragmas: PRAGMA %s: %w", p.name, err)
		}
	}
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := s.migrate(); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// pragmas returns the settings for this log. WAL needs a file.
func (s *Store) pragmas() []pragma {
	if s.path != MemoryPath {
		return filePragmas
	}
	var out []pragma
	for _, p := range filePragmas {
		if p.name != "journal_mode" {
			out = append(out, p)
		}
	}
	return out
}

// migrate brings user_version up to schemaVersion.
func (s *Store) migrate() error {
	version, err := s.SchemaVersion()
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if version >= m.version {
			continue
		}
		if _, err := s.db.Exec(m.stmt); err != nil {
			return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
		}
	}
	if version < schemaVersion {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// SchemaVersion reports the log's user_version.
func (s *Store) SchemaVersion() (int, error) {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// checkPragmas reports the first setting that does not hold.
func (s *Store) checkPragmas() error {
	for _, p := range s.pragmas() {
		var got string
		if err := s.db.QueryRow("PRAGMA " + p.name).Scan(&got); err != nil {
			return fmt.Errorf("failed to query %s: %w", p.name, err)
		}
		if got != p.want {
			return fmt.Errorf("%s = %q, expected %q", p.name, got, p.want)
		}
	}
	return nil
}
