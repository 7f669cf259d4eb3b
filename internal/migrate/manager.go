package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"eostre.org/internal/obs"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	// lockKey serializes migrate runs from several replicas ("eostre" in hex).
	lockKey int64 = 0x656f73747265
)

// Entry is one migration and when it was applied. AppliedAt is nil while the
// migration is pending.
type Entry struct {
	Name      string
	AppliedAt *time.Time
}

func (e Entry) String() string {
	if e.AppliedAt == nil {
		return e.Name + "\tpending"
	}
	return e.Name + "\t" + e.AppliedAt.UTC().Format(time.RFC3339)
}

// Manager applies the schema migrations and demo seeds. Every Up, Down and
// Seed runs in a single transaction holding a Postgres advisory lock, so a
// failed file leaves neither schema changes nor bookkeeping behind.
type Manager struct {
	db              *sql.DB
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
	log             *zap.Logger
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// NewManager constructs a Manager. Either file system may be nil.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrations:      migrations,
		seeds:           seeds,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		log:             obs.Named("migrate"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations in name order.
func (m *Manager) Up(ctx context.Context) error {
	return m.apply(ctx, m.migrations, ".up.sql", m.migrationsTable, "migration")
}

// Seed applies seed files that have not run yet.
func (m *Manager) Seed(ctx context.Context) error {
	return m.apply(ctx, m.seeds, ".sql", m.seedsTable, "seed")
}

func (m *Manager) apply(ctx context.Context, fsys fs.FS, suffix, table, kind string) error {
	files, err := collectSQL(fsys, suffix)
	if err != nil {
		return err
	}
	var applied []string
	err = m.locked(ctx, func(tx *sql.Tx) error {
		done, err := m.applied(ctx, tx, table)
		if err != nil {
			return err
		}
		for _, f := range files {
			if _, ok := done[f.Base]; ok {
				continue
			}
			if err := execFile(ctx, tx, fsys, f.Path); err != nil {
				return fmt.Errorf("apply %s %s: %w", kind, f.Base, err)
			}
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table),
				f.Base, time.Now().UTC()); err != nil {
				return err
			}
			applied = append(applied, f.Base)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, name := range applied {
		m.log.Info(kind+" applied", zap.String("name", name))
	}
	if len(applied) == 0 {
		m.log.Info("nothing to apply", zap.String("kind", kind))
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	var last string
	err := m.locked(ctx, func(tx *sql.Tx) error {
		history, err := m.history(ctx, tx)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			return errors.New("no migrations applied")
		}
		last = history[len(history)-1].Name
		down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
		files, err := collectSQL(m.migrations, ".down.sql")
		if err != nil {
			return err
		}
		idx := sort.Search(len(files), func(i int) bool { return files[i].Base >= down })
		if idx == len(files) || files[idx].Base != down {
			return fmt.Errorf("missing down migration for %s", last)
		}
		if err := execFile(ctx, tx, m.migrations, files[idx].Path); err != nil {
			return fmt.Errorf("rollback migration %s: %w", last, err)
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last)
		return err
	})
	if err != nil {
		return err
	}
	m.log.Info("migration rolled back", zap.String("name", last))
	return nil
}

// Status lists applied migrations in the order they ran, followed by the
// pending ones.
func (m *Manager) Status(ctx context.Context) ([]Entry, error) {
	files, err := collectSQL(m.migrations, ".up.sql")
	if err != nil {
		return nil, err
	}
	var out []Entry
	err = m.locked(ctx, func(tx *sql.Tx) error {
		history, err := m.history(ctx, tx)
		if err != nil {
			return err
		}
		seen := make(map[string]struct{}, len(history))
		for _, e := range history {
			seen[e.Name] = struct{}{}
		}
		out = history
		for _, f := range files {
			if _, ok := seen[f.Base]; !ok {
				out = append(out, Entry{Name: f.Base})
			}
		}
		return nil
	})
	return out, err
}

// locked runs fn in a transaction that first takes the migrate advisory lock
// and makes sure the bookkeeping tables exist.
func (m *Manager) locked(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, table)); err != nil {
			return err
		}
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) applied(ctx context.Context, tx *sql.Tx, table string) (map[string]struct{}, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`select name from %s`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = struct{}{}
	}
	return out, rows.Err()
}

func (m *Manager) history(ctx context.Context, tx *sql.Tx) ([]Entry, error) {
	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`select name, applied_at from %s order by applied_at asc, name asc`, m.migrationsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			name string
			at   time.Time
		)
		if err := rows.Scan(&name, &at); err != nil {
			return nil, err
		}
		out = append(out, Entry{Name: name, AppliedAt: &at})
	}
	return out, rows.Err()
}

func execFile(ctx context.Context, tx *sql.Tx, fsys fs.FS, name string) error {
	body, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

type sqlFile struct {
	Base string
	Path string
}

func collectSQL(fsys fs.FS, suffix string) ([]sqlFile, error) {
	if fsys == nil {
		return nil, nil
	}
	var files []sqlFile
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) {
			files = append(files, sqlFile{Base: path.Base(p), Path: p})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Base < files[j].Base })
	return files, nil
}

// splitStatements splits a SQL script on top level semicolons. Quoted
// strings, identifiers, dollar quoted bodies and comments are kept intact;
// comments are dropped from the output and blank statements are skipped.
func splitStatements(script string) []string {
	var (
		stmts []string
		cur   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(script); {
		c := script[i]
		switch {
		case c == '-' && strings.HasPrefix(script[i:], "--"):
			end := strings.IndexByte(script[i:], '\n')
			if end < 0 {
				i = len(script)
			} else {
				i += end + 1
			}
			cur.WriteByte('\n')
		case c == '/' && strings.HasPrefix(script[i:], "/*"):
			end := strings.Index(script[i+2:], "*/")
			if end < 0 {
				i = len(script)
			} else {
				i += end + 4
			}
			cur.WriteByte(' ')
		case c == '\'' || c == '"':
			j := closingQuote(script, i+1, c)
			cur.WriteString(script[i:j])
			i = j
		case c == '$':
			if tag, ok := dollarTag(script[i:]); ok {
				end := strings.Index(script[i+len(tag):], tag)
				j := len(script)
				if end >= 0 {
					j = i + len(tag) + end + len(tag)
				}
				cur.WriteString(script[i:j])
				i = j
				break
			}
			cur.WriteByte(c)
			i++
		case c == ';':
			flush()
			i++
		default:
			cur.WriteByte(c)
			i++
		}
	}
	flush()
	return stmts
}

// closingQuote returns the index just past the quote that closes a literal
// opened before start. A doubled quote is an escape.
func closingQuote(s string, start int, q byte) int {
	for i := start; i < len(s); i++ {
		if s[i] != q {
			continue
		}
		if i+1 < len(s) && s[i+1] == q {
			i++
			continue
		}
		return i + 1
	}
	return len(s)
}

// dollarTag recognises $$ and $name$ openers.
func dollarTag(s string) (string, bool) {
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '$':
			return s[:i+1], true
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > 1 && c >= '0' && c <= '9':
		default:
			return "", false
		}
	}
	return "", false
}
