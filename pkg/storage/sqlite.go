package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"iter"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/ha1tch/olu-graph/pkg/auth"
	"github.com/ha1tch/olu-graph/pkg/models"
	"github.com/ha1tch/olu-graph/pkg/query"
)

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	DBPath       string
	EnableWAL    bool // Write-Ahead Logging for better concurrency
	CacheSize    int  // Page cache size in KB
	BusyTimeout  int  // Milliseconds to wait on locked database
	MaxOpenConns int
}

// DefaultSQLiteConfig returns the settings used by the server
func DefaultSQLiteConfig(dbPath string) SQLiteConfig {
	return SQLiteConfig{
		DBPath:       dbPath,
		EnableWAL:    true,
		CacheSize:    2000, // 2MB
		BusyTimeout:  5000, // 5 seconds
		MaxOpenConns: 8,
	}
}

const schema = `
	CREATE TABLE IF NOT EXISTS statements (
		space TEXT NOT NULL,
		subject TEXT NOT NULL,
		predicate TEXT NOT NULL,
		kind TEXT NOT NULL,
		object TEXT NOT NULL,
		datatype TEXT NOT NULL DEFAULT '',
		lang TEXT NOT NULL DEFAULT '',
		lang_key TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		PRIMARY KEY (space, subject, predicate, kind, object, datatype, lang_key)
	);

	CREATE INDEX IF NOT EXISTS idx_statements_predicate ON statements(space, predicate, object);
	CREATE INDEX IF NOT EXISTS idx_statements_object ON statements(space, object, kind);

	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
`

// OpenSQLite opens the database file and creates the schema. Pragmas are
// passed in the DSN so that every pooled connection gets them.
func OpenSQLite(config SQLiteConfig) (*sql.DB, error) {
	if config.DBPath == "" {
		config.DBPath = "olug.db"
	}

	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", config.BusyTimeout))
	params.Add("_pragma", fmt.Sprintf("cache_size(-%d)", config.CacheSize))
	params.Add("_pragma", "synchronous(NORMAL)")
	if config.EnableWAL {
		params.Add("_pragma", "journal_mode(WAL)")
	}
	params.Add("_txlock", "immediate")

	db, err := sql.Open("sqlite", "file:"+config.DBPath+"?"+params.Encode())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxOpenConns)
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create schema")
	}
	if _, err := db.ExecContext(ctx, "INSERT OR IGNORE INTO schema_version (version) VALUES (1)"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to set schema version")
	}
	return db, nil
}

// SQLiteStore is one statement space inside a SQLite database. Several
// spaces may share a database; rows never cross spaces.
type SQLiteStore struct {
	db             *sql.DB
	space          string
	genidNamespace string
	ownsDB         bool
	now            func() time.Time
}

// SQLiteOption configures a SQLiteStore
type SQLiteOption func(*SQLiteStore)

// WithGenidNamespace sets the namespace blank nodes are skolemized into
func WithGenidNamespace(ns string) SQLiteOption {
	return func(s *SQLiteStore) { s.genidNamespace = ns }
}

// WithOwnedDB makes Close close the database
func WithOwnedDB() SQLiteOption {
	return func(s *SQLiteStore) { s.ownsDB = true }
}

// NewSQLiteStore creates a store for space on an open database
func NewSQLiteStore(db *sql.DB, space string, opts ...SQLiteOption) *SQLiteStore {
	s := &SQLiteStore{
		db:             db,
		space:          space,
		genidNamespace: models.DefaultEntitiesNamespace,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Info returns store information
func (s *SQLiteStore) Info() StoreInfo {
	return StoreInfo{Type: "sqlite", Space: s.space}
}

// Name returns the statement space
func (s *SQLiteStore) Name() string {
	return s.space
}

// Get retrieves an entity and its one-hop neighbourhood
func (s *SQLiteStore) Get(ctx context.Context, id models.IRI) (*models.Entity, error) {
	return materialize(ctx, s, id)
}

// Statements returns the statements matching pattern in insertion order
func (s *SQLiteStore) Statements(ctx context.Context, pattern models.Pattern) ([]models.Statement, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, models.StoreFailure(err, "failed to acquire connection")
	}
	defer conn.Close()

	where := []string{"space = ?"}
	args := []any{s.space}
	if pattern.Subject != "" {
		where = append(where, "subject = ?")
		args = append(args, string(pattern.Subject))
	}
	if pattern.Predicate != "" {
		where = append(where, "predicate = ?")
		args = append(args, string(pattern.Predicate))
	}
	if o := pattern.Object; o != nil {
		where = append(where, "kind = ?", "object = ?", "datatype = ?", "lang_key = ?")
		args = append(args, string(o.Kind), o.Lexical, string(o.Datatype), strings.ToLower(o.Language))
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT subject, predicate, kind, object, datatype, lang
		FROM statements
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY rowid
	`, args...)
	if err != nil {
		return nil, models.StoreFailure(err, "failed to query statements")
	}
	defer rows.Close()

	var out []models.Statement
	for rows.Next() {
		var subject, predicate, kind, object, datatype, lang string
		if err := rows.Scan(&subject, &predicate, &kind, &object, &datatype, &lang); err != nil {
			return nil, models.StoreFailure(err, "failed to scan statement")
		}
		out = append(out, models.NewStatement(models.IRI(subject), models.IRI(predicate), models.Value{
			Kind:     models.ValueKind(kind),
			Lexical:  object,
			Datatype: models.IRI(datatype),
			Language: lang,
		}))
	}
	if err := rows.Err(); err != nil {
		return nil, models.StoreFailure(err, "failed to iterate statements")
	}
	return out, nil
}

// Query evaluates a select query against this space
func (s *SQLiteStore) Query(ctx context.Context, q *query.SelectQuery) iter.Seq2[query.Binding, error] {
	return query.Evaluate(ctx, s, q)
}

// Construct evaluates a construct query against this space
func (s *SQLiteStore) Construct(ctx context.Context, q *query.ConstructQuery) iter.Seq2[models.Statement, error] {
	return query.EvaluateConstruct(ctx, s, q)
}

// Exists checks if a resource has any statement
func (s *SQLiteStore) Exists(ctx context.Context, id models.IRI) (bool, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return false, models.StoreFailure(err, "failed to acquire connection")
	}
	defer conn.Close()

	var one int
	err = conn.QueryRowContext(ctx, `
		SELECT 1 FROM statements WHERE space = ? AND subject = ? LIMIT 1
	`, s.space, string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, models.StoreFailure(err, "failed to check existence")
	}
	return true, nil
}

// Type returns the single rdf:type of id
func (s *SQLiteStore) Type(ctx context.Context, id models.IRI) (models.Value, bool, error) {
	return typeOf(ctx, s, id)
}

// Commit applies removals then additions in one database transaction. A
// removal that matches no row means another writer got there first; the
// whole transaction is rolled back with ErrConcurrentModification.
func (s *SQLiteStore) Commit(ctx context.Context, tx *Transaction, principal auth.Principal) (*Transaction, error) {
	if err := principal.Require(auth.Application); err != nil {
		return nil, err
	}
	if err := tx.begin(); err != nil {
		return nil, err
	}
	if tx.IsEmpty() {
		if err := tx.finalize(principal.Subject, s.now().UTC()); err != nil {
			return nil, err
		}
		return tx, nil
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, models.StoreFailure(err, "failed to acquire connection")
	}
	defer conn.Close()

	sqlTx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, models.StoreFailure(err, "failed to begin transaction")
	}
	defer sqlTx.Rollback()

	for _, st := range tx.Removed() {
		o := st.Object
		result, err := sqlTx.ExecContext(ctx, `
			DELETE FROM statements
			WHERE space = ? AND subject = ? AND predicate = ? AND kind = ? AND object = ? AND datatype = ? AND lang_key = ?
		`, s.space, string(st.Subject), string(st.Predicate), string(o.Kind), o.Lexical, string(o.Datatype), strings.ToLower(o.Language))
		if err != nil {
			return nil, models.StoreFailure(err, "failed to remove statement")
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return nil, models.StoreFailure(err, "failed to read affected rows")
		}
		if rows == 0 {
			return nil, errors.Wrapf(models.ErrConcurrentModification, "statement %s no longer exists", st)
		}
	}

	createdAt := s.now().UTC().Format(time.RFC3339Nano)
	for _, st := range tx.Added() {
		o := st.Object
		_, err := sqlTx.ExecContext(ctx, `
			INSERT OR IGNORE INTO statements (space, subject, predicate, kind, object, datatype, lang, lang_key, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.space, string(st.Subject), string(st.Predicate), string(o.Kind), o.Lexical, string(o.Datatype), o.Language, strings.ToLower(o.Language), createdAt)
		if err != nil {
			return nil, models.StoreFailure(err, "failed to add statement")
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, models.StoreFailure(err, "failed to commit")
	}
	if err := tx.finalize(principal.Subject, s.now().UTC()); err != nil {
		return nil, err
	}
	return tx, nil
}

// Import adds the statements read from r in one commit
func (s *SQLiteStore) Import(ctx context.Context, r io.Reader, mimeType string) (int, error) {
	return importInto(ctx, s, s.genidNamespace, r, mimeType)
}

// Export writes the space as N-Triples
func (s *SQLiteStore) Export(ctx context.Context, w io.Writer) (int, error) {
	return exportFrom(ctx, s, w)
}

// Reset removes every statement of the space
func (s *SQLiteStore) Reset(ctx context.Context) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return models.StoreFailure(err, "failed to acquire connection")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "DELETE FROM statements WHERE space = ?", s.space); err != nil {
		return models.StoreFailure(err, "failed to reset "+s.space)
	}
	return nil
}

// Close closes the database if the store owns it
func (s *SQLiteStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
