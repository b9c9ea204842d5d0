// Package sqlite provides a store.Adapter over SQLite. Entities are stored
// as JSON documents in a two-column table (id, doc), and filters are
// translated to json_extract expressions.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iancoleman/strcase"
	"github.com/mattn/go-sqlite3"

	"github.com/jacentio/strata/store"
)

// driverName is go-sqlite3 with a REGEXP function registered.
const driverName = "sqlite3_strata"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("regexp", regexpMatch, true)
		},
	})
}

// regexpMatch backs "x REGEXP pattern". Non-text values never match.
func regexpMatch(pattern string, v any) (bool, error) {
	s, ok := v.(string)
	if !ok {
		return false, nil
	}
	return regexp.MatchString(pattern, s)
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Config holds configuration for the Adapter.
type Config struct {
	// DSN is passed to the driver, e.g. "file:data.db?_busy_timeout=5000".
	DSN string

	// Table is converted to snake_case.
	// Default: "entities"
	Table string

	// IDField is the entity field stored in the key column.
	// Default: "id"
	IDField string

	// Debug logs every statement at debug level.
	Debug  bool
	Logger *slog.Logger
}

// Adapter implements store.Adapter on database/sql.
type Adapter struct {
	config Config
	table  string
	tr     translator
	logger *sqlLogger

	mu sync.RWMutex
	db *sql.DB
}

// New creates a new, unconnected Adapter.
func New(config Config) (*Adapter, error) {
	if config.Table == "" {
		config.Table = "entities"
	}
	if config.IDField == "" {
		config.IDField = "id"
	}
	table := strcase.ToSnake(config.Table)
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("sqlite: invalid table name %q", config.Table)
	}
	return &Adapter{
		config: config,
		table:  table,
		tr:     translator{idField: config.IDField},
		logger: newSQLLogger(config.Debug, config.Logger),
	}, nil
}

// Table returns the resolved table name.
func (a *Adapter) Table() string { return a.table }

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Connect opens the database and creates the table.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		return nil
	}

	db, err := sql.Open(driverName, a.config.DSN)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	// Every pooled connection to :memory: would open its own database.
	if strings.Contains(a.config.DSN, ":memory:") || strings.Contains(a.config.DSN, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (id TEXT PRIMARY KEY, doc TEXT NOT NULL)`, a.table)
	if _, err := a.loggedExecContext(ctx, db, ddl); err != nil {
		db.Close()
		return fmt.Errorf("create table %s: %w", a.table, err)
	}
	a.db = db
	return nil
}

// Disconnect closes the database.
func (a *Adapter) Disconnect(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *Adapter) conn() (*sql.DB, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.db == nil {
		return nil, store.ErrNotConnected
	}
	return a.db, nil
}

// Find returns the entities matching q.
func (a *Adapter) Find(ctx context.Context, q *store.Query) ([]store.Entity, error) {
	db, err := a.conn()
	if err != nil {
		return nil, err
	}
	query, args, err := a.selectSQL(q)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := a.loggedQueryContext(ctx, db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []store.Entity
	for rows.Next() {
		doc, err := scanDoc(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	a.logger.logQuery(ctx, query, args, time.Since(start), len(docs))
	return docs, nil
}

// FindOne returns the first matching entity in insertion order, or nil.
func (a *Adapter) FindOne(ctx context.Context, filter store.Filter) (store.Entity, error) {
	docs, err := a.Find(ctx, &store.Query{Filter: filter, Limit: 1})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// FindStream returns a cursor reading rows as they are pulled.
func (a *Adapter) FindStream(ctx context.Context, q *store.Query) (store.Cursor, error) {
	db, err := a.conn()
	if err != nil {
		return nil, err
	}
	query, args, err := a.selectSQL(q)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := a.loggedQueryContext(ctx, db, query, args...)
	if err != nil {
		return nil, err
	}
	a.logger.logQuery(ctx, query, args, time.Since(start), -1)
	return &rowsCursor{rows: rows}, nil
}

// Count returns the number of entities matching q, ignoring pagination.
func (a *Adapter) Count(ctx context.Context, q *store.Query) (int64, error) {
	db, err := a.conn()
	if err != nil {
		return 0, err
	}
	where, args, err := a.whereSQL(q)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %q%s", a.table, where)

	start := time.Now()
	rows, err := a.loggedQueryContext(ctx, db, query, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("scan count: %w", err)
		}
	}
	a.logger.logQuery(ctx, query, args, time.Since(start), 1)
	return n, rows.Err()
}

// Insert stores e, generating a UUID id when missing.
func (a *Adapter) Insert(ctx context.Context, e store.Entity) (store.Entity, error) {
	docs, err := a.InsertMany(ctx, []store.Entity{e})
	if err != nil {
		return nil, err
	}
	return docs[0], nil
}

// InsertMany stores es in one transaction.
func (a *Adapter) InsertMany(ctx context.Context, es []store.Entity) ([]store.Entity, error) {
	out := make([]store.Entity, len(es))
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		query := fmt.Sprintf("INSERT INTO %q (id, doc) VALUES (?, ?)", a.table)
		for i, e := range es {
			doc := e.Clone()
			if doc == nil {
				doc = store.Entity{}
			}
			if id, ok := doc[a.config.IDField]; !ok || id == nil || id == "" {
				doc[a.config.IDField] = uuid.NewString()
			}
			b, norm, err := encode(doc)
			if err != nil {
				return err
			}
			if _, err := a.loggedExecContext(ctx, tx, query, fmt.Sprint(doc[a.config.IDField]), b); err != nil {
				return constraintErr(err, doc[a.config.IDField])
			}
			out[i] = norm
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateByID merges patch into the stored entity.
func (a *Adapter) UpdateByID(ctx context.Context, id any, patch store.Entity) (store.Entity, error) {
	return a.write(ctx, id, func(old store.Entity) store.Entity {
		for k, v := range patch {
			if k != a.config.IDField {
				old[k] = v
			}
		}
		return old
	})
}

// ReplaceByID overwrites the stored entity, keeping its id.
func (a *Adapter) ReplaceByID(ctx context.Context, id any, e store.Entity) (store.Entity, error) {
	return a.write(ctx, id, func(old store.Entity) store.Entity {
		doc := e.Clone()
		if doc == nil {
			doc = store.Entity{}
		}
		doc[a.config.IDField] = old[a.config.IDField]
		return doc
	})
}

func (a *Adapter) write(ctx context.Context, id any, fn func(old store.Entity) store.Entity) (store.Entity, error) {
	var out store.Entity
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		old, err := a.load(ctx, tx, id)
		if err != nil {
			return err
		}
		b, norm, err := encode(fn(old))
		if err != nil {
			return err
		}
		query := fmt.Sprintf("UPDATE %q SET doc = ? WHERE id = ?", a.table)
		if _, err := a.loggedExecContext(ctx, tx, query, b, fmt.Sprint(id)); err != nil {
			return constraintErr(err, id)
		}
		out = norm
		return nil
	})
	return out, err
}

// RemoveByID deletes the entity and returns its last state.
func (a *Adapter) RemoveByID(ctx context.Context, id any) (store.Entity, error) {
	var out store.Entity
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		old, err := a.load(ctx, tx, id)
		if err != nil {
			return err
		}
		query := fmt.Sprintf("DELETE FROM %q WHERE id = ?", a.table)
		if _, err := a.loggedExecContext(ctx, tx, query, fmt.Sprint(id)); err != nil {
			return err
		}
		out = old
		return nil
	})
	return out, err
}

// Clear deletes every entity.
func (a *Adapter) Clear(ctx context.Context) (int64, error) {
	db, err := a.conn()
	if err != nil {
		return 0, err
	}
	res, err := a.loggedExecContext(ctx, db, fmt.Sprintf("DELETE FROM %q", a.table))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateIndex creates an expression index over the JSON fields.
func (a *Adapter) CreateIndex(ctx context.Context, idx store.Index) error {
	db, err := a.conn()
	if err != nil {
		return err
	}
	if len(idx.Fields) == 0 {
		return fmt.Errorf("%w: index has no fields", store.ErrInvalidParams)
	}
	exprs := make([]string, len(idx.Fields))
	for i, f := range idx.Fields {
		if exprs[i], _, err = a.tr.field(f); err != nil {
			return err
		}
	}
	name := idx.Name
	if name == "" {
		name = strings.Join(idx.Fields, "_")
	}
	name = "idx_" + a.table + "_" + strcase.ToSnake(name)
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: invalid index name %q", store.ErrInvalidParams, name)
	}

	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	ddl := fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %q ON %q (%s)", unique, name, a.table, strings.Join(exprs, ", "))
	if _, err := a.loggedExecContext(ctx, db, ddl); err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

func (a *Adapter) whereSQL(q *store.Query) (string, []any, error) {
	where, args, err := a.tr.where(q.Filter)
	if err != nil {
		return "", nil, err
	}
	search, searchArgs, err := a.tr.search(q.Search, q.SearchFields)
	if err != nil {
		return "", nil, err
	}
	var clauses []string
	if where != "" {
		clauses = append(clauses, where)
	}
	if search != "" {
		clauses = append(clauses, search)
		args = append(args, searchArgs...)
	}
	if len(clauses) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func (a *Adapter) selectSQL(q *store.Query) (string, []any, error) {
	where, args, err := a.whereSQL(q)
	if err != nil {
		return "", nil, err
	}
	order, err := a.tr.orderBy(q.Sort)
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf("SELECT doc FROM %q%s ORDER BY %s", a.table, where, order)
	switch {
	case q.Limit > 0:
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, q.Offset)
	case q.Offset > 0:
		query += " LIMIT -1 OFFSET ?"
		args = append(args, q.Offset)
	}
	return query, args, nil
}

// load reads one entity inside tx, or returns ErrNotFound.
func (a *Adapter) load(ctx context.Context, tx *sql.Tx, id any) (store.Entity, error) {
	query := fmt.Sprintf("SELECT doc FROM %q WHERE id = ?", a.table)
	rows, err := a.loggedQueryContext(ctx, tx, query, fmt.Sprint(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", store.ErrNotFound, id)
	}
	return scanDoc(rows)
}

func (a *Adapter) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db, err := a.conn()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// loggedQueryContext wraps QueryContext with error logging. Row counts are
// logged by the caller once known.
func (a *Adapter) loggedQueryContext(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		a.logger.logError(ctx, query, args, time.Since(start), err)
		return nil, fmt.Errorf("query: %w", err)
	}
	return rows, nil
}

// loggedExecContext wraps ExecContext with logging.
func (a *Adapter) loggedExecContext(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	result, err := q.ExecContext(ctx, query, args...)
	duration := time.Since(start)
	if err != nil {
		a.logger.logError(ctx, query, args, duration, err)
		return nil, err
	}
	a.logger.logExec(ctx, query, args, duration, result)
	return result, nil
}

// constraintErr maps primary key and unique index violations.
func constraintErr(err error, id any) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %v: %v", store.ErrAlreadyExists, id, err)
	}
	return fmt.Errorf("exec: %w", err)
}

// encode marshals doc and returns the form it will read back as.
func encode(doc store.Entity) (string, store.Entity, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return "", nil, fmt.Errorf("marshal entity: %w", err)
	}
	var norm store.Entity
	if err := json.Unmarshal(b, &norm); err != nil {
		return "", nil, fmt.Errorf("unmarshal entity: %w", err)
	}
	return string(b), norm, nil
}

func scanDoc(rows *sql.Rows) (store.Entity, error) {
	var raw string
	if err := rows.Scan(&raw); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	var doc store.Entity
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return doc, nil
}

// rowsCursor streams a result set row by row.
type rowsCursor struct {
	rows    *sql.Rows
	current store.Entity
	err     error
}

func (c *rowsCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if !c.rows.Next() {
		c.err = c.rows.Err()
		return false
	}
	c.current, c.err = scanDoc(c.rows)
	return c.err == nil
}

func (c *rowsCursor) Entity() store.Entity { return c.current }

func (c *rowsCursor) Err() error { return c.err }

func (c *rowsCursor) Close(context.Context) error { return c.rows.Close() }
