// Package dbadapter provides a uniform query/schema capability across
// database engines, plus the bounded connection pool the engine shares.
package dbadapter

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

// ExecOptions bound a single query execution.
type ExecOptions struct {
	Timeout time.Duration
	MaxRows int
}

// QueryResult is the uniform result shape for every adapter.
type QueryResult struct {
	Columns    []models.ColumnMeta `json:"columns"`
	Rows       [][]any             `json:"rows"`
	RowCount   int                 `json:"row_count"`
	DurationMS int64               `json:"duration_ms"`
	Truncated  bool                `json:"truncated"`
}

// Adapter is the engine-specific implementation of the uniform capability.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Ping(ctx context.Context) error
	Execute(ctx context.Context, query string, opts ExecOptions) (*QueryResult, error)
	Introspect(ctx context.Context) (*models.SchemaDescriptor, error)
	Dialect() string
}

// Factory builds an unconnected adapter from connection parameters.
type Factory func(info models.ConnectionInfo) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[models.DatasourceType]Factory)
)

// Register installs a factory for an engine type. Called from driver init().
func Register(t models.DatasourceType, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = f
}

// New builds an adapter for the given engine type.
func New(t models.DatasourceType, info models.ConnectionInfo) (Adapter, error) {
	registryMu.RLock()
	f, ok := registry[t]
	registryMu.RUnlock()
	if !ok {
		if !t.Valid() {
			return nil, errs.New(errs.KindValidation, "unknown datasource type %q", t)
		}
		return nil, errs.New(errs.KindValidation, "no adapter registered for datasource type %q", t)
	}
	return f(info)
}

// RegisteredTypes lists the engine types with a registered factory.
func RegisteredTypes() []models.DatasourceType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]models.DatasourceType, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	return types
}

// sqlAdapter implements Adapter over database/sql. Engine-specific parts
// (DSN, dialect, introspection queries, probe statement) come from the
// driver descriptor.
type sqlAdapter struct {
	driver     string
	dsn        string
	dialect    string
	probe      string
	introspect func(ctx context.Context, db *sql.DB) (*models.SchemaDescriptor, error)

	mu sync.Mutex
	db *sql.DB
}

func (a *sqlAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		return nil
	}
	db, err := sql.Open(a.driver, a.dsn)
	if err != nil {
		return errs.Wrap(errs.KindDBPermanent, err, "open %s connection", a.dialect)
	}
	// One OS connection per adapter instance; pooling happens in Manager.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return classify(err, a.dialect)
	}
	a.db = db
	return nil
}

func (a *sqlAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *sqlAdapter) Ping(ctx context.Context) error {
	db, err := a.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, a.probe); err != nil {
		return classify(err, a.dialect)
	}
	return nil
}

func (a *sqlAdapter) Dialect() string { return a.dialect }

func (a *sqlAdapter) conn() (*sql.DB, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil, errs.New(errs.KindDBPermanent, "%s adapter is not connected", a.dialect)
	}
	return a.db, nil
}

// Execute runs a query with a timeout and a row ceiling. When more than
// MaxRows rows come back the result is truncated client-side and flagged.
func (a *sqlAdapter) Execute(ctx context.Context, query string, opts ExecOptions) (*QueryResult, error) {
	db, err := a.conn()
	if err != nil {
		return nil, err
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, timeoutError(ctxErr)
		}
		return nil, classify(err, a.dialect)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, classify(err, a.dialect)
	}
	result := &QueryResult{Columns: make([]models.ColumnMeta, len(colTypes))}
	for i, ct := range colTypes {
		result.Columns[i] = models.ColumnMeta{Name: ct.Name(), Type: strings.ToLower(ct.DatabaseTypeName())}
	}

	for rows.Next() {
		if opts.MaxRows > 0 && len(result.Rows) >= opts.MaxRows {
			result.Truncated = true
			break
		}
		cells := make([]any, len(colTypes))
		ptrs := make([]any, len(colTypes))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(err, a.dialect)
		}
		for i, c := range cells {
			if b, ok := c.([]byte); ok {
				cells[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, cells)
	}
	if err := rows.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, timeoutError(ctxErr)
		}
		return nil, classify(err, a.dialect)
	}

	result.RowCount = len(result.Rows)
	result.DurationMS = time.Since(start).Milliseconds()
	return result, nil
}

func (a *sqlAdapter) Introspect(ctx context.Context) (*models.SchemaDescriptor, error) {
	db, err := a.conn()
	if err != nil {
		return nil, err
	}
	desc, err := a.introspect(ctx, db)
	if err != nil {
		return nil, classify(err, a.dialect)
	}
	desc.Dialect = a.dialect
	return desc, nil
}

func timeoutError(ctxErr error) error {
	if errors.Is(ctxErr, context.Canceled) {
		return errs.New(errs.KindCancelled, "query cancelled")
	}
	return errs.New(errs.KindTimeout, "query timed out")
}

// transientPatterns mark driver errors worth retrying.
var transientPatterns = []string{
	"connection reset",
	"connection refused",
	"temporarily unavailable",
	"deadlock",
	"too many connections",
	"server closed the connection",
	"connection terminated",
	"broken pipe",
	"connection timed out",
	"lock timeout",
	"resource unavailable",
	"i/o timeout",
}

// sqlLevelPatterns mark errors the correction loop can act on.
var sqlLevelPatterns = []string{
	"syntax error",
	"does not exist",
	"doesn't exist",
	"unknown column",
	"unknown table",
	"no such table",
	"no such column",
	"ambiguous",
	"invalid identifier",
	"division by zero",
	"incorrect syntax",
	"not found in",
	"binder error",
	"parser error",
	"type mismatch",
	"cannot be cast",
}

// classify maps a driver error onto the engine taxonomy. SQL-level errors
// keep the raw engine message so the correction loop can feed it back.
func classify(err error, dialect string) error {
	if err == nil {
		return nil
	}
	var de *errs.Error
	if errors.As(err, &de) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, p := range sqlLevelPatterns {
		if strings.Contains(msg, p) {
			return errs.Wrap(errs.KindSQLError, err, "%s", err.Error())
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return errs.Wrap(errs.KindDBTransient, err, "%s driver error", dialect)
		}
	}
	return errs.Wrap(errs.KindDBPermanent, err, "%s driver error", dialect)
}

// requireKeys validates that the connection info carries the given keys.
func requireKeys(info models.ConnectionInfo, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if info[k] == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return errs.New(errs.KindValidation, "connection info missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func valueOr(info models.ConnectionInfo, key, fallback string) string {
	if v := info[key]; v != "" {
		return v
	}
	return fallback
}
