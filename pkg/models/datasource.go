// Package models holds the shared domain types: datasources, schemas,
// agent messages, plans, monitoring rules and memory events.
package models

import "time"

// DatasourceType names a supported database engine.
type DatasourceType string

const (
	DatasourcePostgres   DatasourceType = "postgres"
	DatasourceMySQL      DatasourceType = "mysql"
	DatasourceSQLite     DatasourceType = "sqlite"
	DatasourceDuckDB     DatasourceType = "duckdb"
	DatasourceClickHouse DatasourceType = "clickhouse"
	DatasourceMSSQL      DatasourceType = "mssql"
	DatasourceSnowflake  DatasourceType = "snowflake"
	DatasourceBigQuery   DatasourceType = "bigquery"
	DatasourceTrino      DatasourceType = "trino"
)

// Valid reports whether t is a known engine type. Known does not imply
// an adapter is registered for it.
func (t DatasourceType) Valid() bool {
	switch t {
	case DatasourcePostgres, DatasourceMySQL, DatasourceSQLite,
		DatasourceDuckDB, DatasourceClickHouse, DatasourceMSSQL,
		DatasourceSnowflake, DatasourceBigQuery, DatasourceTrino:
		return true
	}
	return false
}

// DatasourceStatus tracks a datasource's operational state.
type DatasourceStatus string

const (
	DatasourceActive   DatasourceStatus = "active"
	DatasourceInactive DatasourceStatus = "inactive"
	DatasourceError    DatasourceStatus = "error"
)

// Valid reports whether s is a known status.
func (s DatasourceStatus) Valid() bool {
	switch s {
	case DatasourceActive, DatasourceInactive, DatasourceError:
		return true
	}
	return false
}

// ConnectionInfo carries engine-specific connection parameters as
// opaque key/value pairs (host, port, user, password, database, path).
type ConnectionInfo map[string]string

// Redacted returns a copy safe for logging.
func (c ConnectionInfo) Redacted() ConnectionInfo {
	out := make(ConnectionInfo, len(c))
	for k, v := range c {
		if k == "password" || k == "token" || k == "secret" {
			out[k] = "***"
		} else {
			out[k] = v
		}
	}
	return out
}

// Datasource is one registered database target. Names are unique; at
// most one datasource is the default.
type Datasource struct {
	ID          string           `json:"id" db:"id"`
	Name        string           `json:"name" db:"name"`
	Type        DatasourceType   `json:"type" db:"type"`
	Connection  ConnectionInfo   `json:"connection" db:"-"`
	Description string           `json:"description,omitempty" db:"description"`
	Status      DatasourceStatus `json:"status" db:"status"`
	IsDefault   bool             `json:"is_default" db:"is_default"`
	LastUsedAt  *time.Time       `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}

// QueryRecord is the audit entry written for every executed query.
type QueryRecord struct {
	ID           string    `json:"id" db:"id"`
	DatasourceID string    `json:"datasource_id" db:"datasource_id"`
	Scene        string    `json:"scene" db:"scene"`
	Question     string    `json:"question" db:"question"`
	SQL          string    `json:"sql" db:"sql_text"`
	Status       string    `json:"status" db:"status"` // ok | error
	ErrorKind    string    `json:"error_kind,omitempty" db:"error_kind"`
	RowCount     int       `json:"row_count" db:"row_count"`
	DurationMS   int64     `json:"duration_ms" db:"duration_ms"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
