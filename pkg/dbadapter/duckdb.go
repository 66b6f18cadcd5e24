package dbadapter

import (
	"context"
	"database/sql"

	"github.com/chatbi-ai/chatbi/pkg/models"
)

func init() {
	Register(models.DatasourceDuckDB, newDuckDBAdapter)
}

// newDuckDBAdapter opens a DuckDB database. An empty path means in-memory.
func newDuckDBAdapter(info models.ConnectionInfo) (Adapter, error) {
	return &sqlAdapter{
		driver:     "duckdb",
		dsn:        info["path"],
		dialect:    "duckdb",
		probe:      "SELECT 1",
		introspect: introspectDuckDB,
	}, nil
}

func introspectDuckDB(ctx context.Context, db *sql.DB) (*models.SchemaDescriptor, error) {
	const columnsQuery = `
		SELECT table_name, column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = 'main'
		ORDER BY table_name, ordinal_position`

	rows, err := db.QueryContext(ctx, columnsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	desc := &models.SchemaDescriptor{}
	index := map[string]int{}
	for rows.Next() {
		var table, column, dataType string
		var nullable bool
		if err := rows.Scan(&table, &column, &dataType, &nullable); err != nil {
			return nil, err
		}
		i, ok := index[table]
		if !ok {
			i = len(desc.Tables)
			index[table] = i
			desc.Tables = append(desc.Tables, models.TableDescriptor{Name: table})
		}
		desc.Tables[i].Columns = append(desc.Tables[i].Columns, models.ColumnDescriptor{
			Name: column, Type: dataType, Nullable: nullable,
		})
	}
	return desc, rows.Err()
}
