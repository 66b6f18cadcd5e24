package dbadapter

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/ClickHouse/clickhouse-go/v2" // register clickhouse driver

	"github.com/chatbi-ai/chatbi/pkg/models"
)

func init() {
	Register(models.DatasourceClickHouse, newClickHouseAdapter)
}

func newClickHouseAdapter(info models.ConnectionInfo) (Adapter, error) {
	if err := requireKeys(info, "host", "database"); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf(
		"clickhouse://%s:%s@%s:%s/%s",
		valueOr(info, "user", "default"),
		info["password"],
		info["host"],
		valueOr(info, "port", "9000"),
		info["database"],
	)
	return &sqlAdapter{
		driver:     "clickhouse",
		dsn:        dsn,
		dialect:    "clickhouse",
		probe:      "SELECT 1",
		introspect: introspectClickHouse,
	}, nil
}

func introspectClickHouse(ctx context.Context, db *sql.DB) (*models.SchemaDescriptor, error) {
	const columnsQuery = `
		SELECT table, name, type, is_in_primary_key
		FROM system.columns
		WHERE database = currentDatabase()
		ORDER BY table, position`

	rows, err := db.QueryContext(ctx, columnsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	desc := &models.SchemaDescriptor{}
	index := map[string]int{}
	for rows.Next() {
		var table, column, dataType string
		var inPK uint8
		if err := rows.Scan(&table, &column, &dataType, &inPK); err != nil {
			return nil, err
		}
		i, ok := index[table]
		if !ok {
			i = len(desc.Tables)
			index[table] = i
			desc.Tables = append(desc.Tables, models.TableDescriptor{Name: table})
		}
		desc.Tables[i].Columns = append(desc.Tables[i].Columns, models.ColumnDescriptor{
			Name: column, Type: dataType,
			// ClickHouse columns are non-nullable unless wrapped in Nullable(...)
			Nullable:   len(dataType) > 9 && dataType[:9] == "Nullable(",
			PrimaryKey: inPK == 1,
		})
	}
	return desc, rows.Err()
}
