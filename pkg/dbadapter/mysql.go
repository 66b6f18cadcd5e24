package dbadapter

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql" // register mysql driver

	"github.com/chatbi-ai/chatbi/pkg/models"
)

func init() {
	Register(models.DatasourceMySQL, newMySQLAdapter)
}

func newMySQLAdapter(info models.ConnectionInfo) (Adapter, error) {
	if err := requireKeys(info, "host", "user", "database"); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf(
		"%s:%s@tcp(%s:%s)/%s?parseTime=true",
		info["user"],
		info["password"],
		info["host"],
		valueOr(info, "port", "3306"),
		info["database"],
	)
	return &sqlAdapter{
		driver:     "mysql",
		dsn:        dsn,
		dialect:    "mysql",
		probe:      "SELECT 1",
		introspect: introspectMySQL,
	}, nil
}

func introspectMySQL(ctx context.Context, db *sql.DB) (*models.SchemaDescriptor, error) {
	const columnsQuery = `
		SELECT c.TABLE_NAME, c.COLUMN_NAME, c.DATA_TYPE,
		       c.IS_NULLABLE = 'YES',
		       c.COLUMN_KEY = 'PRI',
		       COALESCE(k.REFERENCED_TABLE_NAME, ''),
		       COALESCE(k.REFERENCED_COLUMN_NAME, '')
		FROM information_schema.COLUMNS c
		LEFT JOIN information_schema.KEY_COLUMN_USAGE k
		  ON k.TABLE_SCHEMA = c.TABLE_SCHEMA
		 AND k.TABLE_NAME = c.TABLE_NAME
		 AND k.COLUMN_NAME = c.COLUMN_NAME
		 AND k.REFERENCED_TABLE_NAME IS NOT NULL
		WHERE c.TABLE_SCHEMA = DATABASE()
		ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`

	rows, err := db.QueryContext(ctx, columnsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	desc := &models.SchemaDescriptor{}
	index := map[string]int{}
	for rows.Next() {
		var table, column, dataType, refTable, refColumn string
		var nullable, primary bool
		if err := rows.Scan(&table, &column, &dataType, &nullable, &primary, &refTable, &refColumn); err != nil {
			return nil, err
		}
		i, ok := index[table]
		if !ok {
			i = len(desc.Tables)
			index[table] = i
			desc.Tables = append(desc.Tables, models.TableDescriptor{Name: table})
		}
		col := models.ColumnDescriptor{Name: column, Type: dataType, Nullable: nullable, PrimaryKey: primary}
		if refTable != "" {
			col.ForeignKey = &models.ForeignKeyRef{Table: refTable, Column: refColumn}
		}
		desc.Tables[i].Columns = append(desc.Tables[i].Columns, col)
	}
	return desc, rows.Err()
}
