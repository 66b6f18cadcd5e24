package dbadapter

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql

	"github.com/chatbi-ai/chatbi/pkg/models"
)

func init() {
	Register(models.DatasourcePostgres, newPostgresAdapter)
}

func newPostgresAdapter(info models.ConnectionInfo) (Adapter, error) {
	if err := requireKeys(info, "host", "user", "database"); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		info["host"],
		valueOr(info, "port", "5432"),
		info["user"],
		info["password"],
		info["database"],
		valueOr(info, "sslmode", "disable"),
	)
	return &sqlAdapter{
		driver:     "pgx",
		dsn:        dsn,
		dialect:    "postgres",
		probe:      "SELECT 1",
		introspect: introspectPostgres,
	}, nil
}

func introspectPostgres(ctx context.Context, db *sql.DB) (*models.SchemaDescriptor, error) {
	const columnsQuery = `
		SELECT c.table_name, c.column_name, c.data_type,
		       c.is_nullable = 'YES' AS nullable
		FROM information_schema.columns c
		JOIN information_schema.tables t
		  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		WHERE c.table_schema = 'public' AND t.table_type = 'BASE TABLE'
		ORDER BY c.table_name, c.ordinal_position`

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
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := markPostgresKeys(ctx, db, desc, index); err != nil {
		return nil, err
	}
	return desc, nil
}

// markPostgresKeys annotates primary and foreign keys from key_column_usage.
func markPostgresKeys(ctx context.Context, db *sql.DB, desc *models.SchemaDescriptor, index map[string]int) error {
	const keysQuery = `
		SELECT tc.table_name, kcu.column_name, tc.constraint_type,
		       COALESCE(ccu.table_name, ''), COALESCE(ccu.column_name, '')
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
		LEFT JOIN information_schema.constraint_column_usage ccu
		  ON ccu.constraint_name = tc.constraint_name
		 AND tc.constraint_type = 'FOREIGN KEY'
		WHERE tc.table_schema = 'public'
		  AND tc.constraint_type IN ('PRIMARY KEY', 'FOREIGN KEY')`

	rows, err := db.QueryContext(ctx, keysQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var table, column, kind, refTable, refColumn string
		if err := rows.Scan(&table, &column, &kind, &refTable, &refColumn); err != nil {
			return err
		}
		ti, ok := index[table]
		if !ok {
			continue
		}
		cols := desc.Tables[ti].Columns
		for ci := range cols {
			if cols[ci].Name != column {
				continue
			}
			switch kind {
			case "PRIMARY KEY":
				cols[ci].PrimaryKey = true
			case "FOREIGN KEY":
				if refTable != "" {
					cols[ci].ForeignKey = &models.ForeignKeyRef{Table: refTable, Column: refColumn}
				}
			}
		}
	}
	return rows.Err()
}
