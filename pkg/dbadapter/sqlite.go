package dbadapter

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // register sqlite3 driver

	"github.com/chatbi-ai/chatbi/pkg/models"
)

func init() {
	Register(models.DatasourceSQLite, newSQLiteAdapter)
}

func newSQLiteAdapter(info models.ConnectionInfo) (Adapter, error) {
	if err := requireKeys(info, "path"); err != nil {
		return nil, err
	}
	return &sqlAdapter{
		driver:     "sqlite3",
		dsn:        info["path"],
		dialect:    "sqlite",
		probe:      "SELECT 1",
		introspect: introspectSQLite,
	}, nil
}

func introspectSQLite(ctx context.Context, db *sql.DB) (*models.SchemaDescriptor, error) {
	tables, err := listSQLiteTables(ctx, db)
	if err != nil {
		return nil, err
	}

	desc := &models.SchemaDescriptor{}
	for _, table := range tables {
		td := models.TableDescriptor{Name: table}

		rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var cid int
			var name, ctype string
			var notNull, pk int
			var dflt sql.NullString
			if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
				rows.Close()
				return nil, err
			}
			td.Columns = append(td.Columns, models.ColumnDescriptor{
				Name: name, Type: ctype, Nullable: notNull == 0, PrimaryKey: pk > 0,
			})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()

		if err := markSQLiteForeignKeys(ctx, db, &td); err != nil {
			return nil, err
		}
		desc.Tables = append(desc.Tables, td)
	}
	return desc, nil
}

func listSQLiteTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func markSQLiteForeignKeys(ctx context.Context, db *sql.DB, td *models.TableDescriptor) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%q)", td.Name))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id, seq int
		var refTable, from, to string
		var onUpdate, onDelete, match string
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return err
		}
		for i := range td.Columns {
			if td.Columns[i].Name == from {
				td.Columns[i].ForeignKey = &models.ForeignKeyRef{Table: refTable, Column: to}
			}
		}
	}
	return rows.Err()
}
