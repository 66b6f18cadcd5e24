package store

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

type datasourceRow struct {
	ID          string     `db:"id"`
	Name        string     `db:"name"`
	Type        string     `db:"type"`
	Connection  []byte     `db:"connection"`
	Description string     `db:"description"`
	Status      string     `db:"status"`
	IsDefault   bool       `db:"is_default"`
	LastUsedAt  *time.Time `db:"last_used_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

const datasourceColumns = `id, name, type, connection, description, status, is_default, last_used_at, created_at, updated_at`

func (r datasourceRow) toModel() (models.Datasource, error) {
	ds := models.Datasource{
		ID:          r.ID,
		Name:        r.Name,
		Type:        models.DatasourceType(r.Type),
		Description: r.Description,
		Status:      models.DatasourceStatus(r.Status),
		IsDefault:   r.IsDefault,
		LastUsedAt:  r.LastUsedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if len(r.Connection) > 0 {
		if err := json.Unmarshal(r.Connection, &ds.Connection); err != nil {
			return ds, errs.Wrap(errs.KindInternal, err, "datasource %s has corrupt connection info", r.ID)
		}
	}
	return ds, nil
}

// Datasource loads one datasource by id.
func (s *Store) Datasource(ctx context.Context, id string) (models.Datasource, error) {
	var row datasourceRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+datasourceColumns+` FROM datasources WHERE id = $1`, id)
	if errors.Is(err, stdsql.ErrNoRows) {
		return models.Datasource{}, errs.New(errs.KindNotFound, "datasource %s not found", id)
	}
	if err != nil {
		return models.Datasource{}, errs.Wrap(errs.KindInternal, err, "loading datasource %s", id)
	}
	return row.toModel()
}

// ListDatasources returns all datasources ordered by name.
func (s *Store) ListDatasources(ctx context.Context) ([]models.Datasource, error) {
	var rows []datasourceRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+datasourceColumns+` FROM datasources ORDER BY name`)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "listing datasources")
	}
	out := make([]models.Datasource, 0, len(rows))
	for _, r := range rows {
		ds, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

// SaveDatasource inserts or updates a datasource. A missing id gets one
// assigned; the populated record comes back. Names are unique (CONFLICT
// on collision), and saving with is_default set clears the flag on
// every other row so at most one default exists.
func (s *Store) SaveDatasource(ctx context.Context, ds models.Datasource) (models.Datasource, error) {
	if ds.Name == "" {
		return ds, errs.New(errs.KindValidation, "datasource name is required")
	}
	if !ds.Type.Valid() {
		return ds, errs.New(errs.KindValidation, "unknown datasource type %q", ds.Type)
	}
	if ds.Status == "" {
		ds.Status = models.DatasourceActive
	}
	if !ds.Status.Valid() {
		return ds, errs.New(errs.KindValidation, "unknown datasource status %q", ds.Status)
	}
	if ds.ID == "" {
		ds.ID = uuid.NewString()
		ds.CreatedAt = time.Now()
	}
	ds.UpdatedAt = time.Now()

	connJSON, err := json.Marshal(ds.Connection)
	if err != nil {
		return ds, errs.Wrap(errs.KindInternal, err, "serializing connection info")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ds, errs.Wrap(errs.KindInternal, err, "saving datasource %s", ds.ID)
	}
	defer tx.Rollback()

	if ds.IsDefault {
		if _, err := tx.ExecContext(ctx,
			`UPDATE datasources SET is_default = false WHERE is_default AND id <> $1`, ds.ID); err != nil {
			return ds, errs.Wrap(errs.KindInternal, err, "clearing previous default datasource")
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO datasources (id, name, type, connection, description, status, is_default, last_used_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   type = EXCLUDED.type,
		   connection = EXCLUDED.connection,
		   description = EXCLUDED.description,
		   status = EXCLUDED.status,
		   is_default = EXCLUDED.is_default,
		   updated_at = EXCLUDED.updated_at`,
		ds.ID, ds.Name, string(ds.Type), connJSON, ds.Description,
		string(ds.Status), ds.IsDefault, ds.LastUsedAt,
		defaultTime(ds.CreatedAt), ds.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ds, errs.New(errs.KindConflict, "datasource name %q is already taken", ds.Name)
		}
		return ds, errs.Wrap(errs.KindInternal, err, "saving datasource %s", ds.ID)
	}

	if err := tx.Commit(); err != nil {
		return ds, errs.Wrap(errs.KindInternal, err, "saving datasource %s", ds.ID)
	}
	return ds, nil
}

// DeleteDatasource removes a datasource.
func (s *Store) DeleteDatasource(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasources WHERE id = $1`, id)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "deleting datasource %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.KindNotFound, "datasource %s not found", id)
	}
	return nil
}

// TouchDatasource stamps last_used_at. Best effort: a failure is logged
// and never fails the query that used the datasource.
func (s *Store) TouchDatasource(ctx context.Context, id string) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE datasources SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		s.log.Error("Failed to touch datasource", "datasource_id", id, "error", err)
	}
}

// isUniqueViolation reports a PostgreSQL unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func defaultTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
