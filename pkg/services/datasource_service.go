// Package services exposes the engine's public operations as methods on
// service structs. Services validate input, coordinate the underlying
// packages and return domain errors; callers needing the wire shape wrap
// results with errs.OK / errs.Fail.
package services

import (
	"context"
	"time"

	"github.com/chatbi-ai/chatbi/pkg/agent"
	"github.com/chatbi-ai/chatbi/pkg/analysis"
	"github.com/chatbi-ai/chatbi/pkg/config"
	"github.com/chatbi-ai/chatbi/pkg/dbadapter"
	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

// DatasourceStore is the persistence surface the service needs.
type DatasourceStore interface {
	Datasource(ctx context.Context, id string) (models.Datasource, error)
	ListDatasources(ctx context.Context) ([]models.Datasource, error)
	SaveDatasource(ctx context.Context, ds models.Datasource) (models.Datasource, error)
	DeleteDatasource(ctx context.Context, id string) error
	TouchDatasource(ctx context.Context, id string)
}

// DatasourceService manages registered datasources and ad-hoc queries
// against them.
type DatasourceService struct {
	store  DatasourceStore
	pool   *dbadapter.Manager
	schema *agent.SchemaAgent
	cfg    *config.Config
}

// NewDatasourceService creates a new DatasourceService.
func NewDatasourceService(store DatasourceStore, pool *dbadapter.Manager, schema *agent.SchemaAgent, cfg *config.Config) *DatasourceService {
	if store == nil {
		panic("NewDatasourceService: store must not be nil")
	}
	if pool == nil {
		panic("NewDatasourceService: pool must not be nil")
	}
	if cfg == nil {
		panic("NewDatasourceService: cfg must not be nil")
	}
	return &DatasourceService{store: store, pool: pool, schema: schema, cfg: cfg}
}

// List returns all datasources with connection secrets redacted.
func (s *DatasourceService) List(ctx context.Context) ([]models.Datasource, error) {
	list, err := s.store.ListDatasources(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Connection = list[i].Connection.Redacted()
	}
	return list, nil
}

// Get returns one datasource with connection secrets redacted.
func (s *DatasourceService) Get(ctx context.Context, id string) (models.Datasource, error) {
	ds, err := s.store.Datasource(ctx, id)
	if err != nil {
		return models.Datasource{}, err
	}
	ds.Connection = ds.Connection.Redacted()
	return ds, nil
}

// Save creates or updates a datasource.
func (s *DatasourceService) Save(ctx context.Context, ds models.Datasource) (models.Datasource, error) {
	return s.store.SaveDatasource(ctx, ds)
}

// Delete removes a datasource and drops any cached schema for it.
func (s *DatasourceService) Delete(ctx context.Context, id string) error {
	return s.store.DeleteDatasource(ctx, id)
}

// TestConnectionInput carries connection parameters to check without
// persisting anything.
type TestConnectionInput struct {
	Type       models.DatasourceType `json:"type"`
	Connection models.ConnectionInfo `json:"connection"`
}

// TestConnectionResult reports the check outcome.
type TestConnectionResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	LatencyMS int64  `json:"latency_ms"`
}

// TestConnection dials a transient connection from the given parameters
// and pings it, bypassing the pool. Reachability failures come back
// in-band as Success=false; only invalid input is an error.
func (s *DatasourceService) TestConnection(ctx context.Context, input TestConnectionInput) (TestConnectionResult, error) {
	adapter, err := dbadapter.New(input.Type, input.Connection)
	if err != nil {
		return TestConnectionResult{}, err
	}

	start := time.Now()
	if err := adapter.Connect(ctx); err != nil {
		return TestConnectionResult{
			Message:   err.Error(),
			LatencyMS: time.Since(start).Milliseconds(),
		}, nil
	}
	defer adapter.Disconnect()

	if err := adapter.Ping(ctx); err != nil {
		return TestConnectionResult{
			Message:   err.Error(),
			LatencyMS: time.Since(start).Milliseconds(),
		}, nil
	}
	return TestConnectionResult{
		Success:   true,
		Message:   "connection ok",
		LatencyMS: time.Since(start).Milliseconds(),
	}, nil
}

// GetSchema returns the introspected schema descriptor. The question is
// optional; when set, large schemas come back narrowed to relevant tables.
func (s *DatasourceService) GetSchema(ctx context.Context, id, question string) (*models.SchemaDescriptor, error) {
	ds, err := s.store.Datasource(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.schema != nil {
		return s.schema.Describe(ctx, ds, question)
	}
	conn, err := s.pool.Acquire(ctx, ds)
	if err != nil {
		return nil, err
	}
	defer conn.Release()
	return conn.Introspect(ctx)
}

// ExecuteQueryInput carries a raw SQL execution request.
type ExecuteQueryInput struct {
	DatasourceID string       `json:"datasource_id"`
	SQL          string       `json:"sql"`
	Scene        models.Scene `json:"scene"`
}

// ExecuteQuery runs one SQL statement under the scene's guardrails:
// read-only enforcement, LIMIT clamping, timeout and row cap.
func (s *DatasourceService) ExecuteQuery(ctx context.Context, input ExecuteQueryInput) (*dbadapter.QueryResult, error) {
	if input.SQL == "" {
		return nil, errs.New(errs.KindValidation, "sql is required")
	}
	ds, err := s.store.Datasource(ctx, input.DatasourceID)
	if err != nil {
		return nil, err
	}
	scene := s.cfg.Scene(input.Scene)
	checked, err := analysis.ValidateSQL(input.SQL, scene.ReadOnly, scene.MaxRows)
	if err != nil {
		return nil, err
	}
	conn, err := s.pool.Acquire(ctx, ds)
	if err != nil {
		return nil, err
	}
	defer conn.Release()
	res, err := conn.Execute(ctx, checked, dbadapter.ExecOptions{
		Timeout: scene.QueryTimeout(),
		MaxRows: scene.MaxRows,
	})
	if err != nil {
		if errs.KindOf(err) == errs.KindDBTransient {
			conn.Discard()
		}
		return nil, err
	}
	s.store.TouchDatasource(ctx, input.DatasourceID)
	return res, nil
}
