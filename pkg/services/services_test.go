package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbi-ai/chatbi/pkg/analysis"
	"github.com/chatbi-ai/chatbi/pkg/config"
	"github.com/chatbi-ai/chatbi/pkg/dbadapter"
	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/execution"
	"github.com/chatbi-ai/chatbi/pkg/models"
	"github.com/chatbi-ai/chatbi/pkg/monitoring"
	"github.com/chatbi-ai/chatbi/pkg/planning"
)

const svcFakeType = models.DatasourceType("svc-fake")

type svcFakeAdapter struct{}

func (svcFakeAdapter) Connect(context.Context) error { return nil }
func (svcFakeAdapter) Disconnect() error             { return nil }
func (svcFakeAdapter) Ping(context.Context) error    { return nil }
func (svcFakeAdapter) Execute(_ context.Context, _ string, _ dbadapter.ExecOptions) (*dbadapter.QueryResult, error) {
	return &dbadapter.QueryResult{
		Columns:  []models.ColumnMeta{{Name: "n", Type: "int"}},
		Rows:     [][]any{{int64(1)}},
		RowCount: 1,
	}, nil
}
func (svcFakeAdapter) Introspect(context.Context) (*models.SchemaDescriptor, error) {
	return &models.SchemaDescriptor{Dialect: "svc-fake"}, nil
}
func (svcFakeAdapter) Dialect() string { return "svc-fake" }

// svcDeadAdapter refuses every connection attempt.
type svcDeadAdapter struct{ svcFakeAdapter }

func (svcDeadAdapter) Connect(context.Context) error {
	return errs.New(errs.KindDBTransient, "connection refused")
}

const svcDeadType = models.DatasourceType("svc-dead")

func init() {
	dbadapter.Register(svcFakeType, func(models.ConnectionInfo) (dbadapter.Adapter, error) {
		return svcFakeAdapter{}, nil
	})
	dbadapter.Register(svcDeadType, func(models.ConnectionInfo) (dbadapter.Adapter, error) {
		return svcDeadAdapter{}, nil
	})
}

// fakeDatasourceStore serves a fixed datasource set from memory.
type fakeDatasourceStore struct {
	byID    map[string]models.Datasource
	touched []string
}

func (f *fakeDatasourceStore) Datasource(_ context.Context, id string) (models.Datasource, error) {
	ds, ok := f.byID[id]
	if !ok {
		return models.Datasource{}, errs.New(errs.KindNotFound, "datasource %s not found", id)
	}
	return ds, nil
}

func (f *fakeDatasourceStore) ListDatasources(context.Context) ([]models.Datasource, error) {
	out := make([]models.Datasource, 0, len(f.byID))
	for _, ds := range f.byID {
		out = append(out, ds)
	}
	return out, nil
}

func (f *fakeDatasourceStore) SaveDatasource(_ context.Context, ds models.Datasource) (models.Datasource, error) {
	f.byID[ds.ID] = ds
	return ds, nil
}

func (f *fakeDatasourceStore) DeleteDatasource(_ context.Context, id string) error {
	if _, ok := f.byID[id]; !ok {
		return errs.New(errs.KindNotFound, "datasource %s not found", id)
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeDatasourceStore) TouchDatasource(_ context.Context, id string) {
	f.touched = append(f.touched, id)
}

func newDatasourceService(t *testing.T) (*DatasourceService, *fakeDatasourceStore) {
	t.Helper()
	store := &fakeDatasourceStore{byID: map[string]models.Datasource{
		"ds1": {
			ID:   "ds1",
			Name: "sales",
			Type: svcFakeType,
			Connection: models.ConnectionInfo{
				"host":     "db.internal",
				"password": "hunter2",
			},
		},
	}}
	pool := dbadapter.NewManager(dbadapter.PoolConfig{})
	t.Cleanup(pool.Shutdown)
	cfg := config.Defaults()
	return NewDatasourceService(store, pool, nil, cfg), store
}

func TestDatasourceService_ListRedactsSecrets(t *testing.T) {
	svc, _ := newDatasourceService(t)

	list, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "***", list[0].Connection["password"])
	assert.Equal(t, "db.internal", list[0].Connection["host"])
}

func TestDatasourceService_GetNotFound(t *testing.T) {
	svc, _ := newDatasourceService(t)

	_, err := svc.Get(context.Background(), "missing")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestDatasourceService_TestConnection(t *testing.T) {
	svc, _ := newDatasourceService(t)

	res, err := svc.TestConnection(context.Background(), TestConnectionInput{
		Type:       svcFakeType,
		Connection: models.ConnectionInfo{"host": "db.internal"},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "connection ok", res.Message)
	assert.GreaterOrEqual(t, res.LatencyMS, int64(0))
}

func TestDatasourceService_TestConnectionUnreachable(t *testing.T) {
	svc, _ := newDatasourceService(t)

	// Bad credentials or an unreachable host are an outcome, not an error.
	res, err := svc.TestConnection(context.Background(), TestConnectionInput{
		Type:       svcDeadType,
		Connection: models.ConnectionInfo{"host": "nowhere"},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "connection refused")
}

func TestDatasourceService_TestConnectionUnknownType(t *testing.T) {
	svc, _ := newDatasourceService(t)

	_, err := svc.TestConnection(context.Background(), TestConnectionInput{
		Type: "papyrus",
	})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestDatasourceService_ExecuteQuery(t *testing.T) {
	svc, store := newDatasourceService(t)

	res, err := svc.ExecuteQuery(context.Background(), ExecuteQueryInput{
		DatasourceID: "ds1",
		SQL:          "SELECT count(*) AS n FROM loans",
		Scene:        models.SceneDashboard,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowCount)
	assert.Equal(t, []string{"ds1"}, store.touched)
}

func TestDatasourceService_ExecuteQueryRejectsWrites(t *testing.T) {
	svc, _ := newDatasourceService(t)

	_, err := svc.ExecuteQuery(context.Background(), ExecuteQueryInput{
		DatasourceID: "ds1",
		SQL:          "DELETE FROM loans",
		Scene:        models.SceneDashboard,
	})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestDatasourceService_GetSchemaFallsBackToIntrospect(t *testing.T) {
	svc, _ := newDatasourceService(t)

	desc, err := svc.GetSchema(context.Background(), "ds1", "")
	require.NoError(t, err)
	assert.Equal(t, "svc-fake", desc.Dialect)
}

// echoRunner completes every task with its id as output.
type echoRunner struct{}

func (echoRunner) RunTask(_ context.Context, _ models.Execution, task models.Task, _ map[string]string) (string, error) {
	return task.TaskID, nil
}

// captureSink records execution snapshots.
type captureSink struct {
	saved []models.Execution
}

func (c *captureSink) SaveExecution(_ context.Context, exec models.Execution) {
	c.saved = append(c.saved, exec)
}

func newPlanService(t *testing.T) (*PlanService, *captureSink) {
	t.Helper()
	chains := config.NewChainRegistry(map[string]*config.Chain{
		"two-step": {
			ID: "two-step",
			Nodes: []config.ChainNode{
				{ID: "first", Title: "First", Agent: "sql"},
				{ID: "second", Title: "Second", Agent: "sql", DependsOn: []string{"first"}},
			},
		},
	})
	rules := config.NewPlanRuleRegistry([]*config.PlanRule{
		{ID: "catch-all", ChainID: "two-step", Enabled: true},
	})
	planner := planning.NewEngine(chains, rules)
	machine := execution.NewMachine(echoRunner{}, execution.Config{})
	sink := &captureSink{}
	return NewPlanService(planner, machine, nil, sink), sink
}

func TestPlanService_BuildPlan(t *testing.T) {
	svc, _ := newPlanService(t)

	plan, err := svc.BuildPlan(context.Background(), planning.Request{Question: "anything"})
	require.NoError(t, err)
	assert.Len(t, plan.Tasks, 2)
}

func TestPlanService_StartRequiresDatasource(t *testing.T) {
	svc, _ := newPlanService(t)

	_, err := svc.StartExecution(context.Background(), StartInput{Question: "anything"})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestPlanService_StartRunPersists(t *testing.T) {
	svc, sink := newPlanService(t)
	ctx := context.Background()

	exec, err := svc.StartExecution(ctx, StartInput{
		Question:     "overdue by product",
		DatasourceID: "ds1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionRunning, exec.State)
	require.Len(t, sink.saved, 1)

	done, err := svc.Run(ctx, exec.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, done.State)
	assert.Equal(t, "second", done.Tasks[1].Output)
	assert.Equal(t, models.ExecutionCompleted, sink.saved[len(sink.saved)-1].State)
}

func TestPlanService_CancelFailsRemainingTasks(t *testing.T) {
	svc, _ := newPlanService(t)
	ctx := context.Background()

	exec, err := svc.StartExecution(ctx, StartInput{Question: "q", DatasourceID: "ds1"})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, exec.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCancelled, cancelled.State)
	for _, task := range cancelled.Tasks {
		assert.Equal(t, models.TaskFailed, task.Status)
		assert.Equal(t, "CANCELLED", task.LastError)
	}
}

func newTestRunner(t *testing.T) *ChainRunner {
	t.Helper()
	store := &fakeDatasourceStore{byID: map[string]models.Datasource{}}
	pipeline := analysis.New(config.Defaults(), store, dbadapter.NewManager(dbadapter.PoolConfig{}), nil, nil, nil, nil, nil)
	return NewChainRunner(pipeline, nil, store)
}

func TestChainRunner_MissingBindingBlocks(t *testing.T) {
	r := newTestRunner(t)

	_, err := r.RunTask(context.Background(),
		models.Execution{ExecutionID: "e1"},
		models.Task{TaskID: "t1", AssignedAgent: "sql"}, nil)
	assert.Equal(t, errs.KindExecutionBlocked, errs.KindOf(err))
}

func TestChainRunner_UnknownAgentFails(t *testing.T) {
	r := newTestRunner(t)
	r.Bind("e1", TaskBinding{DatasourceID: "ds1", Scene: models.SceneDashboard})

	_, err := r.RunTask(context.Background(),
		models.Execution{ExecutionID: "e1"},
		models.Task{TaskID: "t1", AssignedAgent: "oracle"}, nil)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestChainRunner_UnbindDropsBinding(t *testing.T) {
	r := newTestRunner(t)
	r.Bind("e1", TaskBinding{DatasourceID: "ds1"})
	r.Unbind("e1")

	_, err := r.RunTask(context.Background(),
		models.Execution{ExecutionID: "e1"},
		models.Task{TaskID: "t1", AssignedAgent: "sql"}, nil)
	assert.Equal(t, errs.KindExecutionBlocked, errs.KindOf(err))
}

func TestTaskQuestionScoping(t *testing.T) {
	q := taskQuestion(
		models.Execution{Question: "portfolio health", LoanType: "business"},
		models.Task{Title: "Risk breakdown"},
	)
	assert.Equal(t, "Risk breakdown: portfolio health (loan type: business)", q)
}

func TestTaskOutputSummary(t *testing.T) {
	out := taskOutput(&models.AnalysisResult{
		SQL:      "SELECT 1",
		RowCount: 3,
		Insight:  "steady",
		Chart:    &models.ChartSpec{ChartType: "line"},
	})
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "SELECT 1", decoded["sql"])
	assert.Equal(t, float64(3), decoded["row_count"])
	assert.Equal(t, "line", decoded["chart_type"])
}

func TestConfigService_PutPlanRuleUnknownChain(t *testing.T) {
	cfg := mustLoadDefaults(t)
	svc := NewConfigService(cfg)

	err := svc.PutPlanRule(context.Background(), &config.PlanRule{
		ID: "bad", ChainID: "no-such-chain", Enabled: true,
	})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestConfigService_ChainRoundTrip(t *testing.T) {
	cfg := mustLoadDefaults(t)
	svc := NewConfigService(cfg)
	ctx := context.Background()

	err := svc.PutChain(ctx, &config.Chain{
		ID: "custom",
		Nodes: []config.ChainNode{
			{ID: "only", Agent: "sql"},
		},
	})
	require.NoError(t, err)

	chain, err := svc.GetChain(ctx, "custom")
	require.NoError(t, err)
	assert.Len(t, chain.Nodes, 1)

	_, err = svc.GetChain(ctx, "missing")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestConfigService_PutChainRejectsCycle(t *testing.T) {
	cfg := mustLoadDefaults(t)
	svc := NewConfigService(cfg)

	err := svc.PutChain(context.Background(), &config.Chain{
		ID: "looped",
		Nodes: []config.ChainNode{
			{ID: "a", Agent: "sql", DependsOn: []string{"b"}},
			{ID: "b", Agent: "sql", DependsOn: []string{"a"}},
		},
	})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestConfigService_EmailValidation(t *testing.T) {
	cfg := mustLoadDefaults(t)
	svc := NewConfigService(cfg)
	ctx := context.Background()

	err := svc.PutEmail(ctx, config.EmailConfig{Enabled: true})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	require.NoError(t, svc.PutEmail(ctx, config.EmailConfig{
		Enabled: true,
		Host:    "smtp.internal",
		Port:    587,
		From:    "chatbi@internal",
		To:      []string{"ops@internal"},
	}))
	assert.Equal(t, "smtp.internal", svc.GetEmail(ctx).Host)
}

// fakeRuleStore keeps monitoring rules in memory.
type fakeRuleStore struct {
	rules map[string]models.MonitorRule
}

func (f *fakeRuleStore) Rules(context.Context) ([]models.MonitorRule, error) {
	out := make([]models.MonitorRule, 0, len(f.rules))
	for _, r := range f.rules {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRuleStore) Rule(_ context.Context, id string) (models.MonitorRule, error) {
	r, ok := f.rules[id]
	if !ok {
		return r, errs.New(errs.KindNotFound, "monitor rule %s not found", id)
	}
	return r, nil
}

func (f *fakeRuleStore) SaveRule(_ context.Context, rule models.MonitorRule) (models.MonitorRule, error) {
	f.rules[rule.ID] = rule
	return rule, nil
}

func (f *fakeRuleStore) DeleteRule(_ context.Context, id string) error {
	if _, ok := f.rules[id]; !ok {
		return errs.New(errs.KindNotFound, "monitor rule %s not found", id)
	}
	delete(f.rules, id)
	return nil
}

func TestMonitorService_RuleManagement(t *testing.T) {
	store := &fakeRuleStore{rules: map[string]models.MonitorRule{}}
	loop := monitoring.NewLoop(
		config.Defaults().Monitoring,
		store,
		monitoring.NewSourceRegistry(),
		config.NewDiagnosisRegistry(models.DiagnosisConfig{}),
		nil, nil,
	)
	svc := NewMonitorService(loop, store)
	ctx := context.Background()

	saved, err := svc.SaveRule(ctx, models.MonitorRule{
		ID: "r1", MetricKey: "bl_overdue_rate", Operator: models.OpGreater, Threshold: 0.03,
	})
	require.NoError(t, err)

	got, err := svc.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, saved.MetricKey, got.MetricKey)

	// An on-demand check with no rules firing creates no alerts.
	assert.Empty(t, svc.Check(ctx))
	assert.Empty(t, svc.Alerts(ctx))

	require.NoError(t, svc.DeleteRule(ctx, "r1"))
	err = svc.DeleteRule(ctx, "r1")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

// mustLoadDefaults builds a default config with the live registries
// populated, without touching the filesystem.
func mustLoadDefaults(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	if cfg.Chains == nil {
		cfg.Chains = config.NewChainRegistry(nil)
	}
	if cfg.PlanRules == nil {
		cfg.PlanRules = config.NewPlanRuleRegistry(nil)
	}
	if cfg.Diagnosis == nil {
		cfg.Diagnosis = config.NewDiagnosisRegistry(models.DiagnosisConfig{})
	}
	if cfg.Email == nil {
		cfg.Email = config.NewEmailRegistry(config.EmailConfig{Port: 587})
	}
	// keep timeouts short in tests
	cfg.Pool.AcquireTimeoutMS = 50
	return cfg
}
