package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbi-ai/chatbi/pkg/config"
	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

func testChains(t *testing.T) *config.ChainRegistry {
	t.Helper()
	reg := config.NewChainRegistry(nil)
	require.NoError(t, reg.Put(&config.Chain{
		ID: "loan-analysis",
		Nodes: []config.ChainNode{
			{ID: "resolve-schema", Agent: "schema"},
			{ID: "portfolio-overview", Agent: "sql", DependsOn: []string{"resolve-schema"}},
			{ID: "risk-breakdown", Agent: "sql", DependsOn: []string{"resolve-schema"}},
			{ID: "summary-visuals", Agent: "visualize", DependsOn: []string{"portfolio-overview", "risk-breakdown"}, Skippable: true},
		},
	}))
	require.NoError(t, reg.Put(&config.Chain{
		ID: "adhoc-analysis",
		Nodes: []config.ChainNode{
			{ID: "resolve-schema", Agent: "schema"},
			{ID: "generate-sql", Agent: "sql", DependsOn: []string{"resolve-schema"}},
		},
	}))
	return reg
}

func testRules() *config.PlanRuleRegistry {
	return config.NewPlanRuleRegistry([]*config.PlanRule{
		{
			ID:       "loan-deep-dive",
			Keywords: []string{"loan", "overdue"},
			Scenes:   []string{"loan_ops"},
			ChainID:  "loan-analysis",
			Priority: 100,
			Enabled:  true,
		},
		{ID: "adhoc-fallback", ChainID: "adhoc-analysis", Priority: 0, Enabled: true},
	})
}

func TestBuild_PicksHighestScoringRule(t *testing.T) {
	e := NewEngine(testChains(t), testRules())

	plan, err := e.Build(Request{
		Question: "overdue loan rate by product",
		Scene:    models.SceneLoanOps,
	})
	require.NoError(t, err)

	assert.Equal(t, "loan-analysis", plan.ChainID)
	assert.Len(t, plan.Tasks, 4)
	assert.Len(t, plan.Edges, 4)
	for _, task := range plan.Tasks {
		assert.Equal(t, models.TaskPending, task.Status)
	}
}

func TestBuild_FallbackWhenNoKeywordMatch(t *testing.T) {
	e := NewEngine(testChains(t), testRules())

	plan, err := e.Build(Request{Question: "monthly revenue", Scene: models.SceneDashboard})
	require.NoError(t, err)
	assert.Equal(t, "adhoc-analysis", plan.ChainID)
}

func TestBuild_TieBreaksByPriority(t *testing.T) {
	rules := config.NewPlanRuleRegistry([]*config.PlanRule{
		{ID: "low", Keywords: []string{"revenue"}, ChainID: "adhoc-analysis", Priority: 1, Enabled: true},
		{ID: "high", Keywords: []string{"monthly"}, ChainID: "loan-analysis", Priority: 10, Enabled: true},
	})
	e := NewEngine(testChains(t), rules)

	// One keyword hit each: identical score, priority decides.
	plan, err := e.Build(Request{Question: "monthly revenue", Scene: models.SceneDashboard})
	require.NoError(t, err)
	assert.Equal(t, "loan-analysis", plan.ChainID)
}

func TestBuild_TieBreaksByDeclarationOrder(t *testing.T) {
	rules := config.NewPlanRuleRegistry([]*config.PlanRule{
		{ID: "first", Keywords: []string{"revenue"}, ChainID: "loan-analysis", Priority: 5, Enabled: true},
		{ID: "second", Keywords: []string{"monthly"}, ChainID: "adhoc-analysis", Priority: 5, Enabled: true},
	})
	e := NewEngine(testChains(t), rules)

	plan, err := e.Build(Request{Question: "monthly revenue", Scene: models.SceneDashboard})
	require.NoError(t, err)
	assert.Equal(t, "loan-analysis", plan.ChainID, "earlier rule wins the tie")
}

func TestBuild_InfeasibleWithoutMatchingRule(t *testing.T) {
	rules := config.NewPlanRuleRegistry([]*config.PlanRule{
		{ID: "only", Keywords: []string{"loan"}, ChainID: "loan-analysis", Enabled: true},
	})
	e := NewEngine(testChains(t), rules)

	_, err := e.Build(Request{Question: "weather tomorrow", Scene: models.SceneDashboard})
	require.Error(t, err)
	assert.Equal(t, errs.KindPlanInfeasible, errs.KindOf(err))
}

func TestBuild_DisabledRulesIgnored(t *testing.T) {
	rules := config.NewPlanRuleRegistry([]*config.PlanRule{
		{ID: "off", Keywords: []string{"loan"}, ChainID: "loan-analysis", Enabled: false},
	})
	e := NewEngine(testChains(t), rules)

	_, err := e.Build(Request{Question: "loan stats", Scene: models.SceneLoanOps})
	require.Error(t, err)
	assert.Equal(t, errs.KindPlanInfeasible, errs.KindOf(err))
}

func TestBuild_EmptyQuestion(t *testing.T) {
	e := NewEngine(testChains(t), testRules())

	_, err := e.Build(Request{Scene: models.SceneDashboard})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestBuild_LoanTypeScoping(t *testing.T) {
	rules := config.NewPlanRuleRegistry([]*config.PlanRule{
		{
			ID:        "mortgage-only",
			Keywords:  []string{"loan"},
			LoanTypes: []string{"mortgage"},
			ChainID:   "loan-analysis",
			Priority:  50,
			Enabled:   true,
		},
		{ID: "fallback", ChainID: "adhoc-analysis", Enabled: true},
	})
	e := NewEngine(testChains(t), rules)

	plan, err := e.Build(Request{Question: "loan balances", Scene: models.SceneLoanOps, LoanType: "mortgage"})
	require.NoError(t, err)
	assert.Equal(t, "loan-analysis", plan.ChainID)

	plan, err = e.Build(Request{Question: "loan balances", Scene: models.SceneLoanOps, LoanType: "consumer"})
	require.NoError(t, err)
	assert.Equal(t, "adhoc-analysis", plan.ChainID, "loan_type mismatch falls through")
}
