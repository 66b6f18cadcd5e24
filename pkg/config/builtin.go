package config

import "github.com/chatbi-ai/chatbi/pkg/models"

// Defaults returns the built-in configuration every deployment starts
// from. User YAML is merged on top, overriding field by field.
func Defaults() *Config {
	return &Config{
		Pool: PoolConfig{
			MaxTotal:         50,
			MaxPerDatasource: 10,
			AcquireTimeoutMS: 5000,
			HealthIntervalMS: 30000,
		},
		Analyze: AnalyzeConfig{
			MaxCorrectionAttempts: 3,
			EndToEndTimeoutMS:     120000,
		},
		Monitoring: MonitoringConfig{
			TickIntervalMS: 60000,
			SuppressionMS:  900000,
			NotifyRetries:  3,
		},
		Execution: ExecutionConfig{
			MaxAttemptsPerTask: 3,
			StepCap:            30,
		},
		Memory: MemoryConfig{
			MaxEvents: 50000,
		},
		Scenes: map[string]SceneConfig{
			string(models.SceneDashboard): {
				ReadOnly:       true,
				QueryTimeoutMS: 15000,
				MaxRows:        500,
			},
			string(models.SceneDataDiscuss): {
				ReadOnly:       true,
				QueryTimeoutMS: 30000,
				MaxRows:        1000,
			},
			string(models.SceneLoanOps): {
				ReadOnly:       true,
				QueryTimeoutMS: 60000,
				MaxRows:        2000,
			},
		},
		Profiles: map[string]AgentProfile{
			"default": {
				Description: "Full toolset for interactive analysis",
				Features:    models.FeatureMask{SQLTool: true, RAGTool: true, RuleValidation: true},
			},
			"lightweight": {
				Description: "SQL only, for dashboard widgets",
				Features:    models.FeatureMask{SQLTool: true},
			},
		},
	}
}

// builtinChains are the chain templates shipped with the engine. YAML
// chains with the same id replace them.
func builtinChains() map[string]*Chain {
	chains := []*Chain{
		{
			ID:          "adhoc-analysis",
			Description: "Single-shot question over one datasource",
			Nodes: []ChainNode{
				{ID: "resolve-schema", Title: "Resolve schema", Agent: "schema"},
				{ID: "generate-sql", Title: "Generate SQL", Agent: "sql", DependsOn: []string{"resolve-schema"}},
				{ID: "visualize", Title: "Visualize result", Agent: "visualize", DependsOn: []string{"generate-sql"}, Skippable: true},
			},
		},
		{
			ID:          "loan-analysis",
			Description: "Loan portfolio deep dive: overview, risk and trend branches",
			Nodes: []ChainNode{
				{ID: "resolve-schema", Title: "Resolve schema", Agent: "schema"},
				{ID: "portfolio-overview", Title: "Portfolio overview", Agent: "sql", DependsOn: []string{"resolve-schema"}},
				{ID: "risk-breakdown", Title: "Risk breakdown", Agent: "sql", DependsOn: []string{"resolve-schema"}},
				{ID: "trend-analysis", Title: "Trend analysis", Agent: "sql", DependsOn: []string{"portfolio-overview"}, Skippable: true},
				{ID: "summary-visuals", Title: "Summary visuals", Agent: "visualize", DependsOn: []string{"portfolio-overview", "risk-breakdown"}, Skippable: true},
			},
		},
		{
			ID:          "metric-drilldown",
			Description: "Drill from an aggregate metric into its dimensions",
			Nodes: []ChainNode{
				{ID: "resolve-schema", Title: "Resolve schema", Agent: "schema"},
				{ID: "aggregate", Title: "Aggregate metric", Agent: "sql", DependsOn: []string{"resolve-schema"}},
				{ID: "dimension-split", Title: "Split by dimension", Agent: "sql", DependsOn: []string{"aggregate"}},
				{ID: "visualize", Title: "Visualize drilldown", Agent: "visualize", DependsOn: []string{"dimension-split"}, Skippable: true},
			},
		},
	}
	out := make(map[string]*Chain, len(chains))
	for _, c := range chains {
		out[c.ID] = c
	}
	return out
}

// builtinPlanRules route questions to the built-in chains. Declaration
// order is the final tiebreaker, so the specific rules come first.
func builtinPlanRules() []*PlanRule {
	return []*PlanRule{
		{
			ID:       "loan-deep-dive",
			Name:     "Loan portfolio deep dive",
			Keywords: []string{"loan", "portfolio", "overdue", "npl", "delinquen"},
			Scenes:   []string{string(models.SceneLoanOps)},
			ChainID:  "loan-analysis",
			Priority: 100,
			Enabled:  true,
		},
		{
			ID:        "loan-by-type",
			Name:      "Loan analysis scoped to a product type",
			Keywords:  []string{"loan", "mortgage", "consumer", "corporate"},
			LoanTypes: []string{"mortgage", "consumer", "corporate", "sme"},
			ChainID:   "loan-analysis",
			Priority:  90,
			Enabled:   true,
		},
		{
			ID:       "metric-drilldown",
			Name:     "Metric drilldown",
			Keywords: []string{"why", "breakdown", "by region", "by product", "drill"},
			ChainID:  "metric-drilldown",
			Priority: 50,
			Enabled:  true,
		},
		{
			ID:       "adhoc-fallback",
			Name:     "Ad-hoc single question",
			Keywords: nil, // matches any question
			ChainID:  "adhoc-analysis",
			Priority: 0,
			Enabled:  true,
		},
	}
}

// builtinDiagnosis covers the common BI metrics out of the box.
func builtinDiagnosis() models.DiagnosisConfig {
	return models.DiagnosisConfig{
		AttributionRules: []models.AttributionRule{
			{
				MetricKey: "overdue_rate",
				PossibleCauses: []string{
					"new cohort entering first repayment window",
					"collection capacity below schedule",
					"seasonal repayment dip",
				},
				SuggestedActions: []string{
					"compare cohort vintages for the last three months",
					"review collection queue backlog",
				},
			},
			{
				MetricKey: "approval_rate",
				PossibleCauses: []string{
					"risk policy tightening",
					"shift in application channel mix",
				},
				SuggestedActions: []string{
					"split approval rate by channel",
					"check recent policy rule changes",
				},
			},
			{
				MetricKey: "query_error_rate",
				PossibleCauses: []string{
					"datasource connectivity degradation",
					"schema drift breaking generated SQL",
				},
				SuggestedActions: []string{
					"run test_connection against affected datasources",
					"refresh the cached schema descriptors",
				},
			},
		},
		DefaultActions: []string{
			"inspect the metric trend over the suppression window",
			"escalate to the data owner if the deviation persists",
		},
	}
}
