// Package planning maps questions onto chain templates and materialises
// them as executable plans.
package planning

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chatbi-ai/chatbi/pkg/config"
	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

// Request is one planning call.
type Request struct {
	Question string       `json:"question"`
	Scene    models.Scene `json:"scene"`
	LoanType string       `json:"loan_type,omitempty"`
}

// Engine scores the rule set against a request and instantiates the
// winning chain. Rules and chains are live registries; every Build sees
// the current snapshot.
type Engine struct {
	chains *config.ChainRegistry
	rules  *config.PlanRuleRegistry
	log    *slog.Logger
}

// NewEngine wires the planner onto the registries.
func NewEngine(chains *config.ChainRegistry, rules *config.PlanRuleRegistry) *Engine {
	return &Engine{
		chains: chains,
		rules:  rules,
		log:    slog.Default().With("component", "planning"),
	}
}

// Build picks the highest-scoring rule and materialises its chain.
// Ties break by rule priority, then by declaration order. No scoring
// rule at all is PLAN_INFEASIBLE.
func (e *Engine) Build(req Request) (*models.Plan, error) {
	if req.Question == "" {
		return nil, errs.New(errs.KindValidation, "question is required")
	}

	var (
		best      *config.PlanRule
		bestScore int
	)
	for _, rule := range e.rules.List() {
		score := rule.Score(req.Question, req.Scene, req.LoanType)
		if score == 0 {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && rule.Priority > best.Priority) {
			best = rule
			bestScore = score
		}
	}
	if best == nil {
		return nil, errs.New(errs.KindPlanInfeasible,
			"no planning rule matches question in scene %q", req.Scene)
	}

	chain, err := e.chains.Get(best.ChainID)
	if err != nil {
		return nil, errs.Wrap(errs.KindPlanInfeasible, err,
			"rule %q selected chain %q", best.ID, best.ChainID)
	}

	plan := materialise(chain, req)
	e.log.Info("Plan built",
		"plan_id", plan.ID,
		"rule_id", best.ID,
		"chain_id", chain.ID,
		"score", bestScore,
		"tasks", len(plan.Tasks))
	return plan, nil
}

// materialise snapshots the chain template into a static task graph.
func materialise(chain *config.Chain, req Request) *models.Plan {
	plan := &models.Plan{
		ID:        uuid.NewString(),
		Question:  req.Question,
		Scene:     req.Scene,
		LoanType:  req.LoanType,
		ChainID:   chain.ID,
		CreatedAt: time.Now(),
	}
	for _, node := range chain.Nodes {
		plan.Tasks = append(plan.Tasks, models.Task{
			TaskID:        node.ID,
			Title:         node.Title,
			AssignedAgent: node.Agent,
			DependsOn:     node.DependsOn,
			Skippable:     node.Skippable,
			Status:        models.TaskPending,
		})
		for _, dep := range node.DependsOn {
			plan.Edges = append(plan.Edges, models.Edge{From: dep, To: node.ID})
		}
	}
	return plan
}
