package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/chatbi-ai/chatbi/pkg/models"
)

// PlanRule maps question features onto a chain. Rules are data: loaded at
// startup and live-editable through the registry.
//
// Predicate DSL: a rule matches when at least one keyword appears in the
// question (case-insensitive), and scene/loan_type lists, when non-empty,
// contain the request's values. Score = keyword hits, +2 for a scene
// match, +2 for a loan_type match. Ties break by priority, then by
// declaration order.
type PlanRule struct {
	ID        string   `yaml:"id" json:"id" validate:"required"`
	Name      string   `yaml:"name" json:"name"`
	Keywords  []string `yaml:"keywords" json:"keywords"`
	Scenes    []string `yaml:"scenes,omitempty" json:"scenes,omitempty"`
	LoanTypes []string `yaml:"loan_types,omitempty" json:"loan_types,omitempty"`
	ChainID   string   `yaml:"chain_id" json:"chain_id" validate:"required"`
	Priority  int      `yaml:"priority" json:"priority"`
	Enabled   bool     `yaml:"enabled" json:"enabled"`
}

// Score evaluates the rule against a question. Zero means no match.
func (r *PlanRule) Score(question string, scene models.Scene, loanType string) int {
	if !r.Enabled {
		return 0
	}
	if len(r.Scenes) > 0 && !containsFold(r.Scenes, string(scene)) {
		return 0
	}
	if len(r.LoanTypes) > 0 && !containsFold(r.LoanTypes, loanType) {
		return 0
	}

	// An empty keyword list is a wildcard: it matches any question with
	// the minimum score, so fallback rules lose every tie on hits.
	if len(r.Keywords) == 0 {
		return 1
	}

	q := strings.ToLower(question)
	var hits int
	for _, kw := range r.Keywords {
		if kw != "" && strings.Contains(q, strings.ToLower(kw)) {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	score := hits
	if len(r.Scenes) > 0 {
		score += 2
	}
	if len(r.LoanTypes) > 0 {
		score += 2
	}
	return score
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

// PlanRuleRegistry stores planning rules with copy-on-write mutation.
// Order is preserved: declaration order is the final tiebreaker.
type PlanRuleRegistry struct {
	mu    sync.RWMutex
	rules []*PlanRule
}

// NewPlanRuleRegistry seeds a registry.
func NewPlanRuleRegistry(rules []*PlanRule) *PlanRuleRegistry {
	copied := make([]*PlanRule, len(rules))
	copy(copied, rules)
	return &PlanRuleRegistry{rules: copied}
}

// List returns the current rule snapshot in declaration order.
func (r *PlanRuleRegistry) List() []*PlanRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rules
}

// Put installs or replaces a rule by id.
func (r *PlanRuleRegistry) Put(rule *PlanRule) error {
	if rule.ID == "" || rule.ChainID == "" {
		return fmt.Errorf("%w: plan rule needs id and chain_id", ErrInvalidValue)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make([]*PlanRule, 0, len(r.rules)+1)
	replaced := false
	for _, existing := range r.rules {
		if existing.ID == rule.ID {
			next = append(next, rule)
			replaced = true
			continue
		}
		next = append(next, existing)
	}
	if !replaced {
		next = append(next, rule)
	}
	r.rules = next
	return nil
}

// DiagnosisRegistry serves the attribution config copy-on-write.
type DiagnosisRegistry struct {
	mu  sync.RWMutex
	cfg models.DiagnosisConfig
}

// NewDiagnosisRegistry seeds the registry.
func NewDiagnosisRegistry(cfg models.DiagnosisConfig) *DiagnosisRegistry {
	return &DiagnosisRegistry{cfg: cfg}
}

// Get returns the current snapshot.
func (r *DiagnosisRegistry) Get() models.DiagnosisConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Put swaps the config.
func (r *DiagnosisRegistry) Put(cfg models.DiagnosisConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
}

// EmailConfig holds SMTP notification settings.
type EmailConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Host     string   `yaml:"host" json:"host"`
	Port     int      `yaml:"port" json:"port"`
	Username string   `yaml:"username,omitempty" json:"username,omitempty"`
	Password string   `yaml:"password,omitempty" json:"-"`
	From     string   `yaml:"from" json:"from"`
	To       []string `yaml:"to" json:"to"`
}

// EmailRegistry serves the email config copy-on-write.
type EmailRegistry struct {
	mu  sync.RWMutex
	cfg EmailConfig
}

// NewEmailRegistry seeds the registry.
func NewEmailRegistry(cfg EmailConfig) *EmailRegistry {
	return &EmailRegistry{cfg: cfg}
}

// Get returns the current snapshot.
func (r *EmailRegistry) Get() EmailConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Put swaps the config.
func (r *EmailRegistry) Put(cfg EmailConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
}
