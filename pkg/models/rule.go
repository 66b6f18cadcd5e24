package models

import "time"

// RuleOperator compares a metric value against a threshold.
type RuleOperator string

const (
	OpGreater      RuleOperator = ">"
	OpGreaterEqual RuleOperator = ">="
	OpLess         RuleOperator = "<"
	OpLessEqual    RuleOperator = "<="
	OpEqual        RuleOperator = "=="
)

// Compare applies the operator.
func (op RuleOperator) Compare(value, threshold float64) bool {
	switch op {
	case OpGreater:
		return value > threshold
	case OpGreaterEqual:
		return value >= threshold
	case OpLess:
		return value < threshold
	case OpLessEqual:
		return value <= threshold
	case OpEqual:
		return value == threshold
	}
	return false
}

// RuleSeverity grades an alerting rule.
type RuleSeverity string

const (
	SeverityLow    RuleSeverity = "low"
	SeverityMedium RuleSeverity = "medium"
	SeverityHigh   RuleSeverity = "high"
)

// MonitorRule is one alerting rule evaluated by the monitoring loop.
type MonitorRule struct {
	ID        string       `json:"id" db:"id"`
	Name      string       `json:"name" db:"name"`
	MetricKey string       `json:"metric_key" db:"metric_key"`
	Operator  RuleOperator `json:"operator" db:"operator"`
	Threshold float64      `json:"threshold" db:"threshold"`
	Severity  RuleSeverity `json:"severity" db:"severity"`
	Scope     string       `json:"scope" db:"scope"` // data | market
	Enabled   bool         `json:"enabled" db:"enabled"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// AlertStatus tracks an alert's lifecycle: triggered → notified → acknowledged.
type AlertStatus string

const (
	AlertTriggered    AlertStatus = "triggered"
	AlertNotified     AlertStatus = "notified"
	AlertAcknowledged AlertStatus = "acknowledged"
)

// Diagnosis is the attribution produced for an alert.
type Diagnosis struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points,omitempty"`
}

// NotificationRecord captures the outcome of the dispatch for an alert.
type NotificationRecord struct {
	Channel string    `json:"channel"`
	Result  string    `json:"result"`
	TS      time.Time `json:"ts"`
}

// Alert is one firing of a rule. It references the rule by id only.
type Alert struct {
	ID           string              `json:"id" db:"id"`
	RuleID       string              `json:"rule_id" db:"rule_id"`
	MetricKey    string              `json:"metric_key" db:"metric_key"`
	CurrentValue float64             `json:"current_value" db:"current_value"`
	Operator     RuleOperator        `json:"operator" db:"operator"`
	Threshold    float64             `json:"threshold" db:"threshold"`
	Severity     RuleSeverity        `json:"severity" db:"severity"`
	TriggeredAt  time.Time           `json:"triggered_at" db:"triggered_at"`
	Status       AlertStatus         `json:"status" db:"status"`
	Diagnosis    *Diagnosis          `json:"diagnosis,omitempty" db:"-"`
	Notification *NotificationRecord `json:"notification,omitempty" db:"-"`
}

// AttributionRule maps a metric to its likely causes and suggested actions.
type AttributionRule struct {
	MetricKey        string   `json:"metric_key" yaml:"metric_key"`
	PossibleCauses   []string `json:"possible_causes" yaml:"possible_causes"`
	SuggestedActions []string `json:"suggested_actions" yaml:"suggested_actions"`
}

// DiagnosisConfig is the attribution rule set used by the monitoring loop.
type DiagnosisConfig struct {
	AttributionRules []AttributionRule `json:"attribution_rules" yaml:"attribution_rules"`
	DefaultActions   []string          `json:"default_actions" yaml:"default_actions"`
}

// MetricSnapshot is one atomic observation of all known metrics.
type MetricSnapshot struct {
	Values  map[string]float64 `json:"values"`
	TakenAt time.Time          `json:"taken_at"`
}
