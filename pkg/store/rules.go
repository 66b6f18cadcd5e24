package store

import (
	"context"
	stdsql "database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

// Rules returns all monitoring rules. Implements monitoring.RuleSource.
func (s *Store) Rules(ctx context.Context) ([]models.MonitorRule, error) {
	var rules []models.MonitorRule
	err := s.db.SelectContext(ctx, &rules,
		`SELECT id, name, metric_key, operator, threshold, severity, scope, enabled, updated_at
		 FROM monitor_rules ORDER BY id`)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "listing monitor rules")
	}
	return rules, nil
}

// Rule loads one monitoring rule.
func (s *Store) Rule(ctx context.Context, id string) (models.MonitorRule, error) {
	var rule models.MonitorRule
	err := s.db.GetContext(ctx, &rule,
		`SELECT id, name, metric_key, operator, threshold, severity, scope, enabled, updated_at
		 FROM monitor_rules WHERE id = $1`, id)
	if errors.Is(err, stdsql.ErrNoRows) {
		return rule, errs.New(errs.KindNotFound, "monitor rule %s not found", id)
	}
	if err != nil {
		return rule, errs.Wrap(errs.KindInternal, err, "loading monitor rule %s", id)
	}
	return rule, nil
}

// SaveRule inserts or updates a monitoring rule.
func (s *Store) SaveRule(ctx context.Context, rule models.MonitorRule) (models.MonitorRule, error) {
	if rule.MetricKey == "" {
		return rule, errs.New(errs.KindValidation, "metric_key is required")
	}
	switch rule.Operator {
	case models.OpGreater, models.OpGreaterEqual, models.OpLess, models.OpLessEqual, models.OpEqual:
	default:
		return rule, errs.New(errs.KindValidation, "unknown operator %q", rule.Operator)
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.UpdatedAt = time.Now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO monitor_rules (id, name, metric_key, operator, threshold, severity, scope, enabled, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   metric_key = EXCLUDED.metric_key,
		   operator = EXCLUDED.operator,
		   threshold = EXCLUDED.threshold,
		   severity = EXCLUDED.severity,
		   scope = EXCLUDED.scope,
		   enabled = EXCLUDED.enabled,
		   updated_at = EXCLUDED.updated_at`,
		rule.ID, rule.Name, rule.MetricKey, string(rule.Operator), rule.Threshold,
		string(rule.Severity), rule.Scope, rule.Enabled, rule.UpdatedAt)
	if err != nil {
		return rule, errs.Wrap(errs.KindInternal, err, "saving monitor rule %s", rule.ID)
	}
	return rule, nil
}

// DeleteRule removes a monitoring rule.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM monitor_rules WHERE id = $1`, id)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "deleting monitor rule %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.KindNotFound, "monitor rule %s not found", id)
	}
	return nil
}
