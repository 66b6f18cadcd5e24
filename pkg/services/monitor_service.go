package services

import (
	"context"

	"github.com/chatbi-ai/chatbi/pkg/models"
	"github.com/chatbi-ai/chatbi/pkg/monitoring"
)

// RuleStore is the persistence surface for monitoring rules.
type RuleStore interface {
	monitoring.RuleSource
	Rule(ctx context.Context, id string) (models.MonitorRule, error)
	SaveRule(ctx context.Context, rule models.MonitorRule) (models.MonitorRule, error)
	DeleteRule(ctx context.Context, id string) error
}

// MonitorService exposes the monitoring loop and rule management.
type MonitorService struct {
	loop  *monitoring.Loop
	rules RuleStore
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(loop *monitoring.Loop, rules RuleStore) *MonitorService {
	if loop == nil {
		panic("NewMonitorService: loop must not be nil")
	}
	if rules == nil {
		panic("NewMonitorService: rules must not be nil")
	}
	return &MonitorService{loop: loop, rules: rules}
}

// Snapshot returns the current metric values.
func (s *MonitorService) Snapshot(ctx context.Context) models.MetricSnapshot {
	return s.loop.Snapshot(ctx)
}

// Check runs one monitoring cycle on demand and returns the alerts it
// created.
func (s *MonitorService) Check(ctx context.Context) []models.Alert {
	return s.loop.Cycle(ctx)
}

// Alerts returns the retained alert history, newest first.
func (s *MonitorService) Alerts(_ context.Context) []models.Alert {
	return s.loop.Alerts()
}

// Ack acknowledges an alert, re-arming suppression for its rule.
func (s *MonitorService) Ack(ctx context.Context, alertID string) (models.Alert, error) {
	return s.loop.Ack(ctx, alertID)
}

// Resend re-dispatches the notification for an existing alert.
func (s *MonitorService) Resend(ctx context.Context, alertID string) (models.Alert, error) {
	return s.loop.Resend(ctx, alertID)
}

// ListRules returns all monitoring rules.
func (s *MonitorService) ListRules(ctx context.Context) ([]models.MonitorRule, error) {
	return s.rules.Rules(ctx)
}

// GetRule returns one monitoring rule.
func (s *MonitorService) GetRule(ctx context.Context, id string) (models.MonitorRule, error) {
	return s.rules.Rule(ctx, id)
}

// SaveRule creates or updates a monitoring rule. The next cycle picks
// it up; no restart needed.
func (s *MonitorService) SaveRule(ctx context.Context, rule models.MonitorRule) (models.MonitorRule, error) {
	return s.rules.SaveRule(ctx, rule)
}

// DeleteRule removes a monitoring rule.
func (s *MonitorService) DeleteRule(ctx context.Context, id string) error {
	return s.rules.DeleteRule(ctx, id)
}
