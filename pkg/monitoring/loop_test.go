package monitoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbi-ai/chatbi/pkg/config"
	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/models"
	"github.com/chatbi-ai/chatbi/pkg/notify"
)

type staticRules struct {
	rules []models.MonitorRule
}

func (s staticRules) Rules(context.Context) ([]models.MonitorRule, error) {
	return s.rules, nil
}

type flakyNotifier struct {
	mu       sync.Mutex
	failures int
	sent     int
}

func (f *flakyNotifier) Send(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("smtp timeout")
	}
	f.sent++
	return nil
}

func (f *flakyNotifier) Channel() string { return "email" }

func overdueRule() models.MonitorRule {
	return models.MonitorRule{
		ID:        "rule-overdue",
		Name:      "Overdue rate ceiling",
		MetricKey: "bl_overdue_rate",
		Operator:  models.OpGreater,
		Threshold: 0.03,
		Severity:  models.SeverityHigh,
		Enabled:   true,
	}
}

func newTestLoop(rules []models.MonitorRule, value float64, notifier notify.Notifier) (*Loop, *SourceRegistry) {
	sources := NewSourceRegistry()
	sources.Register(FuncSource{
		SourceName: "static",
		Fn: func(context.Context) (map[string]float64, error) {
			return map[string]float64{"bl_overdue_rate": value}, nil
		},
	})

	var svc *notify.Service
	if notifier != nil {
		svc = notify.NewService(notifier)
	} else {
		svc = notify.NewService()
	}

	loop := NewLoop(
		config.Defaults().Monitoring,
		staticRules{rules: rules},
		sources,
		config.NewDiagnosisRegistry(models.DiagnosisConfig{
			DefaultActions: []string{"inspect the metric trend"},
		}),
		svc,
		nil,
	)
	loop.sleep = func(time.Duration) {}
	return loop, sources
}

func TestCycle_AlertLifecycle(t *testing.T) {
	notifier := &flakyNotifier{}
	loop, _ := newTestLoop([]models.MonitorRule{overdueRule()}, 0.035, notifier)

	created := loop.Cycle(context.Background())
	require.Len(t, created, 1)

	alert := created[0]
	assert.Equal(t, models.AlertNotified, alert.Status, "successful delivery advances triggered to notified")
	assert.Equal(t, "bl_overdue_rate", alert.MetricKey)
	assert.InDelta(t, 0.035, alert.CurrentValue, 1e-9)
	require.NotNil(t, alert.Notification)
	assert.Equal(t, "delivered", alert.Notification.Result)
	require.NotNil(t, alert.Diagnosis)
	assert.Contains(t, alert.Diagnosis.Summary, "bl_overdue_rate")

	acked, err := loop.Ack(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertAcknowledged, acked.Status)

	_, err = loop.Ack(context.Background(), alert.ID)
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
}

func TestCycle_SuppressionWindow(t *testing.T) {
	loop, _ := newTestLoop([]models.MonitorRule{overdueRule()}, 0.035, &flakyNotifier{})

	first := loop.Cycle(context.Background())
	require.Len(t, first, 1)

	// Second cycle within the window: suppressed.
	second := loop.Cycle(context.Background())
	assert.Empty(t, second)

	// Acknowledging re-arms the rule.
	_, err := loop.Ack(context.Background(), first[0].ID)
	require.NoError(t, err)
	third := loop.Cycle(context.Background())
	assert.Len(t, third, 1)
}

func TestCycle_NoFiringBelowThreshold(t *testing.T) {
	loop, _ := newTestLoop([]models.MonitorRule{overdueRule()}, 0.02, &flakyNotifier{})
	assert.Empty(t, loop.Cycle(context.Background()))
}

func TestCycle_DisabledRuleIgnored(t *testing.T) {
	rule := overdueRule()
	rule.Enabled = false
	loop, _ := newTestLoop([]models.MonitorRule{rule}, 0.5, &flakyNotifier{})
	assert.Empty(t, loop.Cycle(context.Background()))
}

func TestDispatch_RetriesThenSucceeds(t *testing.T) {
	notifier := &flakyNotifier{failures: 2}
	loop, _ := newTestLoop([]models.MonitorRule{overdueRule()}, 0.035, notifier)

	created := loop.Cycle(context.Background())
	require.Len(t, created, 1)
	assert.Equal(t, models.AlertNotified, created[0].Status)
	assert.Equal(t, 1, notifier.sent)
}

func TestDispatch_FailureDoesNotRollBackAlert(t *testing.T) {
	notifier := &flakyNotifier{failures: 100}
	loop, _ := newTestLoop([]models.MonitorRule{overdueRule()}, 0.035, notifier)

	created := loop.Cycle(context.Background())
	require.Len(t, created, 1)

	alert := created[0]
	assert.Equal(t, models.AlertTriggered, alert.Status, "undelivered alert stays triggered")
	require.NotNil(t, alert.Notification)
	assert.Contains(t, alert.Notification.Result, "failed")
	assert.Len(t, loop.Alerts(), 1, "alert persisted despite delivery failure")
}

func TestResend_RedeliversExistingAlert(t *testing.T) {
	notifier := &flakyNotifier{failures: 3}
	loop, _ := newTestLoop([]models.MonitorRule{overdueRule()}, 0.035, notifier)

	created := loop.Cycle(context.Background())
	require.Len(t, created, 1)
	require.Equal(t, models.AlertTriggered, created[0].Status)

	resent, err := loop.Resend(context.Background(), created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertNotified, resent.Status)
	assert.Equal(t, "delivered", resent.Notification.Result)
}

func TestResend_KeepsAcknowledgedStatus(t *testing.T) {
	notifier := &flakyNotifier{failures: 3}
	loop, _ := newTestLoop([]models.MonitorRule{overdueRule()}, 0.035, notifier)

	created := loop.Cycle(context.Background())
	require.Len(t, created, 1)

	_, err := loop.Ack(context.Background(), created[0].ID)
	require.NoError(t, err)

	resent, err := loop.Resend(context.Background(), created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertAcknowledged, resent.Status, "redelivery never reverts an acknowledgement")
	require.NotNil(t, resent.Notification)
	assert.Equal(t, "delivered", resent.Notification.Result)
}

func TestResend_ConcurrentWithAlertReads(t *testing.T) {
	loop, _ := newTestLoop([]models.MonitorRule{overdueRule()}, 0.035, &flakyNotifier{})

	created := loop.Cycle(context.Background())
	require.Len(t, created, 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			loop.Alerts()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, err := loop.Resend(context.Background(), created[0].ID)
			assert.NoError(t, err)
		}
	}()
	wg.Wait()
}

func TestResend_UnknownAlert(t *testing.T) {
	loop, _ := newTestLoop(nil, 0, &flakyNotifier{})
	_, err := loop.Resend(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestSourceRegistry_FailingSourceSkipped(t *testing.T) {
	sources := NewSourceRegistry()
	sources.Register(FuncSource{
		SourceName: "broken",
		Fn: func(context.Context) (map[string]float64, error) {
			return nil, errors.New("collector down")
		},
	})
	sources.Register(FuncSource{
		SourceName: "healthy",
		Fn: func(context.Context) (map[string]float64, error) {
			return map[string]float64{"approval_rate": 0.8}, nil
		},
	})

	snap := sources.Snapshot(context.Background())
	assert.InDelta(t, 0.8, snap.Values["approval_rate"], 1e-9)
	assert.Len(t, snap.Values, 1)
}

func TestDiagnose_MatchingAttributionRule(t *testing.T) {
	alert := &models.Alert{
		MetricKey:    "overdue_rate",
		CurrentValue: 0.12,
		Operator:     models.OpGreater,
		Threshold:    0.10,
		Severity:     models.SeverityHigh,
	}
	cfg := models.DiagnosisConfig{
		AttributionRules: []models.AttributionRule{{
			MetricKey:        "overdue_rate",
			PossibleCauses:   []string{"collection backlog"},
			SuggestedActions: []string{"review queue"},
		}},
		DefaultActions: []string{"escalate"},
	}

	d := diagnose(alert, cfg)
	assert.Contains(t, d.Summary, "overdue_rate")
	assert.Contains(t, d.KeyPoints, "possible cause: collection backlog")
	assert.Contains(t, d.KeyPoints, "suggested action: review queue")
	assert.NotContains(t, d.KeyPoints, "suggested action: escalate")
}

func TestDiagnose_FallsBackToDefaultActions(t *testing.T) {
	alert := &models.Alert{MetricKey: "unknown_metric"}
	cfg := models.DiagnosisConfig{DefaultActions: []string{"escalate"}}

	d := diagnose(alert, cfg)
	assert.Contains(t, d.KeyPoints, "suggested action: escalate")
}
