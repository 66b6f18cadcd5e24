package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatbi-ai/chatbi/pkg/config"
	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/models"
	"github.com/chatbi-ai/chatbi/pkg/notify"
)

// maxRetainedAlerts caps the in-memory alert history.
const maxRetainedAlerts = 1000

// RuleSource provides the current monitoring rules.
type RuleSource interface {
	Rules(ctx context.Context) ([]models.MonitorRule, error)
}

// AlertSink persists alerts as they are appended and updated. A nil
// sink drops them; the loop's in-memory state is authoritative either way.
type AlertSink interface {
	AppendAlert(ctx context.Context, alert models.Alert)
	UpdateAlert(ctx context.Context, alert models.Alert)
}

// Loop is the periodic monitoring/diagnosis controller.
type Loop struct {
	cfg       config.MonitoringConfig
	rules     RuleSource
	sources   *SourceRegistry
	diagnosis *config.DiagnosisRegistry
	notifier  *notify.Service
	sink      AlertSink
	log       *slog.Logger

	// now and sleep are swapped in tests.
	now   func() time.Time
	sleep func(time.Duration)

	mu       sync.Mutex
	alerts   []*models.Alert
	byID     map[string]*models.Alert
	lastSnap models.MetricSnapshot

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLoop wires the controller. sink may be nil.
func NewLoop(
	cfg config.MonitoringConfig,
	rules RuleSource,
	sources *SourceRegistry,
	diagnosis *config.DiagnosisRegistry,
	notifier *notify.Service,
	sink AlertSink,
) *Loop {
	return &Loop{
		cfg:       cfg,
		rules:     rules,
		sources:   sources,
		diagnosis: diagnosis,
		notifier:  notifier,
		sink:      sink,
		log:       slog.Default().With("component", "monitoring"),
		now:       time.Now,
		sleep:     time.Sleep,
		byID:      make(map[string]*models.Alert),
		stopCh:    make(chan struct{}),
	}
}

// Start runs the loop in the background until Stop.
func (l *Loop) Start(ctx context.Context) {
	interval := l.cfg.TickInterval()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		l.log.Info("Monitoring loop started", "interval", interval)
		for {
			select {
			case <-l.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cycle(ctx)
			}
		}
	}()
}

// Stop terminates the loop and waits for the current cycle.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}

// Cycle runs one snapshot, evaluate, dedupe, diagnose, notify, persist
// pass. Returns the alerts created this cycle.
func (l *Loop) Cycle(ctx context.Context) []models.Alert {
	snap := l.sources.Snapshot(ctx)
	l.mu.Lock()
	l.lastSnap = snap
	l.mu.Unlock()

	rules, err := l.rules.Rules(ctx)
	if err != nil {
		l.log.Error("Rule fetch failed, skipping cycle", "error", err)
		return nil
	}

	var created []models.Alert
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		value, ok := snap.Values[rule.MetricKey]
		if !ok {
			continue
		}
		if !rule.Operator.Compare(value, rule.Threshold) {
			continue
		}
		if l.suppressed(rule.ID, snap.TakenAt) {
			l.log.Debug("Alert suppressed", "rule_id", rule.ID)
			continue
		}

		alert := &models.Alert{
			ID:           uuid.NewString(),
			RuleID:       rule.ID,
			MetricKey:    rule.MetricKey,
			CurrentValue: value,
			Operator:     rule.Operator,
			Threshold:    rule.Threshold,
			Severity:     rule.Severity,
			TriggeredAt:  snap.TakenAt,
			Status:       models.AlertTriggered,
		}
		alert.Diagnosis = diagnose(alert, l.diagnosis.Get())

		l.dispatch(ctx, alert)
		l.append(ctx, alert)
		created = append(created, *alert)
	}
	return created
}

// Snapshot returns the last observation, collecting one on demand when
// the loop has not run yet.
func (l *Loop) Snapshot(ctx context.Context) models.MetricSnapshot {
	l.mu.Lock()
	snap := l.lastSnap
	l.mu.Unlock()
	if snap.TakenAt.IsZero() {
		return l.sources.Snapshot(ctx)
	}
	return snap
}

// Alerts returns the retained alerts, newest first.
func (l *Loop) Alerts() []models.Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Alert, 0, len(l.alerts))
	for i := len(l.alerts) - 1; i >= 0; i-- {
		out = append(out, *l.alerts[i])
	}
	return out
}

// Ack acknowledges an alert, re-arming its rule for the next firing.
func (l *Loop) Ack(ctx context.Context, alertID string) (models.Alert, error) {
	l.mu.Lock()
	alert, ok := l.byID[alertID]
	if !ok {
		l.mu.Unlock()
		return models.Alert{}, errs.New(errs.KindNotFound, "alert %s not found", alertID)
	}
	if alert.Status == models.AlertAcknowledged {
		l.mu.Unlock()
		return *alert, errs.New(errs.KindConflict, "alert %s is already acknowledged", alertID)
	}
	alert.Status = models.AlertAcknowledged
	out := *alert
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.UpdateAlert(ctx, out)
	}
	return out, nil
}

// Resend re-dispatches an existing alert's notification. Dispatch runs
// on a private copy; the shared alert only mutates under the lock.
func (l *Loop) Resend(ctx context.Context, alertID string) (models.Alert, error) {
	l.mu.Lock()
	alert, ok := l.byID[alertID]
	if !ok {
		l.mu.Unlock()
		return models.Alert{}, errs.New(errs.KindNotFound, "alert %s not found", alertID)
	}
	working := *alert
	l.mu.Unlock()

	l.dispatch(ctx, &working)

	l.mu.Lock()
	alert.Notification = working.Notification
	if alert.Status == models.AlertTriggered {
		alert.Status = working.Status
	}
	out := *alert
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.UpdateAlert(ctx, out)
	}
	return out, nil
}

// suppressed reports whether the rule's most recent unacknowledged
// alert is younger than the suppression window.
func (l *Loop) suppressed(ruleID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.alerts) - 1; i >= 0; i-- {
		a := l.alerts[i]
		if a.RuleID != ruleID {
			continue
		}
		if a.Status == models.AlertAcknowledged {
			return false
		}
		return now.Sub(a.TriggeredAt) < l.cfg.Suppression()
	}
	return false
}

// dispatch notifies with bounded retries. A delivery failure never rolls
// the alert back; the outcome lands in Alert.Notification either way.
func (l *Loop) dispatch(ctx context.Context, alert *models.Alert) {
	subject, body := renderNotification(alert)

	var err error
	attempts := l.cfg.NotifyRetries
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			l.sleep(time.Duration(attempt) * time.Second)
		}
		if err = l.notifier.Send(ctx, subject, body); err == nil {
			break
		}
		l.log.Warn("Notification attempt failed",
			"alert_id", alert.ID, "attempt", attempt+1, "error", err)
	}

	rec := &models.NotificationRecord{
		Channel: strings.Join(l.notifier.Channels(), ","),
		Result:  "delivered",
		TS:      l.now(),
	}
	if err != nil {
		rec.Result = "failed: " + err.Error()
	} else if alert.Status == models.AlertTriggered {
		alert.Status = models.AlertNotified
	}
	alert.Notification = rec
}

func (l *Loop) append(ctx context.Context, alert *models.Alert) {
	l.mu.Lock()
	l.alerts = append(l.alerts, alert)
	if len(l.alerts) > maxRetainedAlerts {
		drop := l.alerts[0]
		delete(l.byID, drop.ID)
		l.alerts = l.alerts[1:]
	}
	l.byID[alert.ID] = alert
	out := *alert
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.AppendAlert(ctx, out)
	}
}

func renderNotification(alert *models.Alert) (string, string) {
	subject := fmt.Sprintf("[%s] %s %s %.4g (current %.4g)",
		strings.ToUpper(string(alert.Severity)), alert.MetricKey, alert.Operator,
		alert.Threshold, alert.CurrentValue)

	var body strings.Builder
	fmt.Fprintf(&body, "Rule %s fired at %s.\n", alert.RuleID, alert.TriggeredAt.Format(time.RFC3339))
	if alert.Diagnosis != nil {
		fmt.Fprintf(&body, "\n%s\n", alert.Diagnosis.Summary)
		for _, kp := range alert.Diagnosis.KeyPoints {
			fmt.Fprintf(&body, "- %s\n", kp)
		}
	}
	return subject, body.String()
}
