package store

import (
	"context"
	"encoding/json"

	"github.com/chatbi-ai/chatbi/pkg/models"
)

// The event family is append-mostly and best-effort: a persistence
// failure is logged and never fails the operation that produced the
// event.

// RecordQuery appends one query history row and stamps the datasource's
// last_used_at. Implements analysis.Recorder.
func (s *Store) RecordQuery(ctx context.Context, rec models.QueryRecord) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_history
		   (id, datasource_id, scene, question, sql_text, status, error_kind, row_count, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.DatasourceID, rec.Scene, rec.Question, rec.SQL,
		rec.Status, rec.ErrorKind, rec.RowCount, rec.DurationMS, rec.CreatedAt)
	if err != nil {
		s.log.Error("Failed to record query", "query_id", rec.ID, "error", err)
	}
	if rec.DatasourceID != "" {
		s.TouchDatasource(ctx, rec.DatasourceID)
	}
}

// RecordCorrections appends the correction trail of one query.
func (s *Store) RecordCorrections(ctx context.Context, queryID string, logs []models.CorrectionLog) {
	for _, entry := range logs {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO correction_logs (query_id, attempt, previous_sql, engine_error, corrected_sql, ts)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			queryID, entry.Attempt, entry.PreviousSQL, entry.EngineError, entry.CorrectedSQL, entry.TS)
		if err != nil {
			s.log.Error("Failed to record correction", "query_id", queryID, "attempt", entry.Attempt, "error", err)
		}
	}
}

// QueryHistory returns the most recent query records.
func (s *Store) QueryHistory(ctx context.Context, limit int) ([]models.QueryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.QueryRecord
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, datasource_id, scene, question, sql_text, status, error_kind, row_count, duration_ms, created_at
		 FROM query_history ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendAlert persists a new alert. Implements monitoring.AlertSink.
func (s *Store) AppendAlert(ctx context.Context, alert models.Alert) {
	diagnosis, _ := json.Marshal(alert.Diagnosis)
	notification, _ := json.Marshal(alert.Notification)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts
		   (id, rule_id, metric_key, current_value, operator, threshold, severity, triggered_at, status, diagnosis, notification)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		alert.ID, alert.RuleID, alert.MetricKey, alert.CurrentValue, string(alert.Operator),
		alert.Threshold, string(alert.Severity), alert.TriggeredAt, string(alert.Status),
		diagnosis, notification)
	if err != nil {
		s.log.Error("Failed to append alert", "alert_id", alert.ID, "error", err)
	}
}

// UpdateAlert rewrites an alert's mutable fields.
func (s *Store) UpdateAlert(ctx context.Context, alert models.Alert) {
	notification, _ := json.Marshal(alert.Notification)
	_, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = $2, notification = $3 WHERE id = $1`,
		alert.ID, string(alert.Status), notification)
	if err != nil {
		s.log.Error("Failed to update alert", "alert_id", alert.ID, "error", err)
	}
}

// AppendMemoryEvent persists one memory ring entry.
func (s *Store) AppendMemoryEvent(ctx context.Context, event models.MemoryEvent) {
	metadata, _ := json.Marshal(event.Metadata)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_events (id, ts, event_type, scene, user_text, result_summary, sql_text, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.TS, string(event.EventType), string(event.Scene),
		event.UserText, event.ResultSummary, event.SQL, metadata)
	if err != nil {
		s.log.Error("Failed to append memory event", "event_id", event.ID, "error", err)
	}
}

// SaveExecution upserts an execution snapshot.
func (s *Store) SaveExecution(ctx context.Context, exec models.Execution) {
	tasks, _ := json.Marshal(exec.Tasks)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (execution_id, plan_id, state, question, loan_type, tasks, cursor_index, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (execution_id) DO UPDATE SET
		   state = EXCLUDED.state,
		   tasks = EXCLUDED.tasks,
		   cursor_index = EXCLUDED.cursor_index,
		   updated_at = EXCLUDED.updated_at`,
		exec.ExecutionID, exec.PlanID, string(exec.State), exec.Question, exec.LoanType,
		tasks, exec.CursorIndex, exec.CreatedAt, exec.UpdatedAt)
	if err != nil {
		s.log.Error("Failed to save execution", "execution_id", exec.ExecutionID, "error", err)
	}
}

// PruneEvents deletes query history and memory events older than the
// cutoff, returning rows removed.
func (s *Store) PruneEvents(ctx context.Context, before string) (int64, error) {
	var total int64
	for _, q := range []string{
		`DELETE FROM query_history WHERE created_at < $1::timestamptz`,
		`DELETE FROM memory_events WHERE ts < $1::timestamptz`,
	} {
		res, err := s.db.ExecContext(ctx, q, before)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
