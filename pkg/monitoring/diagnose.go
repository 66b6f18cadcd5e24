package monitoring

import (
	"fmt"

	"github.com/chatbi-ai/chatbi/pkg/models"
)

// diagnose renders the attribution for a new alert by substituting the
// current observation into the rule matching its metric key. Metrics
// without a dedicated rule get the default actions.
func diagnose(alert *models.Alert, cfg models.DiagnosisConfig) *models.Diagnosis {
	d := &models.Diagnosis{
		Summary: fmt.Sprintf("%s is %.4g, breaching threshold %s %.4g (severity %s)",
			alert.MetricKey, alert.CurrentValue, alert.Operator, alert.Threshold, alert.Severity),
	}

	for _, rule := range cfg.AttributionRules {
		if rule.MetricKey != alert.MetricKey {
			continue
		}
		for _, cause := range rule.PossibleCauses {
			d.KeyPoints = append(d.KeyPoints, "possible cause: "+cause)
		}
		for _, action := range rule.SuggestedActions {
			d.KeyPoints = append(d.KeyPoints, "suggested action: "+action)
		}
		return d
	}

	for _, action := range cfg.DefaultActions {
		d.KeyPoints = append(d.KeyPoints, "suggested action: "+action)
	}
	return d
}
