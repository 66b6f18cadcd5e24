package services

import (
	"context"

	"github.com/chatbi-ai/chatbi/pkg/analysis"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

// AnalysisService runs NL questions through the analysis pipeline.
type AnalysisService struct {
	pipeline *analysis.Pipeline
}

// NewAnalysisService creates a new AnalysisService.
func NewAnalysisService(pipeline *analysis.Pipeline) *AnalysisService {
	if pipeline == nil {
		panic("NewAnalysisService: pipeline must not be nil")
	}
	return &AnalysisService{pipeline: pipeline}
}

// Analyze answers one question. The result is returned even on failure:
// it carries the partial SQL, attempt count and error trail.
func (s *AnalysisService) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	return s.pipeline.Analyze(ctx, req)
}
