package services

import (
	"context"

	"github.com/chatbi-ai/chatbi/pkg/memory"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

// MemoryService exposes the memory ring for inspection and recall.
type MemoryService struct {
	mem *memory.Store
}

// NewMemoryService creates a new MemoryService.
func NewMemoryService(mem *memory.Store) *MemoryService {
	if mem == nil {
		panic("NewMemoryService: mem must not be nil")
	}
	return &MemoryService{mem: mem}
}

// Search returns past events ranked by keyword overlap with the query,
// optionally scoped to one scene.
func (s *MemoryService) Search(ctx context.Context, query string, scene models.Scene, limit int) []models.MemoryEvent {
	return s.mem.Search(ctx, query, scene, limit)
}

// Recent returns the newest events.
func (s *MemoryService) Recent(_ context.Context, limit int) []models.MemoryEvent {
	return s.mem.Recent(limit)
}

// Record appends one event.
func (s *MemoryService) Record(_ context.Context, event models.MemoryEvent) models.MemoryEvent {
	return s.mem.Append(event)
}
