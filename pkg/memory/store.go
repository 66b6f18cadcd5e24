// Package memory keeps a capped, append-only ring of interaction events
// used as conversational context for the agents.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatbi-ai/chatbi/pkg/models"
)

// DefaultMaxEvents caps the ring when no limit is configured.
const DefaultMaxEvents = 50000

// Enhancer optionally re-ranks search hits, e.g. with a semantic index.
// It receives the keyword-ranked candidates and may reorder or filter them.
type Enhancer func(ctx context.Context, query string, candidates []models.MemoryEvent) []models.MemoryEvent

// Sink receives every appended event, after id and timestamp are
// assigned. Used to persist the ring; failures are the sink's problem.
type Sink func(event models.MemoryEvent)

// Store is the in-process memory ring.
type Store struct {
	mu       sync.RWMutex
	events   []models.MemoryEvent
	start    int // ring head when full
	full     bool
	max      int
	enhancer Enhancer
	sink     Sink
}

// NewStore creates a ring capped at max events (DefaultMaxEvents if <= 0).
func NewStore(max int) *Store {
	if max <= 0 {
		max = DefaultMaxEvents
	}
	return &Store{events: make([]models.MemoryEvent, 0, min(max, 1024)), max: max}
}

// SetEnhancer plugs in a semantic re-ranking hook.
func (s *Store) SetEnhancer(e Enhancer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enhancer = e
}

// SetSink plugs in a persistence hook for appended events.
func (s *Store) SetSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Append records an event, assigning id and timestamp when absent.
// Oldest events are overwritten once the cap is reached.
func (s *Store) Append(event models.MemoryEvent) models.MemoryEvent {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.TS.IsZero() {
		event.TS = time.Now()
	}

	s.mu.Lock()
	if !s.full && len(s.events) < s.max {
		s.events = append(s.events, event)
		if len(s.events) == s.max {
			s.full = true
		}
	} else {
		s.events[s.start] = event
		s.start = (s.start + 1) % s.max
	}
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		sink(event)
	}
	return event
}

// Len reports the number of retained events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(limit int) []models.MemoryEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ordered := s.chronological()
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	// newest first
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}
	return ordered
}

// Search returns events matching the query, ranked by keyword overlap with
// ties broken by recency. Scene filters when non-empty.
func (s *Store) Search(ctx context.Context, query string, scene models.Scene, limit int) []models.MemoryEvent {
	terms := tokenize(query)
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	candidates := s.chronological()
	enhancer := s.enhancer
	s.mu.RUnlock()

	type scored struct {
		event models.MemoryEvent
		score int
		idx   int
	}
	var hits []scored
	for i, ev := range candidates {
		if scene != "" && ev.Scene != scene {
			continue
		}
		score := matchScore(ev, terms)
		if score > 0 {
			hits = append(hits, scored{event: ev, score: score, idx: i})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].idx > hits[j].idx
	})

	results := make([]models.MemoryEvent, 0, min(limit, len(hits)))
	for _, h := range hits {
		if len(results) == limit {
			break
		}
		results = append(results, h.event)
	}
	if enhancer != nil {
		results = enhancer(ctx, query, results)
	}
	return results
}

// chronological copies the ring oldest-first. Caller holds at least RLock.
func (s *Store) chronological() []models.MemoryEvent {
	out := make([]models.MemoryEvent, 0, len(s.events))
	if s.full {
		out = append(out, s.events[s.start:]...)
		out = append(out, s.events[:s.start]...)
	} else {
		out = append(out, s.events...)
	}
	return out
}

func matchScore(ev models.MemoryEvent, terms []string) int {
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(ev.UserText + " " + ev.ResultSummary + " " + ev.SQL)
	var score int
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			score++
		}
	}
	return score
}

func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}
