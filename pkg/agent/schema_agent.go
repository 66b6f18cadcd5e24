package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/chatbi-ai/chatbi/pkg/cache"
	"github.com/chatbi-ai/chatbi/pkg/dbadapter"
	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

// DefaultSchemaTTL bounds how long a ranked schema stays cached.
const DefaultSchemaTTL = 5 * time.Minute

// maxRankedTables caps the descriptor handed to the SQL agent; prompts
// over very wide databases stay bounded.
const maxRankedTables = 12

// SchemaAgent introspects a datasource and filters the descriptor down
// to the tables plausibly relevant to the question. Results are memoized
// per (datasource_id, question) fingerprint.
type SchemaAgent struct {
	pool *dbadapter.Manager
	memo *cache.Memoizer
	ttl  time.Duration
	log  *slog.Logger
}

// NewSchemaAgent wires the agent. memo may be nil to disable caching.
func NewSchemaAgent(pool *dbadapter.Manager, memo *cache.Memoizer, ttl time.Duration) *SchemaAgent {
	if ttl <= 0 {
		ttl = DefaultSchemaTTL
	}
	return &SchemaAgent{
		pool: pool,
		memo: memo,
		ttl:  ttl,
		log:  slog.Default().With("component", "schema_agent"),
	}
}

// Describe returns the ranked schema for the datasource and question.
func (a *SchemaAgent) Describe(ctx context.Context, ds models.Datasource, question string) (*models.SchemaDescriptor, error) {
	if a.memo == nil {
		return a.describe(ctx, ds, question)
	}

	fp := cache.Fingerprint("schema", ds.ID, question)
	raw, err := a.memo.Do(ctx, fp, a.ttl, func(ctx context.Context) ([]byte, error) {
		desc, err := a.describe(ctx, ds, question)
		if err != nil {
			return nil, err
		}
		return json.Marshal(desc)
	})
	if err != nil {
		return nil, err
	}

	var desc models.SchemaDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "cached schema descriptor corrupted")
	}
	return &desc, nil
}

// Invalidate drops the cached descriptors for a datasource/question pair.
func (a *SchemaAgent) Invalidate(ctx context.Context, datasourceID, question string) {
	if a.memo != nil {
		a.memo.Invalidate(ctx, cache.Fingerprint("schema", datasourceID, question))
	}
}

func (a *SchemaAgent) describe(ctx context.Context, ds models.Datasource, question string) (*models.SchemaDescriptor, error) {
	conn, err := a.pool.Acquire(ctx, ds)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	desc, err := conn.Introspect(ctx)
	if err != nil {
		return nil, err
	}
	ranked := rankTables(desc, question)
	a.log.Debug("Schema resolved",
		"datasource_id", ds.ID,
		"tables_total", len(desc.Tables),
		"tables_kept", len(ranked.Tables))
	return ranked, nil
}

// rankTables scores tables by token overlap with the question and pulls
// in foreign-key neighbours of the scoring tables. A question that
// matches nothing keeps the full descriptor: a valid schema always comes
// back, the SQL agent decides what to do with it.
func rankTables(desc *models.SchemaDescriptor, question string) *models.SchemaDescriptor {
	tokens := tokenize(question)
	if len(tokens) == 0 || len(desc.Tables) <= maxRankedTables {
		return desc
	}

	scores := make(map[string]int, len(desc.Tables))
	for _, t := range desc.Tables {
		scores[t.Name] = overlapScore(t, tokens)
	}

	// Foreign-key proximity: a neighbour of a scoring table is likely a
	// join target even when the question never names it.
	for _, t := range desc.Tables {
		if scores[t.Name] == 0 {
			continue
		}
		for _, c := range t.Columns {
			if c.ForeignKey != nil {
				scores[c.ForeignKey.Table]++
			}
		}
	}

	type ranked struct {
		name  string
		score int
	}
	var hits []ranked
	for name, score := range scores {
		if score > 0 {
			hits = append(hits, ranked{name, score})
		}
	}
	if len(hits) == 0 {
		return desc
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].name < hits[j].name
	})
	if len(hits) > maxRankedTables {
		hits = hits[:maxRankedTables]
	}

	keep := make(map[string]bool, len(hits))
	for _, h := range hits {
		keep[h.name] = true
	}
	out := &models.SchemaDescriptor{Dialect: desc.Dialect}
	for _, t := range desc.Tables {
		if keep[t.Name] {
			out.Tables = append(out.Tables, t)
		}
	}
	return out
}

func overlapScore(t models.TableDescriptor, tokens []string) int {
	var score int
	name := strings.ToLower(t.Name)
	for _, tok := range tokens {
		if strings.Contains(name, tok) || strings.Contains(tok, name) {
			score += 2
		}
	}
	for _, c := range t.Columns {
		col := strings.ToLower(c.Name)
		for _, tok := range tokens {
			if col == tok || strings.Contains(col, tok) {
				score++
			}
		}
	}
	return score
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	var out []string
	for _, f := range fields {
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}
