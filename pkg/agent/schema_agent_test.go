package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbi-ai/chatbi/pkg/cache"
	"github.com/chatbi-ai/chatbi/pkg/dbadapter"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

const schemaFakeType = models.DatasourceType("schema-fake")

var introspections atomic.Int64

type schemaFakeAdapter struct{}

func (schemaFakeAdapter) Connect(context.Context) error { return nil }
func (schemaFakeAdapter) Disconnect() error             { return nil }
func (schemaFakeAdapter) Ping(context.Context) error    { return nil }
func (schemaFakeAdapter) Dialect() string               { return "fake" }

func (schemaFakeAdapter) Execute(context.Context, string, dbadapter.ExecOptions) (*dbadapter.QueryResult, error) {
	return &dbadapter.QueryResult{}, nil
}

func (schemaFakeAdapter) Introspect(context.Context) (*models.SchemaDescriptor, error) {
	introspections.Add(1)
	return wideSchema(), nil
}

func init() {
	dbadapter.Register(schemaFakeType, func(models.ConnectionInfo) (dbadapter.Adapter, error) {
		return schemaFakeAdapter{}, nil
	})
}

// wideSchema has enough tables to trigger ranking.
func wideSchema() *models.SchemaDescriptor {
	desc := &models.SchemaDescriptor{Dialect: "fake"}
	desc.Tables = append(desc.Tables,
		models.TableDescriptor{
			Name: "orders",
			Columns: []models.ColumnDescriptor{
				{Name: "product_id", Type: "integer", ForeignKey: &models.ForeignKeyRef{Table: "products", Column: "id"}},
				{Name: "revenue", Type: "numeric"},
			},
		},
		models.TableDescriptor{
			Name: "products",
			Columns: []models.ColumnDescriptor{
				{Name: "id", Type: "integer", PrimaryKey: true},
				{Name: "name", Type: "text"},
			},
		},
	)
	for i := 0; i < 15; i++ {
		desc.Tables = append(desc.Tables, models.TableDescriptor{
			Name: fmt.Sprintf("audit_shard_%02d", i),
			Columns: []models.ColumnDescriptor{
				{Name: "id", Type: "integer"},
				{Name: "payload", Type: "text"},
			},
		})
	}
	return desc
}

func TestRankTables_KeepsRelevantAndFKNeighbours(t *testing.T) {
	ranked := rankTables(wideSchema(), "top products by revenue")

	require.NotNil(t, ranked.Table("orders"), "revenue column matched")
	require.NotNil(t, ranked.Table("products"), "FK neighbour of orders kept")
	assert.Nil(t, ranked.Table("audit_shard_00"))
}

func TestRankTables_NoMatchReturnsFullSchema(t *testing.T) {
	full := wideSchema()
	ranked := rankTables(full, "zzz qqq xxx")
	assert.Len(t, ranked.Tables, len(full.Tables))
}

func TestRankTables_SmallSchemaUntouched(t *testing.T) {
	small := salesSchema()
	ranked := rankTables(small, "top products by revenue")
	assert.Len(t, ranked.Tables, len(small.Tables))
}

func TestSchemaAgent_Memoizes(t *testing.T) {
	pool := dbadapter.NewManager(dbadapter.PoolConfig{})
	defer pool.Shutdown()

	memo := cache.NewMemoizer(cache.NewMemory())
	agent := NewSchemaAgent(pool, memo, time.Minute)

	ds := models.Datasource{ID: "ds-wide", Type: schemaFakeType, Connection: models.ConnectionInfo{}}
	before := introspections.Load()

	first, err := agent.Describe(context.Background(), ds, "top products by revenue")
	require.NoError(t, err)
	second, err := agent.Describe(context.Background(), ds, "top products by revenue")
	require.NoError(t, err)

	assert.Equal(t, int64(1), introspections.Load()-before, "second call served from cache")
	assert.Equal(t, first.Tables, second.Tables)

	// A different question is a different fingerprint.
	_, err = agent.Describe(context.Background(), ds, "orders by region")
	require.NoError(t, err)
	assert.Equal(t, int64(2), introspections.Load()-before)
}
