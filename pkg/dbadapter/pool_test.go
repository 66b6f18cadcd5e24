package dbadapter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

const fakeType = models.DatasourceType("fake")

// fakeAdapter is an in-memory Adapter for pool tests.
type fakeAdapter struct {
	pingErr     atomic.Value // error
	pings       atomic.Int32
	connects    atomic.Int32
	disconnects atomic.Int32
}

func (f *fakeAdapter) Connect(context.Context) error { f.connects.Add(1); return nil }
func (f *fakeAdapter) Disconnect() error             { f.disconnects.Add(1); return nil }
func (f *fakeAdapter) Ping(context.Context) error {
	f.pings.Add(1)
	if err, ok := f.pingErr.Load().(error); ok && err != nil {
		return err
	}
	return nil
}
func (f *fakeAdapter) Execute(context.Context, string, ExecOptions) (*QueryResult, error) {
	return &QueryResult{}, nil
}
func (f *fakeAdapter) Introspect(context.Context) (*models.SchemaDescriptor, error) {
	return &models.SchemaDescriptor{Dialect: "fake"}, nil
}
func (f *fakeAdapter) Dialect() string { return "fake" }

func init() {
	Register(fakeType, func(models.ConnectionInfo) (Adapter, error) {
		return &fakeAdapter{}, nil
	})
}

func fakeDS(id string) models.Datasource {
	return models.Datasource{ID: id, Type: fakeType, Connection: models.ConnectionInfo{}}
}

func TestPoolCapsPerDatasource(t *testing.T) {
	mgr := NewManager(PoolConfig{
		MaxTotal:         50,
		MaxPerDatasource: 10,
		AcquireTimeout:   100 * time.Millisecond,
	})
	defer mgr.Shutdown()

	ds := fakeDS("ds1")

	// Seed scenario: 11 concurrent acquisitions against a cap of 10 yield
	// 10 successes and one POOL_EXHAUSTED.
	var wg sync.WaitGroup
	var ok, exhausted atomic.Int32
	conns := make(chan *Conn, 11)
	for i := 0; i < 11; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := mgr.Acquire(context.Background(), ds)
			if err != nil {
				if errs.IsKind(err, errs.KindPoolExhausted) {
					exhausted.Add(1)
				}
				return
			}
			ok.Add(1)
			conns <- conn
		}()
	}
	wg.Wait()
	close(conns)

	assert.Equal(t, int32(10), ok.Load())
	assert.Equal(t, int32(1), exhausted.Load())
	assert.Equal(t, 10, mgr.Stats().PerDatasource["ds1"])

	for conn := range conns {
		conn.Release()
	}
	assert.Equal(t, 10, mgr.Stats().Idle["ds1"])
}

func TestPoolGlobalCap(t *testing.T) {
	mgr := NewManager(PoolConfig{
		MaxTotal:         3,
		MaxPerDatasource: 2,
		AcquireTimeout:   50 * time.Millisecond,
	})
	defer mgr.Shutdown()

	a1, err := mgr.Acquire(context.Background(), fakeDS("a"))
	require.NoError(t, err)
	a2, err := mgr.Acquire(context.Background(), fakeDS("a"))
	require.NoError(t, err)
	b1, err := mgr.Acquire(context.Background(), fakeDS("b"))
	require.NoError(t, err)

	// Global cap reached: datasource b still has per-ds headroom but must wait.
	_, err = mgr.Acquire(context.Background(), fakeDS("b"))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindPoolExhausted))

	a1.Release()
	a2.Release()
	b1.Release()
}

func TestPoolReusesIdleAndWakesWaitersFIFO(t *testing.T) {
	mgr := NewManager(PoolConfig{
		MaxTotal:         10,
		MaxPerDatasource: 1,
		AcquireTimeout:   time.Second,
	})
	defer mgr.Shutdown()

	ds := fakeDS("ds1")
	first, err := mgr.Acquire(context.Background(), ds)
	require.NoError(t, err)

	got := make(chan *Conn, 1)
	go func() {
		conn, err := mgr.Acquire(context.Background(), ds)
		require.NoError(t, err)
		got <- conn
	}()

	// Give the waiter time to queue, then release; it must receive the
	// same live connection rather than opening a new one.
	time.Sleep(20 * time.Millisecond)
	first.Release()

	select {
	case conn := <-got:
		assert.Same(t, first.Adapter, conn.Adapter)
		conn.Release()
	case <-time.After(time.Second):
		t.Fatal("waiter never received the released connection")
	}
	assert.Equal(t, 1, mgr.Stats().PerDatasource["ds1"])
}

func TestPoolHealthProbeDiscardsDeadConnections(t *testing.T) {
	mgr := NewManager(PoolConfig{
		MaxTotal:         10,
		MaxPerDatasource: 2,
		AcquireTimeout:   time.Second,
		HealthInterval:   time.Nanosecond, // force a probe on every checkout
	})
	defer mgr.Shutdown()

	ds := fakeDS("ds1")
	conn, err := mgr.Acquire(context.Background(), ds)
	require.NoError(t, err)
	dead := conn.Adapter.(*fakeAdapter)
	conn.Release()

	// Poison the idle connection; the next acquire must discard it and
	// hand out a fresh one.
	dead.pingErr.Store(errors.New("server closed the connection"))
	time.Sleep(time.Millisecond)

	fresh, err := mgr.Acquire(context.Background(), ds)
	require.NoError(t, err)
	assert.NotSame(t, dead, fresh.Adapter)
	assert.Equal(t, int32(1), dead.disconnects.Load())
	fresh.Release()

	assert.Equal(t, 1, mgr.Stats().PerDatasource["ds1"])
}

func TestPoolDiscardFreesCapacity(t *testing.T) {
	mgr := NewManager(PoolConfig{
		MaxTotal:         10,
		MaxPerDatasource: 1,
		AcquireTimeout:   500 * time.Millisecond,
	})
	defer mgr.Shutdown()

	ds := fakeDS("ds1")
	conn, err := mgr.Acquire(context.Background(), ds)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		next, err := mgr.Acquire(context.Background(), ds)
		require.NoError(t, err)
		next.Release()
	}()

	time.Sleep(20 * time.Millisecond)
	conn.Discard()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("discard did not free capacity for the waiter")
	}
}

func TestPoolDiscardWakesOtherDatasourceWaiters(t *testing.T) {
	mgr := NewManager(PoolConfig{
		MaxTotal:         2,
		MaxPerDatasource: 2,
		AcquireTimeout:   time.Second,
	})
	defer mgr.Shutdown()

	a1, err := mgr.Acquire(context.Background(), fakeDS("a"))
	require.NoError(t, err)
	a2, err := mgr.Acquire(context.Background(), fakeDS("a"))
	require.NoError(t, err)

	// Datasource b has per-ds headroom but the global cap is exhausted.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := mgr.Acquire(context.Background(), fakeDS("b"))
		assert.NoError(t, err)
		conn.Release()
	}()

	time.Sleep(20 * time.Millisecond)
	a1.Discard()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("freed global capacity never reached the waiter on the other datasource")
	}
	a2.Release()
}

func TestAcquireUnknownType(t *testing.T) {
	mgr := NewManager(DefaultPoolConfig())
	defer mgr.Shutdown()

	_, err := mgr.Acquire(context.Background(), models.Datasource{ID: "x", Type: "snowflake"})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}
