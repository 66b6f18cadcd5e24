package dbadapter

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

// PoolConfig bounds the process-wide connection pool.
type PoolConfig struct {
	MaxTotal         int           `yaml:"max_total"`
	MaxPerDatasource int           `yaml:"max_per_datasource"`
	AcquireTimeout   time.Duration `yaml:"acquire_timeout"`
	HealthInterval   time.Duration `yaml:"health_interval"`
	OpenRetries      int           `yaml:"open_retries"`
}

// DefaultPoolConfig returns the documented defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxTotal:         50,
		MaxPerDatasource: 10,
		AcquireTimeout:   5 * time.Second,
		HealthInterval:   30 * time.Second,
		OpenRetries:      3,
	}
}

// Conn is a pooled connection checked out from the manager.
type Conn struct {
	Adapter

	datasourceID string
	lastChecked  time.Time
	mgr          *Manager
	released     bool
}

// Release returns the connection to the pool. Safe to call once.
func (c *Conn) Release() {
	if c == nil || c.released {
		return
	}
	c.released = true
	c.mgr.release(c)
}

// Discard drops the connection instead of returning it, freeing capacity.
func (c *Conn) Discard() {
	if c == nil || c.released {
		return
	}
	c.released = true
	c.mgr.discard(c)
}

// waiter is one queued acquisition. A nil delivery means capacity freed up
// and the waiter should try opening a connection itself.
type waiter struct {
	ch chan *Conn
}

type dsPool struct {
	idle    []*Conn
	live    int
	waiters []*waiter
}

// Manager is the process-wide connection pool, keyed by datasource id.
// Acquisition is FIFO with a deadline; per-datasource and global caps are
// enforced unconditionally.
type Manager struct {
	cfg PoolConfig
	log *slog.Logger

	mu     sync.Mutex
	pools  map[string]*dsPool
	total  int
	closed bool
}

// NewManager creates a pool manager with the given bounds.
func NewManager(cfg PoolConfig) *Manager {
	if cfg.MaxTotal <= 0 {
		cfg.MaxTotal = 50
	}
	if cfg.MaxPerDatasource <= 0 {
		cfg.MaxPerDatasource = 10
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 5 * time.Second
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	if cfg.OpenRetries <= 0 {
		cfg.OpenRetries = 3
	}
	return &Manager{
		cfg:   cfg,
		log:   slog.Default().With("component", "db-pool"),
		pools: make(map[string]*dsPool),
	}
}

// Acquire checks out a connection for the datasource, opening one if the
// caps allow. Blocks FIFO behind other waiters up to the acquire timeout,
// then fails with POOL_EXHAUSTED.
func (m *Manager) Acquire(ctx context.Context, ds models.Datasource) (*Conn, error) {
	deadline := time.Now().Add(m.cfg.AcquireTimeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, errs.New(errs.KindInternal, "pool manager is shut down")
		}
		p := m.pool(ds.ID)

		// Reuse an idle connection when one is available.
		if n := len(p.idle); n > 0 {
			conn := p.idle[0]
			p.idle = p.idle[1:]
			m.mu.Unlock()

			if time.Since(conn.lastChecked) > m.cfg.HealthInterval {
				if err := conn.Ping(ctx); err != nil {
					m.log.Warn("Discarding unhealthy pooled connection",
						"datasource_id", ds.ID, "error", err)
					conn.released = true
					m.discard(conn)
					continue
				}
				conn.lastChecked = time.Now()
			}
			conn.released = false
			return conn, nil
		}

		// Open a new connection when under both caps.
		if p.live < m.cfg.MaxPerDatasource && m.total < m.cfg.MaxTotal {
			p.live++
			m.total++
			m.mu.Unlock()

			conn, err := m.open(ctx, ds)
			if err != nil {
				m.mu.Lock()
				p.live--
				m.total--
				m.wake(p)
				m.mu.Unlock()
				return nil, err
			}
			return conn, nil
		}

		// Pool exhausted: queue FIFO and wait for a release or capacity.
		w := &waiter{ch: make(chan *Conn, 1)}
		p.waiters = append(p.waiters, w)
		m.mu.Unlock()

		select {
		case conn := <-w.ch:
			if conn == nil {
				continue // capacity freed, retry the open path
			}
			conn.released = false
			return conn, nil
		case <-ctx.Done():
			m.abandon(ds.ID, w)
			// A connection may have been handed over concurrently.
			select {
			case conn := <-w.ch:
				if conn != nil {
					conn.released = true
					m.release(conn)
				}
			default:
			}
			return nil, errs.New(errs.KindPoolExhausted,
				"no connection for datasource %s within %s", ds.ID, m.cfg.AcquireTimeout).
				WithDetail("datasource_id", ds.ID)
		}
	}
}

// open dials a new connection with bounded, jittered exponential backoff.
func (m *Manager) open(ctx context.Context, ds models.Datasource) (*Conn, error) {
	var lastErr error
	for attempt := 0; attempt < m.cfg.OpenRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(openBackoff(attempt)):
			case <-ctx.Done():
				return nil, errs.New(errs.KindPoolExhausted,
					"no connection for datasource %s within %s", ds.ID, m.cfg.AcquireTimeout)
			}
		}
		adapter, err := New(ds.Type, ds.Connection)
		if err != nil {
			return nil, err
		}
		if err = adapter.Connect(ctx); err != nil {
			lastErr = err
			if !errs.IsRetryable(err) {
				return nil, err
			}
			m.log.Warn("Connection open failed, retrying",
				"datasource_id", ds.ID, "attempt", attempt+1, "error", err)
			continue
		}
		return &Conn{
			Adapter:      adapter,
			datasourceID: ds.ID,
			lastChecked:  time.Now(),
			mgr:          m,
		}, nil
	}
	return nil, lastErr
}

// openBackoff returns 100ms, 400ms, 1.6s ... jittered ±20%.
func openBackoff(attempt int) time.Duration {
	base := 100 * time.Millisecond
	for i := 1; i < attempt; i++ {
		base *= 4
	}
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(base) * jitter)
}

func (m *Manager) pool(datasourceID string) *dsPool {
	p, ok := m.pools[datasourceID]
	if !ok {
		p = &dsPool{}
		m.pools[datasourceID] = p
	}
	return p
}

// release hands the connection to the oldest waiter or parks it idle.
func (m *Manager) release(c *Conn) {
	m.mu.Lock()
	p := m.pool(c.datasourceID)
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		m.mu.Unlock()
		w.ch <- c
		return
	}
	if m.closed {
		p.live--
		m.total--
		m.mu.Unlock()
		_ = c.Disconnect()
		return
	}
	p.idle = append(p.idle, c)
	m.mu.Unlock()
}

// discard closes the connection and frees its capacity slot.
func (m *Manager) discard(c *Conn) {
	_ = c.Disconnect()
	m.mu.Lock()
	p := m.pool(c.datasourceID)
	p.live--
	m.total--
	m.wake(p)
	m.mu.Unlock()
}

// wake signals one waiter that capacity is available, preferring the
// pool that freed it. A freed slot also counts against the global cap,
// so waiters queued on other datasources are eligible too. Caller
// holds mu.
func (m *Manager) wake(p *dsPool) {
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		w.ch <- nil
		return
	}
	for _, other := range m.pools {
		if len(other.waiters) > 0 {
			w := other.waiters[0]
			other.waiters = other.waiters[1:]
			w.ch <- nil
			return
		}
	}
}

// abandon removes a timed-out waiter from the queue.
func (m *Manager) abandon(datasourceID string, target *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pool(datasourceID)
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// Stats reports live/idle counts per datasource.
type Stats struct {
	Total         int            `json:"total"`
	PerDatasource map[string]int `json:"per_datasource"`
	Idle          map[string]int `json:"idle"`
}

// Stats snapshots the pool occupancy.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Total: m.total, PerDatasource: map[string]int{}, Idle: map[string]int{}}
	for id, p := range m.pools {
		s.PerDatasource[id] = p.live
		s.Idle[id] = len(p.idle)
	}
	return s
}

// Shutdown closes all idle connections and refuses further acquisitions.
// Checked-out connections are closed as they are released.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	var toClose []*Conn
	for _, p := range m.pools {
		toClose = append(toClose, p.idle...)
		p.live -= len(p.idle)
		m.total -= len(p.idle)
		p.idle = nil
		for _, w := range p.waiters {
			close(w.ch)
		}
		p.waiters = nil
	}
	m.mu.Unlock()

	for _, c := range toClose {
		_ = c.Disconnect()
	}
	m.log.Info("Pool manager shut down")
}
