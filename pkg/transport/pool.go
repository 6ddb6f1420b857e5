// Package transport carries coordination messages between cluster
// nodes. The TCP transport reuses pooled connections per peer, which
// matters for a coordinator fanning the same phases out to many
// participants.
package transport

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// pooledConn wraps a net.Conn with a handle back to its peer pool so a
// caller can release it without closing the TCP session.
type pooledConn struct {
	net.Conn
	pool *peerPool
}

// release returns the connection to its pool for reuse.
func (c *pooledConn) release() {
	if c.pool == nil {
		return
	}
	c.pool.put(c.Conn)
	c.pool = nil
}

// discard closes the underlying connection permanently, used after a
// write error poisons the stream.
func (c *pooledConn) discard() {
	if c.pool != nil {
		c.pool.drop(c.Conn)
		c.pool = nil
		return
	}
	c.Conn.Close()
}

// peerPool holds reusable connections to a single peer address.
type peerPool struct {
	mu       sync.Mutex
	conns    chan net.Conn
	factory  func() (net.Conn, error)
	maxSize  int
	numConns int
	address  string
}

// poolManager keeps one peerPool per remote address.
type poolManager struct {
	mu      sync.RWMutex
	pools   map[string]*peerPool
	maxSize int
	timeout time.Duration
}

func newPoolManager(maxSize int, timeout time.Duration) *poolManager {
	return &poolManager{
		pools:   make(map[string]*peerPool),
		maxSize: maxSize,
		timeout: timeout,
	}
}

// get hands out a connection to address, dialing lazily.
func (m *poolManager) get(address string) (*pooledConn, error) {
	m.mu.RLock()
	pool, ok := m.pools[address]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		pool, ok = m.pools[address]
		if !ok {
			factory := func() (net.Conn, error) {
				return net.DialTimeout("tcp", address, m.timeout)
			}
			pool = &peerPool{
				conns:   make(chan net.Conn, m.maxSize),
				factory: factory,
				maxSize: m.maxSize,
				address: address,
			}
			m.pools[address] = pool
		}
		m.mu.Unlock()
	}

	conn, err := pool.get()
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return &pooledConn{Conn: conn, pool: pool}, nil
}

func (p *peerPool) get() (net.Conn, error) {
	select {
	case conn := <-p.conns:
		return conn, nil
	default:
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.numConns < p.maxSize {
			conn, err := p.factory()
			if err != nil {
				return nil, err
			}
			p.numConns++
			return conn, nil
		}
		// At capacity, wait for a connection to come back.
		return <-p.conns, nil
	}
}

func (p *peerPool) put(conn net.Conn) {
	if conn == nil {
		return
	}
	select {
	case p.conns <- conn:
	default:
		p.mu.Lock()
		conn.Close()
		p.numConns--
		p.mu.Unlock()
	}
}

// drop closes a connection that should not be reused.
func (p *peerPool) drop(conn net.Conn) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	conn.Close()
	p.numConns--
	p.mu.Unlock()
}

// closeAll shuts every pool down.
func (m *poolManager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pool := range m.pools {
		pool.closeAll()
	}
	m.pools = make(map[string]*peerPool)
}

func (p *peerPool) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	close(p.conns)
	for conn := range p.conns {
		conn.Close()
	}
	p.numConns = 0
}
