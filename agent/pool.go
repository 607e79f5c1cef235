package agent

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// connKey identifies a pool of interchangeable connections: same scheme,
// same host, same port.
type connKey struct {
	scheme string
	host   string
	port   string
}

// pooledConn wraps a net.Conn with the bookkeeping the janitor needs to
// evict it once idle too long, mirroring the teacher's Conn.lastActive/
// peerLastSeen atomics.
type pooledConn struct {
	net.Conn
	key        connKey
	lastActive atomic.Int64 // unix nanos
}

func newPooledConn(c net.Conn, key connKey) *pooledConn {
	pc := &pooledConn{Conn: c, key: key}
	pc.touch()
	return pc
}

func (pc *pooledConn) touch() { pc.lastActive.Store(time.Now().UnixNano()) }

func (pc *pooledConn) idleFor() time.Duration {
	return time.Since(time.Unix(0, pc.lastActive.Load()))
}

// pool is a keyed set of idle connections available for reuse, swept
// periodically by a janitor goroutine. It is the agent package's analogue of
// the teacher's Listener.conns sync.Map plus Listener.janitor.
type pool struct {
	idleTimeout time.Duration

	mu    sync.Mutex
	conns map[connKey][]*pooledConn

	closeOnce sync.Once
	done      chan struct{}
}

func newPool(idleTimeout time.Duration) *pool {
	p := &pool{
		idleTimeout: idleTimeout,
		conns:       make(map[connKey][]*pooledConn),
		done:        make(chan struct{}),
	}
	go p.janitor()
	return p
}

// get removes and returns one idle connection for key, or nil if none is
// available. The caller is responsible for checking the connection is still
// alive before reusing it.
func (p *pool) get(key connKey) *pooledConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	bucket := p.conns[key]
	if len(bucket) == 0 {
		return nil
	}
	last := bucket[len(bucket)-1]
	p.conns[key] = bucket[:len(bucket)-1]
	return last
}

// put returns a connection to the pool for future reuse.
func (p *pool) put(pc *pooledConn) {
	pc.touch()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[pc.key] = append(p.conns[pc.key], pc)
}

// janitor periodically closes connections idle longer than idleTimeout,
// the same ticker-driven sweep the teacher's Listener runs over l.conns.
func (p *pool) janitor() {
	if p.idleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(p.idleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *pool) sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, bucket := range p.conns {
		kept := bucket[:0]
		for _, pc := range bucket {
			if pc.idleFor() > p.idleTimeout {
				_ = pc.Close()
				continue
			}
			kept = append(kept, pc)
		}
		if len(kept) == 0 {
			delete(p.conns, key)
		} else {
			p.conns[key] = kept
		}
	}
}

// closeAll stops the janitor and closes every pooled connection.
func (p *pool) closeAll() {
	p.closeOnce.Do(func() { close(p.done) })
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, bucket := range p.conns {
		for _, pc := range bucket {
			_ = pc.Close()
		}
		delete(p.conns, key)
	}
}

// probeAlive does a one-byte read with a 1ms deadline to detect a connection
// the peer has already closed while it sat idle in the pool.
func probeAlive(c net.Conn) bool {
	if err := c.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return false
	}
	defer c.SetReadDeadline(time.Time{})
	var b [1]byte
	_, err := c.Read(b[:])
	if err == nil {
		// Unexpected data ahead of any request; treat as unusable.
		return false
	}
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
