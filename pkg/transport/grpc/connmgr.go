package grpc

import (
    "context"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/connectivity"

    obsmetrics "github.com/amirimatin/go-usage/pkg/observability/metrics"
)

// DefaultConnTTL is how long an unused connection stays cached.
const DefaultConnTTL = 30 * time.Second

// Dialer opens a client connection to target.
type Dialer func(ctx context.Context, target string) (*grpc.ClientConn, error)

// ConnManager caches one connection per peer so a member's repeated reports
// to the master share it. Unused connections are closed after the TTL, and a
// connection that has shut down is replaced on the next Get.
type ConnManager struct {
    ttl  time.Duration
    dial Dialer
    now  func() time.Time

    mu    sync.Mutex
    conns map[string]*pooledConn

    stop     chan struct{}
    stopOnce sync.Once
}

type pooledConn struct {
    cc       *grpc.ClientConn
    users    int
    lastUsed time.Time
}

// NewConnManager starts a manager whose janitor runs every ttl/2.
func NewConnManager(ttl time.Duration, dial Dialer) *ConnManager {
    if ttl <= 0 { ttl = DefaultConnTTL }
    m := &ConnManager{ttl: ttl, dial: dial, now: time.Now, conns: make(map[string]*pooledConn), stop: make(chan struct{})}
    go m.janitor()
    return m
}

// Get returns a connection to target and the release func the caller must
// invoke when done with it.
func (m *ConnManager) Get(ctx context.Context, target string) (*grpc.ClientConn, func(), error) {
    release := func() { m.release(target) }
    if cc := m.checkout(target); cc != nil {
        obsmetrics.GRPCConnReuse.Inc()
        return cc, release, nil
    }
    cc, err := m.dial(ctx, target)
    if err != nil { return nil, func() {}, err }

    m.mu.Lock()
    defer m.mu.Unlock()
    if pc, ok := m.conns[target]; ok {
        // lost a dial race; keep the cached one
        _ = cc.Close()
        pc.users++
        pc.lastUsed = m.now()
        obsmetrics.GRPCConnReuse.Inc()
        return pc.cc, release, nil
    }
    m.conns[target] = &pooledConn{cc: cc, users: 1, lastUsed: m.now()}
    obsmetrics.GRPCConnDials.Inc()
    obsmetrics.GRPCConnActive.Inc()
    return cc, release, nil
}

// checkout claims a cached connection, dropping it first if it has shut
// down.
func (m *ConnManager) checkout(target string) *grpc.ClientConn {
    m.mu.Lock()
    defer m.mu.Unlock()
    pc, ok := m.conns[target]
    if !ok { return nil }
    if pc.cc.GetState() == connectivity.Shutdown {
        m.dropLocked(target, pc)
        return nil
    }
    pc.users++
    pc.lastUsed = m.now()
    return pc.cc
}

func (m *ConnManager) release(target string) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if pc, ok := m.conns[target]; ok {
        if pc.users > 0 { pc.users-- }
        pc.lastUsed = m.now()
    }
}

func (m *ConnManager) dropLocked(target string, pc *pooledConn) {
    _ = pc.cc.Close()
    obsmetrics.GRPCConnActive.Dec()
    delete(m.conns, target)
}

// Len returns the number of cached connections.
func (m *ConnManager) Len() int {
    m.mu.Lock()
    defer m.mu.Unlock()
    return len(m.conns)
}

// Close stops the janitor and closes every cached connection.
func (m *ConnManager) Close() {
    m.stopOnce.Do(func() { close(m.stop) })
    m.mu.Lock()
    defer m.mu.Unlock()
    for target, pc := range m.conns { m.dropLocked(target, pc) }
}

func (m *ConnManager) janitor() {
    t := time.NewTicker(m.ttl / 2)
    defer t.Stop()
    for {
        select {
        case <-m.stop:
            return
        case <-t.C:
            m.evictIdle(m.now().Add(-m.ttl))
        }
    }
}

// evictIdle closes connections nobody holds that were last used before
// cutoff.
func (m *ConnManager) evictIdle(cutoff time.Time) {
    m.mu.Lock()
    defer m.mu.Unlock()
    for target, pc := range m.conns {
        if pc.users > 0 || !pc.lastUsed.Before(cutoff) { continue }
        m.dropLocked(target, pc)
        obsmetrics.GRPCConnEvictions.Inc()
    }
}
