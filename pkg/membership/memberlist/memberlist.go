// Package memberlist implements membership.Membership on hashicorp/memberlist.
// Each node gossips its endpoint and raft addresses as JSON node meta.
package memberlist

import (
    "context"
    "errors"
    "fmt"
    "log"
    "sync"
    "time"

    "github.com/hashicorp/memberlist"

    "github.com/amirimatin/go-usage/pkg/internal/logutil"
    base "github.com/amirimatin/go-usage/pkg/membership"
)

var (
    errNotStarted = errors.New("memberlist: not started")
    errStopped    = errors.New("memberlist: stopped")
)

// leaveTimeout bounds how long Leave waits for the leave broadcast.
const leaveTimeout = time.Second

// Options configures the gossip layer.
type Options struct {
    NodeID string
    // Bind is host:port; port 0 picks a free port and an empty host binds
    // every interface.
    Bind string
    // Advertise is the host:port peers dial. Empty derives it from Bind.
    Advertise string
    // Meta is gossiped with the node, typically base.MetaEndpoint and
    // base.MetaRaft.
    Meta   map[string]string
    Logger *log.Logger

    // Zero keeps memberlist's LAN defaults.
    ProbeInterval time.Duration
    ProbeTimeout  time.Duration
    SuspicionMult int
}

func (o Options) Validate() error {
    if o.NodeID == "" { return fmt.Errorf("memberlist: empty NodeID") }
    if o.Bind == "" { return fmt.Errorf("memberlist: empty Bind address") }
    return nil
}

// config translates o into a memberlist config delivering events to ev.
func (o Options) config(ev memberlist.EventDelegate) (*memberlist.Config, error) {
    cfg := memberlist.DefaultLANConfig()
    cfg.Name = o.NodeID
    cfg.Logger = o.Logger
    host, port, err := splitHostPort(o.Bind)
    if err != nil { return nil, fmt.Errorf("memberlist: invalid bind address %q: %w", o.Bind, err) }
    // with port 0 the advertised port follows whatever memberlist bound
    cfg.BindAddr, cfg.BindPort, cfg.AdvertisePort = host, port, port
    if o.Advertise != "" {
        ahost, aport, err := splitHostPort(o.Advertise)
        if err != nil { return nil, fmt.Errorf("memberlist: invalid advertise address %q: %w", o.Advertise, err) }
        cfg.AdvertiseAddr, cfg.AdvertisePort = ahost, aport
    }
    if o.ProbeInterval > 0 { cfg.ProbeInterval = o.ProbeInterval }
    if o.ProbeTimeout > 0 { cfg.ProbeTimeout = o.ProbeTimeout }
    if o.SuspicionMult > 0 { cfg.SuspicionMult = o.SuspicionMult }

    meta, err := encodeMeta(o.Meta)
    if err != nil { return nil, err }
    cfg.Delegate = metaDelegate(meta)
    cfg.Events = ev
    return cfg, nil
}

type impl struct {
    opts Options

    mu     sync.RWMutex
    ml     *memberlist.Memberlist
    closed bool

    // emu guards the event channel on its own: memberlist calls the event
    // delegate while Create runs, that is with mu held.
    emu      sync.RWMutex
    evts     chan base.Event
    evClosed bool
}

var (
    _ base.Membership     = (*impl)(nil)
    _ base.HealthReporter = (*impl)(nil)
)

// New validates opts; the gossip listener opens on Start.
func New(opts Options) (base.Membership, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    if opts.Logger == nil { opts.Logger = log.Default() }
    return &impl{opts: opts, evts: make(chan base.Event, 64)}, nil
}

// Start binds the gossip listener. It stops itself when ctx ends.
func (m *impl) Start(ctx context.Context) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.ml != nil { return nil }
    if m.closed { return errStopped }
    cfg, err := m.opts.config(&events{emit: m.emit})
    if err != nil { return err }
    ml, err := memberlist.Create(cfg)
    if err != nil { return err }
    m.ml = ml
    logutil.Infof(m.opts.Logger, "memberlist %s listening at %s", m.opts.NodeID, memberAddr(ml.LocalNode()))
    go func() {
        <-ctx.Done()
        _ = m.Stop()
    }()
    return nil
}

func (m *impl) live() *memberlist.Memberlist {
    m.mu.RLock()
    defer m.mu.RUnlock()
    return m.ml
}

// Join contacts seeds. Reaching any one of them is success.
func (m *impl) Join(seeds []string) error {
    ml := m.live()
    if ml == nil { return errNotStarted }
    if len(seeds) == 0 { return nil }
    n, err := ml.Join(seeds)
    switch {
    case err != nil && n == 0:
        return err
    case err != nil:
        logutil.Warnf(m.opts.Logger, "memberlist: joined %d of %d seeds: %v", n, len(seeds), err)
    }
    return nil
}

func (m *impl) Local() base.MemberInfo {
    ml := m.live()
    if ml == nil { return base.MemberInfo{} }
    mi := toMember(ml.LocalNode())
    if len(mi.Meta) == 0 { mi.Meta = m.opts.Meta }
    return mi
}

func (m *impl) Members() []base.MemberInfo {
    ml := m.live()
    if ml == nil { return nil }
    nodes := ml.Members()
    out := make([]base.MemberInfo, len(nodes))
    for i, n := range nodes { out[i] = toMember(n) }
    return out
}

func (m *impl) Events() <-chan base.Event { return m.evts }

// Leave broadcasts a graceful leave. Peers then report EventLeave rather
// than EventFailed.
func (m *impl) Leave() error {
    ml := m.live()
    if ml == nil { return nil }
    if err := ml.Leave(leaveTimeout); err != nil {
        logutil.Warnf(m.opts.Logger, "memberlist: leave: %v", err)
    }
    return nil
}

// Stop shuts memberlist down and closes the event channel.
func (m *impl) Stop() error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed { return nil }
    m.closed = true
    if m.ml != nil {
        _ = m.ml.Shutdown()
        m.ml = nil
    }
    m.emu.Lock()
    m.evClosed = true
    close(m.evts)
    m.emu.Unlock()
    return nil
}

// HealthScore is memberlist's awareness score; 0 is healthy.
func (m *impl) HealthScore() int {
    ml := m.live()
    if ml == nil { return -1 }
    return ml.GetHealthScore()
}

func (m *impl) emit(e base.Event) {
    m.emu.RLock()
    defer m.emu.RUnlock()
    if m.evClosed { return }
    select {
    case m.evts <- e:
    default:
        logutil.Warnf(m.opts.Logger, "memberlist: dropping %s event for %s: channel full", e.Type, e.Member.ID)
    }
}
