// Package raftcons implements consensus.Consensus on hashicorp/raft. The
// leader hosts the master collector and the FSM replicates the topology.
package raftcons

import (
    "context"
    "encoding/json"
    "io"
    "log"
    "os"
    "path/filepath"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/go-hclog"
    "github.com/hashicorp/raft"
    raftboltdb "github.com/hashicorp/raft-boltdb"

    c "github.com/amirimatin/go-usage/pkg/consensus"
    "github.com/amirimatin/go-usage/pkg/internal/logutil"
    "github.com/amirimatin/go-usage/pkg/state"
    st "github.com/amirimatin/go-usage/pkg/state/topology"
)

// Node is a raft member. Without a BindAddr it runs on an in-memory loopback
// transport; tests wire those together by hand.
type Node struct {
    opts Options
    log  *log.Logger
    lch  chan c.LeaderInfo

    mu    sync.Mutex
    r     *raft.Raft
    addr  raft.ServerAddress
    trans raft.Transport
    lb    raft.LoopbackTransport
    ts    state.TopologyState
    bolt  *raftboltdb.BoltStore
    obs   *raft.Observer
}

var (
    _ c.Consensus      = (*Node)(nil)
    _ c.LeaderNotifier = (*Node)(nil)
    _ c.Reconfigurer   = (*Node)(nil)
)

// New validates opts. Nothing is opened until Start.
func New(opts Options) (*Node, error) {
    if err := opts.withDefaults(); err != nil { return nil, err }
    ts := opts.State
    if ts == nil { ts = st.New() }
    return &Node{opts: opts, log: opts.Logger, lch: make(chan c.LeaderInfo, 16), ts: ts}, nil
}

// Start opens the stores and transport and starts raft. The node stops when
// ctx is cancelled. A second Start is a no-op.
func (n *Node) Start(ctx context.Context) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.r != nil { return nil }

    hlog := hclog.New(&hclog.LoggerOptions{Name: "raft." + n.opts.NodeID, Output: n.log.Writer(), Level: raftLogLevel()})
    cfg := n.config(hlog)
    logs, stable, snaps, err := n.openStores(hlog)
    if err != nil { return err }
    trans, err := n.openTransport(hlog)
    if err != nil { n.closeBolt(); return err }

    r, err := raft.NewRaft(cfg, newTopologyFSM(n.ts), logs, stable, snaps, trans)
    if err != nil {
        closeTransport(trans)
        n.closeBolt()
        return err
    }
    n.r, n.trans, n.addr = r, trans, trans.LocalAddr()
    n.lb, _ = trans.(raft.LoopbackTransport)
    n.observe()

    if n.opts.Bootstrap {
        boot := raft.Configuration{Servers: []raft.Server{{ID: cfg.LocalID, Address: n.addr}}}
        // ErrCantBootstrap means persisted state already holds a configuration.
        if err := r.BootstrapCluster(boot).Error(); err != nil && err != raft.ErrCantBootstrap {
            n.shutdownLocked()
            return err
        }
    }
    logutil.Infof(n.log, "raft %s started at %s (bootstrap=%v, data_dir=%q)", n.opts.NodeID, n.addr, n.opts.Bootstrap, n.opts.DataDir)

    go func() {
        <-ctx.Done()
        _ = n.Stop()
    }()
    return nil
}

func (n *Node) config(hlog hclog.Logger) *raft.Config {
    cfg := raft.DefaultConfig()
    cfg.LocalID = raft.ServerID(n.opts.NodeID)
    cfg.Logger = hlog
    if hb := n.opts.HeartbeatTimeout; hb > 0 {
        cfg.HeartbeatTimeout = hb
        // raft rejects a lease longer than the heartbeat
        if cfg.LeaderLeaseTimeout > hb { cfg.LeaderLeaseTimeout = hb / 2 }
    }
    if n.opts.ElectionTimeout > 0 { cfg.ElectionTimeout = n.opts.ElectionTimeout }
    if n.opts.CommitTimeout > 0 { cfg.CommitTimeout = n.opts.CommitTimeout }
    return cfg
}

func (n *Node) openStores(hlog hclog.Logger) (raft.LogStore, raft.StableStore, raft.SnapshotStore, error) {
    dir := n.opts.DataDir
    if dir == "" {
        return raft.NewInmemStore(), raft.NewInmemStore(), raft.NewInmemSnapshotStore(), nil
    }
    if err := os.MkdirAll(dir, 0o755); err != nil { return nil, nil, nil, err }
    bolt, err := raftboltdb.NewBoltStore(filepath.Join(dir, "raft.db"))
    if err != nil { return nil, nil, nil, err }
    snaps, err := raft.NewFileSnapshotStoreWithLogger(dir, n.opts.SnapshotsRetained, hlog)
    if err != nil { _ = bolt.Close(); return nil, nil, nil, err }
    n.bolt = bolt
    return bolt, bolt, snaps, nil
}

func (n *Node) openTransport(hlog hclog.Logger) (raft.Transport, error) {
    if n.opts.BindAddr == "" {
        _, t := raft.NewInmemTransport(raft.ServerAddress(n.opts.NodeID))
        return t, nil
    }
    return raft.NewTCPTransportWithLogger(n.opts.BindAddr, nil, 3, time.Second, hlog)
}

// observe forwards leadership changes, including the loss of a leader, to
// LeaderCh.
func (n *Node) observe() {
    ch := make(chan raft.Observation, 32)
    n.obs = raft.NewObserver(ch, false, func(o *raft.Observation) bool {
        _, ok := o.Data.(raft.LeaderObservation)
        return ok
    })
    n.r.RegisterObserver(n.obs)
    term := n.Term
    go func() {
        for o := range ch {
            lo := o.Data.(raft.LeaderObservation)
            n.emitLeader(c.LeaderInfo{ID: string(lo.LeaderID), Addr: string(lo.LeaderAddr), Term: term()})
        }
    }()
}

func (n *Node) current() *raft.Raft {
    n.mu.Lock()
    defer n.mu.Unlock()
    return n.r
}

// Apply replicates cmd and returns the FSM's error, if any. Followers get
// ErrNotLeader.
func (n *Node) Apply(cmd c.Command, timeout time.Duration) error {
    r := n.current()
    if r == nil { return ErrNotStarted }
    if r.State() != raft.Leader { return ErrNotLeader }
    data, err := json.Marshal(cmd)
    if err != nil { return err }
    if timeout <= 0 { timeout = n.opts.ApplyTimeout }
    af := r.Apply(data, timeout)
    if err := af.Error(); err != nil {
        if err == raft.ErrNotLeader || err == raft.ErrLeadershipLost { return ErrNotLeader }
        return err
    }
    if e, ok := af.Response().(error); ok { return e }
    return nil
}

func (n *Node) IsLeader() bool {
    r := n.current()
    return r != nil && r.State() == raft.Leader
}

func (n *Node) Leader() (id string, addr string, ok bool) {
    r := n.current()
    if r == nil { return "", "", false }
    a, sid := r.LeaderWithID()
    if sid == "" { return "", "", false }
    return string(sid), string(a), true
}

// Term reads the current term from raft stats, 0 when unknown.
func (n *Node) Term() uint64 {
    r := n.current()
    if r == nil { return 0 }
    u, err := strconv.ParseUint(r.Stats()["current_term"], 10, 64)
    if err != nil { return 0 }
    return u
}

// Stop shuts raft down and releases the stores. It is safe to call more
// than once.
func (n *Node) Stop() error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.r == nil { return nil }
    err := n.shutdownLocked()
    logutil.Infof(n.log, "raft %s stopped", n.opts.NodeID)
    return err
}

func (n *Node) shutdownLocked() error {
    n.r.DeregisterObserver(n.obs)
    err := n.r.Shutdown().Error()
    closeTransport(n.trans)
    n.closeBolt()
    n.r = nil
    return err
}

func (n *Node) closeBolt() {
    if n.bolt != nil { _ = n.bolt.Close(); n.bolt = nil }
}

func closeTransport(t raft.Transport) {
    if cl, ok := t.(io.Closer); ok { _ = cl.Close() }
}

// LeaderCh delivers leadership observations. Values are dropped when the
// consumer falls behind.
func (n *Node) LeaderCh() <-chan c.LeaderInfo { return n.lch }

func (n *Node) emitLeader(li c.LeaderInfo) {
    select {
    case n.lch <- li:
    default:
    }
}

// Topology returns the replicated topology this node applies commands to.
func (n *Node) Topology() state.TopologyState { return n.ts }

// Addr returns the raft transport address, known after Start.
func (n *Node) Addr() string {
    n.mu.Lock()
    defer n.mu.Unlock()
    return string(n.addr)
}

// AddVoter adds id as a voter. A voter already registered under a different
// address is replaced; one with the same address is left alone.
func (n *Node) AddVoter(id, addr string, timeout time.Duration) error {
    r := n.current()
    if r == nil { return ErrNotStarted }
    if f := r.GetConfiguration(); f.Error() == nil {
        for _, srv := range f.Configuration().Servers {
            if string(srv.ID) != id { continue }
            if string(srv.Address) == addr { return nil }
            if err := r.RemoveServer(srv.ID, 0, timeout).Error(); err != nil { return err }
            break
        }
    }
    return r.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout).Error()
}

// RemoveServer drops id from the configuration.
func (n *Node) RemoveServer(id string, timeout time.Duration) error {
    r := n.current()
    if r == nil { return ErrNotStarted }
    return r.RemoveServer(raft.ServerID(id), 0, timeout).Error()
}

// raftLogLevel keeps raft's own chatter at warn unless debug logging is on.
func raftLogLevel() hclog.Level {
    if logutil.DebugEnabled() { return hclog.Debug }
    return hclog.Warn
}
