// Package node runs a usage collector inside a cluster: gossip membership
// decides who is in the cluster, consensus elects the master and replicates
// the topology, and a transport endpoint carries reports between nodes.
package node

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "net"
    "sync"
    "time"

    "github.com/amirimatin/go-usage/pkg/collector"
    "github.com/amirimatin/go-usage/pkg/consensus"
    "github.com/amirimatin/go-usage/pkg/discovery"
    "github.com/amirimatin/go-usage/pkg/internal/logutil"
    "github.com/amirimatin/go-usage/pkg/membership"
    obsmetrics "github.com/amirimatin/go-usage/pkg/observability/metrics"
    "github.com/amirimatin/go-usage/pkg/observability/tracing"
    "github.com/amirimatin/go-usage/pkg/pool"
    "github.com/amirimatin/go-usage/pkg/topology"
    "github.com/amirimatin/go-usage/pkg/transport"
    "github.com/amirimatin/go-usage/pkg/usage"
)

// Node wires a Collector to membership, consensus and a transport endpoint.
type Node struct {
    opts Options
    log  *log.Logger
    col  *collector.Collector
    ep   transport.Endpoint
    cons consensus.Consensus

    mu      sync.RWMutex
    mem     membership.Membership
    started bool
    closed  bool
    cancel  context.CancelFunc
    wg      sync.WaitGroup

    // owned by roleLoop
    lastLeader string
}

// New assembles a node from validated options. It performs no network
// activity; call Start to launch it.
func New(opts Options) (*Node, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    if opts.Logger == nil { opts.Logger = log.Default() }
    if opts.RoleTick <= 0 { opts.RoleTick = 200 * time.Millisecond }
    if opts.ApplyTimeout <= 0 { opts.ApplyTimeout = 3 * time.Second }
    if opts.Pool == nil { opts.Pool = pool.New() }
    col, err := collector.New(collector.Options{
        NodeID:      opts.NodeID,
        Codec:       opts.Codec,
        Aggregator:  opts.Aggregator,
        Pool:        opts.Pool,
        Transport:   opts.Endpoint,
        Topology:    opts.Topology,
        Logger:      opts.Logger,
        InitialRole: collector.RoleDefault,
    })
    if err != nil { return nil, err }
    n := &Node{opts: opts, log: opts.Logger, col: col, ep: opts.Endpoint, cons: opts.Consensus}
    opts.Endpoint.SetResolver(n.resolve)
    return n, nil
}

// Collector returns the node's collector, e.g. to import usages in-process.
func (n *Node) Collector() *collector.Collector { return n.col }

// ID returns the node identifier.
func (n *Node) ID() string { return n.opts.NodeID }

// Start launches the endpoint and consensus, then gossip membership with
// their addresses as metadata, and finally the role and membership loops.
func (n *Node) Start(ctx context.Context) (err error) {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.closed { return ErrStopped }
    if n.started { return nil }
    obsmetrics.Register()

    ctx, cancel := context.WithCancel(ctx)
    defer func() {
        if err != nil {
            cancel()
            _ = n.cons.Stop()
            _ = n.ep.Stop(context.Background())
        }
    }()
    if err := n.ep.Start(ctx, n.views()); err != nil { return fmt.Errorf("node: start endpoint: %w", err) }
    if err := n.cons.Start(ctx); err != nil { return fmt.Errorf("node: start consensus: %w", err) }

    meta := map[string]string{membership.MetaEndpoint: n.endpointAddr()}
    if ra, ok := n.cons.(interface{ Addr() string }); ok && ra.Addr() != "" {
        meta[membership.MetaRaft] = ra.Addr()
    }
    if unspecifiedHost(meta[membership.MetaEndpoint]) {
        logutil.Warnf(n.log, "node: endpoint %s is not routable by peers; set an advertise address", meta[membership.MetaEndpoint])
    }
    mem, err := n.opts.Membership(meta)
    if err != nil { return fmt.Errorf("node: membership: %w", err) }
    if err := mem.Start(ctx); err != nil { return fmt.Errorf("node: start membership: %w", err) }
    if n.opts.Discovery != nil {
        seeds := discovery.Without(n.opts.Discovery, mem.Local().Addr).Seeds()
        if len(seeds) > 0 {
            logutil.Infof(n.log, "joining membership seeds: %v", seeds)
            if err := mem.Join(seeds); err != nil {
                logutil.Warnf(n.log, "node: join seeds: %v", err)
            }
        }
    }

    n.mem = mem
    n.cancel = cancel
    n.started = true
    n.wg.Add(2)
    go n.roleLoop(ctx)
    go n.membershipLoop(ctx, mem.Events())
    logutil.Infof(n.log, "node %s started: endpoint=%s raft=%s", n.opts.NodeID, meta[membership.MetaEndpoint], meta[membership.MetaRaft])
    return nil
}

// Stop leaves the gossip cluster, stops the loops and shuts every component
// down. It is safe to call more than once.
func (n *Node) Stop(ctx context.Context) error {
    n.mu.Lock()
    if n.closed {
        n.mu.Unlock()
        return nil
    }
    n.closed = true
    mem, cancel := n.mem, n.cancel
    n.mu.Unlock()

    var errs []error
    if mem != nil { _ = mem.Leave() }
    if cancel != nil { cancel() }
    n.wg.Wait()
    if mem != nil {
        if err := mem.Stop(); err != nil { errs = append(errs, err) }
    }
    if err := n.cons.Stop(); err != nil { errs = append(errs, err) }
    if err := n.ep.Stop(ctx); err != nil { errs = append(errs, err) }
    if err := n.col.Close(); err != nil { errs = append(errs, err) }
    logutil.Infof(n.log, "node %s stopped", n.opts.NodeID)
    return errors.Join(errs...)
}

// Status returns this node's view of the cluster. It fails with
// ErrNotStarted before Start.
func (n *Node) Status(ctx context.Context) (*Status, error) {
    _, end := tracing.StartSpan(ctx, "node.status")
    defer end()
    n.mu.RLock()
    started := n.started
    n.mu.RUnlock()
    if !started { return nil, ErrNotStarted }
    s := &Status{
        NodeID:      n.opts.NodeID,
        Role:        n.col.Role().String(),
        Term:        n.cons.Term(),
        Endpoint:    n.endpointAddr(),
        LocalUsages: len(n.col.ExportUsages()),
        Sources:     n.col.Sources(),
        PoolSources: n.col.ResourcePool().Sources(),
    }
    if id, _, ok := n.cons.Leader(); ok {
        s.Healthy = true
        s.LeaderID = id
        s.LeaderAddr, _ = n.resolve(transport.Target(id))
    } else {
        s.Warnings = append(s.Warnings, "no leader elected")
    }
    mem := n.membership()
    if mem == nil {
        s.Warnings = append(s.Warnings, "membership not started")
        return s, nil
    }
    s.Members = mem.Members()
    obsmetrics.ClusterMembers.Set(float64(len(s.Members)))
    if hr, ok := mem.(membership.HealthReporter); ok {
        if score := hr.HealthScore(); score > 0 {
            s.Warnings = append(s.Warnings, fmt.Sprintf("gossip health degraded (score %d)", score))
        }
    }
    return s, nil
}

func (n *Node) membership() membership.Membership {
    n.mu.RLock(); defer n.mu.RUnlock()
    return n.mem
}

func (n *Node) endpointAddr() string {
    if n.opts.Advertise != "" { return n.opts.Advertise }
    return n.ep.Addr()
}

// resolve maps a send target to a peer endpoint: the master is looked up
// through the consensus leader, node IDs through gossip metadata.
func (n *Node) resolve(target transport.Target) (string, bool) {
    id := string(target)
    if target == transport.TargetMaster {
        lid, _, ok := n.cons.Leader()
        if !ok { return "", false }
        id = lid
    }
    if id == n.opts.NodeID { return n.endpointAddr(), true }
    mem := n.membership()
    if mem == nil { return "", false }
    for _, m := range mem.Members() {
        if m.ID == id {
            ep := m.Endpoint()
            return ep, ep != ""
        }
    }
    return "", false
}

func (n *Node) views() transport.Views {
    return transport.Views{
        Status: func(ctx context.Context) ([]byte, error) {
            st, err := n.Status(ctx)
            if err != nil { return nil, err }
            return json.Marshal(st)
        },
        Usages: func(context.Context) ([]byte, error) {
            return json.Marshal(usage.Report{Usages: n.col.ExportUsages()})
        },
        Pool: func(context.Context) ([]byte, error) {
            return json.Marshal(NewPoolView(n.col.Role().String(), n.col.ResourcePool()))
        },
    }
}

// roleLoop derives the collector role from consensus on every leader
// notification and on a fixed tick, since notifications may be dropped.
func (n *Node) roleLoop(ctx context.Context) {
    defer n.wg.Done()
    var lch <-chan consensus.LeaderInfo
    if ln, ok := n.cons.(consensus.LeaderNotifier); ok { lch = ln.LeaderCh() }
    t := time.NewTicker(n.opts.RoleTick)
    defer t.Stop()
    n.syncRole()
    for {
        select {
        case <-ctx.Done():
            return
        case li, ok := <-lch:
            if !ok {
                lch = nil
                continue
            }
            if li.ID != n.lastLeader {
                n.lastLeader = li.ID
                obsmetrics.LeaderChanges.Inc()
                if li.ID == "" {
                    logutil.Warnf(n.log, "leader lost (term=%d)", li.Term)
                } else {
                    logutil.Infof(n.log, "leader change observed: id=%s term=%d", li.ID, li.Term)
                }
            }
            n.syncRole()
        case <-t.C:
            n.syncRole()
        }
    }
}

func (n *Node) deriveRole() collector.Role {
    if n.cons.IsLeader() { return collector.RoleMaster }
    if _, _, ok := n.cons.Leader(); ok { return collector.RoleMember }
    return collector.RoleDefault
}

func (n *Node) syncRole() {
    role := n.deriveRole()
    prev := n.col.Role()
    if role == prev { return }
    if err := n.col.SetRole(role); err != nil {
        logutil.Warnf(n.log, "node: set role %s: %v", role, err)
        return
    }
    logutil.Infof(n.log, "role %s -> %s", prev, role)
    if role == collector.RoleMaster { n.reconcile() }
}

// reconcile makes a new leader's topology match the gossip view: members
// that joined or left while no leader was around are applied now.
func (n *Node) reconcile() {
    mem := n.membership()
    if mem == nil { return }
    members := mem.Members()
    seen := make(map[string]struct{}, len(members))
    for _, m := range members {
        seen[m.ID] = struct{}{}
        n.addMember(m)
    }
    lister, ok := n.opts.Topology.(interface{ Nodes() []topology.Node })
    if !ok { return }
    for _, nd := range lister.Nodes() {
        if _, ok := seen[nd.ID]; !ok { n.removeMember(nd.ID) }
    }
}

func (n *Node) membershipLoop(ctx context.Context, evch <-chan membership.Event) {
    defer n.wg.Done()
    for {
        select {
        case <-ctx.Done():
            return
        case e, ok := <-evch:
            if !ok { return }
            n.handleEvent(e)
        }
    }
}

func (n *Node) handleEvent(e membership.Event) {
    obsmetrics.MembershipEvents.WithLabelValues(string(e.Type)).Inc()
    if mem := n.membership(); mem != nil {
        obsmetrics.ClusterMembers.Set(float64(len(mem.Members())))
    }
    if e.Member.ID == n.opts.NodeID {
        if n.cons.IsLeader() && !e.Type.Gone() { n.addMember(e.Member) }
        return
    }
    if e.Type.Gone() {
        logutil.Infof(n.log, "member %s %s", e.Member.ID, e.Type)
        n.col.OnSourceDisconnected(e.Member.ID)
        if n.cons.IsLeader() { n.removeMember(e.Member.ID) }
        return
    }
    if n.cons.IsLeader() { n.addMember(e.Member) }
}

func (n *Node) addMember(m membership.MemberInfo) {
    if rc, ok := n.cons.(consensus.Reconfigurer); ok && m.ID != n.opts.NodeID {
        if ra := m.RaftAddr(); ra != "" {
            if err := rc.AddVoter(m.ID, ra, n.opts.ApplyTimeout); err != nil {
                logutil.Warnf(n.log, "add voter failed: id=%s addr=%s err=%v", m.ID, ra, err)
            }
        }
    }
    cmd, err := consensus.AddNode(m.Node())
    if err != nil {
        logutil.Warnf(n.log, "node: encode add %s: %v", m.ID, err)
        return
    }
    if err := n.cons.Apply(cmd, n.opts.ApplyTimeout); err != nil {
        logutil.Warnf(n.log, "node: apply add %s: %v", m.ID, err)
    }
}

func (n *Node) removeMember(id string) {
    if rc, ok := n.cons.(consensus.Reconfigurer); ok {
        if err := rc.RemoveServer(id, n.opts.ApplyTimeout); err != nil {
            logutil.Warnf(n.log, "remove voter failed: id=%s err=%v", id, err)
        } else {
            logutil.Infof(n.log, "removed voter: id=%s", id)
        }
    }
    cmd, err := consensus.RemoveNode(id)
    if err != nil { return }
    if err := n.cons.Apply(cmd, n.opts.ApplyTimeout); err != nil {
        logutil.Warnf(n.log, "node: apply remove %s: %v", id, err)
    }
}

func unspecifiedHost(addr string) bool {
    host, _, err := net.SplitHostPort(addr)
    if err != nil { return false }
    if host == "" { return true }
    ip := net.ParseIP(host)
    return ip != nil && ip.IsUnspecified()
}
