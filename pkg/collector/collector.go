// Package collector tracks resource usages reported to a cluster node. It
// keeps the node's local view, retracts usages when their source goes away,
// and, depending on the node's role, either forwards the local view to the
// master or folds peer reports into the cluster pool.
//
// Every entry point serializes on one lock. Aggregator change notifications
// fire inside that critical section, so a local change and the reaction to
// it (forwarding to the master) are never interleaved with other events.
package collector

import (
    "context"
    "log"
    "sync"

    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/go-usage/pkg/aggregator"
    "github.com/amirimatin/go-usage/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-usage/pkg/observability/metrics"
    "github.com/amirimatin/go-usage/pkg/observability/tracing"
    "github.com/amirimatin/go-usage/pkg/pool"
    "github.com/amirimatin/go-usage/pkg/registry"
    "github.com/amirimatin/go-usage/pkg/topology"
    "github.com/amirimatin/go-usage/pkg/transport"
    "github.com/amirimatin/go-usage/pkg/usage"
)

// Collector is the public surface over the source registry, the local
// aggregator, the cluster pool and the role dispatcher.
type Collector struct {
    mu     sync.Mutex
    closed bool
    log    *log.Logger
    codec  usage.Codec
    agg    aggregator.Aggregator
    pool   pool.Pool
    reg    *registry.Registry
    d      *dispatcher
    unsub  func()
}

// New builds a Collector, enters opts.InitialRole and registers the
// collector's handlers on the transport and topology source.
func New(opts Options) (*Collector, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    if opts.Codec == nil { opts.Codec = usage.NewCodec() }
    if opts.Aggregator == nil { opts.Aggregator = aggregator.New() }
    if opts.Logger == nil { opts.Logger = log.Default() }
    c := &Collector{
        log:   opts.Logger,
        codec: opts.Codec,
        agg:   opts.Aggregator,
        pool:  opts.Pool,
        reg:   registry.New(),
    }
    c.d = newDispatcher(opts.NodeID, opts.Codec, opts.Aggregator, opts.Pool, opts.Transport, opts.Logger)
    // Fires from inside Update, which only runs under c.mu.
    c.unsub = c.agg.Subscribe(func() {
        obsmetrics.LocalUsages.Set(float64(len(c.agg.Export())))
        c.d.localChange()
    })
    c.d.role = opts.InitialRole
    c.d.current().enter(c.d)
    obsmetrics.SetRole(opts.InitialRole.String(), RoleNames())

    opts.Transport.OnMessage(c.HandleMessage)
    opts.Transport.OnDisconnect(c.OnSourceDisconnected)
    if opts.Topology != nil { opts.Topology.OnUpdate(c.HandleTopology) }
    return c, nil
}

// ImportUsages decodes raw and merges the result into the local view. When
// source is non-empty the decoded names are attributed to it first, so a
// later OnSourceDisconnected(source) retracts them. On malformed input it
// returns (nil, false) and changes nothing.
func (c *Collector) ImportUsages(raw []byte, source string) ([]usage.Usage, bool) {
    c.mu.Lock(); defer c.mu.Unlock()
    if c.closed { return nil, false }
    return c.importLocked(raw, source)
}

func (c *Collector) importLocked(raw []byte, source string) ([]usage.Usage, bool) {
    ctx, end := tracing.StartSpan(context.Background(), "collector.import", attribute.String("source", source))
    defer end()
    us, err := c.codec.Decode(raw)
    if err != nil {
        tracing.Fail(ctx, err)
        obsmetrics.Imports.WithLabelValues("rejected").Inc()
        logutil.Debugf(c.log, "rejecting import from %q: %v", source, err)
        return nil, false
    }
    if source != "" { c.reg.Record(source, usage.Names(us)) }
    c.agg.Update(us, nil)
    obsmetrics.Imports.WithLabelValues("accepted").Inc()
    return us, true
}

// ExportUsages returns a snapshot of the local view ordered by name. It is
// empty, not nil, when nothing has been imported.
func (c *Collector) ExportUsages() []usage.Usage {
    c.mu.Lock(); defer c.mu.Unlock()
    out := c.agg.Export()
    if out == nil { out = []usage.Usage{} }
    return out
}

// OnSourceDisconnected retracts every name source contributed and removes
// those names from the local view, even when another source wrote the same
// name later. Unknown sources are a no-op.
func (c *Collector) OnSourceDisconnected(source string) {
    c.mu.Lock(); defer c.mu.Unlock()
    if c.closed { return }
    names := c.reg.Retract(source)
    if len(names) == 0 { return }
    obsmetrics.Retracted.Add(float64(len(names)))
    logutil.Infof(c.log, "source %s disconnected, retracting %d usages", source, len(names))
    c.agg.Update(nil, names)
}

// ResourcePool exposes the cluster pool for readers. Its content is only
// authoritative while Role() is RoleMaster.
func (c *Collector) ResourcePool() pool.Reader { return c.pool }

// HandleMessage routes an inbound transport message. collect.usages reports
// go to the role dispatcher, import.usages is imported on behalf of source,
// anything else is dropped.
func (c *Collector) HandleMessage(msg transport.Message, source string) {
    c.mu.Lock(); defer c.mu.Unlock()
    if c.closed { return }
    switch msg.Type {
    case transport.TypeCollectUsages:
        c.d.inboundReport(source, msg.Data)
    case transport.TypeImportUsages:
        c.importLocked(msg.Data, source)
    default:
        logutil.Debugf(c.log, "ignoring message type %q from %s", msg.Type, source)
    }
}

// HandleTopology syncs the pool to the node list in u. An update without a
// node list is ignored.
func (c *Collector) HandleTopology(u topology.Update) {
    if u.Nodes == nil { return }
    c.mu.Lock(); defer c.mu.Unlock()
    if c.closed { return }
    c.d.topologyUpdate(u.IDs())
}

// SetRole switches the dispatcher to r. Setting the current role again is a
// no-op; entering RoleMember clears the pool.
func (c *Collector) SetRole(r Role) error {
    if !r.valid() { return ErrUnknownRole }
    c.mu.Lock(); defer c.mu.Unlock()
    if c.closed { return nil }
    c.d.setRole(r)
    return nil
}

// Role returns the current role.
func (c *Collector) Role() Role {
    c.mu.Lock(); defer c.mu.Unlock()
    return c.d.role
}

// Sources returns the sources that currently have usages attributed to them.
func (c *Collector) Sources() []string { return c.reg.Sources() }

// Close detaches the collector from the aggregator. Handlers registered on
// the transport and topology source become no-ops.
func (c *Collector) Close() error {
    c.mu.Lock(); defer c.mu.Unlock()
    if c.closed { return nil }
    c.closed = true
    if c.unsub != nil { c.unsub() }
    return nil
}
