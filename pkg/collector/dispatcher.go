package collector

import (
    "context"
    "encoding/json"
    "log"

    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/go-usage/pkg/aggregator"
    "github.com/amirimatin/go-usage/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-usage/pkg/observability/metrics"
    "github.com/amirimatin/go-usage/pkg/observability/tracing"
    "github.com/amirimatin/go-usage/pkg/pool"
    "github.com/amirimatin/go-usage/pkg/transport"
    "github.com/amirimatin/go-usage/pkg/usage"
)

// roleState is the behaviour of one role. Every event the dispatcher handles
// goes through the state of the current role; there is no other branching
// on role.
type roleState interface {
    enter(d *dispatcher)
    topologyUpdate(d *dispatcher, ids []string)
    inboundReport(d *dispatcher, source string, raw json.RawMessage)
    localChange(d *dispatcher)
}

// dispatcher is not safe for concurrent use; Collector serializes it.
type dispatcher struct {
    nodeID string
    role   Role
    states [roleCount]roleState
    codec  usage.Codec
    agg    aggregator.Aggregator
    pool   pool.Pool
    tr     transport.Transport
    log    *log.Logger
}

func newDispatcher(nodeID string, codec usage.Codec, agg aggregator.Aggregator, p pool.Pool, tr transport.Transport, l *log.Logger) *dispatcher {
    return &dispatcher{
        nodeID: nodeID,
        states: [roleCount]roleState{
            RoleDefault: defaultState{},
            RoleMaster:  masterState{},
            RoleMember:  memberState{},
        },
        codec: codec, agg: agg, pool: p, tr: tr, log: l,
    }
}

func (d *dispatcher) current() roleState { return d.states[d.role] }

// setRole switches roles and runs enter of the new role. It reports whether
// a transition happened.
func (d *dispatcher) setRole(r Role) bool {
    if r == d.role { return false }
    prev := d.role
    d.role = r
    obsmetrics.RoleTransitions.WithLabelValues(r.String()).Inc()
    obsmetrics.SetRole(r.String(), RoleNames())
    logutil.Infof(d.log, "node %s role %s -> %s", d.nodeID, prev, r)
    d.current().enter(d)
    return true
}

func (d *dispatcher) topologyUpdate(ids []string) { d.current().topologyUpdate(d, ids) }

func (d *dispatcher) inboundReport(source string, raw json.RawMessage) {
    d.current().inboundReport(d, source, raw)
}

func (d *dispatcher) localChange() { d.current().localChange(d) }

// shared handlers

func (d *dispatcher) syncPool(ids []string) {
    d.pool.SyncSources(ids)
    obsmetrics.PoolSources.Set(float64(d.pool.Len()))
    logutil.Debugf(d.log, "pool synced to %d nodes (%d sources held)", len(ids), d.pool.Len())
}

func (d *dispatcher) applyReport(source string, raw json.RawMessage) {
    _, end := tracing.StartSpan(context.Background(), "collector.apply_report", attribute.String("source", source))
    defer end()
    us, err := d.codec.Decode(raw)
    if err != nil {
        obsmetrics.Reports.WithLabelValues("rejected").Inc()
        logutil.Debugf(d.log, "dropping report from %s: %v", source, err)
        return
    }
    d.pool.UpdateUsages(source, us)
    obsmetrics.Reports.WithLabelValues("applied").Inc()
    obsmetrics.PoolSources.Set(float64(d.pool.Len()))
}

func (d *dispatcher) ignoreReport(source string) {
    obsmetrics.Reports.WithLabelValues("ignored").Inc()
    logutil.Debugf(d.log, "ignoring report from %s while %s", source, d.role)
}

func (d *dispatcher) forwardToMaster() {
    msg, err := transport.NewUsageMessage(transport.TypeCollectUsages, d.agg.Export())
    if err != nil {
        logutil.Warnf(d.log, "encode local usages: %v", err)
        return
    }
    d.tr.Send(msg, transport.TargetMaster)
}

type masterState struct{}

func (masterState) enter(*dispatcher) {}
func (masterState) topologyUpdate(d *dispatcher, ids []string) { d.syncPool(ids) }
func (masterState) inboundReport(d *dispatcher, source string, raw json.RawMessage) {
    d.applyReport(source, raw)
}
func (masterState) localChange(*dispatcher) {}

// memberState gives up pool authority and forwards its own usages upward.
type memberState struct{}

func (memberState) enter(d *dispatcher) {
    d.pool.Clear()
    obsmetrics.PoolSources.Set(0)
}
func (memberState) topologyUpdate(d *dispatcher, ids []string) { d.syncPool(ids) }
func (memberState) inboundReport(d *dispatcher, source string, _ json.RawMessage) {
    d.ignoreReport(source)
}
func (memberState) localChange(d *dispatcher) { d.forwardToMaster() }

// defaultState accepts reports like master so none are lost while the role
// is unresolved.
type defaultState struct{}

func (defaultState) enter(*dispatcher) {}
func (defaultState) topologyUpdate(d *dispatcher, ids []string) { d.syncPool(ids) }
func (defaultState) inboundReport(d *dispatcher, source string, raw json.RawMessage) {
    d.applyReport(source, raw)
}
func (defaultState) localChange(*dispatcher) {}
