// Package membership is the gossip view of which nodes are alive and where
// their endpoints are.
package membership

import (
    "context"
    "time"

    "github.com/amirimatin/go-usage/pkg/topology"
)

// Metadata keys every node gossips about itself.
const (
    // MetaEndpoint is the node's transport endpoint (host:port) that peers
    // send usage reports to.
    MetaEndpoint = "endpoint"
    // MetaRaft is the node's raft transport address.
    MetaRaft = "raft"
)

// MemberInfo describes a cluster member as observed by the membership layer
// (e.g., memberlist). Meta carries MetaEndpoint and MetaRaft.
type MemberInfo struct {
    ID   string            `json:"id"`
    Addr string            `json:"addr"`
    Meta map[string]string `json:"meta,omitempty"`
}

// Endpoint returns the member's transport endpoint, or "" when unknown.
func (m MemberInfo) Endpoint() string { return m.Meta[MetaEndpoint] }

// RaftAddr returns the member's raft address, or "" when unknown.
func (m MemberInfo) RaftAddr() string { return m.Meta[MetaRaft] }

// Node converts the member to the topology entry replicated via consensus.
func (m MemberInfo) Node() topology.Node {
    var meta map[string]string
    if len(m.Meta) > 0 {
        meta = make(map[string]string, len(m.Meta))
        for k, v := range m.Meta { meta[k] = v }
    }
    return topology.Node{ID: m.ID, Addr: m.Addr, Meta: meta}
}

type EventType string

const (
    // EventJoin indicates a member joined or became visible.
    EventJoin EventType = "join"
    // EventUpdate indicates a member changed its metadata.
    EventUpdate EventType = "update"
    // EventLeave indicates a member left the cluster.
    EventLeave EventType = "leave"
    // EventFailed indicates membership marked the node as failed/unreachable.
    EventFailed EventType = "failed"
)

// Gone reports whether the event means the member is no longer reachable.
func (t EventType) Gone() bool { return t == EventLeave || t == EventFailed }

// Event is the translated membership change notification.
type Event struct {
    Type   EventType
    Member MemberInfo
    At     time.Time
}

// Membership is the abstraction over the underlying gossip/failure-detection
// layer. Join/leave events decide which nodes belong to the topology and
// which sources get retracted.
type Membership interface {
    Start(ctx context.Context) error
    Join(seeds []string) error
    Local() MemberInfo
    Members() []MemberInfo
    Events() <-chan Event
    Leave() error
    Stop() error
}

// HealthReporter is implemented by layers that can grade their own view of
// the cluster. Zero is healthy, larger is worse, -1 means not started.
type HealthReporter interface {
    HealthScore() int
}
