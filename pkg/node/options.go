package node

import (
    "errors"
    "log"
    "time"

    "github.com/amirimatin/go-usage/pkg/aggregator"
    "github.com/amirimatin/go-usage/pkg/consensus"
    "github.com/amirimatin/go-usage/pkg/discovery"
    "github.com/amirimatin/go-usage/pkg/membership"
    "github.com/amirimatin/go-usage/pkg/pool"
    "github.com/amirimatin/go-usage/pkg/topology"
    "github.com/amirimatin/go-usage/pkg/transport"
    "github.com/amirimatin/go-usage/pkg/usage"
)

// MembershipFactory builds the gossip layer once the node knows the
// metadata it has to advertise (endpoint and raft addresses).
type MembershipFactory func(meta map[string]string) (membership.Membership, error)

// Options carries the components a Node is assembled from. Instances are
// typically produced by bootstrap.Build.
type Options struct {
    // NodeID is the unique identifier of this node; it is also the source
    // name its reports carry.
    NodeID string
    Logger *log.Logger

    // Endpoint receives peer and producer messages and sends reports.
    Endpoint transport.Endpoint
    // Advertise is the endpoint address gossiped to peers. Defaults to
    // Endpoint.Addr() after start.
    Advertise string

    // Consensus decides the master. Implementations that are also
    // consensus.LeaderNotifier and consensus.Reconfigurer get leader
    // notifications and voter management.
    Consensus consensus.Consensus
    // Topology is the state the consensus FSM applies to; the collector
    // syncs its pool from it.
    Topology topology.Source

    Membership MembershipFactory
    Discovery  discovery.Discovery

    // Optional collector collaborators.
    Codec      usage.Codec
    Aggregator aggregator.Aggregator
    Pool       pool.Pool

    // RoleTick is how often the role is re-derived from consensus in case a
    // leader notification was dropped. Defaults to 200ms.
    RoleTick time.Duration
    // ApplyTimeout bounds topology commands and voter changes. Defaults to 3s.
    ApplyTimeout time.Duration
}

// Validate performs a minimal validation of Options. It does not start any
// network activity and is safe to call before New.
func (o Options) Validate() error {
    if o.NodeID == "" { return errors.New("node: empty NodeID") }
    if o.Endpoint == nil { return ErrNoEndpoint }
    if o.Consensus == nil { return ErrNoConsensus }
    if o.Membership == nil { return ErrNoMembership }
    return nil
}
