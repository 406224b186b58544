package collector

import (
    "log"

    "github.com/amirimatin/go-usage/pkg/aggregator"
    "github.com/amirimatin/go-usage/pkg/pool"
    "github.com/amirimatin/go-usage/pkg/topology"
    "github.com/amirimatin/go-usage/pkg/transport"
    "github.com/amirimatin/go-usage/pkg/usage"
)

// Options carries the collaborators a Collector is built from. New registers
// its own message, disconnect and topology handlers on them.
type Options struct {
    // NodeID identifies this node in logs.
    NodeID string
    // Codec validates raw usage descriptors. Defaults to usage.NewCodec().
    Codec usage.Codec
    // Aggregator holds the local view. Defaults to aggregator.New(). It must
    // only be mutated through the Collector once handed over.
    Aggregator aggregator.Aggregator
    // Pool holds the cluster view (required).
    Pool pool.Pool
    // Transport carries reports to the master and delivers inbound
    // messages and disconnects (required).
    Transport transport.Transport
    // Topology is optional; without it the pool is only synced through
    // HandleTopology.
    Topology topology.Source
    Logger   *log.Logger
    // InitialRole is entered when the collector is built.
    InitialRole Role
}

// Validate checks required collaborators. It has no side effects.
func (o Options) Validate() error {
    if o.Pool == nil { return ErrNilPool }
    if o.Transport == nil { return ErrNilTransport }
    if !o.InitialRole.valid() { return ErrUnknownRole }
    return nil
}
