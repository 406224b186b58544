// Package state holds cluster state replicated through consensus.
package state

import "github.com/amirimatin/go-usage/pkg/topology"

// TopologyState is the replicated node list. Consensus FSMs apply commands
// to it; the collector observes it as a topology.Source.
type TopologyState interface {
    topology.Source
    ApplyAddNode(n topology.Node) error
    ApplyRemoveNode(nodeID string) error
    Nodes() []topology.Node
    Snapshot() ([]byte, error)
    Restore(buf []byte) error
}
