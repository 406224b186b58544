package raftcons

import (
    "fmt"
    "log"
    "time"

    "github.com/amirimatin/go-usage/pkg/state"
)

// Defaults applied by New.
const (
    DefaultApplyTimeout      = 3 * time.Second
    DefaultSnapshotsRetained = 2
)

// Options configure a raft consensus node.
type Options struct {
    NodeID string
    Logger *log.Logger

    // Bootstrap forms a single-voter cluster on first Start. Nodes that join
    // an existing cluster leave it false and get added by the leader.
    Bootstrap bool

    // Zero keeps the raft defaults.
    HeartbeatTimeout time.Duration
    ElectionTimeout  time.Duration
    CommitTimeout    time.Duration
    // ApplyTimeout bounds Apply calls that pass no timeout of their own.
    ApplyTimeout time.Duration

    // BindAddr selects a TCP transport ("127.0.0.1:0" picks a port).
    // Empty runs on an in-memory transport.
    BindAddr string
    // DataDir keeps the log in bolt and snapshots on disk. Empty keeps
    // everything in memory.
    DataDir           string
    SnapshotsRetained int

    // State receives applied topology commands. Nil gets a fresh in-memory
    // topology.
    State state.TopologyState
}

func (o *Options) withDefaults() error {
    if o.NodeID == "" { return fmt.Errorf("raftcons: empty NodeID") }
    if o.Logger == nil { o.Logger = log.Default() }
    if o.ApplyTimeout <= 0 { o.ApplyTimeout = DefaultApplyTimeout }
    if o.SnapshotsRetained <= 0 { o.SnapshotsRetained = DefaultSnapshotsRetained }
    return nil
}
