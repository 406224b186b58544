// Package consensus abstracts the leader election a usage cluster relies on.
// The elected leader runs the master collector; its log replicates the
// topology every node observes.
package consensus

import (
    "context"
    "time"
)

// Command is one replicated log entry. Op selects the topology operation
// (OpAddNode, OpRemoveNode) and Payload carries its JSON argument.
type Command struct {
    Op      string `json:"op"`
    Payload []byte `json:"payload,omitempty"`
}

// Consensus is a leader-based engine. Apply succeeds only on the leader.
type Consensus interface {
    Start(ctx context.Context) error
    Apply(cmd Command, timeout time.Duration) error
    IsLeader() bool
    Leader() (id string, addr string, ok bool)
    Term() uint64
    Stop() error
}

// LeaderInfo is a leadership observation. An empty ID means the node lost
// sight of any leader.
type LeaderInfo struct {
    ID   string
    Addr string
    Term uint64
}

// LeaderNotifier is implemented by engines that push leadership changes.
// Sends never block the engine, so consumers must treat every value as a hint
// and re-read Leader.
type LeaderNotifier interface {
    LeaderCh() <-chan LeaderInfo
}

// Reconfigurer is implemented by engines whose voter set can change at
// runtime. Only the leader may call it.
type Reconfigurer interface {
    AddVoter(id, addr string, timeout time.Duration) error
    RemoveServer(id string, timeout time.Duration) error
}
