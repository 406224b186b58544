package raftcons

import (
    "encoding/json"
    "fmt"
    "io"

    "github.com/hashicorp/raft"

    c "github.com/amirimatin/go-usage/pkg/consensus"
    "github.com/amirimatin/go-usage/pkg/state"
    "github.com/amirimatin/go-usage/pkg/topology"
)

// topologyFSM applies replicated commands to a TopologyState. Apply returns
// the state's error, which raft hands back to the leader's Apply caller.
type topologyFSM struct {
    ts  state.TopologyState
    ops map[string]func(payload []byte) error
}

var _ raft.FSM = (*topologyFSM)(nil)

func newTopologyFSM(ts state.TopologyState) *topologyFSM {
    f := &topologyFSM{ts: ts}
    f.ops = map[string]func([]byte) error{
        c.OpAddNode: func(p []byte) error {
            var n topology.Node
            if err := json.Unmarshal(p, &n); err != nil { return err }
            return ts.ApplyAddNode(n)
        },
        c.OpRemoveNode: func(p []byte) error {
            var req c.RemoveNodePayload
            if err := json.Unmarshal(p, &req); err != nil { return err }
            return ts.ApplyRemoveNode(req.ID)
        },
    }
    return f
}

func (f *topologyFSM) Apply(l *raft.Log) interface{} {
    var cmd c.Command
    if err := json.Unmarshal(l.Data, &cmd); err != nil { return fmt.Errorf("raftcons: decode log %d: %w", l.Index, err) }
    op, ok := f.ops[cmd.Op]
    if !ok { return fmt.Errorf("raftcons: unknown op %q", cmd.Op) }
    if err := op(cmd.Payload); err != nil { return err }
    return nil
}

func (f *topologyFSM) Snapshot() (raft.FSMSnapshot, error) {
    blob, err := f.ts.Snapshot()
    if err != nil { return nil, err }
    return topologySnapshot(blob), nil
}

func (f *topologyFSM) Restore(rc io.ReadCloser) error {
    defer rc.Close()
    blob, err := io.ReadAll(rc)
    if err != nil { return err }
    return f.ts.Restore(blob)
}

// topologySnapshot is the encoded node list captured at Snapshot time.
type topologySnapshot []byte

func (s topologySnapshot) Persist(sink raft.SnapshotSink) error {
    if _, err := sink.Write(s); err != nil {
        _ = sink.Cancel()
        return err
    }
    return sink.Close()
}

func (topologySnapshot) Release() {}
