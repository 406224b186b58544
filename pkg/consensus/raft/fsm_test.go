package raftcons

import (
    "bytes"
    "encoding/json"
    "io"
    "testing"

    r "github.com/hashicorp/raft"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    c "github.com/amirimatin/go-usage/pkg/consensus"
    st "github.com/amirimatin/go-usage/pkg/state/topology"
    "github.com/amirimatin/go-usage/pkg/topology"
)

func applyCmd(t *testing.T, fsm *topologyFSM, cmd c.Command) interface{} {
    t.Helper()
    data, err := json.Marshal(cmd)
    require.NoError(t, err)
    return fsm.Apply(&r.Log{Data: data})
}

func TestTopologyFSM_Apply_AddRemove(t *testing.T) {
    ts := st.New()
    fsm := newTopologyFSM(ts)
    var seen [][]string
    ts.OnUpdate(func(u topology.Update) { seen = append(seen, u.IDs()) })

    add, err := c.AddNode(topology.Node{ID: "n1", Addr: "127.0.0.1:1"})
    require.NoError(t, err)
    assert.Nil(t, applyCmd(t, fsm, add))
    rm, err := c.RemoveNode("n1")
    require.NoError(t, err)
    assert.Nil(t, applyCmd(t, fsm, rm))

    assert.Equal(t, [][]string{{"n1"}, {}}, seen)
}

func TestTopologyFSM_RejectsBadEntries(t *testing.T) {
    fsm := newTopologyFSM(st.New())
    assert.Error(t, applyCmd(t, fsm, c.Command{Op: "Bogus"}).(error))
    assert.Error(t, applyCmd(t, fsm, c.Command{Op: c.OpAddNode, Payload: []byte("{")}).(error))
    assert.Error(t, fsm.Apply(&r.Log{Data: []byte("{")}).(error))
}

type memSink struct {
    bytes.Buffer
    cancelled bool
}

func (s *memSink) ID() string    { return "mem" }
func (s *memSink) Cancel() error { s.cancelled = true; return nil }
func (s *memSink) Close() error  { return nil }

func TestTopologyFSM_SnapshotRestore(t *testing.T) {
    src := newTopologyFSM(st.New())
    for _, id := range []string{"n1", "n2"} {
        add, err := c.AddNode(topology.Node{ID: id, Addr: id + ":9000"})
        require.NoError(t, err)
        require.Nil(t, applyCmd(t, src, add))
    }
    snap, err := src.Snapshot()
    require.NoError(t, err)
    var sink memSink
    require.NoError(t, snap.Persist(&sink))
    snap.Release()
    assert.False(t, sink.cancelled)

    dstState := st.New()
    dst := newTopologyFSM(dstState)
    require.NoError(t, dst.Restore(io.NopCloser(&sink.Buffer)))
    ids := make([]string, 0, 2)
    for _, n := range dstState.Nodes() { ids = append(ids, n.ID) }
    assert.ElementsMatch(t, []string{"n1", "n2"}, ids)
}
