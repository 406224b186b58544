package raftcons

import (
    "context"
    "testing"
    "time"

    "github.com/hashicorp/raft"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-usage/pkg/consensus"
)

// Three raft nodes on in-memory loopback transports. Voters are added and
// removed through the Reconfigurer path the node runtime uses.
func TestRaft_ThreeNodeReconfigure_Inmem(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()

    nodes := make([]*Node, 3)
    for i, id := range []string{"n1", "n2", "n3"} {
        n, err := New(Options{NodeID: id, Bootstrap: i == 0})
        require.NoError(t, err)
        require.NoError(t, n.Start(ctx))
        defer n.Stop()
        nodes[i] = n
    }
    for i, a := range nodes {
        for _, b := range nodes[i+1:] {
            require.NotNil(t, a.lb)
            a.lb.Connect(b.addr, b.trans)
            b.lb.Connect(a.addr, a.trans)
        }
    }
    n1 := nodes[0]
    require.Eventually(t, n1.IsLeader, 3*time.Second, 50*time.Millisecond)

    // adding n2 twice is accepted
    var rc consensus.Reconfigurer = n1
    for _, n := range []*Node{nodes[1], nodes[2], nodes[1]} {
        require.NoError(t, rc.AddVoter(n.opts.NodeID, n.Addr(), 2*time.Second), "AddVoter %s", n.opts.NodeID)
    }
    for _, n := range nodes {
        n := n
        require.Eventually(t, func() bool {
            id, _, ok := n.Leader()
            return ok && id == "n1"
        }, 5*time.Second, 50*time.Millisecond, "leader unknown on %s", n.opts.NodeID)
    }

    assert.ErrorIs(t, nodes[1].Apply(consensus.Command{Op: consensus.OpRemoveNode}, time.Second), ErrNotLeader)

    require.NoError(t, rc.RemoveServer("n3", 2*time.Second))
    f := n1.r.GetConfiguration()
    require.NoError(t, f.Error())
    for _, srv := range f.Configuration().Servers {
        assert.NotEqual(t, raft.ServerID("n3"), srv.ID)
    }
    assert.Len(t, f.Configuration().Servers, 2)
}
