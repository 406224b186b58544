// Package topology describes the cluster node list delivered to the
// collector whenever membership settles on a new view.
package topology

// Node is one cluster node as seen by the topology source.
type Node struct {
    ID   string            `json:"id"`
    Addr string            `json:"addr,omitempty"`
    Meta map[string]string `json:"meta,omitempty"`
}

// Update is a topology event payload. A nil Nodes slice means the payload
// carried no node list and must be ignored; an empty, non-nil slice is a
// real (empty) topology.
type Update struct {
    Nodes []Node `json:"nodes"`
}

// IDs returns the node IDs in order.
func (u Update) IDs() []string {
    out := make([]string, 0, len(u.Nodes))
    for _, n := range u.Nodes { out = append(out, n.ID) }
    return out
}

// Source emits topology updates.
type Source interface {
    OnUpdate(fn func(Update))
}
