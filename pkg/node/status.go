package node

import (
    "time"

    "github.com/amirimatin/go-usage/pkg/membership"
    "github.com/amirimatin/go-usage/pkg/pool"
    "github.com/amirimatin/go-usage/pkg/usage"
)

// Status is a JSON-serializable snapshot of one node, served by the
// endpoint's status view and printed by usagectl.
type Status struct {
    NodeID string `json:"node_id"`
    Role   string `json:"role"`
    // Healthy is true when a leader is known.
    Healthy  bool   `json:"healthy"`
    Term     uint64 `json:"term"`
    LeaderID string `json:"leader_id,omitempty"`
    // LeaderAddr is the leader's endpoint address, when gossiped.
    LeaderAddr  string                  `json:"leader_addr,omitempty"`
    Endpoint    string                  `json:"endpoint"`
    Members     []membership.MemberInfo `json:"members"`
    LocalUsages int                     `json:"local_usages"`
    Sources     []string                `json:"sources,omitempty"`
    PoolSources []string                `json:"pool_sources,omitempty"`
    Warnings    []string                `json:"warnings,omitempty"`
}

// PoolView is the JSON form of a node's cluster pool.
type PoolView struct {
    // Role tells readers whether the pool is authoritative ("master").
    Role    string                   `json:"role"`
    Sources map[string][]usage.Usage `json:"sources"`
    // ReportedAt holds when each source last reported.
    ReportedAt map[string]time.Time `json:"reported_at"`
    Totals     []usage.Usage        `json:"totals"`
}

func NewPoolView(role string, r pool.Reader) PoolView {
    v := PoolView{Role: role, Sources: r.Snapshot(), ReportedAt: map[string]time.Time{}, Totals: r.Totals()}
    if v.Sources == nil { v.Sources = map[string][]usage.Usage{} }
    for src := range v.Sources {
        if at, ok := r.ReportedAt(src); ok { v.ReportedAt[src] = at }
    }
    if v.Totals == nil { v.Totals = []usage.Usage{} }
    return v
}
