package topology

import (
    "encoding/json"
    "fmt"
    "reflect"
    "sort"
    "sync"

    base "github.com/amirimatin/go-usage/pkg/state"
    tp "github.com/amirimatin/go-usage/pkg/topology"
)

// State is an in-memory node list applied by the consensus FSM. Every
// mutation that changes the list is announced to watchers as a full
// topology.Update.
type State struct {
    mu    sync.RWMutex
    nodes map[string]tp.Node
    wmu   sync.Mutex
    watch []func(tp.Update)
}

func New() *State { return &State{nodes: make(map[string]tp.Node)} }

// OnUpdate registers fn to receive the full node list after every change.
// fn runs on the goroutine applying the change.
func (s *State) OnUpdate(fn func(tp.Update)) {
    if fn == nil { return }
    s.wmu.Lock(); s.watch = append(s.watch, fn); s.wmu.Unlock()
}

func (s *State) ApplyAddNode(n tp.Node) error {
    if n.ID == "" { return fmt.Errorf("state: empty node id") }
    s.mu.Lock()
    prev, ok := s.nodes[n.ID]
    s.nodes[n.ID] = n
    s.mu.Unlock()
    if !ok || !reflect.DeepEqual(prev, n) { s.publish() }
    return nil
}

func (s *State) ApplyRemoveNode(nodeID string) error {
    if nodeID == "" { return fmt.Errorf("state: empty node id") }
    s.mu.Lock()
    _, ok := s.nodes[nodeID]
    delete(s.nodes, nodeID)
    s.mu.Unlock()
    if ok { s.publish() }
    return nil
}

// Nodes returns the node list sorted by ID. It is never nil.
func (s *State) Nodes() []tp.Node {
    s.mu.RLock(); defer s.mu.RUnlock()
    return s.sortedLocked()
}

func (s *State) sortedLocked() []tp.Node {
    arr := make([]tp.Node, 0, len(s.nodes))
    for _, v := range s.nodes { arr = append(arr, v) }
    sort.Slice(arr, func(i, j int) bool { return arr[i].ID < arr[j].ID })
    return arr
}

func (s *State) publish() {
    u := tp.Update{Nodes: s.Nodes()}
    s.wmu.Lock()
    fns := append(([]func(tp.Update))(nil), s.watch...)
    s.wmu.Unlock()
    for _, fn := range fns { fn(u) }
}

type snapshotV1 struct {
    Version int      `json:"version"`
    Nodes   []tp.Node `json:"nodes"`
}

// Snapshot encodes state as a stable JSON for ease of debugging/migration.
func (s *State) Snapshot() ([]byte, error) {
    s.mu.RLock(); defer s.mu.RUnlock()
    return json.Marshal(snapshotV1{Version: 1, Nodes: s.sortedLocked()})
}

// Restore replaces the node list with a snapshot and announces it.
func (s *State) Restore(buf []byte) error {
    var snap snapshotV1
    if err := json.Unmarshal(buf, &snap); err != nil { return err }
    if snap.Version != 1 { return fmt.Errorf("state: unsupported snapshot version %d", snap.Version) }
    s.mu.Lock()
    s.nodes = make(map[string]tp.Node, len(snap.Nodes))
    for _, v := range snap.Nodes {
        if v.ID == "" { continue }
        s.nodes[v.ID] = v
    }
    s.mu.Unlock()
    s.publish()
    return nil
}

// Ensure interface satisfaction at compile-time.
var _ base.TopologyState = (*State)(nil)
