package memberlist

import (
    "encoding/json"
    "fmt"
    "net"
    "strconv"
    "time"

    "github.com/hashicorp/memberlist"

    base "github.com/amirimatin/go-usage/pkg/membership"
)

// events translates memberlist notifications into base.Event values.
type events struct {
    emit func(e base.Event)
}

func (d *events) NotifyJoin(n *memberlist.Node)   { d.notify(base.EventJoin, n) }
func (d *events) NotifyUpdate(n *memberlist.Node) { d.notify(base.EventUpdate, n) }

// NotifyLeave fires for graceful leaves and for nodes declared dead; only
// the node state tells them apart.
func (d *events) NotifyLeave(n *memberlist.Node) {
    if n != nil && n.State == memberlist.StateDead {
        d.notify(base.EventFailed, n)
        return
    }
    d.notify(base.EventLeave, n)
}

func (d *events) notify(typ base.EventType, n *memberlist.Node) {
    if n == nil { return }
    d.emit(base.Event{Type: typ, Member: toMember(n), At: time.Now()})
}

// metaDelegate gossips a fixed meta blob. The remaining Delegate hooks are
// unused: usages travel over the node endpoint, not gossip.
type metaDelegate []byte

func (d metaDelegate) NodeMeta(limit int) []byte {
    if len(d) > limit { return nil }
    return d
}
func (metaDelegate) NotifyMsg([]byte)                {}
func (metaDelegate) GetBroadcasts(int, int) [][]byte { return nil }
func (metaDelegate) LocalState(bool) []byte          { return nil }
func (metaDelegate) MergeRemoteState([]byte, bool)   {}

func encodeMeta(meta map[string]string) ([]byte, error) {
    if len(meta) == 0 { return nil, nil }
    b, err := json.Marshal(meta)
    if err != nil { return nil, fmt.Errorf("memberlist: encode meta: %w", err) }
    if len(b) > memberlist.MetaMaxSize {
        return nil, fmt.Errorf("memberlist: meta is %d bytes, limit is %d", len(b), memberlist.MetaMaxSize)
    }
    return b, nil
}

// decodeMeta tolerates peers gossiping no or foreign meta.
func decodeMeta(b []byte) map[string]string {
    meta := map[string]string{}
    if len(b) > 0 { _ = json.Unmarshal(b, &meta) }
    return meta
}

func toMember(n *memberlist.Node) base.MemberInfo {
    return base.MemberInfo{ID: n.Name, Addr: memberAddr(n), Meta: decodeMeta(n.Meta)}
}

func memberAddr(n *memberlist.Node) string {
    return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}

func splitHostPort(hp string) (string, int, error) {
    host, ps, err := net.SplitHostPort(hp)
    if err != nil { return "", 0, err }
    if host == "" { host = "0.0.0.0" }
    p, err := strconv.ParseUint(ps, 10, 16)
    if err != nil { return "", 0, fmt.Errorf("invalid port: %q", ps) }
    return host, int(p), nil
}
