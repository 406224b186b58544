package memberlist

import (
    "context"
    "log"
    "testing"
    "time"

    base "github.com/amirimatin/go-usage/pkg/membership"
)

func TestMemberlist_StartLocal(t *testing.T) {
    meta := map[string]string{base.MetaEndpoint: "127.0.0.1:8080", base.MetaRaft: "127.0.0.1:9000"}
    m, err := New(Options{NodeID: "t1", Bind: "127.0.0.1:0", Meta: meta, Logger: log.Default(), ProbeInterval: 100 * time.Millisecond})
    if err != nil { t.Fatalf("new: %v", err) }
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := m.Start(ctx); err != nil { t.Fatalf("start: %v", err) }
    defer m.Stop()

    local := m.Local()
    if local.ID != "t1" { t.Fatalf("local id = %q, want t1", local.ID) }
    if local.Endpoint() != "127.0.0.1:8080" || local.RaftAddr() != "127.0.0.1:9000" { t.Fatalf("local meta = %v", local.Meta) }
    if n := local.Node(); n.ID != "t1" || n.Meta[base.MetaEndpoint] != "127.0.0.1:8080" { t.Fatalf("node = %+v", n) }

    if hr, ok := m.(base.HealthReporter); ok {
        if s := hr.HealthScore(); s < -1 { t.Fatalf("unexpected health score: %d", s) }
    } else {
        t.Fatalf("impl does not implement HealthReporter")
    }
}

func TestMemberlist_RejectsBadOptions(t *testing.T) {
    if _, err := New(Options{Bind: "127.0.0.1:0"}); err == nil { t.Fatalf("expected error for empty NodeID") }
    if _, err := New(Options{NodeID: "x"}); err == nil { t.Fatalf("expected error for empty Bind") }
    m, _ := New(Options{NodeID: "x", Bind: "127.0.0.1:notaport"})
    if err := m.Start(context.Background()); err == nil { t.Fatalf("expected error for bad port") }
    if err := m.Join([]string{"127.0.0.1:1"}); err == nil { t.Fatalf("expected error joining before start") }
}

func TestMemberlist_MultiNodeJoinLeave(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
    defer cancel()

    n1, addr1 := startNode(t, ctx, "n1")
    defer n1.Stop()

    n2, _ := startNode(t, ctx, "n2")
    defer n2.Stop()
    if err := n2.Join([]string{addr1}); err != nil { t.Fatalf("n2 join: %v", err) }

    n3, _ := startNode(t, ctx, "n3")
    defer n3.Stop()
    if err := n3.Join([]string{addr1}); err != nil { t.Fatalf("n3 join: %v", err) }

    awaitMembers(t, n1, 3, 5*time.Second)
    awaitMembers(t, n2, 3, 5*time.Second)
    awaitMembers(t, n3, 3, 5*time.Second)

    for _, mi := range n1.Members() {
        if mi.Endpoint() != "endpoint-"+mi.ID { t.Fatalf("member %s gossiped endpoint %q", mi.ID, mi.Endpoint()) }
    }

    // n2 leaves; n1 must see a leave event carrying n2's metadata.
    _ = n2.Leave()
    _ = n2.Stop()

    awaitMembers(t, n1, 2, 5*time.Second)
    awaitMembers(t, n3, 2, 5*time.Second)
    awaitGone(t, n1, "n2", 5*time.Second)
}

func startNode(t *testing.T, ctx context.Context, id string) (*impl, string) {
    t.Helper()
    m, err := New(Options{NodeID: id, Bind: "127.0.0.1:0", Meta: map[string]string{base.MetaEndpoint: "endpoint-" + id}, Logger: log.Default(), ProbeInterval: 100 * time.Millisecond, SuspicionMult: 2})
    if err != nil { t.Fatalf("new %s: %v", id, err) }
    if err := m.Start(ctx); err != nil { t.Fatalf("start %s: %v", id, err) }
    la := m.Local().Addr
    if la == "" { t.Fatalf("local addr empty for %s", id) }
    return m.(*impl), la
}

func awaitMembers(t *testing.T, m base.Membership, want int, timeout time.Duration) {
    t.Helper()
    deadline := time.Now().Add(timeout)
    for {
        got := m.Members()
        if len(got) == want { return }
        if time.Now().After(deadline) {
            t.Fatalf("members timeout: got=%d want=%d list=%v", len(got), want, got)
        }
        time.Sleep(100 * time.Millisecond)
    }
}

func awaitGone(t *testing.T, m base.Membership, id string, timeout time.Duration) {
    t.Helper()
    deadline := time.After(timeout)
    for {
        select {
        case ev, ok := <-m.Events():
            if !ok { t.Fatalf("events closed before %s left", id) }
            if ev.Member.ID == id && ev.Type.Gone() {
                if ev.Member.Endpoint() != "endpoint-"+id { t.Fatalf("leave event lost meta: %v", ev.Member.Meta) }
                return
            }
        case <-deadline:
            t.Fatalf("no leave/failed event for %s", id)
        }
    }
}

func TestMetaCodec(t *testing.T) {
    b, err := encodeMeta(map[string]string{base.MetaEndpoint: "a:1"})
    if err != nil { t.Fatalf("encode: %v", err) }
    if got := decodeMeta(b); got[base.MetaEndpoint] != "a:1" { t.Fatalf("decode = %v", got) }
    if b, err := encodeMeta(nil); err != nil || b != nil { t.Fatalf("empty meta = %q, %v", b, err) }
    if got := decodeMeta([]byte("not json")); len(got) != 0 { t.Fatalf("foreign meta decoded to %v", got) }
    big := map[string]string{"k": string(make([]byte, 1024))}
    if _, err := encodeMeta(big); err == nil { t.Fatalf("expected oversize meta error") }
    if d := metaDelegate("abcd"); d.NodeMeta(2) != nil { t.Fatalf("oversize meta must not be truncated") }
}

func TestSplitHostPort(t *testing.T) {
    if h, p, err := splitHostPort(":7946"); err != nil || h != "0.0.0.0" || p != 7946 { t.Fatalf("got %s %d %v", h, p, err) }
    if _, _, err := splitHostPort("h:70000"); err == nil { t.Fatalf("expected port range error") }
    if _, _, err := splitHostPort("nohost"); err == nil { t.Fatalf("expected missing port error") }
}
