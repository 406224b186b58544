package transport

import (
    "context"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

type gatedSink struct {
    gate chan struct{}
    mu   sync.Mutex
    got  []string
}

func (g *gatedSink) deliver(target Target, msg Message) {
    <-g.gate
    g.mu.Lock()
    g.got = append(g.got, string(target)+":"+string(msg.Data))
    g.mu.Unlock()
}

func (g *gatedSink) snapshot() []string {
    g.mu.Lock()
    defer g.mu.Unlock()
    return append([]string(nil), g.got...)
}

func raw(typ, data string) Message { return Message{Type: typ, Data: []byte(data)} }

// awaitTaken waits until the sender for (target, typ) has picked up its
// pending message.
func awaitTaken(t *testing.T, o *Outbox, target Target, typ string) {
    t.Helper()
    require.Eventually(t, func() bool {
        o.mu.Lock()
        defer o.mu.Unlock()
        s := o.slots[outboxKey{target, typ}]
        return s != nil && s.pending == nil
    }, time.Second, 5*time.Millisecond)
}

func TestOutboxKeepsOnlyLatestPending(t *testing.T) {
    sink := &gatedSink{gate: make(chan struct{})}
    o := NewOutbox(sink.deliver)

    assert.False(t, o.Post(raw(TypeCollectUsages, "1"), TargetMaster))
    // "1" is now held by the sender; "2" waits and is replaced by "3"
    awaitTaken(t, o, TargetMaster, TypeCollectUsages)
    assert.False(t, o.Post(raw(TypeCollectUsages, "2"), TargetMaster))
    assert.True(t, o.Post(raw(TypeCollectUsages, "3"), TargetMaster))
    close(sink.gate)

    require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
    require.NoError(t, o.Close(context.Background()))
    assert.Equal(t, []string{"master:1", "master:3"}, sink.snapshot())
}

func TestOutboxSeparatesTargetsAndTypes(t *testing.T) {
    sink := &gatedSink{gate: make(chan struct{})}
    close(sink.gate)
    o := NewOutbox(sink.deliver)
    o.Post(raw(TypeCollectUsages, "a"), TargetMaster)
    o.Post(raw(TypeImportUsages, "b"), TargetMaster)
    o.Post(raw(TypeCollectUsages, "c"), Target("n2"))
    require.Eventually(t, func() bool { return len(sink.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
    assert.ElementsMatch(t, []string{"master:a", "master:b", "n2:c"}, sink.snapshot())
}

func TestOutboxDropsAfterClose(t *testing.T) {
    sink := &gatedSink{gate: make(chan struct{})}
    o := NewOutbox(sink.deliver)
    o.Post(raw(TypeCollectUsages, "1"), TargetMaster)
    awaitTaken(t, o, TargetMaster, TypeCollectUsages)
    o.Post(raw(TypeCollectUsages, "2"), TargetMaster)

    ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
    defer cancel()
    assert.ErrorIs(t, o.Close(ctx), context.DeadlineExceeded, "the first delivery is still blocked")
    close(sink.gate)
    require.NoError(t, o.Close(context.Background()))
    assert.Equal(t, []string{"master:1"}, sink.snapshot())
    assert.False(t, o.Post(raw(TypeCollectUsages, "3"), TargetMaster))
}
