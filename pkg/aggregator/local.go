package aggregator

import (
    "sort"
    "sync"

    "github.com/zhangyunhao116/skipmap"

    "github.com/amirimatin/go-usage/pkg/usage"
)

type usageMap = skipmap.FuncMap[string, usage.Usage]

// Local is an in-memory Aggregator backed by an ordered skip map.
type Local struct {
    mu   sync.RWMutex
    data *usageMap
    subs struct {
        mu   sync.Mutex
        next int
        fns  map[int]func()
    }
}

func New() *Local {
    l := &Local{data: newUsageMap()}
    l.subs.fns = make(map[int]func())
    return l
}

func newUsageMap() *usageMap {
    return skipmap.NewFunc[string, usage.Usage](func(a, b string) bool { return a < b })
}

func (l *Local) Update(added []usage.Usage, removed []string) bool {
    l.mu.Lock()
    changed := false
    adding := make(map[string]struct{}, len(added))
    for _, u := range added { adding[u.Name] = struct{}{} }
    for _, name := range removed {
        if _, keep := adding[name]; keep { continue }
        if _, ok := l.data.LoadAndDelete(name); ok { changed = true }
    }
    for _, u := range added {
        if prev, ok := l.data.Load(u.Name); ok && prev.Equal(u) { continue }
        l.data.Store(u.Name, u.Clone())
        changed = true
    }
    l.mu.Unlock()
    if changed { l.notify() }
    return changed
}

func (l *Local) Export() []usage.Usage {
    l.mu.RLock(); defer l.mu.RUnlock()
    out := make([]usage.Usage, 0, l.data.Len())
    l.data.Range(func(_ string, u usage.Usage) bool {
        out = append(out, u.Clone())
        return true
    })
    return out
}

// Len returns the number of usages held.
func (l *Local) Len() int { return l.data.Len() }

func (l *Local) Subscribe(fn func()) (cancel func()) {
    if fn == nil { return func() {} }
    l.subs.mu.Lock()
    id := l.subs.next
    l.subs.next++
    l.subs.fns[id] = fn
    l.subs.mu.Unlock()
    return func() {
        l.subs.mu.Lock()
        delete(l.subs.fns, id)
        l.subs.mu.Unlock()
    }
}

func (l *Local) notify() {
    l.subs.mu.Lock()
    ids := make([]int, 0, len(l.subs.fns))
    for id := range l.subs.fns { ids = append(ids, id) }
    sort.Ints(ids)
    fns := make([]func(), 0, len(ids))
    for _, id := range ids { fns = append(fns, l.subs.fns[id]) }
    l.subs.mu.Unlock()
    for _, fn := range fns { fn() }
}

var _ Aggregator = (*Local)(nil)
