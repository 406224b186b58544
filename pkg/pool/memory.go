package pool

import (
    "sort"
    "sync"
    "time"

    "github.com/amirimatin/go-usage/pkg/usage"
)

type entry struct {
    usages     map[string]usage.Usage
    reportedAt time.Time
}

// Memory is an in-memory Pool.
type Memory struct {
    mu      sync.RWMutex
    sources map[string]*entry
    now     func() time.Time
}

func New() *Memory { return &Memory{sources: make(map[string]*entry), now: time.Now} }

func (m *Memory) SyncSources(ids []string) {
    keep := make(map[string]struct{}, len(ids))
    for _, id := range ids { keep[id] = struct{}{} }
    m.mu.Lock(); defer m.mu.Unlock()
    for src := range m.sources {
        if _, ok := keep[src]; !ok { delete(m.sources, src) }
    }
}

func (m *Memory) UpdateUsages(source string, usages []usage.Usage) {
    if source == "" { return }
    e := &entry{usages: make(map[string]usage.Usage, len(usages)), reportedAt: m.now()}
    for _, u := range usages { e.usages[u.Name] = u.Clone() }
    m.mu.Lock()
    m.sources[source] = e
    m.mu.Unlock()
}

func (m *Memory) Clear() {
    m.mu.Lock()
    m.sources = make(map[string]*entry)
    m.mu.Unlock()
}

func (m *Memory) Snapshot() map[string][]usage.Usage {
    m.mu.RLock(); defer m.mu.RUnlock()
    out := make(map[string][]usage.Usage, len(m.sources))
    for src, e := range m.sources { out[src] = e.list() }
    return out
}

func (m *Memory) Sources() []string {
    m.mu.RLock(); defer m.mu.RUnlock()
    out := make([]string, 0, len(m.sources))
    for src := range m.sources { out = append(out, src) }
    sort.Strings(out)
    return out
}

func (m *Memory) Usages(source string) []usage.Usage {
    m.mu.RLock(); defer m.mu.RUnlock()
    e, ok := m.sources[source]
    if !ok { return nil }
    return e.list()
}

// ReportedAt returns when source last reported, if it is held.
func (m *Memory) ReportedAt(source string) (time.Time, bool) {
    m.mu.RLock(); defer m.mu.RUnlock()
    e, ok := m.sources[source]
    if !ok { return time.Time{}, false }
    return e.reportedAt, true
}

func (m *Memory) Totals() []usage.Usage {
    m.mu.RLock()
    sums := make(map[string]float64)
    for _, e := range m.sources {
        for name, u := range e.usages { sums[name] += u.Value }
    }
    m.mu.RUnlock()
    out := make([]usage.Usage, 0, len(sums))
    for name, v := range sums { out = append(out, usage.Usage{Name: name, Value: v}) }
    usage.SortByName(out)
    return out
}

func (m *Memory) Len() int {
    m.mu.RLock(); defer m.mu.RUnlock()
    return len(m.sources)
}

func (e *entry) list() []usage.Usage {
    out := make([]usage.Usage, 0, len(e.usages))
    for _, u := range e.usages { out = append(out, u.Clone()) }
    usage.SortByName(out)
    return out
}

var _ Pool = (*Memory)(nil)
