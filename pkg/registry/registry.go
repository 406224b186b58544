// Package registry records which usage names each reporting source most
// recently contributed, so they can be retracted when the source goes away.
//
// The registry is keyed by source, not by (source, name): two sources that
// report the same name both hold it, and retracting either returns it. The
// caller decides what retraction means for the shared keyspace.
package registry

import (
    "sort"
    "sync"
)

// Registry maps source IDs to the set of usage names they contributed.
type Registry struct {
    mu      sync.RWMutex
    sources map[string]map[string]struct{}
}

func New() *Registry { return &Registry{sources: make(map[string]map[string]struct{})} }

// Record attributes names to source. Entries are created lazily and merged
// into; recording a name twice is a no-op. Empty source IDs are ignored.
func (r *Registry) Record(source string, names []string) {
    if source == "" || len(names) == 0 { return }
    r.mu.Lock(); defer r.mu.Unlock()
    set := r.sources[source]
    if set == nil {
        set = make(map[string]struct{}, len(names))
        r.sources[source] = set
    }
    for _, n := range names { set[n] = struct{}{} }
}

// Retract removes source and returns the names attributed to it, sorted.
// Unknown sources yield an empty result.
func (r *Registry) Retract(source string) []string {
    r.mu.Lock()
    set := r.sources[source]
    delete(r.sources, source)
    r.mu.Unlock()
    return sortedKeys(set)
}

// Names returns the names currently attributed to source, sorted.
func (r *Registry) Names(source string) []string {
    r.mu.RLock(); defer r.mu.RUnlock()
    return sortedKeys(r.sources[source])
}

// attributed reports whether name is currently attributed to source.
func (r *Registry) attributed(source, name string) bool {
    r.mu.RLock(); defer r.mu.RUnlock()
    _, ok := r.sources[source][name]
    return ok
}

// Sources returns the tracked source IDs, sorted.
func (r *Registry) Sources() []string {
    r.mu.RLock(); defer r.mu.RUnlock()
    out := make([]string, 0, len(r.sources))
    for s := range r.sources { out = append(out, s) }
    sort.Strings(out)
    return out
}

// Len returns the number of tracked sources.
func (r *Registry) Len() int {
    r.mu.RLock(); defer r.mu.RUnlock()
    return len(r.sources)
}

func sortedKeys(set map[string]struct{}) []string {
    out := make([]string, 0, len(set))
    for k := range set { out = append(out, k) }
    sort.Strings(out)
    return out
}
