// Package pool keeps the cluster-wide usage aggregate, keyed by the node that
// reported each set. Its content is authoritative only on the master.
package pool

import (
    "time"

    "github.com/amirimatin/go-usage/pkg/usage"
)

// Reader is the read side of the pool, handed to external consumers such as
// allocation subsystems. Callers must check the node's role or tolerate stale
// or empty data.
type Reader interface {
    // Snapshot returns every source's usages, ordered by name per source.
    Snapshot() map[string][]usage.Usage
    // Sources returns the sources currently held, sorted.
    Sources() []string
    // Usages returns the usages last reported by source.
    Usages(source string) []usage.Usage
    // Totals sums values per usage name across all sources.
    Totals() []usage.Usage
    // ReportedAt returns when source last reported, if it is held.
    ReportedAt(source string) (time.Time, bool)
    // Len returns the number of sources held.
    Len() int
}

// Pool is the writable cluster aggregate driven by the dispatcher.
type Pool interface {
    Reader
    // SyncSources drops every source not present in ids.
    SyncSources(ids []string)
    // UpdateUsages replaces source's usages with the reported snapshot.
    UpdateUsages(source string, usages []usage.Usage)
    // Clear drops all sources.
    Clear()
}
