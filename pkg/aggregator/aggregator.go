// Package aggregator holds the node-local view of resource usages: one value
// per usage name regardless of which source reported it.
package aggregator

import "github.com/amirimatin/go-usage/pkg/usage"

// Aggregator merges local usage updates, notifies subscribers when the
// exported state changes and produces export snapshots.
type Aggregator interface {
    // Update removes the names in removed and merges added by name. A name
    // present in both lists ends up with its added value. It returns true
    // and notifies subscribers exactly once when the call changed the
    // exported state.
    Update(added []usage.Usage, removed []string) bool
    // Export returns a snapshot of all usages ordered by name. The snapshot
    // shares nothing with the aggregator.
    Export() []usage.Usage
    // Subscribe registers fn to run after every observable change. fn runs
    // synchronously on the goroutine that called Update.
    Subscribe(fn func()) (cancel func())
}
