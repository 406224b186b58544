package discovery

import (
    "sort"
    "strings"
)

// Discovery provides the seed addresses a node joins the gossip layer
// through. Implementations return a fresh slice on every call.
type Discovery interface {
    Seeds() []string
}

// Func adapts a plain function to Discovery.
type Func func() []string

func (f Func) Seeds() []string { return f() }

// Normalize trims every entry, splits comma-separated entries, drops blanks
// and duplicates and returns the rest sorted.
func Normalize(seeds ...string) []string {
    set := make(map[string]struct{}, len(seeds))
    for _, s := range seeds {
        for _, p := range strings.Split(s, ",") {
            p = strings.TrimSpace(p)
            if p != "" { set[p] = struct{}{} }
        }
    }
    if len(set) == 0 { return nil }
    out := make([]string, 0, len(set))
    for s := range set { out = append(out, s) }
    sort.Strings(out)
    return out
}

// Multi merges the seeds of several sources. Nil sources are skipped.
func Multi(ds ...Discovery) Discovery {
    return Func(func() []string {
        var all []string
        for _, d := range ds {
            if d != nil { all = append(all, d.Seeds()...) }
        }
        return Normalize(all...)
    })
}

// Without filters addrs out of d's seeds; a node uses it to skip its own
// gossip address.
func Without(d Discovery, addrs ...string) Discovery {
    skip := make(map[string]struct{}, len(addrs))
    for _, a := range addrs { skip[a] = struct{}{} }
    return Func(func() []string {
        var out []string
        for _, s := range d.Seeds() {
            if _, ok := skip[s]; !ok { out = append(out, s) }
        }
        return out
    })
}
