// Package usage defines the resource-usage value exchanged between producers
// and cluster nodes, and the codec that turns raw descriptors into it.
package usage

import (
    "reflect"
    "sort"
)

// Usage is a single named resource-usage fact, e.g. {"name":"cpu","value":0.4}.
// Values are treated as immutable once handed to an aggregator or pool.
type Usage struct {
    Name  string         `json:"name"`
    Value float64        `json:"value"`
    Meta  map[string]any `json:"meta,omitempty"`
}

// Report is the payload of a usage message: {"usages": [...]}.
type Report struct {
    Usages []Usage `json:"usages"`
}

// Clone returns a copy whose Meta map is not shared with u.
func (u Usage) Clone() Usage {
    out := Usage{Name: u.Name, Value: u.Value}
    if len(u.Meta) > 0 {
        out.Meta = make(map[string]any, len(u.Meta))
        for k, v := range u.Meta { out.Meta[k] = v }
    }
    return out
}

// Equal reports whether two usages carry the same name, value and metadata.
// A nil and an empty Meta compare equal.
func (u Usage) Equal(o Usage) bool {
    if u.Name != o.Name || u.Value != o.Value { return false }
    if len(u.Meta) == 0 && len(o.Meta) == 0 { return true }
    return reflect.DeepEqual(u.Meta, o.Meta)
}

// Names returns the names of us in input order.
func Names(us []Usage) []string {
    out := make([]string, 0, len(us))
    for _, u := range us { out = append(out, u.Name) }
    return out
}

// SortByName sorts us in place by name.
func SortByName(us []Usage) {
    sort.Slice(us, func(i, j int) bool { return us[i].Name < us[j].Name })
}
