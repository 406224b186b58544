package registry

import (
    "testing"

    "github.com/leanovate/gopter"
    "github.com/leanovate/gopter/gen"
    "github.com/leanovate/gopter/prop"
)

type op struct {
    Retract bool
    Source  string
    Names   []string
}

func genOp() gopter.Gen {
    return gopter.CombineGens(
        gen.Bool(),
        gen.OneConstOf("a", "b", "c"),
        gen.SliceOfN(3, gen.OneConstOf("cpu", "mem", "disk", "net")),
    ).Map(func(v []interface{}) op {
        return op{Retract: v[0].(bool), Source: v[1].(string), Names: v[2].([]string)}
    })
}

// After Retract(s) returns N, no name in N is attributed to s until the next
// Record(s, ...), whatever other operations interleave.
func TestRetractedNamesStayGone(t *testing.T) {
    parameters := gopter.DefaultTestParameters()
    parameters.MinSuccessfulTests = 200
    properties := gopter.NewProperties(parameters)

    properties.Property("retract clears attribution until re-record", prop.ForAll(
        func(ops []op) bool {
            r := New()
            retracted := map[string][]string{}
            for _, o := range ops {
                if o.Retract {
                    retracted[o.Source] = r.Retract(o.Source)
                } else {
                    r.Record(o.Source, o.Names)
                    delete(retracted, o.Source)
                }
                for src, names := range retracted {
                    for _, n := range names {
                        if r.attributed(src, n) { return false }
                    }
                }
            }
            return true
        },
        gen.SliceOf(genOp()),
    ))

    properties.Property("retract returns exactly what was recorded", prop.ForAll(
        func(ops []op) bool {
            r := New()
            want := map[string]map[string]struct{}{}
            for _, o := range ops {
                if o.Retract {
                    got := r.Retract(o.Source)
                    if len(got) != len(want[o.Source]) { return false }
                    for _, n := range got {
                        if _, ok := want[o.Source][n]; !ok { return false }
                    }
                    delete(want, o.Source)
                    continue
                }
                r.Record(o.Source, o.Names)
                if len(o.Names) == 0 { continue }
                if want[o.Source] == nil { want[o.Source] = map[string]struct{}{} }
                for _, n := range o.Names { want[o.Source][n] = struct{}{} }
            }
            return true
        },
        gen.SliceOf(genOp()),
    ))

    properties.TestingRun(t)
}
