package registry

import (
    "testing"

    "github.com/stretchr/testify/assert"
)

func TestRecordRetract(t *testing.T) {
    r := New()
    r.Record("a", []string{"cpu", "mem"})
    r.Record("a", []string{"cpu", "disk"})
    r.Record("b", []string{"cpu"})

    assert.Equal(t, []string{"a", "b"}, r.Sources())
    assert.Equal(t, []string{"cpu", "disk", "mem"}, r.Names("a"))

    got := r.Retract("a")
    assert.Equal(t, []string{"cpu", "disk", "mem"}, got)
    assert.False(t, r.attributed("a", "cpu"))
    assert.Empty(t, r.Names("a"))
    // other sources keep their own attribution of a shared name
    assert.True(t, r.attributed("b", "cpu"))
    assert.Equal(t, 1, r.Len())
}

func TestRetractUnknownSource(t *testing.T) {
    r := New()
    assert.Empty(t, r.Retract("ghost"))
    r.Record("a", []string{"cpu"})
    assert.Equal(t, []string{"cpu"}, r.Retract("a"))
    assert.Empty(t, r.Retract("a"))
}

func TestRecordIgnoresEmpty(t *testing.T) {
    r := New()
    r.Record("", []string{"cpu"})
    r.Record("a", nil)
    assert.Equal(t, 0, r.Len())
}

func TestRecordAfterRetract(t *testing.T) {
    r := New()
    r.Record("a", []string{"cpu"})
    r.Retract("a")
    r.Record("a", []string{"mem"})
    assert.Equal(t, []string{"mem"}, r.Names("a"))
}
