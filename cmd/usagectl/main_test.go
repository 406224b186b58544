package main

import (
    "testing"

    "github.com/stretchr/testify/assert"
)

func TestRootHasSubcommands(t *testing.T) {
    root := newRoot()
    var names []string
    for _, c := range root.Commands() { names = append(names, c.Name()) }
    assert.ElementsMatch(t, []string{"run", "status", "usages", "pool", "report", "disconnect"}, names)
}
