package collector

import (
    "encoding/json"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-usage/pkg/topology"
    "github.com/amirimatin/go-usage/pkg/transport"
    "github.com/amirimatin/go-usage/pkg/usage"
)

func TestRoleStrings(t *testing.T) {
    assert.Equal(t, "default", RoleDefault.String())
    assert.Equal(t, "master", RoleMaster.String())
    assert.Equal(t, "member", RoleMember.String())
    assert.Equal(t, "role(9)", Role(9).String())

    r, err := ParseRole(" Member ")
    require.NoError(t, err)
    assert.Equal(t, RoleMember, r)
    _, err = ParseRole("leader")
    assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestTopologyUpdateSyncsPoolInEveryRole(t *testing.T) {
    for _, role := range []Role{RoleDefault, RoleMaster, RoleMember} {
        t.Run(role.String(), func(t *testing.T) {
            h := newHarness(t, role)
            h.pool.UpdateUsages("n1", []usage.Usage{{Name: "cpu", Value: 1}})
            h.pool.UpdateUsages("n2", []usage.Usage{{Name: "cpu", Value: 2}})
            h.topo.emit(nodes("n1", "n3"))
            assert.Equal(t, []string{"n1"}, h.pool.Sources())
        })
    }
}

func TestTopologyWithoutNodeListIsIgnored(t *testing.T) {
    h := newHarness(t, RoleMaster)
    h.pool.UpdateUsages("n2", []usage.Usage{{Name: "cpu", Value: 2}})
    h.c.HandleTopology(topology.Update{})
    assert.Equal(t, 1, h.pool.Len())
    // An empty, non-nil node list is a real topology.
    h.topo.emit(nodes())
    assert.Equal(t, 0, h.pool.Len())
}

func TestInboundReportAppliedUnderMaster(t *testing.T) {
    h := newHarness(t, RoleMaster)
    h.tr.Deliver(report(t, usage.Usage{Name: "cpu", Value: 1}, usage.Usage{Name: "mem", Value: 2}), "n2")
    assert.Equal(t, []string{"cpu", "mem"}, names(h.pool.Usages("n2")))
    // A later report replaces the source's set.
    h.tr.Deliver(report(t, usage.Usage{Name: "mem", Value: 3}), "n2")
    assert.Equal(t, []usage.Usage{{Name: "mem", Value: 3}}, h.pool.Usages("n2"))
    // The local view is untouched by peer reports.
    assert.Empty(t, h.c.ExportUsages())
}

func TestInboundReportUnderDefaultMatchesMaster(t *testing.T) {
    msgs := []transport.Message{
        report(t, usage.Usage{Name: "cpu", Value: 1}),
        {Type: transport.TypeCollectUsages, Data: json.RawMessage(`{"usages":[{"name":""}]}`)},
        report(t, usage.Usage{Name: "cpu", Value: 4}, usage.Usage{Name: "gpu", Value: 1, Meta: map[string]any{"model": "x"}}),
    }
    master := newHarness(t, RoleMaster)
    def := newHarness(t, RoleDefault)
    for i, m := range msgs {
        src := []string{"n2", "n3", "n3"}[i]
        master.tr.Deliver(m, src)
        def.tr.Deliver(m, src)
    }
    assert.Equal(t, master.pool.Snapshot(), def.pool.Snapshot())
    assert.Equal(t, []string{"n2", "n3"}, def.pool.Sources())
}

func TestInboundReportIgnoredUnderMember(t *testing.T) {
    h := newHarness(t, RoleMember)
    h.tr.Deliver(report(t, usage.Usage{Name: "cpu", Value: 1}), "n2")
    assert.Equal(t, 0, h.pool.Len())
}

func TestMalformedInboundReportIsDropped(t *testing.T) {
    h := newHarness(t, RoleMaster)
    h.tr.Deliver(report(t, usage.Usage{Name: "cpu", Value: 1}), "n2")
    h.tr.Deliver(transport.Message{Type: transport.TypeCollectUsages, Data: json.RawMessage(`{"usages":"nope"}`)}, "n2")
    assert.Equal(t, []string{"cpu"}, names(h.pool.Usages("n2")))
}

func TestEnteringMemberClearsPool(t *testing.T) {
    h := newHarness(t, RoleMaster)
    h.tr.Deliver(report(t, usage.Usage{Name: "cpu", Value: 1}), "n2")
    require.Equal(t, 1, h.c.ResourcePool().Len())

    require.NoError(t, h.c.SetRole(RoleMember))
    assert.Equal(t, RoleMember, h.c.Role())
    assert.Equal(t, 0, h.c.ResourcePool().Len())
    assert.Empty(t, h.c.ResourcePool().Snapshot())
}

func TestSetRoleSameRoleDoesNotReenter(t *testing.T) {
    h := newHarness(t, RoleMember)
    h.pool.UpdateUsages("n2", []usage.Usage{{Name: "cpu", Value: 1}})
    require.NoError(t, h.c.SetRole(RoleMember))
    assert.Equal(t, 1, h.pool.Len())
    assert.ErrorIs(t, h.c.SetRole(Role(-1)), ErrUnknownRole)
}

func TestMemberForwardsLocalChangesToMaster(t *testing.T) {
    h := newHarness(t, RoleMember)
    h.c.ImportUsages([]byte(`{"name":"cpu","value":1}`), "A")
    h.c.ImportUsages([]byte(`{"name":"mem","value":2}`), "B")
    // Same value again: no observable change, nothing sent.
    h.c.ImportUsages([]byte(`{"name":"cpu","value":1}`), "A")

    out := h.tr.Sent()
    require.Len(t, out, 2)
    last := out[1]
    assert.Equal(t, transport.TargetMaster, last.target)
    assert.Equal(t, transport.TypeCollectUsages, last.msg.Type)
    var rep usage.Report
    require.NoError(t, json.Unmarshal(last.msg.Data, &rep))
    assert.Equal(t, []string{"cpu", "mem"}, names(rep.Usages))

    h.c.OnSourceDisconnected("A")
    out = h.tr.Sent()
    require.Len(t, out, 3)
    require.NoError(t, json.Unmarshal(out[2].msg.Data, &rep))
    assert.Equal(t, []string{"mem"}, names(rep.Usages))
}

func TestNonMembersDoNotForward(t *testing.T) {
    for _, role := range []Role{RoleDefault, RoleMaster} {
        h := newHarness(t, role)
        h.c.ImportUsages([]byte(`{"name":"cpu","value":1}`), "A")
        assert.Empty(t, h.tr.Sent(), role.String())
    }
}

func TestPromotionStopsForwarding(t *testing.T) {
    h := newHarness(t, RoleDefault)
    require.NoError(t, h.c.SetRole(RoleMember))
    h.c.ImportUsages([]byte(`{"name":"cpu","value":1}`), "A")
    require.NoError(t, h.c.SetRole(RoleMaster))
    h.c.ImportUsages([]byte(`{"name":"cpu","value":2}`), "A")
    assert.Len(t, h.tr.Sent(), 1)
}
