package cli

import (
    "bytes"
    "context"
    "net/http/httptest"
    "strings"
    "sync"
    "testing"

    "github.com/spf13/cobra"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-usage/pkg/transport"
    "github.com/amirimatin/go-usage/pkg/transport/httpjson"
    "github.com/amirimatin/go-usage/pkg/usage"
)

type fakeNode struct {
    mu      sync.Mutex
    reports map[string][]usage.Usage
    gone    []string
}

func startNode(t *testing.T) (*fakeNode, string) {
    t.Helper()
    fn := &fakeNode{reports: map[string][]usage.Usage{}}
    s := httpjson.NewServer("n1", "127.0.0.1:0", nil)
    s.OnMessage(func(msg transport.Message, source string) {
        us, err := usage.NewCodec().Decode(msg.Data)
        require.NoError(t, err)
        fn.mu.Lock(); fn.reports[source] = us; fn.mu.Unlock()
    })
    s.OnDisconnect(func(source string) { fn.mu.Lock(); fn.gone = append(fn.gone, source); fn.mu.Unlock() })
    ts := httptest.NewServer(s.Handler(transport.Views{
        Status: func(context.Context) ([]byte, error) { return []byte(`{"node_id":"n1","role":"master"}`), nil },
        Usages: func(context.Context) ([]byte, error) { return []byte(`{"usages":[]}`), nil },
    }))
    t.Cleanup(ts.Close)
    return fn, strings.TrimPrefix(ts.URL, "http://")
}

func execute(t *testing.T, args ...string) (string, error) {
    t.Helper()
    root := &cobra.Command{Use: "usagectl", SilenceUsage: true, SilenceErrors: true}
    AddAll(root)
    var out bytes.Buffer
    root.SetOut(&out)
    root.SetErr(&out)
    root.SetIn(strings.NewReader(`[{"name":"gpu","value":1}]`))
    root.SetArgs(args)
    err := root.Execute()
    return out.String(), err
}

func TestStatusPrintsIndentedJSON(t *testing.T) {
    _, addr := startNode(t)
    out, err := execute(t, "status", "--addr", addr)
    require.NoError(t, err)
    assert.Equal(t, "{\n  \"node_id\": \"n1\",\n  \"role\": \"master\"\n}\n", out)

    _, err = execute(t, "pool", "--addr", addr)
    assert.Error(t, err, "pool view not served")
}

func TestReportPairsAndStdin(t *testing.T) {
    fn, addr := startNode(t)
    _, err := execute(t, "report", "--addr", addr, "--source", "p1", "--usage", "cpu=2.5", "--usage", "mem=1")
    require.NoError(t, err)
    _, err = execute(t, "report", "--addr", addr, "--source", "p2", "--file", "-")
    require.NoError(t, err)

    fn.mu.Lock(); defer fn.mu.Unlock()
    assert.Equal(t, []string{"cpu", "mem"}, usage.Names(fn.reports["p1"]))
    assert.Equal(t, 2.5, fn.reports["p1"][0].Value)
    assert.Equal(t, []string{"gpu"}, usage.Names(fn.reports["p2"]))
}

func TestReportRejectsBadInput(t *testing.T) {
    _, addr := startNode(t)
    _, err := execute(t, "report", "--addr", addr, "--usage", "cpu=1")
    assert.ErrorContains(t, err, "--source")
    _, err = execute(t, "report", "--addr", addr, "--source", "p", "--usage", "cpu")
    assert.Error(t, err)
    _, err = execute(t, "report", "--addr", addr, "--source", "p", "--usage", "cpu=lots")
    assert.Error(t, err)
    _, err = execute(t, "report", "--addr", addr, "--source", "p")
    assert.Error(t, err, "one of --usage or --file is required")
    _, err = execute(t, "status", "--addr", addr, "--proto", "carrier-pigeon")
    assert.Error(t, err)
}

func TestDisconnect(t *testing.T) {
    fn, addr := startNode(t)
    out, err := execute(t, "disconnect", "--addr", addr, "p1")
    require.NoError(t, err)
    assert.Contains(t, out, "disconnected p1")
    fn.mu.Lock(); defer fn.mu.Unlock()
    assert.Equal(t, []string{"p1"}, fn.gone)
}

func TestRunNeedsIdentity(t *testing.T) {
    _, err := execute(t, "run")
    assert.ErrorContains(t, err, "--id")
    _, err = execute(t, "run", "--config", "a.yaml", "--id", "x")
    assert.Error(t, err, "--config and --id are exclusive")
}
