// Package cli provides the cobra commands of usagectl so services can mount
// them under their own root command.
package cli

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "log"
    "os"
    "os/signal"
    "strconv"
    "strings"
    "syscall"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-usage/pkg/bootstrap"
    "github.com/amirimatin/go-usage/pkg/internal/logutil"
    "github.com/amirimatin/go-usage/pkg/observability/tracing"
    "github.com/amirimatin/go-usage/pkg/transport"
    "github.com/amirimatin/go-usage/pkg/usage"
)

// AddAll attaches the usage subcommands to root.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewUsagesCmd())
    root.AddCommand(NewPoolCmd())
    root.AddCommand(NewReportCmd())
    root.AddCommand(NewDisconnectCmd())
}

// NewUsageCommand returns a parent command "usage" holding every subcommand.
func NewUsageCommand() *cobra.Command {
    parent := &cobra.Command{Use: "usage", Short: "resource usage collector commands"}
    AddAll(parent)
    return parent
}

// NewRunCmd returns the "run" command used to start a node, either from
// --config or from flags.
func NewRunCmd() *cobra.Command {
    var (
        cfgPath string
        seeds   string
        dnsNames string
    )
    cfg := bootstrap.Default()
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a usage collector node",
        RunE: func(cmd *cobra.Command, args []string) error {
            if cfgPath != "" {
                loaded, err := bootstrap.LoadConfig(cfgPath)
                if err != nil { return err }
                cfg = loaded
            } else {
                cfg.Discovery.Seeds = splitCSV(seeds)
                cfg.Discovery.DNSNames = splitCSV(dnsNames)
                if cfg.NodeID == "" { return fmt.Errorf("missing --id (or --config)") }
            }
            cfg.Logger = log.New(cmd.ErrOrStderr(), "", log.LstdFlags)

            ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
            defer cancel()
            shutdown, err := tracing.Setup(cfg.Trace)
            if err != nil {
                logutil.Warnf(cfg.Logger, "tracing setup error: %v", err)
            } else {
                defer func() { _ = shutdown(context.Background()) }()
            }

            n, err := bootstrap.Run(ctx, cfg)
            if err != nil { return err }
            fmt.Fprintf(cmd.OutOrStdout(), "node %s running. Press Ctrl+C to exit.\n", cfg.NodeID)
            <-ctx.Done()
            stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
            defer stop()
            return n.Stop(stopCtx)
        },
    }
    fs := cmd.Flags()
    fs.StringVar(&cfgPath, "config", "", "YAML config file; replaces all other node flags")
    fs.StringVar(&cfg.NodeID, "id", "", "node id")
    fs.StringVar(&cfg.Endpoint.Addr, "addr", cfg.Endpoint.Addr, "endpoint bind address (host:port)")
    fs.StringVar(&cfg.Endpoint.Advertise, "advertise", "", "endpoint address gossiped to peers (host:port, optional)")
    fs.StringVar(&cfg.Endpoint.Proto, "proto", cfg.Endpoint.Proto, "endpoint protocol: http|grpc")
    fs.StringVar(&cfg.Membership.Bind, "mem-bind", cfg.Membership.Bind, "membership bind addr (host:port)")
    fs.StringVar(&cfg.Membership.Advertise, "mem-adv", "", "membership advertise addr (host:port, optional)")
    fs.StringVar(&cfg.Raft.Addr, "raft-addr", cfg.Raft.Addr, "raft bind addr (tcp); empty runs raft in memory")
    fs.StringVar(&cfg.Raft.DataDir, "data", "", "raft data dir; empty keeps raft state in memory")
    fs.BoolVar(&cfg.Raft.Bootstrap, "bootstrap", false, "bootstrap a new raft cluster with this node")
    fs.StringVar(&cfg.Discovery.Kind, "discovery", cfg.Discovery.Kind, "discovery backend: static|dns|file")
    fs.StringVar(&seeds, "join", "", "comma-separated membership seeds (host:port), used by discovery=static")
    fs.StringVar(&dnsNames, "dns-names", "", "comma-separated DNS names or SRV records (e.g., _usage._tcp.example.com)")
    fs.IntVar(&cfg.Discovery.DNSPort, "dns-port", 7946, "port used for A/AAAA lookups")
    fs.StringVar(&cfg.Discovery.File, "file-path", "", "path or glob to a file with seeds")
    fs.StringVar(&cfg.Discovery.Env, "file-env", "", "env var holding CSV seeds; overrides the file when set")
    fs.DurationVar(&cfg.Discovery.Refresh, "disc-refresh", 5*time.Second, "discovery refresh/cache duration")
    fs.BoolVar(&cfg.TLS.Enable, "tls-enable", false, "enable mTLS on the endpoint")
    fs.StringVar(&cfg.TLS.CAFile, "tls-ca", "", "path to CA cert (PEM)")
    fs.StringVar(&cfg.TLS.CertFile, "tls-cert", "", "path to node certificate (PEM)")
    fs.StringVar(&cfg.TLS.KeyFile, "tls-key", "", "path to node private key (PEM)")
    fs.BoolVar(&cfg.TLS.InsecureSkipVerify, "tls-skip-verify", false, "skip peer cert verification (DEV ONLY)")
    fs.StringVar(&cfg.TLS.ServerName, "tls-server-name", "", "expected server name (for TLS validation)")
    fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level: debug|info")
    fs.BoolVar(&cfg.Log.JSON, "log-json", false, "emit JSON log lines")
    fs.BoolVar(&cfg.Trace, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    cmd.MarkFlagsMutuallyExclusive("config", "id")
    return cmd
}

// viewCmd builds a command that prints one JSON view of a node.
func viewCmd(use, short string, get func(nodeClient, context.Context, string) ([]byte, error)) *cobra.Command {
    var f clientFlags
    cmd := &cobra.Command{
        Use:   use,
        Short: short,
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            c, err := f.client()
            if err != nil { return err }
            defer c.Close()
            ctx, cancel := f.context()
            defer cancel()
            data, err := get(c, ctx, f.addr)
            if err != nil { return fmt.Errorf("%s error: %w", use, err) }
            return printJSON(cmd.OutOrStdout(), data)
        },
    }
    f.register(cmd)
    return cmd
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    return viewCmd("status", "Fetch node status as JSON", nodeClient.GetStatus)
}

// NewUsagesCmd returns the "usages" command, which prints a node's local view.
func NewUsagesCmd() *cobra.Command {
    return viewCmd("usages", "Fetch the local usages of a node", nodeClient.GetUsages)
}

// NewPoolCmd returns the "pool" command. Only the master's pool is
// authoritative; the output carries the node's role.
func NewPoolCmd() *cobra.Command {
    return viewCmd("pool", "Fetch the cluster pool held by a node", nodeClient.GetPool)
}

// NewReportCmd returns the "report" command. Usages come from --usage
// name=value pairs or, with --file, from a JSON document in any form the
// node accepts ("-" reads stdin).
func NewReportCmd() *cobra.Command {
    var (
        f      clientFlags
        source string
        pairs  []string
        file   string
    )
    cmd := &cobra.Command{
        Use:   "report",
        Short: "Import usages into a node on behalf of a source",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            if source == "" { return fmt.Errorf("missing --source") }
            msg, err := reportMessage(cmd.InOrStdin(), pairs, file)
            if err != nil { return err }
            c, err := f.client()
            if err != nil { return err }
            defer c.Close()
            ctx, cancel := f.context()
            defer cancel()
            id, err := c.Report(ctx, f.addr, source, msg)
            if err != nil { return fmt.Errorf("report error: %w", err) }
            fmt.Fprintf(cmd.OutOrStdout(), "reported for %s (request %s)\n", source, id)
            return nil
        },
    }
    f.register(cmd)
    cmd.Flags().StringVar(&source, "source", "", "source the usages are attributed to (required)")
    cmd.Flags().StringArrayVar(&pairs, "usage", nil, "usage as name=value; repeatable")
    cmd.Flags().StringVar(&file, "file", "", "JSON usage document; '-' reads stdin")
    cmd.MarkFlagsMutuallyExclusive("usage", "file")
    cmd.MarkFlagsOneRequired("usage", "file")
    return cmd
}

// NewDisconnectCmd returns the "disconnect" command, which retracts every
// usage a source contributed to a node.
func NewDisconnectCmd() *cobra.Command {
    var f clientFlags
    cmd := &cobra.Command{
        Use:   "disconnect SOURCE",
        Short: "Retract the usages of a source on a node",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            c, err := f.client()
            if err != nil { return err }
            defer c.Close()
            ctx, cancel := f.context()
            defer cancel()
            if err := c.Disconnect(ctx, f.addr, args[0]); err != nil { return fmt.Errorf("disconnect error: %w", err) }
            fmt.Fprintf(cmd.OutOrStdout(), "disconnected %s\n", args[0])
            return nil
        },
    }
    f.register(cmd)
    return cmd
}

func reportMessage(stdin io.Reader, pairs []string, file string) (transport.Message, error) {
    if file == "" {
        us, err := parsePairs(pairs)
        if err != nil { return transport.Message{}, err }
        return transport.NewUsageMessage(transport.TypeImportUsages, us)
    }
    var (
        raw []byte
        err error
    )
    if file == "-" {
        raw, err = io.ReadAll(stdin)
    } else {
        raw, err = os.ReadFile(file)
    }
    if err != nil { return transport.Message{}, err }
    // validate locally so a typo fails here rather than silently on the node
    if _, err := usage.NewCodec().Decode(raw); err != nil { return transport.Message{}, err }
    return transport.Message{Type: transport.TypeImportUsages, Data: json.RawMessage(raw)}, nil
}

func parsePairs(pairs []string) ([]usage.Usage, error) {
    out := make([]usage.Usage, 0, len(pairs))
    for _, p := range pairs {
        name, val, ok := strings.Cut(p, "=")
        if !ok || strings.TrimSpace(name) == "" { return nil, fmt.Errorf("bad --usage %q: want name=value", p) }
        v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
        if err != nil {
            return nil, fmt.Errorf("bad --usage %q: %w", p, err)
        }
        out = append(out, usage.Usage{Name: strings.TrimSpace(name), Value: v})
    }
    return out, nil
}

func printJSON(w io.Writer, data []byte) error {
    var buf bytes.Buffer
    if err := json.Indent(&buf, data, "", "  "); err != nil {
        buf.Reset()
        buf.Write(data)
    }
    if buf.Len() == 0 || buf.Bytes()[buf.Len()-1] != '\n' { buf.WriteByte('\n') }
    _, err := w.Write(buf.Bytes())
    return err
}

func splitCSV(s string) []string {
    var out []string
    for _, p := range strings.Split(s, ",") {
        if p = strings.TrimSpace(p); p != "" { out = append(out, p) }
    }
    return out
}
