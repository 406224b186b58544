// Package bootstrap assembles a usage node from a Config: discovery,
// raft consensus over a replicated topology, memberlist gossip and an HTTP
// or gRPC endpoint.
package bootstrap

import (
    "context"
    "crypto/tls"
    "fmt"
    "log"
    "strings"

    raftcons "github.com/amirimatin/go-usage/pkg/consensus/raft"
    "github.com/amirimatin/go-usage/pkg/discovery"
    dDNS "github.com/amirimatin/go-usage/pkg/discovery/dns"
    dFile "github.com/amirimatin/go-usage/pkg/discovery/file"
    dStatic "github.com/amirimatin/go-usage/pkg/discovery/static"
    "github.com/amirimatin/go-usage/pkg/internal/logutil"
    "github.com/amirimatin/go-usage/pkg/membership"
    ml "github.com/amirimatin/go-usage/pkg/membership/memberlist"
    "github.com/amirimatin/go-usage/pkg/node"
    st "github.com/amirimatin/go-usage/pkg/state/topology"
    "github.com/amirimatin/go-usage/pkg/transport"
    grpcep "github.com/amirimatin/go-usage/pkg/transport/grpc"
    "github.com/amirimatin/go-usage/pkg/transport/httpjson"
)

// Build assembles a node from cfg without starting it. Zero fields take
// their Default values.
func Build(cfg Config) (*node.Node, error) {
    cfg = withDefaults(cfg)
    if err := cfg.Validate(); err != nil { return nil, err }
    if cfg.Logger == nil { cfg.Logger = log.Default() }
    logutil.SetJSON(cfg.Log.JSON)
    if cfg.Log.Level == "debug" { logutil.SetDebug(true) }

    srvTLS, cliTLS, err := tlsConfigs(cfg)
    if err != nil { return nil, err }
    ep := newEndpoint(cfg, srvTLS, cliTLS)

    state := st.New()
    cons, err := raftcons.New(raftcons.Options{
        NodeID:    cfg.NodeID,
        Logger:    cfg.Logger,
        BindAddr:  cfg.Raft.Addr,
        DataDir:   cfg.Raft.DataDir,
        Bootstrap: cfg.Raft.Bootstrap,
        State:     state,
    })
    if err != nil { return nil, err }

    mcfg := cfg.Membership
    memFactory := func(meta map[string]string) (membership.Membership, error) {
        return ml.New(ml.Options{
            NodeID:        cfg.NodeID,
            Bind:          mcfg.Bind,
            Advertise:     mcfg.Advertise,
            Meta:          meta,
            Logger:        cfg.Logger,
            ProbeInterval: mcfg.ProbeInterval,
        })
    }

    return node.New(node.Options{
        NodeID:     cfg.NodeID,
        Logger:     cfg.Logger,
        Endpoint:   ep,
        Advertise:  cfg.Endpoint.Advertise,
        Consensus:  cons,
        Topology:   state,
        Membership: memFactory,
        Discovery:  newDiscovery(cfg),
    })
}

// Run builds and starts the node. The caller stops it with node.Stop.
func Run(ctx context.Context, cfg Config) (*node.Node, error) {
    n, err := Build(cfg)
    if err != nil { return nil, err }
    if err := n.Start(ctx); err != nil { return nil, err }
    return n, nil
}

func withDefaults(cfg Config) Config {
    d := Default()
    if cfg.Endpoint.Addr == "" { cfg.Endpoint.Addr = d.Endpoint.Addr }
    if cfg.Endpoint.Proto == "" { cfg.Endpoint.Proto = d.Endpoint.Proto }
    if cfg.Membership.Bind == "" { cfg.Membership.Bind = d.Membership.Bind }
    if cfg.Discovery.Kind == "" { cfg.Discovery.Kind = d.Discovery.Kind }
    cfg.Endpoint.Proto = strings.ToLower(cfg.Endpoint.Proto)
    return cfg
}

func tlsConfigs(cfg Config) (srv, cli *tls.Config, err error) {
    if !cfg.TLS.Enable { return nil, nil, nil }
    if srv, err = cfg.TLS.Server(); err != nil { return nil, nil, fmt.Errorf("bootstrap: tls server: %w", err) }
    if cli, err = cfg.TLS.Client(); err != nil { return nil, nil, fmt.Errorf("bootstrap: tls client: %w", err) }
    return srv, cli, nil
}

func newEndpoint(cfg Config, srvTLS, cliTLS *tls.Config) transport.Endpoint {
    switch cfg.Endpoint.Proto {
    case "grpc":
        s := grpcep.NewServer(cfg.NodeID, cfg.Endpoint.Addr, cfg.Logger)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        if cliTLS != nil { s.Client().UseTLS(cliTLS) }
        return s
    default:
        s := httpjson.NewServer(cfg.NodeID, cfg.Endpoint.Addr, cfg.Logger)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        if cliTLS != nil { s.Client().UseTLS(cliTLS) }
        return s
    }
}

func newDiscovery(cfg Config) discovery.Discovery {
    dc := cfg.Discovery
    switch dc.Kind {
    case "dns":
        return dDNS.New(dDNS.Options{Names: dc.DNSNames, Port: dc.DNSPort, Refresh: dc.Refresh, Logger: cfg.Logger})
    case "file":
        return dFile.New(dFile.Options{Path: dc.File, Env: dc.Env, Refresh: dc.Refresh, Logger: cfg.Logger})
    default:
        return dStatic.New(dc.Seeds...)
    }
}
