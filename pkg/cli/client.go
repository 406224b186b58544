package cli

import (
    "context"
    "crypto/tls"
    "fmt"
    "time"

    "github.com/spf13/cobra"

    tlsx "github.com/amirimatin/go-usage/pkg/security/tlsconfig"
    "github.com/amirimatin/go-usage/pkg/transport"
    grpcep "github.com/amirimatin/go-usage/pkg/transport/grpc"
    "github.com/amirimatin/go-usage/pkg/transport/httpjson"
)

// nodeClient is what the client subcommands need from a node endpoint.
type nodeClient interface {
    GetStatus(ctx context.Context, addr string) ([]byte, error)
    GetUsages(ctx context.Context, addr string) ([]byte, error)
    GetPool(ctx context.Context, addr string) ([]byte, error)
    Report(ctx context.Context, addr, source string, msg transport.Message) (string, error)
    Disconnect(ctx context.Context, addr, source string) error
    Close()
}

type httpClient struct{ *httpjson.Client }

func (c httpClient) Report(ctx context.Context, addr, source string, msg transport.Message) (string, error) {
    return c.PostMessage(ctx, addr, source, msg)
}

func (c httpClient) Disconnect(ctx context.Context, addr, source string) error {
    return c.DeleteSource(ctx, addr, source)
}

func (httpClient) Close() {}

type grpcClient struct{ *grpcep.Client }

func (c grpcClient) Report(ctx context.Context, addr, source string, msg transport.Message) (string, error) {
    return c.Deliver(ctx, addr, source, msg)
}

// Disconnect opens a report stream for source and ends it right away; the
// node treats the end of a stream as its source going away.
func (c grpcClient) Disconnect(ctx context.Context, addr, source string) error {
    s, err := c.OpenStream(ctx, addr, source)
    if err != nil { return err }
    if err := s.Send(transport.Message{}); err != nil { return err }
    _, err = s.Close()
    return err
}

// clientFlags are shared by every subcommand that talks to a running node.
type clientFlags struct {
    addr    string
    proto   string
    timeout time.Duration
    tls     tlsx.Options
}

func (f *clientFlags) register(cmd *cobra.Command) {
    fs := cmd.Flags()
    fs.StringVar(&f.addr, "addr", "127.0.0.1:17946", "endpoint address of a node (host:port)")
    fs.StringVar(&f.proto, "proto", "http", "endpoint protocol: http|grpc")
    fs.DurationVar(&f.timeout, "timeout", 3*time.Second, "request timeout")
    fs.BoolVar(&f.tls.Enable, "tls-enable", false, "enable mTLS towards the node")
    fs.StringVar(&f.tls.CAFile, "tls-ca", "", "path to CA cert (PEM)")
    fs.StringVar(&f.tls.CertFile, "tls-cert", "", "path to client certificate (PEM)")
    fs.StringVar(&f.tls.KeyFile, "tls-key", "", "path to client private key (PEM)")
    fs.BoolVar(&f.tls.InsecureSkipVerify, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    fs.StringVar(&f.tls.ServerName, "tls-server-name", "", "expected server name (for TLS validation)")
}

func (f *clientFlags) client() (nodeClient, error) {
    var cliTLS *tls.Config
    if f.tls.Enable {
        var err error
        if cliTLS, err = f.tls.Client(); err != nil { return nil, fmt.Errorf("tls client config: %w", err) }
    }
    switch f.proto {
    case "grpc":
        c := grpcep.NewClient(f.timeout)
        if cliTLS != nil { c.UseTLS(cliTLS) }
        return grpcClient{c}, nil
    case "http", "":
        c := httpjson.NewClient(f.timeout)
        if cliTLS != nil { c.UseTLS(cliTLS) }
        return httpClient{c}, nil
    default:
        return nil, fmt.Errorf("unknown protocol %q", f.proto)
    }
}

func (f *clientFlags) context() (context.Context, context.CancelFunc) {
    return context.WithTimeout(context.Background(), f.timeout)
}
