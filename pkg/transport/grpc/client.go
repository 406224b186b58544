package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "sync"
    "time"

    "github.com/google/uuid"
    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/metadata"

    "github.com/amirimatin/go-usage/pkg/transport"
)

// metaRequestID correlates a message across sender and receiver logs.
const metaRequestID = "x-request-id"

// Client calls the collector service on remote nodes over cached
// connections.
type Client struct {
    timeout time.Duration
    tlsCfg  *tls.Config
    mu      sync.Mutex
    cm      *ConnManager
}

func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    return &Client{timeout: timeout}
}

// UseTLS sets TLS config for the client.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
    opts := []grpc.DialOption{
        grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
        grpc.WithBlock(),
    }
    if c.tlsCfg != nil {
        opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
    } else {
        opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    return grpc.DialContext(ctx, target, opts...)
}

// getConn returns a managed connection, creating the manager on first use.
func (c *Client) getConn(ctx context.Context, addr string) (*grpc.ClientConn, func(), error) {
    c.mu.Lock()
    if c.cm == nil { c.cm = NewConnManager(DefaultConnTTL, c.dialCtx) }
    cm := c.cm
    c.mu.Unlock()
    return cm.Get(ctx, addr)
}

// Close drops every cached connection.
func (c *Client) Close() {
    c.mu.Lock()
    cm := c.cm
    c.cm = nil
    c.mu.Unlock()
    if cm != nil { cm.Close() }
}

func withRequestID(ctx context.Context) (context.Context, string) {
    id := uuid.NewString()
    return metadata.AppendToOutgoingContext(ctx, metaRequestID, id), id
}

// Deliver sends msg to the node at addr on behalf of source and returns the
// request ID it was sent with.
func (c *Client) Deliver(ctx context.Context, addr, source string, msg transport.Message) (string, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.getConn(cctx, addr)
    if err != nil { return "", err }
    defer rel()
    cctx, id := withRequestID(cctx)
    out := new(ack)
    if err := cc.Invoke(cctx, methodDeliver, &envelope{Source: source, Message: msg}, out); err != nil { return id, err }
    return id, nil
}

func (c *Client) view(ctx context.Context, addr, method string) ([]byte, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.getConn(cctx, addr)
    if err != nil { return nil, err }
    defer rel()
    out := new(blob)
    if err := cc.Invoke(cctx, method, &empty{}, out); err != nil { return nil, err }
    return out.Data, nil
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) { return c.view(ctx, addr, methodGetStatus) }
func (c *Client) GetUsages(ctx context.Context, addr string) ([]byte, error) { return c.view(ctx, addr, methodGetUsages) }
func (c *Client) GetPool(ctx context.Context, addr string) ([]byte, error)   { return c.view(ctx, addr, methodGetPool) }

// Stream is an open report stream to one node. The receiving node treats
// the end of the stream as the source disconnecting.
type Stream struct {
    cs     grpc.ClientStream
    source string
    rel    func()
    cancel context.CancelFunc
}

// OpenStream opens a long-lived report stream to addr for source. The
// stream lives until Close or until ctx is done.
func (c *Client) OpenStream(ctx context.Context, addr, source string) (*Stream, error) {
    if source == "" { return nil, errors.New("grpc: empty stream source") }
    sctx, cancel := context.WithCancel(ctx)
    dctx, dcancel := context.WithTimeout(sctx, c.timeout)
    cc, rel, err := c.getConn(dctx, addr)
    dcancel()
    if err != nil { cancel(); return nil, err }
    sctx, _ = withRequestID(sctx)
    cs, err := cc.NewStream(sctx, &_Collector_serviceDesc.Streams[0], methodStream)
    if err != nil { rel(); cancel(); return nil, err }
    return &Stream{cs: cs, source: source, rel: rel, cancel: cancel}, nil
}

// Send writes one message to the stream.
func (s *Stream) Send(msg transport.Message) error {
    return s.cs.SendMsg(&envelope{Source: s.source, Message: msg})
}

// Close ends the stream and returns the number of messages the node
// accepted.
func (s *Stream) Close() (int, error) {
    defer s.cancel()
    defer s.rel()
    if err := s.cs.CloseSend(); err != nil { return 0, err }
    out := new(ack)
    if err := s.cs.RecvMsg(out); err != nil { return 0, err }
    return out.Accepted, nil
}
