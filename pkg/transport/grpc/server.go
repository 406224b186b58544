package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "io"
    "log"
    "net"
    "sync"
    "time"

    "go.opentelemetry.io/otel/attribute"
    "google.golang.org/grpc"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/metadata"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-usage/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-usage/pkg/observability/metrics"
    "github.com/amirimatin/go-usage/pkg/observability/tracing"
    "github.com/amirimatin/go-usage/pkg/transport"
)

const (
    serviceName     = "usage.v1.Collector"
    methodDeliver   = "/usage.v1.Collector/Deliver"
    methodStream    = "/usage.v1.Collector/Stream"
    methodGetStatus = "/usage.v1.Collector/GetStatus"
    methodGetUsages = "/usage.v1.Collector/GetUsages"
    methodGetPool   = "/usage.v1.Collector/GetPool"
)

// request/response types carried by the JSON codec
type empty struct{}
type blob struct{ Data []byte `json:"data"` }
type ack struct{ Accepted int `json:"accepted"` }
type envelope struct {
    Source  string            `json:"source"`
    Message transport.Message `json:"message"`
}

// Server is a gRPC transport endpoint: it accepts messages from peers
// (unary or streamed), serves the node's views and sends outbound messages
// with its Client.
type Server struct {
    transport.Handlers

    nodeID      string
    bind        string
    logger      *log.Logger
    tlsCfg      *tls.Config
    client      *Client
    sendTimeout time.Duration
    outbox      *transport.Outbox

    mu      sync.RWMutex
    lis     net.Listener
    srv     *grpc.Server
    resolve transport.Resolver
}

func NewServer(nodeID, bind string, logger *log.Logger) *Server {
    if logger == nil { logger = log.Default() }
    s := &Server{nodeID: nodeID, bind: bind, logger: logger, client: NewClient(3 * time.Second), sendTimeout: 5 * time.Second}
    s.outbox = transport.NewOutbox(s.deliver)
    return s
}

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Client returns the client used for outbound messages.
func (s *Server) Client() *Client { return s.client }

func (s *Server) SetResolver(r transport.Resolver) {
    s.mu.Lock(); s.resolve = r; s.mu.Unlock()
}

// Send queues msg for target and returns at once. Messages to one target
// go out one at a time in order; a snapshot superseded while an earlier one
// is in flight is dropped. Failures are logged and counted, never returned.
func (s *Server) Send(msg transport.Message, target transport.Target) {
    if s.outbox.Post(msg, target) { obsmetrics.ReportsSent.WithLabelValues("superseded").Inc() }
}

// deliver runs on the outbox sender for target. The address is resolved per
// message so a new master is picked up.
func (s *Server) deliver(target transport.Target, msg transport.Message) {
    s.mu.RLock()
    resolve := s.resolve
    s.mu.RUnlock()
    var addr string
    ok := false
    if resolve != nil { addr, ok = resolve(target) }
    if !ok || addr == "" {
        obsmetrics.ReportsSent.WithLabelValues("unresolved").Inc()
        logutil.Warnf(s.logger, "grpc: cannot resolve %q, dropping %s", target, msg.Type)
        return
    }
    ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
    defer cancel()
    id, err := s.client.Deliver(ctx, addr, s.nodeID, msg)
    if err != nil {
        obsmetrics.ReportsSent.WithLabelValues("failed").Inc()
        logutil.Warnf(s.logger, "grpc: send %s to %s (%s) request=%s: %v", msg.Type, target, addr, id, err)
        return
    }
    obsmetrics.ReportsSent.WithLabelValues("sent").Inc()
    logutil.Debugf(s.logger, "grpc: sent %s to %s request=%s", msg.Type, addr, id)
}

// collectorServer defines the methods we expose.
type collectorServer interface {
    Deliver(ctx context.Context, in *envelope) (*ack, error)
    Stream(stream grpc.ServerStream) error
    View(ctx context.Context, method string) (*blob, error)
}

type collectorImpl struct {
    s     *Server
    views transport.Views
}

func requestID(ctx context.Context) string {
    if md, ok := metadata.FromIncomingContext(ctx); ok {
        if v := md.Get(metaRequestID); len(v) > 0 { return v[0] }
    }
    return ""
}

func (c *collectorImpl) Deliver(ctx context.Context, in *envelope) (*ack, error) {
    if in == nil || in.Source == "" { return nil, status.Error(codes.InvalidArgument, "missing source") }
    _, end := tracing.StartSpan(ctx, "grpc.deliver", attribute.String("source", in.Source), attribute.String("type", in.Message.Type))
    defer end()
    if in.Message.Type == "" { return nil, status.Error(codes.InvalidArgument, "missing message type") }
    logutil.Debugf(c.s.logger, "grpc: %s from %s request=%s", in.Message.Type, in.Source, requestID(ctx))
    c.s.Deliver(in.Message, in.Source)
    return &ack{Accepted: 1}, nil
}

// Stream delivers every envelope of a client stream. The stream is bound to
// the source of its first envelope; when it ends, for any reason, that
// source is reported as disconnected.
func (c *collectorImpl) Stream(stream grpc.ServerStream) error {
    obsmetrics.Streams.Inc()
    defer obsmetrics.Streams.Dec()
    var source string
    n := 0
    defer func() {
        if source != "" { c.s.Disconnected(source) }
    }()
    for {
        in := new(envelope)
        err := stream.RecvMsg(in)
        if errors.Is(err, io.EOF) { return stream.SendMsg(&ack{Accepted: n}) }
        if err != nil { return err }
        if in.Source == "" || (source != "" && in.Source != source) {
            return status.Error(codes.InvalidArgument, "stream source missing or changed")
        }
        if source == "" {
            source = in.Source
            logutil.Infof(c.s.logger, "grpc: stream opened by %s request=%s", source, requestID(stream.Context()))
        }
        if in.Message.Type == "" { continue }
        c.s.Deliver(in.Message, source)
        n++
    }
}

func (c *collectorImpl) View(ctx context.Context, method string) (*blob, error) {
    var view transport.ViewFunc
    switch method {
    case methodGetStatus:
        view = c.views.Status
    case methodGetUsages:
        view = c.views.Usages
    case methodGetPool:
        view = c.views.Pool
    }
    if view == nil { return nil, status.Error(codes.Unimplemented, "view not supported") }
    ctx, end := tracing.StartSpan(ctx, "grpc.view")
    defer end()
    b, err := view(ctx)
    if err != nil { return nil, status.Error(codes.Internal, err.Error()) }
    return &blob{Data: b}, nil
}

// Service descriptor and handlers (hand-written, no codegen required)
var _Collector_serviceDesc = grpc.ServiceDesc{
    ServiceName: serviceName,
    HandlerType: (*collectorServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "Deliver", Handler: _Collector_Deliver_Handler},
        {MethodName: "GetStatus", Handler: viewHandler(methodGetStatus)},
        {MethodName: "GetUsages", Handler: viewHandler(methodGetUsages)},
        {MethodName: "GetPool", Handler: viewHandler(methodGetPool)},
    },
    Streams: []grpc.StreamDesc{{
        StreamName:    "Stream",
        ClientStreams: true,
        Handler:       _Collector_Stream_Handler,
    }},
}

func _Collector_Deliver_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(envelope)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(collectorServer).Deliver(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodDeliver}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(collectorServer).Deliver(ctx, req.(*envelope))
    }
    return interceptor(ctx, in, info, handler)
}

func viewHandler(method string) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
        in := new(empty)
        if err := dec(in); err != nil { return nil, err }
        if interceptor == nil { return srv.(collectorServer).View(ctx, method) }
        info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
        handler := func(ctx context.Context, _ interface{}) (interface{}, error) {
            return srv.(collectorServer).View(ctx, method)
        }
        return interceptor(ctx, in, info, handler)
    }
}

func _Collector_Stream_Handler(srv interface{}, stream grpc.ServerStream) error {
    return srv.(collectorServer).Stream(stream)
}

// Start listens on the bind address and serves until ctx is canceled.
func (s *Server) Start(ctx context.Context, views transport.Views) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    var opts []grpc.ServerOption
    // keepalive settings for long-lived streams
    opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}))
    opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}))
    if s.tlsCfg != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg))) }
    srv := grpc.NewServer(opts...)
    healthSrv := health.NewServer()
    healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
    healthpb.RegisterHealthServer(srv, healthSrv)
    srv.RegisterService(&_Collector_serviceDesc, &collectorImpl{s: s, views: views})

    s.mu.Lock()
    s.lis, s.srv = lis, srv
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        defer cancel()
        _ = s.Stop(stopCtx)
    }()
    go func() {
        if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
            logutil.Errorf(s.logger, "grpc: server error: %v", err)
        }
    }()
    return nil
}

// Addr returns the listening address once started, else the bind address.
func (s *Server) Addr() string {
    s.mu.RLock(); defer s.mu.RUnlock()
    if s.lis != nil { return s.lis.Addr().String() }
    return s.bind
}

// Stop drains in-flight calls, falling back to a hard stop when ctx ends.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv, s.lis = nil, nil
    s.mu.Unlock()
    if err := s.outbox.Close(ctx); err != nil { logutil.Warnf(s.logger, "grpc: pending sends abandoned: %v", err) }
    if srv == nil { return nil }
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        srv.Stop()
    }
    s.client.Close()
    return nil
}

var _ transport.Endpoint = (*Server)(nil)
