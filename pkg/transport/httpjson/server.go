package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "log"
    "net"
    "net/http"
    "sync"
    "time"

    "github.com/go-chi/chi/v5"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/amirimatin/go-usage/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-usage/pkg/observability/metrics"
    "github.com/amirimatin/go-usage/pkg/observability/tracing"
    "github.com/amirimatin/go-usage/pkg/transport"
)

const maxBody = 4 << 20

// Server is an HTTP transport endpoint. Peers and producers POST messages
// to it; outbound messages go to the address the resolver returns for a
// target. It also serves the node's read views, /healthz and /metrics.
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
    srv     *http.Server
    addr    string
    resolve transport.Resolver
}

// NewServer binds to the given TCP address (e.g., ":7946"). nodeID is sent
// as the source of every outbound message.
func NewServer(nodeID, bind string, logger *log.Logger) *Server {
    if logger == nil { logger = log.Default() }
    s := &Server{nodeID: nodeID, bind: bind, logger: logger, client: NewClient(3 * time.Second), sendTimeout: 5 * time.Second}
    s.outbox = transport.NewOutbox(s.deliver)
    return s
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Client returns the client used for outbound messages, e.g. to enable TLS.
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
        logutil.Warnf(s.logger, "httpjson: cannot resolve %q, dropping %s", target, msg.Type)
        return
    }
    ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
    defer cancel()
    id, err := s.client.PostMessage(ctx, addr, s.nodeID, msg)
    if err != nil {
        obsmetrics.ReportsSent.WithLabelValues("failed").Inc()
        logutil.Warnf(s.logger, "httpjson: send %s to %s (%s): %v", msg.Type, target, addr, err)
        return
    }
    obsmetrics.ReportsSent.WithLabelValues("sent").Inc()
    logutil.Debugf(s.logger, "httpjson: sent %s to %s request=%s", msg.Type, addr, id)
}

// Handler returns the router serving views plus the message and source
// endpoints.
func (s *Server) Handler(views transport.Views) http.Handler {
    r := chi.NewRouter()
    r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    r.Handle("/metrics", promhttp.Handler())
    r.Get("/status", serveView("http.status", views.Status))
    r.Route("/v1", func(r chi.Router) {
        r.Post("/messages", s.handleMessage)
        r.Delete("/sources/{id}", s.handleDisconnect)
        r.Get("/usages", serveView("http.usages", views.Usages))
        r.Get("/pool", serveView("http.pool", views.Pool))
    })
    return r
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
    _, end := tracing.StartSpan(r.Context(), "http.message")
    defer end()
    source := r.Header.Get(HeaderSource)
    if source == "" { http.Error(w, "missing "+HeaderSource, http.StatusBadRequest); return }
    var msg transport.Message
    if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&msg); err != nil {
        http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
        return
    }
    if msg.Type == "" { http.Error(w, "bad request: missing type", http.StatusBadRequest); return }
    logutil.Debugf(s.logger, "httpjson: %s from %s request=%s", msg.Type, source, r.Header.Get(HeaderRequestID))
    s.Deliver(msg, source)
    w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
    id := chi.URLParam(r, "id")
    if id == "" { http.Error(w, "missing source id", http.StatusBadRequest); return }
    s.Disconnected(id)
    w.WriteHeader(http.StatusNoContent)
}

func serveView(span string, view transport.ViewFunc) http.HandlerFunc {
    return func(w http.ResponseWriter, r *http.Request) {
        if view == nil { http.Error(w, "not supported", http.StatusNotImplemented); return }
        ctx, end := tracing.StartSpan(r.Context(), span)
        defer end()
        data, err := view(ctx)
        if err != nil { http.Error(w, fmt.Sprintf("view error: %v", err), http.StatusInternalServerError); return }
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write(data)
    }
}

// Start launches the HTTP server. The server is shut down when the context
// is canceled.
func (s *Server) Start(ctx context.Context, views transport.Views) error {
    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    if s.tlsCfg != nil {
        ln = tls.NewListener(ln, s.tlsCfg)
    }
    srv := &http.Server{Handler: s.Handler(views), ReadHeaderTimeout: 5 * time.Second}
    s.mu.Lock()
    s.srv = srv
    s.addr = ln.Addr().String()
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
            logutil.Errorf(s.logger, "httpjson: server error: %v", err)
        }
    }()
    return nil
}

// Addr returns the listening address once started, else the bind address.
func (s *Server) Addr() string {
    s.mu.RLock(); defer s.mu.RUnlock()
    if s.addr != "" { return s.addr }
    return s.bind
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv = nil
    s.mu.Unlock()
    if err := s.outbox.Close(ctx); err != nil { logutil.Warnf(s.logger, "httpjson: pending sends abandoned: %v", err) }
    if srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    return srv.Shutdown(c)
}

var _ transport.Endpoint = (*Server)(nil)
