package httpjson

import (
    "bytes"
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "time"

    "github.com/google/uuid"

    "github.com/amirimatin/go-usage/pkg/transport"
)

const (
    // HeaderSource carries the sender's source ID on POST /v1/messages.
    HeaderSource = "X-Source-ID"
    // HeaderRequestID correlates a message across sender and receiver logs.
    HeaderRequestID = "X-Request-ID"
)

// ErrRejected is returned for 4xx answers, which are not retried.
var ErrRejected = errors.New("httpjson: request rejected")

// Client talks to a node's HTTP endpoint. It supports optional TLS and
// retries transient failures with a short backoff.
type Client struct {
    httpc     *http.Client
    transport *http.Transport
    isTLS     bool
}

// NewClient constructs a new Client with the given timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    tr := &http.Transport{}
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr}
}

// UseTLS sets the TLS config for the underlying HTTP client and switches the
// request scheme to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    if c.transport != nil { c.transport.TLSClientConfig = cfg }
    c.isTLS = cfg != nil
    return c
}

func (c *Client) url(addr, path string) string {
    scheme := "http"
    if c.isTLS { scheme = "https" }
    return fmt.Sprintf("%s://%s%s", scheme, addr, path)
}

// PostMessage delivers msg to the node at addr on behalf of source and
// returns the request ID it was sent with.
func (c *Client) PostMessage(ctx context.Context, addr, source string, msg transport.Message) (string, error) {
    body, err := json.Marshal(msg)
    if err != nil { return "", err }
    id := uuid.NewString()
    hdr := http.Header{}
    hdr.Set("Content-Type", "application/json")
    hdr.Set(HeaderSource, source)
    hdr.Set(HeaderRequestID, id)
    _, err = c.do(ctx, http.MethodPost, c.url(addr, "/v1/messages"), body, hdr)
    return id, err
}

// DeleteSource asks the node at addr to retract everything source reported.
func (c *Client) DeleteSource(ctx context.Context, addr, source string) error {
    _, err := c.do(ctx, http.MethodDelete, c.url(addr, "/v1/sources/"+url.PathEscape(source)), nil, nil)
    return err
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    return c.do(ctx, http.MethodGet, c.url(addr, "/status"), nil, nil)
}

func (c *Client) GetUsages(ctx context.Context, addr string) ([]byte, error) {
    return c.do(ctx, http.MethodGet, c.url(addr, "/v1/usages"), nil, nil)
}

func (c *Client) GetPool(ctx context.Context, addr string) ([]byte, error) {
    return c.do(ctx, http.MethodGet, c.url(addr, "/v1/pool"), nil, nil)
}

// do runs a request with up to three attempts. A fresh request is built per
// attempt so the body can be replayed.
func (c *Client) do(ctx context.Context, method, u string, body []byte, hdr http.Header) ([]byte, error) {
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
        if err != nil { return nil, err }
        for k, v := range hdr { req.Header[k] = v }
        resp, err := c.httpc.Do(req)
        if err != nil {
            lastErr = err
        } else {
            b, _ := io.ReadAll(resp.Body)
            resp.Body.Close()
            switch {
            case resp.StatusCode < 300:
                return b, nil
            case resp.StatusCode < 500:
                return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(b))
            default:
                lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
            }
        }
        // backoff unless context is done
        select {
        case <-ctx.Done():
            if lastErr == nil { lastErr = ctx.Err() }
            return nil, lastErr
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return nil, lastErr
}
