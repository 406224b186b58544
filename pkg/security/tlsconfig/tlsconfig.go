// Package tlsconfig builds the tls.Config pair a node endpoint and its
// outbound client use. Certificates are re-read from disk lazily so they can
// be rotated by replacing the files.
package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"
    "os"
    "sync"
    "time"
)

// ReloadInterval is how long a loaded key pair is served before the files
// are read again.
const ReloadInterval = 10 * time.Second

// Options defines mTLS configuration inputs.
type Options struct {
    Enable             bool   `yaml:"enable"`
    CAFile             string `yaml:"ca_file"`
    CertFile           string `yaml:"cert_file"`
    KeyFile            string `yaml:"key_file"`
    InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
    ServerName         string `yaml:"server_name"`
}

// Server returns the endpoint's tls.Config, or nil when TLS is disabled.
// With a CA file set, clients must present a certificate signed by it.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if o.CertFile == "" || o.KeyFile == "" {
        return nil, errors.New("tls: server cert/key required when TLS enabled")
    }
    kp := newKeyPair(o.CertFile, o.KeyFile)
    // fail fast on unreadable files instead of on the first handshake
    if _, err := kp.get(); err != nil { return nil, err }
    cfg := &tls.Config{
        MinVersion:     tls.VersionTLS12,
        GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return kp.get() },
    }
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    return cfg, nil
}

// Client returns the tls.Config for outbound calls to peers, or nil when TLS
// is disabled. The client certificate is optional.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: o.InsecureSkipVerify, ServerName: o.ServerName} //nolint:gosec
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.RootCAs = pool
    }
    if o.CertFile != "" && o.KeyFile != "" {
        kp := newKeyPair(o.CertFile, o.KeyFile)
        if _, err := kp.get(); err != nil { return nil, err }
        cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return kp.get() }
    }
    return cfg, nil
}

func loadPool(path string) (*x509.CertPool, error) {
    ca, err := os.ReadFile(path)
    if err != nil { return nil, err }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(ca) { return nil, fmt.Errorf("tls: no certificates in %s", path) }
    return pool, nil
}

// keyPair caches a key pair for ReloadInterval.
type keyPair struct {
    cert, key string
    now       func() time.Time

    mu     sync.Mutex
    cached *tls.Certificate
    loaded time.Time
}

func newKeyPair(cert, key string) *keyPair { return &keyPair{cert: cert, key: key, now: time.Now} }

func (k *keyPair) get() (*tls.Certificate, error) {
    k.mu.Lock()
    defer k.mu.Unlock()
    if k.cached != nil && k.now().Sub(k.loaded) < ReloadInterval { return k.cached, nil }
    c, err := tls.LoadX509KeyPair(k.cert, k.key)
    if err != nil {
        // keep serving the previous pair while a rotation is half written
        if k.cached != nil { return k.cached, nil }
        return nil, err
    }
    k.cached, k.loaded = &c, k.now()
    return k.cached, nil
}
