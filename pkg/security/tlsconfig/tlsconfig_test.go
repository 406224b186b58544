package tlsconfig

import (
    "crypto/ecdsa"
    "crypto/elliptic"
    "crypto/rand"
    "crypto/tls"
    "crypto/x509"
    "crypto/x509/pkix"
    "encoding/pem"
    "math/big"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

// writePair writes a self-signed certificate usable as its own CA.
func writePair(t *testing.T, dir string) (certFile, keyFile string) {
    t.Helper()
    key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
    require.NoError(t, err)
    tmpl := &x509.Certificate{
        SerialNumber:          big.NewInt(1),
        Subject:               pkix.Name{CommonName: "usage-node"},
        DNSNames:              []string{"usage-node"},
        NotBefore:             time.Now().Add(-time.Hour),
        NotAfter:              time.Now().Add(time.Hour),
        IsCA:                  true,
        BasicConstraintsValid: true,
        KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
        ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
    }
    der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
    require.NoError(t, err)
    kder, err := x509.MarshalECPrivateKey(key)
    require.NoError(t, err)
    certFile, keyFile = filepath.Join(dir, "node.crt"), filepath.Join(dir, "node.key")
    require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
    require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: kder}), 0o600))
    return certFile, keyFile
}

func TestDisabledYieldsNil(t *testing.T) {
    s, err := Options{}.Server()
    assert.NoError(t, err)
    assert.Nil(t, s)
    c, err := Options{}.Client()
    assert.NoError(t, err)
    assert.Nil(t, c)
}

func TestServerRequiresKeyPair(t *testing.T) {
    _, err := Options{Enable: true}.Server()
    assert.Error(t, err)
    _, err = Options{Enable: true, CertFile: "/nope.crt", KeyFile: "/nope.key"}.Server()
    assert.Error(t, err)
}

func TestMutualTLSConfigs(t *testing.T) {
    dir := t.TempDir()
    crt, key := writePair(t, dir)
    o := Options{Enable: true, CAFile: crt, CertFile: crt, KeyFile: key, ServerName: "usage-node"}

    s, err := o.Server()
    require.NoError(t, err)
    assert.Equal(t, tls.RequireAndVerifyClientCert, s.ClientAuth)
    got, err := s.GetCertificate(nil)
    require.NoError(t, err)
    assert.NotEmpty(t, got.Certificate)

    c, err := o.Client()
    require.NoError(t, err)
    assert.Equal(t, "usage-node", c.ServerName)
    assert.NotNil(t, c.RootCAs)
    cc, err := c.GetClientCertificate(nil)
    require.NoError(t, err)
    assert.Equal(t, got.Certificate, cc.Certificate)
}

func TestBadCAFile(t *testing.T) {
    dir := t.TempDir()
    crt, key := writePair(t, dir)
    bogus := filepath.Join(dir, "ca.pem")
    require.NoError(t, os.WriteFile(bogus, []byte("not pem"), 0o600))
    _, err := Options{Enable: true, CAFile: bogus, CertFile: crt, KeyFile: key}.Server()
    assert.Error(t, err)
}

func TestKeyPairKeepsLastGoodCopy(t *testing.T) {
    dir := t.TempDir()
    crt, key := writePair(t, dir)
    now := time.Now()
    kp := newKeyPair(crt, key)
    kp.now = func() time.Time { return now }
    first, err := kp.get()
    require.NoError(t, err)

    require.NoError(t, os.WriteFile(key, []byte("half written"), 0o600))
    now = now.Add(2 * ReloadInterval)
    again, err := kp.get()
    require.NoError(t, err)
    assert.Same(t, first, again)
}
