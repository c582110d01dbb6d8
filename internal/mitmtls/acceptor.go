package mitmtls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
)

// Acceptor terminates the agent-facing leg of an intercepted connection,
// presenting a leaf certificate minted (or served from cache) for whatever
// hostname the agent dialed.
type Acceptor struct {
	ca *CA
}

// NewAcceptor builds an Acceptor backed by ca.
func NewAcceptor(ca *CA) *Acceptor {
	return &Acceptor{ca: ca}
}

// Accept performs the server-side TLS handshake with conn, presenting a leaf
// certificate for host.
func (a *Acceptor) Accept(conn net.Conn, host string) (*tls.Conn, error) {
	cert, err := a.ca.LeafFor(host)
	if err != nil {
		return nil, fmt.Errorf("mitmtls: minting leaf for %s: %w", host, err)
	}

	tlsConn := tls.Server(conn, &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
	})
	if err := tlsConn.Handshake(); err != nil {
		return nil, fmt.Errorf("mitmtls: handshake with agent for %s: %w", host, err)
	}
	return tlsConn, nil
}

// TrustStore controls what the upstream-facing leg of an intercepted
// connection accepts as a valid certificate chain from the real origin
// server. An empty TrustStore means "use the system root pool", which is
// the default; a non-empty one pins the proxy to exactly the configured
// CA bundle.
type TrustStore struct {
	pool *x509.CertPool
}

// SystemTrustStore builds a TrustStore from the operating system's root
// certificate pool.
func SystemTrustStore() (*TrustStore, error) {
	pool, err := x509.SystemCertPool()
	if err != nil {
		return nil, fmt.Errorf("mitmtls: loading system trust store: %w", err)
	}
	return &TrustStore{pool: pool}, nil
}

// TrustStoreFromPEM builds a TrustStore from a PEM-encoded CA bundle, for
// environments that pin upstream validation to a specific set of roots
// rather than the ambient system store.
func TrustStoreFromPEM(pem []byte) (*TrustStore, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("mitmtls: no valid certificates found in trust bundle")
	}
	return &TrustStore{pool: pool}, nil
}

// ClientConfig returns the tls.Config used to dial the upstream host.
func (t *TrustStore) ClientConfig(serverName string) *tls.Config {
	return &tls.Config{
		RootCAs:    t.pool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}
}
