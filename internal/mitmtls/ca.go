// Package mitmtls mints and caches the leaf certificates the proxy presents
// to the agent in place of an upstream host's real certificate, and builds
// the TLS configuration used for both legs of an intercepted connection.
package mitmtls

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// ConfigError wraps a CA load/generate failure so callers can match on it
// without string comparison.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("mitmtls: %s: %v", e.Op, e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// CA is a self-signed root certificate authority used to mint per-host leaf
// certificates on demand. A CA is safe for concurrent use.
type CA struct {
	cert    *x509.Certificate
	key     *rsa.PrivateKey
	certPEM []byte
	keyPEM  []byte

	cache *Cache

	serCtr atomic.Uint64 // never reset: see nextSerial
}

// LoadOrGenerate loads a CA from caDir/ca.{crt,key} if present, or generates
// and persists a new one otherwise.
func LoadOrGenerate(caDir string, cacheCapacity int) (*CA, error) {
	certPath := filepath.Join(caDir, "ca.crt")
	keyPath := filepath.Join(caDir, "ca.key")

	if certPEM, err := os.ReadFile(certPath); err == nil {
		if keyPEM, err := os.ReadFile(keyPath); err == nil {
			return load(certPEM, keyPEM, cacheCapacity)
		}
	}

	ca, err := generate(cacheCapacity)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(caDir, 0700); err != nil {
		return nil, &ConfigError{Op: "create CA directory", Err: err}
	}
	if err := os.WriteFile(certPath, ca.certPEM, 0644); err != nil {
		return nil, &ConfigError{Op: "write CA cert", Err: err}
	}
	if err := os.WriteFile(keyPath, ca.keyPEM, 0600); err != nil {
		return nil, &ConfigError{Op: "write CA key", Err: err}
	}

	return ca, nil
}

func load(certPEM, keyPEM []byte, cacheCapacity int) (*CA, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, &ConfigError{Op: "decode CA certificate", Err: fmt.Errorf("no PEM block found")}
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, &ConfigError{Op: "parse CA certificate", Err: err}
	}

	block, _ = pem.Decode(keyPEM)
	if block == nil {
		return nil, &ConfigError{Op: "decode CA key", Err: fmt.Errorf("no PEM block found")}
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, &ConfigError{Op: "parse CA key", Err: err}
	}

	cache, err := NewCache(cacheCapacity)
	if err != nil {
		return nil, err
	}

	return &CA{cert: cert, key: key, certPEM: certPEM, keyPEM: keyPEM, cache: cache}, nil
}

func generate(cacheCapacity int) (*CA, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, &ConfigError{Op: "generate CA key", Err: err}
	}

	pubKeyBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, &ConfigError{Op: "marshal CA public key", Err: err}
	}
	subjectKeyID := sha1.Sum(pubKeyBytes)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"SLAPENIR"},
			CommonName:   "SLAPENIR Proxy CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          subjectKeyID[:],
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, &ConfigError{Op: "create CA certificate", Err: err}
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, &ConfigError{Op: "parse generated CA certificate", Err: err}
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	cache, err := NewCache(cacheCapacity)
	if err != nil {
		return nil, err
	}

	return &CA{cert: cert, key: key, certPEM: certPEM, keyPEM: keyPEM, cache: cache}, nil
}

// CertPEM returns the root CA certificate in PEM form, for installation into
// the agent's trust store.
func (ca *CA) CertPEM() []byte { return ca.certPEM }

// nextSerial returns a unique serial number built from a microsecond
// timestamp with a counter folded in. The counter is never reset — it
// increments once per call for the lifetime of the process — so two
// leaves minted in the same microsecond never collide with each other or
// with a third leaf minted in a later microsecond that happens to land on
// an already-issued sum.
func (ca *CA) nextSerial() *big.Int {
	now := uint64(time.Now().UnixMicro())
	counter := ca.serCtr.Add(1)
	return new(big.Int).SetUint64(now + counter)
}

// signForHost mints a fresh leaf certificate for host, signed by this CA.
// It does not consult or populate the cache; callers that want caching
// should go through Cache.GetOrCreate instead.
func (ca *CA) signForHost(host string) (*tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("mitmtls: generating leaf key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: ca.nextSerial(),
		Subject: pkix.Name{
			Organization: []string{"Slapenir"},
			CommonName:   host,
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().AddDate(1, 0, 0),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		return nil, fmt.Errorf("mitmtls: signing leaf certificate for %s: %w", host, err)
	}

	// The CA cert rides along in the chain: some TLS clients require the
	// issuer present even when it's also in a supplied custom trust bundle.
	return &tls.Certificate{
		Certificate: [][]byte{certDER, ca.cert.Raw},
		PrivateKey:  key,
	}, nil
}

// LeafFor returns a cached or freshly minted leaf certificate for host.
func (ca *CA) LeafFor(host string) (*tls.Certificate, error) {
	return ca.cache.GetOrCreate(host, ca.signForHost)
}
