// Package tunnel implements the CONNECT handler: it decides, per
// destination port, whether to intercept a tunnel (minting a TLS leaf and
// running the credential-mediation session loop) or pass its bytes through
// untouched, and owns the listener that accepts agent connections.
package tunnel

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/andrewgibson-cic/slapenir/internal/log"
	"github.com/andrewgibson-cic/slapenir/internal/metrics"
	"github.com/andrewgibson-cic/slapenir/internal/mitmtls"
	"github.com/andrewgibson-cic/slapenir/internal/secretmap"
	"github.com/andrewgibson-cic/slapenir/internal/strategy"
)

// TunnelError wraps failures setting up a CONNECT tunnel (dial, hijack,
// handshake) distinctly from errors that occur once the session loop is
// already running.
type TunnelError struct {
	Op  string
	Err error
}

func (e *TunnelError) Error() string { return "tunnel: " + e.Op + ": " + e.Err.Error() }
func (e *TunnelError) Unwrap() error { return e.Err }

// interceptedPorts are the destination ports MITM interception is
// authoritative for; every other port gets raw passthrough tunneling.
var interceptedPorts = map[int]bool{443: true, 8443: true}

// Driver is an http.Handler that serves only CONNECT requests.
type Driver struct {
	acceptor   *mitmtls.Acceptor
	trustStore *mitmtls.TrustStore
	guard      *strategy.Guard
	strategies []strategy.Strategy
	secrets    *secretmap.SecretMap
	rec        *metrics.Recorder

	dialTimeout time.Duration
}

// NewDriver builds a Driver. strategies must be the same set guard was
// built from; the driver needs both the aggregate Check and the individual
// Strategy.Inject/Detect per matched strategy.
func NewDriver(acceptor *mitmtls.Acceptor, trustStore *mitmtls.TrustStore, guard *strategy.Guard, strategies []strategy.Strategy, secrets *secretmap.SecretMap, rec *metrics.Recorder) *Driver {
	return &Driver{
		acceptor:    acceptor,
		trustStore:  trustStore,
		guard:       guard,
		strategies:  strategies,
		secrets:     secrets,
		rec:         rec,
		dialTimeout: 10 * time.Second,
	}
}

// ServeHTTP implements http.Handler. Only CONNECT is supported; the proxy
// has no business accepting plain forward-proxy HTTP requests once the
// agent's HTTP(S)_PROXY variables point here — CONNECT is the only method
// an HTTPS-only egress interceptor needs.
func (d *Driver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodConnect {
		http.Error(w, "this proxy only supports CONNECT", http.StatusMethodNotAllowed)
		return
	}

	host, portStr, err := net.SplitHostPort(r.Host)
	if err != nil {
		http.Error(w, "invalid CONNECT target", http.StatusBadRequest)
		return
	}
	port, err := net.LookupPort("tcp", portStr)
	if err != nil {
		http.Error(w, "invalid port", http.StatusBadRequest)
		return
	}

	if err := d.guard.Check(host, port); err != nil {
		d.rec.ObserveHostBlocked(blockReason(err))
		log.Warn("CONNECT rejected by host policy", "subsystem", "tunnel", "host", host, "reason", err.Error())
		http.Error(w, err.Error(), http.StatusProxyAuthRequired)
		return
	}

	if interceptedPorts[port] {
		d.serveIntercepted(w, r, host, portStr)
		return
	}
	d.servePassthrough(w, r.Host)
}

func blockReason(err error) string {
	switch err.(type) {
	case *strategy.TelemetryBlockedError:
		return "telemetry_blocked"
	case *strategy.HostNotWhitelistedError:
		return "not_whitelisted"
	default:
		return "unknown"
	}
}

// servePassthrough dials the target directly and copies bytes in both
// directions without inspecting them, for any CONNECT target the proxy is
// not configured to intercept.
func (d *Driver) servePassthrough(w http.ResponseWriter, target string) {
	targetConn, err := net.DialTimeout("tcp", target, d.dialTimeout)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		targetConn.Close()
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		targetConn.Close()
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		clientConn.Close()
		targetConn.Close()
		return
	}

	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			clientConn.Close()
			targetConn.Close()
		})
	}

	go func() { io.Copy(targetConn, clientConn); closeBoth() }()
	go func() { io.Copy(clientConn, targetConn); closeBoth() }()
}

// serveIntercepted hijacks the connection, completes the agent-facing TLS
// handshake, and runs the credential-mediation session loop against host.
func (d *Driver) serveIntercepted(w http.ResponseWriter, r *http.Request, host, port string) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		clientConn.Close()
		return
	}

	handshakeStart := time.Now()
	tlsConn, err := d.acceptor.Accept(clientConn, host)
	if err != nil {
		log.Warn("MITM handshake with agent failed", "subsystem", "tunnel", "host", host, "err", err.Error())
		clientConn.Close()
		return
	}
	d.rec.ObserveTLSHandshake(time.Since(handshakeStart).Seconds())
	defer tlsConn.Close()

	sess := newSession(host, port, tlsConn, d.trustStore, d.guard, d.strategies, d.secrets, d.rec)
	d.rec.SessionOpened()
	defer d.rec.SessionClosed()
	sess.run()
}
