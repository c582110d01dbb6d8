package tunnel

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/andrewgibson-cic/slapenir/internal/httpcodec"
	"github.com/andrewgibson-cic/slapenir/internal/log"
	"github.com/andrewgibson-cic/slapenir/internal/metrics"
	"github.com/andrewgibson-cic/slapenir/internal/mitmtls"
	"github.com/andrewgibson-cic/slapenir/internal/secretmap"
	"github.com/andrewgibson-cic/slapenir/internal/strategy"
)

const (
	// maxRequestBufferSize bounds the growing buffer used to read a
	// request off the agent-facing connection.
	maxRequestBufferSize = 1 << 20
	// maxResponseBufferSize bounds the growing buffer used to read a
	// response off the upstream connection.
	maxResponseBufferSize = 10 << 20
	// frameReadChunk is how much is pulled off the wire per Read call
	// while growing a frameReader's buffer.
	frameReadChunk = 8 << 10

	dialUpstreamTimeout = 10 * time.Second
)

// RequestTooLargeError means a request's header block plus whatever body
// bytes arrived with it exceeded maxRequestBufferSize before the message
// parsed as complete.
type RequestTooLargeError struct{}

func (RequestTooLargeError) Error() string { return "tunnel: request exceeds maximum buffer size" }

// ResponseTooLargeError is RequestTooLargeError's upstream-side mirror.
type ResponseTooLargeError struct{}

func (ResponseTooLargeError) Error() string { return "tunnel: response exceeds maximum buffer size" }

// SanitizationVerificationFailureError is the fail-closed error raised when
// a paranoid second sanitization pass changes output that a first pass
// already claimed was clean. Seeing this means the sanitize automaton is
// not idempotent for some input, which is a correctness bug serious enough
// to tear the session down rather than risk a partial leak.
type SanitizationVerificationFailureError struct {
	Host string
}

func (e *SanitizationVerificationFailureError) Error() string {
	return "tunnel: sanitization verification failed for host " + e.Host
}

// frameReader accumulates bytes off conn into a growing buffer and hands
// that buffer to an httpcodec parse function, retrying after each read
// until the parser reports Complete or Malformed: pull bytes into the
// buffer, attempt a parse, repeat, rather than layering a streaming
// abstraction on top of it.
type frameReader struct {
	conn net.Conn
	buf  []byte
}

func newFrameReader(conn net.Conn) *frameReader {
	return &frameReader{conn: conn}
}

func (f *frameReader) fill() error {
	chunk := make([]byte, frameReadChunk)
	n, err := f.conn.Read(chunk)
	if n > 0 {
		f.buf = append(f.buf, chunk[:n]...)
		return nil
	}
	if err != nil {
		return err
	}
	return io.ErrNoProgress
}

// readRequest grows buf and parses until httpcodec reports a terminal
// status. On Complete, whatever bytes trail the header block at that
// moment become the request body verbatim — the codec does not itself
// track Content-Length or chunked framing, and the loop does not keep
// reading past "headers complete" to chase a declared body length, which
// matches the wire's own non-goal here (bodies arrive in the same burst as
// their headers for the credential-bearing requests this proxy mediates).
func (f *frameReader) readRequest(maxSize int) (*httpcodec.Request, error) {
	for {
		req, status, err := httpcodec.ParseRequest(f.buf)
		switch status {
		case httpcodec.StatusComplete:
			f.buf = nil
			return req, nil
		case httpcodec.StatusMalformed:
			return nil, err
		default:
			if len(f.buf) >= maxSize {
				return nil, RequestTooLargeError{}
			}
			if err := f.fill(); err != nil {
				return nil, err
			}
		}
	}
}

// readResponse is readRequest's upstream-side mirror.
func (f *frameReader) readResponse(maxSize int) (*httpcodec.Response, error) {
	for {
		resp, status, err := httpcodec.ParseResponse(f.buf)
		switch status {
		case httpcodec.StatusComplete:
			f.buf = nil
			return resp, nil
		case httpcodec.StatusMalformed:
			return nil, err
		default:
			if len(f.buf) >= maxSize {
				return nil, ResponseTooLargeError{}
			}
			if err := f.fill(); err != nil {
				return nil, err
			}
		}
	}
}

// session mediates one intercepted CONNECT tunnel: reading requests off
// the agent-facing TLS connection, injecting real credentials, forwarding
// to the real origin over a second TLS connection it dials itself, and
// sanitizing the response before it reaches the agent.
type session struct {
	id         string
	host       string
	port       string
	conn       *tls.Conn
	trustStore *mitmtls.TrustStore
	guard      *strategy.Guard
	strategies []strategy.Strategy
	secrets    *secretmap.SecretMap
	rec        *metrics.Recorder
}

func newSession(host, port string, conn *tls.Conn, trustStore *mitmtls.TrustStore, guard *strategy.Guard, strategies []strategy.Strategy, secrets *secretmap.SecretMap, rec *metrics.Recorder) *session {
	return &session{
		id:         uuid.NewString(),
		host:       host,
		port:       port,
		conn:       conn,
		trustStore: trustStore,
		guard:      guard,
		strategies: strategies,
		secrets:    secrets,
		rec:        rec,
	}
}

// authority is the host:port the session forwards requests to. The
// certificate and trust-store logic use the bare hostname (host is never
// a port-qualified SNI), but the actual upstream dial must target the
// CONNECT authority's original port — defaulting to 443 would silently
// misroute every 8443 interception.
func (s *session) authority() string {
	return net.JoinHostPort(s.host, s.port)
}

// run drives the request/response loop until the agent or origin closes
// the connection or a fatal error occurs. Every invariant violation (host
// policy, sanitization verification) ends the session rather than
// forwarding a single additional byte — this proxy fails closed.
func (s *session) run() {
	dialer := &net.Dialer{Timeout: dialUpstreamTimeout}
	upstream, err := tls.DialWithDialer(dialer, "tcp", s.authority(), s.trustStore.ClientConfig(s.host))
	if err != nil {
		log.Warn("dialing upstream failed", "subsystem", "tunnel", "session", s.id, "host", s.host, "err", err.Error())
		return
	}
	defer upstream.Close()

	clientReader := newFrameReader(s.conn)
	upstreamReader := newFrameReader(upstream)

	for {
		req, err := clientReader.readRequest(maxRequestBufferSize)
		if err != nil {
			if _, ok := err.(RequestTooLargeError); ok {
				writeSimpleResponse(s.conn, http.StatusRequestEntityTooLarge)
			}
			return
		}

		closeAfter, err := s.serveOne(upstream, upstreamReader, req)
		if err != nil {
			log.Warn("session terminated", "subsystem", "tunnel", "session", s.id, "host", s.host, "err", err.Error())
			return
		}
		if closeAfter {
			return
		}
	}
}

func (s *session) serveOne(upstream net.Conn, upstreamReader *frameReader, req *httpcodec.Request) (bool, error) {
	s.rec.AddBytesIn(len(req.Body))

	headers := headersToHTTP(req.Headers)
	headers.Del("Proxy-Connection")
	headers.Del("Proxy-Authorization")

	body := req.Body

	matched := s.guard.StrategyFor(headers, string(body))
	if matched != nil && !matched.ValidateHost(s.host) {
		log.Error("host whitelist violation", "subsystem", "tunnel", "session", s.id,
			"credential_type", matched.Type(), "name", matched.Name(), "host", s.host,
			"allowed_hosts", strings.Join(matched.AllowedHosts(), ","))
		s.rec.ObserveHostBlocked("not_whitelisted")
		return true, &strategy.HostNotWhitelistedError{Host: s.host}
	}

	if matched != nil {
		body = []byte(s.secrets.Inject(string(body)))
		injectHeaderValues(headers, s.secrets)

		injected, err := matched.Inject(req.Method, req.Path, headers, body, s.host)
		if err != nil {
			log.Warn("credential injection failed", "subsystem", "tunnel", "session", s.id,
				"strategy", matched.Name(), "host", s.host, "err", err.Error())
		} else {
			body = injected
		}
	}

	// Bodies may have changed length (injection replaces dummies with
	// reals of a different byte length); framing headers computed by the
	// agent for the pre-rewrite body are no longer valid and must not be
	// forwarded.
	outReq := &httpcodec.Request{
		Method:  req.Method,
		Path:    req.Path,
		Version: req.Version,
		Headers: headersFromHTTP(headers),
		Body:    body,
	}
	stripFramingHeaders(&outReq.Headers)
	outReq.Headers.Set("Host", s.authority())
	outReq.Headers.Set("Content-Length", strconv.Itoa(len(body)))

	start := time.Now()
	if _, err := upstream.Write(httpcodec.SerializeRequest(outReq)); err != nil {
		return true, fmt.Errorf("writing request to upstream: %w", err)
	}

	resp, err := upstreamReader.readResponse(maxResponseBufferSize)
	duration := time.Since(start)
	if err != nil {
		s.rec.ObserveRequest(req.Method, "error", duration.Seconds())
		writeSimpleResponse(s.conn, http.StatusBadGateway)
		return true, nil
	}

	if matched != nil {
		resp = s.applyResponseTransformers(matched, req, headers, resp)
	}

	s.rec.ObserveRequest(req.Method, statusClass(resp.Code), duration.Seconds())

	originalBody := resp.Body
	sanitizedBody := s.secrets.SanitizeBytes(resp.Body)
	if err := s.verifyIdempotent(sanitizedBody); err != nil {
		return true, err
	}

	sanitizedHeaders := s.secrets.SanitizeHeaders(headersToHTTP(resp.Headers))
	outResp := &httpcodec.Response{
		Version: resp.Version,
		Code:    resp.Code,
		Reason:  resp.Reason,
		Headers: headersFromHTTP(sanitizedHeaders),
		Body:    sanitizedBody,
	}
	stripFramingHeaders(&outResp.Headers)
	outResp.Headers.Set("Content-Length", strconv.Itoa(len(sanitizedBody)))

	if matched != nil {
		s.rec.ObserveSecretsSanitized(matched.Type(), countRedactions(originalBody, sanitizedBody))
	}

	wireResp := httpcodec.SerializeResponse(outResp)
	s.rec.AddBytesOut(len(wireResp))
	if _, err := s.conn.Write(wireResp); err != nil {
		return true, fmt.Errorf("writing response to client: %w", err)
	}

	return shouldClose(req.Version, outReq.Headers, outResp.Headers), nil
}

// applyResponseTransformers runs matched's transformers (if any) against
// the parsed response, stopping at the first match. Transformers are
// expressed over net/http's request/response types (see
// strategy.ResponseTransformer) since they predate this codec and inspect
// ordinary fields like URL path and status code; the conversion here and
// back is the one place that boundary is crossed.
func (s *session) applyResponseTransformers(matched strategy.Strategy, req *httpcodec.Request, reqHeaders http.Header, resp *httpcodec.Response) *httpcodec.Response {
	transformers := matched.ResponseTransformers()
	if len(transformers) == 0 {
		return resp
	}

	httpReq := &http.Request{Method: req.Method, URL: &url.URL{Path: req.Path}, Header: reqHeaders}
	httpResp := &http.Response{
		StatusCode: resp.Code,
		Header:     headersToHTTP(resp.Headers),
		Body:       io.NopCloser(bytes.NewReader(resp.Body)),
	}

	for _, transform := range transformers {
		transformed, ok := transform(httpReq, httpResp)
		if !ok {
			continue
		}
		body, err := io.ReadAll(transformed.Body)
		if err != nil {
			break
		}
		return &httpcodec.Response{
			Version: resp.Version,
			Code:    transformed.StatusCode,
			Reason:  resp.Reason,
			Headers: headersFromHTTP(transformed.Header),
			Body:    body,
		}
	}
	return resp
}

// verifyIdempotent re-sanitizes already-sanitized output and fails closed
// if the result differs: sanitize(sanitize(x)) == sanitize(x) is an
// invariant the automaton must hold, and a violation means something
// slipped through the first pass that a second pass still catches —
// better to tear down the session than ship a partially-sanitized body.
func (s *session) verifyIdempotent(sanitized []byte) error {
	again := s.secrets.SanitizeBytes(sanitized)
	if !bytes.Equal(again, sanitized) {
		return &SanitizationVerificationFailureError{Host: s.host}
	}
	return nil
}

func countRedactions(before, after []byte) int {
	// A cheap upper-bound signal for the metrics counter: count occurrences
	// of the redaction marker introduced by sanitization rather than
	// re-deriving exact match counts, which secretmap does not expose.
	marker := []byte(secretmap.Redacted)
	if len(marker) == 0 {
		return 0
	}
	count := 0
	for i := 0; i+len(marker) <= len(after); {
		idx := bytes.Index(after[i:], marker)
		if idx < 0 {
			break
		}
		count++
		i += idx + len(marker)
	}
	return count
}

// injectHeaderValues runs secrets.Inject over every header value in place
// (names are never rewritten): the baseline dummy-to-real substitution,
// ahead of whatever strategy-specific processing layers on top (AWS SigV4
// signing, Bearer's own pattern swap).
func injectHeaderValues(headers http.Header, secrets *secretmap.SecretMap) {
	for name, values := range headers {
		for i, v := range values {
			values[i] = secrets.Inject(v)
		}
		headers[name] = values
	}
}

// headersToHTTP converts a parsed codec header set to net/http's map form,
// the type the strategy and secretmap packages are written against.
func headersToHTTP(h httpcodec.Header) http.Header {
	out := make(http.Header, len(h.Names()))
	for _, name := range h.Names() {
		out.Set(name, h.Get(name))
	}
	return out
}

// headersFromHTTP is headersToHTTP's inverse. A header with multiple
// values keeps only the last, matching the codec's own last-wins parsing
// semantics.
func headersFromHTTP(h http.Header) httpcodec.Header {
	out := httpcodec.NewHeader()
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		out.Set(name, values[len(values)-1])
	}
	return out
}

// stripFramingHeaders removes headers that go stale once a body has been
// rewritten: Transfer-Encoding no longer describes the (now whole,
// re-buffered) body, and ETag/Content-MD5 are digests of the pre-rewrite
// content.
func stripFramingHeaders(h *httpcodec.Header) {
	h.Del("Transfer-Encoding")
	h.Del("Etag")
	h.Del("Content-Md5")
}

// shouldClose decides whether the tunnel stays open for another request:
// either side sending Connection: close ends it, as does HTTP/1.0 without
// an explicit keep-alive on either leg.
func shouldClose(version string, reqHeaders, respHeaders httpcodec.Header) bool {
	reqConn := strings.ToLower(strings.TrimSpace(reqHeaders.Get("connection")))
	respConn := strings.ToLower(strings.TrimSpace(respHeaders.Get("connection")))
	if reqConn == "close" || respConn == "close" {
		return true
	}
	if version == "1.0" && reqConn != "keep-alive" && respConn != "keep-alive" {
		return true
	}
	return false
}

func writeSimpleResponse(w io.Writer, status int) {
	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Length: 0\r\nConnection: close\r\n\r\n", status, http.StatusText(status))
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
