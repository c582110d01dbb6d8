package tunnel

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Server wraps a Driver in an http.Server bound to a local listener.
type Server struct {
	driver   *Driver
	server   *http.Server
	listener net.Listener
	addr     string
	bindAddr string // address to bind to (default: 127.0.0.1)
	port     int    // port to bind to (0 = OS-assigned)
}

// NewServer creates a Server wrapping driver. The server binds to localhost
// only by default, since it terminates TLS with minted certificates and
// holds real credentials in memory — nothing reachable from the rest of the
// network has business connecting to it.
func NewServer(driver *Driver) *Server {
	return &Server{
		driver:   driver,
		bindAddr: "127.0.0.1",
	}
}

// SetBindAddr overrides the bind address. Must be called before Start().
func (s *Server) SetBindAddr(addr string) {
	s.bindAddr = addr
}

// SetPort overrides the bind port; 0 (the default) asks the OS to assign
// one. Must be called before Start().
func (s *Server) SetPort(port int) {
	s.port = port
}

// Start begins listening and serving CONNECT requests in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.bindAddr, s.port))
	if err != nil {
		return fmt.Errorf("creating listener: %w", err)
	}

	s.listener = listener
	s.addr = listener.Addr().String()

	s.server = &http.Server{
		Handler:           s.driver,
		ReadHeaderTimeout: 60 * time.Second,
	}

	go func() {
		_ = s.server.Serve(listener)
	}()
	return nil
}

// Addr returns the server's bound address (host:port).
func (s *Server) Addr() string {
	return s.addr
}

// Port returns just the port the server is listening on.
func (s *Server) Port() string {
	_, port, _ := net.SplitHostPort(s.addr)
	return port
}

// Stop gracefully shuts down the server, waiting for in-flight sessions to
// finish subject to ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Driver returns the underlying Driver.
func (s *Server) Driver() *Driver {
	return s.driver
}
