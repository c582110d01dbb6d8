package tunnel

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewgibson-cic/slapenir/internal/metrics"
	"github.com/andrewgibson-cic/slapenir/internal/mitmtls"
	"github.com/andrewgibson-cic/slapenir/internal/strategy"
)

func testDriver(t *testing.T, strategies []strategy.Strategy) *Driver {
	t.Helper()
	dir := t.TempDir()
	ca, err := mitmtls.LoadOrGenerate(dir, 10)
	require.NoError(t, err)
	trustStore, err := mitmtls.SystemTrustStore()
	require.NoError(t, err)
	guard := strategy.NewGuard(strategies, false, nil)
	rec := metrics.NewRecorder(prometheus.NewRegistry())
	return NewDriver(mitmtls.NewAcceptor(ca), trustStore, guard, strategies, nil, rec)
}

// rawConnect issues a CONNECT request over a fresh TCP connection to addr and
// returns the response status line and the connection for further use.
func rawConnect(t *testing.T, addr, authority string) (string, net.Conn) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	_, err = fmt.Fprintf(conn, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", authority, authority)
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	return line, conn
}

func TestDriverRejectsNonConnectMethod(t *testing.T) {
	d := testDriver(t, nil)
	ts := httptest.NewServer(d)
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestDriverRejectsMalformedAuthority(t *testing.T) {
	d := testDriver(t, nil)
	ts := httptest.NewServer(d)
	defer ts.Close()

	line, conn := rawConnect(t, ts.Listener.Addr().String(), "not-a-valid-authority")
	defer conn.Close()
	assert.Contains(t, line, "400")
}

func TestDriverRejectsNonWhitelistedHost(t *testing.T) {
	t.Setenv("TEST_DRIVER_TOKEN", "tok")
	b := strategy.NewBearer("svc", "TEST_DRIVER_TOKEN", "DUMMY", []string{"allowed.example"})
	d := testDriver(t, []strategy.Strategy{b})
	ts := httptest.NewServer(d)
	defer ts.Close()

	line, conn := rawConnect(t, ts.Listener.Addr().String(), "not-allowed.example:443")
	defer conn.Close()
	assert.Contains(t, line, "407")
}

func TestDriverPassesThroughNonInterceptedPort(t *testing.T) {
	echoLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer echoLn.Close()
	go func() {
		conn, err := echoLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		io.ReadFull(conn, buf)
		conn.Write(buf)
	}()

	t.Setenv("TEST_DRIVER_TOKEN2", "tok")
	b := strategy.NewBearer("svc", "TEST_DRIVER_TOKEN2", "DUMMY", nil)
	d := testDriver(t, []strategy.Strategy{b})
	ts := httptest.NewServer(d)
	defer ts.Close()

	authority := echoLn.Addr().String()
	line, conn := rawConnect(t, ts.Listener.Addr().String(), authority)
	defer conn.Close()
	assert.Contains(t, line, "200")

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 5)
	io.ReadFull(conn, buf)
	assert.Equal(t, "hello", string(buf))
}
