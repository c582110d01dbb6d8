package httpcodec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleGetRequest(t *testing.T) {
	req, status, err := ParseRequest([]byte("GET /api/users HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	require.NoError(t, err)
	require.Equal(t, StatusComplete, status)

	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/api/users", req.Path)
	assert.Equal(t, "1.1", req.Version)
	assert.Equal(t, "example.com", req.Headers.Get("Host"))
	assert.Empty(t, req.Body)
}

func TestParsePostRequestWithBody(t *testing.T) {
	raw := "POST /api/data HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: 13\r\n" +
		"\r\n" +
		`{"key":"val"}`

	req, status, err := ParseRequest([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, StatusComplete, status)

	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "application/json", req.Headers.Get("content-type"))
	assert.Equal(t, `{"key":"val"}`, string(req.Body))
}

func TestParseRequestHeaderCaseInsensitive(t *testing.T) {
	raw := "GET /secure HTTP/1.1\r\nHost: api.github.com\r\nAuthorization: Bearer DUMMY_TOKEN\r\n\r\n"
	req, status, err := ParseRequest([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, StatusComplete, status)
	assert.Equal(t, "Bearer DUMMY_TOKEN", req.Headers.Get("authorization"))
}

func TestParseIncompleteRequest(t *testing.T) {
	_, status, err := ParseRequest([]byte("GET /api HTTP/1.1\r\nHost: example.com\r\n"))
	require.NoError(t, err)
	assert.Equal(t, StatusIncomplete, status)
}

func TestParseMalformedRequest(t *testing.T) {
	_, status, err := ParseRequest([]byte("INVALID HTTP REQUEST\r\n\r\n"))
	assert.Equal(t, StatusMalformed, status)
	require.Error(t, err)
}

func TestParseRequestHeaderTooLarge(t *testing.T) {
	var b strings.Builder
	b.WriteString("GET / HTTP/1.1\r\n")
	for i := 0; i < 1000; i++ {
		b.WriteString("X-Header-")
		b.WriteString(strings.Repeat("a", 3))
		b.WriteString(": value\r\n")
	}

	_, status, err := ParseRequest([]byte(b.String()))
	assert.Equal(t, StatusMalformed, status)
	require.Error(t, err)
	require.IsType(t, HeaderTooLargeError{}, err)
}

func TestParseSimpleResponse(t *testing.T) {
	resp, status, err := ParseResponse([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nHello"))
	require.NoError(t, err)
	require.Equal(t, StatusComplete, status)

	assert.Equal(t, 200, resp.Code)
	assert.Equal(t, "OK", resp.Reason)
	assert.Equal(t, "1.1", resp.Version)
	assert.Equal(t, "Hello", string(resp.Body))
}

func TestParseResponseWithJSONBody(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\n\r\n" + `{"token":"ghp_secret123"}`
	resp, status, err := ParseResponse([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, StatusComplete, status)
	assert.Contains(t, string(resp.Body), "ghp_secret123")
}

func TestParseErrorResponse(t *testing.T) {
	resp, status, err := ParseResponse([]byte("HTTP/1.1 404 Not Found\r\nContent-Length: 9\r\n\r\nNot Found"))
	require.NoError(t, err)
	require.Equal(t, StatusComplete, status)
	assert.Equal(t, 404, resp.Code)
	assert.Equal(t, "Not Found", resp.Reason)
}

func TestParseIncompleteResponse(t *testing.T) {
	_, status, err := ParseResponse([]byte("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n"))
	require.NoError(t, err)
	assert.Equal(t, StatusIncomplete, status)
}

func TestSerializeRequestRoundTrip(t *testing.T) {
	raw := "POST /x HTTP/1.1\r\nHost: example.com\r\nContent-Length: 4\r\n\r\nabcd"
	req, status, err := ParseRequest([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, StatusComplete, status)

	out := SerializeRequest(req)
	reparsed, status2, err := ParseRequest(out)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, status2)

	assert.Equal(t, req.Method, reparsed.Method)
	assert.Equal(t, req.Path, reparsed.Path)
	assert.Equal(t, req.Headers.Get("host"), reparsed.Headers.Get("host"))
	assert.Equal(t, req.Body, reparsed.Body)
}

func TestSerializeResponseRoundTrip(t *testing.T) {
	raw := "HTTP/1.1 201 Created\r\nContent-Length: 2\r\n\r\nok"
	resp, status, err := ParseResponse([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, StatusComplete, status)

	out := SerializeResponse(resp)
	reparsed, status2, err := ParseResponse(out)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, status2)

	assert.Equal(t, resp.Code, reparsed.Code)
	assert.Equal(t, resp.Reason, reparsed.Reason)
	assert.Equal(t, resp.Body, reparsed.Body)
}

func TestHeaderDelRemovesNameAndValue(t *testing.T) {
	h := NewHeader()
	h.Set("Content-Length", "10")
	h.Set("Etag", `"abc"`)
	h.Del("etag")

	assert.Empty(t, h.Get("ETag"))
	assert.NotContains(t, h.Names(), "etag")
	assert.Equal(t, "10", h.Get("content-length"))

	h.Del("nonexistent")
}
