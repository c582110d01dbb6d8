package strategy

import (
	"bytes"
	"io"
	"net/http"
)

// ResponseTransformer rewrites an upstream response before it reaches the
// sanitization pass, for cases where the upstream's real answer would
// otherwise crash or confuse the agent in a way that has nothing to do with
// credential handling. Transformers run in registration order; the first
// one that reports ok=true wins and the rest are skipped — they are not
// chained.
type ResponseTransformer func(req *http.Request, resp *http.Response) (*http.Response, bool)

// oauthScopeWorkaroundPaths are endpoints that 403 for long-lived OAuth
// tokens lacking the profile/usage scopes those tokens are never issued
// with. The 403 is expected and harmless to paper over: these endpoints
// only feed optional UI decoration (usage stats, profile name), never a
// request an agent's actual task depends on.
var oauthScopeWorkaroundPaths = map[string][]byte{
	"/api/oauth/profile": []byte(`{"id":"","email":"","name":""}`),
	"/api/oauth/usage":    []byte(`{"usage":{}}`),
}

// NewOAuthScopeWorkaroundTransformer builds a ResponseTransformer that turns
// a 403 on one of oauthScopeWorkaroundPaths into a 200 with an empty but
// valid JSON body, so a degraded-but-working status line beats a crash.
// Any other status code, or any other path, passes through untouched.
func NewOAuthScopeWorkaroundTransformer() ResponseTransformer {
	return func(req *http.Request, resp *http.Response) (*http.Response, bool) {
		if resp.StatusCode != http.StatusForbidden {
			return resp, false
		}
		body, ok := oauthScopeWorkaroundPaths[req.URL.Path]
		if !ok {
			return resp, false
		}

		resp.Body.Close()
		replacement := &http.Response{
			StatusCode: http.StatusOK,
			Status:     http.StatusText(http.StatusOK),
			ProtoMajor: resp.ProtoMajor,
			ProtoMinor: resp.ProtoMinor,
			Header: http.Header{
				"Content-Type": []string{"application/json"},
			},
			Body:          io.NopCloser(bytes.NewReader(body)),
			ContentLength: int64(len(body)),
		}
		return replacement, true
	}
}
