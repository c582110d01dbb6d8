package strategy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// awsDefaultService is used when no service override is configured and the
// hostname does not resolve to one on its own.
const awsDefaultService = "execute-api"

// AWSSigV4 signs outgoing requests with AWS Signature Version 4, covering
// every AWS service (S3, DynamoDB, Lambda, STS, ...) behind a single
// strategy rather than one strategy per service, since the signing
// procedure is identical and only service/region vary.
type AWSSigV4 struct {
	name         string
	accessKey    string
	secretKey    string
	sessionToken string
	hasCreds     bool
	region       string
	service      string
	allowedHosts []string

	signer *v4.Signer
}

// NewAWSSigV4 builds an AWSSigV4 strategy, loading credentials from the
// given environment variables. A session token is additionally looked up
// under "<accessKeyEnv>_SESSION_TOKEN" to support temporary (STS-issued)
// credentials. service, if empty, defaults to "execute-api" and is instead
// inferred per-request from the destination hostname.
func NewAWSSigV4(name, accessKeyEnv, secretKeyEnv, region, service string, allowedHosts []string) *AWSSigV4 {
	accessKey, hasAccess := os.LookupEnv(accessKeyEnv)
	secretKey, hasSecret := os.LookupEnv(secretKeyEnv)
	sessionToken := os.Getenv(accessKeyEnv + "_SESSION_TOKEN")

	if service == "" {
		service = awsDefaultService
	}

	return &AWSSigV4{
		name:         name,
		accessKey:    accessKey,
		secretKey:    secretKey,
		sessionToken: sessionToken,
		hasCreds:     hasAccess && hasSecret,
		region:       region,
		service:      service,
		allowedHosts: allowedHosts,
		signer:       v4.NewSigner(),
	}
}

func (a *AWSSigV4) Name() string { return a.name }
func (a *AWSSigV4) Type() string { return "aws_sigv4" }

// extractServiceFromHost infers an AWS service name from the first label
// of a hostname, e.g. "dynamodb.us-east-1.amazonaws.com" -> "dynamodb".
func extractServiceFromHost(host string) string {
	first, _, _ := strings.Cut(host, ".")
	if first == "" {
		return awsDefaultService
	}
	return first
}

// extractRegionFromHost infers a region from a hostname's second label when
// that label looks region-shaped (contains a hyphen), e.g.
// "dynamodb.us-east-1.amazonaws.com" -> "us-east-1". Returns "" if no
// region-shaped label is present.
func extractRegionFromHost(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) >= 3 && strings.Contains(parts[1], "-") {
		return parts[1]
	}
	return ""
}

func (a *AWSSigV4) Detect(headers http.Header, body string) bool {
	if auth := headers.Get("Authorization"); strings.Contains(auth, "AKIA") && strings.Contains(auth, "DUMMY") {
		return true
	}
	return strings.Contains(body, "AKIA") && strings.Contains(body, "DUMMY")
}

// Inject signs the request in place per AWS SigV4 and returns body
// unchanged (SigV4 signs the body's hash; it does not rewrite its
// content).
func (a *AWSSigV4) Inject(method, uri string, headers http.Header, body []byte, host string) ([]byte, error) {
	if !a.hasCreds {
		return body, &EnvVarNotFoundError{EnvVar: "AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY"}
	}

	service := a.service
	if service == awsDefaultService {
		service = extractServiceFromHost(host)
	}
	region := extractRegionFromHost(host)
	if region == "" {
		region = a.region
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return body, &InjectionFailedError{Reason: "parsing request URI: " + err.Error()}
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = host
	}

	req, err := http.NewRequest(method, parsed.String(), nil)
	if err != nil {
		return body, &InjectionFailedError{Reason: "building request to sign: " + err.Error()}
	}
	req.Header = headers.Clone()
	req.Host = host

	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])

	creds := aws.Credentials{
		AccessKeyID:     a.accessKey,
		SecretAccessKey: a.secretKey,
		SessionToken:    a.sessionToken,
	}

	if err := a.signer.SignHTTP(context.Background(), creds, req, payloadHash, service, region, time.Now()); err != nil {
		return body, &InjectionFailedError{Reason: "signing request: " + err.Error()}
	}

	for name, values := range req.Header {
		headers.Del(name)
		for _, v := range values {
			headers.Add(name, v)
		}
	}

	return body, nil
}

func (a *AWSSigV4) ValidateHost(host string) bool {
	if len(a.allowedHosts) == 0 {
		return true
	}
	for _, pattern := range a.allowedHosts {
		if MatchWildcard(pattern, host) {
			return true
		}
	}
	return false
}

func (a *AWSSigV4) AllowedHosts() []string { return a.allowedHosts }

func (a *AWSSigV4) DummyPatterns() []string {
	return []string{"AKIADUMMY", "AKIA00000000DUMMY"}
}

func (a *AWSSigV4) RealCredential() (string, bool) { return a.accessKey, a.hasCreds }

// ResponseTransformers returns nil: SigV4-signed services have no
// equivalent of the bearer preset's scope-limited-token workaround.
func (a *AWSSigV4) ResponseTransformers() []ResponseTransformer { return nil }
