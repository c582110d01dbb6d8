package strategy

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractServiceFromHost(t *testing.T) {
	assert.Equal(t, "s3", extractServiceFromHost("s3.amazonaws.com"))
	assert.Equal(t, "dynamodb", extractServiceFromHost("dynamodb.us-east-1.amazonaws.com"))
	assert.Equal(t, "lambda", extractServiceFromHost("lambda.eu-west-1.amazonaws.com"))
}

func TestExtractRegionFromHost(t *testing.T) {
	assert.Equal(t, "us-east-1", extractRegionFromHost("dynamodb.us-east-1.amazonaws.com"))
	assert.Equal(t, "", extractRegionFromHost("s3.amazonaws.com"))
}

func TestAWSSigV4Detect(t *testing.T) {
	t.Setenv("TEST_AWS_ACCESS_KEY", "AKIATEST")
	t.Setenv("TEST_AWS_SECRET_KEY", "secret")

	s := NewAWSSigV4("test-aws", "TEST_AWS_ACCESS_KEY", "TEST_AWS_SECRET_KEY", "us-east-1", "", nil)

	headers := http.Header{}
	headers.Set("Authorization", "AWS4 AKIADUMMY...")
	assert.True(t, s.Detect(headers, ""))
	assert.False(t, s.Detect(http.Header{}, "no credentials here"))
}

func TestAWSSigV4ValidateHost(t *testing.T) {
	t.Setenv("TEST_AWS_ACCESS_KEY2", "AKIATEST")
	t.Setenv("TEST_AWS_SECRET_KEY2", "secret")

	s := NewAWSSigV4("test-aws-2", "TEST_AWS_ACCESS_KEY2", "TEST_AWS_SECRET_KEY2", "us-east-1", "", []string{"*.amazonaws.com"})

	assert.True(t, s.ValidateHost("s3.amazonaws.com"))
	assert.True(t, s.ValidateHost("dynamodb.us-east-1.amazonaws.com"))
	assert.False(t, s.ValidateHost("evil.com"))
}

func TestAWSSigV4InjectSignsRequest(t *testing.T) {
	t.Setenv("TEST_AWS_ACCESS_KEY3", "AKIATEST123")
	t.Setenv("TEST_AWS_SECRET_KEY3", "secretkey123")

	s := NewAWSSigV4("test-aws-3", "TEST_AWS_ACCESS_KEY3", "TEST_AWS_SECRET_KEY3", "us-east-1", "", nil)

	headers := http.Header{}
	headers.Set("Host", "dynamodb.us-east-1.amazonaws.com")
	headers.Set("Content-Type", "application/x-amz-json-1.0")

	body := []byte(`{"TableName":"test"}`)
	_, err := s.Inject(http.MethodPost, "/", headers, body, "dynamodb.us-east-1.amazonaws.com")
	require.NoError(t, err)

	assert.Contains(t, headers.Get("Authorization"), "AWS4-HMAC-SHA256")
	assert.Contains(t, headers.Get("Authorization"), "dynamodb/aws4_request")
	assert.NotEmpty(t, headers.Get("X-Amz-Date"))
}

func TestAWSSigV4InjectFailsWithoutCredentials(t *testing.T) {
	s := NewAWSSigV4("test-aws-missing", "TEST_AWS_MISSING_ACCESS_XYZ", "TEST_AWS_MISSING_SECRET_XYZ", "us-east-1", "", nil)

	_, err := s.Inject(http.MethodGet, "/", http.Header{}, nil, "s3.amazonaws.com")
	require.Error(t, err)
	require.IsType(t, &EnvVarNotFoundError{}, err)
}
