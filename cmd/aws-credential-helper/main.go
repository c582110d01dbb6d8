// aws-credential-helper implements the AWS CLI's credential_process
// interface: it assumes an IAM role via STS and prints the resulting
// temporary credentials as JSON, so an agent's aws CLI invocations never
// need a long-lived access key on disk.
// See: https://docs.aws.amazon.com/cli/latest/userguide/cli-configure-sourcing-external.html
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// credentialProcessOutput is the JSON shape the AWS CLI expects from a
// credential_process executable.
type credentialProcessOutput struct {
	Version         int    `json:"Version"`
	AccessKeyID     string `json:"AccessKeyId"`
	SecretAccessKey string `json:"SecretAccessKey"`
	SessionToken    string `json:"SessionToken"`
	Expiration      string `json:"Expiration"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "aws-credential-helper: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	roleARN := os.Getenv("SLAPENIR_AWS_ROLE_ARN")
	if roleARN == "" {
		return fmt.Errorf("SLAPENIR_AWS_ROLE_ARN not set")
	}
	region := os.Getenv("SLAPENIR_AWS_REGION")
	sessionName := os.Getenv("SLAPENIR_AWS_SESSION_NAME")
	if sessionName == "" {
		sessionName = "slapenir-proxy"
	}
	externalID := os.Getenv("SLAPENIR_AWS_EXTERNAL_ID")

	sessionDuration := 1 * time.Hour
	if raw := os.Getenv("SLAPENIR_AWS_SESSION_DURATION_SECONDS"); raw != "" {
		var seconds int
		if _, err := fmt.Sscanf(raw, "%d", &seconds); err == nil && seconds > 0 {
			sessionDuration = time.Duration(seconds) * time.Second
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}
	client := sts.NewFromConfig(cfg)

	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String(sessionName),
		DurationSeconds: aws.Int32(int32(sessionDuration.Seconds())),
	}
	if externalID != "" {
		input.ExternalId = aws.String(externalID)
	}

	result, err := client.AssumeRole(ctx, input)
	if err != nil {
		return fmt.Errorf("assuming role %s: %w", roleARN, err)
	}
	if result.Credentials == nil {
		return fmt.Errorf("AWS returned empty credentials for role %s", roleARN)
	}

	out := credentialProcessOutput{
		Version:         1,
		AccessKeyID:     aws.ToString(result.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(result.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(result.Credentials.SessionToken),
		Expiration:      aws.ToTime(result.Credentials.Expiration).Format(time.RFC3339),
	}
	return json.NewEncoder(os.Stdout).Encode(out)
}
