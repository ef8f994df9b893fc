// Package ses implements a Publisher that emails summaries via AWS SES v2.
package ses

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/newsletter-digest/internal/config"
	"github.com/shineum/newsletter-digest/internal/digest"
	"github.com/shineum/newsletter-digest/internal/email"
)

// Publisher emails each summary to the digest recipients through the
// AWS SES v2 API.
type Publisher struct {
	sender     string
	recipients []string
	client     SendEmailAPI
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new Publisher with the given configuration. Static
// credentials are used when both keys are set; otherwise the default AWS
// credential chain applies.
func New(ctx context.Context, cfg config.SESConfig, recipients []string) (*Publisher, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	// The SDK would retry throttling errors on its own; the next poll retries instead.
	opts = append(opts, awsconfig.WithRetryMaxAttempts(1))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg.Sender, recipients, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a Publisher with a custom client, used for testing.
func NewWithClient(sender string, recipients []string, client SendEmailAPI) *Publisher {
	return &Publisher{
		sender:     sender,
		recipients: append([]string(nil), recipients...),
		client:     client,
	}
}

// Publish sends the digest as a raw MIME message with the markdown
// attached and returns the SES message id.
func (s *Publisher) Publish(ctx context.Context, sum *digest.Summary) (string, error) {
	msg := email.FromSummary(sum, s.sender, s.recipients)

	raw, err := email.Build(msg)
	if err != nil {
		return "", fmt.Errorf("failed to build raw message: %w", err)
	}

	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.sender),
		Destination: &types.Destination{
			ToAddresses: msg.To,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: ses: %w", digest.ErrAPI, err)
	}
	return aws.ToString(out.MessageId), nil
}

// Name returns the publisher name.
func (s *Publisher) Name() string {
	return config.PublisherSES
}
