package notify

import (
	"context"
	"fmt"

	"carwash/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/rs/zerolog"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESMailer sends email through AWS SES v2.
type SESMailer struct {
	client sesAPI
	sender string
	logger *zerolog.Logger
}

// NewSESMailer uses static credentials when they are configured and the
// default AWS credential chain otherwise.
func NewSESMailer(ctx context.Context, cfg config.SESConfig, logger *zerolog.Logger) (*SESMailer, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("ses region is required")
	}
	if cfg.Sender == "" {
		return nil, fmt.Errorf("ses sender is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newSESMailer(sesv2.NewFromConfig(awsCfg), cfg.Sender, logger), nil
}

func newSESMailer(client sesAPI, sender string, logger *zerolog.Logger) *SESMailer {
	return &SESMailer{client: client, sender: sender, logger: logger}
}

func (m *SESMailer) Send(ctx context.Context, msg Message) error {
	if m == nil || m.client == nil {
		return fmt.Errorf("ses client is not initialized")
	}
	if msg.To == "" {
		return ErrNoRecipient
	}

	input := &sesv2.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
		FromEmailAddress: aws.String(m.sender),
	}

	if _, err := m.client.SendEmail(ctx, input); err != nil {
		m.logger.Error().
			Err(err).
			Str("recipient", msg.To).
			Str("subject", msg.Subject).
			Msg("Failed to send SES email")
		return fmt.Errorf("send ses email: %w", err)
	}

	return nil
}
