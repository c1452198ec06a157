package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// sesAPI is the slice of the SES client the sender uses; tests inject fakes.
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// EmailSender sends email messages via AWS SES.
type EmailSender struct {
	client sesAPI
	logger *zap.Logger
}

type EmailConfig struct {
	Region string
}

// NewEmailSender creates an SES-backed email sender.
func NewEmailSender(ctx context.Context, cfg EmailConfig, logger *zap.Logger) (*EmailSender, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SES: %w", err)
	}

	return &EmailSender{
		client: ses.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// newEmailSenderWithClient wires an explicit client, used by tests.
func newEmailSenderWithClient(client sesAPI, logger *zap.Logger) *EmailSender {
	return &EmailSender{client: client, logger: logger}
}

// Send delivers one email. The body is already rendered (and HTML-escaped
// where contact data was substituted); it is sent as HTML content.
func (s *EmailSender) Send(ctx context.Context, msg Message) (Result, error) {
	if msg.Channel != ChannelEmail {
		return Result{}, fmt.Errorf("email sender got channel %q: %w", msg.Channel, ErrTemplateMismatch)
	}
	if msg.Recipient == "" {
		return Result{}, ErrRecipientMissing
	}
	if msg.Sender == "" {
		return Result{}, fmt.Errorf("missing from address: %w", ErrProviderNotConfigured)
	}

	res := Result{Recipient: msg.Recipient}

	input := &ses.SendEmailInput{
		Source: aws.String(msg.Sender),
		Destination: &types.Destination{
			ToAddresses: []string{msg.Recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(msg.Body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("ses send failed",
			zap.Error(err),
			zap.String("recipient", MaskRecipient(msg.Recipient)),
		)
		return res, fmt.Errorf("ses send: %w", err)
	}

	res.Raw, _ = json.Marshal(out)

	if out.MessageId == nil || *out.MessageId == "" {
		s.logger.Warn("ses send returned no message id",
			zap.String("recipient", MaskRecipient(msg.Recipient)),
		)
		return res, ErrProviderRejected
	}

	res.MessageID = *out.MessageId

	s.logger.Info("email sent",
		zap.String("recipient", MaskRecipient(msg.Recipient)),
		zap.String("message_id", res.MessageID),
	)

	return res, nil
}

// Channel reports the channel this sender serves.
func (s *EmailSender) Channel() string { return ChannelEmail }
