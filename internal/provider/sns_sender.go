package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// snsAPI is the slice of the SNS client the sender uses; tests inject fakes.
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SMSSender sends SMS messages via AWS SNS.
type SMSSender struct {
	client      snsAPI
	countryCode string
	logger      *zap.Logger
}

type SMSConfig struct {
	Region      string
	CountryCode string
}

// NewSMSSender creates an SNS-backed SMS sender.
func NewSMSSender(ctx context.Context, cfg SMSConfig, logger *zap.Logger) (*SMSSender, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SMSSender{
		client:      sns.NewFromConfig(awsCfg),
		countryCode: cfg.CountryCode,
		logger:      logger,
	}, nil
}

// newSMSSenderWithClient wires an explicit client, used by tests.
func newSMSSenderWithClient(client snsAPI, countryCode string, logger *zap.Logger) *SMSSender {
	return &SMSSender{client: client, countryCode: countryCode, logger: logger}
}

// Send publishes one SMS. The recipient is normalized to international
// form first; the normalized value is what the delivery record stores.
// Success requires the transport call to succeed AND the provider to hand
// back a message id.
func (s *SMSSender) Send(ctx context.Context, msg Message) (Result, error) {
	if msg.Channel != ChannelSMS {
		return Result{}, fmt.Errorf("sms sender got channel %q: %w", msg.Channel, ErrTemplateMismatch)
	}
	if msg.Recipient == "" {
		return Result{}, ErrRecipientMissing
	}

	phone := NormalizePhone(msg.Recipient, s.countryCode)
	res := Result{Recipient: phone}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(msg.Body),
	}
	if msg.Sender != "" {
		input.MessageAttributes = map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.Sender),
			},
		}
	}

	out, err := s.client.Publish(ctx, input)
	if err != nil {
		s.logger.Error("sns publish failed",
			zap.Error(err),
			zap.String("recipient", MaskRecipient(phone)),
		)
		return res, fmt.Errorf("sns publish: %w", err)
	}

	res.Raw, _ = json.Marshal(out)

	if out.MessageId == nil || *out.MessageId == "" {
		s.logger.Warn("sns publish returned no message id",
			zap.String("recipient", MaskRecipient(phone)),
		)
		return res, ErrProviderRejected
	}

	res.MessageID = *out.MessageId

	s.logger.Info("sms sent",
		zap.String("recipient", MaskRecipient(phone)),
		zap.String("message_id", res.MessageID),
	)

	return res, nil
}

// Channel reports the channel this sender serves.
func (s *SMSSender) Channel() string { return ChannelSMS }
