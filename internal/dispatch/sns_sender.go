package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/gabri3lsal3s/ikgaihub/internal/db"
)

// SNSPublisher is the part of *sns.Client the sender uses.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSender delivers push notifications to SNS platform endpoints.
type SNSSender struct {
	client SNSPublisher
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

// NewSNSSender creates a new SNS sender for platform endpoint pushes
func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return NewSNSSenderWithClient(sns.NewFromConfig(awsCfg), logger), nil
}

// NewSNSSenderWithClient builds a sender around an existing client.
func NewSNSSenderWithClient(client SNSPublisher, logger *zap.Logger) *SNSSender {
	return &SNSSender{client: client, logger: logger}
}

// Send publishes msg to every SNS endpoint target.
func (s *SNSSender) Send(ctx context.Context, msg *Message) error {
	if msg.Channel != ChannelPush {
		return fmt.Errorf("SNS sender only supports push, got: %s", msg.Channel)
	}

	body, err := snsPayload(msg)
	if err != nil {
		return fmt.Errorf("encode sns payload: %w", err)
	}

	return sendEach(ctx, msg, db.ProviderSNS, func(ctx context.Context, t Target) error {
		result, err := s.client.Publish(ctx, &sns.PublishInput{
			TargetArn:        aws.String(t.Token),
			Message:          aws.String(body),
			MessageStructure: aws.String("json"),
		})
		if err != nil {
			var disabled *types.EndpointDisabledException
			var notFound *types.NotFoundException
			if errors.As(err, &disabled) || errors.As(err, &notFound) {
				return fmt.Errorf("%w: %v", ErrTargetGone, err)
			}
			return fmt.Errorf("sns publish failed: %w", err)
		}

		s.logger.Info("push sent via SNS",
			zap.String("id", msg.ID.String()),
			zap.String("user_id", msg.UserID.String()),
			zap.String("message_id", aws.ToString(result.MessageId)),
		)
		return nil
	})
}

// snsPayload renders the per-platform JSON document SNS expects with
// MessageStructure=json.
func snsPayload(msg *Message) (string, error) {
	gcm, err := json.Marshal(map[string]any{
		"notification": map[string]any{
			"title": msg.Title,
			"body":  msg.Body,
			"icon":  msg.Icon,
			"tag":   msg.Tag,
		},
		"data": msg.Data,
	})
	if err != nil {
		return "", err
	}

	apns, err := json.Marshal(map[string]any{
		"aps": map[string]any{
			"alert":     map[string]string{"title": msg.Title, "body": msg.Body},
			"thread-id": msg.Tag,
		},
	})
	if err != nil {
		return "", err
	}

	doc, err := json.Marshal(map[string]string{
		"default": msg.Title + ": " + msg.Body,
		"GCM":     string(gcm),
		"APNS":    string(apns),
	})
	if err != nil {
		return "", err
	}
	return string(doc), nil
}

// SupportsChannel checks if this sender supports the push channel
func (s *SNSSender) SupportsChannel(ch Channel) bool {
	return ch == ChannelPush
}
