package dispatch

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/gabri3lsal3s/ikgaihub/internal/db"
)

// FCMClient is the part of *messaging.Client the sender uses.
type FCMClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMSender delivers push notifications through Firebase Cloud Messaging.
type FCMSender struct {
	client FCMClient
	logger *zap.Logger
}

type FCMConfig struct {
	CredentialsFile string
}

// NewFCMSender initialises a Firebase app from a service account file.
func NewFCMSender(ctx context.Context, cfg FCMConfig, logger *zap.Logger) (*FCMSender, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get firebase messaging client: %w", err)
	}

	return NewFCMSenderWithClient(client, logger), nil
}

// NewFCMSenderWithClient builds a sender around an existing client.
func NewFCMSenderWithClient(client FCMClient, logger *zap.Logger) *FCMSender {
	return &FCMSender{client: client, logger: logger}
}

// Send pushes msg to every FCM target.
func (s *FCMSender) Send(ctx context.Context, msg *Message) error {
	if msg.Channel != ChannelPush {
		return fmt.Errorf("FCM sender only supports push, got: %s", msg.Channel)
	}

	return sendEach(ctx, msg, db.ProviderFCM, func(ctx context.Context, t Target) error {
		id, err := s.client.Send(ctx, fcmMessage(msg, t.Token))
		if err != nil {
			if messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err) {
				return fmt.Errorf("%w: %v", ErrTargetGone, err)
			}
			return fmt.Errorf("fcm send failed: %w", err)
		}

		s.logger.Info("push sent via FCM",
			zap.String("id", msg.ID.String()),
			zap.String("user_id", msg.UserID.String()),
			zap.String("message_id", id),
		)
		return nil
	})
}

func fcmMessage(msg *Message, token string) *messaging.Message {
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title:              msg.Title,
				Body:               msg.Body,
				Icon:               msg.Icon,
				Tag:                msg.Tag,
				RequireInteraction: msg.RequireInteraction,
				Silent:             msg.Silent,
			},
		},
	}
}

// SupportsChannel checks if this sender supports the push channel
func (s *FCMSender) SupportsChannel(ch Channel) bool {
	return ch == ChannelPush
}
