package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Sender is the unified interface for all notification channels.
// Implementations: push (FCM, SNS), email (SES), in-app.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
	SupportsChannel(ch Channel) bool
}

// MultiSender routes a message to every sender that supports its channel,
// so one push can reach FCM and SNS devices alike.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router over the given senders.
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
		logger:  logger,
	}
}

// Send delivers msg through all matching senders and combines their errors.
func (m *MultiSender) Send(ctx context.Context, msg *Message) error {
	var (
		err     error
		matched bool
	)
	for _, sender := range m.senders {
		if !sender.SupportsChannel(msg.Channel) {
			continue
		}
		matched = true
		m.logger.Debug("routing notification to sender",
			zap.String("channel", string(msg.Channel)),
			zap.String("message_id", msg.ID.String()),
		)
		err = multierr.Append(err, sender.Send(ctx, msg))
	}

	if !matched {
		return fmt.Errorf("no sender found for channel: %s", msg.Channel)
	}
	return err
}

// SupportsChannel checks if any underlying sender supports the channel
func (m *MultiSender) SupportsChannel(ch Channel) bool {
	for _, sender := range m.senders {
		if sender.SupportsChannel(ch) {
			return true
		}
	}
	return false
}

// InAppSender delivers in-app notifications. The history record written by
// the Dispatcher is the inbox, so delivery is a structured log line.
type InAppSender struct {
	logger *zap.Logger
}

func NewInAppSender(logger *zap.Logger) *InAppSender {
	return &InAppSender{logger: logger}
}

func (s *InAppSender) Send(ctx context.Context, msg *Message) error {
	s.logger.Info("in-app notification",
		zap.String("id", msg.ID.String()),
		zap.String("user_id", msg.UserID.String()),
		zap.String("title", msg.Title),
		zap.String("tag", msg.Tag),
	)
	return nil
}

func (s *InAppSender) SupportsChannel(ch Channel) bool {
	return ch == ChannelInApp
}

// LogSender stands in for external surfaces in development: it accepts push
// and email and only logs them.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg *Message) error {
	s.logger.Info("logging notification (development mode)",
		zap.String("id", msg.ID.String()),
		zap.String("channel", string(msg.Channel)),
		zap.String("user_id", msg.UserID.String()),
		zap.String("title", msg.Title),
		zap.Int("targets", len(msg.Targets)),
	)
	return nil
}

func (s *LogSender) SupportsChannel(ch Channel) bool {
	return ch == ChannelPush || ch == ChannelEmail
}
