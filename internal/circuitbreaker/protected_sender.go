package circuitbreaker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gabri3lsal3s/ikgaihub/internal/dispatch"
)

// ProtectedSender wraps a dispatch.Sender with a CircuitBreaker. While the
// breaker is open, Send fails fast with ErrCircuitOpen.
type ProtectedSender struct {
	sender  dispatch.Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

var _ dispatch.Sender = (*ProtectedSender)(nil)

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(sender dispatch.Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send forwards msg unless the breaker is open. Failures caused only by
// unregistered devices or by the caller's context do not count against the
// provider.
func (p *ProtectedSender) Send(ctx context.Context, msg *dispatch.Message) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected request",
			zap.String("breaker", p.breaker.Name()),
			zap.String("message_id", msg.ID.String()),
			zap.String("channel", string(msg.Channel)),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s sender unavailable", ErrCircuitOpen, p.breaker.Name())
	}

	err := p.sender.Send(ctx, msg)
	if err != nil && providerFault(err) {
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.Name()),
			zap.Error(err),
		)
		return err
	}

	p.breaker.RecordSuccess()
	return err
}

// providerFault reports whether any part of err points at the provider
// itself rather than at a stale device or a cancelled caller.
func providerFault(err error) bool {
	for _, e := range multierr.Errors(err) {
		if errors.Is(e, dispatch.ErrTargetGone) ||
			errors.Is(e, context.Canceled) ||
			errors.Is(e, context.DeadlineExceeded) {
			continue
		}
		return true
	}
	return false
}

// SupportsChannel delegates to the underlying sender.
func (p *ProtectedSender) SupportsChannel(ch dispatch.Channel) bool {
	return p.sender.SupportsChannel(ch)
}

// Breaker returns the underlying circuit breaker for health reporting.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
