package circuitbreaker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wishwell/wishwell/internal/provider"
)

// ProtectedSender wraps a provider.Sender with a CircuitBreaker. When the
// provider starts failing at the transport level, the circuit opens and
// dispatches fail fast instead of piling up behind a dead service.
type ProtectedSender struct {
	sender  provider.Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(sender provider.Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send attempts a dispatch through the circuit breaker. If the circuit is
// open, ErrCircuitOpen is returned immediately. Business outcomes do not
// trip the breaker: a provider that answers "rejected" is up; only
// transport failures count against it.
func (p *ProtectedSender) Send(ctx context.Context, msg provider.Message) (provider.Result, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected request",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("channel", msg.Channel),
			zap.String("state", p.breaker.GetState().String()),
		)
		return provider.Result{}, fmt.Errorf("%w: %s provider unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	res, err := p.sender.Send(ctx, msg)
	if err != nil && !isBusinessError(err) {
		p.breaker.RecordFailure()
		return res, err
	}

	p.breaker.RecordSuccess()
	return res, err
}

// Channel delegates to the underlying sender.
func (p *ProtectedSender) Channel() string {
	return p.sender.Channel()
}

// Breaker returns the underlying circuit breaker for monitoring.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}

// isBusinessError reports whether the error is a per-message verdict rather
// than a sign the provider itself is unhealthy.
func isBusinessError(err error) bool {
	return errors.Is(err, provider.ErrProviderRejected) ||
		errors.Is(err, provider.ErrTemplateMismatch) ||
		errors.Is(err, provider.ErrRecipientMissing) ||
		errors.Is(err, provider.ErrProviderNotConfigured) ||
		errors.Is(err, provider.ErrChannelDisabled)
}
