package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wishwell/wishwell/internal/provider"
)

func newTestBreaker(maxFailures int, recovery time.Duration) *CircuitBreaker {
	return New(Config{
		Name:                "test",
		MaxFailures:         maxFailures,
		RecoveryTimeout:     recovery,
		HalfOpenMaxRequests: 1,
	}, zap.NewNop())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !cb.Allow() {
			t.Fatalf("request %d should be allowed while closed", i)
		}
		cb.RecordFailure()
	}

	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want open", cb.GetState())
	}
	if cb.Allow() {
		t.Error("open circuit should reject requests")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordSuccess()
	cb.Allow()
	cb.RecordFailure()

	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want closed after interleaved success", cb.GetState())
	}
}

func TestBreakerRecoversThroughProbe(t *testing.T) {
	cb := newTestBreaker(1, 20*time.Millisecond)

	cb.Allow()
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want open", cb.GetState())
	}

	time.Sleep(30 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("probe request should be allowed after recovery timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.GetState())
	}

	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want closed after probe success", cb.GetState())
	}
}

func TestBreakerReopensOnProbeFailure(t *testing.T) {
	cb := newTestBreaker(1, 20*time.Millisecond)

	cb.Allow()
	cb.RecordFailure()
	time.Sleep(30 * time.Millisecond)
	cb.Allow()
	cb.RecordFailure()

	if cb.GetState() != StateOpen {
		t.Errorf("state = %v, want open after failed probe", cb.GetState())
	}
}

type scriptedSender struct {
	err error
}

func (s *scriptedSender) Send(ctx context.Context, msg provider.Message) (provider.Result, error) {
	return provider.Result{MessageID: "m-1", Recipient: msg.Recipient}, s.err
}

func (s *scriptedSender) Channel() string { return provider.ChannelSMS }

func TestProtectedSenderFailsFastWhenOpen(t *testing.T) {
	inner := &scriptedSender{err: errors.New("timeout")}
	cb := newTestBreaker(2, time.Minute)
	ps := NewProtectedSender(inner, cb, zap.NewNop())

	msg := provider.Message{Channel: provider.ChannelSMS, Recipient: "+15551234567"}

	for i := 0; i < 2; i++ {
		if _, err := ps.Send(context.Background(), msg); err == nil {
			t.Fatal("expected transport error")
		}
	}

	_, err := ps.Send(context.Background(), msg)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Send() error = %v, want ErrCircuitOpen", err)
	}
}

func TestProtectedSenderIgnoresBusinessVerdicts(t *testing.T) {
	inner := &scriptedSender{err: provider.ErrProviderRejected}
	cb := newTestBreaker(1, time.Minute)
	ps := NewProtectedSender(inner, cb, zap.NewNop())

	msg := provider.Message{Channel: provider.ChannelSMS, Recipient: "+15551234567"}

	for i := 0; i < 5; i++ {
		_, err := ps.Send(context.Background(), msg)
		if !errors.Is(err, provider.ErrProviderRejected) {
			t.Fatalf("Send() error = %v, want ErrProviderRejected", err)
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("rejections tripped the breaker: state = %v", cb.GetState())
	}
}
