// Package correlate matches provider delivery-status callbacks back to
// the delivery records they describe.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wishwell/wishwell/internal/db"
	"github.com/wishwell/wishwell/internal/metrics"
)

// Store is the slice of the database layer the correlator needs.
type Store interface {
	FindDeliveryByProviderMessageID(ctx context.Context, messageID string) (*db.DeliveryRecord, error)
	UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, from, to string) error
}

// Result classifies what a callback did.
type Result string

const (
	// ResultUpdated means the delivery record moved to a new status.
	ResultUpdated Result = "updated"
	// ResultUnmatched means no record carries the reported message id.
	ResultUnmatched Result = "unmatched"
	// ResultNoOp means the record already holds the reported status.
	ResultNoOp Result = "noop"
	// ResultIgnored means the callback was malformed or its transition
	// is not allowed by the status state machine.
	ResultIgnored Result = "ignored"
)

// Callback is the provider's delivery-status report.
type Callback struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// Correlator applies delivery-status callbacks. Processing is idempotent
// and callbacks are always acknowledged; the Result tells the caller
// what, if anything, changed.
type Correlator struct {
	store  Store
	logger *zap.Logger
}

func NewCorrelator(store Store, logger *zap.Logger) *Correlator {
	return &Correlator{store: store, logger: logger}
}

// Process applies one callback. Malformed payloads, unknown message ids
// and disallowed transitions are absorbed without error; only a store
// failure is reported back.
func (c *Correlator) Process(ctx context.Context, cb Callback) (Result, error) {
	result, err := c.process(ctx, cb)
	metrics.RecordDeliveryCallback(string(result))
	return result, err
}

func (c *Correlator) process(ctx context.Context, cb Callback) (Result, error) {
	if cb.MessageID == "" || cb.Status == "" {
		c.logger.Warn("malformed delivery callback",
			zap.String("message_id", cb.MessageID),
			zap.String("status", cb.Status),
		)
		return ResultIgnored, nil
	}

	status, ok := normalizeStatus(cb.Status)
	if !ok {
		c.logger.Warn("unknown delivery status",
			zap.String("message_id", cb.MessageID),
			zap.String("status", cb.Status),
		)
		return ResultIgnored, nil
	}

	rec, err := c.store.FindDeliveryByProviderMessageID(ctx, cb.MessageID)
	if errors.Is(err, db.ErrNotFound) {
		c.logger.Info("delivery callback matched no record",
			zap.String("message_id", cb.MessageID),
		)
		return ResultUnmatched, nil
	}
	if err != nil {
		return ResultIgnored, fmt.Errorf("find delivery record: %w", err)
	}

	if rec.Status == status {
		return ResultNoOp, nil
	}

	if !db.CanTransition(rec.Status, status) {
		c.logger.Warn("delivery callback transition not allowed",
			zap.String("record_id", rec.ID.String()),
			zap.String("from", rec.Status),
			zap.String("to", status),
		)
		return ResultIgnored, nil
	}

	err = c.store.UpdateDeliveryStatus(ctx, rec.ID, rec.Status, status)
	if errors.Is(err, db.ErrNotFound) {
		// A concurrent callback won the conditional update.
		return ResultNoOp, nil
	}
	if err != nil {
		return ResultIgnored, fmt.Errorf("update delivery status: %w", err)
	}

	c.logger.Info("delivery status updated",
		zap.String("record_id", rec.ID.String()),
		zap.String("from", rec.Status),
		zap.String("to", status),
	)
	return ResultUpdated, nil
}

// normalizeStatus maps a provider-reported status onto the record state
// machine, case-insensitively.
func normalizeStatus(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case db.StatusDelivered, "success":
		return db.StatusDelivered, true
	case db.StatusFailed, "failure", "bounce", "bounced":
		return db.StatusFailed, true
	case db.StatusSent:
		return db.StatusSent, true
	default:
		return "", false
	}
}
