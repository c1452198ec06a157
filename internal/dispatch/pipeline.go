// Package dispatch contains the greeting send pipeline and the daily
// birthday dispatcher built on top of it.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wishwell/wishwell/internal/db"
	"github.com/wishwell/wishwell/internal/metrics"
	"github.com/wishwell/wishwell/internal/provider"
	"github.com/wishwell/wishwell/internal/render"
	"github.com/wishwell/wishwell/internal/settings"
)

// ErrTemplateInactive is returned when a send references a template that
// has been deactivated.
var ErrTemplateInactive = errors.New("template is inactive")

// Store is the slice of the database layer the pipeline writes through.
type Store interface {
	CreateDeliveryRecord(ctx context.Context, rec *db.DeliveryRecord) error
	CreateNotification(ctx context.Context, notif *db.Notification) error
}

// Request is one greeting send: a resolved contact, the template to
// render, the current settings, and the user (if any) the outcome
// notification is attributed to.
type Request struct {
	Contact    *db.Contact
	Template   *db.MessageTemplate
	Settings   *settings.Settings
	NotifyUser *uuid.UUID
}

// Pipeline renders a template, hands it to the channel's provider
// adapter, and records the outcome as a delivery record plus an outcome
// notification. Persistence failures are logged but never change the
// send verdict.
type Pipeline struct {
	store   Store
	senders map[string]provider.Sender
	logger  *zap.Logger
	now     func() time.Time
}

func NewPipeline(store Store, senders map[string]provider.Sender, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:   store,
		senders: senders,
		logger:  logger,
		now:     time.Now,
	}
}

// Dispatch performs one send attempt. The returned record reflects what
// was persisted; a non-nil error is the business failure reason. Both a
// record and a notification are written for every attempt.
func (p *Pipeline) Dispatch(ctx context.Context, req Request) (*db.DeliveryRecord, error) {
	channel := req.Template.Type
	now := p.now()

	msg := provider.Message{Channel: channel}

	var sendErr error
	switch channel {
	case provider.ChannelSMS:
		if !req.Settings.EnableSMS {
			sendErr = provider.ErrChannelDisabled
		}
		msg.Sender = req.Settings.SMSSenderID
		msg.Recipient = req.Contact.Phone
	case provider.ChannelEmail:
		if !req.Settings.EnableEmail {
			sendErr = provider.ErrChannelDisabled
		}
		msg.Sender = req.Settings.EmailFrom
		if req.Contact.Email != nil {
			msg.Recipient = *req.Contact.Email
		}
	default:
		sendErr = fmt.Errorf("channel %q: %w", channel, provider.ErrTemplateMismatch)
	}

	if sendErr == nil && !req.Template.IsActive {
		sendErr = ErrTemplateInactive
	}
	if sendErr == nil && msg.Recipient == "" {
		sendErr = provider.ErrRecipientMissing
	}

	// Render regardless of the verdict so failed attempts keep the
	// message they would have carried.
	rc := render.Contact{
		FirstName: req.Contact.FirstName,
		LastName:  req.Contact.LastName,
		Birthday:  req.Contact.Birthday,
	}
	msg.Body = render.Render(req.Template.Content, rc, now, channel == provider.ChannelEmail)
	if req.Template.Subject != nil {
		// Subjects are plain text headers, not HTML, so substituted
		// values are never entity-escaped there.
		msg.Subject = render.Render(*req.Template.Subject, rc, now, false)
	}

	var result provider.Result
	if sendErr == nil {
		sender, ok := p.senders[channel]
		if !ok {
			sendErr = provider.ErrProviderNotConfigured
		} else {
			start := p.now()
			result, sendErr = sender.Send(ctx, msg)
			metrics.RecordProviderSendDuration(channel, time.Since(start))
		}
	}

	rec := p.buildRecord(req, msg, result, sendErr, now)
	metrics.RecordGreetingDispatched(channel, rec.Status)

	if err := p.store.CreateDeliveryRecord(ctx, rec); err != nil {
		p.logger.Error("delivery record write failed",
			zap.Error(err),
			zap.String("contact_id", req.Contact.ID.String()),
			zap.String("channel", channel),
		)
	}

	p.writeNotification(ctx, req, rec, sendErr)

	if sendErr != nil {
		p.logger.Warn("greeting dispatch failed",
			zap.Error(sendErr),
			zap.String("contact_id", req.Contact.ID.String()),
			zap.String("channel", channel),
		)
		return rec, sendErr
	}

	p.logger.Info("greeting dispatched",
		zap.String("contact_id", req.Contact.ID.String()),
		zap.String("channel", channel),
		zap.String("record_id", rec.ID.String()),
	)
	return rec, nil
}

func (p *Pipeline) buildRecord(req Request, msg provider.Message, result provider.Result, sendErr error, now time.Time) *db.DeliveryRecord {
	recipient := msg.Recipient
	if result.Recipient != "" {
		recipient = result.Recipient
	}

	rec := &db.DeliveryRecord{
		ID:         uuid.New(),
		ContactID:  req.Contact.ID,
		TemplateID: req.Template.ID,
		Channel:    req.Template.Type,
		Recipient:  recipient,
		Content:    msg.Body,
	}

	if sendErr == nil {
		rec.Status = db.StatusSent
		if result.MessageID != "" {
			rec.ProviderMessageID = &result.MessageID
		}
		rec.ProviderResponse = result.Raw
		sentAt := now
		rec.SentAt = &sentAt
		return rec
	}

	rec.Status = db.StatusFailed
	if len(result.Raw) > 0 {
		rec.ProviderResponse = result.Raw
	} else {
		raw, err := json.Marshal(map[string]string{"error": sendErr.Error()})
		if err == nil {
			rec.ProviderResponse = raw
		}
	}
	return rec
}

func (p *Pipeline) writeNotification(ctx context.Context, req Request, rec *db.DeliveryRecord, sendErr error) {
	name := req.Contact.FirstName
	if req.Contact.LastName != "" {
		name = req.Contact.FirstName + " " + req.Contact.LastName
	}
	link := "/contacts/" + req.Contact.ID.String()

	notif := &db.Notification{
		ID:     uuid.New(),
		UserID: req.NotifyUser,
		Link:   &link,
	}

	if sendErr == nil {
		notif.Type = db.NotificationSuccess
		notif.Title = "Greeting sent"
		notif.Message = fmt.Sprintf("Birthday %s to %s was sent.", rec.Channel, name)
	} else {
		notif.Type = db.NotificationError
		notif.Title = "Greeting failed"
		notif.Message = fmt.Sprintf("Birthday %s to %s failed: %s.", rec.Channel, name, sendErr)
	}

	meta, err := json.Marshal(map[string]string{
		"delivery_record_id": rec.ID.String(),
		"channel":            rec.Channel,
	})
	if err == nil {
		notif.Metadata = meta
	}

	if err := p.store.CreateNotification(ctx, notif); err != nil {
		p.logger.Error("notification write failed",
			zap.Error(err),
			zap.String("contact_id", req.Contact.ID.String()),
		)
	}
}
