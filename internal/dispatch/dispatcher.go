package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wishwell/wishwell/internal/db"
	"github.com/wishwell/wishwell/internal/metrics"
	"github.com/wishwell/wishwell/internal/settings"
)

// ContactSource lists the contacts a daily run covers.
type ContactSource interface {
	ListBirthdayContacts(ctx context.Context, month, day int) ([]*db.Contact, error)
}

// TemplateSource resolves the default templates a daily run sends with.
type TemplateSource interface {
	GetTemplate(ctx context.Context, id uuid.UUID) (*db.MessageTemplate, error)
}

// SettingsLoader yields the current typed settings.
type SettingsLoader interface {
	Load(ctx context.Context) (*settings.Settings, error)
}

// RunSummary is the outcome of one daily dispatch run.
type RunSummary struct {
	BirthdaysToday int `json:"birthdaysToday"`
	SMSSent        int `json:"smsSent"`
	SMSFailed      int `json:"smsFailed"`
	EmailSent      int `json:"emailSent"`
	EmailFailed    int `json:"emailFailed"`
}

// Dispatcher runs the daily birthday sweep: find today's contacts and
// push a greeting on every enabled channel. A run only fails when the
// contact list or the settings cannot be loaded; individual send
// failures are counted and the run continues.
type Dispatcher struct {
	contacts  ContactSource
	templates TemplateSource
	settings  SettingsLoader
	pipeline  *Pipeline
	logger    *zap.Logger
}

func NewDispatcher(contacts ContactSource, templates TemplateSource, loader SettingsLoader, pipeline *Pipeline, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		contacts:  contacts,
		templates: templates,
		settings:  loader,
		pipeline:  pipeline,
		logger:    logger,
	}
}

// Run dispatches greetings for every active contact whose birthday falls
// on the given date's month and day. Contacts born on February 29 only
// match when the run date itself is February 29.
func (d *Dispatcher) Run(ctx context.Context, on time.Time) (*RunSummary, error) {
	month, day := int(on.Month()), on.Day()

	cfg, err := d.settings.Load(ctx)
	if err != nil {
		metrics.RecordSchedulerRun("failed", 0)
		return nil, fmt.Errorf("load settings: %w", err)
	}

	contacts, err := d.contacts.ListBirthdayContacts(ctx, month, day)
	if err != nil {
		metrics.RecordSchedulerRun("failed", 0)
		return nil, fmt.Errorf("list birthday contacts: %w", err)
	}

	summary := &RunSummary{BirthdaysToday: len(contacts)}

	smsTpl := d.channelTemplate(ctx, "sms", cfg.EnableSMS, cfg.DefaultSMSTemplateID)
	emailTpl := d.channelTemplate(ctx, "email", cfg.EnableEmail, cfg.DefaultEmailTemplateID)

	d.logger.Info("daily dispatch run started",
		zap.Int("month", month),
		zap.Int("day", day),
		zap.Int("birthdays", len(contacts)),
		zap.Bool("sms", smsTpl != nil),
		zap.Bool("email", emailTpl != nil),
	)

	for _, contact := range contacts {
		if ctx.Err() != nil {
			metrics.RecordSchedulerRun("cancelled", summary.BirthdaysToday)
			return summary, ctx.Err()
		}

		// Channels are independent: an SMS failure never blocks the
		// email for the same contact. A contact without a recipient on
		// a channel is skipped, not counted as a failure.
		if smsTpl != nil && contact.Phone != "" {
			if _, err := d.pipeline.Dispatch(ctx, Request{
				Contact:    contact,
				Template:   smsTpl,
				Settings:   cfg,
				NotifyUser: cfg.NotifyUserID,
			}); err != nil {
				summary.SMSFailed++
			} else {
				summary.SMSSent++
			}
		}

		if emailTpl != nil && contact.Email != nil && *contact.Email != "" {
			if _, err := d.pipeline.Dispatch(ctx, Request{
				Contact:    contact,
				Template:   emailTpl,
				Settings:   cfg,
				NotifyUser: cfg.NotifyUserID,
			}); err != nil {
				summary.EmailFailed++
			} else {
				summary.EmailSent++
			}
		}
	}

	metrics.RecordSchedulerRun("success", summary.BirthdaysToday)
	d.logger.Info("daily dispatch run finished",
		zap.Int("birthdays", summary.BirthdaysToday),
		zap.Int("sms_sent", summary.SMSSent),
		zap.Int("sms_failed", summary.SMSFailed),
		zap.Int("email_sent", summary.EmailSent),
		zap.Int("email_failed", summary.EmailFailed),
	)

	return summary, nil
}

// channelTemplate resolves the default template for a channel, or nil
// when the channel should be skipped for this run.
func (d *Dispatcher) channelTemplate(ctx context.Context, channel string, enabled bool, id *uuid.UUID) *db.MessageTemplate {
	if !enabled {
		return nil
	}
	if id == nil {
		d.logger.Warn("channel enabled without a default template, skipping",
			zap.String("channel", channel),
		)
		return nil
	}

	tpl, err := d.templates.GetTemplate(ctx, *id)
	if err != nil {
		d.logger.Error("default template load failed, skipping channel",
			zap.Error(err),
			zap.String("channel", channel),
			zap.String("template_id", id.String()),
		)
		return nil
	}
	if tpl.Type != channel {
		d.logger.Error("default template type mismatch, skipping channel",
			zap.String("channel", channel),
			zap.String("template_type", tpl.Type),
		)
		return nil
	}
	if !tpl.IsActive {
		d.logger.Warn("default template inactive, skipping channel",
			zap.String("channel", channel),
		)
		return nil
	}
	return tpl
}
