// Package settings assembles the persisted system_settings rows into one
// typed, validated configuration struct. Settings are read through the
// privileged store path only; end-user-scoped callers never see them.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Persisted configuration keys.
const (
	KeyEnableSMS              = "enable_sms"
	KeyEnableEmail            = "enable_email"
	KeySMSSenderID            = "sms_sender_id"
	KeyEmailFrom              = "email_from"
	KeyDefaultSMSTemplateID   = "default_sms_template_id"
	KeyDefaultEmailTemplateID = "default_email_template_id"
	KeyNotifyUserID           = "notify_user_id"
)

const (
	cacheKey = "snapshot"
	cacheTTL = 30 * time.Second
)

// Settings is the typed view over system_settings consumed by the
// dispatcher and the provider adapters.
type Settings struct {
	EnableSMS   bool
	EnableEmail bool

	// Sender identities. Empty means the channel's provider is not
	// configured, which surfaces as ProviderNotConfigured at dispatch.
	SMSSenderID string
	EmailFrom   string

	// Default templates used by the daily dispatcher. Nil means the
	// channel is skipped during scheduled runs.
	DefaultSMSTemplateID   *uuid.UUID
	DefaultEmailTemplateID *uuid.UUID

	// NotifyUserID is the user that system-triggered dispatch outcomes
	// are attributed to. Nil produces unattributed notifications.
	NotifyUserID *uuid.UUID
}

// Store is the slice of the database layer the loader needs.
type Store interface {
	GetSettings(ctx context.Context) (map[string]string, error)
}

// Cache is the slice of the redis layer the loader needs. A cache miss is
// reported with an error; any error falls through to the store.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Loader reads settings with a short-lived cache in front of Postgres.
// The cache is optional; with a nil Cache every Load hits the store.
type Loader struct {
	store  Store
	cache  Cache
	logger *zap.Logger
}

func NewLoader(store Store, cache Cache, logger *zap.Logger) *Loader {
	return &Loader{store: store, cache: cache, logger: logger}
}

// Load returns the current typed settings.
func (l *Loader) Load(ctx context.Context) (*Settings, error) {
	if raw, ok := l.fromCache(ctx); ok {
		s, err := FromMap(raw)
		if err == nil {
			return s, nil
		}
		l.logger.Warn("cached settings invalid, reloading", zap.Error(err))
	}

	raw, err := l.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	s, err := FromMap(raw)
	if err != nil {
		return nil, err
	}

	l.toCache(ctx, raw)
	return s, nil
}

func (l *Loader) fromCache(ctx context.Context) (map[string]string, bool) {
	if l.cache == nil {
		return nil, false
	}

	val, err := l.cache.Get(ctx, cacheKey)
	if err != nil {
		return nil, false
	}

	var raw map[string]string
	if err := json.Unmarshal([]byte(val), &raw); err != nil {
		return nil, false
	}
	return raw, true
}

func (l *Loader) toCache(ctx context.Context, raw map[string]string) {
	if l.cache == nil {
		return
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return
	}
	if err := l.cache.Set(ctx, cacheKey, string(data), cacheTTL); err != nil {
		l.logger.Debug("settings cache write failed", zap.Error(err))
	}
}

// FromMap converts the raw key/value rows into a validated Settings.
// Missing keys fall back to disabled/empty; malformed ids are an error
// rather than a silently dropped channel.
func FromMap(raw map[string]string) (*Settings, error) {
	s := &Settings{
		EnableSMS:   parseBool(raw[KeyEnableSMS]),
		EnableEmail: parseBool(raw[KeyEnableEmail]),
		SMSSenderID: raw[KeySMSSenderID],
		EmailFrom:   raw[KeyEmailFrom],
	}

	var err error
	if s.DefaultSMSTemplateID, err = parseOptionalUUID(raw[KeyDefaultSMSTemplateID]); err != nil {
		return nil, fmt.Errorf("%s: %w", KeyDefaultSMSTemplateID, err)
	}
	if s.DefaultEmailTemplateID, err = parseOptionalUUID(raw[KeyDefaultEmailTemplateID]); err != nil {
		return nil, fmt.Errorf("%s: %w", KeyDefaultEmailTemplateID, err)
	}
	if s.NotifyUserID, err = parseOptionalUUID(raw[KeyNotifyUserID]); err != nil {
		return nil, fmt.Errorf("%s: %w", KeyNotifyUserID, err)
	}

	return s, nil
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func parseOptionalUUID(v string) (*uuid.UUID, error) {
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, fmt.Errorf("invalid uuid %q: %w", v, err)
	}
	return &id, nil
}
