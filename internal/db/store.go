package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/wishwell/wishwell/internal/auth"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store handles database operations for the dispatch pipeline.
// Contacts, templates and settings are read-only; delivery records and
// notifications are the pipeline's own writes.
type Store struct {
	db     *DB
	logger *zap.Logger
}

// NewStore creates a new store.
func NewStore(db *DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// GetContact retrieves a contact by id. For scoped principals the lookup is
// restricted to contacts the attributed user owns, mirroring the row-level
// rules the contact-management subsystem enforces.
func (s *Store) GetContact(ctx context.Context, p auth.Principal, id uuid.UUID) (*Contact, error) {
	query := `
		SELECT id, user_id, first_name, last_name, phone, email, birthday, is_active
		FROM contacts
		WHERE id = $1
	`
	args := []any{id}

	if p.Scoped() {
		owner, ok := p.AttributedUser()
		if !ok {
			return nil, fmt.Errorf("scoped principal without user: %w", ErrNotFound)
		}
		query += ` AND user_id = $2`
		args = append(args, owner)
	}

	var c Contact
	err := s.db.Pool().QueryRow(ctx, query, args...).Scan(
		&c.ID,
		&c.UserID,
		&c.FirstName,
		&c.LastName,
		&c.Phone,
		&c.Email,
		&c.Birthday,
		&c.IsActive,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("contact %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query contact: %w", err)
	}

	return &c, nil
}

// ListBirthdayContacts returns all active contacts whose birthday falls on
// the given (month, day), ignoring the year. Privileged path used by the
// daily dispatcher only.
func (s *Store) ListBirthdayContacts(ctx context.Context, month, day int) ([]*Contact, error) {
	query := `
		SELECT id, user_id, first_name, last_name, phone, email, birthday, is_active
		FROM contacts
		WHERE is_active
		  AND EXTRACT(MONTH FROM birthday) = $1
		  AND EXTRACT(DAY FROM birthday) = $2
		ORDER BY created_at ASC
	`

	rows, err := s.db.Pool().Query(ctx, query, month, day)
	if err != nil {
		return nil, fmt.Errorf("query birthday contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		var c Contact
		err := rows.Scan(
			&c.ID,
			&c.UserID,
			&c.FirstName,
			&c.LastName,
			&c.Phone,
			&c.Email,
			&c.Birthday,
			&c.IsActive,
		)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return contacts, nil
}

// GetTemplate retrieves a message template by id.
func (s *Store) GetTemplate(ctx context.Context, id uuid.UUID) (*MessageTemplate, error) {
	query := `
		SELECT id, type, subject, content, is_active
		FROM message_templates
		WHERE id = $1
	`

	var t MessageTemplate
	err := s.db.Pool().QueryRow(ctx, query, id).Scan(
		&t.ID,
		&t.Type,
		&t.Subject,
		&t.Content,
		&t.IsActive,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query template: %w", err)
	}

	return &t, nil
}

// GetSettings loads the full system_settings table as a key/value map.
// Only the privileged settings loader calls this; values are never exposed
// to user-scoped callers.
func (s *Store) GetSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Pool().Query(ctx, `SELECT key, value FROM system_settings`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return settings, nil
}

// CreateDeliveryRecord inserts one delivery record for a dispatch attempt.
func (s *Store) CreateDeliveryRecord(ctx context.Context, rec *DeliveryRecord) error {
	query := `
		INSERT INTO delivery_records (
			id, contact_id, template_id, channel, recipient,
			content, status, provider_message_id, provider_response, sent_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		RETURNING created_at, updated_at
	`

	err := s.db.Pool().QueryRow(
		ctx,
		query,
		rec.ID,
		rec.ContactID,
		rec.TemplateID,
		rec.Channel,
		rec.Recipient,
		rec.Content,
		rec.Status,
		rec.ProviderMessageID,
		rec.ProviderResponse,
		rec.SentAt,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)

	if err != nil {
		s.logger.Error("failed to create delivery record",
			zap.Error(err),
			zap.String("record_id", rec.ID.String()),
		)
		return fmt.Errorf("insert delivery record: %w", err)
	}

	s.logger.Info("delivery record created",
		zap.String("record_id", rec.ID.String()),
		zap.String("channel", rec.Channel),
		zap.String("status", rec.Status),
	)

	return nil
}

// FindDeliveryByProviderMessageID locates the record a provider callback
// refers to. provider_message_id carries a unique index, so this is an
// exact single-row lookup.
func (s *Store) FindDeliveryByProviderMessageID(ctx context.Context, messageID string) (*DeliveryRecord, error) {
	query := `
		SELECT id, contact_id, template_id, channel, recipient, content,
		       status, provider_message_id, provider_response, sent_at,
		       created_at, updated_at
		FROM delivery_records
		WHERE provider_message_id = $1
	`

	var rec DeliveryRecord
	err := s.db.Pool().QueryRow(ctx, query, messageID).Scan(
		&rec.ID,
		&rec.ContactID,
		&rec.TemplateID,
		&rec.Channel,
		&rec.Recipient,
		&rec.Content,
		&rec.Status,
		&rec.ProviderMessageID,
		&rec.ProviderResponse,
		&rec.SentAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("delivery record for message %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query delivery record: %w", err)
	}

	return &rec, nil
}

// UpdateDeliveryStatus moves a delivery record to a new status. The guard
// on the current status keeps concurrent duplicate callbacks from writing
// twice; the caller has already validated the transition.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	query := `
		UPDATE delivery_records
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := s.db.Pool().Exec(ctx, query, to, id, from)
	if err != nil {
		s.logger.Error("failed to update delivery status",
			zap.Error(err),
			zap.String("record_id", id.String()),
			zap.String("status", to),
		)
		return fmt.Errorf("update delivery status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("delivery record %s no longer in status %s: %w", id, from, ErrNotFound)
	}

	return nil
}

// CreateNotification inserts one outcome notification.
func (s *Store) CreateNotification(ctx context.Context, notif *Notification) error {
	query := `
		INSERT INTO notifications (
			id, user_id, title, message, type, is_read, link, metadata
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		RETURNING created_at
	`

	err := s.db.Pool().QueryRow(
		ctx,
		query,
		notif.ID,
		notif.UserID,
		notif.Title,
		notif.Message,
		notif.Type,
		notif.IsRead,
		notif.Link,
		notif.Metadata,
	).Scan(&notif.CreatedAt)

	if err != nil {
		s.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("notification_id", notif.ID.String()),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	return nil
}
