package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wishwell/wishwell/internal/db"
	"github.com/wishwell/wishwell/internal/provider"
	"github.com/wishwell/wishwell/internal/settings"
)

type recordingStore struct {
	records       []*db.DeliveryRecord
	notifications []*db.Notification
	recordErr     error
	notifErr      error
}

func (s *recordingStore) CreateDeliveryRecord(ctx context.Context, rec *db.DeliveryRecord) error {
	if s.recordErr != nil {
		return s.recordErr
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingStore) CreateNotification(ctx context.Context, notif *db.Notification) error {
	if s.notifErr != nil {
		return s.notifErr
	}
	s.notifications = append(s.notifications, notif)
	return nil
}

type stubSender struct {
	channel string
	result  provider.Result
	err     error
	calls   int
	lastMsg provider.Message
}

func (s *stubSender) Send(ctx context.Context, msg provider.Message) (provider.Result, error) {
	s.calls++
	s.lastMsg = msg
	return s.result, s.err
}

func (s *stubSender) Channel() string { return s.channel }

func testContact() *db.Contact {
	email := "jane@example.com"
	return &db.Contact{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		FirstName: "Jane",
		LastName:  "Doe",
		Phone:     "+4915112345678",
		Email:     &email,
		Birthday:  time.Date(1990, 5, 15, 0, 0, 0, 0, time.UTC),
		IsActive:  true,
	}
}

func smsTemplate() *db.MessageTemplate {
	return &db.MessageTemplate{
		ID:       uuid.New(),
		Type:     "sms",
		Content:  "Happy birthday, [FirstName]!",
		IsActive: true,
	}
}

func emailTemplate() *db.MessageTemplate {
	subject := "Happy birthday, [Name]!"
	return &db.MessageTemplate{
		ID:       uuid.New(),
		Type:     "email",
		Subject:  &subject,
		Content:  "<p>Dear [Name], you turn [Age] today!</p>",
		IsActive: true,
	}
}

func allEnabled() *settings.Settings {
	return &settings.Settings{
		EnableSMS:   true,
		EnableEmail: true,
		SMSSenderID: "WishWell",
		EmailFrom:   "greetings@wishwell.example",
	}
}

func newTestPipeline(store Store, senders map[string]provider.Sender) *Pipeline {
	return NewPipeline(store, senders, zap.NewNop())
}

func TestPipeline_SMSSuccess(t *testing.T) {
	store := &recordingStore{}
	sms := &stubSender{
		channel: provider.ChannelSMS,
		result:  provider.Result{MessageID: "msg-123", Recipient: "+4915112345678"},
	}
	pipeline := newTestPipeline(store, map[string]provider.Sender{provider.ChannelSMS: sms})

	contact := testContact()
	notifyUser := uuid.New()

	rec, err := pipeline.Dispatch(context.Background(), Request{
		Contact:    contact,
		Template:   smsTemplate(),
		Settings:   allEnabled(),
		NotifyUser: &notifyUser,
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if sms.calls != 1 {
		t.Fatalf("sender calls = %d, want 1", sms.calls)
	}
	if sms.lastMsg.Body != "Happy birthday, Jane!" {
		t.Errorf("rendered body = %q", sms.lastMsg.Body)
	}
	if sms.lastMsg.Sender != "WishWell" {
		t.Errorf("sender id = %q", sms.lastMsg.Sender)
	}

	if rec.Status != db.StatusSent {
		t.Errorf("record status = %q, want sent", rec.Status)
	}
	if rec.ProviderMessageID == nil || *rec.ProviderMessageID != "msg-123" {
		t.Error("provider message id not captured")
	}
	if rec.SentAt == nil {
		t.Error("sent_at should be set on success")
	}

	if len(store.records) != 1 || len(store.notifications) != 1 {
		t.Fatalf("persisted %d records, %d notifications", len(store.records), len(store.notifications))
	}

	notif := store.notifications[0]
	if notif.Type != db.NotificationSuccess {
		t.Errorf("notification type = %q", notif.Type)
	}
	if notif.UserID == nil || *notif.UserID != notifyUser {
		t.Error("notification should be attributed to notify user")
	}
	if notif.Link == nil || *notif.Link != "/contacts/"+contact.ID.String() {
		t.Error("notification link should point at the contact")
	}
}

func TestPipeline_EmailSuccessEscapesHTML(t *testing.T) {
	store := &recordingStore{}
	contact := testContact()
	contact.FirstName = "Jane <script>"

	email := &stubSender{
		channel: provider.ChannelEmail,
		result:  provider.Result{MessageID: "ses-1", Recipient: "jane@example.com"},
	}
	pipeline := newTestPipeline(store, map[string]provider.Sender{provider.ChannelEmail: email})

	rec, err := pipeline.Dispatch(context.Background(), Request{
		Contact:  contact,
		Template: emailTemplate(),
		Settings: allEnabled(),
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if strings.Contains(email.lastMsg.Body, "<script>") {
		t.Error("email body should escape contact values")
	}
	if !strings.Contains(email.lastMsg.Body, "&lt;script&gt;") {
		t.Errorf("email body missing escaped value: %q", email.lastMsg.Body)
	}
	if email.lastMsg.Subject == "" {
		t.Error("subject should be rendered")
	}
	if email.lastMsg.Sender != "greetings@wishwell.example" {
		t.Errorf("from address = %q", email.lastMsg.Sender)
	}
	if rec.Channel != db.ChannelEmail {
		t.Errorf("record channel = %q", rec.Channel)
	}
}

func TestPipeline_ChannelDisabled(t *testing.T) {
	store := &recordingStore{}
	sms := &stubSender{channel: provider.ChannelSMS}
	pipeline := newTestPipeline(store, map[string]provider.Sender{provider.ChannelSMS: sms})

	cfg := allEnabled()
	cfg.EnableSMS = false

	rec, err := pipeline.Dispatch(context.Background(), Request{
		Contact:  testContact(),
		Template: smsTemplate(),
		Settings: cfg,
	})
	if !errors.Is(err, provider.ErrChannelDisabled) {
		t.Fatalf("Dispatch() error = %v, want ErrChannelDisabled", err)
	}

	if sms.calls != 0 {
		t.Error("disabled channel must not reach the provider")
	}
	if rec.Status != db.StatusFailed {
		t.Errorf("record status = %q, want failed", rec.Status)
	}
	if rec.SentAt != nil {
		t.Error("sent_at must stay nil on failure")
	}
	if len(store.notifications) != 1 || store.notifications[0].Type != db.NotificationError {
		t.Error("expected one error notification")
	}
}

func TestPipeline_MissingEmailRecipient(t *testing.T) {
	store := &recordingStore{}
	email := &stubSender{channel: provider.ChannelEmail}
	pipeline := newTestPipeline(store, map[string]provider.Sender{provider.ChannelEmail: email})

	contact := testContact()
	contact.Email = nil

	_, err := pipeline.Dispatch(context.Background(), Request{
		Contact:  contact,
		Template: emailTemplate(),
		Settings: allEnabled(),
	})
	if !errors.Is(err, provider.ErrRecipientMissing) {
		t.Fatalf("Dispatch() error = %v, want ErrRecipientMissing", err)
	}
	if email.calls != 0 {
		t.Error("provider must not be called without a recipient")
	}
}

func TestPipeline_InactiveTemplate(t *testing.T) {
	store := &recordingStore{}
	sms := &stubSender{channel: provider.ChannelSMS}
	pipeline := newTestPipeline(store, map[string]provider.Sender{provider.ChannelSMS: sms})

	tpl := smsTemplate()
	tpl.IsActive = false

	_, err := pipeline.Dispatch(context.Background(), Request{
		Contact:  testContact(),
		Template: tpl,
		Settings: allEnabled(),
	})
	if !errors.Is(err, ErrTemplateInactive) {
		t.Fatalf("Dispatch() error = %v, want ErrTemplateInactive", err)
	}
	if sms.calls != 0 {
		t.Error("inactive template must not reach the provider")
	}
}

func TestPipeline_ProviderRejection(t *testing.T) {
	store := &recordingStore{}
	sms := &stubSender{
		channel: provider.ChannelSMS,
		result:  provider.Result{Raw: []byte(`{"code":"Throttled"}`)},
		err:     provider.ErrProviderRejected,
	}
	pipeline := newTestPipeline(store, map[string]provider.Sender{provider.ChannelSMS: sms})

	rec, err := pipeline.Dispatch(context.Background(), Request{
		Contact:  testContact(),
		Template: smsTemplate(),
		Settings: allEnabled(),
	})
	if !errors.Is(err, provider.ErrProviderRejected) {
		t.Fatalf("Dispatch() error = %v, want ErrProviderRejected", err)
	}

	if rec.Status != db.StatusFailed {
		t.Errorf("record status = %q, want failed", rec.Status)
	}
	if string(rec.ProviderResponse) != `{"code":"Throttled"}` {
		t.Errorf("provider response not retained: %s", rec.ProviderResponse)
	}
	if rec.ProviderMessageID != nil {
		t.Error("rejected sends must not carry a provider message id")
	}
}

func TestPipeline_NoSenderConfigured(t *testing.T) {
	store := &recordingStore{}
	pipeline := newTestPipeline(store, map[string]provider.Sender{})

	_, err := pipeline.Dispatch(context.Background(), Request{
		Contact:  testContact(),
		Template: smsTemplate(),
		Settings: allEnabled(),
	})
	if !errors.Is(err, provider.ErrProviderNotConfigured) {
		t.Fatalf("Dispatch() error = %v, want ErrProviderNotConfigured", err)
	}
}

func TestPipeline_PersistenceFailureKeepsVerdict(t *testing.T) {
	store := &recordingStore{
		recordErr: errors.New("db down"),
		notifErr:  errors.New("db down"),
	}
	sms := &stubSender{
		channel: provider.ChannelSMS,
		result:  provider.Result{MessageID: "msg-9"},
	}
	pipeline := newTestPipeline(store, map[string]provider.Sender{provider.ChannelSMS: sms})

	rec, err := pipeline.Dispatch(context.Background(), Request{
		Contact:  testContact(),
		Template: smsTemplate(),
		Settings: allEnabled(),
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v, persistence failures must not flip the verdict", err)
	}
	if rec.Status != db.StatusSent {
		t.Errorf("record status = %q, want sent", rec.Status)
	}
}

func TestPipeline_UnattributedNotification(t *testing.T) {
	store := &recordingStore{}
	sms := &stubSender{
		channel: provider.ChannelSMS,
		result:  provider.Result{MessageID: "msg-1"},
	}
	pipeline := newTestPipeline(store, map[string]provider.Sender{provider.ChannelSMS: sms})

	_, err := pipeline.Dispatch(context.Background(), Request{
		Contact:  testContact(),
		Template: smsTemplate(),
		Settings: allEnabled(),
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if len(store.notifications) != 1 {
		t.Fatalf("notifications = %d, want 1", len(store.notifications))
	}
	if store.notifications[0].UserID != nil {
		t.Error("notification without a notify user must be unattributed")
	}
}
