package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-gateway/internal/inbox"
	"support-gateway/internal/logging"
	"support-gateway/internal/menu"
	"support-gateway/internal/telegram"
)

type sentMessage struct {
	chatID int64
	text   string
	opts   telegram.SendOptions
}

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (f *fakeSender) SendMessage(_ context.Context, chatID int64, text string, opts telegram.SendOptions) telegram.Outcome {
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, opts: opts})
	return telegram.Outcome{Method: "sendMessage", ChatID: chatID, Err: f.err}
}

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (f *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return f.err
}

type fixedPrefs map[int64]string

func (p fixedPrefs) GetLanguage(_ context.Context, userID int64) (string, bool, error) {
	l, ok := p[userID]
	return l, ok, nil
}

func (p fixedPrefs) SetLanguage(_ context.Context, userID int64, language string) error {
	p[userID] = language
	return nil
}

func newDispatcher(t *testing.T, prefs fixedPrefs, s *fakeSender, m Mailer) *Dispatcher {
	t.Helper()
	cat, err := menu.LoadCatalog(menu.LangUK)
	require.NoError(t, err)
	return New(cat, prefs, s, m, 0, logging.Discard(), nil)
}

func TestTelegramReplyUsesStoredLanguage(t *testing.T) {
	s := &fakeSender{}
	mailer := &fakeMailer{}
	d := newDispatcher(t, fixedPrefs{7: "en"}, s, mailer)

	out := d.Send(context.Background(), inbox.Message{
		ID:          "m1",
		ChatUserID:  7,
		ChatID:      70,
		Handle:      "olena",
		SenderEmail: inbox.PlaceholderEmail(7),
		Body:        "Need <brakes>",
	}, "Thanks, we'll follow up", "")

	assert.True(t, out.OK)
	assert.Equal(t, "telegram", out.Channel)
	assert.Equal(t, "@olena", out.Recipient)
	require.Len(t, s.sent, 1)
	assert.Equal(t, int64(70), s.sent[0].chatID)
	assert.Equal(t, telegram.ParseModeHTML, s.sent[0].opts.ParseMode)
	assert.Contains(t, s.sent[0].text, "Reply to your message")
	assert.Contains(t, s.sent[0].text, "Need &lt;brakes&gt;")
	assert.Contains(t, s.sent[0].text, "Thanks, we&#39;ll follow up")
	assert.Empty(t, mailer.sent)
}

func TestTelegramFailureIsNotRetriedByEmail(t *testing.T) {
	s := &fakeSender{err: errors.New("bot was blocked by the user")}
	mailer := &fakeMailer{}
	d := newDispatcher(t, fixedPrefs{}, s, mailer)

	out := d.Send(context.Background(), inbox.Message{ID: "m1", ChatUserID: 7, SenderEmail: "real@example.com", Body: "hi"}, "answer", "")

	assert.False(t, out.OK)
	assert.Equal(t, "telegram", out.Channel)
	assert.Contains(t, out.Error, "blocked")
	assert.Len(t, s.sent, 1)
	assert.Empty(t, mailer.sent)
}

func TestEmailReply(t *testing.T) {
	mailer := &fakeMailer{}
	d := newDispatcher(t, nil, &fakeSender{}, mailer)

	out := d.Send(context.Background(), inbox.Message{
		ID:          "m2",
		SenderName:  "Ivan",
		SenderEmail: "ivan@example.com",
		Body:        "Do you ship to Lviv?",
		Metadata:    map[string]string{"language": "en"},
	}, "Yes, we do.", "")

	assert.True(t, out.OK)
	assert.Equal(t, "email", out.Channel)
	assert.Equal(t, "ivan@example.com", out.Recipient)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "Reply to your request", mailer.sent[0].subject)
	assert.Contains(t, mailer.sent[0].body, "Hello, Ivan!")
	assert.Contains(t, mailer.sent[0].body, "Yes, we do.")
	assert.Contains(t, mailer.sent[0].body, "Do you ship to Lviv?")
}

func TestEmailOverrideAndPlaceholder(t *testing.T) {
	mailer := &fakeMailer{}
	d := newDispatcher(t, nil, &fakeSender{}, mailer)

	out := d.Send(context.Background(), inbox.Message{ID: "m3", SenderEmail: "old@example.com"}, "hi", "new@example.com")
	assert.True(t, out.OK)
	assert.Equal(t, "new@example.com", out.Recipient)

	out = d.Send(context.Background(), inbox.Message{ID: "m4", SenderName: "x", SenderEmail: inbox.PlaceholderEmail(1)}, "hi", "")
	assert.False(t, out.OK)
	assert.Equal(t, ErrNoRecipient.Error(), out.Error)
	assert.Len(t, mailer.sent, 1)
}

func TestEmailErrorReported(t *testing.T) {
	d := newDispatcher(t, nil, &fakeSender{}, &fakeMailer{err: errors.New("relay refused")})
	out := d.Send(context.Background(), inbox.Message{ID: "m5", SenderEmail: "a@example.com"}, "hi", "")
	assert.False(t, out.OK)
	assert.Equal(t, "relay refused", out.Error)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", Excerpt("  short ", 100))
	long := strings.Repeat("й", 150)
	got := Excerpt(long, 100)
	assert.Equal(t, 101, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}
