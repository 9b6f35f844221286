package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"support-gateway/internal/inbox"
	"support-gateway/internal/telegram"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type sentMessage struct {
	ChatID int64
	Text   string
	Opts   telegram.SendOptions
}

type fakeMessenger struct {
	log     *eventLog
	mu      sync.Mutex
	sent    []sentMessage
	answers []string
	fail    bool
}

func (f *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string, opts telegram.SendOptions) telegram.Outcome {
	f.log.add("send:%d", chatID)
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text, Opts: opts})
	f.mu.Unlock()
	if f.fail {
		return telegram.Outcome{Method: "sendMessage", ChatID: chatID, Err: errors.New("boom")}
	}
	return telegram.Outcome{Method: "sendMessage", ChatID: chatID, MessageID: 1}
}

func (f *fakeMessenger) AnswerCallback(_ context.Context, callbackID, _ string) telegram.Outcome {
	f.log.add("answer:%s", callbackID)
	f.mu.Lock()
	f.answers = append(f.answers, callbackID)
	f.mu.Unlock()
	if f.fail {
		return telegram.Outcome{Method: "answerCallbackQuery", Err: errors.New("boom")}
	}
	return telegram.Outcome{Method: "answerCallbackQuery"}
}

func (f *fakeMessenger) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type memStore struct {
	log       *eventLog
	mu        sync.Mutex
	msgs      []inbox.Message
	createErr error
}

func (s *memStore) CreateMessage(_ context.Context, n inbox.NewMessage) (*inbox.Message, error) {
	s.log.add("create")
	if s.createErr != nil {
		return nil, s.createErr
	}
	n, err := n.Normalize()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := inbox.Message{
		ID:          fmt.Sprintf("m%d", len(s.msgs)+1),
		Channel:     n.Channel,
		Kind:        n.Kind,
		SenderName:  n.SenderName,
		SenderEmail: n.SenderEmail,
		ChatUserID:  n.ChatUserID,
		ChatID:      n.ChatID,
		Handle:      n.Handle,
		Body:        n.Body,
		Category:    n.Category,
		Metadata:    n.Metadata,
		Status:      inbox.StatusNew,
		UpdateID:    n.UpdateID,
		CreatedAt:   time.Now().UTC(),
		Replies:     []inbox.Reply{},
	}
	s.msgs = append(s.msgs, msg)
	return &msg, nil
}

func (s *memStore) stored() []inbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inbox.Message(nil), s.msgs...)
}

func (s *memStore) GetMessage(context.Context, string) (*inbox.Message, error) {
	return nil, inbox.ErrNotFound
}

func (s *memStore) ListMessages(context.Context, inbox.Filter) ([]inbox.Message, error) {
	return s.stored(), nil
}

func (s *memStore) UpdateStatus(context.Context, string, inbox.Status) (*inbox.Message, error) {
	return nil, inbox.ErrNotFound
}

func (s *memStore) AppendReply(context.Context, string, string) (*inbox.Message, error) {
	return nil, inbox.ErrNotFound
}

func (s *memStore) DeleteMessage(context.Context, string) error { return inbox.ErrNotFound }

func (s *memStore) Stats(context.Context) (inbox.Stats, error) { return inbox.Stats{}, nil }

type memPrefs struct {
	log   *eventLog
	mu    sync.Mutex
	langs map[int64]string
}

func (p *memPrefs) GetLanguage(_ context.Context, userID int64) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.langs[userID]
	return l, ok, nil
}

func (p *memPrefs) SetLanguage(_ context.Context, userID int64, language string) error {
	p.log.add("set_language:%s", language)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.langs[userID] = language
	return nil
}

type memDedupe struct {
	log      *eventLog
	mu       sync.Mutex
	claimed  map[string]bool
	released []string
	// delay stalls Claim until it elapses or ctx is done.
	delay time.Duration
}

func (d *memDedupe) Claim(ctx context.Context, key string, _ time.Duration) (bool, error) {
	d.log.add("claim")
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.claimed[key] {
		return false, nil
	}
	d.claimed[key] = true
	return true, nil
}

func (d *memDedupe) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claimed, key)
	d.released = append(d.released, key)
	return nil
}

type recordingForwarder struct {
	log *eventLog
	mu  sync.Mutex
	got []inbox.Message
}

func (f *recordingForwarder) Forward(_ context.Context, msg inbox.Message) error {
	f.log.add("forward")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, msg)
	return nil
}

func (f *recordingForwarder) forwarded() []inbox.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]inbox.Message(nil), f.got...)
}
