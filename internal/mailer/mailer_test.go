package mailer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-gateway/internal/logging"
)

func TestSendWithoutHost(t *testing.T) {
	s := New(Config{}, logging.Discard())
	assert.False(t, s.Enabled())
	assert.ErrorIs(t, s.Send(context.Background(), "a@example.com", "hi", "body"), ErrNotConfigured)
}

func TestBuildRejectsBadAddresses(t *testing.T) {
	s := New(Config{Host: "smtp.example.com", From: "support@example.com"}, logging.Discard())

	_, err := s.build("not an address", "subject", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipient address")

	bad := New(Config{Host: "smtp.example.com", From: "nope"}, logging.Discard())
	_, err = bad.build("client@example.com", "subject", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sender address")
}

func TestBuildAddressesMessage(t *testing.T) {
	s := New(Config{Host: "smtp.example.com", From: "support@example.com", FromName: "Support"}, logging.Discard())

	msg, err := s.build("client@example.com", "Reply", "Thanks")
	require.NoError(t, err)
	assert.Equal(t, []string{"<client@example.com>"}, msg.GetToString())
	assert.Equal(t, 587, s.cfg.Port)
	assert.Len(t, s.clientOptions(), 3)
}
