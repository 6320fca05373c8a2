package app

import (
	"context"
	"strings"
	"sync/atomic"

	"pollbot/internal/transport"
)

// alertSender delivers log alerts as plain text to the configured operator conversation.
type alertSender struct {
	client transport.Client
	target atomic.Value // string
}

func newAlertSender(client transport.Client, targetID string) *alertSender {
	s := &alertSender{client: client}
	s.SetTarget(targetID)
	return s
}

func (s *alertSender) SetTarget(id string) { s.target.Store(strings.TrimSpace(id)) }

// SendAlert must not log: it runs inside the logging pipeline.
func (s *alertSender) SendAlert(ctx context.Context, text string) error {
	id, _ := s.target.Load().(string)
	if id == "" {
		return nil
	}
	conv, err := s.client.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.SendText(ctx, conv, text)
	return err
}
