package adapter

import (
	"context"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/harunnryd/hibiki/internal/errors"
)

// SlackAdapter posts notifications to a fixed channel. It is outgoing only;
// Slack's inbound events API is not wired up.
type SlackAdapter struct {
	channel string
	client  *slack.Client
}

func NewSlackAdapter(botToken, channel string) *SlackAdapter {
	return &SlackAdapter{
		channel: channel,
		client:  slack.New(botToken),
	}
}

func (s *SlackAdapter) Name() string {
	return "slack"
}

// Send posts content to the given channel, or the configured default when
// destination is empty.
func (s *SlackAdapter) Send(ctx context.Context, destination string, content string) error {
	if destination == "" {
		destination = s.channel
	}

	_, _, err := s.client.PostMessageContext(ctx, destination, slack.MsgOptionText(content, false))
	if err != nil {
		return errors.Wrap(err, "failed to send Slack message")
	}
	slog.Debug("Slack message sent", "channel", destination)
	return nil
}

func (s *SlackAdapter) Health(ctx context.Context) error {
	if s.client == nil {
		return errors.Transient("Slack client not initialized")
	}

	if _, err := s.client.AuthTestContext(ctx); err != nil {
		return errors.Transient("Slack connection failed")
	}

	return nil
}
