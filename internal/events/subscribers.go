package events

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	voyager "github.com/fennimore/voyager"
)

// LogSubscriber drains a topic's events into the exploration's structured
// logger, one Event call per message.
type LogSubscriber struct {
	log *voyager.Logger
}

// NewLogSubscriber returns a subscriber that, once Run is called with a
// channel, forwards every Event it receives to log.
func NewLogSubscriber(log *voyager.Logger) *LogSubscriber {
	return &LogSubscriber{log: log}
}

// Run drains ch until it is closed or ctx is done.
func (s *LogSubscriber) Run(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.log.Event("%s exploration=%s worktree=%d", ev.Topic, ev.ExplorationID, ev.WorktreeIndex)
		case <-ctx.Done():
			return
		}
	}
}

// SlackSubscriber posts a message to a fixed channel for every event it
// receives, for teams that want exploration lifecycle notifications
// alongside their existing Slack-based tooling.
type SlackSubscriber struct {
	client  *slack.Client
	channel string
}

// NewSlackSubscriber builds a subscriber posting to channel using token.
func NewSlackSubscriber(token, channel string) *SlackSubscriber {
	return &SlackSubscriber{client: slack.New(token), channel: channel}
}

// Run drains ch until it is closed or ctx is done, posting one message per
// event. Posting failures are swallowed: a flaky webhook must never take
// down an exploration.
func (s *SlackSubscriber) Run(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			text := fmt.Sprintf(":satellite: %s — exploration %s (worktree %d)", ev.Topic, ev.ExplorationID, ev.WorktreeIndex)
			_, _, _ = s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
		case <-ctx.Done():
			return
		}
	}
}
