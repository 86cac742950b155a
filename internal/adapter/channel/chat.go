package channel

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/clduab11/pricehawk/internal/domain"
)

// slackSender is the slice of the Slack API the chat provider needs; the
// concrete *slack.Client satisfies it.
type slackSender interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Chat delivers alerts as Slack messages: to the subscriber's DM channel for
// targeted sends, or to the configured workspace channel for broadcasts.
type Chat struct {
	api            slackSender
	defaultChannel string
}

// NewChat constructs the chat provider from a bot token.
func NewChat(token, defaultChannel string) *Chat {
	return &Chat{api: slack.New(token), defaultChannel: defaultChannel}
}

func (c *Chat) Channel() domain.Channel { return domain.ChannelChat }

func (c *Chat) Send(ctx context.Context, glitch domain.ValidatedGlitch, target *domain.Subscriber) domain.SendResult {
	channelID := c.defaultChannel
	if target != nil {
		if target.ChatID == "" {
			return failure(c.Channel(), fmt.Errorf("subscriber has no chat id"))
		}
		channelID = target.ChatID
	}
	if channelID == "" {
		return failure(c.Channel(), fmt.Errorf("no chat channel configured"))
	}

	_, ts, err := c.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(Subject(glitch)+"\n"+Text(glitch), false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		return failure(c.Channel(), fmt.Errorf("op=channel.chat: %w", err))
	}
	return success(c.Channel(), ts)
}
