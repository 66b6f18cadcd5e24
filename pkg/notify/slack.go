package notify

import (
	"context"
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/chatbi-ai/chatbi/pkg/errs"
)

// slackPoster is the slice of the slack-go client the notifier uses.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...goslack.MsgOption) (string, string, error)
}

// Slack posts alerts to one channel.
type Slack struct {
	api       slackPoster
	channelID string
}

// NewSlack creates the notifier from a bot token and channel id.
func NewSlack(token, channelID string) *Slack {
	return &Slack{api: goslack.New(token), channelID: channelID}
}

// NewSlackWithClient injects a client, for tests.
func NewSlackWithClient(api slackPoster, channelID string) *Slack {
	return &Slack{api: api, channelID: channelID}
}

func (s *Slack) Channel() string { return "slack" }

// Send posts subject and body as a two-block message.
func (s *Slack) Send(ctx context.Context, subject, body string) error {
	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*%s*", subject), false, false),
			nil, nil,
		),
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, body, false, false),
			nil, nil,
		),
	}
	_, _, err := s.api.PostMessageContext(ctx, s.channelID, goslack.MsgOptionBlocks(blocks...))
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "chat.postMessage failed")
	}
	return nil
}
