package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// Slack posts messages to a Slack incoming webhook.
type Slack struct {
	webhookURL string
}

// NewSlack returns a Slack notifier for the given webhook URL.
func NewSlack(webhookURL string) *Slack {
	return &Slack{webhookURL: webhookURL}
}

// MilestoneReached posts a Block Kit celebration message.
func (s *Slack) MilestoneReached(ctx context.Context, playerName string, points int, action string) error {
	plural := "s"
	if points == 1 {
		plural = ""
	}

	msg := &slack.WebhookMessage{
		Blocks: &slack.Blocks{BlockSet: []slack.Block{
			slack.NewHeaderBlock(
				slack.NewTextBlockObject(slack.PlainTextType, "🎯 Milestone Reached! 🎯", true, false),
			),
			slack.NewSectionBlock(
				slack.NewTextBlockObject(slack.MarkdownType,
					fmt.Sprintf("*%s* just reached *%d point%s*!", playerName, points, plural), false, false),
				nil, nil,
			),
			slack.NewDividerBlock(),
			slack.NewSectionBlock(nil, []*slack.TextBlockObject{
				slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Points:*\n%d", points), false, false),
				slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Consequence:*\n%s", action), false, false),
			}, nil),
			slack.NewSectionBlock(
				slack.NewTextBlockObject(slack.MarkdownType, "🍻 *Time to pay up!* 🍻", false, false),
				nil, nil,
			),
		}},
	}

	if err := slack.PostWebhookContext(ctx, s.webhookURL, msg); err != nil {
		return fmt.Errorf("posting milestone to slack: %w", err)
	}
	return nil
}

// Message posts a plain text message.
func (s *Slack) Message(ctx context.Context, text string) error {
	if err := slack.PostWebhookContext(ctx, s.webhookURL, &slack.WebhookMessage{Text: text}); err != nil {
		return fmt.Errorf("posting message to slack: %w", err)
	}
	return nil
}
