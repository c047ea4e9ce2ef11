package notify

import (
	"context"
	"fmt"

	"github.com/ledgerline/contractflow/internal/workflow"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackNotifier posts review requests to a Slack channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlackNotifier creates a notifier posting to the given channel id.
func NewSlackNotifier(botToken, channel string, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

// InputRequired posts the pending-review summary to the configured channel.
func (n *SlackNotifier) InputRequired(ctx context.Context, snap workflow.Snapshot, requirements map[string]any) error {
	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(formatInputRequired(snap, requirements), false),
	)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	n.logger.Debug("posted review request to slack",
		zap.String("workflow", snap.WorkflowID),
		zap.String("channel", n.channel))
	return nil
}
