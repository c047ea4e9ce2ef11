package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/ledgerline/contractflow/internal/workflow"
	"go.uber.org/zap"
)

// DiscordNotifier posts review requests to a Discord channel.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

// NewDiscordNotifier creates a notifier over the Discord REST API. The
// gateway websocket is not opened; sending messages only needs REST.
func NewDiscordNotifier(botToken, channelID string, logger *zap.Logger) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordNotifier{
		session:   session,
		channelID: channelID,
		logger:    logger,
	}, nil
}

// InputRequired posts the pending-review summary to the configured channel.
func (n *DiscordNotifier) InputRequired(ctx context.Context, snap workflow.Snapshot, requirements map[string]any) error {
	_, err := n.session.ChannelMessageSend(n.channelID, formatInputRequired(snap, requirements),
		discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	n.logger.Debug("posted review request to discord",
		zap.String("workflow", snap.WorkflowID),
		zap.String("channel", n.channelID))
	return nil
}
