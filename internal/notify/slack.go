// Package notify posts overlap alerts to Slack. Notification is optional:
// when no bot token is configured the detector runs without a notifier.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/overlaphq/overlap/internal/models"
)

// SlackAPI is the subset of the Slack client the notifier uses.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts one message per newly detected overlap.
type SlackNotifier struct {
	api     SlackAPI
	channel string
	logger  zerolog.Logger
}

// NewSlackNotifier creates a notifier posting to the given channel.
func NewSlackNotifier(token, channel string, logger zerolog.Logger) *SlackNotifier {
	return &SlackNotifier{
		api:     slack.New(token),
		channel: channel,
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// NotifyOverlap posts an alert for a newly detected overlap.
func (n *SlackNotifier) NotifyOverlap(ctx context.Context, o *models.Overlap) error {
	_, _, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionBlocks(overlapBlocks(o)...),
		slack.MsgOptionText(o.Description, false),
	)
	if err != nil {
		return fmt.Errorf("posting overlap alert: %w", err)
	}

	n.logger.Debug().Str("overlap_id", o.ID).Str("channel", n.channel).Msg("overlap alert posted")
	return nil
}

func overlapBlocks(o *models.Overlap) []slack.Block {
	header := fmt.Sprintf("%s Overlap in %s", severityEmoji(o.Severity), o.RepoName)

	detail := fmt.Sprintf("*%s* and *%s* %s", o.MemberA, o.MemberB, overlapVerb(o))

	return []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject("plain_text", header, false, false),
		),
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", detail, false, false),
			nil, nil,
		),
		slack.NewContextBlock("",
			slack.NewTextBlockObject("mrkdwn",
				fmt.Sprintf("severity: %s · type: %s", o.Severity, o.Type), false, false),
		),
	}
}

func overlapVerb(o *models.Overlap) string {
	switch o.Type {
	case models.OverlapFile:
		return fmt.Sprintf("are both editing `%s`", o.FilePath)
	case models.OverlapDirectory:
		return fmt.Sprintf("are both working in `%s/`", o.DirectoryPath)
	default:
		return "are working on the same area"
	}
}

func severityEmoji(s models.OverlapSeverity) string {
	switch s {
	case models.SeverityHigh:
		return "🔴"
	case models.SeverityMedium:
		return "🟡"
	default:
		return "🟢"
	}
}
