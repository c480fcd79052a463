package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"

	"github.com/pegmark/pegmark/internal/engine"
)

// TelegramNotifier pushes a pricing-run summary to a Telegram chat. With an
// empty token the notifier stays disabled and every call is a no-op, so the
// CLI can construct it unconditionally.
type TelegramNotifier struct {
	bot    *bot.Bot
	chatID string
	logger *logrus.Logger
}

// NewTelegramNotifier creates a notifier. An empty token or chat id yields a
// disabled notifier rather than an error.
func NewTelegramNotifier(token, chatID string, logger *logrus.Logger) (*TelegramNotifier, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	notifier := &TelegramNotifier{chatID: chatID, logger: logger}
	if token == "" || chatID == "" {
		return notifier, nil
	}

	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	notifier.bot = b
	return notifier, nil
}

// Enabled reports whether the notifier will actually send messages.
func (n *TelegramNotifier) Enabled() bool {
	return n.bot != nil
}

// NotifyRun sends a formatted summary of a pricing run. Failures are returned
// so the caller can log them; they must never abort the run itself.
func (n *TelegramNotifier) NotifyRun(ctx context.Context, run *engine.Run) error {
	if !n.Enabled() {
		return nil
	}

	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   FormatRunMessage(run),
	})
	if err != nil {
		return fmt.Errorf("failed to send Telegram notification: %w", err)
	}

	n.logger.WithFields(logrus.Fields{
		"run_id":   run.ID.String(),
		"products": len(run.Results),
	}).Info("Sent pricing run notification")
	return nil
}

// FormatRunMessage renders a pricing run as a plain-text Telegram message.
func FormatRunMessage(run *engine.Run) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Dynamic pricing run (%s strategy)\n", run.Condition)
	fmt.Fprintf(&sb, "Run %s at %s\n\n", run.ID, run.StartedAt.Format("2006-01-02 15:04 MST"))
	for _, result := range run.Results {
		fmt.Fprintf(&sb, "%s: $%s (markup %.2f%%)\n",
			result.Product.Name,
			result.RecommendedPrice.StringFixed(2),
			result.Markup*100,
		)
	}
	return sb.String()
}
