// Package notify delivers high-risk churn alerts to Telegram.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/okian/churngym/internal/domain/model"
	"github.com/okian/churngym/pkg/logger"
	"github.com/okian/churngym/pkg/metrics"
)

const (
	defaultLimit      = 10
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	parseMode         = "MarkdownV2"
)

// Sender sends one Telegram message. *tgbotapi.BotAPI implements it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts the riskiest members of a batch to a chat.
type TelegramNotifier struct {
	sender     Sender
	chatID     int64
	limit      int
	maxRetries int
	retryDelay time.Duration
	log        logger.Logger
}

// Option applies a configuration option to the TelegramNotifier.
type Option func(*TelegramNotifier)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(n *TelegramNotifier) {
		if l != nil {
			n.log = l
		}
	}
}

// WithLimit caps how many members one alert lists.
func WithLimit(limit int) Option {
	return func(n *TelegramNotifier) {
		if limit > 0 {
			n.limit = limit
		}
	}
}

// WithRetry sets the attempt count and the base delay, which grows linearly.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(n *TelegramNotifier) {
		if maxRetries > 0 {
			n.maxRetries = maxRetries
		}
		if delay >= 0 {
			n.retryDelay = delay
		}
	}
}

// NewTelegramNotifier connects to the Bot API with token.
func NewTelegramNotifier(token, chatID string, opts ...Option) (*TelegramNotifier, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: bot token is empty", ErrNotifierConfig)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid chat id: %w", ErrNotifierConfig, err)
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("%w: create bot: %w", ErrNotifierConfig, err)
	}
	return NewNotifier(bot, id, opts...), nil
}

// NewNotifier creates a notifier on top of sender.
func NewNotifier(sender Sender, chatID int64, opts ...Option) *TelegramNotifier {
	n := &TelegramNotifier{
		sender:     sender,
		chatID:     chatID,
		limit:      defaultLimit,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NotifyHighRisk sends one message listing the high-risk predictions, riskiest
// first. Nothing is sent when the batch has none.
func (n *TelegramNotifier) NotifyHighRisk(ctx context.Context, predictions []model.Prediction) error {
	var high []model.Prediction
	for _, p := range predictions {
		if p.RiskLevel.Equal(model.RiskHigh) {
			high = append(high, p)
		}
	}
	if len(high) == 0 {
		return nil
	}
	sort.SliceStable(high, func(i, j int) bool {
		if high[i].ChurnProbability != high[j].ChurnProbability {
			return high[i].ChurnProbability > high[j].ChurnProbability
		}
		return high[i].MemberID < high[j].MemberID
	})

	msg := tgbotapi.NewMessage(n.chatID, formatMessage(high, n.limit))
	msg.ParseMode = parseMode

	var lastErr error
	for i := 0; i < n.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ErrSend, ctx.Err())
			case <-time.After(n.retryDelay * time.Duration(i)):
			}
		}
		if _, err := n.sender.Send(msg); err != nil {
			lastErr = err
			n.log.Warn(ctx, "telegram send failed", logger.Int("attempt", i+1), logger.Error(err))
			continue
		}
		metrics.RecordAlertSent()
		n.log.Info(ctx, "high risk alert sent", logger.Int("members", len(high)))
		return nil
	}
	metrics.RecordErrorByComponent("notify", "send")
	return fmt.Errorf("%w: after %d attempts: %w", ErrSend, n.maxRetries, lastErr)
}

func formatMessage(high []model.Prediction, limit int) string {
	var b strings.Builder
	b.WriteString("🚨 *High churn risk*\n\n")
	b.WriteString(escapeMarkdownV2(fmt.Sprintf("%d members above the high-risk boundary", len(high))))
	b.WriteString("\n\n")

	shown := min(limit, len(high))
	for i, p := range high[:shown] {
		fmt.Fprintf(&b, "%d\\. `%s` *%s*\n",
			i+1,
			escapeCode(p.MemberID),
			escapeMarkdownV2(fmt.Sprintf("%.1f%%", p.ChurnProbability*100)))
	}
	if rest := len(high) - shown; rest > 0 {
		b.WriteString(escapeMarkdownV2(fmt.Sprintf("... and %d more", rest)))
		b.WriteString("\n")
	}
	if at := high[0].PredictedAt; !at.IsZero() {
		b.WriteString("\n📅 ")
		b.WriteString(escapeMarkdownV2(at.UTC().Format("2006-01-02 15:04:05")))
	}
	return b.String()
}

// escapeMarkdownV2 escapes the characters Telegram reserves in MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch r {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapeCode escapes text placed inside an inline code span.
func escapeCode(text string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(text)
}
