package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"golang.org/x/time/rate"

	"llm-relay/internal/journal"
)

const (
	alertEvery   = 30 * time.Second
	alertBurst   = 3
	alertTimeout = 10 * time.Second
)

// Notifier sends exhaustion alerts to one chat. Bursts beyond the limiter are
// dropped, not queued.
type Notifier struct {
	sender  Sender
	chatID  int64
	limiter *rate.Limiter
	log     *slog.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewNotifier creates a notifier allowing one alert per 30s with a burst of 3.
func NewNotifier(s Sender, chatID int64, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		sender:  s,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Every(alertEvery), alertBurst),
		log:     log,
		now:     time.Now,
	}
}

// NotifyExhausted sends the alert in the background.
func (n *Notifier) NotifyExhausted(ctx context.Context, o journal.Outcome) {
	if !n.limiter.AllowN(n.now(), 1) {
		n.log.DebugContext(ctx, "alert suppressed", slog.String("request_id", o.RequestID))
		return
	}
	text := fmt.Sprintf("Лимит запросов %s не снят после %d попыток\nзапрос: %s\nвремя: %s",
		o.Upstream, o.Attempts, o.RequestID, o.CreatedAt.UTC().Format(time.RFC3339))

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
		defer cancel()
		if _, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{ChatID: n.chatID, Text: text}); err != nil {
			n.log.WarnContext(ctx, "send alert", slog.Any("error", err))
		}
	}()
}

// Wait blocks until alerts in flight are sent.
func (n *Notifier) Wait() { n.wg.Wait() }
