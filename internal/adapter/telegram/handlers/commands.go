// Package handlers implements the operator commands of the relay bot.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"llm-relay/internal/adapter/telegram"
	"llm-relay/internal/journal"
)

// StatsReader reads journal aggregates.
type StatsReader interface {
	Stats(ctx context.Context, since time.Time) (journal.Stats, error)
}

// Commands routes bot commands.
type Commands struct {
	Stats StatsReader
	Log   *slog.Logger
	Now   func() time.Time
}

// Handle routes updates to command handlers.
func (c *Commands) Handle(ctx context.Context, s telegram.Sender, upd *models.Update) {
	msg := upd.Message
	if msg == nil || !strings.HasPrefix(msg.Text, "/") {
		return
	}
	cmd := strings.TrimPrefix(strings.SplitN(msg.Text, " ", 2)[0], "/")
	// "/stats@relay_bot" in group chats
	cmd, _, _ = strings.Cut(cmd, "@")

	switch cmd {
	case "start":
		c.reply(ctx, s, msg, "relay на связи. Команды: /ping, /stats")
	case "ping":
		c.reply(ctx, s, msg, "pong")
	case "stats":
		c.reply(ctx, s, msg, c.stats(ctx))
	}
}

func (c *Commands) stats(ctx context.Context) string {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	st, err := c.Stats.Stats(ctx, now().Add(-24*time.Hour))
	if err != nil {
		c.logger().WarnContext(ctx, "stats", slog.Any("error", err))
		return "журнал недоступен"
	}
	return fmt.Sprintf("За 24 часа:\nожиданий перед повтором: %d (%s)\nвосстановлено: %d\nисчерпано: %d",
		st.Waits, st.TotalDelay.Round(time.Second), st.Recovered, st.Exhausted)
}

func (c *Commands) reply(ctx context.Context, s telegram.Sender, msg *models.Message, text string) {
	_, err := s.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: msg.Chat.ID,
		Text:   text,
	})
	if err != nil {
		c.logger().WarnContext(ctx, "send reply", slog.Any("error", err))
	}
}

func (c *Commands) logger() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}
