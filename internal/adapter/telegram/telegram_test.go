package telegram

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-relay/internal/journal"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*bot.SendMessageParams
}

func (f *fakeSender) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	return &models.Message{}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestNotifierThrottles(t *testing.T) {
	s := &fakeSender{}
	n := NewNotifier(s, 42, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }

	o := journal.Outcome{RequestID: "r1", Upstream: "anthropic", Result: journal.Exhausted, Attempts: 4, CreatedAt: now}
	for range 5 {
		n.NotifyExhausted(context.Background(), o)
	}
	n.Wait()
	assert.Equal(t, 3, s.count())

	now = now.Add(alertEvery)
	n.NotifyExhausted(context.Background(), o)
	n.NotifyExhausted(context.Background(), o)
	n.Wait()
	assert.Equal(t, 4, s.count())

	require.NotEmpty(t, s.sent)
	assert.Equal(t, int64(42), s.sent[0].ChatID)
	assert.Contains(t, s.sent[0].Text, "anthropic")
	assert.Contains(t, s.sent[0].Text, "r1")
	assert.Contains(t, s.sent[0].Text, "4")
}

func TestDispatcherKeepsChatOrder(t *testing.T) {
	var mu sync.Mutex
	got := map[int64][]int{}
	d := NewDispatcher(&fakeSender{}, 3, func(_ context.Context, _ Sender, upd *models.Update) {
		mu.Lock()
		defer mu.Unlock()
		got[upd.Message.Chat.ID] = append(got[upd.Message.Chat.ID], upd.Message.ID)
	})

	for i := range 20 {
		for _, chat := range []int64{1, 2, -5} {
			d.Dispatch(context.Background(), &models.Update{Message: &models.Message{ID: i, Chat: models.Chat{ID: chat}}})
		}
	}
	d.Close()

	for _, chat := range []int64{1, 2, -5} {
		require.Len(t, got[chat], 20)
		for i, id := range got[chat] {
			assert.Equal(t, i, id)
		}
	}
}
