package middleware

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"

	"llm-relay/internal/adapter/telegram"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeSender) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, p.Text)
	return &models.Message{}, nil
}

func msgFrom(uid int64) *models.Update {
	return &models.Update{Message: &models.Message{Chat: models.Chat{ID: uid}, From: &models.User{ID: uid}, Text: "/ping"}}
}

func TestACL(t *testing.T) {
	a := NewACL([]int64{10, 20})
	assert.True(t, a.IsAllowed(10))
	assert.False(t, a.IsAllowed(11))

	calls := 0
	s := &fakeSender{}
	h := a.Middleware(func(context.Context, telegram.Sender, *models.Update) { calls++ })

	h(context.Background(), s, msgFrom(10))
	h(context.Background(), s, msgFrom(11))
	h(context.Background(), s, &models.Update{})

	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"доступ запрещен"}, s.texts)
}

func TestRateLimiter(t *testing.T) {
	r := NewRateLimiter(time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	assert.True(t, r.Allow(1))
	assert.False(t, r.Allow(1))
	assert.True(t, r.Allow(2))

	now = now.Add(time.Second)
	assert.True(t, r.Allow(1))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next telegram.HandlerFunc) telegram.HandlerFunc {
			return func(ctx context.Context, s telegram.Sender, upd *models.Update) {
				order = append(order, name)
				next(ctx, s, upd)
			}
		}
	}
	h := Chain(func(context.Context, telegram.Sender, *models.Update) { order = append(order, "handler") }, mw("a"), mw("b"))
	h(context.Background(), nil, msgFrom(1))
	assert.Equal(t, []string{"a", "b", "handler"}, order)
}
