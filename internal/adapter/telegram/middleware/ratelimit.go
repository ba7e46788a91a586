package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"llm-relay/internal/adapter/telegram"
)

// RateLimiter restricts request frequency per user.
type RateLimiter struct {
	mu    sync.Mutex
	users map[int64]*rate.Limiter
	every time.Duration
	now   func() time.Time
}

// NewRateLimiter allows one command per user every interval.
func NewRateLimiter(every time.Duration) *RateLimiter {
	return &RateLimiter{users: make(map[int64]*rate.Limiter), every: every, now: time.Now}
}

// Allow returns false if user hits the limit.
func (r *RateLimiter) Allow(userID int64) bool {
	r.mu.Lock()
	l, ok := r.users[userID]
	if !ok {
		l = rate.NewLimiter(rate.Every(r.every), 1)
		r.users[userID] = l
	}
	r.mu.Unlock()
	return l.AllowN(r.now(), 1)
}

// Middleware checks rate limit before calling next handler.
func (r *RateLimiter) Middleware(next telegram.HandlerFunc) telegram.HandlerFunc {
	return func(ctx context.Context, s telegram.Sender, upd *models.Update) {
		uid, chat := sender(upd)
		if uid != 0 && !r.Allow(uid) {
			if chat != 0 {
				_, _ = s.SendMessage(ctx, &bot.SendMessageParams{
					ChatID: chat,
					Text:   "слишком часто",
				})
			}
			return
		}
		next(ctx, s, upd)
	}
}
