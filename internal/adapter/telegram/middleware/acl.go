// Package middleware содержит телеграм‑middleware: ACL по списку разрешённых пользователей и ограничение частоты
package middleware

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"llm-relay/internal/adapter/telegram"
)

// ACL проверяет доступ по списку разрешённых Telegram user IDs
type ACL struct{ allowed map[int64]struct{} }

// NewACL создаёт ACL по списку ID. Пустой список запрещает всех.
func NewACL(ids []int64) *ACL {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return &ACL{allowed: m}
}

// IsAllowed сообщает, имеет ли пользователь доступ
func (a *ACL) IsAllowed(id int64) bool { _, ok := a.allowed[id]; return ok }

// Middleware блокирует выполнение хендлера для неразрешённых пользователей
func (a *ACL) Middleware(next telegram.HandlerFunc) telegram.HandlerFunc {
	return func(ctx context.Context, s telegram.Sender, upd *models.Update) {
		uid, chat := sender(upd)
		if uid != 0 && a.IsAllowed(uid) {
			next(ctx, s, upd)
			return
		}
		if chat != 0 && s != nil {
			_, _ = s.SendMessage(ctx, &bot.SendMessageParams{ChatID: chat, Text: "доступ запрещен"})
		}
	}
}
