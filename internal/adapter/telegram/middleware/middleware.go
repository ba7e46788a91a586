package middleware

import "llm-relay/internal/adapter/telegram"

// Middleware wraps telegram.HandlerFunc.
type Middleware func(telegram.HandlerFunc) telegram.HandlerFunc

// Chain applies middlewares in order.
func Chain(h telegram.HandlerFunc, mws ...Middleware) telegram.HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// sender returns the user and chat of an update.
func sender(upd *telegram.Update) (uid, chat int64) {
	if m := upd.Message; m != nil {
		chat = m.Chat.ID
		if m.From != nil {
			uid = m.From.ID
		}
	} else if cb := upd.CallbackQuery; cb != nil {
		uid = cb.From.ID
		if cb.Message.Message != nil {
			chat = cb.Message.Message.Chat.ID
		}
	}
	return uid, chat
}
