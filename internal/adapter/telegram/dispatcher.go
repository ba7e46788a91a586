// Package telegram delivers relay alerts to Telegram and serves a few
// operator commands.
package telegram

import (
	"context"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Sender is the part of *bot.Bot the relay uses.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

var _ Sender = (*bot.Bot)(nil)

// Update aliases models.Update for brevity.
type Update = models.Update

type ctxUpdate struct {
	ctx context.Context
	upd *models.Update
}

// HandlerFunc processes a single update.
type HandlerFunc func(ctx context.Context, s Sender, upd *models.Update)

// Dispatcher routes updates to worker goroutines keeping chat order.
type Dispatcher struct {
	sender  Sender
	handler HandlerFunc
	workers int
	chans   []chan ctxUpdate
	wg      sync.WaitGroup
}

// NewDispatcher creates dispatcher with given worker count.
func NewDispatcher(s Sender, workers int, h HandlerFunc) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{sender: s, handler: h, workers: workers, chans: make([]chan ctxUpdate, workers)}
	for i := 0; i < workers; i++ {
		d.chans[i] = make(chan ctxUpdate, 100)
		d.wg.Add(1)
		go d.worker(d.chans[i])
	}
	return d
}

// Dispatch sends update to appropriate worker based on chat ID.
func (d *Dispatcher) Dispatch(ctx context.Context, upd *models.Update) {
	chatID := extractChatID(upd)
	idx := 0
	if chatID != 0 {
		idx = int(abs(chatID) % int64(d.workers))
	}
	d.chans[idx] <- ctxUpdate{ctx: ctx, upd: upd}
}

// Close stops accepting updates and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	for _, ch := range d.chans {
		close(ch)
	}
	d.wg.Wait()
}

func (d *Dispatcher) worker(in <-chan ctxUpdate) {
	defer d.wg.Done()
	for item := range in {
		d.handler(item.ctx, d.sender, item.upd)
	}
}

func extractChatID(u *models.Update) int64 {
	if u.Message != nil {
		return u.Message.Chat.ID
	}
	if u.CallbackQuery != nil && u.CallbackQuery.Message.Message != nil {
		return u.CallbackQuery.Message.Message.Chat.ID
	}
	return 0
}

func abs(i int64) int64 {
	if i < 0 {
		return -i
	}
	return i
}
