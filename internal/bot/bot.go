// Package bot receives chat commands over the Telegram long-poll,
// resolves target sessions, and forwards keystrokes to panes.
//
// Two workers cooperate through an unbounded in-memory queue: the
// poll worker only reads updates and enqueues, and the command worker
// owns every pane write. A slow pane can therefore never stall the
// long-poll, and commands for one conversation execute in arrival order.
package bot

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// longPollTimeout is the Telegram GetUpdates timeout in seconds.
const longPollTimeout = 30

// Bot runs the inbound side of the bridge.
type Bot struct {
	api    *tgbotapi.BotAPI
	router *Router
	queue  *queue
	log    zerolog.Logger
}

// New creates a bot on an authorized API client. The router's /status
// output gains a queue-depth gauge.
func New(api *tgbotapi.BotAPI, router *Router, log zerolog.Logger) *Bot {
	b := &Bot{
		api:    api,
		router: router,
		queue:  newQueue(),
		log:    log.With().Str("component", "bot").Logger(),
	}
	router.QueueDepth = b.queue.depth
	return b
}

// Run polls for updates and dispatches commands until the context is
// cancelled. In-flight work is drained within a short grace window.
func (b *Bot) Run(ctx context.Context) error {
	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = longPollTimeout
	updates := b.api.GetUpdatesChan(updateCfg)

	workerDone := make(chan struct{})
	go b.commandWorker(ctx, workerDone)

	b.log.Info().Str("bot", b.api.Self.UserName).Msg("long-poll started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.queue.close()
			// Grace window for the command worker to finish the
			// in-flight command.
			select {
			case <-workerDone:
			case <-time.After(5 * time.Second):
				b.log.Warn().Msg("command worker did not drain in time")
			}
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				b.queue.close()
				<-workerDone
				return nil
			}
			if cmd, ok := b.commandFromUpdate(update); ok {
				b.queue.push(cmd)
			}
		}
	}
}

// commandFromUpdate extracts a Command from a Telegram update.
// Non-message updates and empty texts are ignored.
func (b *Bot) commandFromUpdate(update tgbotapi.Update) (Command, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Text == "" {
		return Command{}, false
	}

	cmd := Command{
		Sender: msg.From.ID,
		ChatID: msg.Chat.ID,
		Text:   msg.Text,
	}
	// Only replies to our own messages carry a session token.
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil &&
		msg.ReplyToMessage.From.ID == b.api.Self.ID {
		cmd.ReplyText = msg.ReplyToMessage.Text
	}
	return cmd, true
}

// commandWorker consumes the queue in FIFO order. One worker: pane
// writes for a conversation stay serialized.
func (b *Bot) commandWorker(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		cmd, ok := b.queue.pop()
		if ok {
			b.router.Handle(ctx, cmd)
			continue
		}
		select {
		case <-ctx.Done():
			// Drain what is already queued, then exit.
			for {
				cmd, ok := b.queue.pop()
				if !ok {
					return
				}
				b.router.Handle(context.Background(), cmd)
			}
		case <-b.queue.wait():
		}
	}
}
