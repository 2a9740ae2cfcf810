package notify

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sender delivers a formatted message to a chat destination.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Backoff parameters for transport retries.
const (
	backoffBase    = 500 * time.Millisecond
	backoffMax     = 30 * time.Second
	backoffRetries = 5
)

// minRepeatGap suppresses identical (session, kind) sends that arrive
// closer together than this. Edge-triggered tracking already prevents
// duplicates in steady state; the gap covers restart races, where a
// small number of duplicates is tolerated but a burst is not.
const minRepeatGap = 10 * time.Second

// Dispatcher formats notifications and hands them to the Sender,
// deduplicating and retrying with jittered exponential backoff.
// Safe for concurrent use.
type Dispatcher struct {
	sender Sender
	log    zerolog.Logger

	mu       sync.Mutex
	lastSent map[dedupKey]time.Time
}

type dedupKey struct {
	session string
	kind    Kind
}

// NewDispatcher creates a dispatcher delivering through the given sender.
func NewDispatcher(sender Sender, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sender:   sender,
		log:      log.With().Str("component", "dispatcher").Logger(),
		lastSent: make(map[dedupKey]time.Time),
	}
}

// Dispatch formats and sends one notification. Delivery is at-least-once
// per legal edge; duplicate suppression is best-effort.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) error {
	key := dedupKey{session: n.SessionName, kind: n.Kind}

	d.mu.Lock()
	if last, ok := d.lastSent[key]; ok && time.Since(last) < minRepeatGap {
		d.mu.Unlock()
		d.log.Debug().Str("session", n.SessionName).Msg("suppressed duplicate notification")
		return nil
	}
	d.lastSent[key] = time.Now()
	d.mu.Unlock()

	msg := Format(n)
	if err := d.send(ctx, n.ChatID, msg); err != nil {
		return err
	}

	d.log.Info().
		Str("session", n.SessionName).
		Str("kind", kindName(n.Kind)).
		Msg("notification sent")
	return nil
}

// Send delivers a plain message (status replies, startup summaries)
// through the same retry path, without dedup.
func (d *Dispatcher) Send(ctx context.Context, chatID int64, text string) error {
	return d.send(ctx, chatID, Truncate(text))
}

// send retries transport failures with exponential backoff and jitter.
func (d *Dispatcher) send(ctx context.Context, chatID int64, text string) error {
	var err error
	delay := backoffBase
	for attempt := 0; attempt < backoffRetries; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(rand.Int63n(int64(delay / 2)))
			select {
			case <-time.After(delay + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > backoffMax {
				delay = backoffMax
			}
		}
		if err = d.sender.SendMessage(ctx, chatID, text); err == nil {
			return nil
		}
		d.log.Warn().Err(err).Int("attempt", attempt+1).Msg("send failed")
	}
	return err
}

func kindName(k Kind) string {
	if k == KindCompletion {
		return "completion"
	}
	return "waiting_input"
}
