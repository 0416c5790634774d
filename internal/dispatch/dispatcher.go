// Package dispatch implements the rate-limited outbound message queue: a
// single ordered queue drained by one worker loop, honoring global and
// per-recipient throughput ceilings, retrying transient failures, and
// surfacing terminal (recipient-blocked) failures to the scheduler.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/minaretlabs/minaret/internal/prayer"
	"github.com/minaretlabs/minaret/internal/telegram"
)

const queueCapacity = 4096

// ErrQueueFull is returned when the outbound queue cannot accept a message.
var ErrQueueFull = errors.New("dispatch queue full")

// Sender is the messaging-platform send contract.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Message is one outbound reminder, consumed exactly once (success or
// terminal failure).
type Message struct {
	UserID int64
	ChatID int64
	Text   string

	// Delivery metadata, for logging and the terminal handler.
	Prayer prayer.Name
	Kind   prayer.ReminderKind
	Day    string

	attempts int
}

// TerminalHandler is invoked when delivery fails permanently because the
// recipient rejected messages. The scheduler uses it to disable the user.
type TerminalHandler func(ctx context.Context, msg Message, err error)

// Dispatcher drains the outbound queue through a Sender.
type Dispatcher struct {
	sender      Sender
	limits      *windows
	maxAttempts int
	logger      *slog.Logger

	queue      chan Message
	onTerminal atomic.Pointer[TerminalHandler]

	sent    atomic.Int64
	dropped atomic.Int64
}

// New creates a Dispatcher. Run must be started for messages to drain.
func New(sender Sender, perSecond, perMinute int, chatGap time.Duration, maxAttempts int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Dispatcher{
		sender:      sender,
		limits:      newWindows(perSecond, perMinute, chatGap),
		maxAttempts: maxAttempts,
		logger:      logger,
		queue:       make(chan Message, queueCapacity),
	}
}

// SetTerminalHandler registers the terminal-failure callback. Set once at
// wiring time, before Run.
func (d *Dispatcher) SetTerminalHandler(h TerminalHandler) {
	d.onTerminal.Store(&h)
}

// Enqueue adds a message to the tail of the queue without blocking.
func (d *Dispatcher) Enqueue(msg Message) error {
	select {
	case d.queue <- msg:
		return nil
	default:
		d.dropped.Add(1)
		return fmt.Errorf("%w (user=%d)", ErrQueueFull, msg.UserID)
	}
}

// Stats returns lifetime sent and dropped counts.
func (d *Dispatcher) Stats() (sent, dropped int64) {
	return d.sent.Load(), d.dropped.Load()
}

// Run drains the queue until ctx is cancelled. Blocks; intended to be
// called with `go`.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("Dispatch worker started",
		"per_second", d.limits.perSecond,
		"per_minute", d.limits.perMinute,
		"max_attempts", d.maxAttempts)

	for {
		select {
		case msg := <-d.queue:
			d.deliver(ctx, msg)
		case <-ctx.Done():
			d.logger.Info("Dispatch worker stopped")
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	// Block until both windows have headroom and the per-recipient gap
	// has elapsed.
	if err := d.limits.reserve(ctx, msg.ChatID); err != nil {
		return // shutting down
	}

	err := d.sender.SendMessage(ctx, msg.ChatID, msg.Text)
	if err == nil {
		d.sent.Add(1)
		d.logger.Info("Reminder sent",
			"user_id", msg.UserID, "prayer", msg.Prayer.String(),
			"kind", msg.Kind.String(), "day", msg.Day)
		return
	}

	var rateErr *telegram.RateLimitedError
	switch {
	case errors.As(err, &rateErr):
		// Platform throttling pauses the whole drain loop for the
		// platform-specified cooldown; the message was not consumed.
		d.logger.Warn("Platform throttled, pausing dispatch",
			"cooldown", rateErr.RetryAfter)
		if sleepErr := sleepCtx(ctx, rateErr.RetryAfter); sleepErr != nil {
			return
		}
		d.requeue(msg)

	case errors.Is(err, telegram.ErrRecipientBlocked):
		d.logger.Warn("Recipient blocked sender, delivery terminal",
			"user_id", msg.UserID, "error", err)
		if h := d.onTerminal.Load(); h != nil {
			(*h)(ctx, msg, err)
		}

	default:
		msg.attempts++
		if msg.attempts < d.maxAttempts {
			d.logger.Warn("Transient send failure, requeueing",
				"user_id", msg.UserID, "attempt", msg.attempts, "error", err)
			d.requeue(msg)
		} else {
			d.dropped.Add(1)
			d.logger.Error("Send failed after max attempts, dropping",
				"user_id", msg.UserID, "attempts", msg.attempts, "error", err)
		}
	}
}

// requeue puts a message back at the tail of the queue.
func (d *Dispatcher) requeue(msg Message) {
	select {
	case d.queue <- msg:
	default:
		d.dropped.Add(1)
		d.logger.Error("Queue full on requeue, dropping", "user_id", msg.UserID)
	}
}
