package notify

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	"time"
)

// Event identifies why a user is being notified.
type Event string

const (
	EventAccountLocked      Event = "account_locked"
	EventAnomalousLogin     Event = "anomalous_login"
	EventSuspiciousActivity Event = "suspicious_activity"
)

// Sender delivers one notification. Implementations may be slow; the
// dispatcher keeps them off the request path.
type Sender interface {
	Send(ctx context.Context, userID string, event Event, meta map[string]string) error
}

// Dispatcher fans notifications out asynchronously. Notify never blocks
// the caller and never fails the triggering request; delivery gets one
// short-backoff retry with jitter and then gives up with a log line.
type Dispatcher struct {
	sender  Sender
	logger  *slog.Logger
	timeout time.Duration
}

func NewDispatcher(sender Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		logger:  logger,
		timeout: 10 * time.Second,
	}
}

// Notify dispatches in the background, detached from the request context.
func (d *Dispatcher) Notify(userID string, event Event, meta map[string]string) {
	if d.sender == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		err := d.sender.Send(ctx, userID, event, meta)
		if err == nil {
			return
		}

		// One retry with jitter; a definite outcome within a fixed budget.
		select {
		case <-time.After(500*time.Millisecond + jitter(500*time.Millisecond)):
		case <-ctx.Done():
			d.logger.Warn("notification dropped",
				slog.String("user_id", userID),
				slog.String("event", string(event)),
				slog.Any("error", err))
			return
		}

		if err := d.sender.Send(ctx, userID, event, meta); err != nil {
			d.logger.Warn("notification dropped after retry",
				slog.String("user_id", userID),
				slog.String("event", string(event)),
				slog.Any("error", err))
		}
	}()
}

func jitter(max time.Duration) time.Duration {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(buf[:]) % uint64(max))
}
