// Package sendqueue defers outbound scheduling mail until the mailbox lock
// is released. Entries are queued while the lock is held and sent, in order,
// once it is not.
package sendqueue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cyp0633/calsched/server/itip"
	"github.com/cyp0633/calsched/server/opctx"
	"github.com/cyp0633/calsched/server/storage"
)

var (
	metricEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calsched_sendqueue_entries_total",
			Help: "Queued scheduling messages by outcome.",
		},
		[]string{
			"result", // ok, error, skipped
		},
	)
	metricSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "calsched_sendqueue_send_duration_seconds",
			Help:    "Time to hand one scheduling message to the outbound relay.",
			Buckets: []float64{0.01, 0.05, 0.100, 0.5, 1, 5, 10, 30, 60},
		},
	)
)

var (
	ErrLockNotHeld = errors.New("mailbox lock not held")
	ErrLockHeld    = errors.New("mailbox lock still held")
)

// Sender hands a composed message to the outbound relay.
type Sender interface {
	Send(ctx context.Context, from string, rcpts []string, msg io.Reader) error
}

// Entry is one message to send.
type Entry struct {
	Op        opctx.Op
	MailboxID string
	Data      *itip.CalSendData
	// Queued is set by Enqueue.
	Queued time.Time
}

// Queue is a per-request FIFO of entries. It is not safe for concurrent use;
// the goroutine serving the request builds and drains it.
type Queue struct {
	sender  Sender
	logger  *slog.Logger
	entries []Entry
}

// New returns an empty queue sending through sender.
func New(sender Sender, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{sender: sender, logger: logger}
}

// Enqueue appends e. ctx must hold the lock of e's mailbox.
func (q *Queue) Enqueue(ctx context.Context, e Entry) error {
	if !storage.Held(ctx, e.MailboxID) {
		return fmt.Errorf("enqueue for mailbox %s: %w", e.MailboxID, ErrLockNotHeld)
	}
	e.Queued = time.Now()
	q.entries = append(q.entries, e)
	return nil
}

// Discard drops all entries without sending them, removing their spool files.
// It is used when the request that queued them failed.
func (q *Queue) Discard() {
	for _, e := range q.entries {
		if e.Data.Spooled == nil {
			continue
		}
		if err := e.Data.Spooled.Remove(); err != nil {
			q.logger.Warn("failed to remove spool file", "path", e.Data.Spooled.Path(), "error", err)
		}
	}
	metricEntries.WithLabelValues("discarded").Add(float64(len(q.entries)))
	q.entries = nil
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	return len(q.entries)
}

// Drain sends all entries in order and empties the queue. ctx must not hold
// the lock of any queued mailbox. A failing entry is logged and does not stop
// the others; the number of failed entries is returned.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	for _, e := range q.entries {
		if storage.Held(ctx, e.MailboxID) {
			return 0, fmt.Errorf("drain for mailbox %s: %w", e.MailboxID, ErrLockHeld)
		}
	}
	entries := q.entries
	q.entries = nil

	failed := 0
	for _, e := range entries {
		if err := q.run(ctx, e); err != nil {
			failed++
			metricEntries.WithLabelValues("error").Inc()
			q.logger.Error("failed to send scheduling message",
				"mailbox", e.MailboxID,
				"uid", e.Data.Invite.UID,
				"method", e.Data.Message.Method,
				"recipients", e.Data.Recipients,
				"error", err)
		}
	}
	return failed, nil
}

func (q *Queue) run(ctx context.Context, e Entry) (rerr error) {
	d := e.Data
	defer func() {
		if d.Spooled == nil {
			return
		}
		if err := d.Spooled.Remove(); err != nil {
			q.logger.Warn("failed to remove spool file", "path", d.Spooled.Path(), "error", err)
		}
	}()
	defer func() {
		if x := recover(); x != nil {
			rerr = fmt.Errorf("panic while sending: %v", x)
		}
	}()

	if len(d.Recipients) == 0 {
		metricEntries.WithLabelValues("skipped").Inc()
		return nil
	}
	var r io.Reader
	if d.Spooled != nil {
		var err error
		if r, err = d.Spooled.Reader(); err != nil {
			return err
		}
	} else {
		var buf bytes.Buffer
		if _, err := d.Message.WriteTo(&buf); err != nil {
			return fmt.Errorf("failed to render message: %w", err)
		}
		r = &buf
	}

	start := time.Now()
	err := q.sender.Send(ctx, d.From, d.Recipients, r)
	metricSendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	metricEntries.WithLabelValues("ok").Inc()
	return nil
}
