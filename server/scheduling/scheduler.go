// Package scheduling coordinates calendar requests: every operation mutates
// the mailbox and queues its outbound mail under the mailbox lock, then sends
// the mail after the lock is released.
package scheduling

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cyp0633/calsched/server/calendar"
	"github.com/cyp0633/calsched/server/fault"
	"github.com/cyp0633/calsched/server/itip"
	"github.com/cyp0633/calsched/server/opctx"
	"github.com/cyp0633/calsched/server/recurrence"
	"github.com/cyp0633/calsched/server/sendqueue"
	"github.com/cyp0633/calsched/server/storage"
)

var metricRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "calsched_scheduling_requests_total",
		Help: "Scheduling requests by operation and result.",
	},
	[]string{
		"op",     // create, counter, declinecounter, forward, cancel, attendees, reply, alarm
		"result", // ok, a fault type, or error
	},
)

// Options configure a Scheduler.
type Options struct {
	// SpoolDir holds serialized outbound messages until sent. Empty means
	// the system temporary directory.
	SpoolDir string
	// Relay validates recipients before non-forced sends. Nil skips relay
	// validation; syntax is always checked.
	Relay  itip.Validator
	Engine *recurrence.Engine
	Logger *slog.Logger
}

// Scheduler is the scheduling request orchestrator.
type Scheduler struct {
	provider storage.Provider
	locks    *storage.Locks
	sender   sendqueue.Sender
	calendar *calendar.Service
	builder  *itip.Builder
	engine   *recurrence.Engine
	relay    itip.Validator
	spoolDir string
	logger   *slog.Logger
}

// New returns a Scheduler working on the mailboxes of provider, serialized
// through locks, sending mail through sender.
func New(provider storage.Provider, locks *storage.Locks, sender sendqueue.Sender, opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	engine := opts.Engine
	if engine == nil {
		engine = recurrence.NewEngine()
	}
	return &Scheduler{
		provider: provider,
		locks:    locks,
		sender:   sender,
		calendar: calendar.NewService(logger),
		builder:  itip.NewBuilder(),
		engine:   engine,
		relay:    opts.Relay,
		spoolDir: opts.SpoolDir,
		logger:   logger,
	}
}

// request is the state of one locked operation.
type request struct {
	op    opctx.Op
	mbox  storage.Mailbox
	acct  *storage.Account
	queue *sendqueue.Queue
}

// run executes fn holding the lock of the operation's mailbox, then drains
// what fn queued. Mail is only sent if fn succeeded.
func (s *Scheduler) run(ctx context.Context, op opctx.Op, name string, fn func(ctx context.Context, r *request) error) (rerr error) {
	defer func() {
		result := "ok"
		if rerr != nil {
			result = "error"
			if t := fault.TypeOf(rerr); t != "" {
				result = string(t)
			}
		}
		metricRequests.WithLabelValues(name, result).Inc()
	}()

	mbox, err := s.provider.Mailbox(ctx, op.MailboxID)
	if err != nil {
		return err
	}
	r := &request{op: op, mbox: mbox, queue: sendqueue.New(s.sender, s.logger)}
	err = s.locks.WithLock(ctx, mbox.ID(), func(ctx context.Context) error {
		acct, err := mbox.Account(ctx)
		if err != nil {
			return err
		}
		r.acct = acct
		return fn(ctx, r)
	})
	if err != nil {
		r.queue.Discard()
		return err
	}
	if failed, err := r.queue.Drain(ctx); err != nil {
		return err
	} else if failed > 0 {
		s.logger.Debug("scheduling mail partially failed", "op", name, "mailbox", mbox.ID(), "failed", failed)
	}
	return nil
}

// spool serializes d so later mailbox changes cannot affect it.
func (s *Scheduler) spool(d *itip.CalSendData) error {
	return d.Spool(s.spoolDir)
}

// enqueue spools d if needed and queues it for sending after the lock.
func (s *Scheduler) enqueue(ctx context.Context, r *request, d *itip.CalSendData) error {
	if d == nil || len(d.Recipients) == 0 {
		return nil
	}
	if err := s.spool(d); err != nil {
		return err
	}
	if err := r.queue.Enqueue(ctx, sendqueue.Entry{Op: r.op, MailboxID: r.mbox.ID(), Data: d}); err != nil {
		d.Spooled.Remove()
		return err
	}
	return nil
}

// discard removes the spool file of a message that will not be queued.
func discard(d *itip.CalSendData) {
	if d != nil && d.Spooled != nil {
		d.Spooled.Remove()
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, fault.ErrNotFound)
}
