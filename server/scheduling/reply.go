package scheduling

import (
	"context"

	"github.com/samber/mo"

	"github.com/cyp0633/calsched/server/calendar"
	"github.com/cyp0633/calsched/server/fault"
	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/opctx"
	"github.com/cyp0633/calsched/server/storage"
)

// ReplyRequest is an attendee's answer to an invite.
type ReplyRequest struct {
	ItemID   int64
	RecurID  mo.Option[invite.RecurID]
	PartStat invite.PartStat
	Comment  string
	// Notify sends the reply to the organizer.
	Notify bool
	// InReplyTo is the Message-ID of the request being answered.
	InReplyTo string
}

// Reply records the participation status of the mailbox owner and, if
// asked to, tells the organizer.
func (s *Scheduler) Reply(ctx context.Context, op opctx.Op, req ReplyRequest) error {
	switch req.PartStat {
	case invite.PartStatAccepted, invite.PartStatDeclined, invite.PartStatTentative:
	default:
		return fault.Invalid("cannot reply with %q", req.PartStat)
	}
	return s.run(ctx, op, "reply", func(ctx context.Context, r *request) error {
		item, err := r.mbox.GetCalendarItemByID(ctx, req.ItemID)
		if err != nil {
			return err
		}
		inv, _, err := occurrence(item, req.RecurID)
		if err != nil {
			return err
		}

		d, err := s.builder.BuildReply(op, r.acct, inv, req.PartStat, req.Comment)
		if err != nil {
			return err
		}
		if !req.Notify {
			d = nil
		} else {
			d.Message.InReplyTo = req.InReplyTo
		}

		self := r.acct.Addresses()
		updated := make([]invite.Attendee, len(inv.Attendees))
		for i, a := range inv.Attendees {
			if self.Contains(a.Address) {
				a.PartStat = req.PartStat
				a.RSVP = false
			}
			updated[i] = a
		}
		if _, err := s.calendar.Apply(ctx, r.mbox, calendar.ApplyRequest{
			Invite: inv.WithAttendees(updated),
			Flags:  storage.FlagKeepExceptions,
		}); err != nil {
			return err
		}
		return s.enqueue(ctx, r, d)
	})
}
