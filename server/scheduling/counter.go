package scheduling

import (
	"context"

	"github.com/samber/mo"

	"github.com/cyp0633/calsched/server/fault"
	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/itip"
	"github.com/cyp0633/calsched/server/opctx"
)

// Counter sends an attendee's counter proposal to the organizer. The
// proposal must be based on the invite currently stored in the attendee's
// mailbox. The calendar is not modified.
func (s *Scheduler) Counter(ctx context.Context, op opctx.Op, proposal invite.Invite) error {
	return s.run(ctx, op, "counter", func(ctx context.Context, r *request) error {
		counter := proposal.WithMethod(invite.MethodCounter)
		if err := counter.Validate(); err != nil {
			return err
		}
		cur, err := s.calendar.CheckCounter(ctx, r.mbox, counter)
		if err != nil {
			return err
		}
		org := cur.Invite.OrganizerAddress()
		if org == "" || r.acct.Addresses().Contains(org) {
			return fault.Invalid("invite %s has no other organizer to counter", counter.UID)
		}

		msg, err := s.builder.Build(itip.BuildRequest{
			Op:         op,
			Account:    r.acct,
			Method:     invite.MethodCounter,
			Invite:     counter.WithDTStamp(op.Now()),
			Recipients: []string{org},
		})
		if err != nil {
			return err
		}
		return s.enqueue(ctx, r, &itip.CalSendData{
			Invite:     counter,
			Message:    msg,
			ReplyType:  itip.ReplyReply,
			From:       r.acct.Address,
			Recipients: msg.To,
		})
	})
}

// DeclineCounterRequest rejects one counter proposal.
type DeclineCounterRequest struct {
	Counter invite.Invite
	// Proposer is who sent the counter. When absent it is the only attendee
	// of the counter other than the mailbox owner.
	Proposer mo.Option[string]
	// InReplyTo is the Message-ID of the mail carrying the counter.
	InReplyTo string
}

// DeclineCounter rejects a counter proposal. Only the organizer may do so;
// the proposer gets the current invite back, the calendar is not modified.
func (s *Scheduler) DeclineCounter(ctx context.Context, op opctx.Op, req DeclineCounterRequest) error {
	return s.run(ctx, op, "declinecounter", func(ctx context.Context, r *request) error {
		counter := req.Counter
		cur, err := s.calendar.CheckDeclineCounter(ctx, r.mbox, r.acct, counter)
		if err != nil {
			return err
		}
		proposer, err := proposerOf(counter, r.acct.Addresses(), req.Proposer)
		if err != nil {
			return err
		}
		rcpts := itip.Recipients(op, r.acct, counter, []string{proposer})

		msg, err := s.builder.Build(itip.BuildRequest{
			Op:         op,
			Account:    r.acct,
			Method:     invite.MethodDeclineCounter,
			Invite:     cur.Invite.WithDTStamp(op.Now()),
			Recipients: rcpts,
			InReplyTo:  req.InReplyTo,
		})
		if err != nil {
			return err
		}
		return s.enqueue(ctx, r, &itip.CalSendData{
			Invite:     cur.Invite.WithMethod(invite.MethodDeclineCounter),
			Message:    msg,
			ReplyType:  itip.ReplyReply,
			From:       r.acct.Address,
			Recipients: rcpts,
		})
	})
}

// proposerOf returns who a counter came from: the explicit proposer, else
// the single attendee other than self, else the single such attendee acting
// through SENT-BY.
func proposerOf(counter invite.Invite, self invite.AddressSet, explicit mo.Option[string]) (string, error) {
	if p, ok := explicit.Get(); ok && p != "" {
		if self.Contains(p) {
			return "", fault.Invalid("counter to %s cannot be declined to its organizer", counter.UID)
		}
		return p, nil
	}
	var others, sentBy []string
	for _, a := range counter.Attendees {
		if self.Contains(a.Address) {
			continue
		}
		others = append(others, a.Address)
		if a.SentBy != "" {
			sentBy = append(sentBy, a.Address)
		}
	}
	switch {
	case len(others) == 1:
		return others[0], nil
	case len(sentBy) == 1:
		return sentBy[0], nil
	case len(others) == 0:
		return "", fault.Invalid("counter to %s names no proposer", counter.UID)
	default:
		return "", fault.Invalid("counter to %s names %d attendees, the proposer is ambiguous", counter.UID, len(others))
	}
}
