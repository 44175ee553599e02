package scheduling

import (
	"context"

	"github.com/samber/mo"

	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/itip"
	"github.com/cyp0633/calsched/server/opctx"
	"github.com/cyp0633/calsched/server/storage"
)

// CancelRequest cancels a whole item or one occurrence of it.
type CancelRequest struct {
	ItemID int64
	// RecurID selects one occurrence; absent cancels the series and deletes
	// the item.
	RecurID mo.Option[invite.RecurID]
	// Notify sends a CANCEL to Recipients, or to the attendees if empty.
	// Only the organizer notifies.
	Notify     bool
	Recipients []string
	Subject    string
	Text       string
}

// Cancel cancels a series or an occurrence and notifies the attendees.
func (s *Scheduler) Cancel(ctx context.Context, op opctx.Op, req CancelRequest) error {
	return s.run(ctx, op, "cancel", func(ctx context.Context, r *request) error {
		if rid, ok := req.RecurID.Get(); ok {
			return s.cancelInstance(ctx, r, req, rid)
		}
		return s.cancelSeries(ctx, r, req)
	})
}

func (s *Scheduler) cancelSeries(ctx context.Context, r *request, req CancelRequest) error {
	item, err := r.mbox.GetCalendarItemByID(ctx, req.ItemID)
	if err != nil {
		return err
	}
	var base invite.Invite
	if si := item.Series(); si != nil {
		base = si.Invite
	} else if len(item.Invites) > 0 {
		base = item.Invites[0].Invite
	}

	cancel := base.WithSequence(base.Sequence + 1).WithDTStamp(r.op.Now())
	// Built from the stored item before it is deleted.
	d, err := s.buildCancel(ctx, r, req, cancel, item)
	if err != nil {
		return err
	}
	if _, err := s.calendar.CancelSeries(ctx, r.mbox, req.ItemID); err != nil {
		discard(d)
		return err
	}
	return s.enqueue(ctx, r, d)
}

func (s *Scheduler) cancelInstance(ctx context.Context, r *request, req CancelRequest, rid invite.RecurID) error {
	canc, res, err := s.calendar.CancelInstance(ctx, r.mbox, r.op, req.ItemID, rid)
	if err != nil {
		return err
	}
	if err := s.updateAlarm(ctx, r, res.ItemID); err != nil {
		return err
	}
	d, err := s.buildCancel(ctx, r, req, canc, nil)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, r, d)
}

// buildCancel renders the CANCEL of inv, nil if nobody is to be notified.
func (s *Scheduler) buildCancel(ctx context.Context, r *request, req CancelRequest, inv invite.Invite, item *storage.CalendarItem) (*itip.CalSendData, error) {
	if !req.Notify || !inv.IsOrganizer(r.acct.Addresses()) {
		return nil, nil
	}
	rcpts := itip.Recipients(r.op, r.acct, inv, req.Recipients)
	if len(rcpts) == 0 {
		return nil, nil
	}
	msg, err := s.builder.Build(itip.BuildRequest{
		Op:         r.op,
		Account:    r.acct,
		Method:     invite.MethodCancel,
		Invite:     inv,
		Item:       item,
		Recipients: rcpts,
		Subject:    req.Subject,
		Text:       req.Text,
	})
	if err != nil {
		return nil, err
	}
	d := &itip.CalSendData{
		Invite:     inv.WithMethod(invite.MethodCancel),
		Message:    msg,
		From:       r.acct.Address,
		Recipients: rcpts,
	}
	if err := s.spool(d); err != nil {
		return nil, err
	}
	return d, nil
}
