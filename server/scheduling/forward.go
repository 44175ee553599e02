package scheduling

import (
	"context"

	"github.com/samber/mo"

	"github.com/cyp0633/calsched/server/fault"
	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/itip"
	"github.com/cyp0633/calsched/server/opctx"
	"github.com/cyp0633/calsched/server/storage"
)

// ForwardSeries forwards an item, or one occurrence of it, to new
// recipients and tells the organizer about it.
func (s *Scheduler) ForwardSeries(ctx context.Context, op opctx.Op, itemID int64, rid mo.Option[invite.RecurID], w itip.ForwardWrapper) error {
	return s.run(ctx, op, "forward", func(ctx context.Context, r *request) error {
		item, err := r.mbox.GetCalendarItemByID(ctx, itemID)
		if err != nil {
			return err
		}
		inv, whole, err := occurrence(item, rid)
		if err != nil {
			return err
		}
		if err := itip.ValidateRecipients(ctx, s.relay, w.To); err != nil {
			return err
		}

		var withItem *storage.CalendarItem
		if whole {
			withItem = item
		}
		fwd, notice, err := s.builder.BuildForward(op, r.acct, inv.WithDTStamp(op.Now()), withItem, w)
		if err != nil {
			return err
		}
		if err := s.enqueue(ctx, r, fwd); err != nil {
			return err
		}
		return s.enqueue(ctx, r, notice)
	})
}

// occurrence returns the invite for rid within item: its exception if it
// has one, the series turned into an exception otherwise. Without rid the
// series is returned and whole is true.
func occurrence(item *storage.CalendarItem, rid mo.Option[invite.RecurID]) (inv invite.Invite, whole bool, err error) {
	id, ok := rid.Get()
	if !ok {
		si := item.Series()
		if si == nil {
			return invite.Invite{}, false, fault.New(fault.TypeNotFound, "item %d has no series", item.ID)
		}
		return si.Invite, true, nil
	}
	if si := item.Slot(id.Key()); si != nil {
		if si.Invite.Kind.IsCancellation() {
			return invite.Invite{}, false, fault.New(fault.TypeNotFound, "occurrence %s of item %d is cancelled", id, item.ID)
		}
		return si.Invite, false, nil
	}
	si := item.Series()
	if si == nil {
		return invite.Invite{}, false, fault.New(fault.TypeNotFound, "occurrence %s of item %d not found", id, item.ID)
	}
	inv = si.Invite.WithKind(invite.Exception(id))
	inv.Start = id.Time
	inv.End = si.Invite.EndFor(id.Time)
	inv.Duration = 0
	return inv, false, nil
}
