package scheduling

import (
	"context"

	"github.com/cyp0633/calsched/server/calendar"
	"github.com/cyp0633/calsched/server/fault"
	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/itip"
	"github.com/cyp0633/calsched/server/opctx"
)

// RemoveAttendees changes the attendees of an item. Removed attendees get a
// CANCEL, added ones the updated invite. Exceptions before now are only
// changed if ignorePastExceptions is false.
func (s *Scheduler) RemoveAttendees(ctx context.Context, op opctx.Op, itemID int64, toAdd []invite.Attendee, toRemove []string, ignorePastExceptions bool) error {
	return s.run(ctx, op, "attendees", func(ctx context.Context, r *request) error {
		before, err := r.mbox.GetCalendarItemByID(ctx, itemID)
		if err != nil {
			return err
		}
		series := before.Series()
		if series == nil {
			return fault.New(fault.TypeNotFound, "item %d has no series", itemID)
		}
		self := r.acct.Addresses()
		if !series.Invite.IsOrganizer(self) {
			return fault.New(fault.TypeMustBeOrganizer, "only organizer %s may change attendees of %s", series.Invite.OrganizerAddress(), series.Invite.UID)
		}

		// Only addresses that were attendees of a slot being changed are told
		// they are out.
		now := op.Now()
		var removed []string
		for _, addr := range toRemove {
			for _, si := range before.Invites {
				if !calendar.AttendeeSlot(si.Invite, now, !ignorePastExceptions) {
					continue
				}
				if _, ok := si.Invite.Attendee(addr); ok {
					removed = append(removed, addr)
					break
				}
			}
		}
		var added []string
		for _, a := range toAdd {
			if _, ok := series.Invite.Attendee(a.Address); !ok {
				added = append(added, a.Address)
			}
		}
		if len(added) > 0 {
			if err := itip.ValidateRecipients(ctx, s.relay, itip.Recipients(op, r.acct, series.Invite, added)); err != nil {
				return err
			}
		}

		// The cancel describes the item as the removed attendees knew it.
		var cancel *itip.CalSendData
		if rcpts := itip.Recipients(op, r.acct, series.Invite, removed); len(rcpts) > 0 {
			msg, err := s.builder.Build(itip.BuildRequest{
				Op:         op,
				Account:    r.acct,
				Method:     invite.MethodCancel,
				Invite:     series.Invite.WithDTStamp(op.Now()),
				Item:       before,
				Recipients: rcpts,
			})
			if err != nil {
				return err
			}
			cancel = &itip.CalSendData{Invite: series.Invite.WithMethod(invite.MethodCancel), Message: msg, From: r.acct.Address, Recipients: rcpts}
		}

		changed, err := s.calendar.ChangeAttendees(ctx, r.mbox, op, itemID, toAdd, toRemove, !ignorePastExceptions)
		if err != nil {
			return err
		}
		if len(changed) == 0 {
			return nil
		}
		if err := s.enqueue(ctx, r, cancel); err != nil {
			return err
		}

		rcpts := itip.Recipients(op, r.acct, series.Invite, added)
		if len(rcpts) == 0 {
			return nil
		}
		after, err := r.mbox.GetCalendarItemByID(ctx, itemID)
		if err != nil {
			return err
		}
		msg, err := s.builder.Build(itip.BuildRequest{
			Op:         op,
			Account:    r.acct,
			Method:     invite.MethodRequest,
			Invite:     after.Series().Invite,
			Item:       after,
			Recipients: rcpts,
		})
		if err != nil {
			return err
		}
		return s.enqueue(ctx, r, &itip.CalSendData{
			Invite:     after.Series().Invite,
			Message:    msg,
			From:       r.acct.Address,
			Recipients: rcpts,
		})
	})
}
