package scheduling

import (
	"context"
	"time"

	"github.com/cyp0633/calsched/server/opctx"
	"github.com/cyp0633/calsched/server/recurrence"
	"github.com/cyp0633/calsched/server/storage"
)

// alarmWindow bounds the search for the next alarm.
const alarmWindow = 180 * 24 * time.Hour

// NextAlarm returns the first alarm trigger of item after t, or the zero
// time if there is none within alarmWindow.
func NextAlarm(engine *recurrence.Engine, item *storage.CalendarItem, t time.Time) (time.Time, error) {
	var lead time.Duration
	hasAlarms := false
	for _, si := range item.Invites {
		for _, al := range si.Invite.Alarms {
			hasAlarms = true
			// Alarms may fire before their occurrence starts.
			lead = max(lead, -al.Trigger)
		}
	}
	if !hasAlarms {
		return time.Time{}, nil
	}

	series, exceptions, cancellations := recurrence.Group(item.InviteList())
	instances, err := engine.Expand(series, exceptions, cancellations, t.Add(-lead), t.Add(alarmWindow))
	if err != nil {
		return time.Time{}, err
	}
	var next time.Time
	for _, inst := range instances {
		if !inst.HasStart() || inst.Invite == nil {
			continue
		}
		for _, al := range inst.Invite.Alarms {
			trigger := inst.Start.Add(al.Trigger)
			if trigger.After(t) && (next.IsZero() || trigger.Before(next)) {
				next = trigger
			}
		}
	}
	return next, nil
}

// updateAlarm recomputes the next alarm of an item after a change.
func (s *Scheduler) updateAlarm(ctx context.Context, r *request, itemID int64) error {
	item, err := r.mbox.GetCalendarItemByID(ctx, itemID)
	if err != nil {
		return err
	}
	next, err := NextAlarm(s.engine, item, r.op.Now())
	if err != nil {
		return err
	}
	if next.Equal(item.NextAlarm) {
		return nil
	}
	return r.mbox.SetNextAlarm(ctx, itemID, next)
}

// DismissAlarm acknowledges the alarms of an item up to dismissedAt and
// schedules the following one. An item that is gone has no further alarms,
// which is what a dismissal asks for, so that is not an error.
func (s *Scheduler) DismissAlarm(ctx context.Context, op opctx.Op, itemID int64, dismissedAt time.Time) error {
	return s.run(ctx, op, "alarm", func(ctx context.Context, r *request) error {
		item, err := r.mbox.GetCalendarItemByID(ctx, itemID)
		if isNotFound(err) {
			s.logger.Debug("dismissed alarm of missing item", "mailbox", r.mbox.ID(), "item", itemID)
			return nil
		} else if err != nil {
			return err
		}
		next, err := NextAlarm(s.engine, item, dismissedAt)
		if err != nil {
			return err
		}
		if err := r.mbox.SetNextAlarm(ctx, itemID, next); err != nil && !isNotFound(err) {
			return err
		}
		return nil
	})
}

// SnoozeAlarm moves the next alarm of an item to until. A missing item is
// treated as dismissed.
func (s *Scheduler) SnoozeAlarm(ctx context.Context, op opctx.Op, itemID int64, until time.Time) error {
	return s.run(ctx, op, "alarm", func(ctx context.Context, r *request) error {
		err := r.mbox.SetNextAlarm(ctx, itemID, until)
		if isNotFound(err) {
			s.logger.Debug("snoozed alarm of missing item", "mailbox", r.mbox.ID(), "item", itemID)
			return nil
		}
		return err
	})
}
