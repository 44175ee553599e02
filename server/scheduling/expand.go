package scheduling

import (
	"context"
	"time"

	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/opctx"
	"github.com/cyp0633/calsched/server/recurrence"
)

// ExpandRange returns the instances of a stored item within [start, end).
// Only the read is done against the store; expansion runs without the lock.
func (s *Scheduler) ExpandRange(ctx context.Context, op opctx.Op, itemID int64, start, end time.Time) ([]recurrence.Instance, error) {
	mbox, err := s.provider.Mailbox(ctx, op.MailboxID)
	if err != nil {
		return nil, err
	}
	item, err := mbox.GetCalendarItemByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return s.engine.ExpandInvites(item.InviteList(), start, end)
}

// ExpandInvites expands invites that are not stored, e.g. a series with its
// exceptions as submitted by a client.
func (s *Scheduler) ExpandInvites(invites []invite.Invite, start, end time.Time) ([]recurrence.Instance, error) {
	return s.engine.ExpandInvites(invites, start, end)
}
