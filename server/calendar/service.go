// Package calendar applies invites to the calendar state of a mailbox. All
// mutating calls expect the caller to hold the mailbox lock for the whole
// read-modify-write span.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/mo"

	"github.com/cyp0633/calsched/server/fault"
	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/opctx"
	"github.com/cyp0633/calsched/server/recurrence"
	"github.com/cyp0633/calsched/server/storage"
)

var errNotLocked = errors.New("mailbox lock not held")

// Service is the calendar mutation service.
type Service struct {
	logger *slog.Logger
}

// NewService returns a Service logging to logger.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// ApplyRequest is one invite to store.
type ApplyRequest struct {
	Invite invite.Invite
	// FolderID places a new item, 0 for the default folder of its type.
	FolderID int64
	Source   *storage.SourceMessage
	Flags    storage.AddFlags
	// ExpectedModSeq opts into conflict detection: the request fails if the
	// slot was modified after this mod sequence.
	ExpectedModSeq mo.Option[int64]
}

// Apply stores req.Invite in its slot. A new item is created in the
// requested or default folder, never below Trash.
func (s *Service) Apply(ctx context.Context, mbox storage.Mailbox, req ApplyRequest) (storage.AddResult, error) {
	if !storage.Held(ctx, mbox.ID()) {
		return storage.AddResult{}, fmt.Errorf("apply invite: %w", errNotLocked)
	}
	inv := req.Invite
	if err := inv.Validate(); err != nil {
		return storage.AddResult{}, err
	}

	item, err := lookup(ctx, mbox, inv.UID)
	if err != nil {
		return storage.AddResult{}, err
	}
	next, err := NextState(item, inv)
	if err != nil {
		return storage.AddResult{}, err
	}
	if next == StateDeleted {
		return storage.AddResult{}, fault.Invalid("series cancellation of %s must go through CancelSeries", inv.UID)
	}

	if expected, ok := req.ExpectedModSeq.Get(); ok && item != nil {
		if slot := item.Slot(inv.SlotKey()); slot != nil && expected < slot.ModSeq {
			s.logger.Info("rejected out of date invite",
				"mailbox", mbox.ID(),
				"uid", inv.UID,
				"slot", inv.SlotKey(),
				"expected_modseq", expected,
				"stored_modseq", slot.ModSeq)
			return storage.AddResult{}, fault.New(fault.TypeInviteOutOfDate,
				"invite %s was modified at %d, after %d", inv.UID, slot.ModSeq, expected)
		}
	}

	folderID := req.FolderID
	switch {
	case item != nil:
		folderID = item.FolderID
	case folderID == 0:
		folderID = storage.DefaultFolder(inv.Type)
	}
	if item == nil {
		trash, err := storage.InTrash(ctx, mbox, folderID)
		if err != nil {
			return storage.AddResult{}, err
		}
		if trash {
			return storage.AddResult{}, fault.New(fault.TypeCannotCreateInTrash, "cannot create %s in trash folder %d", inv.UID, folderID)
		}
	}

	res, err := mbox.AddInvite(ctx, inv, folderID, req.Source, req.Flags)
	if err != nil {
		return storage.AddResult{}, fmt.Errorf("failed to store invite %s: %w", inv.UID, err)
	}
	return res, nil
}

// CheckCounter returns the stored invite a COUNTER proposes changes to. It
// fails with fault.ErrInviteOutOfDate if the organizer changed the invite
// after the attendee saw it.
func (s *Service) CheckCounter(ctx context.Context, mbox storage.Mailbox, counter invite.Invite) (*storage.StoredInvite, error) {
	cur, err := current(ctx, mbox, counter)
	if err != nil {
		return nil, err
	}
	if counter.Sequence < cur.Invite.Sequence {
		return nil, fault.New(fault.TypeInviteOutOfDate,
			"counter for %s is based on sequence %d, current is %d", counter.UID, counter.Sequence, cur.Invite.Sequence)
	}
	return cur, nil
}

// CheckDeclineCounter returns the stored invite a DECLINECOUNTER refers to.
// Only its organizer may decline a counter proposal. Nothing is modified.
func (s *Service) CheckDeclineCounter(ctx context.Context, mbox storage.Mailbox, acct *storage.Account, inv invite.Invite) (*storage.StoredInvite, error) {
	cur, err := current(ctx, mbox, inv)
	if err != nil {
		return nil, err
	}
	if !cur.Invite.IsOrganizer(acct.Addresses()) {
		return nil, fault.New(fault.TypeMustBeOrganizer, "only organizer %s may decline counters to %s", cur.Invite.OrganizerAddress(), inv.UID)
	}
	return cur, nil
}

// ChangeAttendees adds and removes attendees on every live slot of an item
// and returns the invites that changed. Exceptions before now are left alone
// unless includePast is set. Changed invites become REQUESTs with a fresh
// DTSTAMP, cancellations keep their method.
func (s *Service) ChangeAttendees(ctx context.Context, mbox storage.Mailbox, op opctx.Op, itemID int64, toAdd []invite.Attendee, toRemove []string, includePast bool) ([]invite.Invite, error) {
	if !storage.Held(ctx, mbox.ID()) {
		return nil, fmt.Errorf("change attendees: %w", errNotLocked)
	}
	item, err := mbox.GetCalendarItemByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	now := op.Now()

	var changed []invite.Invite
	for _, si := range item.Invites {
		inv := si.Invite
		if !AttendeeSlot(inv, now, includePast) {
			continue
		}
		n, added := inv.AddAttendees(toAdd...)
		n, removed := n.RemoveAttendees(toRemove...)
		if !added && !removed {
			continue
		}
		if !n.IsCancel() {
			n = n.WithMethod(invite.MethodRequest)
		}
		n = n.WithDTStamp(now)
		if _, err := mbox.AddInvite(ctx, n, item.FolderID, nil, storage.FlagKeepExceptions); err != nil {
			return nil, fmt.Errorf("failed to store attendee change of %s: %w", n.UID, err)
		}
		changed = append(changed, n)
	}
	return changed, nil
}

// AttendeeSlot reports whether ChangeAttendees touches the slot holding inv:
// cancellations never, exceptions before now only if includePast is set.
func AttendeeSlot(inv invite.Invite, now time.Time, includePast bool) bool {
	if inv.Kind.IsCancellation() {
		return false
	}
	if rid, ok := inv.RecurID().Get(); ok && !includePast && !recurrence.OccursAfter(rid.Time, rid.AllDay, now) {
		return false
	}
	return true
}

// CancelSeries hard deletes an item and returns it as it was, so the caller
// can notify its attendees.
func (s *Service) CancelSeries(ctx context.Context, mbox storage.Mailbox, itemID int64) (*storage.CalendarItem, error) {
	if !storage.Held(ctx, mbox.ID()) {
		return nil, fmt.Errorf("cancel series: %w", errNotLocked)
	}
	item, err := mbox.GetCalendarItemByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if err := mbox.DeleteCalendarItem(ctx, itemID); err != nil {
		return nil, fmt.Errorf("failed to delete calendar item %d: %w", itemID, err)
	}
	return item, nil
}

// CancelInstance replaces one occurrence of an item with a cancellation and
// returns the stored cancellation.
func (s *Service) CancelInstance(ctx context.Context, mbox storage.Mailbox, op opctx.Op, itemID int64, rid invite.RecurID) (invite.Invite, storage.AddResult, error) {
	if !storage.Held(ctx, mbox.ID()) {
		return invite.Invite{}, storage.AddResult{}, fmt.Errorf("cancel instance: %w", errNotLocked)
	}
	item, err := mbox.GetCalendarItemByID(ctx, itemID)
	if err != nil {
		return invite.Invite{}, storage.AddResult{}, err
	}

	var base invite.Invite
	start := rid.Time
	if si := item.Slot(rid.Key()); si != nil {
		if si.Invite.Kind.IsCancellation() {
			return si.Invite, storage.AddResult{ItemID: item.ID, InvID: si.InvID, ModSeq: si.ModSeq, Revision: si.Revision}, nil
		}
		base = si.Invite
		start = base.Start
	} else if series := item.Series(); series != nil {
		base = series.Invite
	} else {
		return invite.Invite{}, storage.AddResult{}, fault.New(fault.TypeNotFound, "occurrence %s of item %d not found", rid, itemID)
	}

	canc := base.WithKind(invite.Cancellation(rid)).
		WithMethod(invite.MethodCancel).
		WithSequence(base.Sequence + 1).
		WithDTStamp(op.Now())
	canc.Start = start
	canc.End = base.EndFor(start)
	canc.Duration = 0

	res, err := s.Apply(ctx, mbox, ApplyRequest{Invite: canc, FolderID: item.FolderID})
	if err != nil {
		return invite.Invite{}, storage.AddResult{}, err
	}
	return canc, res, nil
}

func lookup(ctx context.Context, mbox storage.Mailbox, uid string) (*storage.CalendarItem, error) {
	item, err := mbox.GetCalendarItemByUID(ctx, uid)
	if errors.Is(err, fault.ErrNotFound) {
		return nil, nil
	}
	return item, err
}

// current returns the stored invite for the slot of inv, falling back to the
// series for occurrences without their own exception.
func current(ctx context.Context, mbox storage.Mailbox, inv invite.Invite) (*storage.StoredInvite, error) {
	item, err := mbox.GetCalendarItemByUID(ctx, inv.UID)
	if err != nil {
		return nil, err
	}
	if si := item.Slot(inv.SlotKey()); si != nil {
		return si, nil
	}
	if si := item.Series(); si != nil {
		return si, nil
	}
	return nil, fault.New(fault.TypeNotFound, "invite %s %s not found", inv.UID, inv.SlotKey())
}
