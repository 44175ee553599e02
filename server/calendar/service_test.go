package calendar

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/calsched/server/fault"
	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/opctx"
	"github.com/cyp0633/calsched/server/storage"
	"github.com/cyp0633/calsched/server/storage/memory"
)

var jan1 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	locks *storage.Locks
	mbox  *memory.Mailbox
	logs  *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New(nil)
	mbox, err := store.CreateMailbox(storage.Account{ID: "alice", Address: "alice@example.com"})
	require.NoError(t, err)
	var logs bytes.Buffer
	return &fixture{
		svc:   NewService(slog.New(slog.NewTextHandler(&logs, nil))),
		locks: storage.NewLocks(),
		mbox:  mbox,
		logs:  &logs,
	}
}

// locked runs fn under the mailbox lock.
func (f *fixture) locked(t *testing.T, fn func(ctx context.Context) error) error {
	t.Helper()
	return f.locks.WithLock(context.Background(), f.mbox.ID(), fn)
}

func (f *fixture) apply(t *testing.T, req ApplyRequest) (storage.AddResult, error) {
	t.Helper()
	var res storage.AddResult
	err := f.locked(t, func(ctx context.Context) error {
		var err error
		res, err = f.svc.Apply(ctx, f.mbox, req)
		return err
	})
	return res, err
}

func meeting() invite.Invite {
	return invite.Invite{
		UID:       "m1",
		Kind:      invite.Series(),
		Method:    invite.MethodRequest,
		Organizer: mo.Some(invite.Organizer{Address: "alice@example.com"}),
		Attendees: []invite.Attendee{{Address: "bob@example.com", Role: invite.RoleRequired, PartStat: invite.PartStatNeedsAction}},
		Start:     jan1,
		End:       jan1.Add(time.Hour),
		Rule:      "FREQ=DAILY;COUNT=5",
		Summary:   "sync",
	}
}

func exceptionOn(day int) invite.Invite {
	rid := jan1.AddDate(0, 0, day-1)
	inv := meeting().WithKind(invite.Exception(invite.NewRecurID(rid, false)))
	inv.Start = rid.Add(time.Hour)
	inv.End = inv.Start.Add(time.Hour)
	return inv
}

func TestApply_RequiresLock(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Apply(context.Background(), f.mbox, ApplyRequest{Invite: meeting()})
	assert.ErrorIs(t, err, errNotLocked)
}

func TestApply_Folders(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mbox.CreateFolder(storage.Folder{ID: 400, ParentID: storage.FolderTrash, Name: "deleted stuff"}))
	require.NoError(t, f.mbox.CreateFolder(storage.Folder{ID: 401, ParentID: storage.FolderRoot, Name: "Work"}))

	todo := invite.Invite{UID: "t1", Kind: invite.Series(), Type: invite.TypeTodo, Method: invite.MethodPublish}
	tests := []struct {
		name       string
		inv        invite.Invite
		folder     int64
		wantFolder int64
		wantErr    error
	}{
		{"event default", meeting(), 0, storage.FolderCalendar, nil},
		{"todo default", todo, 0, storage.FolderTasks, nil},
		{"explicit", func() invite.Invite { i := meeting(); i.UID = "m2"; return i }(), 401, 401, nil},
		{"trash", func() invite.Invite { i := meeting(); i.UID = "m3"; return i }(), storage.FolderTrash, 0, fault.ErrCannotCreateInTrash},
		{"below trash", func() invite.Invite { i := meeting(); i.UID = "m4"; return i }(), 400, 0, fault.ErrCannotCreateInTrash},
		{"missing folder", func() invite.Invite { i := meeting(); i.UID = "m5"; return i }(), 999, 0, fault.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.apply(t, ApplyRequest{Invite: tt.inv, FolderID: tt.folder})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				_, err := f.mbox.GetCalendarItemByUID(context.Background(), tt.inv.UID)
				assert.ErrorIs(t, err, fault.ErrNotFound)
				return
			}
			require.NoError(t, err)
			ci, err := f.mbox.GetCalendarItemByID(context.Background(), res.ItemID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFolder, ci.FolderID)
		})
	}

	// Updates stay in the item's folder.
	res, err := f.apply(t, ApplyRequest{Invite: meeting().WithSequence(1), FolderID: 401})
	require.NoError(t, err)
	ci, err := f.mbox.GetCalendarItemByID(context.Background(), res.ItemID)
	require.NoError(t, err)
	assert.Equal(t, storage.FolderCalendar, ci.FolderID)
}

func TestApply_Validation(t *testing.T) {
	f := newFixture(t)
	bad := meeting()
	bad.Rule = "FREQ=SOMETIMES"
	_, err := f.apply(t, ApplyRequest{Invite: bad})
	assert.ErrorIs(t, err, fault.ErrInvalidRequest)

	_, err = f.apply(t, ApplyRequest{Invite: meeting().WithMethod(invite.MethodCancel)})
	assert.ErrorIs(t, err, fault.ErrNotFound)

	_, err = f.apply(t, ApplyRequest{Invite: meeting()})
	require.NoError(t, err)
	_, err = f.apply(t, ApplyRequest{Invite: meeting().WithMethod(invite.MethodCancel)})
	assert.ErrorIs(t, err, fault.ErrInvalidRequest)
}

func TestApply_ConflictDetection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Five revisions move the series slot to mod sequence 5.
	for i := 0; i < 5; i++ {
		_, err := f.apply(t, ApplyRequest{Invite: meeting().WithSequence(i)})
		require.NoError(t, err)
	}
	before, err := f.mbox.GetCalendarItemByUID(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, int64(5), before.Series().ModSeq)

	stale := meeting().WithSequence(9)
	stale.Summary = "stale edit"
	_, err = f.apply(t, ApplyRequest{Invite: stale, ExpectedModSeq: mo.Some(int64(3))})
	assert.ErrorIs(t, err, fault.ErrInviteOutOfDate)
	assert.Contains(t, f.logs.String(), "rejected out of date invite")

	after, err := f.mbox.GetCalendarItemByUID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// Up to date and unchecked edits go through.
	_, err = f.apply(t, ApplyRequest{Invite: stale, ExpectedModSeq: mo.Some(int64(5))})
	require.NoError(t, err)
	_, err = f.apply(t, ApplyRequest{Invite: stale.WithSequence(10)})
	require.NoError(t, err)

	// Slots are checked on their own: a new exception has nothing to conflict with.
	_, err = f.apply(t, ApplyRequest{Invite: exceptionOn(2), ExpectedModSeq: mo.Some(int64(1))})
	require.NoError(t, err)
}

func TestStateMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := opctx.Op{Actor: "alice@example.com", Timestamp: jan1.Add(-time.Hour)}
	exc := exceptionOn(2)

	assert.Equal(t, StateNone, SlotState(nil, ""))
	res, err := f.apply(t, ApplyRequest{Invite: meeting()})
	require.NoError(t, err)
	ci, _ := f.mbox.GetCalendarItemByID(ctx, res.ItemID)
	assert.Equal(t, StateDefault, SlotState(ci, ""))
	assert.Equal(t, StateNone, SlotState(ci, exc.SlotKey()))

	_, err = f.apply(t, ApplyRequest{Invite: exc})
	require.NoError(t, err)
	ci, _ = f.mbox.GetCalendarItemByID(ctx, res.ItemID)
	assert.Equal(t, StateException, SlotState(ci, exc.SlotKey()))

	// Cancelling the exception keeps its timing.
	var canc invite.Invite
	err = f.locked(t, func(ctx context.Context) error {
		var err error
		canc, _, err = f.svc.CancelInstance(ctx, f.mbox, op, res.ItemID, invite.NewRecurID(jan1.AddDate(0, 0, 1), false))
		return err
	})
	require.NoError(t, err)
	assert.True(t, canc.Kind.IsCancellation())
	assert.Equal(t, invite.MethodCancel, canc.Method)
	assert.True(t, canc.Start.Equal(exc.Start))
	ci, _ = f.mbox.GetCalendarItemByID(ctx, res.ItemID)
	assert.Equal(t, StateCancelled, SlotState(ci, exc.SlotKey()))
	require.Len(t, ci.Invites, 2)

	// A generated occurrence can be cancelled too.
	err = f.locked(t, func(ctx context.Context) error {
		var err error
		canc, _, err = f.svc.CancelInstance(ctx, f.mbox, op, res.ItemID, invite.NewRecurID(jan1.AddDate(0, 0, 2), false))
		return err
	})
	require.NoError(t, err)
	assert.True(t, canc.Start.Equal(jan1.AddDate(0, 0, 2)))
	assert.True(t, canc.End.Equal(jan1.AddDate(0, 0, 2).Add(time.Hour)))
	assert.Equal(t, 1, canc.Sequence)

	// Whole item deleted.
	var deleted *storage.CalendarItem
	err = f.locked(t, func(ctx context.Context) error {
		var err error
		deleted, err = f.svc.CancelSeries(ctx, f.mbox, res.ItemID)
		return err
	})
	require.NoError(t, err)
	assert.Len(t, deleted.Invites, 3)
	_, err = f.mbox.GetCalendarItemByID(ctx, res.ItemID)
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestNextState(t *testing.T) {
	item := storage.NewMockItem(300, storage.FolderCalendar, meeting())
	excOnly := storage.NewMockItem(301, storage.FolderCalendar, exceptionOn(2))
	cancel3 := invite.Invite{UID: "m1", Kind: invite.Cancellation(invite.NewRecurID(jan1.AddDate(0, 0, 2), false)), Method: invite.MethodCancel}

	tests := []struct {
		name    string
		item    *storage.CalendarItem
		inv     invite.Invite
		want    State
		wantErr bool
	}{
		{"create series", nil, meeting(), StateDefault, false},
		{"update series", item, meeting(), StateDefault, false},
		{"add exception", item, exceptionOn(3), StateException, false},
		{"exception without series", nil, exceptionOn(3), StateException, false},
		{"cancel generated occurrence", item, cancel3, StateCancelled, false},
		{"cancel without item", nil, cancel3, StateNone, true},
		{"cancel unknown occurrence of exception only item", excOnly, cancel3, StateNone, true},
		{"delete series", item, meeting().WithMethod(invite.MethodCancel), StateDeleted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextState(tt.item, tt.inv)
			if tt.wantErr {
				assert.ErrorIs(t, err, fault.ErrNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.apply(t, ApplyRequest{Invite: meeting().WithSequence(2)})
	require.NoError(t, err)

	counter := meeting().WithSequence(2).WithMethod(invite.MethodCounter)
	cur, err := f.svc.CheckCounter(ctx, f.mbox, counter)
	require.NoError(t, err)
	assert.Equal(t, 2, cur.Invite.Sequence)

	_, err = f.svc.CheckCounter(ctx, f.mbox, counter.WithSequence(1))
	assert.ErrorIs(t, err, fault.ErrInviteOutOfDate)

	// An occurrence without exception is countered against the series.
	occ := exceptionOn(4).WithSequence(2).WithMethod(invite.MethodCounter)
	cur, err = f.svc.CheckCounter(ctx, f.mbox, occ)
	require.NoError(t, err)
	assert.True(t, cur.Invite.Kind.IsSeries())

	unknown := counter
	unknown.UID = "nope"
	_, err = f.svc.CheckCounter(ctx, f.mbox, unknown)
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestCheckDeclineCounter(t *testing.T) {
	ctx := context.Background()
	svc := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)))
	alice := &storage.Account{Address: "alice@example.com"}
	bob := &storage.Account{Address: "bob@example.com"}

	mbox := new(storage.MockMailbox)
	mbox.On("GetCalendarItemByUID", mock.Anything, "m1").Return(storage.NewMockItem(300, storage.FolderCalendar, meeting()), nil)

	cur, err := svc.CheckDeclineCounter(ctx, mbox, alice, meeting().WithMethod(invite.MethodDeclineCounter))
	require.NoError(t, err)
	assert.Equal(t, "m1", cur.Invite.UID)

	_, err = svc.CheckDeclineCounter(ctx, mbox, bob, meeting().WithMethod(invite.MethodDeclineCounter))
	assert.ErrorIs(t, err, fault.ErrMustBeOrganizer)

	mbox.AssertNotCalled(t, "AddInvite", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mbox.AssertNotCalled(t, "DeleteCalendarItem", mock.Anything, mock.Anything)
}

func TestChangeAttendees(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.apply(t, ApplyRequest{Invite: meeting()})
	require.NoError(t, err)
	for _, day := range []int{2, 4} {
		_, err := f.apply(t, ApplyRequest{Invite: exceptionOn(day).WithMethod(invite.MethodPublish)})
		require.NoError(t, err)
	}
	cancel5 := invite.Invite{UID: "m1", Kind: invite.Cancellation(invite.NewRecurID(jan1.AddDate(0, 0, 4), false)), Method: invite.MethodCancel}
	_, err = f.apply(t, ApplyRequest{Invite: cancel5})
	require.NoError(t, err)

	// Now is Jan 3: the Jan 2 exception is in the past.
	now := jan1.AddDate(0, 0, 2)
	op := opctx.Op{Actor: "alice@example.com", Timestamp: now}
	carol := invite.Attendee{Address: "carol@example.com"}

	var changed []invite.Invite
	err = f.locked(t, func(ctx context.Context) error {
		var err error
		changed, err = f.svc.ChangeAttendees(ctx, f.mbox, op, res.ItemID, []invite.Attendee{carol}, []string{"bob@example.com"}, false)
		return err
	})
	require.NoError(t, err)
	require.Len(t, changed, 2)
	for _, inv := range changed {
		assert.Equal(t, []string{"carol@example.com"}, inv.AttendeeAddresses())
		assert.Equal(t, invite.MethodRequest, inv.Method)
		assert.True(t, inv.DTStamp.Equal(now))
	}

	ci, err := f.mbox.GetCalendarItemByID(ctx, res.ItemID)
	require.NoError(t, err)
	require.Len(t, ci.Invites, 4)
	past := ci.Slot(exceptionOn(2).SlotKey()).Invite
	assert.Equal(t, []string{"bob@example.com"}, past.AttendeeAddresses())
	assert.Equal(t, invite.MethodPublish, past.Method)

	// Including the past touches the remaining exception; a repeat is a no-op.
	err = f.locked(t, func(ctx context.Context) error {
		var err error
		changed, err = f.svc.ChangeAttendees(ctx, f.mbox, op, res.ItemID, []invite.Attendee{carol}, []string{"bob@example.com"}, true)
		return err
	})
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.True(t, changed[0].Kind.IsException())

	err = f.locked(t, func(ctx context.Context) error {
		var err error
		changed, err = f.svc.ChangeAttendees(ctx, f.mbox, op, res.ItemID, []invite.Attendee{carol}, nil, true)
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, changed)
}
