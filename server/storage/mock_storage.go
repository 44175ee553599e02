package storage

import (
	"context"
	"time"

	"github.com/cyp0633/calsched/server/invite"
	"github.com/stretchr/testify/mock"
)

// MockMailbox implements the Mailbox interface for testing
type MockMailbox struct {
	mock.Mock
}

var _ Mailbox = (*MockMailbox)(nil)

func (m *MockMailbox) ID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockMailbox) Account(ctx context.Context) (*Account, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Account), args.Error(1)
}

func (m *MockMailbox) GetFolder(ctx context.Context, folderID int64) (*Folder, error) {
	args := m.Called(ctx, folderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Folder), args.Error(1)
}

func (m *MockMailbox) GetCalendarItemByID(ctx context.Context, itemID int64) (*CalendarItem, error) {
	args := m.Called(ctx, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CalendarItem), args.Error(1)
}

func (m *MockMailbox) GetCalendarItemByUID(ctx context.Context, uid string) (*CalendarItem, error) {
	args := m.Called(ctx, uid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CalendarItem), args.Error(1)
}

func (m *MockMailbox) ListCalendarItems(ctx context.Context, filter *Filter) ([]*CalendarItem, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*CalendarItem), args.Error(1)
}

func (m *MockMailbox) AddInvite(ctx context.Context, inv invite.Invite, folderID int64, src *SourceMessage, flags AddFlags) (AddResult, error) {
	args := m.Called(ctx, inv, folderID, src, flags)
	return args.Get(0).(AddResult), args.Error(1)
}

func (m *MockMailbox) DeleteCalendarItem(ctx context.Context, itemID int64) error {
	args := m.Called(ctx, itemID)
	return args.Error(0)
}

func (m *MockMailbox) SetNextAlarm(ctx context.Context, itemID int64, next time.Time) error {
	args := m.Called(ctx, itemID, next)
	return args.Error(0)
}

func (m *MockMailbox) InviteBlob(ctx context.Context, itemID, invID int64) ([]byte, error) {
	args := m.Called(ctx, itemID, invID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// --- Helper methods for creating test data ---

// NewMockItem creates a calendar item holding invites in the order given,
// with InvIDs counting from 1.
func NewMockItem(id, folderID int64, invites ...invite.Invite) *CalendarItem {
	ci := &CalendarItem{ID: id, FolderID: folderID}
	for i, inv := range invites {
		ci.UID = inv.UID
		ci.Type = inv.Type
		ci.Revision = int64(i + 1)
		ci.ModSeq = int64(i + 1)
		ci.Invites = append(ci.Invites, StoredInvite{
			InvID:    int64(i + 1),
			Invite:   inv,
			ModSeq:   int64(i + 1),
			Revision: int64(i + 1),
		})
	}
	SortSlots(ci.Invites)
	return ci
}
