package storage

import (
	"context"
	"time"

	"github.com/cyp0633/calsched/server/invite"
)

// Provider resolves mailboxes by id.
type Provider interface {
	Mailbox(ctx context.Context, mailboxID string) (Mailbox, error)
}

// Mailbox is the calendar state of one account. Implementations are safe for
// concurrent use, but read-modify-write sequences must be serialized by the
// caller through Locks. Errors are *fault.Error values, lookups of missing
// items fail with fault.ErrNotFound.
type Mailbox interface {
	// ID returns the mailbox id, which is also the lock key.
	ID() string
	// Account returns the owner of the mailbox.
	Account(ctx context.Context) (*Account, error)
	// GetFolder finds a folder by id.
	GetFolder(ctx context.Context, folderID int64) (*Folder, error)

	// GetCalendarItemByID finds a calendar item by its id.
	GetCalendarItemByID(ctx context.Context, itemID int64) (*CalendarItem, error)
	// GetCalendarItemByUID finds a calendar item by the UID of its invites.
	GetCalendarItemByUID(ctx context.Context, uid string) (*CalendarItem, error)
	// ListCalendarItems returns the items matching filter, ordered by id.
	ListCalendarItems(ctx context.Context, filter *Filter) ([]*CalendarItem, error)

	// AddInvite stores inv in the slot of its recurrence identity, creating
	// the calendar item in folderID if no item has the UID yet. The blob of
	// src, if any, is moved into the store: after AddInvite returns, the
	// original blob path is gone.
	AddInvite(ctx context.Context, inv invite.Invite, folderID int64, src *SourceMessage, flags AddFlags) (AddResult, error)
	// DeleteCalendarItem hard deletes an item with all its invites.
	DeleteCalendarItem(ctx context.Context, itemID int64) error
	// SetNextAlarm records the next alarm trigger of an item. The zero time
	// means no further alarms.
	SetNextAlarm(ctx context.Context, itemID int64, next time.Time) error
	// InviteBlob returns the source message stored with an invite revision.
	InviteBlob(ctx context.Context, itemID, invID int64) ([]byte, error)
}

// SourceMessage is the message an invite arrived in, or was uploaded with.
type SourceMessage struct {
	From        string
	IntendedFor string
	// BlobPath is a file holding the raw message. AddInvite relocates it.
	BlobPath string
}

// Provenance returns the organizer inference input for the message.
func (m *SourceMessage) Provenance() invite.Provenance {
	if m == nil {
		return invite.Provenance{}
	}
	return invite.Provenance{From: m.From, IntendedFor: m.IntendedFor}
}

// AddFlags modify AddInvite.
type AddFlags uint8

const (
	// FlagDraft marks the stored revision as a draft the client still edits.
	FlagDraft AddFlags = 1 << iota
	// FlagKeepExceptions keeps exception slots when the series is replaced
	// with a different recurrence rule.
	FlagKeepExceptions
)

// Has reports whether all of f2 are set.
func (f AddFlags) Has(f2 AddFlags) bool {
	return f&f2 == f2
}

// AddResult identifies the stored revision.
type AddResult struct {
	ItemID   int64
	InvID    int64
	CompNum  int // Position of the slot within the item
	ModSeq   int64
	Revision int64
	Created  bool // A new calendar item was created
}
