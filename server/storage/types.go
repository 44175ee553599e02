package storage

import (
	"context"
	"sort"
	"time"

	"github.com/cyp0633/calsched/server/invite"
)

// Well known folder ids, the same in every mailbox.
const (
	FolderRoot     int64 = 1
	FolderTrash    int64 = 3
	FolderCalendar int64 = 10
	FolderTasks    int64 = 15
)

// Account is the owner of a mailbox.
type Account struct {
	ID      string
	Name    string
	Address string
	Aliases []string
	// NotifyOnBehalfOf makes delegates copy the owner on messages they send
	// on the owner's behalf.
	NotifyOnBehalfOf bool
	// TimeZone for floating times, an IANA name. Empty means UTC.
	TimeZone string
}

// Addresses returns the account address and its aliases.
func (a *Account) Addresses() invite.AddressSet {
	s := invite.NewAddressSet(a.Address)
	for _, alias := range a.Aliases {
		s.Add(alias)
	}
	return s
}

// Location returns the account time zone.
func (a *Account) Location() *time.Location {
	if a.TimeZone == "" {
		return time.UTC
	}
	if loc, err := time.LoadLocation(a.TimeZone); err == nil {
		return loc
	}
	return time.UTC
}

// Folder of a mailbox. Folders form a tree rooted at FolderRoot.
type Folder struct {
	ID       int64
	ParentID int64
	Name     string
}

// DefaultFolders returns the folders every new mailbox starts with.
func DefaultFolders() []Folder {
	return []Folder{
		{ID: FolderRoot, Name: "USER_ROOT"},
		{ID: FolderTrash, ParentID: FolderRoot, Name: "Trash"},
		{ID: FolderCalendar, ParentID: FolderRoot, Name: "Calendar"},
		{ID: FolderTasks, ParentID: FolderRoot, Name: "Tasks"},
	}
}

// DefaultFolder returns the folder new items of type t go to.
func DefaultFolder(t invite.ItemType) int64 {
	if t == invite.TypeTodo {
		return FolderTasks
	}
	return FolderCalendar
}

// InTrash reports whether folderID is the trash folder or below it.
func InTrash(ctx context.Context, mbox Mailbox, folderID int64) (bool, error) {
	seen := map[int64]bool{}
	for id := folderID; id != 0 && !seen[id]; {
		if id == FolderTrash {
			return true, nil
		}
		seen[id] = true
		f, err := mbox.GetFolder(ctx, id)
		if err != nil {
			return false, err
		}
		id = f.ParentID
	}
	return false, nil
}

// StoredInvite is one persisted invite revision in its slot.
type StoredInvite struct {
	InvID    int64
	Invite   invite.Invite
	ModSeq   int64
	Revision int64
	Draft    bool
}

// CalendarItem is one event or task in a mailbox with all its invite
// revisions, one per recurrence identity slot.
type CalendarItem struct {
	ID        int64
	FolderID  int64
	UID       string
	Type      invite.ItemType
	Invites   []StoredInvite // Series first, then exceptions by recurrence identity
	ModSeq    int64
	Revision  int64
	NextAlarm time.Time
}

// Series returns the series slot, nil for items created from a single
// exception.
func (ci *CalendarItem) Series() *StoredInvite {
	return ci.Slot("")
}

// Slot returns the invite stored under a recurrence identity key, the empty
// key being the series.
func (ci *CalendarItem) Slot(key string) *StoredInvite {
	for i := range ci.Invites {
		if ci.Invites[i].Invite.SlotKey() == key {
			return &ci.Invites[i]
		}
	}
	return nil
}

// InviteByID returns the revision with invID.
func (ci *CalendarItem) InviteByID(invID int64) *StoredInvite {
	for i := range ci.Invites {
		if ci.Invites[i].InvID == invID {
			return &ci.Invites[i]
		}
	}
	return nil
}

// InviteList returns copies of all invites of the item.
func (ci *CalendarItem) InviteList() []invite.Invite {
	l := make([]invite.Invite, 0, len(ci.Invites))
	for _, si := range ci.Invites {
		l = append(l, si.Invite)
	}
	return l
}

// Clone returns a copy that shares no slices with ci.
func (ci *CalendarItem) Clone() *CalendarItem {
	n := *ci
	n.Invites = make([]StoredInvite, len(ci.Invites))
	for i, si := range ci.Invites {
		si.Invite = si.Invite.Clone()
		n.Invites[i] = si
	}
	return &n
}

// Put replaces or adds the slot of si and returns its position.
func (ci *CalendarItem) Put(si StoredInvite) int {
	key := si.Invite.SlotKey()
	for i := range ci.Invites {
		if ci.Invites[i].Invite.SlotKey() == key {
			ci.Invites[i] = si
			return i
		}
	}
	ci.Invites = append(ci.Invites, si)
	SortSlots(ci.Invites)
	for i := range ci.Invites {
		if ci.Invites[i].InvID == si.InvID {
			return i
		}
	}
	return len(ci.Invites) - 1
}

// Apply stores inv in its slot as revision invID at modSeq and returns the
// slot position. Replacing the series with a different recurrence rule drops
// the exceptions, their recurrence identities no longer refer to the series,
// unless FlagKeepExceptions is set.
func (ci *CalendarItem) Apply(inv invite.Invite, invID, modSeq int64, flags AddFlags) int {
	if ci.DropsExceptions(inv, flags) {
		ci.DropExceptions()
	}
	ci.Revision++
	ci.ModSeq = modSeq
	return ci.Put(StoredInvite{
		InvID:    invID,
		Invite:   inv,
		ModSeq:   modSeq,
		Revision: ci.Revision,
		Draft:    flags.Has(FlagDraft),
	})
}

// DropsExceptions reports whether applying inv with flags replaces the
// recurrence rule of the series and so drops the exception slots.
func (ci *CalendarItem) DropsExceptions(inv invite.Invite, flags AddFlags) bool {
	if !inv.Kind.IsSeries() || flags.Has(FlagKeepExceptions) {
		return false
	}
	old := ci.Series()
	return old != nil && old.Invite.Rule != inv.Rule
}

// DropExceptions removes all exception and cancellation slots.
func (ci *CalendarItem) DropExceptions() {
	l := ci.Invites[:0]
	for _, si := range ci.Invites {
		if si.Invite.Kind.IsSeries() {
			l = append(l, si)
		}
	}
	ci.Invites = l
}

// SortSlots orders slots series first, then by recurrence identity key.
func SortSlots(l []StoredInvite) {
	sort.SliceStable(l, func(i, j int) bool {
		return l[i].Invite.SlotKey() < l[j].Invite.SlotKey()
	})
}
