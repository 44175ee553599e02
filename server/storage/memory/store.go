// memory based implementation for testing purposes
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cyp0633/calsched/server/fault"
	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/recurrence"
	"github.com/cyp0633/calsched/server/storage"
)

// Store implements storage.Provider using in-memory maps
type Store struct {
	engine    *recurrence.Engine
	mu        sync.RWMutex
	mailboxes map[string]*Mailbox
}

// New creates a new in-memory store. Time range filters are evaluated with
// engine, nil means a cacheless engine.
func New(engine *recurrence.Engine) *Store {
	if engine == nil {
		engine = recurrence.NewEngine()
	}
	return &Store{
		engine:    engine,
		mailboxes: make(map[string]*Mailbox),
	}
}

// CreateMailbox adds a mailbox for acct with the default folders.
func (s *Store) CreateMailbox(acct storage.Account) (*Mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.mailboxes[acct.ID]; exists {
		return nil, fault.New(fault.TypeAlreadyExists, "mailbox %s already exists", acct.ID)
	}
	m := &Mailbox{
		engine:     s.engine,
		account:    acct,
		folders:    map[int64]storage.Folder{},
		items:      map[int64]*storage.CalendarItem{},
		byUID:      map[string]int64{},
		blobs:      map[int64][]byte{},
		nextItemID: 256,
	}
	for _, f := range storage.DefaultFolders() {
		m.folders[f.ID] = f
	}
	s.mailboxes[acct.ID] = m
	return m, nil
}

func (s *Store) Mailbox(_ context.Context, mailboxID string) (storage.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mailboxes[mailboxID]
	if !ok {
		return nil, fault.New(fault.TypeNotFound, "mailbox %s not found", mailboxID)
	}
	return m, nil
}

// Mailbox implements storage.Mailbox. Items handed out are copies.
type Mailbox struct {
	engine *recurrence.Engine

	mu         sync.RWMutex
	account    storage.Account
	folders    map[int64]storage.Folder
	items      map[int64]*storage.CalendarItem
	byUID      map[string]int64
	blobs      map[int64][]byte // key: invID
	nextItemID int64
	nextInvID  int64
	modSeq     int64
}

func (m *Mailbox) ID() string {
	return m.account.ID
}

func (m *Mailbox) Account(_ context.Context) (*storage.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct := m.account
	acct.Aliases = append([]string(nil), m.account.Aliases...)
	return &acct, nil
}

// CreateFolder adds a folder below an existing parent.
func (m *Mailbox) CreateFolder(f storage.Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.folders[f.ID]; exists {
		return fault.New(fault.TypeAlreadyExists, "folder %d already exists", f.ID)
	}
	if _, exists := m.folders[f.ParentID]; !exists {
		return fault.New(fault.TypeNotFound, "parent folder %d not found", f.ParentID)
	}
	m.folders[f.ID] = f
	return nil
}

func (m *Mailbox) GetFolder(_ context.Context, folderID int64) (*storage.Folder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.folders[folderID]
	if !ok {
		return nil, fault.New(fault.TypeNotFound, "folder %d not found", folderID)
	}
	return &f, nil
}

func (m *Mailbox) GetCalendarItemByID(_ context.Context, itemID int64) (*storage.CalendarItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ci, ok := m.items[itemID]
	if !ok {
		return nil, fault.New(fault.TypeNotFound, "calendar item %d not found", itemID)
	}
	return ci.Clone(), nil
}

func (m *Mailbox) GetCalendarItemByUID(_ context.Context, uid string) (*storage.CalendarItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUID[uid]
	if !ok {
		return nil, fault.New(fault.TypeNotFound, "calendar item with uid %q not found", uid)
	}
	return m.items[id].Clone(), nil
}

func (m *Mailbox) ListCalendarItems(_ context.Context, filter *storage.Filter) ([]*storage.CalendarItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var l []*storage.CalendarItem
	for _, ci := range m.items {
		ok, err := filter.Match(ci, m.engine)
		if err != nil {
			return nil, err
		}
		if ok {
			l = append(l, ci.Clone())
		}
	}
	sort.Slice(l, func(i, j int) bool { return l[i].ID < l[j].ID })
	return l, nil
}

func (m *Mailbox) AddInvite(_ context.Context, inv invite.Invite, folderID int64, src *storage.SourceMessage, flags storage.AddFlags) (storage.AddResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result storage.AddResult
	var ci *storage.CalendarItem
	if id, ok := m.byUID[inv.UID]; ok {
		ci = m.items[id].Clone()
	} else {
		if _, ok := m.folders[folderID]; !ok {
			return storage.AddResult{}, fault.New(fault.TypeNotFound, "folder %d not found", folderID)
		}
		ci = &storage.CalendarItem{ID: m.nextItemID + 1, FolderID: folderID, UID: inv.UID, Type: inv.Type}
		result.Created = true
	}

	var blob []byte
	if src != nil && src.BlobPath != "" {
		var err error
		if blob, err = storage.ConsumeBlob(src.BlobPath); err != nil {
			return storage.AddResult{}, err
		}
	}
	if result.Created {
		m.nextItemID++
	}

	m.modSeq++
	m.nextInvID++
	pos := ci.Apply(inv.Clone(), m.nextInvID, m.modSeq, flags)
	m.items[ci.ID] = ci
	m.byUID[ci.UID] = ci.ID
	if blob != nil {
		m.blobs[m.nextInvID] = blob
	}

	result.ItemID = ci.ID
	result.InvID = m.nextInvID
	result.CompNum = pos
	result.ModSeq = m.modSeq
	result.Revision = ci.Revision
	return result, nil
}

func (m *Mailbox) DeleteCalendarItem(_ context.Context, itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ci, ok := m.items[itemID]
	if !ok {
		return fault.New(fault.TypeNotFound, "calendar item %d not found", itemID)
	}
	for _, si := range ci.Invites {
		delete(m.blobs, si.InvID)
	}
	delete(m.items, itemID)
	delete(m.byUID, ci.UID)
	m.modSeq++
	return nil
}

func (m *Mailbox) SetNextAlarm(_ context.Context, itemID int64, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ci, ok := m.items[itemID]
	if !ok {
		return fault.New(fault.TypeNotFound, "calendar item %d not found", itemID)
	}
	ci.NextAlarm = next
	return nil
}

func (m *Mailbox) InviteBlob(_ context.Context, itemID, invID int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ci, ok := m.items[itemID]
	if !ok || ci.InviteByID(invID) == nil {
		return nil, fault.New(fault.TypeNotFound, "invite %d-%d not found", itemID, invID)
	}
	blob, ok := m.blobs[invID]
	if !ok {
		return nil, fault.New(fault.TypeNotFound, "no blob for invite %d-%d", itemID, invID)
	}
	return append([]byte(nil), blob...), nil
}
