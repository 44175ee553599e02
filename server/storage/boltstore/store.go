// Package boltstore is a persistent storage.Provider on a bstore database.
// Invites are kept in their iCalendar form, one record per slot.
package boltstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mjl-/bstore"

	"github.com/cyp0633/calsched/server/fault"
	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/recurrence"
	"github.com/cyp0633/calsched/server/storage"
)

// Account is a mailbox with its owner.
type Account struct {
	ID               string
	Name             string
	Address          string `bstore:"nonzero"`
	Aliases          []string
	NotifyOnBehalfOf bool
	TimeZone         string
	LastModSeq       int64
	Created          time.Time `bstore:"default now"`
}

// Folder of a mailbox, FolderID being the mailbox-local id.
type Folder struct {
	ID        int64
	MailboxID string `bstore:"nonzero,unique MailboxID+FolderID"`
	FolderID  int64  `bstore:"nonzero"`
	ParentID  int64
	Name      string
}

// Item is a calendar item without its invites.
type Item struct {
	ID        int64
	MailboxID string `bstore:"nonzero,unique MailboxID+UID"`
	UID       string `bstore:"nonzero"`
	FolderID  int64  `bstore:"index"`
	Type      int
	ModSeq    int64
	Revision  int64
	NextAlarm time.Time
}

// Slot is the current invite revision of one recurrence identity. Its ID is
// the invite id.
type Slot struct {
	ID       int64
	ItemID   int64  `bstore:"ref Item,unique ItemID+SlotKey"`
	SlotKey  string // Empty for the series
	ICS      string `bstore:"nonzero"`
	ModSeq   int64
	Revision int64
	Draft    bool
	Blob     []byte
}

// DBTypes are the types stored in the database.
var DBTypes = []any{Account{}, Folder{}, Item{}, Slot{}}

// Store implements storage.Provider.
type Store struct {
	db     *bstore.DB
	engine *recurrence.Engine
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string, engine *recurrence.Engine) (*Store, error) {
	if engine == nil {
		engine = recurrence.NewEngine()
	}
	db, err := bstore.Open(ctx, path, &bstore.Options{Timeout: 5 * time.Second, Perm: 0660}, DBTypes...)
	if err != nil {
		return nil, fmt.Errorf("open calendar database: %w", err)
	}
	return &Store{db: db, engine: engine}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateMailbox adds a mailbox for acct with the default folders.
func (s *Store) CreateMailbox(ctx context.Context, acct storage.Account) error {
	return s.db.Write(ctx, func(tx *bstore.Tx) error {
		a := Account{ID: acct.ID}
		if err := tx.Get(&a); err == nil {
			return fault.New(fault.TypeAlreadyExists, "mailbox %s already exists", acct.ID)
		} else if !errors.Is(err, bstore.ErrAbsent) {
			return err
		}
		a = Account{
			ID:               acct.ID,
			Name:             acct.Name,
			Address:          acct.Address,
			Aliases:          acct.Aliases,
			NotifyOnBehalfOf: acct.NotifyOnBehalfOf,
			TimeZone:         acct.TimeZone,
		}
		if err := tx.Insert(&a); err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
		for _, f := range storage.DefaultFolders() {
			df := Folder{MailboxID: acct.ID, FolderID: f.ID, ParentID: f.ParentID, Name: f.Name}
			if err := tx.Insert(&df); err != nil {
				return fmt.Errorf("insert folder: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) Mailbox(ctx context.Context, mailboxID string) (storage.Mailbox, error) {
	err := s.db.Read(ctx, func(tx *bstore.Tx) error {
		a := Account{ID: mailboxID}
		return tx.Get(&a)
	})
	if errors.Is(err, bstore.ErrAbsent) {
		return nil, fault.New(fault.TypeNotFound, "mailbox %s not found", mailboxID)
	} else if err != nil {
		return nil, err
	}
	return &mailbox{s: s, id: mailboxID}, nil
}

// CreateFolder adds a folder to a mailbox.
func (s *Store) CreateFolder(ctx context.Context, mailboxID string, f storage.Folder) error {
	return s.db.Write(ctx, func(tx *bstore.Tx) error {
		if _, err := getFolder(tx, mailboxID, f.ParentID); err != nil {
			return err
		}
		if _, err := getFolder(tx, mailboxID, f.ID); err == nil {
			return fault.New(fault.TypeAlreadyExists, "folder %d already exists", f.ID)
		}
		df := Folder{MailboxID: mailboxID, FolderID: f.ID, ParentID: f.ParentID, Name: f.Name}
		if err := tx.Insert(&df); err != nil {
			return fmt.Errorf("insert folder: %w", err)
		}
		return nil
	})
}

type mailbox struct {
	s  *Store
	id string
}

func (m *mailbox) ID() string {
	return m.id
}

func (m *mailbox) Account(ctx context.Context) (*storage.Account, error) {
	var acct *storage.Account
	err := m.s.db.Read(ctx, func(tx *bstore.Tx) error {
		a := Account{ID: m.id}
		if err := tx.Get(&a); err != nil {
			return notFound(err, "mailbox %s", m.id)
		}
		acct = &storage.Account{
			ID:               a.ID,
			Name:             a.Name,
			Address:          a.Address,
			Aliases:          a.Aliases,
			NotifyOnBehalfOf: a.NotifyOnBehalfOf,
			TimeZone:         a.TimeZone,
		}
		return nil
	})
	return acct, err
}

func (m *mailbox) GetFolder(ctx context.Context, folderID int64) (*storage.Folder, error) {
	var f *storage.Folder
	err := m.s.db.Read(ctx, func(tx *bstore.Tx) error {
		df, err := getFolder(tx, m.id, folderID)
		if err != nil {
			return err
		}
		f = &storage.Folder{ID: df.FolderID, ParentID: df.ParentID, Name: df.Name}
		return nil
	})
	return f, err
}

func (m *mailbox) GetCalendarItemByID(ctx context.Context, itemID int64) (*storage.CalendarItem, error) {
	var ci *storage.CalendarItem
	err := m.s.db.Read(ctx, func(tx *bstore.Tx) error {
		it := Item{ID: itemID}
		if err := tx.Get(&it); err != nil {
			return notFound(err, "calendar item %d", itemID)
		}
		if it.MailboxID != m.id {
			return fault.New(fault.TypeNotFound, "calendar item %d not found", itemID)
		}
		var err error
		ci, err = loadItem(tx, it)
		return err
	})
	return ci, err
}

func (m *mailbox) GetCalendarItemByUID(ctx context.Context, uid string) (*storage.CalendarItem, error) {
	var ci *storage.CalendarItem
	err := m.s.db.Read(ctx, func(tx *bstore.Tx) error {
		it, err := bstore.QueryTx[Item](tx).FilterNonzero(Item{MailboxID: m.id, UID: uid}).Get()
		if err != nil {
			return notFound(err, "calendar item with uid %q", uid)
		}
		ci, err = loadItem(tx, it)
		return err
	})
	return ci, err
}

func (m *mailbox) ListCalendarItems(ctx context.Context, filter *storage.Filter) ([]*storage.CalendarItem, error) {
	var l []*storage.CalendarItem
	err := m.s.db.Read(ctx, func(tx *bstore.Tx) error {
		q := bstore.QueryTx[Item](tx).FilterNonzero(Item{MailboxID: m.id})
		if filter != nil && filter.FolderID != 0 {
			q.FilterEqual("FolderID", filter.FolderID)
		}
		items, err := q.SortAsc("ID").List()
		if err != nil {
			return fmt.Errorf("list calendar items: %w", err)
		}
		for _, it := range items {
			ci, err := loadItem(tx, it)
			if err != nil {
				return err
			}
			ok, err := filter.Match(ci, m.s.engine)
			if err != nil {
				return err
			}
			if ok {
				l = append(l, ci)
			}
		}
		return nil
	})
	return l, err
}

func (m *mailbox) AddInvite(ctx context.Context, inv invite.Invite, folderID int64, src *storage.SourceMessage, flags storage.AddFlags) (storage.AddResult, error) {
	ics, err := storage.InviteToICS(inv)
	if err != nil {
		return storage.AddResult{}, fmt.Errorf("encode invite: %w", err)
	}
	var blob []byte
	if src != nil && src.BlobPath != "" {
		if blob, err = os.ReadFile(src.BlobPath); err != nil {
			return storage.AddResult{}, fmt.Errorf("reading blob: %w", err)
		}
	}

	var result storage.AddResult
	err = m.s.db.Write(ctx, func(tx *bstore.Tx) error {
		acct := Account{ID: m.id}
		if err := tx.Get(&acct); err != nil {
			return notFound(err, "mailbox %s", m.id)
		}

		var ci *storage.CalendarItem
		it, err := bstore.QueryTx[Item](tx).FilterNonzero(Item{MailboxID: m.id, UID: inv.UID}).Get()
		switch {
		case err == nil:
			if ci, err = loadItem(tx, it); err != nil {
				return err
			}
		case errors.Is(err, bstore.ErrAbsent):
			if _, err := getFolder(tx, m.id, folderID); err != nil {
				return err
			}
			it = Item{MailboxID: m.id, UID: inv.UID, FolderID: folderID, Type: int(inv.Type)}
			if err := tx.Insert(&it); err != nil {
				return fmt.Errorf("insert calendar item: %w", err)
			}
			ci = &storage.CalendarItem{ID: it.ID, FolderID: folderID, UID: inv.UID, Type: inv.Type}
			result.Created = true
		default:
			return fmt.Errorf("lookup calendar item: %w", err)
		}

		acct.LastModSeq++
		if err := tx.Update(&acct); err != nil {
			return fmt.Errorf("update account: %w", err)
		}

		// One record per slot: the revision being replaced goes first.
		if _, err := bstore.QueryTx[Slot](tx).FilterNonzero(Slot{ItemID: it.ID}).FilterEqual("SlotKey", inv.SlotKey()).Delete(); err != nil {
			return fmt.Errorf("remove replaced invite: %w", err)
		}
		slot := Slot{ItemID: it.ID, SlotKey: inv.SlotKey(), ICS: ics, ModSeq: acct.LastModSeq, Draft: flags.Has(storage.FlagDraft), Blob: blob}
		if err := tx.Insert(&slot); err != nil {
			return fmt.Errorf("insert invite: %w", err)
		}

		before := map[string]bool{}
		for _, si := range ci.Invites {
			before[si.Invite.SlotKey()] = true
		}
		pos := ci.Apply(inv, slot.ID, acct.LastModSeq, flags)
		// Apply may have dropped exceptions.
		for _, si := range ci.Invites {
			delete(before, si.Invite.SlotKey())
		}
		for key := range before {
			if _, err := bstore.QueryTx[Slot](tx).FilterNonzero(Slot{ItemID: it.ID}).FilterEqual("SlotKey", key).Delete(); err != nil {
				return fmt.Errorf("remove dropped exception: %w", err)
			}
		}

		slot.Revision = ci.Revision
		if err := tx.Update(&slot); err != nil {
			return fmt.Errorf("update invite: %w", err)
		}
		it.ModSeq = acct.LastModSeq
		it.Revision = ci.Revision
		if err := tx.Update(&it); err != nil {
			return fmt.Errorf("update calendar item: %w", err)
		}

		result.ItemID = it.ID
		result.InvID = slot.ID
		result.CompNum = pos
		result.ModSeq = acct.LastModSeq
		result.Revision = ci.Revision
		return nil
	})
	if err != nil {
		return storage.AddResult{}, err
	}
	if src != nil && src.BlobPath != "" {
		if err := os.Remove(src.BlobPath); err != nil {
			return storage.AddResult{}, fmt.Errorf("removing blob: %w", err)
		}
	}
	return result, nil
}

func (m *mailbox) DeleteCalendarItem(ctx context.Context, itemID int64) error {
	return m.s.db.Write(ctx, func(tx *bstore.Tx) error {
		it := Item{ID: itemID}
		if err := tx.Get(&it); err != nil {
			return notFound(err, "calendar item %d", itemID)
		}
		if it.MailboxID != m.id {
			return fault.New(fault.TypeNotFound, "calendar item %d not found", itemID)
		}
		if _, err := bstore.QueryTx[Slot](tx).FilterNonzero(Slot{ItemID: itemID}).Delete(); err != nil {
			return fmt.Errorf("remove invites: %w", err)
		}
		if err := tx.Delete(&it); err != nil {
			return fmt.Errorf("remove calendar item: %w", err)
		}
		acct := Account{ID: m.id}
		if err := tx.Get(&acct); err != nil {
			return err
		}
		acct.LastModSeq++
		return tx.Update(&acct)
	})
}

func (m *mailbox) SetNextAlarm(ctx context.Context, itemID int64, next time.Time) error {
	return m.s.db.Write(ctx, func(tx *bstore.Tx) error {
		it := Item{ID: itemID}
		if err := tx.Get(&it); err != nil {
			return notFound(err, "calendar item %d", itemID)
		}
		if it.MailboxID != m.id {
			return fault.New(fault.TypeNotFound, "calendar item %d not found", itemID)
		}
		it.NextAlarm = next
		return tx.Update(&it)
	})
}

func (m *mailbox) InviteBlob(ctx context.Context, itemID, invID int64) ([]byte, error) {
	var blob []byte
	err := m.s.db.Read(ctx, func(tx *bstore.Tx) error {
		slot := Slot{ID: invID}
		if err := tx.Get(&slot); err != nil {
			return notFound(err, "invite %d-%d", itemID, invID)
		}
		if slot.ItemID != itemID {
			return fault.New(fault.TypeNotFound, "invite %d-%d not found", itemID, invID)
		}
		if slot.Blob == nil {
			return fault.New(fault.TypeNotFound, "no blob for invite %d-%d", itemID, invID)
		}
		blob = slot.Blob
		return nil
	})
	return blob, err
}

func getFolder(tx *bstore.Tx, mailboxID string, folderID int64) (Folder, error) {
	f, err := bstore.QueryTx[Folder](tx).FilterNonzero(Folder{MailboxID: mailboxID, FolderID: folderID}).Get()
	if err != nil {
		return Folder{}, notFound(err, "folder %d", folderID)
	}
	return f, nil
}

func loadItem(tx *bstore.Tx, it Item) (*storage.CalendarItem, error) {
	slots, err := bstore.QueryTx[Slot](tx).FilterNonzero(Slot{ItemID: it.ID}).List()
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	ci := &storage.CalendarItem{
		ID:        it.ID,
		FolderID:  it.FolderID,
		UID:       it.UID,
		Type:      invite.ItemType(it.Type),
		ModSeq:    it.ModSeq,
		Revision:  it.Revision,
		NextAlarm: it.NextAlarm,
	}
	for _, slot := range slots {
		inv, err := storage.ICSToInvite(slot.ICS)
		if err != nil {
			return nil, fmt.Errorf("decode invite %d: %w", slot.ID, err)
		}
		ci.Invites = append(ci.Invites, storage.StoredInvite{
			InvID:    slot.ID,
			Invite:   inv,
			ModSeq:   slot.ModSeq,
			Revision: slot.Revision,
			Draft:    slot.Draft,
		})
	}
	storage.SortSlots(ci.Invites)
	return ci, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, bstore.ErrAbsent) {
		return fault.New(fault.TypeNotFound, format+" not found", args...)
	}
	return err
}
