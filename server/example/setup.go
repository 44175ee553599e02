package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/mo"

	"github.com/cyp0633/calsched/internal/config"
	authmem "github.com/cyp0633/calsched/server/auth/memory"
	"github.com/cyp0633/calsched/server/fault"
	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/opctx"
	"github.com/cyp0633/calsched/server/recurrence"
	"github.com/cyp0633/calsched/server/scheduling"
	"github.com/cyp0633/calsched/server/storage"
	"github.com/cyp0633/calsched/server/storage/boltstore"
	"github.com/cyp0633/calsched/server/storage/memory"
)

// store is a Mailbox Store that can create mailboxes.
type store struct {
	storage.Provider
	create func(ctx context.Context, acct storage.Account) error
	close  func() error
}

// openStore opens the store cfg names.
func openStore(ctx context.Context, cfg config.StoreConfig, engine *recurrence.Engine) (*store, error) {
	switch cfg.Kind {
	case config.StoreBolt:
		s, err := boltstore.Open(ctx, cfg.Path, engine)
		if err != nil {
			return nil, err
		}
		return &store{Provider: s, create: s.CreateMailbox, close: s.Close}, nil
	default:
		s := memory.New(engine)
		return &store{
			Provider: s,
			create: func(_ context.Context, acct storage.Account) error {
				_, err := s.CreateMailbox(acct)
				return err
			},
			close: func() error { return nil },
		}, nil
	}
}

// setupAccounts creates the configured mailboxes and their logins. Mailboxes
// that already exist in a persistent store are kept.
func setupAccounts(ctx context.Context, st *store, users *authmem.Store, accounts []config.AccountConfig, logger *slog.Logger) error {
	for _, a := range accounts {
		err := st.create(ctx, storage.Account{
			ID:       a.ID,
			Name:     a.Name,
			Address:  a.Address,
			TimeZone: a.Timezone,
		})
		if err != nil && !errors.Is(err, fault.ErrAlreadyExists) {
			return fmt.Errorf("failed to create mailbox %s: %w", a.ID, err)
		}
		if err := users.AddUser(a.ID, a.Password, a.Address); err != nil {
			return err
		}
		logger.Info("mailbox ready", "id", a.ID, "address", a.Address)
	}
	for _, a := range accounts {
		for _, d := range a.Delegates {
			if err := users.Grant(a.ID, d); err != nil {
				return err
			}
		}
	}
	return nil
}

// demoAccounts are used when the configuration names none.
var demoAccounts = []config.AccountConfig{
	{ID: "alice", Name: "Alice Smith", Address: "alice@example.com", Password: "password", Delegates: []string{"bob"}},
	{ID: "bob", Name: "Bob Johnson", Address: "bob@example.com", Password: "password"},
}

// seed stores a weekly meeting in the first mailbox, organized by its owner
// and attended by the other accounts.
func seed(ctx context.Context, sched *scheduling.Scheduler, accounts []config.AccountConfig) error {
	if len(accounts) == 0 {
		return nil
	}
	owner := accounts[0]
	start := time.Now().UTC().Truncate(24 * time.Hour).Add(24*time.Hour + 9*time.Hour)

	inv := invite.Invite{
		Kind:      invite.Series(),
		Type:      invite.TypeEvent,
		Method:    invite.MethodRequest,
		UID:       "calsched-demo-weekly",
		Summary:   "Weekly sync",
		Location:  "Conference Room A",
		Start:     start,
		End:       start.Add(time.Hour),
		Organizer: mo.Some(invite.Organizer{Address: owner.Address, Name: owner.Name}),
		Rule:      "FREQ=WEEKLY;COUNT=10",
	}
	for _, a := range accounts[1:] {
		inv.Attendees = append(inv.Attendees, invite.Attendee{
			Address:  a.Address,
			Name:     a.Name,
			Role:     invite.RoleRequired,
			PartStat: invite.PartStatNeedsAction,
			RSVP:     true,
		})
	}

	res, err := sched.CreateOrUpdate(ctx, opctx.Op{Actor: owner.Address, MailboxID: owner.ID}, scheduling.CreateRequest{Invite: inv})
	if err != nil {
		return fmt.Errorf("failed to seed %s: %w", owner.ID, err)
	}
	slog.Info("seeded demo meeting", "mailbox", owner.ID, "item", res.ItemID)
	return nil
}
