package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/calsched/internal/config"
	"github.com/cyp0633/calsched/server/auth"
	authmem "github.com/cyp0633/calsched/server/auth/memory"
	"github.com/cyp0633/calsched/server/opctx"
	"github.com/cyp0633/calsched/server/recurrence"
	"github.com/cyp0633/calsched/server/scheduling"
	"github.com/cyp0633/calsched/server/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDomainRelay(t *testing.T) {
	r := newDomainRelay([]string{"Example.COM", "bücher.example"})
	invalid, err := r.ValidateAddresses(context.Background(), []string{
		"alice@example.com",
		"Bob@EXAMPLE.com",
		"kim@xn--bcher-kva.example",
		"eve@evil.test",
		"nobody",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"eve@evil.test", "nobody"}, invalid)

	invalid, err = newDomainRelay(nil).ValidateAddresses(context.Background(), []string{"eve@evil.test"})
	require.NoError(t, err)
	assert.Empty(t, invalid)
}

func TestOutbox(t *testing.T) {
	dir := t.TempDir()
	o := &outbox{dir: dir, logger: discardLogger()}
	msg := "From: alice@example.com\r\nTo: bob@example.com\r\nSubject: Invitation: sync\r\n\r\nhello\r\n"

	require.NoError(t, o.Send(context.Background(), "alice@example.com", []string{"bob@example.com"}, strings.NewReader(msg)))

	files, err := filepath.Glob(filepath.Join(dir, "*.eml"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, msg, string(data))
}

func TestSetupAndSeed(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.StoreConfig
	}{
		{name: "memory", cfg: config.StoreConfig{Kind: config.StoreMemory}},
		{name: "bolt", cfg: config.StoreConfig{Kind: config.StoreBolt, Path: filepath.Join(t.TempDir(), "calsched.db")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			engine := recurrence.NewEngine()
			st, err := openStore(ctx, tt.cfg, engine)
			require.NoError(t, err)
			defer st.close()

			users := authmem.New()
			require.NoError(t, setupAccounts(ctx, st, users, demoAccounts, discardLogger()))

			bob, err := users.Authenticate(ctx, auth.Credentials{Username: "bob", Password: "password"})
			require.NoError(t, err)
			assert.NoError(t, users.ValidateAccess(ctx, bob, "alice"))

			o := &outbox{logger: discardLogger()}
			sched := scheduling.New(st, storage.NewLocks(), o, scheduling.Options{SpoolDir: t.TempDir(), Engine: engine, Logger: discardLogger()})
			require.NoError(t, seed(ctx, sched, demoAccounts))

			mbox, err := st.Mailbox(ctx, "alice")
			require.NoError(t, err)
			item, err := mbox.GetCalendarItemByUID(ctx, "calsched-demo-weekly")
			require.NoError(t, err)

			now := time.Now()
			instances, err := sched.ExpandRange(ctx, opctx.Op{Actor: "alice@example.com", MailboxID: "alice"}, item.ID, now, now.Add(80*24*time.Hour))
			require.NoError(t, err)
			assert.Len(t, instances, 10)
		})
	}
}

func TestSetupAccounts_ExistingMailbox(t *testing.T) {
	ctx := context.Background()
	st, err := openStore(ctx, config.StoreConfig{Kind: config.StoreBolt, Path: filepath.Join(t.TempDir(), "calsched.db")}, nil)
	require.NoError(t, err)
	defer st.close()

	require.NoError(t, setupAccounts(ctx, st, authmem.New(), demoAccounts, discardLogger()))
	// A restart creates the logins again on top of the stored mailboxes.
	require.NoError(t, setupAccounts(ctx, st, authmem.New(), demoAccounts, discardLogger()))
}
