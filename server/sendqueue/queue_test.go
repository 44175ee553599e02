package sendqueue

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/itip"
	"github.com/cyp0633/calsched/server/storage"
)

type mockSender struct {
	mock.Mock
	order []string
}

func (m *mockSender) Send(ctx context.Context, from string, rcpts []string, msg io.Reader) error {
	body, _ := io.ReadAll(msg)
	m.order = append(m.order, rcpts[0])
	args := m.Called(ctx, from, rcpts, len(body) > 0)
	return args.Error(0)
}

func testData(t *testing.T, rcpt string, spool bool) *itip.CalSendData {
	t.Helper()
	d := &itip.CalSendData{
		Invite: invite.Invite{UID: "u1"},
		Message: &itip.Message{
			Date:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			From:    "alice@example.com",
			To:      []string{rcpt},
			Subject: "hello",
			Method:  invite.MethodRequest,
		},
		From:       "alice@example.com",
		Recipients: []string{rcpt},
	}
	if spool {
		require.NoError(t, d.Spool(t.TempDir()))
	}
	return d
}

func enqueueAll(t *testing.T, q *Queue, locks *storage.Locks, data ...*itip.CalSendData) {
	t.Helper()
	err := locks.WithLock(context.Background(), "alice", func(ctx context.Context) error {
		for _, d := range data {
			if err := q.Enqueue(ctx, Entry{MailboxID: "alice", Data: d}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestQueue_LockDiscipline(t *testing.T) {
	locks := storage.NewLocks()
	q := New(new(mockSender), slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := q.Enqueue(context.Background(), Entry{MailboxID: "alice", Data: testData(t, "bob@example.com", false)})
	assert.ErrorIs(t, err, ErrLockNotHeld)
	assert.Equal(t, 0, q.Len())

	err = locks.WithLock(context.Background(), "alice", func(ctx context.Context) error {
		require.NoError(t, q.Enqueue(ctx, Entry{MailboxID: "alice", Data: testData(t, "bob@example.com", false)}))
		_, err := q.Drain(ctx)
		return err
	})
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_DrainInOrderAndContinues(t *testing.T) {
	locks := storage.NewLocks()
	sender := new(mockSender)
	var logs bytes.Buffer
	q := New(sender, slog.New(slog.NewTextHandler(&logs, nil)))

	first := testData(t, "bob@example.com", true)
	second := testData(t, "carol@example.com", true)
	third := testData(t, "dave@example.com", false)
	enqueueAll(t, q, locks, first, second, third)
	require.Equal(t, 3, q.Len())

	sender.On("Send", mock.Anything, "alice@example.com", []string{"bob@example.com"}, true).Return(nil).Once()
	sender.On("Send", mock.Anything, "alice@example.com", []string{"carol@example.com"}, true).Return(errors.New("relay down")).Once()
	sender.On("Send", mock.Anything, "alice@example.com", []string{"dave@example.com"}, true).Return(nil).Once()

	failed, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, []string{"bob@example.com", "carol@example.com", "dave@example.com"}, sender.order)
	sender.AssertExpectations(t)
	assert.Contains(t, logs.String(), "relay down")

	// Spool files are gone, whether the send worked or not.
	for _, d := range []*itip.CalSendData{first, second} {
		_, err := os.Stat(d.Spooled.Path())
		assert.True(t, os.IsNotExist(err))
	}
}

func TestQueue_SkipsWithoutRecipients(t *testing.T) {
	locks := storage.NewLocks()
	sender := new(mockSender)
	q := New(sender, nil)

	d := testData(t, "bob@example.com", true)
	path := d.Spooled.Path()
	d.Recipients = nil
	enqueueAll(t, q, locks, d)

	failed, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, failed)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestQueue_EntriesQueuedInOrder(t *testing.T) {
	locks := storage.NewLocks()
	q := New(new(mockSender), nil)
	enqueueAll(t, q, locks, testData(t, "a@example.com", false), testData(t, "b@example.com", false))
	require.Len(t, q.entries, 2)
	assert.False(t, q.entries[1].Queued.Before(q.entries[0].Queued))
}
