package calclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/calsched/internal/httpclient"
	"github.com/cyp0633/calsched/server/auth"
	authmem "github.com/cyp0633/calsched/server/auth/memory"
	"github.com/cyp0633/calsched/server/handlers"
	"github.com/cyp0633/calsched/server/scheduling"
	"github.com/cyp0633/calsched/server/storage"
	"github.com/cyp0633/calsched/server/storage/memory"
)

var testTime = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

type recorder struct {
	rcpts [][]string
}

func (r *recorder) Send(_ context.Context, _ string, rcpts []string, msg io.Reader) error {
	r.rcpts = append(r.rcpts, rcpts)
	_, err := io.Copy(io.Discard, msg)
	return err
}

func newTestClient(t *testing.T, user string) (Client, *recorder) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memory.New(nil)
	_, err := store.CreateMailbox(storage.Account{ID: "alice", Address: "alice@example.com"})
	require.NoError(t, err)
	users := authmem.New()
	require.NoError(t, users.AddUser("alice", "secret", "alice@example.com"))
	require.NoError(t, users.AddUser("mallory", "secret", "mallory@example.com"))

	rec := &recorder{}
	sched := scheduling.New(store, storage.NewLocks(), rec, scheduling.Options{SpoolDir: t.TempDir(), Logger: logger})
	router := handlers.NewRouter(sched, store, "/api", logger)
	srv := httptest.NewServer(auth.Middleware(users, "", "/api")(router))
	t.Cleanup(srv.Close)

	base, err := url.Parse(srv.URL)
	require.NoError(t, err)
	hc := &http.Client{Transport: httpclient.NewBasicAuthTransport(user, "secret", nil, logger)}
	wrapper, err := httpclient.NewHttpClientWrapper(hc, *base, logger)
	require.NoError(t, err)
	return NewClient(wrapper, "/api/alice"), rec
}

func weeklyMeeting(attendees ...string) *ical.Calendar {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, "weekly-1")
	event.Props.SetDateTime(ical.PropDateTimeStamp, testTime.Add(-24*time.Hour))
	event.Props.SetDateTime(ical.PropDateTimeStart, testTime)
	event.Props.SetDateTime(ical.PropDateTimeEnd, testTime.Add(time.Hour))
	event.Props.SetText(ical.PropSummary, "Weekly sync")
	event.Props.Set(&ical.Prop{Name: ical.PropRecurrenceRule, Params: make(ical.Params), Value: "FREQ=WEEKLY;COUNT=4"})
	event.Props.Set(&ical.Prop{Name: ical.PropOrganizer, Params: make(ical.Params), Value: "mailto:alice@example.com"})
	for _, a := range attendees {
		event.Props.Add(&ical.Prop{Name: ical.PropAttendee, Params: make(ical.Params), Value: "mailto:" + a})
	}

	cal := ical.NewCalendar()
	cal.Children = append(cal.Children, event.Component)
	return cal
}

func TestClient_Lifecycle(t *testing.T) {
	c, rec := newTestClient(t, "alice")

	first, err := c.PutCalendar(weeklyMeeting("bob@example.com"), PutOptions{Notify: true})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.NotEmpty(t, first.ETag)
	itemID := first.ItemID
	require.Len(t, rec.rcpts, 1)
	assert.Equal(t, []string{"bob@example.com"}, rec.rcpts[0])

	again, err := c.PutCalendar(weeklyMeeting("bob@example.com"), PutOptions{IfMatch: first.ETag})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, itemID, again.ItemID)

	// The first revision is out of date now.
	_, err = c.PutCalendar(weeklyMeeting("bob@example.com"), PutOptions{IfMatch: first.ETag})
	var stale *Error
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, http.StatusConflict, stale.StatusCode)
	assert.Equal(t, "invite_out_of_date", stale.Type)

	instances, err := c.Instances(itemID, testTime.Add(-time.Hour), testTime.Add(60*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, instances, 4)
	assert.Equal(t, "Weekly sync", instances[0].Summary)
	assert.True(t, instances[1].Start.Equal(testTime.Add(7*24*time.Hour)))

	require.NoError(t, c.Cancel(itemID, CancelOptions{RecurrenceID: instances[1].RecurrenceID}))
	instances, err = c.Instances(itemID, testTime.Add(-time.Hour), testTime.Add(60*24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, instances, 3)

	require.NoError(t, c.ChangeAttendees(itemID, []Attendee{{Address: "carol@example.com", RSVP: true}}, []string{"bob@example.com"}, false))
	require.Len(t, rec.rcpts, 3)
	assert.Equal(t, []string{"bob@example.com"}, rec.rcpts[1])
	assert.Equal(t, []string{"carol@example.com"}, rec.rcpts[2])

	require.NoError(t, c.Cancel(itemID, CancelOptions{Notify: true}))
	assert.Equal(t, []string{"carol@example.com"}, rec.rcpts[3])

	_, err = c.Instances(itemID, testTime, testTime.Add(time.Hour))
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, http.StatusNotFound, cerr.StatusCode)
	assert.Equal(t, "not_found", cerr.Type)
}

func TestClient_Errors(t *testing.T) {
	t.Run("invalid recipients", func(t *testing.T) {
		c, rec := newTestClient(t, "alice")
		_, err := c.PutCalendar(weeklyMeeting("bob@example.com", "carol at example"), PutOptions{Notify: true})
		var cerr *Error
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, http.StatusBadRequest, cerr.StatusCode)
		assert.Equal(t, "invalid_recipients", cerr.Type)
		assert.Equal(t, []string{"carol at example"}, cerr.Invalid)
		assert.Equal(t, []string{"bob@example.com"}, cerr.ValidUnsent)
		assert.Empty(t, rec.rcpts)
	})

	t.Run("forbidden mailbox", func(t *testing.T) {
		c, _ := newTestClient(t, "mallory")
		err := c.Cancel(257, CancelOptions{})
		var cerr *Error
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, http.StatusForbidden, cerr.StatusCode)
		assert.Empty(t, cerr.Type)
		assert.True(t, strings.HasPrefix(cerr.Error(), "unexpected status code"))
	})
}

func TestNewClient_TrailingSlash(t *testing.T) {
	c := NewClient(nil, "/api/alice").(*client)
	assert.Equal(t, "/api/alice/", c.mailboxURL)
	assert.Equal(t, "/api/alice/items/7/instances?start=x", c.itemURL(7, "/instances", url.Values{"start": {"x"}}))
}
