package calclient

import (
	"time"

	"github.com/emersion/go-ical"

	"github.com/cyp0633/calsched/internal/httpclient"
)

// Client is a client of the calsched scheduling API for one mailbox
type Client interface {
	// PutCalendar stores the invites of cal, series first.
	PutCalendar(cal *ical.Calendar, opts PutOptions) (PutResult, error)
	Instances(itemID int64, start, end time.Time) ([]Instance, error)
	// Cancel cancels an item, or the occurrence opts.RecurrenceID names.
	Cancel(itemID int64, opts CancelOptions) error
	ChangeAttendees(itemID int64, add []Attendee, remove []string, ignorePast bool) error
}

// PutOptions are the flags of PutCalendar.
type PutOptions struct {
	Notify   bool
	Force    bool
	Draft    bool
	FolderID int64
	// IfMatch is the ETag of an earlier PutResult. The update fails with
	// invite_out_of_date if the item changed since.
	IfMatch string
}

// PutResult identifies the stored item.
type PutResult struct {
	ItemID  int64
	Created bool
	ETag    string
}

// CancelOptions are the flags of Cancel.
type CancelOptions struct {
	// RecurrenceID is the RecurrenceID of an Instance. Empty cancels the
	// whole item.
	RecurrenceID string
	Notify       bool
}

// Instance is one expanded occurrence.
type Instance struct {
	Start        time.Time
	End          time.Time
	AllDay       bool
	Exception    bool
	RecurrenceID string
	Summary      string
}

// Attendee to add to an item.
type Attendee struct {
	Address string
	Name    string
	// Role is an iCalendar ROLE, REQ-PARTICIPANT if empty.
	Role string
	RSVP bool
}

type client struct {
	httpClient httpclient.HttpClientWrapper
	mailboxURL string
}

// NewClient creates a new client of the mailbox at mailboxURL, e.g.
// "https://host/api/alice/".
func NewClient(httpClient httpclient.HttpClientWrapper, mailboxURL string) Client {
	if mailboxURL != "" && mailboxURL[len(mailboxURL)-1] != '/' {
		mailboxURL += "/"
	}
	return &client{
		httpClient: httpClient,
		mailboxURL: mailboxURL,
	}
}
