// Package itip builds the outbound scheduling mail of calendar operations:
// the iCalendar payload, its MIME envelope and the recipients it goes to.
package itip

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/cyp0633/calsched/server/invite"
)

// Attachment is a file carried along with a scheduling message. Data is
// read from Path at serialization time when Path is set.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
	Path        string
}

// Message is an outbound scheduling mail before serialization. A message
// without Calendar is a plain notification.
type Message struct {
	MessageID string
	Date      time.Time
	From      string
	FromName  string
	// Sender is set when From is acted for by a delegate.
	Sender    string
	To        []string
	Subject   string
	InReplyTo string
	Text      string

	Method      invite.Method
	Calendar    []byte
	Attachments []Attachment
}

// WriteTo renders the message as multipart/mixed with a multipart/alternative
// body of text and calendar.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}

	var h mail.Header
	h.Set("MIME-Version", "1.0")
	h.SetDate(m.Date)
	h.SetAddressList("From", []*mail.Address{{Name: m.FromName, Address: m.From}})
	if m.Sender != "" && !invite.SameAddress(m.Sender, m.From) {
		h.SetAddressList("Sender", []*mail.Address{{Address: m.Sender}})
	}
	to := make([]*mail.Address, 0, len(m.To))
	for _, addr := range m.To {
		to = append(to, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", to)
	h.SetSubject(m.Subject)
	if m.MessageID != "" {
		h.SetMessageID(m.MessageID)
	}
	if m.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{m.InReplyTo})
	}

	mw, err := mail.CreateWriter(cw, h)
	if err != nil {
		return cw.n, fmt.Errorf("failed to create message writer: %w", err)
	}
	iw, err := mw.CreateInline()
	if err != nil {
		return cw.n, fmt.Errorf("failed to create inline writer: %w", err)
	}
	if err := writeInline(iw, "text/plain", map[string]string{"charset": "utf-8"}, []byte(m.Text)); err != nil {
		return cw.n, err
	}
	if m.Calendar != nil {
		params := map[string]string{"charset": "utf-8"}
		if m.Method != "" {
			params["method"] = string(m.Method)
		}
		if err := writeInline(iw, "text/calendar", params, m.Calendar); err != nil {
			return cw.n, err
		}
	}
	if err := iw.Close(); err != nil {
		return cw.n, err
	}

	for _, a := range m.Attachments {
		var ah mail.AttachmentHeader
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		ah.Set("Content-Type", ct)
		ah.SetFilename(a.Filename)
		ah.Set("Content-Transfer-Encoding", "base64")
		data := a.Data
		if a.Path != "" {
			if data, err = os.ReadFile(a.Path); err != nil {
				return cw.n, fmt.Errorf("failed to read attachment %q: %w", a.Filename, err)
			}
		}
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return cw.n, fmt.Errorf("failed to create attachment %q: %w", a.Filename, err)
		}
		if _, err := aw.Write(data); err != nil {
			return cw.n, err
		}
		if err := aw.Close(); err != nil {
			return cw.n, err
		}
	}
	if err := mw.Close(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

func writeInline(iw *mail.InlineWriter, contentType string, params map[string]string, body []byte) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, params)
	ph.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := iw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := pw.Write(body); err != nil {
		return err
	}
	return pw.Close()
}

// Domain returns the domain part of addr.
func Domain(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return addr[i+1:]
	}
	return "localhost"
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
