package calclient

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/emersion/go-ical"

	"github.com/cyp0633/calsched/internal/xml"
)

// calendarToBytes converts an ical.Calendar to iCalendar format bytes
func calendarToBytes(cal *ical.Calendar) ([]byte, error) {
	if cal.Props.Get(ical.PropProductID) == nil {
		cal.Props.SetText(ical.PropProductID, "-//github.com/cyp0633/calsched//NONSGML v1.0//EN")
	}
	if cal.Props.Get(ical.PropVersion) == nil {
		cal.Props.SetText(ical.PropVersion, "2.0")
	}
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *client) itemURL(itemID int64, suffix string, query url.Values) string {
	u := c.mailboxURL + "items/" + strconv.FormatInt(itemID, 10) + suffix
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func flag(q url.Values, name string, set bool) {
	if set {
		q.Set(name, "1")
	}
}

func (c *client) PutCalendar(cal *ical.Calendar, opts PutOptions) (PutResult, error) {
	data, err := calendarToBytes(cal)
	if err != nil {
		return PutResult{}, err
	}
	q := url.Values{}
	flag(q, "notify", opts.Notify)
	flag(q, "force", opts.Force)
	flag(q, "draft", opts.Draft)
	if opts.FolderID != 0 {
		q.Set("folder", strconv.FormatInt(opts.FolderID, 10))
	}
	u := c.mailboxURL + "items"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	resp, err := c.httpClient.DoPUT(u, "text/calendar; charset=utf-8", opts.IfMatch, data)
	if err != nil {
		return PutResult{}, fmt.Errorf("failed to store calendar: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return PutResult{}, errorOf(resp)
	}

	loc := resp.Header.Get("Location")
	itemID, err := strconv.ParseInt(path.Base(loc), 10, 64)
	if err != nil {
		return PutResult{}, fmt.Errorf("invalid item location %q", loc)
	}
	return PutResult{
		ItemID:  itemID,
		Created: resp.StatusCode == http.StatusCreated,
		ETag:    resp.Header.Get("ETag"),
	}, nil
}

func (c *client) Instances(itemID int64, start, end time.Time) ([]Instance, error) {
	q := url.Values{}
	q.Set("start", start.Format(time.RFC3339))
	q.Set("end", end.Format(time.RFC3339))

	resp, err := c.httpClient.DoGET(c.itemURL(itemID, "/instances", q))
	if err != nil {
		return nil, fmt.Errorf("failed to expand item %d: %w", itemID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errorOf(resp)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(resp.Body); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	var ir xml.InstancesResponse
	if err := ir.Parse(doc); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	instances := make([]Instance, len(ir.Instances))
	for i, x := range ir.Instances {
		instances[i] = Instance{
			Start:        x.Start,
			End:          x.End,
			AllDay:       x.AllDay,
			Exception:    x.Exception,
			RecurrenceID: x.RecurID,
			Summary:      x.Summary,
		}
	}
	return instances, nil
}

func (c *client) Cancel(itemID int64, opts CancelOptions) error {
	q := url.Values{}
	if opts.RecurrenceID != "" {
		q.Set("rid", opts.RecurrenceID)
	}
	flag(q, "notify", opts.Notify)

	resp, err := c.httpClient.DoDELETE(c.itemURL(itemID, "", q))
	if err != nil {
		return fmt.Errorf("failed to cancel item %d: %w", itemID, err)
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return errorOf(resp)
	}
	return nil
}

func (c *client) ChangeAttendees(itemID int64, add []Attendee, remove []string, ignorePast bool) error {
	req := xml.AttendeesRequest{Remove: remove, IgnorePast: ignorePast}
	for _, a := range add {
		req.Add = append(req.Add, xml.Attendee{Address: a.Address, Name: a.Name, Role: a.Role, RSVP: a.RSVP})
	}
	body, err := req.ToXML().WriteToBytes()
	if err != nil {
		return fmt.Errorf("failed to encode attendees: %w", err)
	}

	resp, err := c.httpClient.DoPOST(c.itemURL(itemID, "/attendees", nil), "application/xml; charset=utf-8", body)
	if err != nil {
		return fmt.Errorf("failed to change attendees of item %d: %w", itemID, err)
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return errorOf(resp)
	}
	return nil
}
