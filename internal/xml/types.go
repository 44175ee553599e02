package xml

import (
	"strconv"
	"time"

	"github.com/beevik/etree"
)

// XML tag names
const (
	TagInstances = "instances"
	TagInstance  = "instance"
	TagStart     = "start"
	TagEnd       = "end"
	TagRecurID   = "recurrence-id"
	TagSummary   = "summary"
	TagError     = "error"
	TagType      = "type"
	TagMessage   = "message"
	TagInvalid   = "invalid"
	TagUnsent    = "valid-unsent"
	TagAddress   = "address"
	TagAttendees = "attendees"
	TagAdd       = "add"
	TagRemove    = "remove"
	TagAttendee  = "attendee"

	AttrItem       = "item"
	AttrAllDay     = "all-day"
	AttrException  = "exception"
	AttrIgnorePast = "ignore-past"
	AttrName       = "name"
	AttrRole       = "role"
	AttrRSVP       = "rsvp"
)

// timeFormat is used for every timestamp in documents
const timeFormat = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

func boolAttr(elem *etree.Element, key string) bool {
	v, err := strconv.ParseBool(elem.SelectAttrValue(key, "false"))
	return err == nil && v
}

// Error represents a failed request
type Error struct {
	Type    string
	Message string
	// Invalid and ValidUnsent are set for recipient validation failures
	Invalid     []string
	ValidUnsent []string
}

// ToElement converts an Error to an etree.Element
func (e *Error) ToElement() *etree.Element {
	elem := etree.NewElement(TagError)
	elem.Space = Prefix
	CreateElementWithNS(elem, TagType).SetText(e.Type)
	if e.Message != "" {
		CreateElementWithNS(elem, TagMessage).SetText(e.Message)
	}
	addresses(elem, TagInvalid, e.Invalid)
	addresses(elem, TagUnsent, e.ValidUnsent)
	return elem
}

// FromElement populates an Error from an etree.Element
func (e *Error) FromElement(elem *etree.Element) {
	*e = Error{}
	if t := elem.SelectElement(TagType); t != nil {
		e.Type = t.Text()
	}
	if m := elem.SelectElement(TagMessage); m != nil {
		e.Message = m.Text()
	}
	e.Invalid = parseAddresses(elem, TagInvalid)
	e.ValidUnsent = parseAddresses(elem, TagUnsent)
}

func addresses(parent *etree.Element, tag string, l []string) {
	if len(l) == 0 {
		return
	}
	list := CreateElementWithNS(parent, tag)
	for _, addr := range l {
		CreateElementWithNS(list, TagAddress).SetText(addr)
	}
}

func parseAddresses(parent *etree.Element, tag string) []string {
	list := parent.SelectElement(tag)
	if list == nil {
		return nil
	}
	var l []string
	for _, a := range list.SelectElements(TagAddress) {
		l = append(l, a.Text())
	}
	return l
}
