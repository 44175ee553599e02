package xml

import (
	"fmt"

	"github.com/beevik/etree"
)

// AttendeesRequest changes the attendees of a calendar item
type AttendeesRequest struct {
	Add        []Attendee
	Remove     []string
	IgnorePast bool
}

// Attendee to add
type Attendee struct {
	Address string
	Name    string
	Role    string
	RSVP    bool
}

// Parse parses an attendees request from an XML document
func (r *AttendeesRequest) Parse(doc *etree.Document) error {
	if doc == nil || doc.Root() == nil {
		return fmt.Errorf("empty document")
	}

	root := doc.Root()
	if root.Tag != TagAttendees {
		return fmt.Errorf("invalid root tag: %s", root.Tag)
	}

	// Reset the request fields
	r.Add = nil
	r.Remove = nil
	r.IgnorePast = boolAttr(root, AttrIgnorePast)

	if add := root.SelectElement(TagAdd); add != nil {
		for _, a := range add.SelectElements(TagAttendee) {
			if a.Text() == "" {
				return fmt.Errorf("attendee without address")
			}
			r.Add = append(r.Add, Attendee{
				Address: a.Text(),
				Name:    a.SelectAttrValue(AttrName, ""),
				Role:    a.SelectAttrValue(AttrRole, ""),
				RSVP:    boolAttr(a, AttrRSVP),
			})
		}
	}
	if remove := root.SelectElement(TagRemove); remove != nil {
		for _, a := range remove.SelectElements(TagAttendee) {
			r.Remove = append(r.Remove, a.Text())
		}
	}
	return nil
}

// ToXML converts an AttendeesRequest to an XML document
func (r *AttendeesRequest) ToXML() *etree.Document {
	doc := etree.NewDocument()
	root := CreateRootElement(doc, TagAttendees)
	if r.IgnorePast {
		root.CreateAttr(AttrIgnorePast, "true")
	}

	if len(r.Add) > 0 {
		add := CreateElementWithNS(root, TagAdd)
		for _, a := range r.Add {
			elem := CreateElementWithNS(add, TagAttendee)
			elem.SetText(a.Address)
			if a.Name != "" {
				elem.CreateAttr(AttrName, a.Name)
			}
			if a.Role != "" {
				elem.CreateAttr(AttrRole, a.Role)
			}
			if a.RSVP {
				elem.CreateAttr(AttrRSVP, "true")
			}
		}
	}
	if len(r.Remove) > 0 {
		remove := CreateElementWithNS(root, TagRemove)
		for _, addr := range r.Remove {
			CreateElementWithNS(remove, TagAttendee).SetText(addr)
		}
	}
	return doc
}
