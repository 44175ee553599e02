package xml

import (
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"
)

// InstancesResponse lists the expanded occurrences of one calendar item
type InstancesResponse struct {
	ItemID    int64
	Instances []Instance
}

// Instance is one occurrence in an InstancesResponse
type Instance struct {
	Start     time.Time // Zero for occurrences without start
	End       time.Time
	AllDay    bool
	Exception bool
	RecurID   string
	Summary   string
}

// Parse parses an instances response from an XML document
func (r *InstancesResponse) Parse(doc *etree.Document) error {
	if doc == nil || doc.Root() == nil {
		return fmt.Errorf("empty document")
	}

	root := doc.Root()
	if root.Tag != TagInstances {
		return fmt.Errorf("invalid root tag: %s", root.Tag)
	}

	r.Instances = nil
	id, err := strconv.ParseInt(root.SelectAttrValue(AttrItem, "0"), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid item id: %w", err)
	}
	r.ItemID = id

	for _, elem := range root.SelectElements(TagInstance) {
		inst := Instance{
			AllDay:    boolAttr(elem, AttrAllDay),
			Exception: boolAttr(elem, AttrException),
		}
		if s := elem.SelectElement(TagStart); s != nil {
			if inst.Start, err = parseTime(s.Text()); err != nil {
				return fmt.Errorf("invalid start: %w", err)
			}
		}
		if e := elem.SelectElement(TagEnd); e != nil {
			if inst.End, err = parseTime(e.Text()); err != nil {
				return fmt.Errorf("invalid end: %w", err)
			}
		}
		if rid := elem.SelectElement(TagRecurID); rid != nil {
			inst.RecurID = rid.Text()
		}
		if s := elem.SelectElement(TagSummary); s != nil {
			inst.Summary = s.Text()
		}
		r.Instances = append(r.Instances, inst)
	}
	return nil
}

// ToXML converts an InstancesResponse to an XML document
func (r *InstancesResponse) ToXML() *etree.Document {
	doc := etree.NewDocument()
	root := CreateRootElement(doc, TagInstances)
	root.CreateAttr(AttrItem, strconv.FormatInt(r.ItemID, 10))

	for _, inst := range r.Instances {
		elem := CreateElementWithNS(root, TagInstance)
		if inst.AllDay {
			elem.CreateAttr(AttrAllDay, "true")
		}
		if inst.Exception {
			elem.CreateAttr(AttrException, "true")
		}
		if !inst.Start.IsZero() {
			CreateElementWithNS(elem, TagStart).SetText(formatTime(inst.Start))
			CreateElementWithNS(elem, TagEnd).SetText(formatTime(inst.End))
		}
		if inst.RecurID != "" {
			CreateElementWithNS(elem, TagRecurID).SetText(inst.RecurID)
		}
		if inst.Summary != "" {
			CreateElementWithNS(elem, TagSummary).SetText(inst.Summary)
		}
	}
	return doc
}

// ErrorResponse wraps an Error into a document
type ErrorResponse struct {
	Error Error
}

// Parse parses an error response from an XML document
func (r *ErrorResponse) Parse(doc *etree.Document) error {
	if doc == nil || doc.Root() == nil {
		return fmt.Errorf("empty document")
	}
	root := doc.Root()
	if root.Tag != TagError {
		return fmt.Errorf("invalid root tag: %s", root.Tag)
	}
	r.Error.FromElement(root)
	return nil
}

// ToXML converts an ErrorResponse to an XML document
func (r *ErrorResponse) ToXML() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.SetRoot(r.Error.ToElement())
	AddNamespaces(doc)
	return doc
}
