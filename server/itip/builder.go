package itip

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cyp0633/calsched/server/fault"
	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/opctx"
	"github.com/cyp0633/calsched/server/recurrence"
	"github.com/cyp0633/calsched/server/storage"
)

// BuildRequest describes one outbound scheduling message.
type BuildRequest struct {
	Op      opctx.Op
	Account *storage.Account
	Method  invite.Method
	Invite  invite.Invite
	// Item is the stored calendar item. When set, series level REQUEST and
	// CANCEL messages carry the future exceptions and cancellations too.
	Item       *storage.CalendarItem
	Recipients []string
	// Subject overrides the default subject of the method.
	Subject     string
	Text        string
	InReplyTo   string
	Attachments []Attachment
}

// Builder renders scheduling messages.
type Builder struct{}

// NewBuilder returns a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build renders the calendar payload and the MIME envelope of req.
func (b *Builder) Build(req BuildRequest) (*Message, error) {
	if !req.Method.Valid() {
		return nil, fault.Invalid("unknown scheduling method %q", req.Method)
	}
	if req.Account == nil {
		return nil, fault.Invalid("missing sending account")
	}
	now := req.Op.Now()
	comps := b.Components(req.Method, req.Invite, req.Item, now)
	cal, err := invite.Encode(req.Method, comps...)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s for %s: %w", req.Method, req.Invite.UID, err)
	}

	subject := req.Subject
	if subject == "" {
		subject = Subject(req.Method, req.Invite, "")
	}
	msg := &Message{
		MessageID:   NewMessageID(req.Account.Address),
		Date:        now,
		From:        req.Account.Address,
		FromName:    req.Account.Name,
		To:          append([]string(nil), req.Recipients...),
		Subject:     subject,
		InReplyTo:   req.InReplyTo,
		Text:        req.Text,
		Method:      req.Method,
		Calendar:    cal,
		Attachments: req.Attachments,
	}
	if req.Op.OnBehalfOf {
		msg.Sender = req.Op.Actor
	}
	return msg, nil
}

// Components returns the invites making up the calendar payload of a message
// for inv. For a series level REQUEST or CANCEL, cancelled occurrences after
// now become EXDATEs of the series and modified occurrences after now are
// appended as their own components.
func (b *Builder) Components(method invite.Method, inv invite.Invite, item *storage.CalendarItem, now time.Time) []invite.Invite {
	inv = inv.WithMethod(method)
	if item == nil || !inv.Kind.IsSeries() || (method != invite.MethodRequest && method != invite.MethodCancel) {
		return []invite.Invite{inv}
	}

	var exdates []time.Time
	var extra []invite.Invite
	for _, si := range item.Invites {
		rid, ok := si.Invite.RecurID().Get()
		if !ok || !recurrence.OccursAfter(rid.Time, rid.AllDay, now) {
			continue
		}
		switch {
		case si.Invite.Kind.IsCancellation():
			if !hasDate(inv.ExDates, rid.Time) {
				exdates = append(exdates, rid.Time)
			}
		case si.Invite.Kind.IsException():
			extra = append(extra, si.Invite.WithMethod(method))
		}
	}
	if len(exdates) > 0 {
		inv = inv.WithExDates(exdates...)
	}
	return append([]invite.Invite{inv}, extra...)
}

func hasDate(l []time.Time, t time.Time) bool {
	for _, d := range l {
		if d.Equal(t) {
			return true
		}
	}
	return false
}

// NewMessageID returns a fresh Message-ID in the domain of addr.
func NewMessageID(addr string) string {
	return uuid.NewString() + "@" + Domain(addr)
}

// Subject returns the default subject of a message of method for inv. For
// replies, partStat selects the verb.
func Subject(method invite.Method, inv invite.Invite, partStat invite.PartStat) string {
	summary := inv.Summary
	if summary == "" {
		summary = "(no subject)"
	}
	switch method {
	case invite.MethodReply:
		switch partStat {
		case invite.PartStatAccepted:
			return "Accept: " + summary
		case invite.PartStatDeclined:
			return "Decline: " + summary
		case invite.PartStatTentative:
			return "Tentative: " + summary
		}
		return "Reply: " + summary
	case invite.MethodCancel:
		return "Cancelled: " + summary
	case invite.MethodCounter:
		return "New Time Proposed: " + summary
	case invite.MethodDeclineCounter:
		return "New Time Proposal Declined: " + summary
	default:
		return summary
	}
}
