package itip

import (
	"fmt"

	"github.com/cyp0633/calsched/server/fault"
	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/opctx"
	"github.com/cyp0633/calsched/server/storage"
)

// ReplyType tells how an outbound message relates to an earlier one.
type ReplyType int

const (
	ReplyNone ReplyType = iota
	ReplyReply
	ReplyForward
)

func (t ReplyType) String() string {
	switch t {
	case ReplyReply:
		return "r"
	case ReplyForward:
		return "w"
	default:
		return ""
	}
}

// CalSendData pairs an invite with the message announcing it.
type CalSendData struct {
	Invite    invite.Invite
	Message   *Message
	ReplyType ReplyType
	// OrigID is the item the message replies to or forwards, for ReplyType != ReplyNone.
	OrigID int64

	From       string
	Recipients []string

	// Spooled is set once the message was serialized for sending.
	Spooled *Spooled
}

// Spool serializes the message into dir, if there is anyone to send it to.
// It must be called before the blobs the message was built from can change.
func (d *CalSendData) Spool(dir string) error {
	if d.Spooled != nil || len(d.Recipients) == 0 {
		return nil
	}
	s, err := Spool(dir, d.Message)
	if err != nil {
		return err
	}
	d.Spooled = s
	return nil
}

// ForwardWrapper is what the forwarding user adds to a forwarded invite.
type ForwardWrapper struct {
	To      []string
	Subject string
	Text    string
}

// BuildForward renders an invite forwarded by acct to new recipients, and
// the notice to the organizer that it was forwarded. notice is nil when acct
// organizes the meeting itself.
func (b *Builder) BuildForward(op opctx.Op, acct *storage.Account, inv invite.Invite, item *storage.CalendarItem, w ForwardWrapper) (fwd *CalSendData, notice *CalSendData, err error) {
	if len(w.To) == 0 {
		return nil, nil, fault.Invalid("forward without recipients")
	}
	if inv.IsCancel() {
		return nil, nil, fault.Invalid("cannot forward a cancelled invite")
	}
	subject := w.Subject
	if subject == "" {
		subject = "Fwd: " + Subject(invite.MethodRequest, inv, "")
	}
	msg, err := b.Build(BuildRequest{
		Op:         op,
		Account:    acct,
		Method:     invite.MethodRequest,
		Invite:     inv,
		Item:       item,
		Recipients: w.To,
		Subject:    subject,
		Text:       w.Text,
	})
	if err != nil {
		return nil, nil, err
	}
	fwd = &CalSendData{
		Invite:     inv.WithMethod(invite.MethodRequest),
		Message:    msg,
		ReplyType:  ReplyForward,
		From:       acct.Address,
		Recipients: msg.To,
	}
	if item != nil {
		fwd.OrigID = item.ID
	}

	org := inv.OrganizerAddress()
	if org == "" || acct.Addresses().Contains(org) {
		return fwd, nil, nil
	}
	n := &Message{
		MessageID: NewMessageID(acct.Address),
		Date:      op.Now(),
		From:      acct.Address,
		FromName:  acct.Name,
		To:        []string{org},
		Subject:   "Meeting Forward Notification: " + Subject(invite.MethodRequest, inv, ""),
		Text:      fmt.Sprintf("%s has forwarded your meeting request to additional recipients: %v", acct.Address, w.To),
	}
	notice = &CalSendData{
		Invite:     inv,
		Message:    n,
		From:       acct.Address,
		Recipients: n.To,
	}
	return fwd, notice, nil
}

// BuildReply renders the response of acct, an attendee of inv, to its
// organizer. The reply carries only the responding attendee.
func (b *Builder) BuildReply(op opctx.Op, acct *storage.Account, inv invite.Invite, partStat invite.PartStat, comment string) (*CalSendData, error) {
	org := inv.OrganizerAddress()
	if org == "" {
		return nil, fault.Invalid("invite %s has no organizer to reply to", inv.UID)
	}
	self := acct.Addresses()
	var me invite.Attendee
	found := false
	for _, a := range inv.Attendees {
		if self.Contains(a.Address) {
			me, found = a, true
			break
		}
	}
	if !found {
		return nil, fault.New(fault.TypePermissionDenied, "%s is not an attendee of %s", acct.Address, inv.UID)
	}
	me.PartStat = partStat
	me.RSVP = false
	if op.OnBehalfOf {
		me.SentBy = op.Actor
	}
	reply := inv.WithAttendees([]invite.Attendee{me}).WithMethod(invite.MethodReply).WithDTStamp(op.Now())

	msg, err := b.Build(BuildRequest{
		Op:         op,
		Account:    acct,
		Method:     invite.MethodReply,
		Invite:     reply,
		Recipients: []string{org},
		Subject:    Subject(invite.MethodReply, inv, partStat),
		Text:       comment,
	})
	if err != nil {
		return nil, err
	}
	return &CalSendData{
		Invite:     reply,
		Message:    msg,
		ReplyType:  ReplyReply,
		From:       acct.Address,
		Recipients: msg.To,
	}, nil
}
