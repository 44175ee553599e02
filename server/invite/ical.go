package invite

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

// Property and parameter names used in addition to the go-ical constants.
const (
	propOrganizer    = "ORGANIZER"
	propSequence     = "SEQUENCE"
	propRecurrenceID = "RECURRENCE-ID"
	propDraft        = "X-CALDORA-DRAFT"
	propNeverSent    = "X-CALDORA-NEVERSENT"

	paramValue    = "VALUE"
	paramTZID     = "TZID"
	paramRange    = "RANGE"
	paramCN       = "CN"
	paramPartStat = "PARTSTAT"
	paramRole     = "ROLE"
	paramRSVP     = "RSVP"
	paramSentBy   = "SENT-BY"

	statusCancelled = "CANCELLED"
)

// ProductID is written into every encoded calendar.
var ProductID = "-//Caldora//Go Calendar Scheduling//EN"

// ParseCalendar decodes an iCalendar stream into its method and invites.
// Floating times are interpreted in loc.
func ParseCalendar(r io.Reader, loc *time.Location) (Method, []Invite, error) {
	cal, err := ical.NewDecoder(r).Decode()
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode calendar: %w", err)
	}
	method := MethodPublish
	if p := cal.Props.Get(ical.PropMethod); p != nil && p.Value != "" {
		method = Method(strings.ToUpper(p.Value))
	}

	var invites []Invite
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent && child.Name != ical.CompToDo {
			continue
		}
		inv, err := FromComponent(child, method, loc)
		if err != nil {
			return "", nil, err
		}
		invites = append(invites, inv)
	}
	if len(invites) == 0 {
		return "", nil, errors.New("no events or tasks found in calendar")
	}
	return method, invites, nil
}

// FromComponent converts a VEVENT or VTODO into an invite.
func FromComponent(comp *ical.Component, method Method, loc *time.Location) (Invite, error) {
	if loc == nil {
		loc = time.UTC
	}
	inv := Invite{Method: method}
	switch comp.Name {
	case ical.CompEvent:
		inv.Type = TypeEvent
	case ical.CompToDo:
		inv.Type = TypeTodo
	default:
		return Invite{}, fmt.Errorf("unsupported component %s", comp.Name)
	}

	inv.UID = propText(comp, ical.PropUID)
	inv.Summary = propText(comp, ical.PropSummary)
	inv.Description = propText(comp, ical.PropDescription)
	inv.Location = propText(comp, ical.PropLocation)
	inv.Status = strings.ToUpper(propText(comp, ical.PropStatus))

	var err error
	if p := comp.Props.Get(ical.PropDateTimeStart); p != nil {
		inv.Start, inv.AllDay, err = propDateTime(p, loc)
		if err != nil {
			return Invite{}, fmt.Errorf("invalid DTSTART: %w", err)
		}
	}
	endName := ical.PropDateTimeEnd
	if inv.Type == TypeTodo {
		endName = ical.PropDue
	}
	if p := comp.Props.Get(endName); p != nil {
		if inv.End, _, err = propDateTime(p, loc); err != nil {
			return Invite{}, fmt.Errorf("invalid %s: %w", endName, err)
		}
	} else if p := comp.Props.Get(ical.PropDuration); p != nil {
		if inv.Duration, err = p.Duration(); err != nil {
			return Invite{}, fmt.Errorf("invalid DURATION: %w", err)
		}
	}

	if p := comp.Props.Get(ical.PropRecurrenceRule); p != nil {
		inv.Rule = p.Value
	}
	for i := range comp.Props[ical.PropRecurrenceDates] {
		inv.RDates = append(inv.RDates, propDateList(&comp.Props[ical.PropRecurrenceDates][i], loc)...)
	}
	for i := range comp.Props[ical.PropExceptionDates] {
		inv.ExDates = append(inv.ExDates, propDateList(&comp.Props[ical.PropExceptionDates][i], loc)...)
	}

	if s := propText(comp, propSequence); s != "" {
		if inv.Sequence, err = strconv.Atoi(s); err != nil {
			return Invite{}, fmt.Errorf("invalid SEQUENCE %q: %w", s, err)
		}
	}
	if p := comp.Props.Get(ical.PropDateTimeStamp); p != nil {
		if inv.DTStamp, _, err = propDateTime(p, loc); err != nil {
			return Invite{}, fmt.Errorf("invalid DTSTAMP: %w", err)
		}
	}

	if p := comp.Props.Get(propOrganizer); p != nil && p.Value != "" {
		inv.Organizer = mo.Some(Organizer{
			Address: stripMailto(p.Value),
			Name:    paramValueOf(p.Params, paramCN),
			SentBy:  stripMailto(paramValueOf(p.Params, paramSentBy)),
		})
	}
	for _, p := range comp.Props[ical.PropAttendee] {
		a := Attendee{
			Address:  stripMailto(p.Value),
			Name:     paramValueOf(p.Params, paramCN),
			Role:     Role(strings.ToUpper(paramValueOf(p.Params, paramRole))),
			PartStat: PartStat(strings.ToUpper(paramValueOf(p.Params, paramPartStat))),
			RSVP:     strings.EqualFold(paramValueOf(p.Params, paramRSVP), "TRUE"),
			SentBy:   stripMailto(paramValueOf(p.Params, paramSentBy)),
		}
		if a.Role == "" {
			a.Role = RoleRequired
		}
		if a.PartStat == "" {
			a.PartStat = PartStatNeedsAction
		}
		inv.Attendees = append(inv.Attendees, a)
	}

	inv.Kind = Series()
	if p := comp.Props.Get(propRecurrenceID); p != nil && p.Value != "" {
		t, allDay, err := propDateTime(p, loc)
		if err != nil {
			return Invite{}, fmt.Errorf("malformed RECURRENCE-ID: %w", err)
		}
		rid := RecurID{Time: t, AllDay: allDay, Range: parseRange(paramValueOf(p.Params, paramRange))}
		if method == MethodCancel || inv.Status == statusCancelled {
			inv.Kind = Cancellation(rid)
		} else {
			inv.Kind = Exception(rid)
		}
	}

	for _, child := range comp.Children {
		if child.Name != ical.CompAlarm {
			continue
		}
		p := child.Props.Get(ical.PropTrigger)
		if p == nil {
			continue
		}
		d, err := p.Duration()
		if err != nil {
			// Absolute triggers are not carried.
			continue
		}
		inv.Alarms = append(inv.Alarms, Alarm{Trigger: d, Action: propText(child, ical.PropAction)})
	}

	inv.Draft = strings.EqualFold(propText(comp, propDraft), "TRUE")
	inv.NeverSent = strings.EqualFold(propText(comp, propNeverSent), "TRUE")
	return inv, nil
}

// Component renders the invite as a VEVENT or VTODO.
func (inv Invite) Component() *ical.Component {
	name := ical.CompEvent
	if inv.Type == TypeTodo {
		name = ical.CompToDo
	}
	comp := ical.NewComponent(name)
	comp.Props.SetText(ical.PropUID, inv.UID)

	stamp := inv.DTStamp
	if stamp.IsZero() {
		stamp = time.Now()
	}
	setDateTime(comp, ical.PropDateTimeStamp, stamp.UTC(), false)
	if inv.HasStart() {
		setDateTime(comp, ical.PropDateTimeStart, inv.Start, inv.AllDay)
	}
	switch {
	case !inv.End.IsZero() && inv.Type == TypeTodo:
		setDateTime(comp, ical.PropDue, inv.End, inv.AllDay)
	case !inv.End.IsZero():
		setDateTime(comp, ical.PropDateTimeEnd, inv.End, inv.AllDay)
	case inv.Duration > 0:
		setProp(comp, &ical.Prop{Name: ical.PropDuration, Params: make(ical.Params), Value: FormatDuration(inv.Duration)})
	}
	comp.Props.SetText(propSequence, strconv.Itoa(inv.Sequence))

	if rid, ok := inv.RecurID().Get(); ok {
		p := dateTimeProp(propRecurrenceID, rid.Time, rid.AllDay)
		if r := rid.Range.String(); r != "" {
			p.Params[paramRange] = []string{r}
		}
		setProp(comp, p)
	}
	if inv.Kind.IsSeries() {
		if inv.Rule != "" {
			setProp(comp, &ical.Prop{Name: ical.PropRecurrenceRule, Params: make(ical.Params), Value: inv.Rule})
		}
		for _, t := range inv.RDates {
			addProp(comp, dateTimeProp(ical.PropRecurrenceDates, t, inv.AllDay))
		}
		for _, t := range inv.ExDates {
			addProp(comp, dateTimeProp(ical.PropExceptionDates, t, inv.AllDay))
		}
	}

	if o, ok := inv.Organizer.Get(); ok {
		p := &ical.Prop{Name: propOrganizer, Params: make(ical.Params), Value: "mailto:" + o.Address}
		if o.Name != "" {
			p.Params[paramCN] = []string{o.Name}
		}
		if o.SentBy != "" {
			p.Params[paramSentBy] = []string{"mailto:" + o.SentBy}
		}
		setProp(comp, p)
	}
	for _, a := range inv.Attendees {
		p := &ical.Prop{Name: ical.PropAttendee, Params: make(ical.Params), Value: "mailto:" + a.Address}
		if a.Name != "" {
			p.Params[paramCN] = []string{a.Name}
		}
		if a.Role != "" {
			p.Params[paramRole] = []string{string(a.Role)}
		}
		if a.PartStat != "" {
			p.Params[paramPartStat] = []string{string(a.PartStat)}
		}
		if a.RSVP {
			p.Params[paramRSVP] = []string{"TRUE"}
		}
		if a.SentBy != "" {
			p.Params[paramSentBy] = []string{"mailto:" + a.SentBy}
		}
		addProp(comp, p)
	}

	if inv.Summary != "" {
		comp.Props.SetText(ical.PropSummary, inv.Summary)
	}
	if inv.Description != "" {
		comp.Props.SetText(ical.PropDescription, inv.Description)
	}
	if inv.Location != "" {
		comp.Props.SetText(ical.PropLocation, inv.Location)
	}
	status := inv.Status
	if inv.Kind.IsCancellation() || (inv.Method == MethodCancel && status == "") {
		status = statusCancelled
	}
	if status != "" {
		comp.Props.SetText(ical.PropStatus, status)
	}
	for _, al := range inv.Alarms {
		alarm := ical.NewComponent(ical.CompAlarm)
		action := al.Action
		if action == "" {
			action = "DISPLAY"
		}
		alarm.Props.SetText(ical.PropAction, action)
		setProp(alarm, &ical.Prop{Name: ical.PropTrigger, Params: make(ical.Params), Value: FormatDuration(al.Trigger)})
		if inv.Summary != "" {
			alarm.Props.SetText(ical.PropDescription, inv.Summary)
		}
		comp.Children = append(comp.Children, alarm)
	}
	if inv.Draft {
		comp.Props.SetText(propDraft, "TRUE")
	}
	if inv.NeverSent {
		comp.Props.SetText(propNeverSent, "TRUE")
	}
	return comp
}

// NewCalendar returns an empty VCALENDAR carrying method.
func NewCalendar(method Method) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	if method != "" {
		cal.Props.SetText(ical.PropMethod, string(method))
	}
	return cal
}

// Encode renders invites into one iCalendar document.
func Encode(method Method, invites ...Invite) ([]byte, error) {
	cal := NewCalendar(method)
	for _, inv := range invites {
		cal.Children = append(cal.Children, inv.Component())
	}
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}

func propText(comp *ical.Component, name string) string {
	p := comp.Props.Get(name)
	if p == nil {
		return ""
	}
	s, err := p.Text()
	if err != nil {
		return p.Value
	}
	return s
}

func addProp(comp *ical.Component, p *ical.Prop) {
	comp.Props[p.Name] = append(comp.Props[p.Name], *p)
}

func setProp(comp *ical.Component, p *ical.Prop) {
	comp.Props[p.Name] = []ical.Prop{*p}
}

func setDateTime(comp *ical.Component, name string, t time.Time, allDay bool) {
	setProp(comp, dateTimeProp(name, t, allDay))
}

// FormatDuration renders d as an RFC 5545 duration, e.g. "-PT15M" or "P1D".
func FormatDuration(d time.Duration) string {
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	b.WriteByte('P')
	if d == 0 {
		b.WriteString("T0S")
		return b.String()
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	if days > 0 && days%7 == 0 && d == 0 {
		fmt.Fprintf(&b, "%dW", days/7)
		return b.String()
	}
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if d == 0 {
		return b.String()
	}
	b.WriteByte('T')
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second
	if h > 0 {
		fmt.Fprintf(&b, "%dH", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dM", m)
	}
	if sec > 0 {
		fmt.Fprintf(&b, "%dS", sec)
	}
	return b.String()
}

func dateTimeProp(name string, t time.Time, allDay bool) *ical.Prop {
	p := &ical.Prop{Name: name, Params: make(ical.Params)}
	switch {
	case allDay:
		p.Params[paramValue] = []string{"DATE"}
		p.Value = t.Format(dateFormat)
	case t.Location() == time.UTC || t.Location() == time.Local:
		p.Value = t.UTC().Format(dateTimeFormatUTC)
	default:
		p.Params[paramTZID] = []string{t.Location().String()}
		p.Value = t.Format(dateTimeFormat)
	}
	return p
}

func paramValueOf(params ical.Params, name string) string {
	if v := params[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func stripMailto(s string) string {
	if len(s) >= len("mailto:") && strings.EqualFold(s[:len("mailto:")], "mailto:") {
		return s[len("mailto:"):]
	}
	return s
}

// propDateTime reads a DATE or DATE-TIME property. TZID parameters are
// honoured, floating values are placed in loc.
func propDateTime(p *ical.Prop, loc *time.Location) (time.Time, bool, error) {
	allDay := p.ValueType() == ical.ValueDate
	if !allDay && len(p.Value) == len(dateFormat) {
		// VALUE=DATE is often left out on bare dates.
		p = cloneProp(p)
		p.SetValueType(ical.ValueDate)
		allDay = true
	}
	if tzid := p.Params.Get(paramTZID); tzid != "" && !allDay {
		if _, err := time.LoadLocation(tzid); err != nil {
			// Zones unknown to the runtime, Windows names mostly, are read
			// as floating.
			p = cloneProp(p)
			p.Params.Del(paramTZID)
		}
	}
	t, err := p.DateTime(loc)
	return t, allDay, err
}

// propDateList reads a comma separated RDATE or EXDATE property, skipping
// unparsable entries. go-ical only reads single values, so each entry is
// read as a property of its own.
func propDateList(p *ical.Prop, loc *time.Location) []time.Time {
	var l []time.Time
	for _, v := range strings.Split(p.Value, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		q := cloneProp(p)
		q.Value = v
		if t, _, err := propDateTime(q, loc); err == nil {
			l = append(l, t)
		}
	}
	return l
}

func cloneProp(p *ical.Prop) *ical.Prop {
	q := ical.NewProp(p.Name)
	q.Value = p.Value
	for k, v := range p.Params {
		q.Params[k] = append([]string(nil), v...)
	}
	return q
}
