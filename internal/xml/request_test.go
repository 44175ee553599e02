package xml

import (
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttendeesRequest_Parse(t *testing.T) {
	tests := []struct {
		name    string
		xml     string
		want    AttendeesRequest
		wantErr bool
	}{
		{
			name: "add and remove",
			xml: `<C:attendees xmlns:C="urn:calsched:1" ignore-past="true">
  <C:add>
    <C:attendee name="Dave" role="OPT-PARTICIPANT" rsvp="true">dave@example.com</C:attendee>
  </C:add>
  <C:remove>
    <C:attendee>carol@example.com</C:attendee>
  </C:remove>
</C:attendees>`,
			want: AttendeesRequest{
				Add:        []Attendee{{Address: "dave@example.com", Name: "Dave", Role: "OPT-PARTICIPANT", RSVP: true}},
				Remove:     []string{"carol@example.com"},
				IgnorePast: true,
			},
		},
		{
			name: "remove only",
			xml:  `<attendees><remove><attendee>carol@example.com</attendee></remove></attendees>`,
			want: AttendeesRequest{Remove: []string{"carol@example.com"}},
		},
		{
			name:    "wrong root",
			xml:     `<C:instances xmlns:C="urn:calsched:1"/>`,
			wantErr: true,
		},
		{
			name:    "empty address",
			xml:     `<attendees><add><attendee/></add></attendees>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := etree.NewDocument()
			require.NoError(t, doc.ReadFromString(tt.xml))
			var got AttendeesRequest
			err := got.Parse(doc)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAttendeesRequest_ToXML(t *testing.T) {
	req := AttendeesRequest{
		Add:    []Attendee{{Address: "dave@example.com", Role: "REQ-PARTICIPANT"}},
		Remove: []string{"carol@example.com", "erin@example.com"},
	}
	s, err := req.ToXML().WriteToString()
	require.NoError(t, err)
	assert.Equal(t, normalizeXML(`<?xml version="1.0" encoding="UTF-8"?>
<C:attendees xmlns:C="urn:calsched:1">
<C:add><C:attendee role="REQ-PARTICIPANT">dave@example.com</C:attendee></C:add>
<C:remove><C:attendee>carol@example.com</C:attendee><C:attendee>erin@example.com</C:attendee></C:remove>
</C:attendees>`), normalizeXML(s))

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(s))
	var got AttendeesRequest
	require.NoError(t, got.Parse(doc))
	assert.Equal(t, req, got)
}
