package calclient

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/cyp0633/calsched/internal/httpclient"
	"github.com/cyp0633/calsched/internal/xml"
)

// Error is a failure reported by the server.
type Error struct {
	StatusCode int
	// Type is the fault type, e.g. "not_found" or "invalid_recipients".
	Type    string
	Message string
	// Invalid and ValidUnsent are set for invalid_recipients.
	Invalid     []string
	ValidUnsent []string
}

func (e *Error) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (%d): %s", e.Type, e.StatusCode, e.Message)
}

// errorOf builds the Error of a failed response. Bodies that are not error
// documents leave Type empty.
func errorOf(resp *httpclient.Response) *Error {
	e := &Error{StatusCode: resp.StatusCode}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/xml") {
		e.Message = strings.TrimSpace(string(resp.Body))
		return e
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(resp.Body); err != nil {
		return e
	}
	var er xml.ErrorResponse
	if err := er.Parse(doc); err != nil {
		return e
	}
	e.Type = er.Error.Type
	e.Message = er.Error.Message
	e.Invalid = er.Error.Invalid
	e.ValidUnsent = er.Error.ValidUnsent
	return e
}
