package invite

import (
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/cases"
)

// NormalizeAddress returns the comparison form of an email address: any
// "mailto:" prefix removed, localpart case folded and domain in lower case
// ASCII (IDNA) form.
func NormalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= len("mailto:") && strings.EqualFold(s[:len("mailto:")], "mailto:") {
		s = s[len("mailto:"):]
	}
	s = strings.Trim(s, "<>")
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return cases.Fold().String(s)
	}
	local, domain := s[:at], s[at+1:]
	if d, err := idna.Lookup.ToASCII(domain); err == nil {
		domain = d
	}
	return cases.Fold().String(local) + "@" + strings.ToLower(domain)
}

// SameAddress reports whether a and b name the same mailbox.
func SameAddress(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return NormalizeAddress(a) == NormalizeAddress(b)
}

// AddressSet is a set of normalized addresses, e.g. an account's address and aliases.
type AddressSet map[string]struct{}

// NewAddressSet returns a set holding addrs.
func NewAddressSet(addrs ...string) AddressSet {
	s := make(AddressSet, len(addrs))
	for _, a := range addrs {
		s.Add(a)
	}
	return s
}

// Add inserts addr; empty addresses are ignored.
func (s AddressSet) Add(addr string) {
	if strings.TrimSpace(addr) == "" {
		return
	}
	s[NormalizeAddress(addr)] = struct{}{}
}

// Contains reports whether addr is in the set.
func (s AddressSet) Contains(addr string) bool {
	if addr == "" {
		return false
	}
	_, ok := s[NormalizeAddress(addr)]
	return ok
}
