package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"golang.org/x/net/idna"

	"github.com/cyp0633/calsched/server/invite"
)

// outbox delivers messages by writing them to a directory, one file each.
type outbox struct {
	dir    string
	logger *slog.Logger
}

func (o *outbox) Send(ctx context.Context, from string, rcpts []string, msg io.Reader) error {
	data, err := io.ReadAll(msg)
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}

	var subject string
	if r, err := mail.CreateReader(bytes.NewReader(data)); err == nil {
		subject, _ = r.Header.Subject()
	}

	if o.dir != "" {
		name := filepath.Join(o.dir, uuid.NewString()+".eml")
		if err := os.WriteFile(name, data, 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	o.logger.Info("message delivered",
		"from", from,
		"rcpts", rcpts,
		"subject", subject,
		"size", len(data))
	return nil
}

// domainRelay accepts recipients in a fixed set of domains.
type domainRelay struct {
	domains map[string]bool
}

func newDomainRelay(domains []string) *domainRelay {
	r := &domainRelay{domains: make(map[string]bool, len(domains))}
	for _, d := range domains {
		if a, err := idna.Lookup.ToASCII(d); err == nil {
			d = a
		}
		r.domains[strings.ToLower(d)] = true
	}
	return r
}

func (r *domainRelay) ValidateAddresses(_ context.Context, addrs []string) ([]string, error) {
	if len(r.domains) == 0 {
		return nil, nil
	}
	var invalid []string
	for _, addr := range addrs {
		norm := invite.NormalizeAddress(addr)
		at := strings.LastIndexByte(norm, '@')
		if at < 0 || !r.domains[norm[at+1:]] {
			invalid = append(invalid, addr)
		}
	}
	return invalid, nil
}
