/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package seek

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Mode is whether a seek is open to anyone or limited to a whitelist.
type Mode int

const (
	ModeOpen Mode = iota
	ModeWhitelisted
)

func (m Mode) String() string {
	switch m {
	case ModeOpen:
		return "open"
	case ModeWhitelisted:
		return "whitelisted"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Confirmation is an invitee's answer so far.
type Confirmation int

const (
	Pending Confirmation = iota
	Confirmed
	Declined
)

func (c Confirmation) String() string {
	switch c {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Declined:
		return "declined"
	default:
		return fmt.Sprintf("Confirmation(%d)", int(c))
	}
}

// Verdict is what applying one message did to a request.
type Verdict int

const (
	Ignored Verdict = iota
	Updated
	Resolved
	// SoloRefused means the requester tried to start alone while solo
	// starts are disabled.
	SoloRefused
)

// Request is the state of one in-flight seek. It is owned by a single
// coordinator goroutine and is not safe for concurrent use.
type Request struct {
	ID        string
	Requester Identity
	Mode      Mode
	Invitees  []Identity
	CreatedAt time.Time
	OriginRef string

	// AllowSolo lets an open seek start with no joiners.
	AllowSolo bool

	confirmations map[Identity]Confirmation
	declined      map[Identity]bool
	joiners       []Identity
	joined        map[Identity]bool
	reason        Reason
}

// NewRequest builds a request. A nil invitees slice makes an open seek; a
// non-nil one makes a whitelisted seek over its normalized contents.
func NewRequest(id string, requester Identity, invitees []Identity, originRef string, now time.Time) (*Request, error) {
	requester = Identity(strings.TrimSpace(string(requester)))
	if requester == "" {
		return nil, ErrEmptyRequester
	}

	req := &Request{
		ID:        id,
		Requester: requester,
		Mode:      ModeOpen,
		CreatedAt: now,
		OriginRef: originRef,
		joined:    make(map[Identity]bool),
	}

	if invitees == nil {
		return req, nil
	}

	req.Mode = ModeWhitelisted
	req.Invitees = normalizeInvitees(requester, invitees)
	if len(req.Invitees) == 0 {
		return nil, ErrNoInvitees
	}

	req.confirmations = make(map[Identity]Confirmation, len(req.Invitees))
	req.declined = make(map[Identity]bool)
	for _, id := range req.Invitees {
		req.confirmations[id] = Pending
	}

	return req, nil
}

func normalizeInvitees(requester Identity, invitees []Identity) []Identity {
	seen := make(map[Identity]bool, len(invitees))
	out := make([]Identity, 0, len(invitees))
	for _, id := range invitees {
		id = Identity(strings.TrimSpace(string(id)))
		if id == "" || id == requester || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Handle returns the registry reservation for this request.
func (r *Request) Handle() *Handle {
	return &Handle{
		RequestID: r.ID,
		Requester: r.Requester,
		Invitees:  r.Invitees,
		OriginRef: r.OriginRef,
	}
}

// status returns an invitee's confirmation state.
func (r *Request) status(id Identity) (Confirmation, bool) {
	if r.declined[id] {
		return Declined, true
	}
	c, ok := r.confirmations[id]
	return c, ok
}

// joinOrder returns the open-seek joiners in the order they joined.
func (r *Request) joinOrder() []Identity {
	return append([]Identity(nil), r.joiners...)
}

// Reason returns the resolution, or ReasonNone while still pending.
func (r *Request) Reason() Reason {
	return r.reason
}

// Players returns the final player set: the requester first, then the
// confirmed invitees or the open joiners.
func (r *Request) Players() []Identity {
	players := []Identity{r.Requester}
	switch r.Mode {
	case ModeWhitelisted:
		for _, id := range r.Invitees {
			if r.confirmations[id] == Confirmed {
				players = append(players, id)
			}
		}
	case ModeOpen:
		players = append(players, r.joiners...)
	}
	return players
}

// resolve moves the request to a terminal reason. The first call wins.
func (r *Request) resolve(reason Reason) bool {
	if r.reason != ReasonNone {
		return false
	}
	r.reason = reason
	return true
}

func normalize(text string) string {
	return cases.Fold().String(strings.TrimSpace(text))
}

func affirmative(text string) bool {
	return strings.HasPrefix(text, "ok") || strings.HasPrefix(text, "yes")
}

// Apply classifies one feed message against the request and updates it.
// Once the request has resolved every further message is ignored.
func (r *Request) Apply(msg Message, resolver Resolver) Verdict {
	if r.reason != ReasonNone {
		return Ignored
	}

	text := normalize(msg.Text)

	if msg.Sender == r.Requester && text == "nvm" {
		r.resolve(ReasonCancelledByRequester)
		return Resolved
	}

	switch r.Mode {
	case ModeWhitelisted:
		return r.applyWhitelisted(msg.Sender, text)
	case ModeOpen:
		return r.applyOpen(msg.Sender, text, resolver)
	}

	return Ignored
}

func (r *Request) applyWhitelisted(sender Identity, text string) Verdict {
	state, ok := r.confirmations[sender]
	if !ok {
		return Ignored
	}

	switch {
	case affirmative(text):
		if state == Confirmed {
			return Ignored
		}
		r.confirmations[sender] = Confirmed
	case strings.HasPrefix(text, "no"):
		delete(r.confirmations, sender)
		r.declined[sender] = true
		if len(r.confirmations) == 0 {
			r.resolve(ReasonAllDeclined)
			return Resolved
		}
	default:
		return Ignored
	}

	for _, c := range r.confirmations {
		if c != Confirmed {
			return Updated
		}
	}

	r.resolve(ReasonSuccess)
	return Resolved
}

func (r *Request) applyOpen(sender Identity, text string, resolver Resolver) Verdict {
	if sender == r.Requester {
		if text != "start" && text != "done" {
			return Ignored
		}
		if len(r.joiners) == 0 && !r.AllowSolo {
			return SoloRefused
		}
		r.resolve(ReasonSuccess)
		return Resolved
	}

	if r.joined[sender] || !affirmative(text) || !mentions(text, r.Requester, resolver) {
		return Ignored
	}

	r.joined[sender] = true
	r.joiners = append(r.joiners, sender)
	return Updated
}

// mentions reports whether any whitespace-separated token of text tags id.
func mentions(text string, id Identity, resolver Resolver) bool {
	if resolver == nil {
		return false
	}
	for _, token := range strings.Fields(text) {
		if got, ok := resolver.Resolve(token); ok && got == id {
			return true
		}
	}
	return false
}
