/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package seek

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// DefaultTimeout bounds a seek from creation to resolution.
const DefaultTimeout = 60 * time.Second

const (
	idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	idLength   = 10
)

// Options configures a Coordinator. Registry, Feed, Notifier, Provisioner
// and Resolver are required.
type Options struct {
	Registry    *Registry
	Feed        Feed
	Notifier    Notifier
	Provisioner Provisioner
	Resolver    Resolver

	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration

	// AllowSolo lets an open seek start with nobody else joined.
	AllowSolo bool

	Logf func(format string, args ...any)

	// Clock and After are replaced in tests.
	Clock func() time.Time
	After func(time.Duration) <-chan time.Time
}

// Coordinator runs seeks from announcement to resolution. Many seeks may
// run at once; the Registry is the only state they share.
type Coordinator struct {
	registry    *Registry
	feed        Feed
	notifier    Notifier
	provisioner Provisioner
	resolver    Resolver

	timeout   time.Duration
	allowSolo bool
	logf      func(format string, args ...any)
	clock     func() time.Time
	after     func(time.Duration) <-chan time.Time

	mu       sync.Mutex
	closed   bool
	stop     chan struct{}
	inflight sync.WaitGroup
}

func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		registry:    opts.Registry,
		feed:        opts.Feed,
		notifier:    opts.Notifier,
		provisioner: opts.Provisioner,
		resolver:    opts.Resolver,
		timeout:     opts.Timeout,
		allowSolo:   opts.AllowSolo,
		logf:        opts.Logf,
		clock:       opts.Clock,
		after:       opts.After,
		stop:        make(chan struct{}),
	}
	if c.registry == nil {
		c.registry = NewRegistry()
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.logf == nil {
		c.logf = func(string, ...any) {}
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	if c.after == nil {
		c.after = time.After
	}
	return c
}

// Registry returns the registry this coordinator reserves against.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Shutdown cancels every in-flight seek and waits for their cleanup.
// StartSeek returns ErrShutdown afterwards.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.stop)
	}
	c.mu.Unlock()

	c.inflight.Wait()
	c.registry.Reset()
}

func (c *Coordinator) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.inflight.Add(1)
	return true
}

// StartSeek runs one seek and blocks until it resolves. A nil invitees
// slice makes an open seek. originRef identifies the message that asked for
// the seek and is reported to anyone who later conflicts with it.
//
// A non-nil error is returned only for invalid input, shutdown, or a
// downstream failure; the registry has been released in every case.
func (c *Coordinator) StartSeek(ctx context.Context, requester Identity, invitees []Identity, originRef string) (Outcome, error) {
	if !c.begin() {
		return Outcome{}, ErrShutdown
	}
	defer c.inflight.Done()

	id, err := gonanoid.Generate(idAlphabet, idLength)
	if err != nil {
		return Outcome{}, fmt.Errorf("seek: generating request id: %w", err)
	}

	req, err := NewRequest(id, requester, invitees, originRef, c.clock())
	if err != nil {
		return Outcome{}, err
	}
	req.AllowSolo = c.allowSolo

	handle := req.Handle()
	if err := c.registry.TryReserve(handle); err != nil {
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			return Outcome{}, err
		}
		c.logf("SEEKS: %s rejected for %q: %v", req.ID, req.Requester, conflict)

		out := Outcome{Kind: OutcomeConflict, RequestID: req.ID, Conflict: conflict}
		if err := c.notifier.Notify(ctx, req.Requester, c.conflictNotice(req, conflict)); err != nil {
			return out, &DownstreamError{Op: "notify conflict", Err: err}
		}
		return out, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() { c.registry.Release(handle) })
	}
	defer release()

	events, unsubscribe, err := c.feed.Subscribe()
	if err != nil {
		return Outcome{}, &DownstreamError{Op: "subscribe", Err: err}
	}
	defer unsubscribe()

	if _, err := c.notifier.Announce(ctx, c.announcement(req)); err != nil {
		return Outcome{}, &DownstreamError{Op: "announce", Err: err}
	}

	c.logf("SEEKS: %s started by %q (%s, %d invited)", req.ID, req.Requester, req.Mode, len(req.Invitees))

	reason, err := c.race(ctx, req, events)

	unsubscribe()
	release()

	if err != nil {
		return Outcome{Kind: OutcomeCancelled, RequestID: req.ID, Reason: ReasonCancelledBySystem}, err
	}

	c.logf("SEEKS: %s resolved: %s", req.ID, reason)

	if reason != ReasonSuccess {
		out := Outcome{Kind: OutcomeCancelled, RequestID: req.ID, Reason: reason}
		if err := c.notifier.Notify(ctx, req.Requester, Notice{
			Title:       "Game Cancelled",
			Description: reason.describe(c.timeout),
		}); err != nil {
			return out, &DownstreamError{Op: "notify cancellation", Err: err}
		}
		return out, nil
	}

	players := req.Players()
	out := Outcome{Kind: OutcomeSuccess, RequestID: req.ID, Reason: ReasonSuccess, Players: players}

	session, err := c.provisioner.Provision(ctx, players)
	if err != nil {
		return out, &DownstreamError{Op: "provision", Err: err}
	}
	out.Session = session

	c.logf("SEEKS: %s provisioned session %s for %d players", req.ID, session.ID, len(players))

	for _, p := range players {
		if err := c.notifier.Notify(ctx, p, Notice{
			Title:       "Game Found",
			Description: fmt.Sprintf("Your game with %s is ready.", c.mentionAll(players, p)),
			URL:         session.URL,
		}); err != nil {
			return out, &DownstreamError{Op: "notify players", Err: err}
		}
	}

	return out, nil
}

// race waits for the first of a resolving event, the deadline, or a
// cancellation. Cancellation is checked before every event and wins ties.
// A failed notice to the requester ends the race with its error.
func (c *Coordinator) race(ctx context.Context, req *Request, events <-chan Message) (Reason, error) {
	remaining := req.CreatedAt.Add(c.timeout).Sub(c.clock())
	deadline := c.after(remaining)

	for {
		select {
		case <-ctx.Done():
			return ReasonCancelledBySystem, nil
		case <-c.stop:
			return ReasonCancelledBySystem, nil
		default:
		}

		select {
		case <-ctx.Done():
			return ReasonCancelledBySystem, nil
		case <-c.stop:
			return ReasonCancelledBySystem, nil
		case <-deadline:
			return ReasonTimedOut, nil
		case msg, ok := <-events:
			if !ok {
				return ReasonCancelledBySystem, nil
			}
			if ctx.Err() != nil || c.stopped() {
				return ReasonCancelledBySystem, nil
			}

			switch req.Apply(msg, c.resolver) {
			case Resolved:
				return req.Reason(), nil
			case Updated:
				c.logf("SEEKS: %s updated by %q", req.ID, msg.Sender)
			case SoloRefused:
				if err := c.notifier.Notify(ctx, req.Requester, Notice{
					Title:       "Nobody Yet",
					Description: "Nobody has joined your game yet.",
				}); err != nil {
					return ReasonNone, &DownstreamError{Op: "notify requester", Err: err}
				}
			}
		}
	}
}

func (c *Coordinator) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *Coordinator) announcement(req *Request) Announcement {
	seeker := c.resolver.Mention(req.Requester)

	var desc strings.Builder
	desc.WriteString(seeker + " is looking for a game!\n")
	if req.Mode == ModeWhitelisted {
		desc.WriteString(c.mentionAll(req.Invitees, ""))
		desc.WriteString(`: Join by saying "ok" or "yes" in chat, or decline with "no".`)
	} else {
		desc.WriteString(fmt.Sprintf(`Join by saying "ok %s" or "yes %s" in chat. %s, say "start" when everyone is in.`, seeker, seeker, seeker))
	}

	return Announcement{
		Title:       "Looking For Game",
		Description: desc.String(),
		RequestID:   req.ID,
	}
}

func (c *Coordinator) conflictNotice(req *Request, conflict *ConflictError) Notice {
	var desc string
	switch {
	case conflict.Identity == req.Requester && conflict.Role == RoleSeeking:
		desc = "You are already seeking a game!"
	case conflict.Identity == req.Requester:
		desc = "You are already being sought for a game!"
	case conflict.Role == RoleSeeking:
		desc = fmt.Sprintf("%s is already seeking a game!", c.resolver.Mention(conflict.Identity))
	default:
		desc = fmt.Sprintf("%s is already being sought for a game!", c.resolver.Mention(conflict.Identity))
	}
	return Notice{Title: "Error", Description: desc, Ref: conflict.OriginRef}
}

func (c *Coordinator) mentionAll(ids []Identity, skip Identity) string {
	mentions := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == skip {
			continue
		}
		mentions = append(mentions, c.resolver.Mention(id))
	}
	if len(mentions) == 0 {
		return "nobody else"
	}
	return strings.Join(mentions, ", ")
}
