/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package seek coordinates ad-hoc matchmaking in a shared chat lobby.
//
// A member announces they are seeking a game, either openly (anyone may join
// by replying "ok @them") or against a whitelist of invitees who must all
// reply "ok"/"yes". The Coordinator watches the lobby's message feed, tracks
// confirmations, enforces a deadline and, on success, hands the finalized
// player set to a Provisioner. The Registry keeps any member from being part
// of two seeks at once.
package seek

import (
	"context"
	"time"
)

// Identity identifies a lobby member.
type Identity string

// Message is a single chat line observed on the lobby feed.
type Message struct {
	Sender Identity  `json:"sender"`
	Text   string    `json:"text"`
	Ref    string    `json:"ref"`
	At     time.Time `json:"at"`
}

// Feed delivers every lobby message, in arrival order, to each subscriber.
// The returned cancel function unsubscribes and closes the channel; it must
// be safe to call more than once.
type Feed interface {
	Subscribe() (<-chan Message, func(), error)
}

// Announcement is the public "looking for game" post.
type Announcement struct {
	Title       string
	Description string
	RequestID   string
}

// Notice is a message addressed to a single member.
type Notice struct {
	Title       string
	Description string
	Ref         string // optional cross-reference, e.g. a conflicting seek's origin
	URL         string // optional link, e.g. a provisioned session
}

// Notifier posts to the lobby. Announce returns a reference to the post.
type Notifier interface {
	Announce(ctx context.Context, a Announcement) (string, error)
	Notify(ctx context.Context, to Identity, n Notice) error
}

// Session is what a Provisioner hands back for a finalized player set.
type Session struct {
	ID      string
	URL     string
	Players []Identity
}

// Provisioner creates the game space for a finalized player set.
type Provisioner interface {
	Provision(ctx context.Context, players []Identity) (Session, error)
}

// Resolver maps between identities and their mention form.
type Resolver interface {
	// Mention returns the form used to tag id in chat, e.g. "@alice".
	Mention(id Identity) string
	// Resolve reports which identity a raw token tags, if any.
	Resolve(token string) (Identity, bool)
}
