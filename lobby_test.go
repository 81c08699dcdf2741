package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/Seednode/lfg/chat"
	"github.com/Seednode/lfg/seek"
)

func newTestLobby(t *testing.T) (*Lobby, *chat.Broadcaster) {
	t.Helper()

	feed := chat.NewBroadcaster()
	t.Cleanup(func() { _ = feed.Close() })

	return newLobby(&Config{seekTimeout: time.Minute, natsSubject: "lfg.chat"}, feed), feed
}

// connect registers a client without a websocket behind it.
func connect(l *Lobby, playerID string) *Client {
	c := &Client{send: make(chan any, clientBuffer), playerID: playerID}
	l.register(c)
	return c
}

func join(l *Lobby, playerID, name string) *Client {
	c := connect(l, playerID)
	l.handleHello(c, name)
	return c
}

// waitFor reads from the client until match accepts a message.
func waitFor(t *testing.T, c *Client, match func(any) bool) any {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				t.Fatal("client was dropped")
			}
			if match(msg) {
				return msg
			}
		case <-deadline:
			t.Fatal("timed out waiting for message")
			return nil
		}
	}
}

func noticeTitled(title string) func(any) bool {
	return func(msg any) bool {
		n, ok := msg.(NoticeMessage)
		return ok && n.Title == title
	}
}

func TestLobby_RegisterSendsSessionInfo(t *testing.T) {
	l, _ := newTestLobby(t)

	first := join(l, "p1", "Alice")
	waitFor(t, first, func(msg any) bool {
		info, ok := msg.(SessionInfoMessage)
		return ok && info.Username == "Alice"
	})

	// A second tab with the same cookie is already known.
	second := connect(l, "p1")
	msg := waitFor(t, second, func(msg any) bool { _, ok := msg.(SessionInfoMessage); return ok })
	if got := msg.(SessionInfoMessage).Username; got != "Alice" {
		t.Fatalf("Username = %q, want Alice", got)
	}
}

func TestLobby_HelloCollision(t *testing.T) {
	l, _ := newTestLobby(t)
	join(l, "p1", "Alice")

	other := join(l, "p2", "aLiCe")
	msg := waitFor(t, other, func(msg any) bool { _, ok := msg.(CollisionMessage); return ok })
	if got := msg.(CollisionMessage).Field; got != "username" {
		t.Errorf("Field = %q, want username", got)
	}
	if _, ok := l.Member("p2"); ok {
		t.Error("colliding client was given a username")
	}
}

func TestLobby_HelloInvalid(t *testing.T) {
	l, _ := newTestLobby(t)

	for _, name := range []string{"", "   ", "two words", "@alice", "$seek", strings.Repeat("a", maxUsernameLen+1)} {
		c := join(l, "p-"+name, name)
		waitFor(t, c, func(msg any) bool { _, ok := msg.(CollisionMessage); return ok })
		if _, ok := l.Member("p-" + name); ok {
			t.Errorf("username %q was accepted", name)
		}
	}
}

func TestLobby_Rename(t *testing.T) {
	l, _ := newTestLobby(t)
	c := join(l, "p1", "Alice")
	l.handleHello(c, "Alicia")

	if _, ok := l.Resolve("@alice"); ok {
		t.Error("old username still resolves")
	}
	if id, ok := l.Resolve("@alicia"); !ok || id != "Alicia" {
		t.Errorf("Resolve(@alicia) = %q, %v", id, ok)
	}

	// The old name is free for someone else.
	join(l, "p2", "alice")
	if id, ok := l.Member("p2"); !ok || id != "alice" {
		t.Errorf("Member(p2) = %q, %v", id, ok)
	}
}

func TestLobby_Resolve(t *testing.T) {
	l, _ := newTestLobby(t)
	join(l, "p1", "Alice")
	join(l, "p2", "Bob_2")

	for _, tc := range []struct {
		token string
		want  seek.Identity
		ok    bool
	}{
		{"@Alice", "Alice", true},
		{"@ALICE", "Alice", true},
		{"@alice,", "Alice", true},
		{"@alice!", "Alice", true},
		{"@bob_2", "Bob_2", true},
		{"alice", "", false},
		{"@", "", false},
		{"@carol", "", false},
	} {
		got, ok := l.Resolve(tc.token)
		if got != tc.want || ok != tc.ok {
			t.Errorf("Resolve(%q) = %q, %v; want %q, %v", tc.token, got, ok, tc.want, tc.ok)
		}
	}

	if got := l.Mention("Alice"); got != "@Alice" {
		t.Errorf("Mention = %q, want @Alice", got)
	}
}

func TestLobby_ChatIsBroadcastAndPublished(t *testing.T) {
	l, feed := newTestLobby(t)
	alice := join(l, "p1", "Alice")
	bob := join(l, "p2", "Bob")

	events, cancel, err := feed.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	l.handleChat(alice, "  ok @bob  ")

	var published seek.Message
	select {
	case published = <-events:
	case <-time.After(time.Second):
		t.Fatal("message not published to the feed")
	}
	if published.Sender != "Alice" || published.Text != "ok @bob" || published.Ref == "" {
		t.Fatalf("published = %+v", published)
	}

	for _, c := range []*Client{alice, bob} {
		msg := waitFor(t, c, func(msg any) bool { _, ok := msg.(ChatMessage); return ok }).(ChatMessage)
		if msg.From != "Alice" || msg.Text != "ok @bob" || msg.Ref != published.Ref {
			t.Errorf("chat = %+v, want ref %q", msg, published.Ref)
		}
	}
}

func TestLobby_ChatRequiresUsername(t *testing.T) {
	l, feed := newTestLobby(t)
	c := connect(l, "p1")

	events, cancel, _ := feed.Subscribe()
	defer cancel()

	l.handleChat(c, "hello")

	waitFor(t, c, func(msg any) bool {
		m, ok := msg.(SimpleMessage)
		return ok && m.Type == "error"
	})

	select {
	case msg := <-events:
		t.Fatalf("anonymous message was published: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLobby_NotifyReachesOnlyRecipient(t *testing.T) {
	l, _ := newTestLobby(t)
	alice := join(l, "p1", "Alice")
	aliceTab := connect(l, "p1")
	bob := join(l, "p2", "Bob")

	if err := l.Notify(context.Background(), "Alice", seek.Notice{Title: "Game Found", URL: "/game/abc"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	for _, c := range []*Client{alice, aliceTab} {
		msg := waitFor(t, c, noticeTitled("Game Found")).(NoticeMessage)
		if msg.URL != "/game/abc" {
			t.Errorf("URL = %q", msg.URL)
		}
	}

	for len(bob.send) > 0 {
		if n, ok := (<-bob.send).(NoticeMessage); ok {
			t.Fatalf("bob received %+v", n)
		}
	}
}

func TestLobby_NotifyOfflineIsNotAnError(t *testing.T) {
	l, _ := newTestLobby(t)

	if err := l.Notify(context.Background(), "ghost", seek.Notice{Title: "Game Found"}); err != nil {
		t.Fatalf("Notify(offline) = %v, want nil", err)
	}
}

func TestLobby_AnnounceReturnsRef(t *testing.T) {
	l, _ := newTestLobby(t)
	c := join(l, "p1", "Alice")

	ref, err := l.Announce(context.Background(), seek.Announcement{Title: "Looking For Game", Description: "@Alice is looking for a game!", RequestID: "r1"})
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}

	msg := waitFor(t, c, func(msg any) bool { _, ok := msg.(AnnounceMessage); return ok }).(AnnounceMessage)
	if msg.Ref != ref || ref == "" || msg.RequestID != "r1" {
		t.Fatalf("announce = %+v, ref %q", msg, ref)
	}
}

func TestLobby_UnregisterReleasesUsername(t *testing.T) {
	l, _ := newTestLobby(t)
	first := join(l, "p1", "Alice")
	second := connect(l, "p1")

	l.unregister(first)
	if _, ok := l.Member("p1"); !ok {
		t.Fatal("username released while another client is connected")
	}

	l.unregister(second)
	if _, ok := l.Member("p1"); ok {
		t.Fatal("username kept after every client left")
	}
	if _, ok := l.Resolve("@alice"); ok {
		t.Fatal("released username still resolves")
	}
}

func TestLobby_SlowClientIsDropped(t *testing.T) {
	l, _ := newTestLobby(t)
	slow := &Client{send: make(chan any, 1), playerID: "p1"}
	l.register(slow)

	l.broadcast(SimpleMessage{Type: "error", Message: "one too many"})

	l.mu.RLock()
	_, ok := l.clients[slow]
	l.mu.RUnlock()
	if ok {
		t.Fatal("client with a full buffer was kept")
	}
}

func TestLobby_SeekEndToEnd(t *testing.T) {
	l, feed := newTestLobby(t)
	sessions := newSessionManager(l.cfg)
	coord := seek.NewCoordinator(seek.Options{
		Feed:        feed,
		Notifier:    l,
		Provisioner: sessions,
		Resolver:    l,
		Timeout:     time.Minute,
	})
	l.seeker = coord

	alice := join(l, "p1", "Alice")
	bob := join(l, "p2", "Bob")
	carol := join(l, "p3", "Carol")

	l.handleChat(alice, "$seek @bob @carol")

	waitFor(t, bob, func(msg any) bool { _, ok := msg.(AnnounceMessage); return ok })
	l.handleChat(bob, "yes")
	l.handleChat(carol, "OK")

	var url string
	for _, c := range []*Client{alice, bob, carol} {
		msg := waitFor(t, c, noticeTitled("Game Found")).(NoticeMessage)
		if url == "" {
			url = msg.URL
		}
		if msg.URL == "" || msg.URL != url {
			t.Errorf("URL = %q, want %q", msg.URL, url)
		}
	}

	l.wait()

	if got := coord.Registry().Len(); got != 0 {
		t.Errorf("registry holds %d entries after the seek", got)
	}
	if got := sessions.Len(); got != 1 {
		t.Errorf("sessions = %d, want 1", got)
	}
	if !strings.HasPrefix(url, "/game/") {
		t.Errorf("URL = %q, want /game/ prefix", url)
	}
}

func TestLobby_SeekConflictNotifiesRequester(t *testing.T) {
	l, feed := newTestLobby(t)
	coord := seek.NewCoordinator(seek.Options{
		Feed:        feed,
		Notifier:    l,
		Provisioner: newSessionManager(l.cfg),
		Resolver:    l,
		Timeout:     time.Minute,
	})
	l.seeker = coord
	defer func() {
		coord.Shutdown()
		l.wait()
	}()

	alice := join(l, "p1", "Alice")
	bob := join(l, "p2", "Bob")
	carol := join(l, "p3", "Carol")

	l.handleChat(alice, "$seek @bob")
	waitFor(t, bob, func(msg any) bool { _, ok := msg.(AnnounceMessage); return ok })

	l.handleChat(carol, "$seek @bob")
	msg := waitFor(t, carol, noticeTitled("Error")).(NoticeMessage)
	if msg.Description != "@Bob is already being sought for a game!" {
		t.Errorf("Description = %q", msg.Description)
	}
	if msg.Ref == "" {
		t.Error("conflict notice does not point at the first seek")
	}
}

func TestLobby_SeekDuringShutdown(t *testing.T) {
	l, feed := newTestLobby(t)
	coord := seek.NewCoordinator(seek.Options{
		Feed:        feed,
		Notifier:    l,
		Provisioner: newSessionManager(l.cfg),
		Resolver:    l,
		Timeout:     time.Minute,
	})
	l.seeker = coord

	bob := join(l, "p2", "Bob")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 200 {
			l.handleChat(bob, "$seek")
		}
	}()

	l.stopSeeks()
	coord.Shutdown()
	l.wait()
	<-done

	if got := coord.Registry().Len(); got != 0 {
		t.Fatalf("registry holds %d entries after shutdown", got)
	}

	// The first client may have been dropped for falling behind.
	tab := connect(l, "p2")
	l.handleChat(tab, "$seek")
	msg := waitFor(t, tab, noticeTitled("Error")).(NoticeMessage)
	if msg.Description != "The lobby is shutting down." {
		t.Errorf("Description = %q", msg.Description)
	}
}

func TestLobby_PingReportsLatency(t *testing.T) {
	l, _ := newTestLobby(t)
	alice := join(l, "p1", "Alice")

	l.handleChat(alice, "$ping")
	msg := waitFor(t, alice, noticeTitled("Pong!")).(NoticeMessage)
	var ms int64
	if _, err := fmt.Sscanf(msg.Description, "Latency: %d ms", &ms); err != nil || ms < 0 {
		t.Fatalf("Description = %q", msg.Description)
	}

	l.dispatch("Alice", "$ping", "r1", time.Now().Add(-250*time.Millisecond))
	msg = waitFor(t, alice, noticeTitled("Pong!")).(NoticeMessage)
	if _, err := fmt.Sscanf(msg.Description, "Latency: %d ms", &ms); err != nil || ms < 250 {
		t.Fatalf("Description = %q, want at least 250 ms", msg.Description)
	}
}

type seekCall struct {
	requester seek.Identity
	invitees  []seek.Identity
	ref       string
}

type fakeSeeker struct {
	calls chan seekCall
	err   error
}

func (f *fakeSeeker) StartSeek(_ context.Context, requester seek.Identity, invitees []seek.Identity, ref string) (seek.Outcome, error) {
	f.calls <- seekCall{requester: requester, invitees: invitees, ref: ref}
	if f.err != nil {
		return seek.Outcome{}, f.err
	}
	return seek.Outcome{Kind: seek.OutcomeCancelled, Reason: seek.ReasonTimedOut}, nil
}

func TestLobby_SeekErrorsAreReported(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want string
	}{
		{name: "NoInvitees", err: seek.ErrNoInvitees, want: "You need to invite someone other than yourself."},
		{name: "Shutdown", err: seek.ErrShutdown, want: "The lobby is shutting down."},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l, _ := newTestLobby(t)
			l.seeker = &fakeSeeker{calls: make(chan seekCall, 1), err: tc.err}
			alice := join(l, "p1", "Alice")

			l.handleChat(alice, "$seek @alice")
			l.wait()

			msg := waitFor(t, alice, noticeTitled("Error")).(NoticeMessage)
			if msg.Description != tc.want {
				t.Errorf("Description = %q, want %q", msg.Description, tc.want)
			}
		})
	}
}

func TestParseInvitees(t *testing.T) {
	l, _ := newTestLobby(t)
	join(l, "p1", "Alice")
	join(l, "p2", "Bob")
	join(l, "p3", "Carol")

	for _, tc := range []struct {
		name        string
		args        []string
		want        []seek.Identity
		wantUnknown string
	}{
		{name: "Open", args: nil, want: nil},
		{name: "Whitelist", args: []string{"@bob", "@Carol,"}, want: []seek.Identity{"Bob", "Carol"}},
		{name: "UnknownMember", args: []string{"@bob", "@zed"}, wantUnknown: "@zed"},
		{name: "BareName", args: []string{"bob"}, wantUnknown: "bob"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, unknown := l.parseInvitees(tc.args)
			if unknown != tc.wantUnknown {
				t.Fatalf("unknown = %q, want %q", unknown, tc.wantUnknown)
			}
			if !slices.Equal(got, tc.want) {
				t.Fatalf("invitees = %v, want %v", got, tc.want)
			}
			if tc.args == nil && got != nil {
				t.Fatal("open seek must have nil invitees")
			}
		})
	}
}

func TestLobby_CloseAll(t *testing.T) {
	l, _ := newTestLobby(t)
	c := join(l, "p1", "Alice")

	l.closeAll()

	var sawShutdown bool
	for msg := range c.send {
		if m, ok := msg.(SimpleMessage); ok && m.Type == "shutdown" {
			sawShutdown = true
		}
	}
	if !sawShutdown {
		t.Error("client was not told about the shutdown")
	}

	// Unregistering after close must not close the channel twice.
	l.unregister(c)
}
