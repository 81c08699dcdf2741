/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// The lobby is a single shared chat room served over WebSockets.
//
// Members are identified by cookie and choose a username on connect.
// Every chat line is shown to everyone and published to the chat feed,
// where seek coordinators read replies to their announcements. Lines
// starting with "$" are commands. The lobby also delivers announcements
// and private notices on behalf of the coordinators.

package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Seednode/lfg/chat"
	"github.com/Seednode/lfg/seek"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/text/cases"
)

const (
	playerCookieName = "lfg_id"
	maxUsernameLen   = 32
	maxMessageSize   = 4096
	clientBuffer     = 64
	refAlphabet      = "abcdefghijklmnopqrstuvwxyz0123456789"
	refLength        = 12
)

// Messages coming from clients
type ClientMessage struct {
	Type     string `json:"type"`               // "hello", "chat"
	Username string `json:"username,omitempty"` // hello
	Text     string `json:"text,omitempty"`     // chat
}

// SessionInfoMessage tells a client which username its cookie holds, if any.
type SessionInfoMessage struct {
	Type     string `json:"type"` // "session_info"
	Username string `json:"username,omitempty"`
	Version  string `json:"version"`
}

// ChatMessage is a lobby chat line, shown to everyone.
type ChatMessage struct {
	Type string    `json:"type"` // "chat"
	Ref  string    `json:"ref"`
	From string    `json:"from"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// AnnounceMessage is a seek announcement, shown to everyone.
type AnnounceMessage struct {
	Type        string `json:"type"` // "announce"
	Ref         string `json:"ref"`
	Title       string `json:"title"`
	Description string `json:"description"`
	RequestID   string `json:"request_id"`
}

// NoticeMessage is shown only to the member it is addressed to.
type NoticeMessage struct {
	Type        string `json:"type"` // "notice"
	Title       string `json:"title"`
	Description string `json:"description"`
	Ref         string `json:"ref,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Sent to a single client when its chosen username is taken or invalid
type CollisionMessage struct {
	Type    string `json:"type"`  // "collision"
	Field   string `json:"field"` // "username"
	Message string `json:"message"`
}

// SimpleMessage is for generic notifications ("error", "shutdown").
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

// seeker starts a seek and blocks until it resolves.
type seeker interface {
	StartSeek(ctx context.Context, requester seek.Identity, invitees []seek.Identity, originRef string) (seek.Outcome, error)
}

type Lobby struct {
	cfg  *Config
	feed chat.Publisher

	seeker  seeker
	seekMu  sync.Mutex
	closing bool
	seeks   sync.WaitGroup

	mu      sync.RWMutex
	clients map[*Client]bool
	names   map[string]string        // folded username -> playerID
	members map[string]seek.Identity // playerID -> username

	// chatMu keeps the order clients see chat lines in equal to the
	// order they reach the feed.
	chatMu sync.Mutex
}

func newLobby(cfg *Config, feed chat.Publisher) *Lobby {
	return &Lobby{
		cfg:     cfg,
		feed:    feed,
		clients: make(map[*Client]bool),
		names:   make(map[string]string),
		members: make(map[string]seek.Identity),
	}
}

func foldName(name string) string {
	return cases.Fold().String(name)
}

// usernameProblem describes why name cannot be used, or returns "".
func usernameProblem(name string) string {
	switch {
	case name == "":
		return "Please choose a username."
	case utf8.RuneCountInString(name) > maxUsernameLen:
		return fmt.Sprintf("Usernames may be at most %d characters long.", maxUsernameLen)
	case strings.ContainsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-'
	}):
		return "Usernames may only contain letters, digits, '_' and '-'."
	}
	return ""
}

func newRef() (string, error) {
	return gonanoid.Generate(refAlphabet, refLength)
}

// sendLocked assumes l.mu is held for writing. Clients that cannot keep up
// are dropped.
func (l *Lobby) sendLocked(c *Client, msg any) {
	if !l.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(l.clients, c)
		close(c.send)
	}
}

func (l *Lobby) broadcast(msg any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for c := range l.clients {
		l.sendLocked(c, msg)
	}
}

func (l *Lobby) register(c *Client) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.clients[c] = true

	l.sendLocked(c, SessionInfoMessage{
		Type:     "session_info",
		Username: string(l.members[c.playerID]),
		Version:  releaseVersion,
	})
}

func (l *Lobby) unregister(c *Client) {
	l.mu.Lock()
	if _, ok := l.clients[c]; ok {
		delete(l.clients, c)
		close(c.send)
	}
	l.mu.Unlock()

	if l.cfg.playerTimeout > 0 {
		time.AfterFunc(l.cfg.playerTimeout, func() { l.release(c.playerID) })
	} else {
		l.release(c.playerID)
	}
}

// release frees the username held by playerID if none of its clients are
// still connected.
func (l *Lobby) release(playerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for c := range l.clients {
		if c.playerID == playerID {
			return
		}
	}

	name, ok := l.members[playerID]
	if !ok {
		return
	}
	delete(l.members, playerID)
	delete(l.names, foldName(string(name)))

	logf(l.cfg, "LOBBY: Released username %q", name)
}

// Member returns the username held by a cookie.
func (l *Lobby) Member(playerID string) (seek.Identity, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	id, ok := l.members[playerID]
	return id, ok
}

func (l *Lobby) handleHello(c *Client, username string) {
	name := strings.TrimSpace(username)

	l.mu.Lock()
	defer l.mu.Unlock()

	if problem := usernameProblem(name); problem != "" {
		l.sendLocked(c, CollisionMessage{Type: "collision", Field: "username", Message: problem})
		return
	}

	key := foldName(name)
	if owner, ok := l.names[key]; ok && owner != c.playerID {
		l.sendLocked(c, CollisionMessage{
			Type:    "collision",
			Field:   "username",
			Message: "That username is already taken. Please choose a different username.",
		})
		return
	}

	prev, renamed := l.members[c.playerID]
	if renamed {
		delete(l.names, foldName(string(prev)))
	}
	l.names[key] = c.playerID
	l.members[c.playerID] = seek.Identity(name)

	for client := range l.clients {
		if client.playerID == c.playerID {
			l.sendLocked(client, SessionInfoMessage{Type: "session_info", Username: name, Version: releaseVersion})
		}
	}

	if renamed {
		logf(l.cfg, "LOBBY: %q is now known as %q", prev, name)
	} else {
		logf(l.cfg, "LOBBY: %q joined", name)
	}
}

func (l *Lobby) handleChat(c *Client, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	from, ok := l.Member(c.playerID)
	if !ok {
		l.mu.Lock()
		l.sendLocked(c, SimpleMessage{Type: "error", Message: "Please choose a username before chatting."})
		l.mu.Unlock()
		return
	}

	ref, err := newRef()
	if err != nil {
		logf(l.cfg, "LOBBY: Failed to create message ref: %v", err)
		return
	}
	now := time.Now()

	l.chatMu.Lock()
	l.broadcast(ChatMessage{Type: "chat", Ref: ref, From: string(from), Text: text, At: now})
	err = l.feed.Publish(context.Background(), seek.Message{Sender: from, Text: text, Ref: ref, At: now})
	l.chatMu.Unlock()

	if err != nil {
		logf(l.cfg, "LOBBY: Failed to publish message %s from %q: %v", ref, from, err)
	}

	if strings.HasPrefix(text, commandPrefix) {
		l.dispatch(from, text, ref, now)
	}
}

// Announce posts a seek announcement to everyone in the lobby.
func (l *Lobby) Announce(_ context.Context, a seek.Announcement) (string, error) {
	ref, err := newRef()
	if err != nil {
		return "", fmt.Errorf("creating announcement ref: %w", err)
	}

	l.broadcast(AnnounceMessage{
		Type:        "announce",
		Ref:         ref,
		Title:       a.Title,
		Description: a.Description,
		RequestID:   a.RequestID,
	})

	logf(l.cfg, "LOBBY: Announced seek %s as %s", a.RequestID, ref)

	return ref, nil
}

// Notify sends a notice to every connected client of a member. Members
// who are offline simply miss it.
func (l *Lobby) Notify(_ context.Context, to seek.Identity, n seek.Notice) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delivered := 0
	if playerID, ok := l.names[foldName(string(to))]; ok {
		for c := range l.clients {
			if c.playerID != playerID {
				continue
			}
			l.sendLocked(c, NoticeMessage{
				Type:        "notice",
				Title:       n.Title,
				Description: n.Description,
				Ref:         n.Ref,
				URL:         n.URL,
			})
			delivered++
		}
	}

	if delivered == 0 {
		logf(l.cfg, "LOBBY: %q is offline, dropped notice %q", to, n.Title)
	}

	return nil
}

func (l *Lobby) Mention(id seek.Identity) string {
	return "@" + string(id)
}

// Resolve maps an "@username" token to the member holding that username.
// Trailing punctuation is ignored.
func (l *Lobby) Resolve(token string) (seek.Identity, bool) {
	name, ok := strings.CutPrefix(token, "@")
	if !ok {
		return "", false
	}
	name = strings.TrimRight(name, ",.!?:;")
	if name == "" {
		return "", false
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	playerID, ok := l.names[foldName(name)]
	if !ok {
		return "", false
	}
	id, ok := l.members[playerID]
	return id, ok
}

// closeAll disconnects every client (used on shutdown).
func (l *Lobby) closeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for c := range l.clients {
		select {
		case c.send <- SimpleMessage{Type: "shutdown", Message: "The lobby is shutting down."}:
		default:
		}
		close(c.send)
		delete(l.clients, c)
	}
}

// beginSeek counts a new seek, or reports false once the lobby has stopped
// taking them.
func (l *Lobby) beginSeek() bool {
	l.seekMu.Lock()
	defer l.seekMu.Unlock()

	if l.closing {
		return false
	}
	l.seeks.Add(1)
	return true
}

// stopSeeks refuses every seek asked for from now on.
func (l *Lobby) stopSeeks() {
	l.seekMu.Lock()
	l.closing = true
	l.seekMu.Unlock()
}

// wait stops new seeks and blocks until every seek started from the lobby
// has returned.
func (l *Lobby) wait() {
	l.stopSeeks()
	l.seeks.Wait()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id, err := gonanoid.New()
	if err != nil {
		return ""
	}

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

func playerID(r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil {
		return c.Value
	}
	return ""
}

func serveWebSocket(cfg *Config, l *Lobby) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		id := getOrSetPlayerID(w, r)
		if id == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "LOBBY: Upgrade failed for %s: %v", realIP(r), err)
			return
		}
		conn.SetReadLimit(maxMessageSize)

		client := &Client{
			conn:     conn,
			send:     make(chan any, clientBuffer),
			playerID: id,
		}

		l.register(client)

		go client.writePump()
		client.readPump(l)
	}
}

func (c *Client) readPump(l *Lobby) {
	defer func() {
		l.unregister(c)
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "hello":
			l.handleHello(c, msg.Username)
		case "chat":
			l.handleChat(c, msg.Text)
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func registerLobby(cfg *Config, l *Lobby, mux *httprouter.Router) {
	mux.GET(cfg.prefix+"/ws", serveWebSocket(cfg, l))
}
