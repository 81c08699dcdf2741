/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/lfg/seek"
	"github.com/julienschmidt/httprouter"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/skip2/go-qrcode"
)

const (
	sessionAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	sessionIDLength = 8
	qrSize          = 320
)

// game is one provisioned session and the members allowed into it.
type game struct {
	id         string
	players    []seek.Identity
	createdAt  time.Time
	lastActive time.Time
}

// members maps a cookie to the lobby username it holds.
type members interface {
	Member(playerID string) (seek.Identity, bool)
}

// SessionManager holds provisioned games keyed by session ID, so each
// $prefix/game/$sessionid is its own isolated session.
type SessionManager struct {
	cfg *Config

	mu    sync.Mutex
	games map[string]*game

	idleTimeout time.Duration
	newID       func() (string, error)
	now         func() time.Time
}

func newSessionManager(cfg *Config) *SessionManager {
	return &SessionManager{
		cfg:         cfg,
		games:       make(map[string]*game),
		idleTimeout: cfg.sessionTimeout,
		newID: func() (string, error) {
			return gonanoid.Generate(sessionAlphabet, sessionIDLength)
		},
		now: time.Now,
	}
}

func (sm *SessionManager) url(id string) string {
	return sm.cfg.prefix + "/game/" + id
}

// Provision creates a session for players under a fresh ID that does not
// collide with an existing session.
func (sm *SessionManager) Provision(_ context.Context, players []seek.Identity) (seek.Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var id string
	for {
		candidate, err := sm.newID()
		if err != nil {
			return seek.Session{}, fmt.Errorf("generating session id: %w", err)
		}
		if _, exists := sm.games[candidate]; !exists {
			id = candidate
			break
		}
	}

	now := sm.now()
	sm.games[id] = &game{
		id:         id,
		players:    slices.Clone(players),
		createdAt:  now,
		lastActive: now,
	}

	logf(sm.cfg, "GAMES: Created game %s for %d players", id, len(players))

	return seek.Session{ID: id, URL: sm.url(id), Players: slices.Clone(players)}, nil
}

// Len returns the number of live sessions.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return len(sm.games)
}

// authorize returns the session if the member holding playerID is one of
// its players, marking it active. The status is the HTTP failure otherwise.
func (sm *SessionManager) authorize(id string, who members, playerID string) (game, int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	g, ok := sm.games[id]
	if !ok {
		return game{}, http.StatusNotFound
	}

	name, ok := who.Member(playerID)
	if !ok || !slices.Contains(g.players, name) {
		return game{}, http.StatusForbidden
	}

	g.lastActive = sm.now()

	return *g, http.StatusOK
}

// reap removes sessions idle since before cutoff and returns their IDs.
func (sm *SessionManager) reap(cutoff time.Time) []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var reaped []string
	for id, g := range sm.games {
		if g.lastActive.Before(cutoff) {
			delete(sm.games, id)
			reaped = append(reaped, id)
		}
	}
	return reaped
}

// reaperLoop periodically removes sessions that have been idle longer than
// idleTimeout, until ctx is done.
func (sm *SessionManager) reaperLoop(ctx context.Context) {
	if sm.idleTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(sm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range sm.reap(sm.now().Add(-sm.idleTimeout)) {
				logf(sm.cfg, "GAMES: Reaped idle game %s", id)
			}
		}
	}
}

func gamePage(cfg *Config, g game) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">`)
	htmlBody.WriteString(fmt.Sprintf(`<link rel="stylesheet" href="%s/assets/app.css">`, cfg.prefix))
	htmlBody.WriteString(fmt.Sprintf("<title>Game %s</title></head><body><main class=\"game\">", html.EscapeString(g.id)))
	htmlBody.WriteString(fmt.Sprintf("<h1>Game %s</h1><ul class=\"roster\">", html.EscapeString(g.id)))
	for _, p := range g.players {
		htmlBody.WriteString(fmt.Sprintf("<li>%s</li>", html.EscapeString(string(p))))
	}
	htmlBody.WriteString("</ul>")
	htmlBody.WriteString(fmt.Sprintf(`<img class="qr" src="%s/game/%s/qr" alt="QR code for this game" width="%d" height="%d">`,
		cfg.prefix, html.EscapeString(g.id), qrSize, qrSize))
	htmlBody.WriteString(fmt.Sprintf(`<p><a href="%s/">Back to the lobby</a></p>`, cfg.prefix))
	htmlBody.WriteString("</main></body></html>")

	return htmlBody.String()
}

func refuse(cfg *Config, w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	switch status {
	case http.StatusNotFound:
		io.WriteString(w, newPage(cfg.prefix+"/", "Not Found", "That game does not exist."))
	default:
		io.WriteString(w, newPage(cfg.prefix+"/", "Forbidden", "You are not a player in this game."))
	}
}

func serveGame(cfg *Config, sm *SessionManager, who members, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		g, status := sm.authorize(ps.ByName("sessionid"), who, playerID(r))
		if status != http.StatusOK {
			refuse(cfg, w, status)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		written, err := io.WriteString(w, gamePage(cfg, g))
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Game page %s (%s) to %s in %s",
			g.id,
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// serveGameQR generates a PNG QR code for the game URL using go-qrcode.
func serveGameQR(cfg *Config, sm *SessionManager, who members, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		_, status := sm.authorize(ps.ByName("sessionid"), who, playerID(r))
		if status != http.StatusOK {
			refuse(cfg, w, status)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		// We are at /.../:sessionid/qr; strip trailing "/qr" to get the game URL.
		path := strings.TrimSuffix(r.URL.Path, "/qr")

		png, err := qrcode.Encode(scheme+"://"+r.Host+path, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)

		if _, err := w.Write(png); err != nil {
			errs <- err
		}
	}
}

// registerSessions sets up routes so that:
//   - $prefix/game/:sessionid     → roster page, players only
//   - $prefix/game/:sessionid/qr  → PNG QR code for that game URL
func registerSessions(cfg *Config, sm *SessionManager, who members, errs chan<- error, mux *httprouter.Router) {
	mux.GET(cfg.prefix+"/game/:sessionid", serveGame(cfg, sm, who, errs))
	mux.GET(cfg.prefix+"/game/:sessionid/qr", serveGameQR(cfg, sm, who, errs))
}
