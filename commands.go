/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Seednode/lfg/seek"
)

const commandPrefix = "$"

const seekUsage = "`$seek`\n" +
	`Looks for a game that anyone can join by sending "ok @you" or "yes @you".` + "\n\n" +
	"`$seek @person1 @person2 ...`\n" +
	`Looks for a game that only @person1 and @person2 (and any others you care to specify) can join by just sending "ok" or "yes", or reject by sending "no".` + "\n\n" +
	`At any time until a game has been found, you can send "nvm" in chat to cancel your own seek.`

const helpText = seekUsage + "\n\n" +
	"`$ping`\nReplies with how long the lobby took to answer.\n\n" +
	"`$version`\nVersion of the running lobby."

// parseInvitees resolves the arguments of $seek. No arguments means an
// open seek, reported as a nil slice. The first argument that names nobody
// in the lobby is returned as unknown.
func (l *Lobby) parseInvitees(args []string) (invitees []seek.Identity, unknown string) {
	if len(args) == 0 {
		return nil, ""
	}

	invitees = make([]seek.Identity, 0, len(args))
	for _, arg := range args {
		id, ok := l.Resolve(arg)
		if !ok {
			return nil, arg
		}
		invitees = append(invitees, id)
	}
	return invitees, ""
}

func (l *Lobby) reply(to seek.Identity, ref, title, description string) {
	_ = l.Notify(context.Background(), to, seek.Notice{Title: title, Description: description, Ref: ref})
}

// dispatch runs a command. sent is when the line reached the lobby.
func (l *Lobby) dispatch(from seek.Identity, text, ref string, sent time.Time) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], commandPrefix))
	args := fields[1:]

	logf(l.cfg, "LOBBY: %q ran %s%s", from, commandPrefix, name)

	switch name {
	case "seek":
		invitees, unknown := l.parseInvitees(args)
		if unknown != "" {
			l.reply(from, ref, "Error", fmt.Sprintf("%s is not in the lobby.", unknown))
			return
		}
		if l.seeker == nil {
			l.reply(from, ref, "Error", "Seeking is not available right now.")
			return
		}

		if !l.beginSeek() {
			l.reply(from, ref, "Error", "The lobby is shutting down.")
			return
		}
		go func() {
			defer l.seeks.Done()
			l.runSeek(from, invitees, ref)
		}()

	case "help":
		l.reply(from, ref, "Usage", helpText)

	case "ping":
		l.reply(from, ref, "Pong!", fmt.Sprintf("Latency: %d ms", time.Since(sent).Milliseconds()))

	case "version":
		l.reply(from, ref, "Version", "lfg v"+releaseVersion)

	default:
		l.reply(from, ref, "Error", fmt.Sprintf("Unknown command %s%s. Try %shelp.", commandPrefix, name, commandPrefix))
	}
}

func (l *Lobby) runSeek(from seek.Identity, invitees []seek.Identity, ref string) {
	out, err := l.seeker.StartSeek(context.Background(), from, invitees, ref)

	var downstream *seek.DownstreamError
	switch {
	case errors.Is(err, seek.ErrNoInvitees):
		l.reply(from, ref, "Error", "You need to invite someone other than yourself.")
		return
	case errors.Is(err, seek.ErrShutdown):
		l.reply(from, ref, "Error", "The lobby is shutting down.")
		return
	case errors.As(err, &downstream):
		logf(l.cfg, "LOBBY: Seek %s by %q failed to %s: %v", out.RequestID, from, downstream.Op, downstream.Err)
		return
	case err != nil:
		logf(l.cfg, "LOBBY: Seek by %q failed: %v", from, err)
		return
	}

	switch out.Kind {
	case seek.OutcomeSuccess:
		logf(l.cfg, "LOBBY: Seek %s by %q found a game for %d players", out.RequestID, from, len(out.Players))
	case seek.OutcomeConflict:
		logf(l.cfg, "LOBBY: Seek %s by %q conflicted with %q", out.RequestID, from, out.Conflict.Identity)
	case seek.OutcomeCancelled:
		logf(l.cfg, "LOBBY: Seek %s by %q cancelled: %s", out.RequestID, from, out.Reason)
	}
}
