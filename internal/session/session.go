// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package session implements the in-memory authentication session store.

A session tracks one browser's (or API client's) progress through an
authentication flow and, once verified, carries the resolved user for the
rest of its lifetime. Sessions live only in process memory: they may hold
live passthrough database handles, which cannot be serialized to an external
store.

# Architecture

The Store guards all sessions with a single mutex and amortizes expiration
over normal operations: a full sweep runs at most once per timeout interval,
triggered by whichever operation first observes that the oldest watermark
has passed. The mutable payload of each session is guarded by a small
per-session mutex, so two requests presenting the same session id never race
on the flow state.
*/
package session

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/taibuivan/restgate/internal/metadata"
	"github.com/taibuivan/restgate/internal/platform/constants"
	"github.com/taibuivan/restgate/pkg/universalid"
)

// # Session States

// State is the position of a session within its authentication flow.
type State int

const (
	// StateUninitialized is a freshly created session.
	StateUninitialized State = iota

	// StateWaitingForCode means a challenge (or OAuth redirect) was issued
	// and the client has not answered yet.
	StateWaitingForCode

	// StateGettingToken means the client answered and the handler is
	// exchanging the answer for a token.
	StateGettingToken

	// StateTokenVerified means the token checked out but the account has
	// not been resolved yet.
	StateTokenVerified

	// StateUserVerified is the terminal authenticated state.
	StateUserVerified
)

// String returns the state name for logs.
func (state State) String() string {
	switch state {
	case StateUninitialized:
		return "uninitialized"
	case StateWaitingForCode:
		return "waiting_for_code"
	case StateGettingToken:
		return "getting_token"
	case StateTokenVerified:
		return "token_verified"
	case StateUserVerified:
		return "user_verified"
	default:
		return "unknown"
	}
}

// # Session Entity

// Session is one client's authentication context. The identifying fields and
// timestamps are owned by the Store and immutable from outside it; the flow
// payload is written by the handler driving the flow, through accessors that
// take the session's own mutex.
type Session struct {
	id          string
	secondaryID string
	handlerID   universalid.ID
	handlerName string
	createTime  time.Time
	accessTime  time.Time

	mu                 sync.Mutex
	proto              string
	host               string
	generateToken      bool
	state              State
	user               *metadata.AuthUser
	completionRedirect string
	completionClose    bool
	data               any
	onDelete           func(*Session)
}

// ID returns the primary session id.
func (session *Session) ID() string { return session.id }

// SecondaryID returns the handler-assigned lookup key, empty until assigned.
func (session *Session) SecondaryID() string { return session.secondaryID }

// HandlerID returns the id of the auth app that owns the session.
func (session *Session) HandlerID() universalid.ID { return session.handlerID }

// HandlerName returns the display name of the auth app that owns the session.
func (session *Session) HandlerName() string { return session.handlerName }

// CreateTime returns when the session was created.
func (session *Session) CreateTime() time.Time { return session.createTime }

// AccessTime returns when the session was last fetched by primary id.
func (session *Session) AccessTime() time.Time { return session.accessTime }

// CookieName returns the cookie under which the session id travels. The name
// embeds the owning handler id so apps of different vendors never clobber
// each other's cookies.
func (session *Session) CookieName() string {
	handlerID := session.handlerID
	return constants.SessionCookiePrefix + hex.EncodeToString(handlerID[:])
}

// # Flow Payload

// SetOrigin records the scheme and host of the request that created the
// session. OAuth handlers need them to build redirect URLs.
func (session *Session) SetOrigin(proto, host string) {
	session.mu.Lock()
	session.proto = proto
	session.host = host
	session.mu.Unlock()
}

// Proto returns the scheme of the request that created the session.
func (session *Session) Proto() string {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.proto
}

// Host returns the host of the request that created the session.
func (session *Session) Host() string {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.host
}

// SetGenerateToken marks a session whose completion should mint a JWT
// instead of relying on the cookie.
func (session *Session) SetGenerateToken(generate bool) {
	session.mu.Lock()
	session.generateToken = generate
	session.mu.Unlock()
}

// GenerateToken reports whether completion mints a JWT.
func (session *Session) GenerateToken() bool {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.generateToken
}

// State returns the flow position.
func (session *Session) State() State {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.state
}

// SetState advances the flow position. Nothing rewinds it.
func (session *Session) SetState(state State) {
	session.mu.Lock()
	session.state = state
	session.mu.Unlock()
}

// User returns the verified account, nil until the flow completes.
func (session *Session) User() *metadata.AuthUser {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.user
}

// Verify completes the flow: the state becomes StateUserVerified, the user
// is recorded, and any handler-private flow data is dropped. The user and
// state move together so a concurrent Authenticated check never observes a
// half-verified session.
func (session *Session) Verify(user *metadata.AuthUser) {
	session.mu.Lock()
	session.state = StateUserVerified
	session.user = user
	session.data = nil
	session.mu.Unlock()
}

// SetCompletionRedirect records where the client asked to be sent after the
// flow finishes.
func (session *Session) SetCompletionRedirect(redirect string) {
	session.mu.Lock()
	session.completionRedirect = redirect
	session.mu.Unlock()
}

// CompletionRedirect returns the post-login redirect, empty when unset.
func (session *Session) CompletionRedirect() string {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.completionRedirect
}

// SetCompletionClose records that the client asked the login window to
// close itself after the flow finishes.
func (session *Session) SetCompletionClose(close bool) {
	session.mu.Lock()
	session.completionClose = close
	session.mu.Unlock()
}

// CompletionClose reports whether the login window should close itself.
func (session *Session) CompletionClose() bool {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.completionClose
}

// SetData stores handler-private flow state (challenge nonces and the like).
func (session *Session) SetData(data any) {
	session.mu.Lock()
	session.data = data
	session.mu.Unlock()
}

// Data returns the handler-private flow state.
func (session *Session) Data() any {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.data
}

// SetOnDelete installs a hook that runs when the store drops the session,
// whatever the reason. Used to release passthrough connections.
func (session *Session) SetOnDelete(hook func(*Session)) {
	session.mu.Lock()
	session.onDelete = hook
	session.mu.Unlock()
}

func (session *Session) deleteHook() func(*Session) {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.onDelete
}

// Authenticated reports whether the flow completed.
func (session *Session) Authenticated() bool {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.state == StateUserVerified && session.user != nil
}
