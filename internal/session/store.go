// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taibuivan/restgate/internal/platform/constants"
	"github.com/taibuivan/restgate/pkg/universalid"
)

// # Store Configuration

// Config holds the session lifetime policy.
type Config struct {
	// ExpireAfter is the absolute session lifetime, counted from creation.
	ExpireAfter time.Duration

	// InactivityTimeout expires sessions that have not been fetched by
	// primary id for this long. Zero disables the inactivity check.
	InactivityTimeout time.Duration

	// MaxPassthroughPerUser bounds concurrent passthrough connections a
	// single user may hold across all their sessions.
	MaxPassthroughPerUser int
}

func (cfg *Config) applyDefaults() {
	maxTimeout := time.Duration(constants.MaxSessionTimeoutMinutes) * time.Minute

	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = time.Duration(constants.DefaultSessionExpireMinutes) * time.Minute
	}
	if cfg.ExpireAfter > maxTimeout {
		cfg.ExpireAfter = maxTimeout
	}
	if cfg.InactivityTimeout > maxTimeout {
		cfg.InactivityTimeout = maxTimeout
	}
	if cfg.MaxPassthroughPerUser <= 0 {
		cfg.MaxPassthroughPerUser = constants.DefaultMaxPassthroughPerUser
	}
}

// # Session Store

// Store owns every live session. All session id and timestamp mutation goes
// through it, under one mutex.
//
// Expiration is amortized with two watermarks: the oldest creation time and
// the oldest access time across all sessions. A full sweep only runs when an
// operation observes that a watermark has aged past its timeout, so the
// sweep cost is paid at most once per timeout interval regardless of call
// volume.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cfg      Config

	wmCreate time.Time
	wmAccess time.Time

	pmu         sync.Mutex
	passthrough map[universalid.ID]int
}

// NewStore creates an empty session store with the given policy.
func NewStore(cfg Config) *Store {
	cfg.applyDefaults()
	return &Store{
		sessions:    make(map[string]*Session),
		cfg:         cfg,
		passthrough: make(map[universalid.ID]int),
	}
}

// Configure replaces the lifetime policy. Existing sessions are re-judged
// against the new policy on their next sweep.
func (store *Store) Configure(cfg Config) {
	cfg.applyDefaults()

	store.mu.Lock()
	store.cfg = cfg
	store.mu.Unlock()
}

// Len returns the number of live sessions.
func (store *Store) Len() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.sessions)
}

// # Creation

// New creates a session owned by the given handler. The primary id is a
// fresh random UUID; the store re-rolls under its lock until the id is
// unique, so two concurrent calls can never share an id.
func (store *Store) New(handlerID universalid.ID, handlerName string) *Session {
	now := time.Now()

	store.mu.Lock()
	removed := store.sweepLocked(now)

	id := uuid.NewString()
	for {
		if _, taken := store.sessions[id]; !taken {
			break
		}
		id = uuid.NewString()
	}

	created := store.insertLocked(id, handlerID, handlerName, now)
	store.mu.Unlock()

	fireDeleteHooks(removed)
	return created
}

// NewWithID creates a session under a caller-chosen primary id. It returns
// false when the id is already taken. Token validation uses this to key
// sessions by token identity.
func (store *Store) NewWithID(id string, handlerID universalid.ID, handlerName string) (*Session, bool) {
	now := time.Now()

	store.mu.Lock()
	removed := store.sweepLocked(now)

	if _, taken := store.sessions[id]; taken {
		store.mu.Unlock()
		fireDeleteHooks(removed)
		return nil, false
	}

	created := store.insertLocked(id, handlerID, handlerName, now)
	store.mu.Unlock()

	fireDeleteHooks(removed)
	return created, true
}

func (store *Store) insertLocked(id string, handlerID universalid.ID, handlerName string, now time.Time) *Session {
	created := &Session{
		id:          id,
		handlerID:   handlerID,
		handlerName: handlerName,
		createTime:  now,
		accessTime:  now,
		state:       StateUninitialized,
	}

	if len(store.sessions) == 0 {
		store.wmCreate = now
		store.wmAccess = now
	}
	store.sessions[id] = created

	return created
}

// # Lookup

// Get returns the live session with the given primary id and refreshes its
// access time. Expired or unknown ids return nil.
func (store *Store) Get(id string) *Session {
	now := time.Now()

	store.mu.Lock()
	removed := store.sweepLocked(now)

	found := store.sessions[id]
	if found != nil && store.expiredLocked(found, now) {
		delete(store.sessions, id)
		removed = append(removed, found)
		found = nil
	}
	if found != nil {
		found.accessTime = now
	}
	store.mu.Unlock()

	fireDeleteHooks(removed)
	return found
}

// GetBySecondaryID returns the session a handler filed under its own lookup
// key. The access time is deliberately not refreshed: secondary lookups
// happen on unauthenticated callbacks and must not keep a stalled flow
// alive forever.
func (store *Store) GetBySecondaryID(handlerID universalid.ID, secondaryID string) *Session {
	if secondaryID == "" {
		return nil
	}
	now := time.Now()

	store.mu.Lock()
	removed := store.sweepLocked(now)

	var found *Session
	for _, candidate := range store.sessions {
		if candidate.handlerID == handlerID && candidate.secondaryID == secondaryID {
			found = candidate
			break
		}
	}
	if found != nil && store.expiredLocked(found, now) {
		delete(store.sessions, found.id)
		removed = append(removed, found)
		found = nil
	}
	store.mu.Unlock()

	fireDeleteHooks(removed)
	return found
}

// SetSecondaryID assigns a handler lookup key to the session, re-rolling
// through the generator until the key is unique among the handler's
// sessions. Returns the assigned key.
func (store *Store) SetSecondaryID(target *Session, generate func() string) string {
	store.mu.Lock()
	defer store.mu.Unlock()

	for {
		candidate := generate()
		collision := false
		for _, other := range store.sessions {
			if other != target && other.handlerID == target.handlerID && other.secondaryID == candidate {
				collision = true
				break
			}
		}
		if !collision {
			target.secondaryID = candidate
			return candidate
		}
	}
}

// # Removal

// Remove drops the session and runs its delete hook.
func (store *Store) Remove(target *Session) {
	if target == nil {
		return
	}
	store.RemoveByID(target.id)
}

// RemoveByID drops the session with the given primary id, if present.
func (store *Store) RemoveByID(id string) {
	store.mu.Lock()
	found := store.sessions[id]
	if found != nil {
		delete(store.sessions, id)
	}
	store.mu.Unlock()

	if found != nil {
		fireDeleteHooks([]*Session{found})
	}
}

// RemoveAllForHandler drops every session owned by the given handler and
// returns how many were dropped. The registry uses this when an auth app is
// reconfigured or removed.
func (store *Store) RemoveAllForHandler(handlerID universalid.ID) int {
	store.mu.Lock()
	var removed []*Session
	for id, candidate := range store.sessions {
		if candidate.handlerID == handlerID {
			delete(store.sessions, id)
			removed = append(removed, candidate)
		}
	}
	store.mu.Unlock()

	fireDeleteHooks(removed)
	return len(removed)
}

// RemoveExpired forces a full expiration sweep immediately.
func (store *Store) RemoveExpired() {
	store.mu.Lock()
	removed := store.forceSweepLocked(time.Now())
	store.mu.Unlock()

	fireDeleteHooks(removed)
}

// # Expiration

func (store *Store) expiredLocked(candidate *Session, now time.Time) bool {
	if store.cfg.ExpireAfter > 0 && now.Sub(candidate.createTime) >= store.cfg.ExpireAfter {
		return true
	}
	if store.cfg.InactivityTimeout > 0 && now.Sub(candidate.accessTime) >= store.cfg.InactivityTimeout {
		return true
	}
	return false
}

// sweepLocked runs a full sweep only when one of the watermarks has aged
// past its timeout. Access-time refreshes leave the access watermark stale
// on purpose: a stale watermark causes at most one harmless extra sweep.
func (store *Store) sweepLocked(now time.Time) []*Session {
	if len(store.sessions) == 0 {
		return nil
	}

	due := store.cfg.ExpireAfter > 0 && now.Sub(store.wmCreate) >= store.cfg.ExpireAfter
	if !due {
		due = store.cfg.InactivityTimeout > 0 && now.Sub(store.wmAccess) >= store.cfg.InactivityTimeout
	}
	if !due {
		return nil
	}

	return store.forceSweepLocked(now)
}

func (store *Store) forceSweepLocked(now time.Time) []*Session {
	var removed []*Session

	store.wmCreate = now
	store.wmAccess = now

	for id, candidate := range store.sessions {
		if store.expiredLocked(candidate, now) {
			delete(store.sessions, id)
			removed = append(removed, candidate)
			continue
		}
		if candidate.createTime.Before(store.wmCreate) {
			store.wmCreate = candidate.createTime
		}
		if candidate.accessTime.Before(store.wmAccess) {
			store.wmAccess = candidate.accessTime
		}
	}

	return removed
}

func fireDeleteHooks(removed []*Session) {
	for _, dropped := range removed {
		if hook := dropped.deleteHook(); hook != nil {
			hook(dropped)
		}
	}
}

// # Passthrough Accounting

// AcquirePassthrough reserves one passthrough connection slot for the user.
// It returns false when the user already holds the configured maximum.
func (store *Store) AcquirePassthrough(userID universalid.ID) bool {
	store.mu.Lock()
	limit := store.cfg.MaxPassthroughPerUser
	store.mu.Unlock()

	store.pmu.Lock()
	defer store.pmu.Unlock()

	if store.passthrough[userID] >= limit {
		return false
	}
	store.passthrough[userID]++
	return true
}

// ReleasePassthrough returns a previously reserved slot. Safe to call from
// session delete hooks.
func (store *Store) ReleasePassthrough(userID universalid.ID) {
	store.pmu.Lock()
	defer store.pmu.Unlock()

	if count := store.passthrough[userID]; count > 1 {
		store.passthrough[userID] = count - 1
	} else {
		delete(store.passthrough, userID)
	}
}
