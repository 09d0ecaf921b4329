// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package authz implements the authorize manager: the orchestration layer that
ties auth apps, vendor handlers, sessions, throttles, and tokens together.

# Architecture

The manager owns a registry of authentication handlers, one per enabled auth
app, rebuilt atomically whenever the metadata change feed reports a
configuration change. Request processing takes a read lock only; a rebuild
swaps the whole registry under the write lock and discards sessions of
handlers that disappeared or changed.
*/
package authz

import (
	"context"
	"crypto/rand"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/taibuivan/restgate/internal/authn"
	"github.com/taibuivan/restgate/internal/metadata"
	"github.com/taibuivan/restgate/internal/platform/apperr"
	"github.com/taibuivan/restgate/internal/platform/constants"
	"github.com/taibuivan/restgate/internal/ratelimit"
	"github.com/taibuivan/restgate/internal/session"
	"github.com/taibuivan/restgate/pkg/universalid"
)

// # Options

// Options is the static configuration of the authorize manager.
type Options struct {
	// RouterID identifies this gateway instance inside minted tokens.
	RouterID string

	// SupportsHTTPS gates vendors that redirect the user agent.
	SupportsHTTPS bool

	// JWTSecret signs and validates bearer tokens. Empty disables the
	// whole bearer path.
	JWTSecret string

	// JWTExpire is the lifetime of minted tokens.
	JWTExpire time.Duration

	// AccountLimit throttles attempts per account name.
	AccountLimit ratelimit.Config

	// HostLimit throttles attempts per client host.
	HostLimit ratelimit.Config
}

// # Manager

// Manager coordinates every authentication and authorization decision.
type Manager struct {
	sessions  *session.Store
	users     metadata.UserStore
	exchanger authn.TokenExchanger
	logger    *slog.Logger
	opts      Options

	accountLimiter *ratelimit.Control
	hostLimiter    *ratelimit.Control

	// randomData keys fake-salt derivation; fresh per process.
	randomData []byte

	mu        sync.RWMutex
	handlers  map[universalid.ID]authn.Handler
	byService map[universalid.ID][]authn.Handler
	apps      map[universalid.ID]*metadata.AuthApp
}

// NewManager creates a manager with an empty handler registry. Call Update
// (directly or through the change feed) to load the configuration.
func NewManager(
	users metadata.UserStore,
	sessions *session.Store,
	exchanger authn.TokenExchanger,
	logger *slog.Logger,
	opts Options,
) *Manager {
	randomData := make([]byte, 32)
	_, _ = rand.Read(randomData)

	return &Manager{
		sessions:       sessions,
		users:          users,
		exchanger:      exchanger,
		logger:         logger,
		opts:           opts,
		accountLimiter: ratelimit.New(opts.AccountLimit),
		hostLimiter:    ratelimit.New(opts.HostLimit),
		randomData:     randomData,
		handlers:       make(map[universalid.ID]authn.Handler),
		byService:      make(map[universalid.ID][]authn.Handler),
		apps:           make(map[universalid.ID]*metadata.AuthApp),
	}
}

// # Registry Reconciliation

/*
Update rebuilds the handler registry from a fresh app list.

Description: Handlers are immutable, so every app in the new list gets a new
handler instance. Sessions owned by an app that disappeared, or whose
configuration changed, are discarded; sessions of unchanged apps survive the
swap because ownership is keyed on the app id.

Parameters:
  - ctx: context.Context
  - apps: []*metadata.AuthApp (active apps only)

Returns:
  - error: nil; individual app failures are logged and skipped
*/
func (manager *Manager) Update(ctx context.Context, apps []*metadata.AuthApp) error {
	deps := authn.Deps{
		Users:      manager.users,
		Sessions:   manager.sessions,
		Callbacks:  manager,
		Exchanger:  manager.exchanger,
		Logger:     manager.logger,
		RandomData: manager.randomData,
	}

	// 1. Build the replacement registry outside the lock
	nextHandlers := make(map[universalid.ID]authn.Handler, len(apps))
	nextByService := make(map[universalid.ID][]authn.Handler)
	nextApps := make(map[universalid.ID]*metadata.AuthApp, len(apps))

	for _, app := range apps {
		if !app.Enabled || app.Deleted {
			continue
		}
		built, err := authn.NewHandler(app, deps, manager.opts.SupportsHTTPS)
		if err != nil {
			manager.logger.ErrorContext(ctx, "auth_handler_build_failed",
				slog.String("app", app.Name),
				slog.Any("error", err),
			)
			continue
		}
		nextHandlers[app.ID] = built
		nextApps[app.ID] = app
		for _, serviceID := range app.ServiceIDs {
			nextByService[serviceID] = append(nextByService[serviceID], built)
		}
	}

	// 2. Swap the registry
	manager.mu.Lock()
	previousApps := manager.apps
	manager.handlers = nextHandlers
	manager.byService = nextByService
	manager.apps = nextApps
	manager.mu.Unlock()

	// 3. Discard sessions whose app vanished or changed
	for appID, previous := range previousApps {
		replacement, still := nextApps[appID]
		if still && appConfigEqual(previous, replacement) {
			continue
		}
		if dropped := manager.sessions.RemoveAllForHandler(appID); dropped > 0 {
			manager.logger.InfoContext(ctx, "auth_sessions_discarded",
				slog.String("app", previous.Name),
				slog.Int("count", dropped),
			)
		}
	}

	return nil
}

func appConfigEqual(a, b *metadata.AuthApp) bool {
	if a.VendorID != b.VendorID || a.Name != b.Name || a.URL != b.URL ||
		a.LimitToRegisteredUsers != b.LimitToRegisteredUsers {
		return false
	}
	if len(a.ServiceIDs) != len(b.ServiceIDs) {
		return false
	}
	for index := range a.ServiceIDs {
		if a.ServiceIDs[index] != b.ServiceIDs[index] {
			return false
		}
	}
	return true
}

// HandlersForService returns the handlers serving the given service.
func (manager *Manager) HandlersForService(serviceID universalid.ID) []authn.Handler {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	return manager.byService[serviceID]
}

// Apps returns the auth apps visible on a service, for the discovery
// endpoint. Delegating vendors are filtered out when HTTPS is unavailable.
func (manager *Manager) Apps(serviceID universalid.ID) []*metadata.AuthApp {
	manager.mu.RLock()
	defer manager.mu.RUnlock()

	var visible []*metadata.AuthApp
	for _, handler := range manager.byService[serviceID] {
		visible = append(visible, handler.App())
	}
	return visible
}

/*
ChooseHandler selects the handler an authentication request addresses.

Description: Selection is by app id when given, by app name within the
service otherwise. Without either selector, a single app is chosen
implicitly; with several apps, the request's flow continuation key is tried
against each candidate so an in-progress exchange (challenge step two, an
OAuth callback carrying only its state token) finds its owning handler.

Parameters:
  - serviceID: universalid.ID
  - appID: universalid.ID (zero when unset)
  - appName: string (empty when unset)
  - request: *authn.Request (nil skips continuation-key recovery)

Returns:
  - authn.Handler: Selected handler
  - error: apperr.BadRequest or apperr.NotFound
*/
func (manager *Manager) ChooseHandler(serviceID, appID universalid.ID, appName string, request *authn.Request) (authn.Handler, error) {
	manager.mu.RLock()
	defer manager.mu.RUnlock()

	candidates := manager.byService[serviceID]
	if len(candidates) == 0 {
		return nil, apperr.NotFound("Authentication app for this service")
	}

	// 1. Exact app id
	if !appID.IsZero() {
		for _, candidate := range candidates {
			if candidate.ID() == appID {
				return candidate, nil
			}
		}
		return nil, apperr.NotFound("Authentication app")
	}

	// 2. App name within the service
	if appName != "" {
		for _, candidate := range candidates {
			if candidate.App().Name == appName {
				return candidate, nil
			}
		}
		return nil, apperr.NotFound("Authentication app")
	}

	// 3. Implicit selection is unambiguous with a single app
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	// 4. An in-progress flow identifies its handler through the
	// continuation key the vendor put in the request
	if request != nil {
		for _, candidate := range candidates {
			key, found := candidate.SessionIDFromRequest(request)
			if !found || key == "" {
				continue
			}
			flow := manager.sessions.Get(key)
			if flow == nil {
				flow = manager.sessions.GetBySecondaryID(candidate.ID(), key)
			}
			if flow != nil && flow.HandlerID() == candidate.ID() {
				return candidate, nil
			}
		}
	}

	return nil, apperr.BadRequest("Multiple authentication apps match; specify one")
}

// # Authorization Flow

// AuthorizeInput carries the request context the flow needs.
type AuthorizeInput struct {
	ServiceID universalid.ID
	AppID     universalid.ID
	AppName   string
	Proto     string
	Host      string
	ClientIP  string
	Request   *authn.Request
}

/*
Authorize runs one step of the authentication flow for a request.

Description: Applies the per-host throttle, selects the handler, resolves or
creates the flow session, and delegates to the vendor handler. Terminal
failures discard the session; an in-progress challenge keeps it.

Parameters:
  - ctx: context.Context
  - input: AuthorizeInput

Returns:
  - *session.Session: The flow session (nil on refusal before session setup)
  - *authn.Result: Handler outcome (user, challenge, or redirect)
  - error: apperr taxonomy errors
*/
func (manager *Manager) Authorize(ctx context.Context, input AuthorizeInput) (*session.Session, *authn.Result, error) {

	// 1. Per-host throttle runs before any work
	if allowed, info := manager.hostLimiter.Allow(input.ClientIP); !allowed {
		manager.logger.WarnContext(ctx, "auth_host_throttled",
			slog.String("host", input.ClientIP),
			slog.String("reason", info.Reason.String()),
		)
		return nil, nil, apperr.RateLimited(info.RetryAfter)
	}

	// 2. Select the handler
	handler, err := manager.ChooseHandler(input.ServiceID, input.AppID, input.AppName, input.Request)
	if err != nil {
		return nil, nil, err
	}

	// 3. Resolve or create the flow session
	flow := manager.resolveSession(handler, input.Request)
	if flow == nil {
		flow = manager.sessions.New(handler.ID(), handler.App().Name)
		flow.SetOrigin(input.Proto, input.Host)
		if kind, _ := input.Request.Param("session_type"); kind == "bearer" {
			flow.SetGenerateToken(true)
		}
	}

	// 4. A session that already completed its flow answers immediately;
	// presenting it is the credential, no re-prompt and no discard.
	if flow.Authenticated() {
		return flow, &authn.Result{User: flow.User()}, nil
	}

	// 5. Run the vendor flow
	result, err := handler.Authorize(ctx, input.Request, flow)
	if err != nil {
		// Keep the session only while a challenge is pending.
		if flow.State() != session.StateWaitingForCode {
			manager.sessions.Remove(flow)
		}
		return nil, nil, err
	}

	// 6. Basic-vendor sessions reserve a slot in the user's bounded
	// passthrough connection pool, returned when the session is removed.
	if result.User != nil && handler.App().VendorID == metadata.VendorBasic {
		if !manager.sessions.AcquirePassthrough(result.User.ID) {
			manager.sessions.Remove(flow)
			return nil, nil, apperr.ServiceUnavailable("Too many concurrent connections for this account")
		}
		userID := result.User.ID
		sessions := manager.sessions
		flow.SetOnDelete(func(*session.Session) {
			sessions.ReleasePassthrough(userID)
		})
	}

	// 7. Completed bearer flows carry a token in the challenge payload
	if result.User != nil && flow.GenerateToken() {
		token, err := manager.MintToken(input.ServiceID, flow)
		if err != nil {
			manager.sessions.Remove(flow)
			return nil, nil, err
		}
		if result.Challenge == nil {
			result.Challenge = make(map[string]any)
		}
		result.Challenge[metadata.FieldAccessToken] = token
	}

	return flow, result, nil
}

// resolveSession finds the session a request continues: the handler cookie
// first, then the vendor's own continuation key. A session owned by a
// different handler is discarded rather than reused.
func (manager *Manager) resolveSession(handler authn.Handler, request *authn.Request) *session.Session {
	var flow *session.Session

	cookieName := constants.SessionCookiePrefix + handler.ID().String()
	if cookie, err := request.HTTP.Cookie(cookieName); err == nil && cookie.Value != "" {
		flow = manager.sessions.Get(cookie.Value)
	}

	if flow == nil {
		if key, found := handler.SessionIDFromRequest(request); found && key != "" {
			flow = manager.sessions.Get(key)
			if flow == nil {
				flow = manager.sessions.GetBySecondaryID(handler.ID(), key)
			}
		}
	}

	if flow != nil && flow.HandlerID() != handler.ID() {
		manager.sessions.Remove(flow)
		return nil
	}
	return flow
}

// # Pre-Authorization Hooks

/*
PreAuthorizeAccount enforces the account throttle and the reserved account
policy. Implements [authn.Callbacks].

Description: The throttle slot is consumed before the reserved-account check,
so probing reserved names still burns attempts.

Parameters:
  - ctx: context.Context
  - handlerID: universalid.ID
  - account: string (canonicalized)

Returns:
  - error: apperr.RateLimited or apperr.Unauthorized
*/
func (manager *Manager) PreAuthorizeAccount(ctx context.Context, handlerID universalid.ID, account string) error {
	key := handlerID.String() + "." + account
	if allowed, info := manager.accountLimiter.Allow(key); !allowed {
		manager.logger.WarnContext(ctx, "auth_account_throttled",
			slog.String("account", account),
			slog.String("reason", info.Reason.String()),
		)
		return apperr.RateLimited(info.RetryAfter)
	}

	if account == constants.ReservedAccountMetadata || account == constants.ReservedAccountDataAccess {
		return apperr.Unauthorized("This account may not be used for authentication")
	}

	return nil
}

// # Limiter Maintenance

// PurgeLimiters drops idle keys from both attempt throttles and returns how
// many were removed. Blocked keys are kept until their block expires.
func (manager *Manager) PurgeLimiters(idleFor time.Duration) int {
	return manager.accountLimiter.Purge(idleFor) + manager.hostLimiter.Purge(idleFor)
}

// TrackedLimiterKeys returns how many keys the two throttles currently hold.
func (manager *Manager) TrackedLimiterKeys() int {
	return manager.accountLimiter.Len() + manager.hostLimiter.Len()
}

// RunLimiterJanitor purges idle throttle entries on the given cadence until
// the context is cancelled, so one-off client addresses and account names do
// not accumulate for the process lifetime.
func (manager *Manager) RunLimiterJanitor(ctx context.Context, interval, idleFor time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if dropped := manager.PurgeLimiters(idleFor); dropped > 0 {
				manager.logger.Debug("auth_limiter_purged", slog.Int("count", dropped))
			}
		case <-ctx.Done():
			return
		}
	}
}

// # Request Authorization

/*
IsAuthorized resolves the authenticated user behind a data-plane request.

Description: Session cookies of every handler on the service are tried
first; a bearer token is accepted when cookie resolution fails.

Parameters:
  - ctx: context.Context
  - serviceID: universalid.ID
  - request: *http.Request

Returns:
  - *session.Session: The authenticated session
  - error: apperr.Unauthorized when nothing verifies
*/
func (manager *Manager) IsAuthorized(ctx context.Context, serviceID universalid.ID, request *http.Request) (*session.Session, error) {

	// 1. Session cookies
	for _, handler := range manager.HandlersForService(serviceID) {
		cookieName := constants.SessionCookiePrefix + handler.ID().String()
		cookie, err := request.Cookie(cookieName)
		if err != nil || cookie.Value == "" {
			continue
		}
		if flow := manager.sessions.Get(cookie.Value); flow != nil && flow.Authenticated() {
			return flow, nil
		}
	}

	// 2. Bearer token
	if token := bearerToken(request); token != "" {
		return manager.authorizeToken(ctx, serviceID, token)
	}

	return nil, apperr.Unauthorized("Authentication required")
}

// Unauthorize terminates the session a request carries, if any.
func (manager *Manager) Unauthorize(serviceID universalid.ID, request *http.Request) {
	for _, handler := range manager.HandlersForService(serviceID) {
		cookieName := constants.SessionCookiePrefix + handler.ID().String()
		if cookie, err := request.Cookie(cookieName); err == nil && cookie.Value != "" {
			manager.sessions.RemoveByID(cookie.Value)
		}
	}
}

func bearerToken(request *http.Request) string {
	const prefix = "Bearer "
	header := request.Header.Get(constants.HeaderAuthorization)
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
