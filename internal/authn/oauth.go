// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package authn

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"

	"github.com/taibuivan/restgate/internal/metadata"
	"github.com/taibuivan/restgate/internal/platform/apperr"
	"github.com/taibuivan/restgate/internal/session"
	"github.com/taibuivan/restgate/pkg/universalid"
)

// oauthHandler implements the delegating vendors (Facebook, Google, generic
// OIDC). The gateway never sees a password: it sends the user agent to the
// provider, receives an authorization code on the way back, and exchanges
// the code for the identity the provider vouches for.
type oauthHandler struct {
	app  *metadata.AuthApp
	deps Deps
}

func newOAuthHandler(app *metadata.AuthApp, deps Deps) *oauthHandler {
	return &oauthHandler{app: app, deps: deps}
}

func (handler *oauthHandler) ID() universalid.ID           { return handler.app.ID }
func (handler *oauthHandler) App() *metadata.AuthApp       { return handler.app }
func (handler *oauthHandler) ServiceIDs() []universalid.ID { return handler.app.ServiceIDs }
func (handler *oauthHandler) RedirectsUserAgent() bool     { return true }

// SessionIDFromRequest returns the state token the provider echoes back in
// the callback. It is the session's secondary id, assigned at flow start.
func (handler *oauthHandler) SessionIDFromRequest(request *Request) (string, bool) {
	return request.Param(metadata.FieldState)
}

/*
Authorize advances the delegation flow by one step.

Description: The first step parks the flow under a fresh state token and
redirects to the provider; the callback step redeems the authorization code
and resolves the local account.

Parameters:
  - ctx: context.Context
  - request: *Request
  - flow: *session.Session

Returns:
  - *Result: Redirect URL or verified user
  - error: apperr.Unauthorized or apperr.ServiceUnavailable
*/
func (handler *oauthHandler) Authorize(ctx context.Context, request *Request, flow *session.Session) (*Result, error) {
	recordCompletionPreferences(request, flow)

	switch flow.State() {
	case session.StateUninitialized:
		return handler.redirectToProvider(request, flow)
	case session.StateWaitingForCode:
		return handler.handleCallback(ctx, request, flow)
	default:
		return nil, apperr.BadRequest("Authentication exchange is not in progress")
	}
}

// ── 1. Send the user agent to the provider ──

func (handler *oauthHandler) redirectToProvider(request *Request, flow *session.Session) (*Result, error) {
	if handler.app.URL == "" {
		return nil, apperr.ServiceUnavailable("Auth app has no provider URL configured")
	}

	// The state token parks the session until the provider calls back.
	state := handler.deps.Sessions.SetSecondaryID(flow, uuid.NewString)
	flow.SetState(session.StateWaitingForCode)

	callback := fmt.Sprintf("%s://%s%s", flow.Proto(), flow.Host(), request.HTTP.URL.Path)

	redirect, err := url.Parse(handler.app.URL)
	if err != nil {
		return nil, apperr.ServiceUnavailable("Auth app provider URL is invalid")
	}
	query := redirect.Query()
	query.Set("response_type", metadata.FieldCode)
	query.Set(metadata.FieldState, state)
	query.Set("redirect_uri", callback)
	redirect.RawQuery = query.Encode()

	return &Result{RedirectURL: redirect.String()}, nil
}

// ── 2. Redeem the authorization code ──

func (handler *oauthHandler) handleCallback(ctx context.Context, request *Request, flow *session.Session) (*Result, error) {
	code, hasCode := request.Param(metadata.FieldCode)
	if !hasCode || code == "" {
		return nil, apperr.Unauthorized("Authorization code is missing")
	}
	if handler.deps.Exchanger == nil {
		return nil, apperr.ServiceUnavailable("Token exchange is not configured")
	}

	flow.SetState(session.StateGettingToken)
	callback := fmt.Sprintf("%s://%s%s", flow.Proto(), flow.Host(), request.HTTP.URL.Path)

	vendorUserID, email, err := handler.deps.Exchanger.Exchange(ctx, handler.app, code, callback)
	if err != nil {
		handler.deps.Logger.WarnContext(ctx, "oauth_code_exchange_failed",
			slog.String("app", handler.app.Name),
			slog.Any("error", err),
		)
		if apperr.IsAppError(err) {
			return nil, err
		}
		return nil, apperr.Unauthorized("Authorization code did not verify")
	}
	flow.SetState(session.StateTokenVerified)

	// Resolve the local account behind the external identity.
	user, err := handler.deps.Users.FindByVendorUserID(ctx, handler.app.ID, vendorUserID)
	if err != nil {
		if !apperr.IsAppError(err) {
			return nil, err
		}
		if handler.app.LimitToRegisteredUsers {
			return nil, apperr.Unauthorized("Account is not registered for this service")
		}
		// Open registration: admit the external identity without grants.
		user = &metadata.AuthUser{
			AppID:          handler.app.ID,
			Name:           email,
			Email:          email,
			VendorUserID:   vendorUserID,
			LoginPermitted: true,
		}
	}

	flow.Verify(user)

	return &Result{User: user}, nil
}
