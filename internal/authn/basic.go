// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package authn

import (
	"context"
	"log/slog"

	"github.com/taibuivan/restgate/internal/metadata"
	"github.com/taibuivan/restgate/internal/platform/apperr"
	"github.com/taibuivan/restgate/internal/session"
	"github.com/taibuivan/restgate/pkg/universalid"
)

// basicHandler implements username/password authentication. Credentials
// arrive either in an Authorization header (GET) or as JSON body fields
// (POST); the password is checked server-side against the stored hash.
type basicHandler struct {
	app  *metadata.AuthApp
	deps Deps
}

func newBasicHandler(app *metadata.AuthApp, deps Deps) *basicHandler {
	return &basicHandler{app: app, deps: deps}
}

func (handler *basicHandler) ID() universalid.ID           { return handler.app.ID }
func (handler *basicHandler) App() *metadata.AuthApp       { return handler.app }
func (handler *basicHandler) ServiceIDs() []universalid.ID { return handler.app.ServiceIDs }
func (handler *basicHandler) RedirectsUserAgent() bool     { return false }
func (handler *basicHandler) SessionIDFromRequest(request *Request) (string, bool) {
	return request.Param(metadata.FieldSessionID)
}

/*
Authorize runs the whole flow in a single step.

Description: Extracts credentials, runs the pre-authorization hooks, and
verifies the password. A GET without usable credentials is answered with a
Basic challenge so browsers prompt natively.

Parameters:
  - ctx: context.Context
  - request: *Request
  - flow: *session.Session

Returns:
  - *Result: Verified user on success
  - error: apperr.Unauthorized, apperr.RateLimited, or apperr.Challenge
*/
func (handler *basicHandler) Authorize(ctx context.Context, request *Request, flow *session.Session) (*Result, error) {
	recordCompletionPreferences(request, flow)

	// 1. Extract credentials from header or body
	username, password, found := request.BasicCredentials()
	if !found {
		username, _ = request.Param(metadata.FieldUsername)
		password, found = request.Param(metadata.FieldPassword)
	}
	username = metadata.NormalizeAccountName(username)

	if !found || username == "" {
		return nil, handler.challenge(request)
	}

	// 2. Pre-authorization: attempt throttle plus reserved account policy
	if err := handler.deps.Callbacks.PreAuthorizeAccount(ctx, handler.app.ID, username); err != nil {
		return nil, err
	}

	// 3. Verify the password
	flow.SetState(session.StateGettingToken)
	user, err := handler.deps.Users.VerifyCredentials(ctx, handler.app.ID, username, password)
	if err != nil {
		handler.deps.Logger.WarnContext(ctx, "basic_auth_failed",
			slog.String("app", handler.app.Name),
			slog.String("account", username),
		)
		if apperr.IsAppError(err) && request.HTTP.Method == "GET" {
			// Let the browser re-prompt instead of surfacing a JSON error.
			return nil, handler.challenge(request)
		}
		return nil, err
	}

	// 4. Done: the session carries the user from here on
	flow.Verify(user)

	return &Result{User: user}, nil
}

func (handler *basicHandler) challenge(request *Request) error {
	if request.HTTP.Method == "GET" {
		return apperr.Challenge("Basic")
	}
	return apperr.Unauthorized("Invalid account or password")
}
