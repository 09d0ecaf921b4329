// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package authn implements the per-vendor authentication handlers.

Every enabled auth app gets one handler instance. A handler owns the sessions
created for its app, knows how to pull flow parameters out of a request, and
drives the vendor-specific exchange that ends with a verified user.

# Architecture

Handlers are built by a factory keyed on the app's vendor id and are held by
the authorize manager's registry. They are immutable after construction; a
configuration change produces a fresh handler, never mutates a live one.
*/
package authn

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taibuivan/restgate/internal/metadata"
	"github.com/taibuivan/restgate/internal/session"
	"github.com/taibuivan/restgate/pkg/universalid"
)

// # Flow Outcome

// Result is the outcome of one authorization step. Exactly one of the three
// fields is set:
//
//   - User: the flow completed and this is the verified account.
//   - Challenge: the flow continues; send this payload to the client.
//   - RedirectURL: send the user agent to this URL (delegating vendors).
type Result struct {
	User        *metadata.AuthUser
	Challenge   map[string]any
	RedirectURL string
}

// # External Contracts

// Callbacks are hooks the authorize manager injects into every handler.
type Callbacks interface {

	/*
		PreAuthorizeAccount runs before any credential check for the named
		account. It enforces the per-account attempt throttle and the
		reserved-account policy.

		Parameters:
		  - context: context.Context
		  - handlerID: universalid.ID
		  - account: string (canonicalized)

		Returns:
		  - error: apperr.RateLimited or apperr.Unauthorized to refuse
	*/
	PreAuthorizeAccount(context context.Context, handlerID universalid.ID, account string) error
}

// TokenExchanger trades an OAuth authorization code for the identity the
// provider vouches for. Implementations talk to the vendor's token endpoint.
type TokenExchanger interface {

	/*
		Exchange redeems the code at the vendor and returns the external
		identity key plus the asserted email.

		Parameters:
		  - context: context.Context
		  - app: *metadata.AuthApp
		  - code: string
		  - redirectURI: string

		Returns:
		  - string: Vendor user id
		  - string: Email asserted by the vendor
		  - error: apperr.Unauthorized when the code does not verify
	*/
	Exchange(context context.Context, app *metadata.AuthApp, code, redirectURI string) (string, string, error)
}

// Deps bundles everything a handler needs beyond its app row.
type Deps struct {
	Users     metadata.UserStore
	Sessions  *session.Store
	Callbacks Callbacks
	Exchanger TokenExchanger
	Logger    *slog.Logger

	// RandomData keys the fake-salt derivation for unknown challenge
	// accounts. Generated once per process start.
	RandomData []byte
}

// # Handler Contract

// Handler drives one auth app's authentication flow.
type Handler interface {

	// ID returns the auth app id the handler serves.
	ID() universalid.ID

	// App returns the configuration row the handler was built from.
	App() *metadata.AuthApp

	// ServiceIDs returns the services the handler accepts requests for.
	ServiceIDs() []universalid.ID

	// RedirectsUserAgent reports whether the flow leaves the gateway
	// (OAuth-style vendors). Such handlers require HTTPS in production.
	RedirectsUserAgent() bool

	// SessionIDFromRequest extracts the flow continuation key the client
	// sent, if the vendor uses one (OAuth state, challenge session field).
	SessionIDFromRequest(request *Request) (string, bool)

	// Authorize advances the flow by one step.
	Authorize(ctx context.Context, request *Request, flow *session.Session) (*Result, error)
}

// # Factory

// NewHandler builds the handler matching the app's vendor.
//
// Delegating vendors redirect the user agent through third-party sites and
// are refused when the deployment cannot serve HTTPS.
func NewHandler(app *metadata.AuthApp, deps Deps, supportsHTTPS bool) (Handler, error) {
	switch app.VendorID {
	case metadata.VendorBasic:
		return newBasicHandler(app, deps), nil

	case metadata.VendorSCRAM:
		return newScramHandler(app, deps), nil

	case metadata.VendorFacebook, metadata.VendorGoogle, metadata.VendorOIDC:
		if !supportsHTTPS {
			return nil, fmt.Errorf("auth app %q: vendor requires HTTPS support", app.Name)
		}
		return newOAuthHandler(app, deps), nil

	default:
		return nil, fmt.Errorf("auth app %q: unsupported vendor id %s", app.Name, app.VendorID)
	}
}

// recordCompletionPreferences copies the client's post-login wishes onto the
// session on the first step of a flow.
func recordCompletionPreferences(request *Request, flow *session.Session) {
	if flow.CompletionRedirect() == "" {
		if redirect, found := request.Param(metadata.FieldRedirectURL); found {
			flow.SetCompletionRedirect(redirect)
		}
	}
	if request.BoolParam(metadata.FieldClose) {
		flow.SetCompletionClose(true)
	}
}
