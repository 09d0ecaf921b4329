// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package authz

import (
	"context"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/taibuivan/restgate/internal/authn"
	"github.com/taibuivan/restgate/internal/platform/apperr"
	"github.com/taibuivan/restgate/internal/session"
	"github.com/taibuivan/restgate/pkg/universalid"
)

// jwtTimeLayout is the wire format of the exp claim: a formatted UTC
// timestamp rather than a numeric date, for compatibility with existing
// token consumers.
const jwtTimeLayout = "2006-01-02 15:04:05"

const (
	claimUserID     = "user_id"
	claimEmail      = "email"
	claimExpires    = "exp"
	claimTokenID    = "jti"
	claimInstanceID = "instance_id"
	claimIssuer     = "iss"
)

// # Token Issuance

/*
MintToken signs a bearer token for a completed flow session.

Description: The token is bound to the verified user and the issuing
handler. A server-side session is registered under the token's composite
identity, so a later validation of the same token can reuse it.

Parameters:
  - serviceID: universalid.ID
  - flow: *session.Session (must be authenticated)

Returns:
  - string: Signed compact JWT
  - error: apperr.ServiceUnavailable when signing is not configured
*/
func (manager *Manager) MintToken(serviceID universalid.ID, flow *session.Session) (string, error) {
	if manager.opts.JWTSecret == "" {
		return "", apperr.ServiceUnavailable("Bearer tokens are not enabled")
	}
	if !flow.Authenticated() {
		return "", apperr.Unauthorized("Authentication required")
	}

	expire := manager.opts.JWTExpire
	if expire <= 0 {
		expire = 15 * time.Minute
	}
	expiresAt := time.Now().UTC().Add(expire).Format(jwtTimeLayout)

	user := flow.User()
	claims := jwt.MapClaims{
		claimUserID:     user.ID.String(),
		claimEmail:      user.Email,
		claimExpires:    expiresAt,
		claimTokenID:    uuid.NewString(),
		claimInstanceID: "router-" + manager.opts.RouterID,
		claimIssuer:     flow.HandlerID().String(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(manager.opts.JWTSecret))
	if err != nil {
		return "", apperr.Internal(err)
	}

	// Pre-register the server-side session for this token. The issuance
	// key carries the service id in addition to the validation identity;
	// a colliding id simply means the token family is already registered.
	issuanceKey := serviceID.String() + "." + user.ID.String() + "." + expiresAt
	if registered, ok := manager.sessions.NewWithID(issuanceKey, flow.HandlerID(), flow.HandlerName()); ok {
		registered.Verify(user)
	}

	return signed, nil
}

// # Token Validation

// authorizeToken validates a bearer token and returns the session that
// represents it, creating one on first sight of the token.
func (manager *Manager) authorizeToken(ctx context.Context, serviceID universalid.ID, tokenString string) (*session.Session, error) {
	if manager.opts.JWTSecret == "" {
		return nil, apperr.Unauthorized("Bearer tokens are not enabled")
	}

	// 1. Verify the signature; claims are validated by hand because exp
	//    is a formatted string, not a numeric date.
	parsed, err := jwt.Parse(tokenString,
		func(*jwt.Token) (any, error) { return []byte(manager.opts.JWTSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || !parsed.Valid {
		return nil, apperr.Unauthorized("Invalid bearer token")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperr.Unauthorized("Invalid bearer token")
	}

	// 2. Every claim is required
	values := make(map[string]string, 6)
	for _, name := range []string{claimUserID, claimExpires, claimTokenID, claimInstanceID, claimIssuer} {
		text, ok := claims[name].(string)
		if !ok || text == "" {
			return nil, apperr.Unauthorized("Invalid bearer token")
		}
		values[name] = text
	}

	// 3. The token must not be expired
	expiresAt, err := time.ParseInLocation(jwtTimeLayout, values[claimExpires], time.UTC)
	if err != nil || !expiresAt.After(time.Now().UTC()) {
		return nil, apperr.Unauthorized("Bearer token is expired")
	}

	// 4. The issuer must be a handler serving this service
	issuerID, err := universalid.Parse(values[claimIssuer])
	if err != nil {
		return nil, apperr.Unauthorized("Invalid bearer token")
	}
	issuer := manager.handlerForService(serviceID, issuerID)
	if issuer == nil {
		return nil, apperr.Unauthorized("Bearer token issuer is not accepted here")
	}

	userID, err := universalid.Parse(values[claimUserID])
	if err != nil {
		return nil, apperr.Unauthorized("Invalid bearer token")
	}

	// 5. Reuse or create the session behind the token
	validationKey := values[claimUserID] + "." + values[claimExpires]
	if existing := manager.sessions.Get(validationKey); existing != nil {
		if existing.Authenticated() {
			return existing, nil
		}
		return nil, apperr.Unauthorized("Invalid bearer token")
	}

	created, ok := manager.sessions.NewWithID(validationKey, issuerID, issuer.App().Name)
	if !ok {
		// Lost the race to a concurrent validation of the same token.
		if existing := manager.sessions.Get(validationKey); existing != nil && existing.Authenticated() {
			return existing, nil
		}
		return nil, apperr.Unauthorized("Invalid bearer token")
	}

	user, err := manager.users.FindByID(ctx, userID)
	if err != nil {
		// Roll the half-built session back so a later valid token for
		// the same identity starts clean.
		manager.sessions.Remove(created)
		manager.logger.WarnContext(ctx, "bearer_user_resolution_failed",
			slog.String("user_id", values[claimUserID]),
			slog.Any("error", err),
		)
		return nil, apperr.Unauthorized("Invalid bearer token")
	}

	created.Verify(user)
	return created, nil
}

func (manager *Manager) handlerForService(serviceID, handlerID universalid.ID) authn.Handler {
	for _, candidate := range manager.HandlersForService(serviceID) {
		if candidate.ID() == handlerID {
			return candidate
		}
	}
	return nil
}
