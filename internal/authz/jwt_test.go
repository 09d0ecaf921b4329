// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package authz_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/restgate/internal/authz"
	"github.com/taibuivan/restgate/internal/metadata"
	"github.com/taibuivan/restgate/internal/platform/apperr"
	"github.com/taibuivan/restgate/internal/session"
	"github.com/taibuivan/restgate/pkg/universalid"
)

const testSecret = "unit-test-signing-secret"

func bearerOptions() authz.Options {
	return authz.Options{
		RouterID:  "gw-1",
		JWTSecret: testSecret,
		JWTExpire: 10 * time.Minute,
	}
}

func mintedToken(t *testing.T, manager *authz.Manager, sessions *session.Store) string {
	t.Helper()

	flow := sessions.New(basicAppID, "basic_app")
	flow.Verify(defaultUsers().accounts["alice"])

	token, err := manager.MintToken(serviceID, flow)
	require.NoError(t, err)
	return token
}

/*
TestMintToken_RoundTrip mints a token and validates it through the request
authorization path.
*/
func TestMintToken_RoundTrip(t *testing.T) {
	manager, sessions := newManager(t, bearerOptions(), basicApp(basicAppID, "basic_app", serviceID))
	token := mintedToken(t, manager, sessions)

	raw := httptest.NewRequest("GET", "/svc/shop/items", nil)
	raw.Header.Set("Authorization", "Bearer "+token)

	authorized, err := manager.IsAuthorized(context.Background(), serviceID, raw)
	require.NoError(t, err)
	require.True(t, authorized.Authenticated())
	assert.Equal(t, userID, authorized.User().ID)

	// A second validation of the same token reuses the session.
	again, err := manager.IsAuthorized(context.Background(), serviceID, raw)
	require.NoError(t, err)
	assert.Equal(t, authorized.ID(), again.ID())
}

/*
TestMintToken_ClaimShape pins the claim set and the formatted expiry.
*/
func TestMintToken_ClaimShape(t *testing.T) {
	manager, sessions := newManager(t, bearerOptions(), basicApp(basicAppID, "basic_app", serviceID))
	token := mintedToken(t, manager, sessions)

	parsed, err := jwt.Parse(token,
		func(*jwt.Token) (any, error) { return []byte(testSecret), nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation(),
	)
	require.NoError(t, err)

	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, userID.String(), claims["user_id"])
	assert.Equal(t, "alice@example.com", claims["email"])
	assert.Equal(t, "router-gw-1", claims["instance_id"])
	assert.Equal(t, basicAppID.String(), claims["iss"])
	assert.NotEmpty(t, claims["jti"])

	expiresAt, err := time.ParseInLocation("2006-01-02 15:04:05", claims["exp"].(string), time.UTC)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now().UTC()))
}

/*
TestAuthorizeToken_Rejections covers the refusal paths: tampering, missing
claims, foreign issuers, and expiry.
*/
func TestAuthorizeToken_Rejections(t *testing.T) {
	manager, sessions := newManager(t, bearerOptions(),
		basicApp(basicAppID, "basic_app", serviceID),
		basicApp(otherAppID, "second_app", otherSvcID),
	)

	signedWith := func(claims jwt.MapClaims, secret string, method jwt.SigningMethod) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return token
	}
	validClaims := func() jwt.MapClaims {
		return jwt.MapClaims{
			"user_id":     userID.String(),
			"email":       "alice@example.com",
			"exp":         time.Now().UTC().Add(time.Hour).Format("2006-01-02 15:04:05"),
			"jti":         "token-1",
			"instance_id": "router-gw-1",
			"iss":         basicAppID.String(),
		}
	}

	expectRefused := func(t *testing.T, token string) {
		raw := httptest.NewRequest("GET", "/svc/shop/items", nil)
		raw.Header.Set("Authorization", "Bearer "+token)

		_, err := manager.IsAuthorized(context.Background(), serviceID, raw)
		failure := apperr.As(err)
		require.NotNil(t, failure)
		assert.Equal(t, 401, failure.HTTPStatus)
	}

	t.Run("wrong_signature", func(t *testing.T) {
		expectRefused(t, signedWith(validClaims(), "other-secret", jwt.SigningMethodHS256))
	})

	t.Run("unsigned_token", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims()).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		expectRefused(t, token)
	})

	t.Run("expired", func(t *testing.T) {
		claims := validClaims()
		claims["exp"] = time.Now().UTC().Add(-time.Minute).Format("2006-01-02 15:04:05")
		expectRefused(t, signedWith(claims, testSecret, jwt.SigningMethodHS256))
	})

	t.Run("missing_claim", func(t *testing.T) {
		claims := validClaims()
		delete(claims, "instance_id")
		expectRefused(t, signedWith(claims, testSecret, jwt.SigningMethodHS256))
	})

	t.Run("issuer_not_on_service", func(t *testing.T) {
		claims := validClaims()
		claims["iss"] = otherAppID.String()
		expectRefused(t, signedWith(claims, testSecret, jwt.SigningMethodHS256))
	})

	t.Run("unknown_user", func(t *testing.T) {
		claims := validClaims()
		claims["user_id"] = universalid.MustParse("cc0000000000000000000000000000ff").String()
		expectRefused(t, signedWith(claims, testSecret, jwt.SigningMethodHS256))

		// The rollback left no half-built session behind.
		key := claims["user_id"].(string) + "." + claims["exp"].(string)
		assert.Nil(t, sessions.Get(key))
	})
}

/*
TestBearerDisabled verifies that an empty secret turns the bearer path off
on both ends.
*/
func TestBearerDisabled(t *testing.T) {
	manager, sessions := newManager(t, authz.Options{}, basicApp(basicAppID, "basic_app", serviceID))

	flow := sessions.New(basicAppID, "basic_app")
	flow.Verify(&metadata.AuthUser{ID: userID, AppID: basicAppID, LoginPermitted: true})

	_, err := manager.MintToken(serviceID, flow)
	require.NotNil(t, apperr.As(err))

	raw := httptest.NewRequest("GET", "/svc/shop/items", nil)
	raw.Header.Set("Authorization", "Bearer not-a-token")
	_, err = manager.IsAuthorized(context.Background(), serviceID, raw)
	assert.Equal(t, 401, apperr.As(err).HTTPStatus)
}
