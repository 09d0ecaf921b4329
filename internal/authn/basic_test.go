// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package authn_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/restgate/internal/authn"
	"github.com/taibuivan/restgate/internal/metadata"
	"github.com/taibuivan/restgate/internal/platform/apperr"
	"github.com/taibuivan/restgate/internal/session"
)

func newBasicHarness(t *testing.T, callbacks *fakeCallbacks) (authn.Handler, *session.Store) {
	t.Helper()

	store := &fakeUserStore{user: testUser(), password: "s3cret"}
	deps, sessions := testDeps(store, callbacks)

	handler, err := authn.NewHandler(testApp(metadata.VendorBasic), deps, false)
	require.NoError(t, err)

	return handler, sessions
}

/*
TestBasicHandler_HeaderCredentials authenticates through the Authorization
header on a GET request.
*/
func TestBasicHandler_HeaderCredentials(t *testing.T) {
	handler, sessions := newBasicHarness(t, &fakeCallbacks{})
	flow := sessions.New(handler.ID(), "test_app")

	raw := httptest.NewRequest("GET", "/svc/authentication/login", nil)
	raw.SetBasicAuth("alice", "s3cret")

	result, err := handler.Authorize(context.Background(), authn.Wrap(raw), flow)
	require.NoError(t, err)
	require.NotNil(t, result.User)

	assert.Equal(t, testUserID, result.User.ID)
	assert.Equal(t, session.StateUserVerified, flow.State())
	assert.True(t, flow.Authenticated())
}

/*
TestBasicHandler_BodyCredentials authenticates through JSON body fields and
records the completion preferences.
*/
func TestBasicHandler_BodyCredentials(t *testing.T) {
	handler, sessions := newBasicHarness(t, &fakeCallbacks{})
	flow := sessions.New(handler.ID(), "test_app")

	request := jsonPost("/svc/authentication/login", map[string]any{
		"username":             "alice",
		"password":             "s3cret",
		"onCompletionRedirect": "/app/home",
		"onCompletionClose":    true,
	})

	result, err := handler.Authorize(context.Background(), request, flow)
	require.NoError(t, err)
	require.NotNil(t, result.User)

	assert.Equal(t, "/app/home", flow.CompletionRedirect())
	assert.True(t, flow.CompletionClose())
}

/*
TestBasicHandler_NameNormalization verifies that lookup uses the NFC form of
the account name.
*/
func TestBasicHandler_NameNormalization(t *testing.T) {
	callbacks := &fakeCallbacks{}
	handler, sessions := newBasicHarness(t, callbacks)
	flow := sessions.New(handler.ID(), "test_app")

	// "alice" with a decomposed trailing "e" plus combining mark would
	// differ byte-wise; surrounding whitespace must also be ignored.
	request := jsonPost("/svc/authentication/login", map[string]any{
		"username": "  alice  ",
		"password": "s3cret",
	})

	result, err := handler.Authorize(context.Background(), request, flow)
	require.NoError(t, err)
	assert.Equal(t, testUserID, result.User.ID)
	require.Len(t, callbacks.accounts, 1)
	assert.Equal(t, "alice", callbacks.accounts[0])
}

/*
TestBasicHandler_WrongPassword verifies failure modes per method: GET gets a
browser challenge, POST gets a plain unauthorized error.
*/
func TestBasicHandler_WrongPassword(t *testing.T) {
	handler, sessions := newBasicHarness(t, &fakeCallbacks{})

	t.Run("get_returns_challenge", func(t *testing.T) {
		flow := sessions.New(handler.ID(), "test_app")
		raw := httptest.NewRequest("GET", "/svc/authentication/login", nil)
		raw.SetBasicAuth("alice", "wrong")

		result, err := handler.Authorize(context.Background(), authn.Wrap(raw), flow)
		assert.Nil(t, result)

		failure := apperr.As(err)
		require.NotNil(t, failure)
		assert.Equal(t, "Basic", failure.ChallengeScheme)
		assert.Equal(t, 401, failure.HTTPStatus)
	})

	t.Run("post_returns_unauthorized", func(t *testing.T) {
		flow := sessions.New(handler.ID(), "test_app")
		request := jsonPost("/svc/authentication/login", map[string]any{
			"username": "alice",
			"password": "wrong",
		})

		result, err := handler.Authorize(context.Background(), request, flow)
		assert.Nil(t, result)

		failure := apperr.As(err)
		require.NotNil(t, failure)
		assert.Equal(t, 401, failure.HTTPStatus)
		assert.Empty(t, failure.ChallengeScheme)
	})
}

/*
TestBasicHandler_MissingCredentials verifies that a bare GET prompts with a
challenge before any account hook runs.
*/
func TestBasicHandler_MissingCredentials(t *testing.T) {
	callbacks := &fakeCallbacks{}
	handler, sessions := newBasicHarness(t, callbacks)
	flow := sessions.New(handler.ID(), "test_app")

	raw := httptest.NewRequest("GET", "/svc/authentication/login", nil)
	_, err := handler.Authorize(context.Background(), authn.Wrap(raw), flow)

	failure := apperr.As(err)
	require.NotNil(t, failure)
	assert.Equal(t, "Basic", failure.ChallengeScheme)
	assert.Empty(t, callbacks.accounts, "no account hook without credentials")
}

/*
TestBasicHandler_PreAuthorizeRefusal verifies that a throttled account never
reaches the credential check.
*/
func TestBasicHandler_PreAuthorizeRefusal(t *testing.T) {
	refusal := apperr.RateLimited(30 * time.Second)
	handler, sessions := newBasicHarness(t, &fakeCallbacks{refuse: refusal})
	flow := sessions.New(handler.ID(), "test_app")

	request := jsonPost("/svc/authentication/login", map[string]any{
		"username": "alice",
		"password": "s3cret",
	})

	result, err := handler.Authorize(context.Background(), request, flow)
	assert.Nil(t, result)
	assert.Same(t, refusal, apperr.As(err))
	assert.NotEqual(t, session.StateUserVerified, flow.State())
}
