// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/restgate/internal/api"
	"github.com/taibuivan/restgate/internal/authz"
	"github.com/taibuivan/restgate/internal/metadata"
	"github.com/taibuivan/restgate/internal/platform/apperr"
	"github.com/taibuivan/restgate/internal/privilege"
	"github.com/taibuivan/restgate/internal/ratelimit"
	"github.com/taibuivan/restgate/internal/session"
	"github.com/taibuivan/restgate/pkg/universalid"
)

// # Fixtures

var (
	shopServiceID = universalid.MustParse("aa000000000000000000000000000011")
	shopAppID     = universalid.MustParse("31000000000000000000000000000011")
	aliceID       = universalid.MustParse("cc000000000000000000000000000011")
	shopSchemaID  = universalid.MustParse("dd000000000000000000000000000011")
	shopObjectID  = universalid.MustParse("ee000000000000000000000000000011")
)

type stubServices struct{}

func (stubServices) FindByPath(_ context.Context, path string) (*metadata.Service, error) {
	if path != "/shop" {
		return nil, apperr.NotFound("Service")
	}
	return &metadata.Service{ID: shopServiceID, Path: path}, nil
}

// ResolveObject registers exactly one schema ("/inventory") with one object
// ("/items"); every other path resolves without ids.
func (stubServices) ResolveObject(_ context.Context, serviceID universalid.ID, schemaPath, objectPath string) (metadata.ObjectRef, error) {
	if serviceID != shopServiceID || schemaPath != "/inventory" {
		return metadata.ObjectRef{}, nil
	}
	ref := metadata.ObjectRef{SchemaID: shopSchemaID}
	if objectPath == "/items" {
		ref.ObjectID = shopObjectID
	}
	return ref, nil
}

type stubUsers struct{}

func (stubUsers) VerifyCredentials(_ context.Context, appID universalid.ID, account, password string) (*metadata.AuthUser, error) {
	if appID != shopAppID || password != "s3cret" {
		return nil, apperr.Unauthorized("Invalid account or password")
	}
	switch account {
	case "alice":
		return aliceUser(), nil
	case "bob":
		return bobUser(), nil
	}
	return nil, apperr.Unauthorized("Invalid account or password")
}

func (stubUsers) ScramCredentials(context.Context, universalid.ID, string) (*metadata.AuthUser, *metadata.ScramCredentials, error) {
	return nil, nil, apperr.NotFound("Account")
}

func (stubUsers) FindByID(_ context.Context, id universalid.ID) (*metadata.AuthUser, error) {
	if id != aliceID {
		return nil, apperr.NotFound("Account")
	}
	return aliceUser(), nil
}

func (stubUsers) FindByVendorUserID(context.Context, universalid.ID, string) (*metadata.AuthUser, error) {
	return nil, apperr.NotFound("Account")
}

func aliceUser() *metadata.AuthUser {
	return &metadata.AuthUser{
		ID:             aliceID,
		AppID:          shopAppID,
		Name:           "alice",
		Email:          "alice@example.com",
		LoginPermitted: true,
		Privileges: []privilege.Privilege{
			{Access: privilege.AccessRead, ByID: &privilege.SelectByID{ServiceID: shopServiceID}},
		},
	}
}

// bobUser carries a grant scoped to the inventory schema id only.
func bobUser() *metadata.AuthUser {
	return &metadata.AuthUser{
		ID:             universalid.MustParse("cc000000000000000000000000000022"),
		AppID:          shopAppID,
		Name:           "bob",
		Email:          "bob@example.com",
		LoginPermitted: true,
		Privileges: []privilege.Privilege{
			{Access: privilege.AccessRead, ByID: &privilege.SelectByID{SchemaID: shopSchemaID}},
		},
	}
}

func newGateway(t *testing.T, opts authz.Options) http.Handler {
	t.Helper()

	sessions := session.NewStore(session.Config{ExpireAfter: time.Minute})
	manager := authz.NewManager(stubUsers{}, sessions, nil, slog.Default(), opts)
	require.NoError(t, manager.Update(context.Background(), []*metadata.AuthApp{{
		ID:         shopAppID,
		ServiceIDs: []universalid.ID{shopServiceID},
		VendorID:   metadata.VendorBasic,
		Name:       "shop_login",
		Enabled:    true,
	}}))

	router := chi.NewRouter()
	router.Route("/{service}", func(service chi.Router) {
		service.Mount("/authentication", api.NewAuthHandler(manager, stubServices{}, false).Routes())
		service.Mount("/", api.NewAccessHandler(manager, stubServices{}).Routes())
	})
	return router
}

func postLogin(t *testing.T, gateway http.Handler, username, password string) *httptest.ResponseRecorder {
	t.Helper()

	payload, _ := json.Marshal(map[string]any{"username": username, "password": password})
	request := httptest.NewRequest("POST", "/shop/authentication/login", bytes.NewReader(payload))
	request.Header.Set("Content-Type", "application/json")
	request.RemoteAddr = "10.1.1.1:40000"

	recorder := httptest.NewRecorder()
	gateway.ServeHTTP(recorder, request)
	return recorder
}

// # Authentication Endpoints

/*
TestLogin_Success verifies the happy path: 200, a handler-scoped session
cookie, and the user in the body.
*/
func TestLogin_Success(t *testing.T) {
	gateway := newGateway(t, authz.Options{})
	recorder := postLogin(t, gateway, "alice", "s3cret")

	require.Equal(t, http.StatusOK, recorder.Code)

	cookies := recorder.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "session_"+shopAppID.String(), cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	var body struct {
		Data struct {
			Authenticated bool `json:"authenticated"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.True(t, body.Data.Authenticated)
}

/*
TestLogin_BadPassword verifies the 401 with no cookie.
*/
func TestLogin_BadPassword(t *testing.T) {
	gateway := newGateway(t, authz.Options{})
	recorder := postLogin(t, gateway, "alice", "wrong")

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Empty(t, recorder.Result().Cookies())
}

/*
TestLogin_BrowserChallenge verifies that a credential-less GET prompts with
WWW-Authenticate.
*/
func TestLogin_BrowserChallenge(t *testing.T) {
	gateway := newGateway(t, authz.Options{})

	request := httptest.NewRequest("GET", "/shop/authentication/login", nil)
	recorder := httptest.NewRecorder()
	gateway.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Equal(t, "Basic", recorder.Header().Get("WWW-Authenticate"))
}

/*
TestLogin_RapidAttemptsThrottled drives eleven rapid wrong-password attempts
from one address: ten fail with 401, the eleventh is refused with 429 and a
Retry-After header.
*/
func TestLogin_RapidAttemptsThrottled(t *testing.T) {
	gateway := newGateway(t, authz.Options{
		HostLimit: ratelimit.Config{MaxPerMinute: 10, BlockFor: time.Minute},
	})

	for i := 0; i < 10; i++ {
		recorder := postLogin(t, gateway, "alice", "wrong")
		require.Equal(t, http.StatusUnauthorized, recorder.Code, "attempt %d", i+1)
	}

	recorder := postLogin(t, gateway, "alice", "wrong")
	assert.Equal(t, http.StatusTooManyRequests, recorder.Code)
	assert.NotEmpty(t, recorder.Header().Get("Retry-After"))
}

/*
TestStatusAndLogout verifies the session lifecycle through the public
endpoints.
*/
func TestStatusAndLogout(t *testing.T) {
	gateway := newGateway(t, authz.Options{})

	login := postLogin(t, gateway, "alice", "s3cret")
	require.Equal(t, http.StatusOK, login.Code)
	cookie := login.Result().Cookies()[0]

	// Status with the cookie reports authenticated.
	status := httptest.NewRequest("GET", "/shop/authentication/status", nil)
	status.AddCookie(cookie)
	recorder := httptest.NewRecorder()
	gateway.ServeHTTP(recorder, status)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"authenticated":true`)

	// Logout drops the session and expires the cookie.
	logout := httptest.NewRequest("POST", "/shop/authentication/logout", nil)
	logout.AddCookie(cookie)
	recorder = httptest.NewRecorder()
	gateway.ServeHTTP(recorder, logout)
	require.Equal(t, http.StatusOK, recorder.Code)

	expired := recorder.Result().Cookies()
	require.Len(t, expired, 1)
	assert.Negative(t, expired[0].MaxAge)

	// The old cookie no longer authenticates.
	status = httptest.NewRequest("GET", "/shop/authentication/status", nil)
	status.AddCookie(cookie)
	recorder = httptest.NewRecorder()
	gateway.ServeHTTP(recorder, status)
	assert.Contains(t, recorder.Body.String(), `"authenticated":false`)
}

/*
TestAuthApps lists the discoverable apps of the service.
*/
func TestAuthApps(t *testing.T) {
	gateway := newGateway(t, authz.Options{})

	request := httptest.NewRequest("GET", "/shop/authentication/authApps", nil)
	recorder := httptest.NewRecorder()
	gateway.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"shop_login"`)
	assert.Contains(t, recorder.Body.String(), metadata.VendorBasic.String())
}

// # Data-Plane Gate

/*
TestAccess_CRUDGate verifies the privilege gate on object routes: alice may
read on the shop service but not delete.
*/
func TestAccess_CRUDGate(t *testing.T) {
	gateway := newGateway(t, authz.Options{})

	login := postLogin(t, gateway, "alice", "s3cret")
	require.Equal(t, http.StatusOK, login.Code)
	cookie := login.Result().Cookies()[0]

	t.Run("read_allowed", func(t *testing.T) {
		request := httptest.NewRequest("GET", "/shop/inventory/items", nil)
		request.AddCookie(cookie)
		recorder := httptest.NewRecorder()
		gateway.ServeHTTP(recorder, request)
		assert.Equal(t, http.StatusOK, recorder.Code)
	})

	t.Run("delete_forbidden", func(t *testing.T) {
		request := httptest.NewRequest("DELETE", "/shop/inventory/items", nil)
		request.AddCookie(cookie)
		recorder := httptest.NewRecorder()
		gateway.ServeHTTP(recorder, request)
		assert.Equal(t, http.StatusForbidden, recorder.Code)
	})

	t.Run("anonymous_refused", func(t *testing.T) {
		request := httptest.NewRequest("GET", "/shop/inventory/items", nil)
		recorder := httptest.NewRecorder()
		gateway.ServeHTTP(recorder, request)
		assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	})
}

/*
TestLogin_CookieReuse verifies that a request presenting only the session
cookie of a completed flow is authorized immediately: no re-prompt, and the
session survives.
*/
func TestLogin_CookieReuse(t *testing.T) {
	gateway := newGateway(t, authz.Options{})

	login := postLogin(t, gateway, "alice", "s3cret")
	require.Equal(t, http.StatusOK, login.Code)
	cookie := login.Result().Cookies()[0]

	// Same endpoint, no credentials at all, just the cookie.
	retry := httptest.NewRequest("POST", "/shop/authentication/login", bytes.NewReader([]byte(`{}`)))
	retry.Header.Set("Content-Type", "application/json")
	retry.AddCookie(cookie)
	recorder := httptest.NewRecorder()
	gateway.ServeHTTP(recorder, retry)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"authenticated":true`)

	// The session is intact: the cookie still authenticates.
	status := httptest.NewRequest("GET", "/shop/authentication/status", nil)
	status.AddCookie(cookie)
	recorder = httptest.NewRecorder()
	gateway.ServeHTTP(recorder, status)
	assert.Contains(t, recorder.Body.String(), `"authenticated":true`)
}

/*
TestAccess_SchemaScopedGrant verifies that a grant scoped to a schema id
applies on the live request path: the addressed schema's metadata id is
resolved and matched, and unregistered schemas stay outside the grant.
*/
func TestAccess_SchemaScopedGrant(t *testing.T) {
	gateway := newGateway(t, authz.Options{})

	login := postLogin(t, gateway, "bob", "s3cret")
	require.Equal(t, http.StatusOK, login.Code)
	cookie := login.Result().Cookies()[0]

	t.Run("registered_schema_allowed", func(t *testing.T) {
		request := httptest.NewRequest("GET", "/shop/inventory/items", nil)
		request.AddCookie(cookie)
		recorder := httptest.NewRecorder()
		gateway.ServeHTTP(recorder, request)
		assert.Equal(t, http.StatusOK, recorder.Code)
	})

	t.Run("unregistered_schema_refused", func(t *testing.T) {
		request := httptest.NewRequest("GET", "/shop/archive/items", nil)
		request.AddCookie(cookie)
		recorder := httptest.NewRecorder()
		gateway.ServeHTTP(recorder, request)
		assert.Equal(t, http.StatusForbidden, recorder.Code)
	})
}
