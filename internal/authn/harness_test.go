// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package authn_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"time"

	"github.com/taibuivan/restgate/internal/authn"
	"github.com/taibuivan/restgate/internal/metadata"
	"github.com/taibuivan/restgate/internal/platform/apperr"
	"github.com/taibuivan/restgate/internal/session"
	"github.com/taibuivan/restgate/pkg/universalid"
)

// # Shared Fixtures

var (
	testAppID     = universalid.MustParse("31000000000000000000000000000111")
	testServiceID = universalid.MustParse("aa000000000000000000000000000111")
	testUserID    = universalid.MustParse("cc000000000000000000000000000111")
)

func testApp(vendorID universalid.ID) *metadata.AuthApp {
	return &metadata.AuthApp{
		ID:         testAppID,
		ServiceIDs: []universalid.ID{testServiceID},
		VendorID:   vendorID,
		Name:       "test_app",
		Enabled:    true,
	}
}

func testUser() *metadata.AuthUser {
	return &metadata.AuthUser{
		ID:             testUserID,
		AppID:          testAppID,
		Name:           "alice",
		Email:          "alice@example.com",
		LoginPermitted: true,
	}
}

// fakeUserStore serves a single account from memory.
type fakeUserStore struct {
	user     *metadata.AuthUser
	password string
	scram    *metadata.ScramCredentials
}

func (store *fakeUserStore) VerifyCredentials(_ context.Context, appID universalid.ID, account, password string) (*metadata.AuthUser, error) {
	if store.user == nil || appID != store.user.AppID || account != store.user.Name || password != store.password {
		return nil, apperr.Unauthorized("Invalid account or password")
	}
	return store.user, nil
}

func (store *fakeUserStore) ScramCredentials(_ context.Context, appID universalid.ID, account string) (*metadata.AuthUser, *metadata.ScramCredentials, error) {
	if store.user == nil || store.scram == nil || appID != store.user.AppID || account != store.user.Name {
		return nil, nil, apperr.NotFound("Account")
	}
	return store.user, store.scram, nil
}

func (store *fakeUserStore) FindByID(_ context.Context, id universalid.ID) (*metadata.AuthUser, error) {
	if store.user == nil || id != store.user.ID {
		return nil, apperr.NotFound("Account")
	}
	return store.user, nil
}

func (store *fakeUserStore) FindByVendorUserID(_ context.Context, appID universalid.ID, vendorUserID string) (*metadata.AuthUser, error) {
	if store.user == nil || appID != store.user.AppID || vendorUserID != store.user.VendorUserID {
		return nil, apperr.NotFound("Account")
	}
	return store.user, nil
}

// fakeCallbacks records pre-authorization calls and optionally refuses them.
type fakeCallbacks struct {
	accounts []string
	refuse   error
}

func (callbacks *fakeCallbacks) PreAuthorizeAccount(_ context.Context, _ universalid.ID, account string) error {
	callbacks.accounts = append(callbacks.accounts, account)
	return callbacks.refuse
}

func testDeps(store *fakeUserStore, callbacks *fakeCallbacks) (authn.Deps, *session.Store) {
	sessions := session.NewStore(session.Config{ExpireAfter: time.Minute})
	return authn.Deps{
		Users:      store,
		Sessions:   sessions,
		Callbacks:  callbacks,
		Logger:     slog.Default(),
		RandomData: []byte("process-local-random-data"),
	}, sessions
}

// jsonPost builds a wrapped POST request with a JSON body.
func jsonPost(path string, body map[string]any) *authn.Request {
	payload, _ := json.Marshal(body)
	request := httptest.NewRequest("POST", path, bytes.NewReader(payload))
	request.Header.Set("Content-Type", "application/json")
	return authn.Wrap(request)
}
