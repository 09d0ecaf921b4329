// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/restgate/internal/platform/constants"
	"github.com/taibuivan/restgate/internal/privilege"
	"github.com/taibuivan/restgate/pkg/universalid"
)

// userCacheTTL bounds how stale a cached account may get. Token validation
// resolves users on every request, so even a short TTL removes most of the
// metadata query load.
const userCacheTTL = 5 * time.Minute

// CachedUserStore layers a Redis read-through cache over another UserStore.
// Only FindByID is cached: it is the hot path of bearer-token validation.
// Credential checks always go to the backing store.
type CachedUserStore struct {
	backing UserStore
	client  *redis.Client
}

// NewCachedUserStore wraps a UserStore with a Redis cache.
func NewCachedUserStore(backing UserStore, client *redis.Client) *CachedUserStore {
	return &CachedUserStore{backing: backing, client: client}
}

// cacheEnvelope carries the fields that the entity's public JSON shape
// deliberately omits.
type cacheEnvelope struct {
	User         AuthUser              `json:"user"`
	VendorUserID string                `json:"vendor_user_id"`
	Privileges   []privilege.Privilege `json:"privileges"`
}

/*
FindByID resolves an account by primary id, consulting Redis first.

Description: Cache misses and cache errors both fall through to the backing
store; a broken cache degrades latency, never correctness.

Parameters:
  - context: context.Context
  - id: universalid.ID

Returns:
  - *AuthUser: Hydrated account with privileges
  - error: apperr.NotFound or database errors
*/
func (store *CachedUserStore) FindByID(context context.Context, id universalid.ID) (*AuthUser, error) {
	key := constants.RedisPrefixAuthUser + id.String()

	// 1. Try the cache
	raw, err := store.client.Get(context, key).Result()
	if err == nil {
		envelope := &cacheEnvelope{}
		if json.Unmarshal([]byte(raw), envelope) == nil {
			user := envelope.User
			user.VendorUserID = envelope.VendorUserID
			user.Privileges = envelope.Privileges
			return &user, nil
		}
		// Unreadable entry: drop it and fall through.
		_ = store.client.Del(context, key).Err()
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis_auth_user_get_failed: %w", err)
	}

	// 2. Miss: resolve from the backing store
	user, err := store.backing.FindByID(context, id)
	if err != nil {
		return nil, err
	}

	// 3. Populate the cache for the next request
	payload, err := json.Marshal(&cacheEnvelope{
		User:         *user,
		VendorUserID: user.VendorUserID,
		Privileges:   user.Privileges,
	})
	if err == nil {
		_ = store.client.Set(context, key, payload, userCacheTTL).Err()
	}

	return user, nil
}

/*
Invalidate removes a cached account, forcing the next FindByID to hit the
backing store.

Parameters:
  - context: context.Context
  - id: universalid.ID

Returns:
  - error: Deletion failures
*/
func (store *CachedUserStore) Invalidate(context context.Context, id universalid.ID) error {
	key := constants.RedisPrefixAuthUser + id.String()
	if err := store.client.Del(context, key).Err(); err != nil {
		return fmt.Errorf("redis_auth_user_invalidate_failed: %w", err)
	}
	return nil
}

// VerifyCredentials delegates to the backing store; credential checks are
// never served from cache.
func (store *CachedUserStore) VerifyCredentials(context context.Context, appID universalid.ID, account, password string) (*AuthUser, error) {
	return store.backing.VerifyCredentials(context, appID, account, password)
}

// ScramCredentials delegates to the backing store.
func (store *CachedUserStore) ScramCredentials(context context.Context, appID universalid.ID, account string) (*AuthUser, *ScramCredentials, error) {
	return store.backing.ScramCredentials(context, appID, account)
}

// FindByVendorUserID delegates to the backing store.
func (store *CachedUserStore) FindByVendorUserID(context context.Context, appID universalid.ID, vendorUserID string) (*AuthUser, error) {
	return store.backing.FindByVendorUserID(context, appID, vendorUserID)
}
