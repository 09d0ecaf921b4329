// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package metadata

import (
	"context"
	"time"

	"github.com/taibuivan/restgate/pkg/universalid"
)

// # User Data Access

// UserStore defines the data access contract for auth accounts.
type UserStore interface {

	/*
		VerifyCredentials resolves the account with the given name under the
		app and checks the cleartext password against the stored hash.

		Parameters:
		  - context: context.Context
		  - appID: universalid.ID
		  - account: string (already canonicalized)
		  - password: string

		Returns:
		  - *AuthUser: Hydrated account with privileges, on success only
		  - error: apperr.Unauthorized for unknown account or wrong password
	*/
	VerifyCredentials(context context.Context, appID universalid.ID, account, password string) (*AuthUser, error)

	/*
		ScramCredentials returns the stored verifier values for an account so
		the challenge-response exchange can run without the cleartext password.

		Parameters:
		  - context: context.Context
		  - appID: universalid.ID
		  - account: string (already canonicalized)

		Returns:
		  - *AuthUser: Hydrated account with privileges
		  - *ScramCredentials: Salt, iteration count and derived keys
		  - error: apperr.NotFound when the account does not exist
	*/
	ScramCredentials(context context.Context, appID universalid.ID, account string) (*AuthUser, *ScramCredentials, error)

	/*
		FindByID resolves an account by its primary id, privileges included.

		Parameters:
		  - context: context.Context
		  - id: universalid.ID

		Returns:
		  - *AuthUser: Hydrated account with privileges
		  - error: apperr.NotFound or database errors
	*/
	FindByID(context context.Context, id universalid.ID) (*AuthUser, error)

	/*
		FindByVendorUserID resolves an account by the external identity key a
		delegating vendor reported, scoped to one app.

		Parameters:
		  - context: context.Context
		  - appID: universalid.ID
		  - vendorUserID: string

		Returns:
		  - *AuthUser: Hydrated account with privileges
		  - error: apperr.NotFound or database errors
	*/
	FindByVendorUserID(context context.Context, appID universalid.ID, vendorUserID string) (*AuthUser, error)
}

// # App Data Access

// AppRepository defines the data access contract for auth apps.
type AppRepository interface {

	/*
		ListActive returns every enabled, non-deleted auth app together with
		the services it is attached to.

		Parameters:
		  - context: context.Context

		Returns:
		  - []*AuthApp: Active apps
		  - error: Database retrieval failures
	*/
	ListActive(context context.Context) ([]*AuthApp, error)

	/*
		LastChangedAt returns the most recent modification timestamp across
		all auth apps. The change-feed poller compares it against its cursor
		to decide when the handler registry must be rebuilt.

		Parameters:
		  - context: context.Context

		Returns:
		  - time.Time: Newest updatedat value (zero when no apps exist)
		  - error: Database retrieval failures
	*/
	LastChangedAt(context context.Context) (time.Time, error)
}

// # Service Data Access

// ServiceRepository resolves REST services for request routing and
// privilege targeting.
type ServiceRepository interface {

	/*
		FindByPath returns the service mounted at the given root path.

		Parameters:
		  - context: context.Context
		  - path: string

		Returns:
		  - *Service: Hydrated entity
		  - error: apperr.NotFound or database errors
	*/
	FindByPath(context context.Context, path string) (*Service, error)

	/*
		ResolveObject returns the schema and object ids registered under the
		given request paths, so id-scoped grants can be matched. Paths with
		no metadata row resolve to zero ids, not an error.

		Parameters:
		  - context: context.Context
		  - serviceID: universalid.ID
		  - schemaPath: string
		  - objectPath: string

		Returns:
		  - ObjectRef: Resolved ids, zero where unregistered
		  - error: Database retrieval failures
	*/
	ResolveObject(context context.Context, serviceID universalid.ID, schemaPath, objectPath string) (ObjectRef, error)
}
