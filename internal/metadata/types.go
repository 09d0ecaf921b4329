// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package metadata implements the authentication metadata layer of the gateway.

It defines the core domain entities (AuthApp, AuthUser, Service) and the data
access contracts used by the authorization manager. An auth app is a configured
way to sign in to one or more REST services; an auth user is an account known
to exactly one app.

# Architecture

This layer is the "Truth" of the auth subsystem. Entities defined here have no
transport or storage dependencies and encapsulate the rules about identity
that the handlers and the authorize manager build on.
*/
package metadata

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/taibuivan/restgate/internal/privilege"
	"github.com/taibuivan/restgate/pkg/universalid"
)

// # Vendor Identifiers

// Well-known authentication vendor ids. The first byte encodes the vendor
// family; the remaining bytes are zero. An auth app references exactly one
// of these, and the vendor determines which handler implementation serves it.
var (
	// VendorSCRAM is the built-in challenge-response vendor.
	VendorSCRAM = universalid.MustParse("30000000000000000000000000000000")

	// VendorBasic is the built-in username/password vendor.
	VendorBasic = universalid.MustParse("31000000000000000000000000000000")

	// VendorFacebook delegates authentication to Facebook OAuth2.
	VendorFacebook = universalid.MustParse("32000000000000000000000000000000")

	// VendorGoogle delegates authentication to Google OAuth2.
	VendorGoogle = universalid.MustParse("34000000000000000000000000000000")

	// VendorOIDC delegates authentication to a generic OpenID Connect provider.
	VendorOIDC = universalid.MustParse("35000000000000000000000000000000")
)

// # Domain Entities

// Service is a REST service exposed by the gateway. Auth apps are attached to
// services, and privileges may be scoped to a service by id or by path.
type Service struct {
	ID   universalid.ID `json:"id"`
	Path string         `json:"path"`
}

// AuthApp is one configured way to authenticate against a set of services.
type AuthApp struct {
	ID                     universalid.ID   `json:"id"`
	ServiceIDs             []universalid.ID `json:"service_ids"`
	VendorID               universalid.ID   `json:"vendor_id"`
	Name                   string           `json:"name"`
	Enabled                bool             `json:"enabled"`
	Deleted                bool             `json:"-"`
	URL                    string           `json:"url,omitempty"`
	LimitToRegisteredUsers bool             `json:"limit_to_registered_users"`
	DefaultRoleID          *universalid.ID  `json:"default_role_id,omitempty"`
}

// ObjectRef carries the metadata ids behind one data-plane path, so grants
// scoped by schema or object id can be matched against live requests. Ids
// stay zero when the path has no metadata row; path-based grants still apply.
type ObjectRef struct {
	SchemaID universalid.ID
	ObjectID universalid.ID
}

// ServesService reports whether the app is attached to the given service.
func (app *AuthApp) ServesService(serviceID universalid.ID) bool {
	for _, id := range app.ServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}

// AuthUser is an account resolved through an auth app.
type AuthUser struct {
	ID             universalid.ID        `json:"id"`
	AppID          universalid.ID        `json:"app_id"`
	Name           string                `json:"name"`
	Email          string                `json:"email"`
	VendorUserID   string                `json:"-"` // External identity key. Omitted from JSON for privacy.
	LoginPermitted bool                  `json:"login_permitted"`
	Privileges     []privilege.Privilege `json:"-"`
}

// ScramCredentials are the derived verifier values stored for a
// challenge-response account. The cleartext password is never stored.
type ScramCredentials struct {
	Salt       []byte
	Iterations int
	StoredKey  []byte // SHA-256 of the client key.
	ServerKey  []byte
}

// # Account Name Canonicalization

// NormalizeAccountName canonicalizes an account name for lookup and
// comparison: Unicode NFC normalization plus surrounding whitespace removal.
// Two visually identical names that differ only in combining-character
// encoding must resolve to the same account.
func NormalizeAccountName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// # Field Identifiers

// Global field names used by the authentication endpoints.
const (
	FieldUsername    = "username"
	FieldPassword    = "password"
	FieldSessionID   = "session"
	FieldNonce       = "nonce"
	FieldSalt        = "salt"
	FieldIterations  = "iterations"
	FieldState       = "state"
	FieldCode        = "code"
	FieldAuthData    = "auth_data"
	FieldAccessToken = "access_token"
	FieldRedirectURL = "onCompletionRedirect"
	FieldClose       = "onCompletionClose"
)
