// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// PostgreSQL implementations of the metadata repositories.
//
// # Architecture
//
// Repositories here are strictly separated from domain logic. They implement
// the contracts in store.go using the [pgxpool.Pool] connection manager.
//
// # Error Mapping
//
// Storage-specific errors (like pgx.ErrNoRows) are mapped to domain-friendly
// [apperr.AppError] types to avoid leaking storage implementation details.

package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/taibuivan/restgate/internal/platform/apperr"
	"github.com/taibuivan/restgate/internal/privilege"
	"github.com/taibuivan/restgate/pkg/universalid"
)

// # User Repository

// PostgresUserStore implements the UserStore interface using pgx.
type PostgresUserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new PostgreSQL implementation of the UserStore.
func NewUserStore(pool *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

const accountColumns = `id, appid, name, email, vendoruserid, loginpermitted`

type accountRow struct {
	user         AuthUser
	passwordHash string
	scram        ScramCredentials
}

func (store *PostgresUserStore) findAccount(ctx context.Context, where string, args ...any) (*accountRow, error) {
	query := fmt.Sprintf(`
		SELECT %s, passwordhash, scramsalt, scramiterations, scramstoredkey, scramserverkey
		FROM auth.account
		WHERE %s AND deletedat IS NULL`, accountColumns, where)

	row := &accountRow{}
	var id, appID []byte
	err := store.pool.QueryRow(ctx, query, args...).Scan(
		&id,
		&appID,
		&row.user.Name,
		&row.user.Email,
		&row.user.VendorUserID,
		&row.user.LoginPermitted,
		&row.passwordHash,
		&row.scram.Salt,
		&row.scram.Iterations,
		&row.scram.StoredKey,
		&row.scram.ServerKey,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Account")
		}
		return nil, fmt.Errorf("postgres_account_find_failed: %w", err)
	}

	if row.user.ID, err = universalid.FromBytes(id); err != nil {
		return nil, fmt.Errorf("postgres_account_bad_id: %w", err)
	}
	if row.user.AppID, err = universalid.FromBytes(appID); err != nil {
		return nil, fmt.Errorf("postgres_account_bad_app_id: %w", err)
	}

	return row, nil
}

/*
VerifyCredentials resolves an account by app and name and checks the password.

Description: Unknown accounts and wrong passwords are indistinguishable to the
caller so the endpoint cannot be used as an account oracle.

Parameters:
  - context: context.Context
  - appID: universalid.ID
  - account: string
  - password: string

Returns:
  - *AuthUser: Hydrated account with privileges
  - error: apperr.Unauthorized, apperr.Forbidden, or database errors
*/
func (store *PostgresUserStore) VerifyCredentials(context context.Context, appID universalid.ID, account, password string) (*AuthUser, error) {

	// 1. Resolve the account under the app
	row, err := store.findAccount(context, "appid = $1 AND name = $2", appID[:], account)
	if err != nil {
		if apperr.IsAppError(err) {
			return nil, apperr.Unauthorized("Invalid account or password")
		}
		return nil, err
	}

	// 2. Check the password against the stored bcrypt hash
	if bcrypt.CompareHashAndPassword([]byte(row.passwordHash), []byte(password)) != nil {
		return nil, apperr.Unauthorized("Invalid account or password")
	}

	// 3. Administratively disabled accounts fail even with a valid password
	if !row.user.LoginPermitted {
		return nil, apperr.Forbidden("Login is not permitted for this account")
	}

	// 4. Load the privilege grants
	if row.user.Privileges, err = store.loadPrivileges(context, row.user.ID); err != nil {
		return nil, err
	}

	return &row.user, nil
}

/*
ScramCredentials returns the stored verifier values for a challenge-response
account.

Parameters:
  - context: context.Context
  - appID: universalid.ID
  - account: string

Returns:
  - *AuthUser: Hydrated account with privileges
  - *ScramCredentials: Salt, iteration count and derived keys
  - error: apperr.NotFound or database errors
*/
func (store *PostgresUserStore) ScramCredentials(context context.Context, appID universalid.ID, account string) (*AuthUser, *ScramCredentials, error) {
	row, err := store.findAccount(context, "appid = $1 AND name = $2", appID[:], account)
	if err != nil {
		return nil, nil, err
	}

	if row.user.Privileges, err = store.loadPrivileges(context, row.user.ID); err != nil {
		return nil, nil, err
	}

	return &row.user, &row.scram, nil
}

/*
FindByID resolves an account by primary id.

Parameters:
  - context: context.Context
  - id: universalid.ID

Returns:
  - *AuthUser: Hydrated account with privileges
  - error: apperr.NotFound or database errors
*/
func (store *PostgresUserStore) FindByID(context context.Context, id universalid.ID) (*AuthUser, error) {
	row, err := store.findAccount(context, "id = $1", id[:])
	if err != nil {
		return nil, err
	}

	if row.user.Privileges, err = store.loadPrivileges(context, row.user.ID); err != nil {
		return nil, err
	}

	return &row.user, nil
}

/*
FindByVendorUserID resolves an account by the external identity key reported
by a delegating vendor.

Parameters:
  - context: context.Context
  - appID: universalid.ID
  - vendorUserID: string

Returns:
  - *AuthUser: Hydrated account with privileges
  - error: apperr.NotFound or database errors
*/
func (store *PostgresUserStore) FindByVendorUserID(context context.Context, appID universalid.ID, vendorUserID string) (*AuthUser, error) {
	row, err := store.findAccount(context, "appid = $1 AND vendoruserid = $2", appID[:], vendorUserID)
	if err != nil {
		return nil, err
	}

	if row.user.Privileges, err = store.loadPrivileges(context, row.user.ID); err != nil {
		return nil, err
	}

	return &row.user, nil
}

// loadPrivileges collects the grants reachable through the account's roles.
func (store *PostgresUserStore) loadPrivileges(ctx context.Context, accountID universalid.ID) ([]privilege.Privilege, error) {
	const query = `
		SELECT p.crudaccess, p.serviceid, p.schemaid, p.objectid,
		       p.servicepath, p.schemapath, p.objectpath
		FROM auth.privilege p
		JOIN auth.account_role ar ON ar.roleid = p.roleid
		WHERE ar.accountid = $1`

	rows, err := store.pool.Query(ctx, query, accountID[:])
	if err != nil {
		return nil, fmt.Errorf("postgres_privilege_query_failed: %w", err)
	}
	defer rows.Close()

	var grants []privilege.Privilege
	for rows.Next() {
		var (
			access                          int
			serviceID, schemaID, objectID   []byte
			svcPath, schemaPath, objectPath *string
		)

		if err := rows.Scan(&access, &serviceID, &schemaID, &objectID, &svcPath, &schemaPath, &objectPath); err != nil {
			return nil, fmt.Errorf("postgres_privilege_scan_failed: %w", err)
		}

		grant := privilege.Privilege{Access: privilege.Access(access)}

		switch {
		case deref(svcPath) != "" || deref(schemaPath) != "" || deref(objectPath) != "":
			grant.ByPath = &privilege.SelectByPath{
				ServicePath: deref(svcPath),
				SchemaPath:  deref(schemaPath),
				ObjectPath:  deref(objectPath),
			}
		case serviceID != nil || schemaID != nil || objectID != nil:
			byID := &privilege.SelectByID{}
			if byID.ServiceID, err = optionalID(serviceID); err != nil {
				return nil, err
			}
			if byID.SchemaID, err = optionalID(schemaID); err != nil {
				return nil, err
			}
			if byID.ObjectID, err = optionalID(objectID); err != nil {
				return nil, err
			}
			grant.ByID = byID
		}

		grants = append(grants, grant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_privilege_rows_failed: %w", err)
	}

	return grants, nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func optionalID(raw []byte) (universalid.ID, error) {
	if raw == nil {
		return universalid.Zero, nil
	}
	id, err := universalid.FromBytes(raw)
	if err != nil {
		return universalid.Zero, fmt.Errorf("postgres_privilege_bad_id: %w", err)
	}
	return id, nil
}

// # App Repository

// PostgresAppRepository implements the AppRepository interface using pgx.
type PostgresAppRepository struct {
	pool *pgxpool.Pool
}

// NewAppRepository creates a new PostgreSQL implementation of AppRepository.
func NewAppRepository(pool *pgxpool.Pool) *PostgresAppRepository {
	return &PostgresAppRepository{pool: pool}
}

/*
ListActive returns every enabled, non-deleted auth app with its service links.

Parameters:
  - context: context.Context

Returns:
  - []*AuthApp: Active apps
  - error: Database retrieval failures
*/
func (repository *PostgresAppRepository) ListActive(context context.Context) ([]*AuthApp, error) {
	const appQuery = `
		SELECT id, vendorid, name, url, limittoregisteredusers, defaultroleid
		FROM auth.app
		WHERE enabled = TRUE AND deletedat IS NULL
		ORDER BY name`

	rows, err := repository.pool.Query(context, appQuery)
	if err != nil {
		return nil, fmt.Errorf("postgres_app_query_failed: %w", err)
	}
	defer rows.Close()

	apps := make(map[universalid.ID]*AuthApp)
	var ordered []*AuthApp

	for rows.Next() {
		var (
			id, vendorID, defaultRoleID []byte
			url                         *string
		)

		app := &AuthApp{Enabled: true}
		if err := rows.Scan(&id, &vendorID, &app.Name, &url, &app.LimitToRegisteredUsers, &defaultRoleID); err != nil {
			return nil, fmt.Errorf("postgres_app_scan_failed: %w", err)
		}

		if app.ID, err = universalid.FromBytes(id); err != nil {
			return nil, fmt.Errorf("postgres_app_bad_id: %w", err)
		}
		if app.VendorID, err = universalid.FromBytes(vendorID); err != nil {
			return nil, fmt.Errorf("postgres_app_bad_vendor_id: %w", err)
		}
		if defaultRoleID != nil {
			roleID, err := universalid.FromBytes(defaultRoleID)
			if err != nil {
				return nil, fmt.Errorf("postgres_app_bad_role_id: %w", err)
			}
			app.DefaultRoleID = &roleID
		}
		app.URL = deref(url)

		apps[app.ID] = app
		ordered = append(ordered, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_app_rows_failed: %w", err)
	}

	// Attach service links in a second pass.
	const linkQuery = `SELECT appid, serviceid FROM auth.app_service`
	linkRows, err := repository.pool.Query(context, linkQuery)
	if err != nil {
		return nil, fmt.Errorf("postgres_app_service_query_failed: %w", err)
	}
	defer linkRows.Close()

	for linkRows.Next() {
		var appID, serviceID []byte
		if err := linkRows.Scan(&appID, &serviceID); err != nil {
			return nil, fmt.Errorf("postgres_app_service_scan_failed: %w", err)
		}

		aid, err := universalid.FromBytes(appID)
		if err != nil {
			return nil, fmt.Errorf("postgres_app_service_bad_app_id: %w", err)
		}
		sid, err := universalid.FromBytes(serviceID)
		if err != nil {
			return nil, fmt.Errorf("postgres_app_service_bad_service_id: %w", err)
		}

		if app, found := apps[aid]; found {
			app.ServiceIDs = append(app.ServiceIDs, sid)
		}
	}
	if err := linkRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_app_service_rows_failed: %w", err)
	}

	return ordered, nil
}

/*
LastChangedAt returns the newest modification timestamp across all auth apps.

Parameters:
  - context: context.Context

Returns:
  - time.Time: Newest updatedat value (zero when no apps exist)
  - error: Database retrieval failures
*/
func (repository *PostgresAppRepository) LastChangedAt(context context.Context) (time.Time, error) {
	const query = `SELECT COALESCE(MAX(updatedat), 'epoch'::timestamptz) FROM auth.app`

	var changedAt time.Time
	if err := repository.pool.QueryRow(context, query).Scan(&changedAt); err != nil {
		return time.Time{}, fmt.Errorf("postgres_app_changed_at_failed: %w", err)
	}

	return changedAt, nil
}

// # Service Repository

// PostgresServiceRepository implements the ServiceRepository interface.
type PostgresServiceRepository struct {
	pool *pgxpool.Pool
}

// NewServiceRepository creates a new PostgreSQL implementation of ServiceRepository.
func NewServiceRepository(pool *pgxpool.Pool) *PostgresServiceRepository {
	return &PostgresServiceRepository{pool: pool}
}

/*
FindByPath returns the service mounted at the given root path.

Parameters:
  - context: context.Context
  - path: string

Returns:
  - *Service: Hydrated entity
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresServiceRepository) FindByPath(context context.Context, path string) (*Service, error) {
	const query = `SELECT id, path FROM auth.service WHERE path = $1`

	var id []byte
	service := &Service{}
	err := repository.pool.QueryRow(context, query, path).Scan(&id, &service.Path)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Service")
		}
		return nil, fmt.Errorf("postgres_service_find_failed: %w", err)
	}

	if service.ID, err = universalid.FromBytes(id); err != nil {
		return nil, fmt.Errorf("postgres_service_bad_id: %w", err)
	}

	return service, nil
}

/*
ResolveObject returns the schema and object ids behind one data-plane path.

Parameters:
  - context: context.Context
  - serviceID: universalid.ID
  - schemaPath: string
  - objectPath: string

Returns:
  - ObjectRef: Resolved ids; zero ids for paths without a metadata row
  - error: Database retrieval failures
*/
func (repository *PostgresServiceRepository) ResolveObject(context context.Context, serviceID universalid.ID, schemaPath, objectPath string) (ObjectRef, error) {
	const query = `
		SELECT s.id, o.id
		FROM auth.db_schema s
		LEFT JOIN auth.db_object o ON o.schemaid = s.id AND o.path = $3
		WHERE s.serviceid = $1 AND s.path = $2`

	var schemaID, objectID []byte
	err := repository.pool.QueryRow(context, query, serviceID[:], schemaPath, objectPath).
		Scan(&schemaID, &objectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ObjectRef{}, nil
		}
		return ObjectRef{}, fmt.Errorf("postgres_object_resolve_failed: %w", err)
	}

	ref := ObjectRef{}
	if ref.SchemaID, err = universalid.FromBytes(schemaID); err != nil {
		return ObjectRef{}, fmt.Errorf("postgres_schema_bad_id: %w", err)
	}
	if len(objectID) > 0 {
		if ref.ObjectID, err = universalid.FromBytes(objectID); err != nil {
			return ObjectRef{}, fmt.Errorf("postgres_object_bad_id: %w", err)
		}
	}

	return ref, nil
}
