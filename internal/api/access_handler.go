// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/restgate/internal/authz"
	"github.com/taibuivan/restgate/internal/metadata"
	"github.com/taibuivan/restgate/internal/platform/apperr"
	"github.com/taibuivan/restgate/internal/platform/ctxutil"
	"github.com/taibuivan/restgate/internal/platform/respond"
	"github.com/taibuivan/restgate/internal/privilege"
)

// AccessHandler gates the data-plane routes of a service.
//
// # Scope
//
// Every request under /{service}/{schema}/{object} resolves the caller,
// aggregates their privilege grants against the addressed object, and
// refuses the request unless the grant covers the HTTP method's CRUD bit.
type AccessHandler struct {
	manager  *authz.Manager
	services metadata.ServiceRepository
}

// NewAccessHandler constructs a new [AccessHandler].
func NewAccessHandler(manager *authz.Manager, services metadata.ServiceRepository) *AccessHandler {
	return &AccessHandler{manager: manager, services: services}
}

// Routes returns a [chi.Router] for the object-level routes.
func (handler *AccessHandler) Routes() chi.Router {
	router := chi.NewRouter()
	router.HandleFunc("/{schema}/{object}", handler.access)
	router.HandleFunc("/{schema}/{object}/*", handler.access)
	return router
}

// access authorizes one data-plane request.
func (handler *AccessHandler) access(writer http.ResponseWriter, request *http.Request) {

	// 1. The service root must exist
	servicePath := "/" + chi.URLParam(request, "service")
	service, err := handler.services.FindByPath(request.Context(), servicePath)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	// 2. The caller must be authenticated (cookie or bearer token)
	flow, err := handler.manager.IsAuthorized(request.Context(), service.ID, request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	user := flow.User()
	ctx := ctxutil.WithAuthUser(request.Context(), user)
	request = request.WithContext(ctx)

	// 3. The aggregated grants must cover the method's CRUD bit
	required := privilege.AccessForMethod(request.Method)
	if required == privilege.AccessNone {
		respond.Error(writer, request, apperr.BadRequest("Unsupported method"))
		return
	}

	target := privilege.Target{
		ServiceID:   service.ID,
		ServicePath: servicePath,
		SchemaPath:  "/" + chi.URLParam(request, "schema"),
		ObjectPath:  "/" + chi.URLParam(request, "object"),
	}

	// Paths registered in the metadata also carry ids, so id-scoped grants
	// apply; unregistered paths match on patterns alone.
	ref, err := handler.services.ResolveObject(ctx, service.ID, target.SchemaPath, target.ObjectPath)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	target.SchemaID = ref.SchemaID
	target.ObjectID = ref.ObjectID

	granted := privilege.Aggregate(user.Privileges, target)
	if !granted.Has(required) {
		respond.Error(writer, request, apperr.Forbidden("Insufficient privileges for this object"))
		return
	}

	// The object pipeline behind the gate is owned by the data service;
	// the gateway responds with the authorization verdict.
	respond.OK(writer, map[string]any{
		"user_id": user.ID.String(),
		"object":  target.ObjectPath,
		"access":  granted,
	})
}
