// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/restgate/internal/authn"
	"github.com/taibuivan/restgate/internal/authz"
	"github.com/taibuivan/restgate/internal/metadata"
	"github.com/taibuivan/restgate/internal/platform/apperr"
	"github.com/taibuivan/restgate/internal/platform/middleware"
	"github.com/taibuivan/restgate/internal/platform/respond"
	"github.com/taibuivan/restgate/internal/session"
	"github.com/taibuivan/restgate/pkg/universalid"
)

// # Definitions & Constructors

// AuthHandler implements the per-service authentication endpoints.
//
// # Scope
//
// Everything under /{service}/authentication: starting and continuing login
// flows, ending sessions, reporting status, and app discovery.
type AuthHandler struct {
	manager  *authz.Manager
	services metadata.ServiceRepository
	secure   bool
}

// NewAuthHandler constructs a new [AuthHandler].
func NewAuthHandler(manager *authz.Manager, services metadata.ServiceRepository, secureCookies bool) *AuthHandler {
	return &AuthHandler{manager: manager, services: services, secure: secureCookies}
}

// Routes returns a [chi.Router] configured with the authentication routes.
//
// # Endpoints
//   - GET/POST /login : Starts or continues an authentication flow.
//   - POST /logout    : Terminates the session carried by the request.
//   - GET /status     : Reports whether the request is authenticated.
//   - GET /authApps   : Lists the auth apps available on the service.
func (handler *AuthHandler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Get("/login", handler.login)
	router.Post("/login", handler.login)
	router.Post("/logout", handler.logout)
	router.Get("/status", handler.status)
	router.Get("/authApps", handler.authApps)

	return router
}

// # Endpoint Implementations

// login handles GET/POST /{service}/authentication/login.
func (handler *AuthHandler) login(writer http.ResponseWriter, request *http.Request) {
	service, err := handler.resolveService(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	wrapped := authn.Wrap(request)
	input := authz.AuthorizeInput{
		ServiceID: service.ID,
		AppID:     appIDParam(wrapped),
		Proto:     requestProto(request),
		Host:      request.Host,
		ClientIP:  middleware.RealIP(request),
		Request:   wrapped,
	}
	if name, found := wrapped.Param("app"); found {
		input.AppName = name
	}

	flow, result, err := handler.manager.Authorize(request.Context(), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	// 1. Delegating vendors bounce the user agent to the provider
	if result.RedirectURL != "" {
		handler.setSessionCookie(writer, flow)
		http.Redirect(writer, request, result.RedirectURL, http.StatusFound)
		return
	}

	// 2. A pending challenge continues the flow
	if result.User == nil {
		handler.setSessionCookie(writer, flow)
		respond.OK(writer, result.Challenge)
		return
	}

	// 3. Completed flow: cookie session or bearer token
	if !flow.GenerateToken() {
		handler.setSessionCookie(writer, flow)
	}

	if redirect := flow.CompletionRedirect(); redirect != "" {
		http.Redirect(writer, request, redirect, http.StatusFound)
		return
	}

	payload := map[string]any{
		"authenticated": true,
		"user":          result.User,
	}
	for name, value := range result.Challenge {
		payload[name] = value
	}
	if flow.CompletionClose() {
		payload["onCompletionClose"] = true
	}
	respond.OK(writer, payload)
}

// logout handles POST /{service}/authentication/logout.
func (handler *AuthHandler) logout(writer http.ResponseWriter, request *http.Request) {
	service, err := handler.resolveService(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.manager.Unauthorize(service.ID, request)

	// Expire every gateway session cookie the client presented.
	for _, cookie := range request.Cookies() {
		if len(cookie.Name) > len("session_") && cookie.Name[:len("session_")] == "session_" {
			http.SetCookie(writer, &http.Cookie{
				Name:     cookie.Name,
				Value:    "",
				Path:     "/",
				MaxAge:   -1,
				HttpOnly: true,
				Secure:   handler.secure,
				SameSite: http.SameSiteLaxMode,
			})
		}
	}

	respond.OK(writer, map[string]any{"authenticated": false})
}

// status handles GET /{service}/authentication/status.
func (handler *AuthHandler) status(writer http.ResponseWriter, request *http.Request) {
	service, err := handler.resolveService(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	flow, err := handler.manager.IsAuthorized(request.Context(), service.ID, request)
	if err != nil {
		respond.OK(writer, map[string]any{"authenticated": false})
		return
	}

	respond.OK(writer, map[string]any{
		"authenticated": true,
		"user":          flow.User(),
		"app":           flow.HandlerName(),
	})
}

// authApps handles GET /{service}/authentication/authApps.
func (handler *AuthHandler) authApps(writer http.ResponseWriter, request *http.Request) {
	service, err := handler.resolveService(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	type appView struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		VendorID string `json:"vendor_id"`
	}

	views := make([]appView, 0)
	for _, app := range handler.manager.Apps(service.ID) {
		views = append(views, appView{
			ID:       app.ID.String(),
			Name:     app.Name,
			VendorID: app.VendorID.String(),
		})
	}

	respond.OK(writer, views)
}

// # Helpers

func (handler *AuthHandler) resolveService(request *http.Request) (*metadata.Service, error) {
	path := "/" + chi.URLParam(request, "service")
	if path == "/" {
		return nil, apperr.BadRequest("Service path is required")
	}
	return handler.services.FindByPath(request.Context(), path)
}

func (handler *AuthHandler) setSessionCookie(writer http.ResponseWriter, flow *session.Session) {
	if flow == nil {
		return
	}
	http.SetCookie(writer, &http.Cookie{
		Name:     flow.CookieName(),
		Value:    flow.ID(),
		Path:     "/",
		HttpOnly: true,
		Secure:   handler.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func appIDParam(request *authn.Request) universalid.ID {
	raw, found := request.Param("app_id")
	if !found {
		return universalid.Zero
	}
	id, err := universalid.Parse(raw)
	if err != nil {
		return universalid.Zero
	}
	return id
}

func requestProto(request *http.Request) string {
	if request.TLS != nil {
		return "https"
	}
	if forwarded := request.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		return forwarded
	}
	return "http"
}
