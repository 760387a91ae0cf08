// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// @title OpenTrusty OIDC Provider API
// @version 1.0.0
// @description OpenID Connect 1.0 Provider implementing OAuth 2.0 authorization (RFC 6749) and token introspection (RFC 7662)

// @contact.name API Support
// @contact.url http://www.swagger.io/support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// Package http maps the six OIDC/OAuth2 wire endpoints of spec §6 onto the
// internal/engine services: request parsing, auth-scheme enforcement
// (Bearer session id, Basic client credentials, Bearer access token) and
// error-shape translation (redirect vs. direct, per internal/oidcerr).
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opentrusty/opentrusty/internal/audit"
	"github.com/opentrusty/opentrusty/internal/engine"
	"github.com/opentrusty/opentrusty/internal/id"
	"github.com/opentrusty/opentrusty/internal/identity"
	"github.com/opentrusty/opentrusty/internal/observability/logger"
	"github.com/opentrusty/opentrusty/internal/oidc"
	"github.com/opentrusty/opentrusty/internal/oidcerr"
	"github.com/opentrusty/opentrusty/internal/session"
)

// Handler holds the engine services and ambient dependencies the six
// endpoints are built from.
type Handler struct {
	authorize   *engine.AuthorizeService
	tokens      *engine.Dispatcher
	introspect  *engine.IntrospectService
	userinfo    *engine.UserinfoService
	keys        *oidc.KeyService
	identity    *identity.Service
	sessions    session.Store
	auditLogger audit.Logger
	sessionTTL  time.Duration
}

// NewHandler constructs a Handler wired to the full engine service graph.
func NewHandler(
	authorize *engine.AuthorizeService,
	tokens *engine.Dispatcher,
	introspect *engine.IntrospectService,
	userinfo *engine.UserinfoService,
	keys *oidc.KeyService,
	identitySvc *identity.Service,
	sessions session.Store,
	auditLogger audit.Logger,
	sessionTTL time.Duration,
) *Handler {
	return &Handler{
		authorize: authorize, tokens: tokens, introspect: introspect, userinfo: userinfo,
		keys: keys, identity: identitySvc, sessions: sessions, auditLogger: auditLogger,
		sessionTTL: sessionTTL,
	}
}

// NewRouter creates the chi router for the authorization server.
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(h.SessionMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/oidc", func(r chi.Router) {
		r.Get("/authorize", h.Authorize)
		r.Post("/accept", h.Accept)
		r.Post("/tokens", h.Tokens)
		r.Post("/introspect", h.Introspect)
		r.Get("/userinfo", h.Userinfo)
		r.Get("/publickey", h.PublicKey)
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
	})

	return r
}

// HealthCheck reports liveness.
//
// @Summary Health Check
// @Description Reports service liveness
// @Tags System
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "opentrusty",
	})
}

// Authorize implements GET /oidc/authorize (spec §6, §4.1 authorize).
//
// @Summary Authorization endpoint
// @Description Starts an authorization_code, implicit, or hybrid flow. Requires an authenticated end-user session.
// @Tags OIDC
// @Param client_id query string true "Client ID"
// @Param response_type query string true "Space-delimited response type, e.g. code, token, id_token"
// @Param redirect_uri query string true "Registered redirect URI"
// @Param scope query string false "Requested scope"
// @Param state query string false "Opaque client state"
// @Param nonce query string false "Nonce bound into the id_token"
// @Success 200 {object} map[string]any "Consent required: grant_id and scope"
// @Success 302 "Consent already granted: redirect to redirect_uri"
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /oidc/authorize [get]
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cmd := engine.AuthorizeCommand{
		EndUserID:    GetEndUserID(r.Context()),
		ClientID:     q.Get("client_id"),
		ResponseType: q.Get("response_type"),
		RedirectURI:  q.Get("redirect_uri"),
		Scope:        q.Get("scope"),
		State:        q.Get("state"),
		Nonce:        q.Get("nonce"),
	}

	result, err := h.authorize.Authorize(r.Context(), cmd)
	if err != nil {
		h.writeAuthorizeError(w, r, err)
		return
	}

	if result.RequireAcceptance != nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"grant_id": result.RequireAcceptance.GrantID,
			"scope":    result.RequireAcceptance.Scope,
		})
		return
	}

	h.writeAuthorizeResponse(w, result.Response)
}

// AcceptRequest is the JSON body of POST /oidc/accept.
type AcceptRequest struct {
	Action  string `json:"action"`
	GrantID string `json:"grant_id"`
}

// Accept implements POST /oidc/accept (spec §6, §4.1 accept_client).
//
// @Summary Accept or deny a pending grant
// @Description Records the end-user's consent decision for a grant created by /oidc/authorize
// @Tags OIDC
// @Param request body AcceptRequest true "accept or deny, plus grant_id"
// @Success 302 "Redirect back to the client with code/token or error"
// @Failure 400 {object} map[string]string
// @Router /oidc/accept [post]
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	var req AcceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, oidcerr.InvalidRequest, "invalid request body")
		return
	}

	cmd := engine.AcceptClientCommand{
		EndUserID: GetEndUserID(r.Context()),
		Action:    req.Action,
		GrantID:   req.GrantID,
	}

	resp, err := h.authorize.AcceptClient(r.Context(), cmd)
	if err != nil {
		h.writeAuthorizeError(w, r, err)
		return
	}

	h.writeAuthorizeResponse(w, resp)
}

// Tokens implements POST /oidc/tokens (spec §6, §4.2-§4.4).
//
// @Summary Token endpoint
// @Description Exchanges a grant (authorization_code, refresh_token, client_credentials, or password) for tokens
// @Tags OIDC
// @Accept x-www-form-urlencoded
// @Param grant_type formData string true "authorization_code, refresh_token, client_credentials, or password"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /oidc/tokens [post]
func (h *Handler) Tokens(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, oidcerr.InvalidRequest, "malformed form body")
		return
	}

	clientID, clientSecret := clientCredentials(r)
	cmd := engine.TokensCommand{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		Username:     r.PostForm.Get("username"),
		Password:     r.PostForm.Get("password"),
		Scope:        r.PostForm.Get("scope"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}

	result, err := h.tokens.Dispatch(r.Context(), cmd)
	if err != nil {
		h.writeDirectError(w, err)
		return
	}

	body := map[string]any{
		"access_token": result.AccessToken,
		"token_type":   result.TokenType,
		"expires_in":   result.ExpiresIn,
	}
	setIfNonEmpty(body, "refresh_token", result.RefreshToken)
	setIfNonEmpty(body, "id_token", result.IDToken)
	respondJSON(w, http.StatusOK, body)
}

// Introspect implements POST /oidc/introspect (spec §6, §4.5, RFC 7662).
//
// @Summary Token introspection endpoint
// @Description Reports whether an access token is active and, if so, its metadata (RFC 7662)
// @Tags OIDC
// @Accept x-www-form-urlencoded
// @Param token formData string true "Access token to introspect"
// @Success 200 {object} map[string]any
// @Failure 401 {object} map[string]string
// @Router /oidc/introspect [post]
func (h *Handler) Introspect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, oidcerr.InvalidRequest, "malformed form body")
		return
	}
	clientID, clientSecret := clientCredentials(r)

	result, err := h.introspect.Introspect(r.Context(), clientID, clientSecret, r.PostForm.Get("token"))
	if err != nil {
		h.writeDirectError(w, err)
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{Type: audit.TypeIntrospected, Resource: clientID})

	if !result.Active {
		respondJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	body := map[string]any{
		"active":     true,
		"scope":      result.Scope,
		"client_id":  result.ClientID,
		"token_type": result.TokenType,
		"exp":        result.Exp,
		"iat":        result.Iat,
		"aud":        result.Aud,
		"iss":        result.Iss,
	}
	setIfNonEmpty(body, "username", result.Username)
	setIfNonEmpty(body, "sub", result.Sub)
	respondJSON(w, http.StatusOK, body)
}

// Userinfo implements GET /oidc/userinfo (spec §6, §4.6).
//
// @Summary Userinfo endpoint
// @Description Returns the authenticated end-user's profile claims; they are not filtered by the access token's scope
// @Tags OIDC
// @Security BearerAuth
// @Success 200 {object} map[string]any
// @Failure 401 {object} map[string]string
// @Router /oidc/userinfo [get]
func (h *Handler) Userinfo(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	claims, err := h.userinfo.Userinfo(r.Context(), token)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		h.writeDirectError(w, err)
		return
	}

	body := map[string]any{
		"sub":                   claims.Sub,
		"iss":                   claims.Iss,
		"aud":                   claims.Aud,
		"auth_time":             claims.AuthTime,
		"name":                  claims.Name,
		"email":                 claims.Email,
		"email_verified":        claims.EmailVerified,
		"phone_number_verified": claims.PhoneNumberVerified,
	}
	setIfNonEmpty(body, "phone_number", claims.PhoneNumber)
	setIfNonEmpty(body, "given_name", claims.GivenName)
	setIfNonEmpty(body, "family_name", claims.FamilyName)
	setIfNonEmpty(body, "middle_name", claims.MiddleName)
	setIfNonEmpty(body, "nickname", claims.Nickname)
	setIfNonEmpty(body, "profile", claims.Profile)
	setIfNonEmpty(body, "picture", claims.Picture)
	setIfNonEmpty(body, "website", claims.Website)
	setIfNonEmpty(body, "gender", claims.Gender)
	setIfNonEmpty(body, "birthdate", claims.Birthdate)
	setIfNonEmpty(body, "zoneinfo", claims.Zoneinfo)
	setIfNonEmpty(body, "locale", claims.Locale)
	respondJSON(w, http.StatusOK, body)
}

// PublicKey implements GET /oidc/publickey: the PEM-encoded RSA public key
// ID tokens are signed against (spec §6).
//
// @Summary Signing public key
// @Description Returns the PEM-encoded RSA public key used to verify id_token signatures
// @Tags OIDC
// @Produce application/x-pem-file
// @Success 200 {string} string "PEM-encoded public key"
// @Router /oidc/publickey [get]
func (h *Handler) PublicKey(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.WriteHeader(http.StatusOK)
	w.Write(h.keys.PublicKeyPEM())
}

// RegisterRequest is the JSON body of POST /auth/register.
type RegisterRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

// Register provisions a new EndUser identity with credentials. Not part of
// the core protocol surface (spec §1 non-goal: CRUD services are external
// collaborators), but something must create the EndUsers the protocol
// operates over.
// @Summary Register a new end user
// @Tags Auth
// @Param request body RegisterRequest true "Registration data"
// @Success 201 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /auth/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, oidcerr.InvalidRequest, "invalid request body")
		return
	}

	profile := identity.Profile{GivenName: req.GivenName, FamilyName: req.FamilyName}
	user, err := h.identity.ProvisionIdentity(r.Context(), req.Name, req.Email, profile)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to provision end user", logger.Error(err), logger.Email(req.Email))
		switch err {
		case identity.ErrUserAlreadyExists:
			respondError(w, http.StatusConflict, oidcerr.DuplicatedEntity, "user already exists")
		case identity.ErrInvalidEmail:
			respondError(w, http.StatusBadRequest, oidcerr.InvalidRequest, "invalid email address")
		default:
			respondError(w, http.StatusInternalServerError, oidcerr.ServerError, "failed to create user")
		}
		return
	}

	if err := h.identity.AddPassword(r.Context(), user.ID, req.Password); err != nil {
		respondError(w, http.StatusBadRequest, oidcerr.InvalidRequest, "failed to set password: "+err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"user_id": user.ID, "email": user.Email})
}

// LoginRequest is the JSON body of POST /auth/login.
type LoginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Login authenticates an EndUser and writes their session id into the
// session store's end_user_sess_id field, the credential /oidc/authorize
// and /oidc/accept read back via Bearer auth.
// @Summary Login
// @Tags Auth
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} map[string]any
// @Failure 401 {object} map[string]string
// @Router /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, oidcerr.InvalidRequest, "invalid request body")
		return
	}

	user, err := h.identity.Authenticate(r.Context(), req.Name, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, oidcerr.LoginFailed, "invalid credentials")
		return
	}

	sessionID := newSessionID()
	if err := h.sessions.Set(r.Context(), sessionID, session.RoleEndUser, user.ID, h.sessionTTL); err != nil {
		respondError(w, http.StatusInternalServerError, oidcerr.ServerError, "failed to create session")
		return
	}
	h.auditLogger.Log(r.Context(), audit.Event{
		Type:     audit.TypeLoginSuccess,
		ActorID:  user.ID,
		Resource: audit.ResourceSession,
		Metadata: map[string]any{audit.AttrSessionID: sessionID},
	})

	respondJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "user_id": user.ID})
}

// Logout deletes the caller's session.
//
// @Summary Logout
// @Tags Auth
// @Security BearerAuth
// @Success 200 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := bearerToken(r)
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, oidcerr.RequireLogin, "not authenticated")
		return
	}
	h.sessions.Delete(r.Context(), sessionID)
	h.auditLogger.Log(r.Context(), audit.Event{
		Type:     audit.TypeLogout,
		ActorID:  GetEndUserID(r.Context()),
		Resource: audit.ResourceSession,
		Metadata: map[string]any{audit.AttrSessionID: sessionID},
	})
	respondJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// writeAuthorizeResponse renders a successful AuthorizeResponse per spec §6's
// bitmask-to-delivery table: query string for the pure authorization-code
// case, URL fragment whenever token or id_token is present.
func (h *Handler) writeAuthorizeResponse(w http.ResponseWriter, resp *engine.AuthorizeResponse) {
	params := url.Values{}
	if resp.Code != "" {
		params.Set("code", resp.Code)
	}
	if resp.AccessToken != "" {
		params.Set("access_token", resp.AccessToken)
		params.Set("token_type", resp.TokenType)
		params.Set("expires_in", itoa(resp.ExpiresIn))
	}
	if resp.IDToken != "" {
		params.Set("id_token", resp.IDToken)
	}
	if resp.State != "" {
		params.Set("state", resp.State)
	}

	redirectTo(w, resp.RedirectURI, resp.Delivery, params)
}

// writeAuthorizeError renders an authorize/accept failure: redirect-style if
// the error is redirect-eligible and carries a redirect_uri the engine has
// already validated (oidcerr.Error.RedirectURI), direct otherwise (spec §7
// propagation policy). The delivery shape (query vs. fragment) mirrors the
// success-path delivery of the flow that produced the error.
func (h *Handler) writeAuthorizeError(w http.ResponseWriter, r *http.Request, err error) {
	oerr, ok := err.(*oidcerr.Error)
	if !ok {
		respondError(w, http.StatusInternalServerError, oidcerr.ServerError, err.Error())
		return
	}

	if oerr.RedirectURI != "" && oidcerr.RedirectEligible(oerr.Kind) {
		params := url.Values{"error": {string(oerr.Kind)}}
		if oerr.Description != "" {
			params.Set("error_description", oerr.Description)
		}
		if oerr.State != "" {
			params.Set("state", oerr.State)
		}
		delivery := engine.DeliveryQuery
		if oerr.UseFragment {
			delivery = engine.DeliveryFragment
		}
		redirectTo(w, oerr.RedirectURI, delivery, params)
		return
	}

	h.writeDirectError(w, err)
}

// writeDirectError renders a direct (non-redirect) error payload per spec §7.
func (h *Handler) writeDirectError(w http.ResponseWriter, err error) {
	oerr, ok := err.(*oidcerr.Error)
	if !ok {
		respondError(w, http.StatusInternalServerError, oidcerr.ServerError, err.Error())
		return
	}
	respondJSON(w, oidcerr.HTTPStatus(oerr.Kind), map[string]string{
		"error":             string(oerr.Kind),
		"error_description": oerr.Description,
		"state":             oerr.State,
	})
}

func redirectTo(w http.ResponseWriter, redirectURI string, delivery engine.Delivery, params url.Values) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		respondError(w, http.StatusInternalServerError, oidcerr.ServerError, "invalid redirect_uri")
		return
	}
	if delivery == engine.DeliveryFragment {
		u.Fragment = params.Encode()
	} else {
		q := u.Query()
		for k, v := range params {
			q[k] = v
		}
		u.RawQuery = q.Encode()
	}
	w.Header().Set("Location", u.String())
	w.WriteHeader(http.StatusFound)
}

func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, kind oidcerr.Kind, description string) {
	respondJSON(w, status, map[string]string{
		"error":             string(kind),
		"error_description": description,
	})
}

// setIfNonEmpty sets key in body only when value is non-empty, so optional
// spec fields are absent from the response rather than serialized as "".
func setIfNonEmpty(body map[string]any, key, value string) {
	if value != "" {
		body[key] = value
	}
}

func itoa(n int) string { return strconv.Itoa(n) }

func newSessionID() string { return id.NewOpaqueToken(32) }
