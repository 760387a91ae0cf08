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

// Package oidcerr is the single wire-stable error taxonomy shared by the
// OAuth2 (RFC 6749), OIDC and application layers of the authorization engine.
// Every error the engine returns is one of these Kinds; HTTP transport maps
// Kind to status code and (for /oidc/authorize) to redirect-vs-direct
// delivery.
package oidcerr

import "fmt"

// Kind is a wire-stable OAuth2/OIDC error code.
type Kind string

// Spec errors: redirect-eligible at /oidc/authorize once redirect_uri has
// been validated.
const (
	InvalidRequest         Kind = "invalid_request"
	UnauthorizedClient     Kind = "unauthorized_client"
	AccessDenied           Kind = "access_denied"
	UnsupportedResponse    Kind = "unsupported_response_type"
	InvalidScope           Kind = "invalid_scope"
	InvalidClient          Kind = "invalid_client"
	InvalidGrant           Kind = "invalid_grant"
	UnsupportedGrantType   Kind = "unsupported_grant_type"
	ServerError            Kind = "server_error"
	TemporarilyUnavailable Kind = "temporarily_unavailable"
	InvalidToken           Kind = "invalid_token"
)

// Application errors: never redirect, regardless of endpoint.
const (
	RequireLogin    Kind = "require_login"
	EntityNotFound  Kind = "entity_not_found"
	LoginFailed     Kind = "login_failed"
	DuplicatedEntity Kind = "duplicated_entity"
	ConflictDetected Kind = "conflict_detected"
	WrongPassword   Kind = "wrong_password"
	UserinfoError   Kind = "userinfo_error"
)

// Error is the tagged sum type every engine operation returns on failure.
type Error struct {
	Kind        Kind
	Description string
	State       string
	RedirectURI string
	UseFragment bool
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Description, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, description string) *Error {
	return &Error{Kind: kind, Description: description}
}

// Wrap builds an Error of the given kind around an underlying cause.
func Wrap(kind Kind, description string, cause error) *Error {
	return &Error{Kind: kind, Description: description, Cause: cause}
}

// WithState attaches the authorize request's state parameter, carried through
// on redirect-style error responses.
func (e *Error) WithState(state string) *Error {
	e.State = state
	return e
}

// WithRedirectURI attaches a validated redirect_uri the error may be
// delivered to. Only the engine should call this, and only once the
// redirect_uri in question has actually been checked against the client's
// registered set — an Error with no RedirectURI is always reported directly.
func (e *Error) WithRedirectURI(redirectURI string) *Error {
	e.RedirectURI = redirectURI
	return e
}

// WithFragment marks a redirect-eligible error as belonging to a flow whose
// success-path delivery is the URL fragment (implicit/hybrid), so transport
// delivers the error the same way instead of always falling back to the
// query string.
func (e *Error) WithFragment(useFragment bool) *Error {
	e.UseFragment = useFragment
	return e
}

// redirectEligible is the set of Kinds the authorize endpoint may deliver as
// a redirect (after redirect_uri has been validated), per spec §7.
var redirectEligible = map[Kind]bool{
	InvalidRequest:         true,
	UnauthorizedClient:     true,
	AccessDenied:           true,
	UnsupportedResponse:    true,
	InvalidScope:           true,
	InvalidClient:          true,
	InvalidGrant:           true,
	UnsupportedGrantType:   true,
	ServerError:            true,
	TemporarilyUnavailable: true,
	InvalidToken:           true,
}

// RedirectEligible reports whether kind may be delivered as a redirect-style
// response at /oidc/authorize. RequireLogin and the other application errors
// are never redirect-eligible: they are discovered before the redirect_uri
// has been trusted, or they describe a failure mode that is always reported
// directly (e.g. userinfo_error).
func RedirectEligible(kind Kind) bool {
	return redirectEligible[kind]
}

// HTTPStatus maps a Kind to the HTTP status code used for direct (non-redirect)
// responses, per spec §7.
func HTTPStatus(kind Kind) int {
	switch kind {
	case ServerError:
		return 500
	case TemporarilyUnavailable:
		return 503
	case RequireLogin, UnauthorizedClient, InvalidClient, UserinfoError, InvalidToken:
		return 401
	default:
		return 400
	}
}
