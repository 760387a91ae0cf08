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

package oidcerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedirectEligible(t *testing.T) {
	tests := []struct {
		kind     Kind
		eligible bool
	}{
		{InvalidRequest, true},
		{UnauthorizedClient, true},
		{AccessDenied, true},
		{InvalidScope, true},
		{ServerError, true},
		{InvalidToken, true},
		{RequireLogin, false},
		{EntityNotFound, false},
		{LoginFailed, false},
		{UserinfoError, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.eligible, RedirectEligible(tt.kind))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{ServerError, 500},
		{TemporarilyUnavailable, 503},
		{RequireLogin, 401},
		{UnauthorizedClient, 401},
		{InvalidClient, 401},
		{UserinfoError, 401},
		{InvalidToken, 401},
		{InvalidRequest, 400},
		{InvalidGrant, 400},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.kind))
		})
	}
}

func TestError_WrapAndUnwrap(t *testing.T) {
	cause := errors.New("db unavailable")
	err := Wrap(ServerError, "failed to persist grant", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "server_error")
	assert.Contains(t, err.Error(), "db unavailable")
}

func TestError_WithState(t *testing.T) {
	err := New(InvalidScope, "unknown scope").WithState("xyz")
	assert.Equal(t, "xyz", err.State)
}
