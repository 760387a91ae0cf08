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

package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testResource() *Resource {
	return &Resource{
		ID: "res-1",
		Scopes: []Scope{
			{Name: "openid"},
			{Name: "profile"},
			{Name: "email"},
		},
	}
}

func TestResource_FilterScope(t *testing.T) {
	r := testResource()

	assert.Equal(t, []string{"openid", "profile"}, r.FilterScope("openid profile"))
	assert.Equal(t, []string{"profile"}, r.FilterScope("unknown profile also-unknown"))
	assert.Nil(t, r.FilterScope(""))
	assert.Nil(t, r.FilterScope("unknown"))
}

func TestResource_FilterScope_PreservesRequestOrder(t *testing.T) {
	r := testResource()
	assert.Equal(t, []string{"email", "openid"}, r.FilterScope("email openid"))
}

func TestResource_HasScope(t *testing.T) {
	r := testResource()

	assert.True(t, r.HasScope("openid"))
	assert.False(t, r.HasScope("admin"))
}

func TestResource_IsDeleted(t *testing.T) {
	r := testResource()
	assert.False(t, r.IsDeleted())
}
