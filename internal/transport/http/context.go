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

package http

import "context"

type contextKey string

const endUserIDKey contextKey = "end_user_id"

// GetEndUserID retrieves the end user id resolved by SessionMiddleware from
// the session store's end_user_sess_id field. Empty means "not logged in",
// which the engine packages surface as require_login.
func GetEndUserID(ctx context.Context) string {
	if val, ok := ctx.Value(endUserIDKey).(string); ok {
		return val
	}
	return ""
}
