// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package session

import (
	"context"
)

type stateKey struct{}

// WithState attaches the turn state to the context.
func WithState(ctx context.Context, st *State) context.Context {
	if st == nil {
		return ctx
	}
	return context.WithValue(ctx, stateKey{}, st)
}

// FromContext extracts the turn state from the context.
func FromContext(ctx context.Context) (*State, bool) {
	st, ok := ctx.Value(stateKey{}).(*State)
	return st, ok && st != nil
}

// ConversationIDFromContext returns the conversation id of the turn state
// in ctx, or "" when there is none.
func ConversationIDFromContext(ctx context.Context) string {
	if st, ok := FromContext(ctx); ok {
		return st.ConversationID()
	}
	return ""
}
