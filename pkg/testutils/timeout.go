// Copyright 2023 LiveKit, Inc.
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

package testutils

import (
	"context"
	"testing"
	"time"
)

var (
	ConditionTimeout = 5 * time.Second
	pollInterval     = 10 * time.Millisecond
)

// WithTimeout polls f until it returns an empty string, failing the test with
// the last reported reason once ConditionTimeout passes.
func WithTimeout(t *testing.T, f func() string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), ConditionTimeout)
	defer cancel()

	lastErr := ""
	for {
		select {
		case <-ctx.Done():
			t.Fatalf("did not reach expected state after %v: %s", ConditionTimeout, lastErr)
			return
		case <-time.After(pollInterval):
			lastErr = f()
			if lastErr == "" {
				return
			}
		}
	}
}

// Never checks that f keeps returning an empty string for the given duration.
func Never(t *testing.T, d time.Duration, f func() string) {
	t.Helper()

	deadline := time.After(d)
	for {
		select {
		case <-deadline:
			return
		case <-time.After(pollInterval):
			if reason := f(); reason != "" {
				t.Fatalf("unexpected state: %s", reason)
				return
			}
		}
	}
}
