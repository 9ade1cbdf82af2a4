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

package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const (
	livekitNamespace string = "livekit"
)

var (
	initOnce    sync.Once
	initialized atomic.Bool
)

// Init creates and registers the collectors. Until it is called, only the
// in-process counters read by GetSessionStats are maintained.
func Init(clientName string) {
	initOnce.Do(func() {
		constLabels := prometheus.Labels{"client": clientName}
		initSessionStats(constLabels)
		initTrackStats(constLabels)

		initialized.Store(true)
	})
}

func isInitialized() bool {
	return initialized.Load()
}
