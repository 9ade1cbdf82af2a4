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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

var (
	sessionCurrent     atomic.Int32
	participantCurrent atomic.Int32
	reconnectingCount  atomic.Int32
	disconnectedCount  atomic.Int32

	promSessionCurrent         prometheus.Gauge
	promSessionDuration        prometheus.Histogram
	promParticipantCurrent     prometheus.Gauge
	promReconnectionTransition *prometheus.CounterVec
	promEventsDelivered        *prometheus.CounterVec
)

type SessionStats struct {
	Sessions             int32
	Participants         int32
	Reconnections        int32
	Disconnections       int32
	TracksPublished      int32
	TracksSubscribed     int32
	StatsFetchFailures   int32
	DeliveryHintsSent    int32
	DeliveryHintFailures int32
}

func initSessionStats(constLabels prometheus.Labels) {
	promSessionCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "session",
		Name:        "total",
		ConstLabels: constLabels,
	})
	promSessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "session",
		Name:        "duration_seconds",
		ConstLabels: constLabels,
		Buckets: []float64{
			5, 10, 60, 5 * 60, 10 * 60, 30 * 60, 60 * 60, 2 * 60 * 60, 5 * 60 * 60, 10 * 60 * 60,
		},
	})
	promParticipantCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "participant",
		Name:        "total",
		ConstLabels: constLabels,
	})
	promReconnectionTransition = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "reconnection",
		Name:        "transitions",
		ConstLabels: constLabels,
	}, []string{"subject", "state", "classification"})
	promEventsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "session",
		Name:        "events",
		ConstLabels: constLabels,
	}, []string{"type"})

	prometheus.MustRegister(promSessionCurrent)
	prometheus.MustRegister(promSessionDuration)
	prometheus.MustRegister(promParticipantCurrent)
	prometheus.MustRegister(promReconnectionTransition)
	prometheus.MustRegister(promEventsDelivered)
}

func SessionStarted() {
	sessionCurrent.Inc()
	if isInitialized() {
		promSessionCurrent.Add(1)
	}
}

func SessionEnded(startedAt time.Time) {
	sessionCurrent.Dec()
	if isInitialized() {
		promSessionCurrent.Sub(1)
		if !startedAt.IsZero() {
			promSessionDuration.Observe(float64(time.Since(startedAt)) / float64(time.Second))
		}
	}
}

func AddParticipant() {
	participantCurrent.Inc()
	if isInitialized() {
		promParticipantCurrent.Add(1)
	}
}

func SubParticipant() {
	participantCurrent.Dec()
	if isInitialized() {
		promParticipantCurrent.Sub(1)
	}
}

func RecordReconnectionTransition(subject string, state string, classification string) {
	switch state {
	case "reconnecting":
		reconnectingCount.Inc()
	case "disconnected":
		disconnectedCount.Inc()
	}
	if isInitialized() {
		promReconnectionTransition.WithLabelValues(subject, state, classification).Inc()
	}
}

func RecordEventDelivered(eventType string) {
	if isInitialized() {
		promEventsDelivered.WithLabelValues(eventType).Inc()
	}
}

func GetSessionStats() SessionStats {
	return SessionStats{
		Sessions:             sessionCurrent.Load(),
		Participants:         participantCurrent.Load(),
		Reconnections:        reconnectingCount.Load(),
		Disconnections:       disconnectedCount.Load(),
		TracksPublished:      trackPublishedCurrent.Load(),
		TracksSubscribed:     trackSubscribedCurrent.Load(),
		StatsFetchFailures:   statsFetchFailures.Load(),
		DeliveryHintsSent:    deliveryHintsSent.Load(),
		DeliveryHintFailures: deliveryHintFailures.Load(),
	}
}
