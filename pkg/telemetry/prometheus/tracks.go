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
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

var (
	trackPublishedCurrent  atomic.Int32
	trackSubscribedCurrent atomic.Int32
	statsFetchFailures     atomic.Int32
	deliveryHintsSent      atomic.Int32
	deliveryHintFailures   atomic.Int32

	promTrackPublishedCurrent  *prometheus.GaugeVec
	promTrackSubscribedCurrent *prometheus.GaugeVec
	promTrackPublishCounter    *prometheus.CounterVec
	promStatsFetchFailures     prometheus.Counter
	promBitrate                *prometheus.HistogramVec
	promDeliveryHints          *prometheus.CounterVec
)

func initTrackStats(constLabels prometheus.Labels) {
	promTrackPublishedCurrent = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "track",
		Name:        "published_total",
		ConstLabels: constLabels,
	}, []string{"kind", "local"})
	promTrackSubscribedCurrent = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "track",
		Name:        "subscribed_total",
		ConstLabels: constLabels,
	}, []string{"kind"})
	promTrackPublishCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "track",
		Name:        "publish_counter",
		ConstLabels: constLabels,
	}, []string{"kind", "state"})
	promStatsFetchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "stats",
		Name:        "fetch_failures",
		ConstLabels: constLabels,
	})
	promBitrate = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "track",
		Name:        "bitrate_bps",
		ConstLabels: constLabels,
		Buckets:     prometheus.ExponentialBucketsRange(8_000, 8_000_000, 12),
	}, []string{"kind"})
	promDeliveryHints = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "track",
		Name:        "delivery_hints",
		ConstLabels: constLabels,
	}, []string{"enabled", "status"})

	prometheus.MustRegister(promTrackPublishedCurrent)
	prometheus.MustRegister(promTrackSubscribedCurrent)
	prometheus.MustRegister(promTrackPublishCounter)
	prometheus.MustRegister(promStatsFetchFailures)
	prometheus.MustRegister(promBitrate)
	prometheus.MustRegister(promDeliveryHints)
}

func AddPublishedTrack(kind string, isLocal bool) {
	trackPublishedCurrent.Inc()
	if isInitialized() {
		promTrackPublishedCurrent.WithLabelValues(kind, boolLabel(isLocal)).Add(1)
	}
}

func SubPublishedTrack(kind string, isLocal bool) {
	trackPublishedCurrent.Dec()
	if isInitialized() {
		promTrackPublishedCurrent.WithLabelValues(kind, boolLabel(isLocal)).Sub(1)
	}
}

func AddSubscribedTrack(kind string) {
	trackSubscribedCurrent.Inc()
	if isInitialized() {
		promTrackSubscribedCurrent.WithLabelValues(kind).Add(1)
	}
}

func SubSubscribedTrack(kind string) {
	trackSubscribedCurrent.Dec()
	if isInitialized() {
		promTrackSubscribedCurrent.WithLabelValues(kind).Sub(1)
	}
}

// RecordPublishAttempt state is "published" or the failure kind.
func RecordPublishAttempt(kind string, state string) {
	if isInitialized() {
		promTrackPublishCounter.WithLabelValues(kind, state).Inc()
	}
}

func RecordStatsFetchFailure() {
	statsFetchFailures.Inc()
	if isInitialized() {
		promStatsFetchFailures.Inc()
	}
}

func RecordBitrate(kind string, bps float64) {
	if isInitialized() {
		promBitrate.WithLabelValues(kind).Observe(bps)
	}
}

func RecordDeliveryHint(enabled bool, err error) {
	status := "sent"
	if err != nil {
		status = "failed"
		deliveryHintFailures.Inc()
	} else {
		deliveryHintsSent.Inc()
	}
	if isInitialized() {
		promDeliveryHints.WithLabelValues(boolLabel(enabled), status).Inc()
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
