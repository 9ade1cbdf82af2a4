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

package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"

	"github.com/livekit/livekit-session/pkg/rtc/types"
	"github.com/livekit/livekit-session/pkg/telemetry/prometheus"
)

var (
	ErrInvalidInterval = errors.New("sampling interval must be positive")
	ErrSamplerStopped  = errors.New("sampler stopped")
	ErrStatsMissing    = errors.New("no stats reported for track")
)

// SamplingError is a failed stats fetch. It only ever costs one tick.
type SamplingError struct {
	TrackID livekit.TrackID
	Err     error
}

func (e *SamplingError) Error() string {
	return fmt.Sprintf("stats fetch failed for %s: %v", e.TrackID, e.Err)
}

func (e *SamplingError) Unwrap() error {
	return e.Err
}

type StatsSource interface {
	GetStats(ctx context.Context, trackIDs []livekit.TrackID) (map[livekit.TrackID]types.TrackStats, error)
}

// SampleSink receives derived samples from sampling goroutines. It must not
// block and must not call back into the sampler.
type SampleSink interface {
	OnBitrateSample(handle *SamplerHandle, sample types.BitrateSample)
}

type SampleSinkFunc func(handle *SamplerHandle, sample types.BitrateSample)

func (f SampleSinkFunc) OnBitrateSample(handle *SamplerHandle, sample types.BitrateSample) {
	f(handle, sample)
}

// ComputeBitrate derives bits per second between two readings. A counter
// that went backwards yields 0. Readings that are not strictly ordered in
// time yield nothing.
func ComputeBitrate(prev, cur types.TrackStats) (float64, bool) {
	elapsed := cur.Timestamp.Sub(prev.Timestamp)
	if elapsed <= 0 {
		return 0, false
	}
	if cur.BytesTransferred < prev.BytesTransferred {
		return 0, true
	}
	return float64(cur.BytesTransferred-prev.BytesTransferred) * 8 / elapsed.Seconds(), true
}

// ------------------------------------------------

type SamplerHandle struct {
	id       uint64
	trackID  livekit.TrackID
	interval time.Duration

	done     core.Fuse
	emitLock sync.Mutex

	// only touched by the sampling goroutine
	prev    types.TrackStats
	hasPrev bool
}

func (h *SamplerHandle) ID() uint64 {
	return h.id
}

func (h *SamplerHandle) TrackID() livekit.TrackID {
	return h.trackID
}

func (h *SamplerHandle) Interval() time.Duration {
	return h.interval
}

func (h *SamplerHandle) IsStopped() bool {
	return h.done.IsBroken()
}

// advance stores the reading as the new cursor and returns a sample when a
// previous reading existed.
func (h *SamplerHandle) advance(cur types.TrackStats) (types.BitrateSample, bool) {
	prev, hasPrev := h.prev, h.hasPrev
	h.prev, h.hasPrev = cur, true
	if !hasPrev {
		return types.BitrateSample{}, false
	}

	bitrate, ok := ComputeBitrate(prev, cur)
	if !ok {
		return types.BitrateSample{}, false
	}
	return types.BitrateSample{
		TrackID: h.trackID,
		At:      cur.Timestamp,
		Bytes:   cur.BytesTransferred,
		Bitrate: bitrate,
	}, true
}

// ------------------------------------------------

type StatsSamplerParams struct {
	Source StatsSource
	Sink   SampleSink
	// bounds each fetch, defaults to the sampling interval
	FetchTimeout time.Duration
	Logger       logger.Logger
}

type StatsSampler struct {
	params StatsSamplerParams

	nextID atomic.Uint64

	lock    sync.Mutex
	handles map[uint64]*SamplerHandle
	stopped bool
}

func NewStatsSampler(params StatsSamplerParams) *StatsSampler {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	return &StatsSampler{
		params:  params,
		handles: make(map[uint64]*SamplerHandle),
	}
}

func (s *StatsSampler) StartSampling(trackID livekit.TrackID, interval time.Duration) (*SamplerHandle, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}

	h := &SamplerHandle{
		id:       s.nextID.Inc(),
		trackID:  trackID,
		interval: interval,
	}

	s.lock.Lock()
	if s.stopped {
		s.lock.Unlock()
		return nil, ErrSamplerStopped
	}
	s.handles[h.id] = h
	s.lock.Unlock()

	s.params.Logger.Debugw("starting stats sampling", "trackID", trackID, "interval", interval, "handle", h.id)
	go s.samplingWorker(h)
	return h, nil
}

// StopSampling returns once no further sample can reach the sink for this
// handle. Stopping an already stopped handle is a no-op.
func (s *StatsSampler) StopSampling(h *SamplerHandle) {
	if h == nil {
		return
	}

	s.lock.Lock()
	delete(s.handles, h.id)
	s.lock.Unlock()

	if h.done.IsBroken() {
		return
	}
	h.done.Break()

	// wait out a delivery that is already in flight
	h.emitLock.Lock()
	h.emitLock.Unlock()

	s.params.Logger.Debugw("stopped stats sampling", "trackID", h.trackID, "handle", h.id)
}

// StopTrack stops every handle sampling the given track.
func (s *StatsSampler) StopTrack(trackID livekit.TrackID) {
	for _, h := range s.handlesFor(func(h *SamplerHandle) bool { return h.trackID == trackID }) {
		s.StopSampling(h)
	}
}

// Stop stops all handles, new sampling is refused afterwards.
func (s *StatsSampler) Stop() {
	s.lock.Lock()
	s.stopped = true
	s.lock.Unlock()

	for _, h := range s.handlesFor(func(*SamplerHandle) bool { return true }) {
		s.StopSampling(h)
	}
}

func (s *StatsSampler) NumActive() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.handles)
}

func (s *StatsSampler) handlesFor(filter func(h *SamplerHandle) bool) []*SamplerHandle {
	s.lock.Lock()
	defer s.lock.Unlock()

	var handles []*SamplerHandle
	for _, h := range s.handles {
		if filter(h) {
			handles = append(handles, h)
		}
	}
	return handles
}

func (s *StatsSampler) samplingWorker(h *SamplerHandle) {
	tk := time.NewTicker(h.interval)
	defer tk.Stop()

	for {
		select {
		case <-h.done.Watch():
			return

		case <-tk.C:
			if h.done.IsBroken() {
				return
			}
			s.tick(h)
		}
	}
}

func (s *StatsSampler) tick(h *SamplerHandle) {
	cur, err := s.fetch(h)
	if err != nil {
		prometheus.RecordStatsFetchFailure()
		s.params.Logger.Debugw("skipping stats tick", "error", err, "handle", h.id)
		return
	}

	sample, ok := h.advance(cur)
	if !ok {
		return
	}

	h.emitLock.Lock()
	defer h.emitLock.Unlock()

	if h.done.IsBroken() {
		return
	}
	if s.params.Sink != nil {
		s.params.Sink.OnBitrateSample(h, sample)
	}
}

func (s *StatsSampler) fetch(h *SamplerHandle) (types.TrackStats, error) {
	timeout := s.params.FetchTimeout
	if timeout <= 0 {
		timeout = h.interval
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := s.params.Source.GetStats(ctx, []livekit.TrackID{h.trackID})
	if err != nil {
		return types.TrackStats{}, &SamplingError{TrackID: h.trackID, Err: err}
	}
	cur, ok := res[h.trackID]
	if !ok {
		return types.TrackStats{}, &SamplingError{TrackID: h.trackID, Err: ErrStatsMissing}
	}
	return cur, nil
}
