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

package adaptivestream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/gammazero/workerpool"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"

	"github.com/livekit/livekit-session/pkg/rtc/types"
	"github.com/livekit/livekit-session/pkg/telemetry/prometheus"
)

const (
	defaultHintTimeout = 5 * time.Second
)

var (
	ErrTrackNotFound = errors.New("remote track not found")
	ErrNotVideoTrack = errors.New("delivery hints only apply to video tracks")
	ErrClosed        = errors.New("hint controller closed")
)

type HintSender interface {
	SetTrackDeliveryHint(ctx context.Context, trackID livekit.TrackID, hint types.DeliveryHint) error
}

type trackHintState struct {
	visible    bool
	dimensions *types.Dimensions
	debounced  func(func())
	lastSent   *types.DeliveryHint
}

func (s *trackHintState) hint() types.DeliveryHint {
	if !s.visible {
		return types.DeliveryHint{Enabled: false}
	}
	return types.DeliveryHint{Enabled: true, Dimensions: s.dimensions}
}

type BandwidthHintControllerParams struct {
	Sender HintSender
	// resolves subscribed remote tracks
	LookupTrack func(trackID livekit.TrackID) (*types.Track, bool)
	// coalesces dimension changes of a visible track, 0 sends immediately
	DimensionsDebounce time.Duration
	HintTimeout        time.Duration
	Logger             logger.Logger
}

// BandwidthHintController turns render visibility into delivery hints. Hints
// are sent in order on a single worker, callers never wait for them.
type BandwidthHintController struct {
	params BandwidthHintControllerParams

	lock     sync.Mutex
	tracks   map[livekit.TrackID]*trackHintState
	pool     *workerpool.WorkerPool
	isClosed bool
}

func NewBandwidthHintController(params BandwidthHintControllerParams) *BandwidthHintController {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.HintTimeout <= 0 {
		params.HintTimeout = defaultHintTimeout
	}
	return &BandwidthHintController{
		params: params,
		tracks: make(map[livekit.TrackID]*trackHintState),
		pool:   workerpool.New(1),
	}
}

func (b *BandwidthHintController) SetTrackVisibility(trackID livekit.TrackID, visible bool, dimensions *types.Dimensions) error {
	track, ok := b.params.LookupTrack(trackID)
	if !ok {
		return ErrTrackNotFound
	}
	if track.Kind() != types.TrackKindVideo {
		return ErrNotVideoTrack
	}

	b.lock.Lock()
	if b.isClosed {
		b.lock.Unlock()
		return ErrClosed
	}

	st, ok := b.tracks[trackID]
	if !ok {
		st = &trackHintState{}
		if b.params.DimensionsDebounce > 0 {
			st.debounced = debounce.New(b.params.DimensionsDebounce)
		}
		b.tracks[trackID] = st
	}

	dimensionsOnly := ok && st.visible && visible
	st.visible = visible
	if visible && dimensions != nil {
		d := *dimensions
		st.dimensions = &d
	} else if !visible {
		st.dimensions = nil
	}

	if dimensionsOnly && st.debounced != nil {
		debounced := st.debounced
		b.lock.Unlock()
		debounced(func() {
			b.lock.Lock()
			b.sendCurrentLocked(trackID)
			b.lock.Unlock()
		})
		return nil
	}

	b.sendCurrentLocked(trackID)
	b.lock.Unlock()
	return nil
}

// OnSwitchedChanged mirrors the transport's confirmation onto the track.
// Returns true if the track's flag changed.
func (b *BandwidthHintController) OnSwitchedChanged(trackID livekit.TrackID, switchedOff bool) bool {
	track, ok := b.params.LookupTrack(trackID)
	if !ok {
		b.params.Logger.Debugw("switched state for unknown track", "trackID", trackID, "switchedOff", switchedOff)
		return false
	}
	return track.SetSwitchedOff(switchedOff)
}

func (b *BandwidthHintController) RemoveTrack(trackID livekit.TrackID) {
	b.lock.Lock()
	delete(b.tracks, trackID)
	b.lock.Unlock()
}

// Visibility returns the last declared intent for a track.
func (b *BandwidthHintController) Visibility(trackID livekit.TrackID) (bool, *types.Dimensions, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()

	st, ok := b.tracks[trackID]
	if !ok {
		return false, nil, false
	}
	return st.visible, st.dimensions, true
}

func (b *BandwidthHintController) Close() {
	b.lock.Lock()
	if b.isClosed {
		b.lock.Unlock()
		return
	}
	b.isClosed = true
	b.tracks = make(map[livekit.TrackID]*trackHintState)
	b.lock.Unlock()

	b.pool.Stop()
}

func (b *BandwidthHintController) sendCurrentLocked(trackID livekit.TrackID) {
	if b.isClosed {
		return
	}
	st, ok := b.tracks[trackID]
	if !ok {
		return
	}

	hint := st.hint()
	if st.lastSent != nil && hintsEqual(*st.lastSent, hint) {
		return
	}
	sent := &hint
	st.lastSent = sent

	b.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.params.HintTimeout)
		defer cancel()

		err := b.params.Sender.SetTrackDeliveryHint(ctx, trackID, hint)
		prometheus.RecordDeliveryHint(hint.Enabled, err)
		if err != nil {
			b.params.Logger.Warnw("could not send delivery hint", err, "trackID", trackID, "enabled", hint.Enabled)

			// a repeated intent retries a failed hint
			b.lock.Lock()
			if cur, ok := b.tracks[trackID]; ok && cur.lastSent == sent {
				cur.lastSent = nil
			}
			b.lock.Unlock()
			return
		}
		b.params.Logger.Debugw("sent delivery hint", "trackID", trackID, "enabled", hint.Enabled, "dimensions", hint.Dimensions)
	})
}

func hintsEqual(a, b types.DeliveryHint) bool {
	if a.Enabled != b.Enabled {
		return false
	}
	if a.Dimensions == nil || b.Dimensions == nil {
		return a.Dimensions == nil && b.Dimensions == nil
	}
	return *a.Dimensions == *b.Dimensions
}
