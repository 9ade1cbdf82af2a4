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

// Package pionstats adapts pion peer connections to session inputs: byte
// counters for bitrate sampling and connectivity signals for supervision.
package pionstats

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"

	"github.com/livekit/livekit-session/pkg/rtc/types"
)

// StatsProvider is satisfied by *webrtc.PeerConnection.
type StatsProvider interface {
	GetStats() webrtc.StatsReport
}

type StatsGetterParams struct {
	Provider StatsProvider
	Logger   logger.Logger
}

// StatsGetter answers stats queries from a peer connection's report. RTP
// streams are matched by SSRC and data channels by label.
type StatsGetter struct {
	params StatsGetterParams

	lock         sync.RWMutex
	ssrcs        map[webrtc.SSRC]livekit.TrackID
	dataChannels map[string]livekit.TrackID
}

func NewStatsGetter(params StatsGetterParams) *StatsGetter {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	return &StatsGetter{
		params:       params,
		ssrcs:        make(map[webrtc.SSRC]livekit.TrackID),
		dataChannels: make(map[string]livekit.TrackID),
	}
}

func (g *StatsGetter) BindSSRC(ssrc webrtc.SSRC, trackID livekit.TrackID) {
	g.lock.Lock()
	g.ssrcs[ssrc] = trackID
	g.lock.Unlock()
}

func (g *StatsGetter) BindDataChannel(label string, trackID livekit.TrackID) {
	g.lock.Lock()
	g.dataChannels[label] = trackID
	g.lock.Unlock()
}

// Unbind drops every binding of the track.
func (g *StatsGetter) Unbind(trackID livekit.TrackID) {
	g.lock.Lock()
	defer g.lock.Unlock()

	for ssrc, bound := range g.ssrcs {
		if bound == trackID {
			delete(g.ssrcs, ssrc)
		}
	}
	for label, bound := range g.dataChannels {
		if bound == trackID {
			delete(g.dataChannels, label)
		}
	}
}

// GetStats collects cumulative bytes for the requested tracks. Tracks with
// nothing in the report are left out of the result.
func (g *StatsGetter) GetStats(ctx context.Context, trackIDs []livekit.TrackID) (map[livekit.TrackID]types.TrackStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wanted := make(map[livekit.TrackID]bool, len(trackIDs))
	for _, trackID := range trackIDs {
		wanted[trackID] = true
	}

	report := g.params.Provider.GetStats()

	g.lock.RLock()
	defer g.lock.RUnlock()

	res := make(map[livekit.TrackID]types.TrackStats, len(trackIDs))
	add := func(trackID livekit.TrackID, bytes uint64, ts webrtc.StatsTimestamp) {
		if !wanted[trackID] {
			return
		}
		at := toTime(ts)
		cur := res[trackID]
		cur.BytesTransferred += bytes
		if at.After(cur.Timestamp) {
			cur.Timestamp = at
		}
		res[trackID] = cur
	}

	for _, s := range report {
		switch st := s.(type) {
		case webrtc.InboundRTPStreamStats:
			if trackID, ok := g.ssrcs[st.SSRC]; ok {
				add(trackID, st.BytesReceived, st.Timestamp)
			}
		case *webrtc.InboundRTPStreamStats:
			if trackID, ok := g.ssrcs[st.SSRC]; ok {
				add(trackID, st.BytesReceived, st.Timestamp)
			}
		case webrtc.OutboundRTPStreamStats:
			if trackID, ok := g.ssrcs[st.SSRC]; ok {
				add(trackID, st.BytesSent, st.Timestamp)
			}
		case *webrtc.OutboundRTPStreamStats:
			if trackID, ok := g.ssrcs[st.SSRC]; ok {
				add(trackID, st.BytesSent, st.Timestamp)
			}
		case webrtc.DataChannelStats:
			if trackID, ok := g.dataChannels[st.Label]; ok {
				add(trackID, st.BytesReceived+st.BytesSent, st.Timestamp)
			}
		case *webrtc.DataChannelStats:
			if trackID, ok := g.dataChannels[st.Label]; ok {
				add(trackID, st.BytesReceived+st.BytesSent, st.Timestamp)
			}
		}
	}
	return res, nil
}

func toTime(ts webrtc.StatsTimestamp) time.Time {
	if ts == 0 {
		return time.Now()
	}
	return ts.Time()
}
