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

package pionstats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/livekit"

	"github.com/livekit/livekit-session/pkg/rtc/types"
	"github.com/livekit/livekit-session/pkg/stats"
)

type staticProvider struct {
	report webrtc.StatsReport
}

func (p *staticProvider) GetStats() webrtc.StatsReport {
	return p.report
}

func timestamp(t time.Time) webrtc.StatsTimestamp {
	return webrtc.StatsTimestamp(float64(t.UnixNano()) / float64(time.Millisecond))
}

func TestStatsGetter(t *testing.T) {
	now := time.Now()
	provider := &staticProvider{
		report: webrtc.StatsReport{
			"inbound-audio": webrtc.InboundRTPStreamStats{
				SSRC:          1111,
				BytesReceived: 4000,
				Timestamp:     timestamp(now),
			},
			"inbound-video": &webrtc.InboundRTPStreamStats{
				SSRC:          2222,
				BytesReceived: 90000,
				Timestamp:     timestamp(now),
			},
			"outbound-audio": webrtc.OutboundRTPStreamStats{
				SSRC:      3333,
				BytesSent: 1200,
				Timestamp: timestamp(now),
			},
			"data": webrtc.DataChannelStats{
				Label:         "chat",
				BytesReceived: 10,
				BytesSent:     5,
				Timestamp:     timestamp(now),
			},
			"unbound": webrtc.InboundRTPStreamStats{
				SSRC:          9999,
				BytesReceived: 1,
			},
		},
	}

	g := NewStatsGetter(StatsGetterParams{Provider: provider})
	g.BindSSRC(1111, "TR_audio")
	g.BindSSRC(2222, "TR_video")
	g.BindSSRC(3333, "TR_local")
	g.BindDataChannel("chat", "TR_data")

	res, err := g.GetStats(context.Background(), []livekit.TrackID{"TR_audio", "TR_video", "TR_local", "TR_data", "TR_missing"})
	require.NoError(t, err)
	require.Len(t, res, 4)
	require.Equal(t, uint64(4000), res["TR_audio"].BytesTransferred)
	require.Equal(t, uint64(90000), res["TR_video"].BytesTransferred)
	require.Equal(t, uint64(1200), res["TR_local"].BytesTransferred)
	require.Equal(t, uint64(15), res["TR_data"].BytesTransferred)
	require.WithinDuration(t, now, res["TR_audio"].Timestamp, time.Millisecond)

	// only requested tracks are reported
	res, err = g.GetStats(context.Background(), []livekit.TrackID{"TR_video"})
	require.NoError(t, err)
	require.Len(t, res, 1)

	g.Unbind("TR_video")
	res, err = g.GetStats(context.Background(), []livekit.TrackID{"TR_video"})
	require.NoError(t, err)
	require.Empty(t, res)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.GetStats(ctx, []livekit.TrackID{"TR_audio"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestStatsGetterAsSamplerSource(t *testing.T) {
	start := time.Now()
	provider := &staticProvider{
		report: webrtc.StatsReport{
			"in": webrtc.InboundRTPStreamStats{SSRC: 1, BytesReceived: 1000, Timestamp: timestamp(start)},
		},
	}
	g := NewStatsGetter(StatsGetterParams{Provider: provider})
	g.BindSSRC(1, "TR_1")

	first, err := g.GetStats(context.Background(), []livekit.TrackID{"TR_1"})
	require.NoError(t, err)

	provider.report = webrtc.StatsReport{
		"in": webrtc.InboundRTPStreamStats{SSRC: 1, BytesReceived: 3000, Timestamp: timestamp(start.Add(time.Second))},
	}
	second, err := g.GetStats(context.Background(), []livekit.TrackID{"TR_1"})
	require.NoError(t, err)

	bitrate, ok := stats.ComputeBitrate(first["TR_1"], second["TR_1"])
	require.True(t, ok)
	require.InDelta(t, 16000, bitrate, 1)
}

func TestFromPeerConnectionState(t *testing.T) {
	testCases := []struct {
		state          webrtc.PeerConnectionState
		expected       types.ConnectionState
		classification types.ErrorClassification
		ok             bool
	}{
		{webrtc.PeerConnectionStateNew, types.ConnectionStateConnected, types.ErrorClassificationNone, false},
		{webrtc.PeerConnectionStateConnecting, types.ConnectionStateConnected, types.ErrorClassificationNone, false},
		{webrtc.PeerConnectionStateConnected, types.ConnectionStateConnected, types.ErrorClassificationNone, true},
		{webrtc.PeerConnectionStateDisconnected, types.ConnectionStateReconnecting, types.ErrorClassificationMediaReconnecting, true},
		{webrtc.PeerConnectionStateFailed, types.ConnectionStateDisconnected, types.ErrorClassificationUnknown, true},
		{webrtc.PeerConnectionStateClosed, types.ConnectionStateDisconnected, types.ErrorClassificationNone, true},
	}
	for _, tc := range testCases {
		t.Run(tc.state.String(), func(t *testing.T) {
			state, classification, ok := FromPeerConnectionState(tc.state)
			require.Equal(t, tc.ok, ok)
			if ok {
				require.Equal(t, tc.expected, state)
				require.Equal(t, tc.classification, classification)
			}
		})
	}
}

func TestFromICEConnectionState(t *testing.T) {
	_, _, ok := FromICEConnectionState(webrtc.ICEConnectionStateChecking)
	require.False(t, ok)

	state, _, ok := FromICEConnectionState(webrtc.ICEConnectionStateCompleted)
	require.True(t, ok)
	require.Equal(t, types.ConnectionStateConnected, state)

	state, classification, ok := FromICEConnectionState(webrtc.ICEConnectionStateDisconnected)
	require.True(t, ok)
	require.Equal(t, types.ConnectionStateReconnecting, state)
	require.Equal(t, types.ErrorClassificationMediaReconnecting, classification)
}

type fakeNotifier struct {
	handler func(webrtc.PeerConnectionState)
}

func (f *fakeNotifier) OnConnectionStateChange(handler func(webrtc.PeerConnectionState)) {
	f.handler = handler
}

type sinkRecorder struct {
	lock   sync.Mutex
	events []types.TransportEvent
}

func (s *sinkRecorder) HandleTransportEvent(event types.TransportEvent) {
	s.lock.Lock()
	s.events = append(s.events, event)
	s.lock.Unlock()
}

func TestWatchConnectionState(t *testing.T) {
	pc := &fakeNotifier{}
	sink := &sinkRecorder{}
	WatchConnectionState(pc, types.ParticipantSubject("PA_1"), sink)

	pc.handler(webrtc.PeerConnectionStateConnecting)
	pc.handler(webrtc.PeerConnectionStateDisconnected)
	pc.handler(webrtc.PeerConnectionStateConnected)

	require.Equal(t, []types.TransportEvent{
		types.ConnectionStateChanged{
			Subject:        types.ParticipantSubject("PA_1"),
			State:          types.ConnectionStateReconnecting,
			Classification: types.ErrorClassificationMediaReconnecting,
		},
		types.ConnectionStateChanged{
			Subject: types.ParticipantSubject("PA_1"),
			State:   types.ConnectionStateConnected,
		},
	}, sink.events)
}
