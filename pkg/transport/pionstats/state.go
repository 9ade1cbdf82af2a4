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
	"github.com/pion/webrtc/v4"

	"github.com/livekit/livekit-session/pkg/rtc/types"
)

// FromPeerConnectionState maps a peer connection state to a connectivity
// signal. Returns false for states that carry no signal.
func FromPeerConnectionState(state webrtc.PeerConnectionState) (types.ConnectionState, types.ErrorClassification, bool) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		return types.ConnectionStateConnected, types.ErrorClassificationNone, true
	case webrtc.PeerConnectionStateDisconnected:
		return types.ConnectionStateReconnecting, types.ErrorClassificationMediaReconnecting, true
	case webrtc.PeerConnectionStateFailed:
		return types.ConnectionStateDisconnected, types.ErrorClassificationUnknown, true
	case webrtc.PeerConnectionStateClosed:
		return types.ConnectionStateDisconnected, types.ErrorClassificationNone, true
	default:
		return types.ConnectionStateConnected, types.ErrorClassificationNone, false
	}
}

func FromICEConnectionState(state webrtc.ICEConnectionState) (types.ConnectionState, types.ErrorClassification, bool) {
	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return types.ConnectionStateConnected, types.ErrorClassificationNone, true
	case webrtc.ICEConnectionStateDisconnected:
		return types.ConnectionStateReconnecting, types.ErrorClassificationMediaReconnecting, true
	case webrtc.ICEConnectionStateFailed:
		return types.ConnectionStateDisconnected, types.ErrorClassificationUnknown, true
	case webrtc.ICEConnectionStateClosed:
		return types.ConnectionStateDisconnected, types.ErrorClassificationNone, true
	default:
		return types.ConnectionStateConnected, types.ErrorClassificationNone, false
	}
}

// StateNotifier is satisfied by *webrtc.PeerConnection.
type StateNotifier interface {
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
}

// WatchConnectionState forwards a peer connection's state changes to the
// sink as signals for the subject.
func WatchConnectionState(pc StateNotifier, subject types.Subject, sink types.TransportEventSink) {
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		to, classification, ok := FromPeerConnectionState(state)
		if !ok {
			return
		}
		sink.HandleTransportEvent(types.ConnectionStateChanged{
			Subject:        subject,
			State:          to,
			Classification: classification,
		})
	})
}
