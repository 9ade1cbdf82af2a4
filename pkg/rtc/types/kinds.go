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

package types

import (
	"fmt"

	"github.com/livekit/protocol/livekit"
)

type TrackKind int

const (
	TrackKindAudio TrackKind = iota
	TrackKindVideo
	TrackKindData
)

func (k TrackKind) String() string {
	switch k {
	case TrackKindAudio:
		return "audio"
	case TrackKindVideo:
		return "video"
	case TrackKindData:
		return "data"
	default:
		return fmt.Sprintf("%d", int(k))
	}
}

func (k TrackKind) ToProto() livekit.TrackType {
	switch k {
	case TrackKindVideo:
		return livekit.TrackType_VIDEO
	case TrackKindData:
		return livekit.TrackType_DATA
	default:
		return livekit.TrackType_AUDIO
	}
}

func TrackKindFromProto(t livekit.TrackType) TrackKind {
	switch t {
	case livekit.TrackType_VIDEO:
		return TrackKindVideo
	case livekit.TrackType_DATA:
		return TrackKindData
	default:
		return TrackKindAudio
	}
}

// ------------------------------------------------

type SubscriptionState int

const (
	SubscriptionStatePending SubscriptionState = iota
	SubscriptionStateSubscribed
	SubscriptionStateUnsubscribed
	SubscriptionStateFailed
)

func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionStatePending:
		return "pending"
	case SubscriptionStateSubscribed:
		return "subscribed"
	case SubscriptionStateUnsubscribed:
		return "unsubscribed"
	case SubscriptionStateFailed:
		return "failed"
	default:
		return fmt.Sprintf("%d", int(s))
	}
}

// ------------------------------------------------

// ConnectionState is shared by the session and by each participant.
type ConnectionState int

const (
	ConnectionStateConnected ConnectionState = iota
	ConnectionStateReconnecting
	ConnectionStateDisconnected
)

func (c ConnectionState) String() string {
	switch c {
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateReconnecting:
		return "reconnecting"
	case ConnectionStateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("%d", int(c))
	}
}

// ------------------------------------------------

type ErrorClassification int

const (
	ErrorClassificationNone ErrorClassification = iota
	ErrorClassificationSignalingExpiredCredential
	ErrorClassificationSignalingExhausted
	ErrorClassificationSignalingTimeout
	ErrorClassificationMediaReconnecting
	ErrorClassificationUnknown
)

func (e ErrorClassification) String() string {
	switch e {
	case ErrorClassificationNone:
		return "none"
	case ErrorClassificationSignalingExpiredCredential:
		return "signaling_expired_credential"
	case ErrorClassificationSignalingExhausted:
		return "signaling_exhausted"
	case ErrorClassificationSignalingTimeout:
		return "signaling_timeout"
	case ErrorClassificationMediaReconnecting:
		return "media_reconnecting"
	case ErrorClassificationUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("%d", int(e))
	}
}

// IsTerminal reports whether a reconnecting subject carrying this
// classification has run out of options on the transport side.
func (e ErrorClassification) IsTerminal() bool {
	return e == ErrorClassificationSignalingTimeout || e == ErrorClassificationSignalingExhausted
}
