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
	"time"

	"github.com/livekit/protocol/livekit"
)

// TransportEvent is what a transport reports to a session. The set is
// closed, each variant below is applied by the session one at a time.
type TransportEvent interface {
	transportEvent()
}

type ParticipantJoined struct {
	ParticipantID livekit.ParticipantID
	Identity      livekit.ParticipantIdentity
}

type ParticipantLeft struct {
	ParticipantID livekit.ParticipantID
}

type RemoteTrackPublished struct {
	ParticipantID livekit.ParticipantID
	TrackID       livekit.TrackID
	Kind          TrackKind
	Name          string
}

type RemoteTrackUnpublished struct {
	ParticipantID livekit.ParticipantID
	TrackID       livekit.TrackID
}

type RemoteTrackSubscribed struct {
	ParticipantID livekit.ParticipantID
	TrackID       livekit.TrackID
	// optional, a handle is created when nil
	Track *Track
}

type RemoteTrackSubscriptionFailed struct {
	ParticipantID livekit.ParticipantID
	TrackID       livekit.TrackID
	Reason        string
}

type RemoteTrackUnsubscribed struct {
	ParticipantID livekit.ParticipantID
	TrackID       livekit.TrackID
}

type RemoteTrackEnabledChanged struct {
	ParticipantID livekit.ParticipantID
	TrackID       livekit.TrackID
	Enabled       bool
}

// TrackSwitchedChanged confirms a delivery hint.
type TrackSwitchedChanged struct {
	TrackID     livekit.TrackID
	SwitchedOff bool
}

// DominantSpeakerChanged with an empty participant id means nobody is speaking.
type DominantSpeakerChanged struct {
	ParticipantID livekit.ParticipantID
}

type ConnectionStateChanged struct {
	Subject        Subject
	State          ConnectionState
	Classification ErrorClassification
	RetryDeadline  time.Time
}

type ConnectionQualityChanged struct {
	ParticipantID livekit.ParticipantID
	Quality       livekit.ConnectionQuality
}

func (ParticipantJoined) transportEvent()             {}
func (ParticipantLeft) transportEvent()               {}
func (RemoteTrackPublished) transportEvent()          {}
func (RemoteTrackUnpublished) transportEvent()        {}
func (RemoteTrackSubscribed) transportEvent()         {}
func (RemoteTrackSubscriptionFailed) transportEvent() {}
func (RemoteTrackUnsubscribed) transportEvent()       {}
func (RemoteTrackEnabledChanged) transportEvent()     {}
func (TrackSwitchedChanged) transportEvent()          {}
func (DominantSpeakerChanged) transportEvent()        {}
func (ConnectionStateChanged) transportEvent()        {}
func (ConnectionQualityChanged) transportEvent()      {}
