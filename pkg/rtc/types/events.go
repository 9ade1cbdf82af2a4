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

type EventType string

const (
	EventTypeParticipantConnected     EventType = "participant_connected"
	EventTypeParticipantDisconnected  EventType = "participant_disconnected"
	EventTypeTrackPublished           EventType = "track_published"
	EventTypeTrackUnpublished         EventType = "track_unpublished"
	EventTypeTrackSubscribed          EventType = "track_subscribed"
	EventTypeTrackUnsubscribed        EventType = "track_unsubscribed"
	EventTypeTrackSubscriptionFailed  EventType = "track_subscription_failed"
	EventTypeTrackEnabledChanged      EventType = "track_enabled_changed"
	EventTypeTrackSwitchedOffChanged  EventType = "track_switched_off_changed"
	EventTypeDominantSpeakerChanged   EventType = "dominant_speaker_changed"
	EventTypeStateChanged             EventType = "state_changed"
	EventTypeConnectionQualityChanged EventType = "connection_quality_changed"
	EventTypeBitrateSampled           EventType = "bitrate_sampled"
)

// Event is a normalized session event delivered to listeners.
type Event interface {
	Type() EventType
}

type ParticipantConnectedEvent struct {
	Participant ParticipantInfo
}

type ParticipantDisconnectedEvent struct {
	Participant ParticipantInfo
}

type TrackPublishedEvent struct {
	ParticipantID livekit.ParticipantID
	IsLocal       bool
	Publication   *TrackPublication
}

type TrackUnpublishedEvent struct {
	ParticipantID livekit.ParticipantID
	IsLocal       bool
	Publication   *TrackPublication
}

type TrackSubscribedEvent struct {
	ParticipantID livekit.ParticipantID
	Publication   *TrackPublication
	Track         *Track
}

type TrackUnsubscribedEvent struct {
	ParticipantID livekit.ParticipantID
	Publication   *TrackPublication
	Track         *Track
}

type TrackSubscriptionFailedEvent struct {
	ParticipantID livekit.ParticipantID
	TrackID       livekit.TrackID
	Reason        string
}

type TrackEnabledChangedEvent struct {
	ParticipantID livekit.ParticipantID
	TrackID       livekit.TrackID
	Enabled       bool
}

type TrackSwitchedOffChangedEvent struct {
	ParticipantID livekit.ParticipantID
	TrackID       livekit.TrackID
	SwitchedOff   bool
}

// DominantSpeakerChangedEvent with an empty participant id means nobody is speaking.
type DominantSpeakerChangedEvent struct {
	ParticipantID livekit.ParticipantID
	Previous      livekit.ParticipantID
}

type StateChangedEvent struct {
	Subject        Subject
	State          ConnectionState
	Previous       ConnectionState
	Classification ErrorClassification
	RetryDeadline  time.Time
}

type ConnectionQualityChangedEvent struct {
	ParticipantID livekit.ParticipantID
	Quality       livekit.ConnectionQuality
}

type BitrateSampledEvent struct {
	ParticipantID livekit.ParticipantID
	Sample        BitrateSample
}

func (ParticipantConnectedEvent) Type() EventType     { return EventTypeParticipantConnected }
func (ParticipantDisconnectedEvent) Type() EventType  { return EventTypeParticipantDisconnected }
func (TrackPublishedEvent) Type() EventType           { return EventTypeTrackPublished }
func (TrackUnpublishedEvent) Type() EventType         { return EventTypeTrackUnpublished }
func (TrackSubscribedEvent) Type() EventType          { return EventTypeTrackSubscribed }
func (TrackUnsubscribedEvent) Type() EventType        { return EventTypeTrackUnsubscribed }
func (TrackSubscriptionFailedEvent) Type() EventType  { return EventTypeTrackSubscriptionFailed }
func (TrackEnabledChangedEvent) Type() EventType      { return EventTypeTrackEnabledChanged }
func (TrackSwitchedOffChangedEvent) Type() EventType  { return EventTypeTrackSwitchedOffChanged }
func (DominantSpeakerChangedEvent) Type() EventType   { return EventTypeDominantSpeakerChanged }
func (StateChangedEvent) Type() EventType             { return EventTypeStateChanged }
func (ConnectionQualityChangedEvent) Type() EventType { return EventTypeConnectionQualityChanged }
func (BitrateSampledEvent) Type() EventType           { return EventTypeBitrateSampled }
