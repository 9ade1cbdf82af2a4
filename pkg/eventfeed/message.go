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

package eventfeed

import (
	"time"

	"github.com/livekit/livekit-session/pkg/rtc/types"
)

// Message is the JSON form of a session event sent to feed clients.
type Message struct {
	Seq       uint64          `json:"seq"`
	Type      types.EventType `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Time      time.Time       `json:"time"`
	Payload   any             `json:"payload,omitempty"`
}

type TrackPayload struct {
	ParticipantID string `json:"participantId"`
	TrackID       string `json:"trackId"`
	Kind          string `json:"kind,omitempty"`
	Name          string `json:"name,omitempty"`
	State         string `json:"state,omitempty"`
	IsLocal       bool   `json:"isLocal,omitempty"`
}

type ParticipantPayload struct {
	ID       string         `json:"id"`
	Identity string         `json:"identity"`
	IsLocal  bool           `json:"isLocal,omitempty"`
	State    string         `json:"state"`
	Quality  string         `json:"quality"`
	Tracks   []TrackPayload `json:"tracks,omitempty"`
}

type FlagPayload struct {
	ParticipantID string `json:"participantId"`
	TrackID       string `json:"trackId"`
	Value         bool   `json:"value"`
}

type SubscriptionFailedPayload struct {
	ParticipantID string `json:"participantId"`
	TrackID       string `json:"trackId"`
	Reason        string `json:"reason"`
}

type SpeakerPayload struct {
	ParticipantID string `json:"participantId,omitempty"`
	Previous      string `json:"previous,omitempty"`
}

type StatePayload struct {
	Subject        string     `json:"subject"`
	State          string     `json:"state"`
	Previous       string     `json:"previous"`
	Classification string     `json:"classification,omitempty"`
	RetryDeadline  *time.Time `json:"retryDeadline,omitempty"`
}

type QualityPayload struct {
	ParticipantID string `json:"participantId"`
	Quality       string `json:"quality"`
}

type BitratePayload struct {
	ParticipantID string  `json:"participantId"`
	TrackID       string  `json:"trackId"`
	Bytes         uint64  `json:"bytes"`
	Bitrate       float64 `json:"bitrate"`
}

// ToPayload normalizes an event into a JSON friendly value.
func ToPayload(event types.Event) any {
	switch e := event.(type) {
	case types.ParticipantConnectedEvent:
		return participantPayload(e.Participant)
	case types.ParticipantDisconnectedEvent:
		return participantPayload(e.Participant)
	case types.TrackPublishedEvent:
		return trackPayload(e.Publication, e.IsLocal)
	case types.TrackUnpublishedEvent:
		return trackPayload(e.Publication, e.IsLocal)
	case types.TrackSubscribedEvent:
		return trackPayload(e.Publication, false)
	case types.TrackUnsubscribedEvent:
		return trackPayload(e.Publication, false)
	case types.TrackSubscriptionFailedEvent:
		return SubscriptionFailedPayload{
			ParticipantID: string(e.ParticipantID),
			TrackID:       string(e.TrackID),
			Reason:        e.Reason,
		}
	case types.TrackEnabledChangedEvent:
		return FlagPayload{ParticipantID: string(e.ParticipantID), TrackID: string(e.TrackID), Value: e.Enabled}
	case types.TrackSwitchedOffChangedEvent:
		return FlagPayload{ParticipantID: string(e.ParticipantID), TrackID: string(e.TrackID), Value: e.SwitchedOff}
	case types.DominantSpeakerChangedEvent:
		return SpeakerPayload{ParticipantID: string(e.ParticipantID), Previous: string(e.Previous)}
	case types.StateChangedEvent:
		p := StatePayload{
			Subject:  e.Subject.String(),
			State:    e.State.String(),
			Previous: e.Previous.String(),
		}
		if e.Classification != types.ErrorClassificationNone {
			p.Classification = e.Classification.String()
		}
		if !e.RetryDeadline.IsZero() {
			deadline := e.RetryDeadline
			p.RetryDeadline = &deadline
		}
		return p
	case types.ConnectionQualityChangedEvent:
		return QualityPayload{ParticipantID: string(e.ParticipantID), Quality: e.Quality.String()}
	case types.BitrateSampledEvent:
		return BitratePayload{
			ParticipantID: string(e.ParticipantID),
			TrackID:       string(e.Sample.TrackID),
			Bytes:         e.Sample.Bytes,
			Bitrate:       e.Sample.Bitrate,
		}
	default:
		return nil
	}
}

func participantPayload(p types.ParticipantInfo) ParticipantPayload {
	payload := ParticipantPayload{
		ID:       string(p.ID),
		Identity: string(p.Identity),
		IsLocal:  p.IsLocal,
		State:    p.State.String(),
		Quality:  p.Quality.String(),
	}
	for _, pub := range p.Publications {
		payload.Tracks = append(payload.Tracks, trackPayload(pub, p.IsLocal))
	}
	return payload
}

func trackPayload(pub *types.TrackPublication, isLocal bool) TrackPayload {
	if pub == nil {
		return TrackPayload{}
	}
	return TrackPayload{
		ParticipantID: string(pub.ParticipantID()),
		TrackID:       string(pub.TrackID()),
		Kind:          pub.Kind().String(),
		Name:          pub.Name(),
		State:         pub.State().String(),
		IsLocal:       isLocal,
	}
}
