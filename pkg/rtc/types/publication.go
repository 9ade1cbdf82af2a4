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
	"sync"

	"go.uber.org/zap/zapcore"

	"github.com/livekit/protocol/livekit"
)

type TrackPublicationParams struct {
	TrackID       livekit.TrackID
	Kind          TrackKind
	Name          string
	ParticipantID livekit.ParticipantID
}

// TrackPublication is the announcement of a track. It is subscribed iff it
// holds a track handle.
type TrackPublication struct {
	params TrackPublicationParams

	lock  sync.RWMutex
	state SubscriptionState
	track *Track
}

func NewTrackPublication(params TrackPublicationParams) *TrackPublication {
	return &TrackPublication{
		params: params,
		state:  SubscriptionStatePending,
	}
}

// NewLocalTrackPublication wraps a track published by the local participant,
// which owns its handle from the start.
func NewLocalTrackPublication(participantID livekit.ParticipantID, track *Track) *TrackPublication {
	return &TrackPublication{
		params: TrackPublicationParams{
			TrackID:       track.ID(),
			Kind:          track.Kind(),
			Name:          track.Name(),
			ParticipantID: participantID,
		},
		state: SubscriptionStateSubscribed,
		track: track,
	}
}

func (p *TrackPublication) TrackID() livekit.TrackID {
	return p.params.TrackID
}

func (p *TrackPublication) Kind() TrackKind {
	return p.params.Kind
}

func (p *TrackPublication) Name() string {
	return p.params.Name
}

func (p *TrackPublication) ParticipantID() livekit.ParticipantID {
	return p.params.ParticipantID
}

func (p *TrackPublication) State() SubscriptionState {
	p.lock.RLock()
	defer p.lock.RUnlock()

	return p.state
}

func (p *TrackPublication) Track() *Track {
	p.lock.RLock()
	defer p.lock.RUnlock()

	return p.track
}

func (p *TrackPublication) IsSubscribed() bool {
	p.lock.RLock()
	defer p.lock.RUnlock()

	return p.state == SubscriptionStateSubscribed
}

// SetTrack attaches a handle and moves the publication to subscribed. A
// previously attached, different handle is released.
func (p *TrackPublication) SetTrack(track *Track) {
	if track == nil {
		p.ReleaseTrack(SubscriptionStateUnsubscribed)
		return
	}

	p.lock.Lock()
	prev := p.track
	p.track = track
	p.state = SubscriptionStateSubscribed
	p.lock.Unlock()

	if prev != nil && prev != track {
		prev.Release()
	}
}

// ReleaseTrack drops the owned handle, if any, and moves to the given
// non-subscribed state. Returns the released handle.
func (p *TrackPublication) ReleaseTrack(state SubscriptionState) *Track {
	if state == SubscriptionStateSubscribed {
		state = SubscriptionStateUnsubscribed
	}

	p.lock.Lock()
	track := p.track
	p.track = nil
	p.state = state
	p.lock.Unlock()

	if track != nil {
		track.Release()
	}
	return track
}

func (p *TrackPublication) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddString("trackID", string(p.params.TrackID))
	e.AddString("kind", p.params.Kind.String())
	e.AddString("name", p.params.Name)
	e.AddString("participantID", string(p.params.ParticipantID))
	e.AddString("state", p.State().String())
	return nil
}

// ------------------------------------------------

// ParticipantInfo is a point in time copy of a participant's state.
type ParticipantInfo struct {
	ID           livekit.ParticipantID
	Identity     livekit.ParticipantIdentity
	IsLocal      bool
	State        ConnectionState
	Quality      livekit.ConnectionQuality
	Publications []*TrackPublication
}
