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

package rtc

import (
	"errors"
	"sync"

	"github.com/elliotchance/orderedmap/v2"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"

	"github.com/livekit/livekit-session/pkg/rtc/types"
)

var (
	ErrParticipantNotFound = errors.New("participant not found")
	ErrTrackOwnedElsewhere = errors.New("track is published by another participant")
)

type registeredParticipant struct {
	id       livekit.ParticipantID
	identity livekit.ParticipantIdentity
	isLocal  bool
	state    types.ConnectionState
	quality  livekit.ConnectionQuality

	publications *orderedmap.OrderedMap[livekit.TrackID, *types.TrackPublication]
}

func (p *registeredParticipant) info() types.ParticipantInfo {
	pubs := make([]*types.TrackPublication, 0, p.publications.Len())
	for el := p.publications.Front(); el != nil; el = el.Next() {
		pubs = append(pubs, el.Value)
	}
	return types.ParticipantInfo{
		ID:           p.id,
		Identity:     p.identity,
		IsLocal:      p.isLocal,
		State:        p.state,
		Quality:      p.quality,
		Publications: pubs,
	}
}

type TrackRegistryParams struct {
	Logger logger.Logger
}

// TrackRegistry is the authoritative store of participants and their
// publications. Participants and publications keep insertion order.
type TrackRegistry struct {
	params TrackRegistryParams

	lock         sync.RWMutex
	participants *orderedmap.OrderedMap[livekit.ParticipantID, *registeredParticipant]
	// trackID => owner
	trackOwners map[livekit.TrackID]livekit.ParticipantID
}

func NewTrackRegistry(params TrackRegistryParams) *TrackRegistry {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	return &TrackRegistry{
		params:       params,
		participants: orderedmap.NewOrderedMap[livekit.ParticipantID, *registeredParticipant](),
		trackOwners:  make(map[livekit.TrackID]livekit.ParticipantID),
	}
}

// UpsertParticipant adds a participant in connected state, or refreshes the
// identity of an existing one. Returns true when the participant is new.
func (r *TrackRegistry) UpsertParticipant(participantID livekit.ParticipantID, identity livekit.ParticipantIdentity, isLocal bool) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	if p, ok := r.participants.Get(participantID); ok {
		p.identity = identity
		return false
	}

	r.participants.Set(participantID, &registeredParticipant{
		id:           participantID,
		identity:     identity,
		isLocal:      isLocal,
		state:        types.ConnectionStateConnected,
		quality:      livekit.ConnectionQuality_EXCELLENT,
		publications: orderedmap.NewOrderedMap[livekit.TrackID, *types.TrackPublication](),
	})
	return true
}

// RemoveParticipant drops the participant and all of its publications,
// releasing their track handles. Returns the participant as it was before removal.
func (r *TrackRegistry) RemoveParticipant(participantID livekit.ParticipantID) (types.ParticipantInfo, bool) {
	r.lock.Lock()
	p, ok := r.participants.Get(participantID)
	if !ok {
		r.lock.Unlock()
		return types.ParticipantInfo{}, false
	}
	r.participants.Delete(participantID)
	for el := p.publications.Front(); el != nil; el = el.Next() {
		delete(r.trackOwners, el.Key)
	}
	info := p.info()
	r.lock.Unlock()

	for _, pub := range info.Publications {
		pub.ReleaseTrack(types.SubscriptionStateUnsubscribed)
	}
	info.State = types.ConnectionStateDisconnected
	return info, true
}

// UpsertPublication adds or replaces a publication. Replacing a publication
// object releases the track handle held by the old one. Returns true when
// the track id is new for this participant.
func (r *TrackRegistry) UpsertPublication(participantID livekit.ParticipantID, pub *types.TrackPublication) (bool, error) {
	r.lock.Lock()
	p, ok := r.participants.Get(participantID)
	if !ok {
		r.lock.Unlock()
		return false, ErrParticipantNotFound
	}
	if owner, ok := r.trackOwners[pub.TrackID()]; ok && owner != participantID {
		r.lock.Unlock()
		r.params.Logger.Warnw(
			"track already published by another participant", ErrTrackOwnedElsewhere,
			"trackID", pub.TrackID(),
			"participantID", participantID,
			"owner", owner,
		)
		return false, ErrTrackOwnedElsewhere
	}

	prev, existed := p.publications.Get(pub.TrackID())
	p.publications.Set(pub.TrackID(), pub)
	r.trackOwners[pub.TrackID()] = participantID
	r.lock.Unlock()

	if existed && prev != pub {
		prev.ReleaseTrack(types.SubscriptionStateUnsubscribed)
	}
	return !existed, nil
}

// RemovePublication drops the publication and releases its track handle.
func (r *TrackRegistry) RemovePublication(participantID livekit.ParticipantID, trackID livekit.TrackID) (*types.TrackPublication, bool) {
	r.lock.Lock()
	p, ok := r.participants.Get(participantID)
	if !ok {
		r.lock.Unlock()
		return nil, false
	}
	pub, ok := p.publications.Get(trackID)
	if !ok {
		r.lock.Unlock()
		return nil, false
	}
	p.publications.Delete(trackID)
	delete(r.trackOwners, trackID)
	r.lock.Unlock()

	pub.ReleaseTrack(types.SubscriptionStateUnsubscribed)
	return pub, true
}

// GetTracks returns the track handles of subscribed publications, in the
// order the publications were first added.
func (r *TrackRegistry) GetTracks(participantID livekit.ParticipantID) []*types.Track {
	r.lock.RLock()
	defer r.lock.RUnlock()

	p, ok := r.participants.Get(participantID)
	if !ok {
		return nil
	}

	tracks := make([]*types.Track, 0, p.publications.Len())
	for el := p.publications.Front(); el != nil; el = el.Next() {
		if !el.Value.IsSubscribed() {
			continue
		}
		if track := el.Value.Track(); track != nil {
			tracks = append(tracks, track)
		}
	}
	return tracks
}

func (r *TrackRegistry) HasParticipant(participantID livekit.ParticipantID) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()

	_, ok := r.participants.Get(participantID)
	return ok
}

func (r *TrackRegistry) Participant(participantID livekit.ParticipantID) (types.ParticipantInfo, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	p, ok := r.participants.Get(participantID)
	if !ok {
		return types.ParticipantInfo{}, false
	}
	return p.info(), true
}

func (r *TrackRegistry) Participants() []types.ParticipantInfo {
	r.lock.RLock()
	defer r.lock.RUnlock()

	infos := make([]types.ParticipantInfo, 0, r.participants.Len())
	for el := r.participants.Front(); el != nil; el = el.Next() {
		infos = append(infos, el.Value.info())
	}
	return infos
}

func (r *TrackRegistry) Publication(participantID livekit.ParticipantID, trackID livekit.TrackID) (*types.TrackPublication, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	p, ok := r.participants.Get(participantID)
	if !ok {
		return nil, false
	}
	return p.publications.Get(trackID)
}

// PublicationByTrackID looks a publication up across all participants.
func (r *TrackRegistry) PublicationByTrackID(trackID livekit.TrackID) (*types.TrackPublication, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	owner, ok := r.trackOwners[trackID]
	if !ok {
		return nil, false
	}
	p, ok := r.participants.Get(owner)
	if !ok {
		return nil, false
	}
	return p.publications.Get(trackID)
}

// Track returns the live handle for a track id, if a subscribed publication holds one.
func (r *TrackRegistry) Track(trackID livekit.TrackID) (*types.Track, bool) {
	pub, ok := r.PublicationByTrackID(trackID)
	if !ok {
		return nil, false
	}
	track := pub.Track()
	return track, track != nil
}

// LocalPublicationOfKind returns the first local publication of the given kind.
func (r *TrackRegistry) LocalPublicationOfKind(kind types.TrackKind) (*types.TrackPublication, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	for el := r.participants.Front(); el != nil; el = el.Next() {
		if !el.Value.isLocal {
			continue
		}
		for pel := el.Value.publications.Front(); pel != nil; pel = pel.Next() {
			if pel.Value.Kind() == kind {
				return pel.Value, true
			}
		}
	}
	return nil, false
}

func (r *TrackRegistry) SetParticipantState(participantID livekit.ParticipantID, state types.ConnectionState) (types.ConnectionState, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	p, ok := r.participants.Get(participantID)
	if !ok {
		return state, false
	}
	prev := p.state
	p.state = state
	return prev, true
}

// SetConnectionQuality returns true if the quality changed.
func (r *TrackRegistry) SetConnectionQuality(participantID livekit.ParticipantID, quality livekit.ConnectionQuality) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	p, ok := r.participants.Get(participantID)
	if !ok || p.quality == quality {
		return false
	}
	p.quality = quality
	return true
}

// SetTracksFrozen freezes or resumes the tracks affected by a subject's
// connectivity, every track for the session subject. Returns the number of
// tracks whose flag changed.
func (r *TrackRegistry) SetTracksFrozen(subject types.Subject, frozen bool) int {
	r.lock.RLock()
	var pubs []*types.TrackPublication
	for el := r.participants.Front(); el != nil; el = el.Next() {
		if !subject.IsSession() && el.Key != subject.ParticipantID {
			continue
		}
		for pel := el.Value.publications.Front(); pel != nil; pel = pel.Next() {
			pubs = append(pubs, pel.Value)
		}
	}
	r.lock.RUnlock()

	changed := 0
	for _, pub := range pubs {
		if track := pub.Track(); track != nil && track.SetFrozen(frozen) {
			changed++
		}
	}
	return changed
}

// Clear removes every participant, releasing all track handles. Returns the
// removed participants.
func (r *TrackRegistry) Clear() []types.ParticipantInfo {
	r.lock.Lock()
	infos := make([]types.ParticipantInfo, 0, r.participants.Len())
	for el := r.participants.Front(); el != nil; el = el.Next() {
		infos = append(infos, el.Value.info())
	}
	r.participants = orderedmap.NewOrderedMap[livekit.ParticipantID, *registeredParticipant]()
	r.trackOwners = make(map[livekit.TrackID]livekit.ParticipantID)
	r.lock.Unlock()

	for i := range infos {
		for _, pub := range infos[i].Publications {
			pub.ReleaseTrack(types.SubscriptionStateUnsubscribed)
		}
		infos[i].State = types.ConnectionStateDisconnected
	}
	return infos
}
