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
	"context"

	"github.com/livekit/protocol/livekit"

	"github.com/livekit/livekit-session/pkg/rtc/supervisor"
	"github.com/livekit/livekit-session/pkg/rtc/types"
	"github.com/livekit/livekit-session/pkg/stats"
	"github.com/livekit/livekit-session/pkg/telemetry/prometheus"
)

// HandleTransportEvent queues a transport event for reduction. Safe to call
// from any goroutine, events are applied in the order they are handed over.
func (s *Session) HandleTransportEvent(event types.TransportEvent) {
	if event == nil {
		return
	}
	s.inbound.Enqueue(func() {
		s.stateLock.Lock()
		defer s.stateLock.Unlock()

		if s.closed.IsBroken() {
			return
		}
		s.reduceLocked(event)
	})
}

func (s *Session) onBitrateSample(h *stats.SamplerHandle, sample types.BitrateSample) {
	s.inbound.Enqueue(func() {
		s.stateLock.Lock()
		defer s.stateLock.Unlock()

		s.applySampleLocked(h, sample)
	})
}

func (s *Session) reduceLocked(event types.TransportEvent) {
	switch e := event.(type) {
	case types.ParticipantJoined:
		s.onParticipantJoinedLocked(e)
	case types.ParticipantLeft:
		s.onParticipantLeftLocked(e)
	case types.RemoteTrackPublished:
		s.onTrackPublishedLocked(e)
	case types.RemoteTrackUnpublished:
		s.onTrackUnpublishedLocked(e)
	case types.RemoteTrackSubscribed:
		s.onTrackSubscribedLocked(e)
	case types.RemoteTrackSubscriptionFailed:
		s.onTrackSubscriptionFailedLocked(e)
	case types.RemoteTrackUnsubscribed:
		s.onTrackUnsubscribedLocked(e)
	case types.RemoteTrackEnabledChanged:
		s.onTrackEnabledChangedLocked(e)
	case types.TrackSwitchedChanged:
		s.onTrackSwitchedChangedLocked(e)
	case types.DominantSpeakerChanged:
		s.onDominantSpeakerChangedLocked(e)
	case types.ConnectionStateChanged:
		s.onConnectionStateChangedLocked(e)
	case types.ConnectionQualityChanged:
		s.onConnectionQualityChangedLocked(e)
	default:
		s.logger.Warnw("unknown transport event", nil, "event", event)
	}
}

// deferLocked parks a track event that arrived before its participant joined.
func (s *Session) deferLocked(participantID livekit.ParticipantID, event types.TransportEvent) {
	pending, _ := s.deferred.Get(participantID)
	if len(pending) >= maxDeferredPerParticipant {
		s.logger.Debugw("dropping oldest deferred update", "participantID", participantID)
		pending = pending[1:]
	}
	s.deferred.Add(participantID, append(pending, event))
}

func (s *Session) onParticipantJoinedLocked(e types.ParticipantJoined) {
	if e.ParticipantID == "" || e.ParticipantID == s.info.ParticipantID {
		return
	}

	if !s.registry.UpsertParticipant(e.ParticipantID, e.Identity, false) {
		s.logger.Debugw("participant already known", "participantID", e.ParticipantID, "participant", e.Identity)
		return
	}
	prometheus.AddParticipant()

	info, _ := s.registry.Participant(e.ParticipantID)
	s.logger.Infow("participant joined", "participantID", e.ParticipantID, "participant", e.Identity)
	s.emitLocked(types.ParticipantConnectedEvent{Participant: info})

	if pending, ok := s.deferred.Get(e.ParticipantID); ok {
		s.deferred.Remove(e.ParticipantID)
		s.logger.Debugw("applying deferred updates", "participantID", e.ParticipantID, "count", len(pending))
		for _, event := range pending {
			s.reduceLocked(event)
		}
	}
}

func (s *Session) onParticipantLeftLocked(e types.ParticipantLeft) {
	info, ok := s.registry.Participant(e.ParticipantID)
	if !ok || info.IsLocal {
		s.deferred.Remove(e.ParticipantID)
		return
	}

	for _, pub := range info.Publications {
		if track := pub.Track(); track != nil {
			s.stopSamplersLocked(pub.TrackID())
			s.hints.RemoveTrack(pub.TrackID())
			s.emitLocked(types.TrackUnsubscribedEvent{
				ParticipantID: e.ParticipantID,
				Publication:   pub,
				Track:         track,
			})
		}
		s.emitLocked(types.TrackUnpublishedEvent{
			ParticipantID: e.ParticipantID,
			Publication:   pub,
		})
	}
	s.releaseParticipantMetrics(info)

	removed, _ := s.registry.RemoveParticipant(e.ParticipantID)
	s.reconnection.Forget(types.ParticipantSubject(e.ParticipantID))
	prometheus.SubParticipant()

	if s.dominantSpeaker == e.ParticipantID {
		s.dominantSpeaker = ""
		s.emitLocked(types.DominantSpeakerChangedEvent{Previous: e.ParticipantID})
	}

	s.logger.Infow("participant left", "participantID", e.ParticipantID, "participant", info.Identity)
	s.emitLocked(types.ParticipantDisconnectedEvent{Participant: removed})
}

func (s *Session) onTrackPublishedLocked(e types.RemoteTrackPublished) {
	if !s.registry.HasParticipant(e.ParticipantID) {
		s.deferLocked(e.ParticipantID, e)
		return
	}
	if _, ok := s.registry.Publication(e.ParticipantID, e.TrackID); ok {
		return
	}

	pub := types.NewTrackPublication(types.TrackPublicationParams{
		TrackID:       e.TrackID,
		Kind:          e.Kind,
		Name:          e.Name,
		ParticipantID: e.ParticipantID,
	})
	if _, err := s.registry.UpsertPublication(e.ParticipantID, pub); err != nil {
		return
	}
	prometheus.AddPublishedTrack(e.Kind.String(), false)
	s.emitLocked(types.TrackPublishedEvent{
		ParticipantID: e.ParticipantID,
		Publication:   pub,
	})
}

func (s *Session) onTrackUnpublishedLocked(e types.RemoteTrackUnpublished) {
	if !s.registry.HasParticipant(e.ParticipantID) {
		s.deferLocked(e.ParticipantID, e)
		return
	}
	pub, ok := s.registry.Publication(e.ParticipantID, e.TrackID)
	if !ok {
		return
	}
	s.removePublicationLocked(pub, false)
}

func (s *Session) onTrackSubscribedLocked(e types.RemoteTrackSubscribed) {
	if !s.registry.HasParticipant(e.ParticipantID) {
		s.deferLocked(e.ParticipantID, e)
		return
	}

	if e.Track != nil && e.Track.ID() != e.TrackID {
		s.logger.Warnw(
			"subscribed track does not match publication", nil,
			"participantID", e.ParticipantID,
			"trackID", e.TrackID,
			"track", e.Track,
		)
		return
	}

	pub, ok := s.registry.Publication(e.ParticipantID, e.TrackID)
	if !ok {
		if e.Track == nil {
			s.logger.Debugw("subscription for unknown publication", "participantID", e.ParticipantID, "trackID", e.TrackID)
			return
		}
		// subscription raced ahead of the publication announcement
		s.onTrackPublishedLocked(types.RemoteTrackPublished{
			ParticipantID: e.ParticipantID,
			TrackID:       e.TrackID,
			Kind:          e.Track.Kind(),
			Name:          e.Track.Name(),
		})
		if pub, ok = s.registry.Publication(e.ParticipantID, e.TrackID); !ok {
			return
		}
	}

	if pub.IsSubscribed() {
		if e.Track == nil || pub.Track() == e.Track {
			return
		}
		s.unsubscribeLocked(pub, types.SubscriptionStateUnsubscribed)
	}

	track := e.Track
	if track == nil {
		track = types.NewTrack(types.TrackParams{
			ID:   pub.TrackID(),
			Kind: pub.Kind(),
			Name: pub.Name(),
		})
	}
	if s.isFrozenLocked(e.ParticipantID) {
		track.SetFrozen(true)
	}
	pub.SetTrack(track)
	prometheus.AddSubscribedTrack(pub.Kind().String())

	s.emitLocked(types.TrackSubscribedEvent{
		ParticipantID: e.ParticipantID,
		Publication:   pub,
		Track:         track,
	})
}

func (s *Session) onTrackSubscriptionFailedLocked(e types.RemoteTrackSubscriptionFailed) {
	if !s.registry.HasParticipant(e.ParticipantID) {
		s.deferLocked(e.ParticipantID, e)
		return
	}
	pub, ok := s.registry.Publication(e.ParticipantID, e.TrackID)
	if !ok {
		return
	}

	if pub.IsSubscribed() {
		s.unsubscribeLocked(pub, types.SubscriptionStateFailed)
	} else {
		pub.ReleaseTrack(types.SubscriptionStateFailed)
	}
	s.logger.Infow("track subscription failed", "participantID", e.ParticipantID, "trackID", e.TrackID, "reason", e.Reason)
	s.emitLocked(types.TrackSubscriptionFailedEvent{
		ParticipantID: e.ParticipantID,
		TrackID:       e.TrackID,
		Reason:        e.Reason,
	})
}

func (s *Session) onTrackUnsubscribedLocked(e types.RemoteTrackUnsubscribed) {
	if !s.registry.HasParticipant(e.ParticipantID) {
		s.deferLocked(e.ParticipantID, e)
		return
	}
	pub, ok := s.registry.Publication(e.ParticipantID, e.TrackID)
	if !ok || !pub.IsSubscribed() {
		return
	}
	s.unsubscribeLocked(pub, types.SubscriptionStateUnsubscribed)
}

func (s *Session) onTrackEnabledChangedLocked(e types.RemoteTrackEnabledChanged) {
	if !s.registry.HasParticipant(e.ParticipantID) {
		s.deferLocked(e.ParticipantID, e)
		return
	}
	pub, ok := s.registry.Publication(e.ParticipantID, e.TrackID)
	if !ok {
		return
	}
	track := pub.Track()
	if track == nil || !track.SetEnabled(e.Enabled) {
		return
	}
	s.emitLocked(types.TrackEnabledChangedEvent{
		ParticipantID: e.ParticipantID,
		TrackID:       e.TrackID,
		Enabled:       e.Enabled,
	})
}

func (s *Session) onTrackSwitchedChangedLocked(e types.TrackSwitchedChanged) {
	pub, ok := s.registry.PublicationByTrackID(e.TrackID)
	if !ok {
		return
	}
	if !s.hints.OnSwitchedChanged(e.TrackID, e.SwitchedOff) {
		return
	}
	s.emitLocked(types.TrackSwitchedOffChangedEvent{
		ParticipantID: pub.ParticipantID(),
		TrackID:       e.TrackID,
		SwitchedOff:   e.SwitchedOff,
	})
}

func (s *Session) onDominantSpeakerChangedLocked(e types.DominantSpeakerChanged) {
	if e.ParticipantID != "" && !s.registry.HasParticipant(e.ParticipantID) {
		s.logger.Debugw("dominant speaker is not a known participant", "participantID", e.ParticipantID)
		return
	}
	if e.ParticipantID == s.dominantSpeaker {
		return
	}

	prev := s.dominantSpeaker
	s.dominantSpeaker = e.ParticipantID
	s.emitLocked(types.DominantSpeakerChangedEvent{
		ParticipantID: e.ParticipantID,
		Previous:      prev,
	})
}

func (s *Session) onConnectionStateChangedLocked(e types.ConnectionStateChanged) {
	if !e.Subject.IsSession() {
		if e.Subject.ParticipantID == s.info.ParticipantID {
			return
		}
		if !s.registry.HasParticipant(e.Subject.ParticipantID) {
			s.logger.Debugw("connection state for unknown participant", "participantID", e.Subject.ParticipantID)
			return
		}
	}

	s.reconnection.HandleSignal(e.Subject, e.State, e.Classification, e.RetryDeadline)

	if e.Subject.IsSession() && s.reconnection.State(types.SessionSubject) == types.ConnectionStateDisconnected {
		s.teardownLocked()
		go func() {
			_ = s.closeTransport(context.Background())
		}()
	}
}

func (s *Session) onConnectionQualityChangedLocked(e types.ConnectionQualityChanged) {
	if !s.registry.SetConnectionQuality(e.ParticipantID, e.Quality) {
		return
	}
	s.emitLocked(types.ConnectionQualityChangedEvent{
		ParticipantID: e.ParticipantID,
		Quality:       e.Quality,
	})
}

// onTransition is invoked by the reconnection controller, always while
// stateLock is held.
func (s *Session) onTransition(t supervisor.Transition) {
	if t.Subject.IsSession() {
		if t.To == types.ConnectionStateConnected {
			// the session resuming must not thaw participants still reconnecting
			for _, p := range s.registry.Participants() {
				if p.State == types.ConnectionStateReconnecting {
					s.registry.SetTracksFrozen(types.ParticipantSubject(p.ID), true)
				}
			}
		}
	} else {
		s.registry.SetParticipantState(t.Subject.ParticipantID, t.To)
		if t.To == types.ConnectionStateConnected &&
			s.reconnection.State(types.SessionSubject) == types.ConnectionStateReconnecting {
			// stays frozen until the session resumes
			s.registry.SetTracksFrozen(t.Subject, true)
		}
	}

	s.emitLocked(types.StateChangedEvent{
		Subject:        t.Subject,
		State:          t.To,
		Previous:       t.From,
		Classification: t.Classification,
		RetryDeadline:  t.RetryDeadline,
	})
}

func (s *Session) applySampleLocked(h *stats.SamplerHandle, sample types.BitrateSample) {
	if s.closed.IsBroken() || h.IsStopped() {
		return
	}
	pub, ok := s.registry.PublicationByTrackID(sample.TrackID)
	if !ok {
		return
	}
	track := pub.Track()
	if track == nil || track.IsFrozen() {
		return
	}

	track.ApplyBitrateSample(sample)
	prometheus.RecordBitrate(track.Kind().String(), sample.Bitrate)
	s.emitLocked(types.BitrateSampledEvent{
		ParticipantID: pub.ParticipantID(),
		Sample:        sample,
	})
}

// ------------------------------------------------

func (s *Session) isFrozenLocked(participantID livekit.ParticipantID) bool {
	return s.reconnection.State(types.SessionSubject) == types.ConnectionStateReconnecting ||
		s.reconnection.State(types.ParticipantSubject(participantID)) == types.ConnectionStateReconnecting
}

func (s *Session) unsubscribeLocked(pub *types.TrackPublication, state types.SubscriptionState) {
	s.stopSamplersLocked(pub.TrackID())
	s.hints.RemoveTrack(pub.TrackID())

	track := pub.ReleaseTrack(state)
	if track == nil {
		return
	}
	prometheus.SubSubscribedTrack(pub.Kind().String())
	s.emitLocked(types.TrackUnsubscribedEvent{
		ParticipantID: pub.ParticipantID(),
		Publication:   pub,
		Track:         track,
	})
}

func (s *Session) removePublicationLocked(pub *types.TrackPublication, isLocal bool) {
	if !isLocal && pub.IsSubscribed() {
		s.unsubscribeLocked(pub, types.SubscriptionStateUnsubscribed)
	}
	s.stopSamplersLocked(pub.TrackID())
	s.registry.RemovePublication(pub.ParticipantID(), pub.TrackID())
	prometheus.SubPublishedTrack(pub.Kind().String(), isLocal)

	s.emitLocked(types.TrackUnpublishedEvent{
		ParticipantID: pub.ParticipantID(),
		IsLocal:       isLocal,
		Publication:   pub,
	})
}

func (s *Session) stopSamplersLocked(trackID livekit.TrackID) {
	handles, ok := s.samplers[trackID]
	if !ok {
		return
	}
	delete(s.samplers, trackID)
	for _, h := range handles {
		s.sampler.StopSampling(h)
	}
}

func (s *Session) releaseParticipantMetrics(info types.ParticipantInfo) {
	for _, pub := range info.Publications {
		prometheus.SubPublishedTrack(pub.Kind().String(), info.IsLocal)
		if !info.IsLocal && pub.IsSubscribed() {
			prometheus.SubSubscribedTrack(pub.Kind().String())
		}
	}
}

func (s *Session) lookupRemoteTrack(trackID livekit.TrackID) (*types.Track, bool) {
	pub, ok := s.registry.PublicationByTrackID(trackID)
	if !ok || pub.ParticipantID() == s.info.ParticipantID {
		return nil, false
	}
	track := pub.Track()
	return track, track != nil
}
