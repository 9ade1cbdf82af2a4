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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/livekit"

	"github.com/livekit/livekit-session/pkg/config"
	"github.com/livekit/livekit-session/pkg/rtc/types"
	"github.com/livekit/livekit-session/pkg/rtc/types/typesfakes"
	"github.com/livekit/livekit-session/pkg/stats"
	"github.com/livekit/livekit-session/pkg/testutils"
)

const (
	localParticipantID livekit.ParticipantID = "PA_local"
	remoteA            livekit.ParticipantID = "PA_a"
	remoteB            livekit.ParticipantID = "PA_b"
)

type eventRecorder struct {
	lock    sync.Mutex
	events  []types.Event
	onEvent func(s *Session, event types.Event)
}

func (r *eventRecorder) OnSessionEvent(s *Session, event types.Event) {
	r.lock.Lock()
	r.events = append(r.events, event)
	onEvent := r.onEvent
	r.lock.Unlock()

	if onEvent != nil {
		onEvent(s, event)
	}
}

func (r *eventRecorder) Events() []types.Event {
	r.lock.Lock()
	defer r.lock.Unlock()

	return append([]types.Event(nil), r.events...)
}

func (r *eventRecorder) OfType(eventType types.EventType) []types.Event {
	var matching []types.Event
	for _, event := range r.Events() {
		if event.Type() == eventType {
			matching = append(matching, event)
		}
	}
	return matching
}

func (r *eventRecorder) Types() []types.EventType {
	var eventTypes []types.EventType
	for _, event := range r.Events() {
		eventTypes = append(eventTypes, event.Type())
	}
	return eventTypes
}

func (r *eventRecorder) waitForCount(t *testing.T, eventType types.EventType, n int) []types.Event {
	t.Helper()

	testutils.WithTimeout(t, func() string {
		if got := len(r.OfType(eventType)); got != n {
			return fmt.Sprintf("expected %d %s events, got %d", n, eventType, got)
		}
		return ""
	})
	return r.OfType(eventType)
}

func newFakeTransport() *typesfakes.FakeTransport {
	tr := &typesfakes.FakeTransport{}
	tr.ConnectReturns(&types.SessionInfo{
		RoomName:      "room",
		ParticipantID: localParticipantID,
		Identity:      "local",
	}, nil)
	tr.PublishStub = func(_ context.Context, track *types.Track) (*types.PublicationInfo, error) {
		return &types.PublicationInfo{TrackID: track.ID()}, nil
	}
	return tr
}

func testSessionConfig() config.SessionConfig {
	conf := config.DefaultConfig.Session
	conf.HintDimensionsDebounce = 0
	return conf
}

func connectTestSession(t *testing.T, tr *typesfakes.FakeTransport, conf config.SessionConfig) (*Session, *eventRecorder) {
	t.Helper()

	s, err := Connect(
		context.Background(),
		SessionParams{Transport: tr, Config: conf},
		types.Credentials{URL: "ws://localhost:7880", Token: "token"},
		types.ConnectOptions{AutoSubscribe: true},
	)
	require.NoError(t, err)

	rec := &eventRecorder{}
	s.AddListener(rec, false)
	t.Cleanup(func() {
		_ = s.Disconnect(context.Background(), livekit.DisconnectReason_CLIENT_INITIATED)
	})
	return s, rec
}

func joinAndSubscribe(s *Session, participantID livekit.ParticipantID, trackID livekit.TrackID, kind types.TrackKind) {
	s.HandleTransportEvent(types.ParticipantJoined{ParticipantID: participantID, Identity: livekit.ParticipantIdentity(participantID)})
	s.HandleTransportEvent(types.RemoteTrackPublished{ParticipantID: participantID, TrackID: trackID, Kind: kind})
	s.HandleTransportEvent(types.RemoteTrackSubscribed{ParticipantID: participantID, TrackID: trackID})
}

func TestConnect(t *testing.T) {
	t.Run("success registers local participant", func(t *testing.T) {
		tr := newFakeTransport()
		s, _ := connectTestSession(t, tr, testSessionConfig())

		require.Equal(t, types.ConnectionStateConnected, s.State())
		require.Equal(t, localParticipantID, s.Info().ParticipantID)
		local := s.LocalParticipant()
		require.True(t, local.IsLocal)
		require.Equal(t, localParticipantID, local.ID)
		require.Empty(t, s.RemoteParticipants())

		_, _, opts, sink := tr.ConnectArgsForCall(0)
		require.True(t, opts.AutoSubscribe)
		require.Equal(t, 10*time.Second, opts.Timeout)
		require.Equal(t, s, sink)
	})

	t.Run("failure classification", func(t *testing.T) {
		testCases := []struct {
			name     string
			setup    func(tr *typesfakes.FakeTransport)
			kind     ConnectErrorKind
			sentinel error
		}{
			{
				name: "unauthorized",
				setup: func(tr *typesfakes.FakeTransport) {
					tr.ConnectReturns(nil, fmt.Errorf("token rejected: %w", types.ErrUnauthorized))
				},
				kind:     ConnectErrorUnauthorized,
				sentinel: ErrUnauthorized,
			},
			{
				name: "transport timeout",
				setup: func(tr *typesfakes.FakeTransport) {
					tr.ConnectReturns(nil, types.ErrTimeout)
				},
				kind:     ConnectErrorTimeout,
				sentinel: ErrConnectTimeout,
			},
			{
				name: "deadline",
				setup: func(tr *typesfakes.FakeTransport) {
					tr.ConnectStub = func(ctx context.Context, _ types.Credentials, _ types.ConnectOptions, _ types.TransportEventSink) (*types.SessionInfo, error) {
						<-ctx.Done()
						return nil, errors.New("gave up")
					}
				},
				kind:     ConnectErrorTimeout,
				sentinel: ErrConnectTimeout,
			},
			{
				name: "transport failure",
				setup: func(tr *typesfakes.FakeTransport) {
					tr.ConnectReturns(nil, errors.New("connection refused"))
				},
				kind:     ConnectErrorTransport,
				sentinel: ErrConnectTransport,
			},
			{
				name: "missing session info",
				setup: func(tr *typesfakes.FakeTransport) {
					tr.ConnectReturns(nil, nil)
				},
				kind:     ConnectErrorTransport,
				sentinel: ErrConnectTransport,
			},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				tr := newFakeTransport()
				tc.setup(tr)

				s, err := Connect(
					context.Background(),
					SessionParams{Transport: tr, Config: testSessionConfig()},
					types.Credentials{URL: "ws://localhost:7880", Token: "token"},
					types.ConnectOptions{Timeout: 50 * time.Millisecond},
				)
				require.Nil(t, s)
				require.ErrorIs(t, err, tc.sentinel)

				var cerr *ConnectError
				require.True(t, errors.As(err, &cerr))
				require.Equal(t, tc.kind, cerr.Kind)
			})
		}
	})
}

func TestDisconnect(t *testing.T) {
	t.Run("twice emits one terminal event", func(t *testing.T) {
		tr := newFakeTransport()
		s, rec := connectTestSession(t, tr, testSessionConfig())

		require.NoError(t, s.Disconnect(context.Background(), livekit.DisconnectReason_CLIENT_INITIATED))
		require.NoError(t, s.Disconnect(context.Background(), livekit.DisconnectReason_CLIENT_INITIATED))

		events := rec.waitForCount(t, types.EventTypeStateChanged, 1)
		sc := events[0].(types.StateChangedEvent)
		require.Equal(t, types.SessionSubject, sc.Subject)
		require.Equal(t, types.ConnectionStateDisconnected, sc.State)
		require.Equal(t, types.ConnectionStateConnected, sc.Previous)

		require.Equal(t, 1, tr.CloseCallCount())
		require.Equal(t, types.ConnectionStateDisconnected, s.State())
		require.True(t, s.IsClosed())
		<-s.Closed()

		testutils.Never(t, 50*time.Millisecond, func() string {
			if n := len(rec.OfType(types.EventTypeStateChanged)); n != 1 {
				return fmt.Sprintf("got %d state changes", n)
			}
			return ""
		})
	})

	t.Run("transport close error is reported", func(t *testing.T) {
		tr := newFakeTransport()
		tr.CloseReturns(errors.New("already gone"))
		s, rec := connectTestSession(t, tr, testSessionConfig())

		require.Error(t, s.Disconnect(context.Background(), livekit.DisconnectReason_CLIENT_INITIATED))
		rec.waitForCount(t, types.EventTypeStateChanged, 1)
		require.True(t, s.IsClosed())
	})

	t.Run("after transport reported disconnect", func(t *testing.T) {
		tr := newFakeTransport()
		s, rec := connectTestSession(t, tr, testSessionConfig())
		joinAndSubscribe(s, remoteA, "TR_a1", types.TrackKindAudio)

		s.HandleTransportEvent(types.ConnectionStateChanged{
			Subject:        types.SessionSubject,
			State:          types.ConnectionStateDisconnected,
			Classification: types.ErrorClassificationSignalingExhausted,
		})
		events := rec.waitForCount(t, types.EventTypeStateChanged, 1)
		sc := events[0].(types.StateChangedEvent)
		require.Equal(t, types.ConnectionStateDisconnected, sc.State)
		require.Equal(t, types.ErrorClassificationSignalingExhausted, sc.Classification)

		<-s.Closed()
		require.Empty(t, s.RemoteParticipants())
		require.NoError(t, s.Disconnect(context.Background(), livekit.DisconnectReason_CLIENT_INITIATED))

		testutils.WithTimeout(t, func() string {
			if tr.CloseCallCount() != 1 {
				return fmt.Sprintf("expected one close, got %d", tr.CloseCallCount())
			}
			return ""
		})
		require.Len(t, rec.OfType(types.EventTypeStateChanged), 1)

		// nothing is applied once closed
		s.HandleTransportEvent(types.ParticipantJoined{ParticipantID: remoteB})
		testutils.Never(t, 50*time.Millisecond, func() string {
			if n := len(rec.OfType(types.EventTypeParticipantConnected)); n != 1 {
				return fmt.Sprintf("got %d connected events", n)
			}
			return ""
		})
	})

	t.Run("from a listener", func(t *testing.T) {
		tr := newFakeTransport()
		s, rec := connectTestSession(t, tr, testSessionConfig())

		rec.lock.Lock()
		rec.onEvent = func(s *Session, event types.Event) {
			if event.Type() == types.EventTypeParticipantConnected {
				_ = s.Disconnect(context.Background(), livekit.DisconnectReason_CLIENT_INITIATED)
			}
		}
		rec.lock.Unlock()

		s.HandleTransportEvent(types.ParticipantJoined{ParticipantID: remoteA})
		rec.waitForCount(t, types.EventTypeStateChanged, 1)
		<-s.Closed()
	})
}

func TestPublishTrack(t *testing.T) {
	t.Run("duplicate kind leaves registry unchanged", func(t *testing.T) {
		tr := newFakeTransport()
		tr.SupportsTrackReplacementReturns(false)
		s, rec := connectTestSession(t, tr, testSessionConfig())

		first := types.NewTrack(types.TrackParams{Kind: types.TrackKindAudio, Name: "mic"})
		pub, err := s.PublishTrack(context.Background(), first)
		require.NoError(t, err)
		require.True(t, pub.IsSubscribed())
		require.Equal(t, first, pub.Track())

		second := types.NewTrack(types.TrackParams{Kind: types.TrackKindAudio, Name: "mic2"})
		_, err = s.PublishTrack(context.Background(), second)
		require.ErrorIs(t, err, ErrDuplicateKind)
		var perr *PublishError
		require.True(t, errors.As(err, &perr))
		require.Equal(t, PublishErrorDuplicateKind, perr.Kind)

		require.Equal(t, 1, tr.PublishCallCount())
		local := s.LocalParticipant()
		require.Len(t, local.Publications, 1)
		require.Equal(t, first.ID(), local.Publications[0].TrackID())
		require.Equal(t, []*types.Track{first}, s.GetTracks(localParticipantID))
		require.False(t, first.IsReleased())

		rec.waitForCount(t, types.EventTypeTrackPublished, 1)

		// a different kind is fine
		video := types.NewTrack(types.TrackParams{Kind: types.TrackKindVideo, Name: "camera"})
		_, err = s.PublishTrack(context.Background(), video)
		require.NoError(t, err)
		require.Equal(t, []*types.Track{first, video}, s.GetTracks(localParticipantID))
	})

	t.Run("replacement", func(t *testing.T) {
		tr := newFakeTransport()
		tr.SupportsTrackReplacementReturns(true)
		s, rec := connectTestSession(t, tr, testSessionConfig())

		first := types.NewTrack(types.TrackParams{Kind: types.TrackKindAudio})
		_, err := s.PublishTrack(context.Background(), first)
		require.NoError(t, err)

		second := types.NewTrack(types.TrackParams{Kind: types.TrackKindAudio})
		_, err = s.PublishTrack(context.Background(), second)
		require.NoError(t, err)

		testutils.WithTimeout(t, func() string {
			if len(rec.Events()) != 3 {
				return fmt.Sprintf("expected 3 events, got %v", rec.Types())
			}
			return ""
		})
		require.Equal(t, []types.EventType{
			types.EventTypeTrackPublished,
			types.EventTypeTrackUnpublished,
			types.EventTypeTrackPublished,
		}, rec.Types())
		unpublished := rec.Events()[1].(types.TrackUnpublishedEvent)
		require.True(t, unpublished.IsLocal)
		require.Equal(t, first.ID(), unpublished.Publication.TrackID())

		require.Equal(t, []*types.Track{second}, s.GetTracks(localParticipantID))
		require.True(t, first.IsReleased())
	})

	t.Run("republishing the same track", func(t *testing.T) {
		tr := newFakeTransport()
		s, _ := connectTestSession(t, tr, testSessionConfig())

		track := types.NewTrack(types.TrackParams{Kind: types.TrackKindVideo})
		pub, err := s.PublishTrack(context.Background(), track)
		require.NoError(t, err)
		again, err := s.PublishTrack(context.Background(), track)
		require.NoError(t, err)
		require.Equal(t, pub, again)
		require.Equal(t, 1, tr.PublishCallCount())
	})

	t.Run("released track is rejected", func(t *testing.T) {
		tr := newFakeTransport()
		s, _ := connectTestSession(t, tr, testSessionConfig())

		track := types.NewTrack(types.TrackParams{Kind: types.TrackKindAudio})
		_, err := s.PublishTrack(context.Background(), track)
		require.NoError(t, err)
		s.UnpublishTrack(context.Background(), track.ID())
		require.True(t, track.IsReleased())

		_, err = s.PublishTrack(context.Background(), track)
		require.ErrorIs(t, err, ErrInvalidTrack)
		require.Equal(t, 1, tr.PublishCallCount())
		require.Empty(t, s.LocalParticipant().Publications)
	})

	t.Run("transport rejected", func(t *testing.T) {
		tr := newFakeTransport()
		tr.PublishReturns(nil, errors.New("no permission"))
		s, rec := connectTestSession(t, tr, testSessionConfig())

		_, err := s.PublishTrack(context.Background(), types.NewTrack(types.TrackParams{Kind: types.TrackKindVideo}))
		require.ErrorIs(t, err, ErrTransportRejected)
		require.Empty(t, s.LocalParticipant().Publications)

		tr.PublishReturns(&types.PublicationInfo{TrackID: "TR_other"}, nil)
		_, err = s.PublishTrack(context.Background(), types.NewTrack(types.TrackParams{Kind: types.TrackKindVideo}))
		require.ErrorIs(t, err, ErrTransportRejected)
		require.Empty(t, s.LocalParticipant().Publications)

		testutils.Never(t, 30*time.Millisecond, func() string {
			if n := len(rec.Events()); n != 0 {
				return fmt.Sprintf("unexpected events %v", rec.Types())
			}
			return ""
		})
	})

	t.Run("closed session", func(t *testing.T) {
		tr := newFakeTransport()
		s, _ := connectTestSession(t, tr, testSessionConfig())
		require.NoError(t, s.Disconnect(context.Background(), livekit.DisconnectReason_CLIENT_INITIATED))

		_, err := s.PublishTrack(context.Background(), types.NewTrack(types.TrackParams{Kind: types.TrackKindAudio}))
		require.ErrorIs(t, err, ErrSessionClosed)
	})
}

func TestUnpublishTrack(t *testing.T) {
	tr := newFakeTransport()
	tr.UnpublishReturns(errors.New("transport went away"))
	s, rec := connectTestSession(t, tr, testSessionConfig())

	track := types.NewTrack(types.TrackParams{Kind: types.TrackKindAudio})
	_, err := s.PublishTrack(context.Background(), track)
	require.NoError(t, err)

	s.UnpublishTrack(context.Background(), track.ID())
	require.Equal(t, 1, tr.UnpublishCallCount())
	require.Empty(t, s.LocalParticipant().Publications)
	require.True(t, track.IsReleased())

	events := rec.waitForCount(t, types.EventTypeTrackUnpublished, 1)
	require.True(t, events[0].(types.TrackUnpublishedEvent).IsLocal)

	// unknown tracks are ignored
	s.UnpublishTrack(context.Background(), "TR_unknown")
	require.Equal(t, 1, tr.UnpublishCallCount())
}

func TestRemoteTracks(t *testing.T) {
	t.Run("subscribed tracks in publication order", func(t *testing.T) {
		tr := newFakeTransport()
		s, rec := connectTestSession(t, tr, testSessionConfig())

		s.HandleTransportEvent(types.ParticipantJoined{ParticipantID: remoteA, Identity: "a"})
		s.HandleTransportEvent(types.RemoteTrackPublished{ParticipantID: remoteA, TrackID: "TR_1", Kind: types.TrackKindAudio})
		s.HandleTransportEvent(types.RemoteTrackPublished{ParticipantID: remoteA, TrackID: "TR_2", Kind: types.TrackKindVideo})
		s.HandleTransportEvent(types.RemoteTrackPublished{ParticipantID: remoteA, TrackID: "TR_3", Kind: types.TrackKindVideo})
		s.HandleTransportEvent(types.RemoteTrackSubscribed{ParticipantID: remoteA, TrackID: "TR_3"})
		s.HandleTransportEvent(types.RemoteTrackSubscribed{ParticipantID: remoteA, TrackID: "TR_1"})
		rec.waitForCount(t, types.EventTypeTrackSubscribed, 2)

		tracks := s.GetTracks(remoteA)
		require.Len(t, tracks, 2)
		require.Equal(t, livekit.TrackID("TR_1"), tracks[0].ID())
		require.Equal(t, livekit.TrackID("TR_3"), tracks[1].ID())

		s.HandleTransportEvent(types.RemoteTrackUnsubscribed{ParticipantID: remoteA, TrackID: "TR_1"})
		events := rec.waitForCount(t, types.EventTypeTrackUnsubscribed, 1)
		released := events[0].(types.TrackUnsubscribedEvent).Track
		require.True(t, released.IsReleased())
		require.Len(t, s.GetTracks(remoteA), 1)

		pub, ok := s.Publication(remoteA, "TR_1")
		require.True(t, ok)
		require.Equal(t, types.SubscriptionStateUnsubscribed, pub.State())
	})

	t.Run("participant leaving cascades", func(t *testing.T) {
		tr := newFakeTransport()
		s, rec := connectTestSession(t, tr, testSessionConfig())

		joinAndSubscribe(s, remoteA, "TR_a1", types.TrackKindAudio)
		rec.waitForCount(t, types.EventTypeTrackSubscribed, 1)
		track := s.GetTracks(remoteA)[0]

		s.HandleTransportEvent(types.ParticipantLeft{ParticipantID: remoteA})
		rec.waitForCount(t, types.EventTypeParticipantDisconnected, 1)

		require.Equal(t, []types.EventType{
			types.EventTypeParticipantConnected,
			types.EventTypeTrackPublished,
			types.EventTypeTrackSubscribed,
			types.EventTypeTrackUnsubscribed,
			types.EventTypeTrackUnpublished,
			types.EventTypeParticipantDisconnected,
		}, rec.Types())

		require.Empty(t, s.GetTracks(remoteA))
		require.Empty(t, s.RemoteParticipants())
		require.True(t, track.IsReleased())
		_, ok := s.Participant(remoteA)
		require.False(t, ok)

		disconnected := rec.OfType(types.EventTypeParticipantDisconnected)[0].(types.ParticipantDisconnectedEvent)
		require.Equal(t, types.ConnectionStateDisconnected, disconnected.Participant.State)
	})

	t.Run("subscription failure", func(t *testing.T) {
		tr := newFakeTransport()
		s, rec := connectTestSession(t, tr, testSessionConfig())

		s.HandleTransportEvent(types.ParticipantJoined{ParticipantID: remoteA})
		s.HandleTransportEvent(types.RemoteTrackPublished{ParticipantID: remoteA, TrackID: "TR_1", Kind: types.TrackKindVideo})
		s.HandleTransportEvent(types.RemoteTrackSubscriptionFailed{ParticipantID: remoteA, TrackID: "TR_1", Reason: "codec"})

		events := rec.waitForCount(t, types.EventTypeTrackSubscriptionFailed, 1)
		require.Equal(t, "codec", events[0].(types.TrackSubscriptionFailedEvent).Reason)
		pub, ok := s.Publication(remoteA, "TR_1")
		require.True(t, ok)
		require.Equal(t, types.SubscriptionStateFailed, pub.State())
		require.Empty(t, s.GetTracks(remoteA))
	})

	t.Run("enabled changes", func(t *testing.T) {
		tr := newFakeTransport()
		s, rec := connectTestSession(t, tr, testSessionConfig())

		joinAndSubscribe(s, remoteA, "TR_1", types.TrackKindAudio)
		s.HandleTransportEvent(types.RemoteTrackEnabledChanged{ParticipantID: remoteA, TrackID: "TR_1", Enabled: false})
		s.HandleTransportEvent(types.RemoteTrackEnabledChanged{ParticipantID: remoteA, TrackID: "TR_1", Enabled: false})

		events := rec.waitForCount(t, types.EventTypeTrackEnabledChanged, 1)
		require.False(t, events[0].(types.TrackEnabledChangedEvent).Enabled)
		require.False(t, s.GetTracks(remoteA)[0].IsEnabled())
	})

	t.Run("updates before join are deferred", func(t *testing.T) {
		tr := newFakeTransport()
		s, rec := connectTestSession(t, tr, testSessionConfig())

		s.HandleTransportEvent(types.RemoteTrackPublished{ParticipantID: remoteB, TrackID: "TR_b1", Kind: types.TrackKindVideo})
		s.HandleTransportEvent(types.RemoteTrackSubscribed{ParticipantID: remoteB, TrackID: "TR_b1"})
		testutils.Never(t, 30*time.Millisecond, func() string {
			if n := len(rec.Events()); n != 0 {
				return fmt.Sprintf("unexpected events %v", rec.Types())
			}
			return ""
		})

		s.HandleTransportEvent(types.ParticipantJoined{ParticipantID: remoteB})
		rec.waitForCount(t, types.EventTypeTrackSubscribed, 1)
		require.Equal(t, []types.EventType{
			types.EventTypeParticipantConnected,
			types.EventTypeTrackPublished,
			types.EventTypeTrackSubscribed,
		}, rec.Types())
		require.Len(t, s.GetTracks(remoteB), 1)
	})

	t.Run("track owned by another participant is rejected", func(t *testing.T) {
		tr := newFakeTransport()
		s, rec := connectTestSession(t, tr, testSessionConfig())

		s.HandleTransportEvent(types.ParticipantJoined{ParticipantID: remoteA})
		s.HandleTransportEvent(types.ParticipantJoined{ParticipantID: remoteB})
		s.HandleTransportEvent(types.RemoteTrackPublished{ParticipantID: remoteA, TrackID: "TR_1", Kind: types.TrackKindAudio})
		s.HandleTransportEvent(types.RemoteTrackPublished{ParticipantID: remoteB, TrackID: "TR_1", Kind: types.TrackKindAudio})
		s.HandleTransportEvent(types.DominantSpeakerChanged{ParticipantID: remoteB})

		rec.waitForCount(t, types.EventTypeDominantSpeakerChanged, 1)
		require.Len(t, rec.OfType(types.EventTypeTrackPublished), 1)
		_, ok := s.Publication(remoteB, "TR_1")
		require.False(t, ok)
	})
}

func TestDominantSpeaker(t *testing.T) {
	tr := newFakeTransport()
	s, rec := connectTestSession(t, tr, testSessionConfig())

	s.HandleTransportEvent(types.ParticipantJoined{ParticipantID: remoteA})
	s.HandleTransportEvent(types.ParticipantJoined{ParticipantID: remoteB})
	s.HandleTransportEvent(types.DominantSpeakerChanged{ParticipantID: remoteA})
	s.HandleTransportEvent(types.DominantSpeakerChanged{ParticipantID: remoteA})
	s.HandleTransportEvent(types.DominantSpeakerChanged{ParticipantID: "PA_unknown"})
	rec.waitForCount(t, types.EventTypeDominantSpeakerChanged, 1)
	require.Equal(t, remoteA, s.DominantSpeaker())

	s.HandleTransportEvent(types.ParticipantLeft{ParticipantID: remoteB})
	rec.waitForCount(t, types.EventTypeParticipantDisconnected, 1)
	require.Equal(t, remoteA, s.DominantSpeaker())

	s.HandleTransportEvent(types.ParticipantLeft{ParticipantID: remoteA})
	events := rec.waitForCount(t, types.EventTypeDominantSpeakerChanged, 2)
	cleared := events[1].(types.DominantSpeakerChangedEvent)
	require.Empty(t, cleared.ParticipantID)
	require.Equal(t, remoteA, cleared.Previous)
	require.Empty(t, s.DominantSpeaker())
}

func TestConnectionQuality(t *testing.T) {
	tr := newFakeTransport()
	s, rec := connectTestSession(t, tr, testSessionConfig())

	s.HandleTransportEvent(types.ParticipantJoined{ParticipantID: remoteA})
	s.HandleTransportEvent(types.ConnectionQualityChanged{ParticipantID: remoteA, Quality: livekit.ConnectionQuality_POOR})
	s.HandleTransportEvent(types.ConnectionQualityChanged{ParticipantID: remoteA, Quality: livekit.ConnectionQuality_POOR})

	events := rec.waitForCount(t, types.EventTypeConnectionQualityChanged, 1)
	require.Equal(t, livekit.ConnectionQuality_POOR, events[0].(types.ConnectionQualityChangedEvent).Quality)
	p, ok := s.Participant(remoteA)
	require.True(t, ok)
	require.Equal(t, livekit.ConnectionQuality_POOR, p.Quality)
}

func TestReconnection(t *testing.T) {
	t.Run("session reconnecting freezes tracks", func(t *testing.T) {
		tr := newFakeTransport()
		s, rec := connectTestSession(t, tr, testSessionConfig())

		joinAndSubscribe(s, remoteA, "TR_1", types.TrackKindVideo)
		rec.waitForCount(t, types.EventTypeTrackSubscribed, 1)
		track := s.GetTracks(remoteA)[0]

		deadline := time.Now().Add(10 * time.Second)
		s.HandleTransportEvent(types.ConnectionStateChanged{
			Subject:        types.SessionSubject,
			State:          types.ConnectionStateReconnecting,
			Classification: types.ErrorClassificationMediaReconnecting,
			RetryDeadline:  deadline,
		})
		events := rec.waitForCount(t, types.EventTypeStateChanged, 1)
		sc := events[0].(types.StateChangedEvent)
		require.Equal(t, types.ConnectionStateReconnecting, sc.State)
		require.Equal(t, types.ErrorClassificationMediaReconnecting, sc.Classification)
		require.True(t, track.IsFrozen())

		record, ok := s.ReconnectionRecord(types.SessionSubject)
		require.True(t, ok)
		require.Equal(t, deadline, record.RetryDeadline)

		s.HandleTransportEvent(types.ConnectionStateChanged{Subject: types.SessionSubject, State: types.ConnectionStateConnected})
		rec.waitForCount(t, types.EventTypeStateChanged, 2)
		require.False(t, track.IsFrozen())
		_, ok = s.ReconnectionRecord(types.SessionSubject)
		require.False(t, ok)
		require.Equal(t, 1, tr.ConnectCallCount())
	})

	t.Run("participants are tracked independently", func(t *testing.T) {
		tr := newFakeTransport()
		s, rec := connectTestSession(t, tr, testSessionConfig())

		joinAndSubscribe(s, remoteA, "TR_a", types.TrackKindAudio)
		joinAndSubscribe(s, remoteB, "TR_b", types.TrackKindAudio)
		rec.waitForCount(t, types.EventTypeTrackSubscribed, 2)

		s.HandleTransportEvent(types.ConnectionStateChanged{
			Subject: types.ParticipantSubject(remoteA),
			State:   types.ConnectionStateReconnecting,
		})
		events := rec.waitForCount(t, types.EventTypeStateChanged, 1)
		sc := events[0].(types.StateChangedEvent)
		require.Equal(t, types.ParticipantSubject(remoteA), sc.Subject)
		require.Equal(t, types.ErrorClassificationUnknown, sc.Classification)

		require.Equal(t, types.ConnectionStateConnected, s.State())
		require.Equal(t, types.ConnectionStateReconnecting, s.ConnectionState(types.ParticipantSubject(remoteA)))
		require.Equal(t, types.ConnectionStateConnected, s.ConnectionState(types.ParticipantSubject(remoteB)))
		require.True(t, s.GetTracks(remoteA)[0].IsFrozen())
		require.False(t, s.GetTracks(remoteB)[0].IsFrozen())

		p, _ := s.Participant(remoteA)
		require.Equal(t, types.ConnectionStateReconnecting, p.State)

		// a session level blip must not thaw a participant still reconnecting
		s.HandleTransportEvent(types.ConnectionStateChanged{Subject: types.SessionSubject, State: types.ConnectionStateReconnecting})
		s.HandleTransportEvent(types.ConnectionStateChanged{Subject: types.SessionSubject, State: types.ConnectionStateConnected})
		rec.waitForCount(t, types.EventTypeStateChanged, 3)
		require.True(t, s.GetTracks(remoteA)[0].IsFrozen())
		require.False(t, s.GetTracks(remoteB)[0].IsFrozen())

		// participant level disconnect does not end the session
		s.HandleTransportEvent(types.ConnectionStateChanged{Subject: types.ParticipantSubject(remoteA), State: types.ConnectionStateDisconnected})
		rec.waitForCount(t, types.EventTypeStateChanged, 4)
		require.False(t, s.IsClosed())
		require.Equal(t, types.ConnectionStateConnected, s.State())
	})

	t.Run("participant resuming during session reconnect stays frozen", func(t *testing.T) {
		tr := newFakeTransport()
		s, rec := connectTestSession(t, tr, testSessionConfig())

		joinAndSubscribe(s, remoteA, "TR_a", types.TrackKindAudio)
		rec.waitForCount(t, types.EventTypeTrackSubscribed, 1)
		track := s.GetTracks(remoteA)[0]

		s.HandleTransportEvent(types.ConnectionStateChanged{Subject: types.ParticipantSubject(remoteA), State: types.ConnectionStateReconnecting})
		s.HandleTransportEvent(types.ConnectionStateChanged{Subject: types.SessionSubject, State: types.ConnectionStateReconnecting})
		s.HandleTransportEvent(types.ConnectionStateChanged{Subject: types.ParticipantSubject(remoteA), State: types.ConnectionStateConnected})
		rec.waitForCount(t, types.EventTypeStateChanged, 3)

		require.Equal(t, types.ConnectionStateReconnecting, s.State())
		require.Equal(t, types.ConnectionStateConnected, s.ConnectionState(types.ParticipantSubject(remoteA)))
		require.True(t, track.IsFrozen())

		s.HandleTransportEvent(types.ConnectionStateChanged{Subject: types.SessionSubject, State: types.ConnectionStateConnected})
		rec.waitForCount(t, types.EventTypeStateChanged, 4)
		require.False(t, track.IsFrozen())
	})
}

func TestTrackSwitchedOff(t *testing.T) {
	tr := newFakeTransport()
	s, rec := connectTestSession(t, tr, testSessionConfig())

	joinAndSubscribe(s, remoteA, "TR_v", types.TrackKindVideo)
	rec.waitForCount(t, types.EventTypeTrackSubscribed, 1)
	track := s.GetTracks(remoteA)[0]

	require.NoError(t, s.SetTrackVisibility("TR_v", false, nil))
	testutils.WithTimeout(t, func() string {
		if tr.SetTrackDeliveryHintCallCount() != 1 {
			return "hint not sent"
		}
		return ""
	})
	_, trackID, hint := tr.SetTrackDeliveryHintArgsForCall(0)
	require.Equal(t, livekit.TrackID("TR_v"), trackID)
	require.False(t, hint.Enabled)

	// only the transport's confirmation flips the flag
	require.False(t, track.IsSwitchedOff())

	s.HandleTransportEvent(types.TrackSwitchedChanged{TrackID: "TR_v", SwitchedOff: true})
	events := rec.waitForCount(t, types.EventTypeTrackSwitchedOffChanged, 1)
	require.Equal(t, remoteA, events[0].(types.TrackSwitchedOffChangedEvent).ParticipantID)
	require.True(t, track.IsSwitchedOff())

	// repeated confirmation is not an event
	s.HandleTransportEvent(types.TrackSwitchedChanged{TrackID: "TR_v", SwitchedOff: true})
	s.HandleTransportEvent(types.TrackSwitchedChanged{TrackID: "TR_v", SwitchedOff: false})
	rec.waitForCount(t, types.EventTypeTrackSwitchedOffChanged, 2)
	require.False(t, track.IsSwitchedOff())

	require.Error(t, s.SetTrackVisibility("TR_unknown", true, nil))
}

func TestSampling(t *testing.T) {
	newSamplingTransport := func() *typesfakes.FakeTransport {
		tr := newFakeTransport()
		var bytes atomic.Uint64
		tr.GetStatsStub = func(_ context.Context, trackIDs []livekit.TrackID) (map[livekit.TrackID]types.TrackStats, error) {
			res := make(map[livekit.TrackID]types.TrackStats, len(trackIDs))
			for _, trackID := range trackIDs {
				res[trackID] = types.TrackStats{
					BytesTransferred: bytes.Add(1000),
					Timestamp:        time.Now(),
				}
			}
			return res, nil
		}
		return tr
	}

	t.Run("samples reach the track", func(t *testing.T) {
		tr := newSamplingTransport()
		s, rec := connectTestSession(t, tr, testSessionConfig())

		joinAndSubscribe(s, remoteA, "TR_1", types.TrackKindAudio)
		rec.waitForCount(t, types.EventTypeTrackSubscribed, 1)

		h, err := s.StartSampling("TR_1", 10*time.Millisecond)
		require.NoError(t, err)
		testutils.WithTimeout(t, func() string {
			if len(rec.OfType(types.EventTypeBitrateSampled)) < 2 {
				return "waiting for samples"
			}
			return ""
		})
		s.StopSampling(h)
		s.StopSampling(h)

		sampled := rec.OfType(types.EventTypeBitrateSampled)[0].(types.BitrateSampledEvent)
		require.Equal(t, remoteA, sampled.ParticipantID)
		require.Equal(t, livekit.TrackID("TR_1"), sampled.Sample.TrackID)
		require.Greater(t, sampled.Sample.Bitrate, 0.0)

		last, ok := s.GetTracks(remoteA)[0].LastSample()
		require.True(t, ok)
		require.Greater(t, last.Bitrate, 0.0)
	})

	t.Run("unknown track", func(t *testing.T) {
		tr := newSamplingTransport()
		s, _ := connectTestSession(t, tr, testSessionConfig())

		_, err := s.StartSampling("TR_unknown", time.Second)
		require.ErrorIs(t, err, ErrTrackNotFound)
	})

	t.Run("stop from a listener", func(t *testing.T) {
		tr := newSamplingTransport()
		s, rec := connectTestSession(t, tr, testSessionConfig())

		joinAndSubscribe(s, remoteA, "TR_1", types.TrackKindAudio)
		rec.waitForCount(t, types.EventTypeTrackSubscribed, 1)

		var handle atomic.Pointer[stats.SamplerHandle]
		rec.lock.Lock()
		rec.onEvent = func(s *Session, event types.Event) {
			if event.Type() == types.EventTypeBitrateSampled {
				s.StopSampling(handle.Load())
			}
		}
		rec.lock.Unlock()

		h, err := s.StartSampling("TR_1", 50*time.Millisecond)
		require.NoError(t, err)
		handle.Store(h)

		rec.waitForCount(t, types.EventTypeBitrateSampled, 1)
		testutils.Never(t, 200*time.Millisecond, func() string {
			if n := len(rec.OfType(types.EventTypeBitrateSampled)); n != 1 {
				return fmt.Sprintf("got %d samples after stop", n)
			}
			return ""
		})
		require.True(t, h.IsStopped())
	})

	t.Run("sampling racing an unsubscribe never outlives the track", func(t *testing.T) {
		tr := newSamplingTransport()
		s, rec := connectTestSession(t, tr, testSessionConfig())

		s.HandleTransportEvent(types.ParticipantJoined{ParticipantID: remoteA, Identity: "a"})
		for i := 0; i < 50; i++ {
			trackID := livekit.TrackID(fmt.Sprintf("TR_race_%d", i))
			s.HandleTransportEvent(types.RemoteTrackPublished{ParticipantID: remoteA, TrackID: trackID, Kind: types.TrackKindAudio})
			s.HandleTransportEvent(types.RemoteTrackSubscribed{ParticipantID: remoteA, TrackID: trackID})
			rec.waitForCount(t, types.EventTypeTrackSubscribed, i+1)

			var (
				h   *stats.SamplerHandle
				err error
			)
			done := make(chan struct{})
			go func() {
				defer close(done)
				h, err = s.StartSampling(trackID, time.Hour)
			}()
			s.HandleTransportEvent(types.RemoteTrackUnsubscribed{ParticipantID: remoteA, TrackID: trackID})
			<-done
			rec.waitForCount(t, types.EventTypeTrackUnsubscribed, i+1)

			if err != nil {
				require.ErrorIs(t, err, ErrTrackNotFound)
				continue
			}
			require.True(t, h.IsStopped(), "sampler for %s still running", trackID)
		}
	})

	t.Run("unsubscribe stops sampling", func(t *testing.T) {
		tr := newSamplingTransport()
		s, rec := connectTestSession(t, tr, testSessionConfig())

		joinAndSubscribe(s, remoteA, "TR_1", types.TrackKindAudio)
		rec.waitForCount(t, types.EventTypeTrackSubscribed, 1)

		h, err := s.StartSampling("TR_1", 10*time.Millisecond)
		require.NoError(t, err)

		s.HandleTransportEvent(types.RemoteTrackUnsubscribed{ParticipantID: remoteA, TrackID: "TR_1"})
		rec.waitForCount(t, types.EventTypeTrackUnsubscribed, 1)
		testutils.WithTimeout(t, func() string {
			if !h.IsStopped() {
				return "sampler still running"
			}
			return ""
		})
	})
}

func TestListeners(t *testing.T) {
	t.Run("replay delivers history once", func(t *testing.T) {
		tr := newFakeTransport()
		conf := testSessionConfig()
		conf.EventHistorySize = 2
		s, rec := connectTestSession(t, tr, conf)

		s.HandleTransportEvent(types.ParticipantJoined{ParticipantID: remoteA})
		s.HandleTransportEvent(types.ParticipantJoined{ParticipantID: remoteB})
		s.HandleTransportEvent(types.DominantSpeakerChanged{ParticipantID: remoteB})
		rec.waitForCount(t, types.EventTypeDominantSpeakerChanged, 1)

		late := &eventRecorder{}
		s.AddListener(late, true)
		testutils.WithTimeout(t, func() string {
			if len(late.Events()) != 2 {
				return fmt.Sprintf("expected replayed history, got %v", late.Types())
			}
			return ""
		})
		require.Equal(t, []types.EventType{
			types.EventTypeParticipantConnected,
			types.EventTypeDominantSpeakerChanged,
		}, late.Types())

		s.HandleTransportEvent(types.ParticipantLeft{ParticipantID: remoteA})
		late.waitForCount(t, types.EventTypeParticipantDisconnected, 1)
		require.Len(t, late.OfType(types.EventTypeParticipantConnected), 1)
	})

	t.Run("without replay only new events", func(t *testing.T) {
		tr := newFakeTransport()
		s, rec := connectTestSession(t, tr, testSessionConfig())

		s.HandleTransportEvent(types.ParticipantJoined{ParticipantID: remoteA})
		rec.waitForCount(t, types.EventTypeParticipantConnected, 1)

		late := &eventRecorder{}
		id := s.AddListener(late, false)
		s.HandleTransportEvent(types.ParticipantJoined{ParticipantID: remoteB})
		late.waitForCount(t, types.EventTypeParticipantConnected, 1)

		s.RemoveListener(id)
		s.HandleTransportEvent(types.ParticipantLeft{ParticipantID: remoteB})
		rec.waitForCount(t, types.EventTypeParticipantDisconnected, 1)
		require.Empty(t, late.OfType(types.EventTypeParticipantDisconnected))
	})
}
