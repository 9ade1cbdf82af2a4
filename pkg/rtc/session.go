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
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/frostbyte73/core"
	"github.com/gammazero/deque"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/utils/guid"

	"github.com/livekit/livekit-session/pkg/config"
	"github.com/livekit/livekit-session/pkg/rtc/adaptivestream"
	"github.com/livekit/livekit-session/pkg/rtc/supervisor"
	"github.com/livekit/livekit-session/pkg/rtc/types"
	"github.com/livekit/livekit-session/pkg/stats"
	"github.com/livekit/livekit-session/pkg/telemetry/prometheus"
	"github.com/livekit/livekit-session/pkg/utils"
)

const (
	sessionPrefix = "SE_"

	defaultConnectTimeout      = 10 * time.Second
	defaultDisconnectTimeout   = 5 * time.Second
	defaultStatsInterval       = time.Second
	defaultDeferredUpdatesSize = 100

	maxDeferredPerParticipant = 64
)

// Listener receives session events, one at a time and in emission order.
// Listeners may call back into the session.
type Listener interface {
	OnSessionEvent(s *Session, event types.Event)
}

type ListenerFunc func(s *Session, event types.Event)

func (f ListenerFunc) OnSessionEvent(s *Session, event types.Event) {
	f(s, event)
}

type ListenerID uint64

type listenerEntry struct {
	id       ListenerID
	listener Listener
	// events up to and including this sequence were emitted before registration
	addedSeq uint64
	removed  atomic.Bool
}

type sequencedEvent struct {
	seq   uint64
	event types.Event
}

type SessionParams struct {
	Transport types.Transport
	Config    config.SessionConfig
	Logger    logger.Logger
}

// Session owns one connection to a room: the participants and tracks the
// transport reports, local publications, connectivity supervision, bitrate
// sampling and delivery hints. Transport events and samples are reduced one
// at a time and produce a single ordered event stream.
type Session struct {
	params    SessionParams
	id        string
	info      types.SessionInfo
	startedAt time.Time
	logger    logger.Logger

	registry     *TrackRegistry
	reconnection *supervisor.ReconnectionController
	hints        *adaptivestream.BandwidthHintController
	sampler      *stats.StatsSampler

	inbound  *utils.OpsQueue
	delivery *utils.OpsQueue

	// serializes reduction of transport events and samples with commands
	stateLock       sync.Mutex
	samplers        map[livekit.TrackID][]*stats.SamplerHandle
	deferred        *lru.Cache[livekit.ParticipantID, []types.TransportEvent]
	dominantSpeaker livekit.ParticipantID
	seq             uint64
	history         deque.Deque[sequencedEvent]

	listenersLock  sync.RWMutex
	listeners      *orderedmap.OrderedMap[ListenerID, *listenerEntry]
	nextListenerID atomic.Uint64

	disconnecting   atomic.Bool
	transportClosed atomic.Bool
	closed          core.Fuse
}

// Connect establishes a session. On success the local participant is
// registered and the session starts Connected.
func Connect(
	ctx context.Context,
	params SessionParams,
	creds types.Credentials,
	opts types.ConnectOptions,
) (*Session, error) {
	if params.Transport == nil {
		return nil, &ConnectError{Kind: ConnectErrorTransport, Err: errors.New("no transport")}
	}

	s := newSession(params)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.params.Config.ConnectTimeout
	}
	opts.Timeout = timeout

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	info, err := s.params.Transport.Connect(connectCtx, creds, opts, s)
	if err == nil && info == nil {
		err = errors.New("transport returned no session info")
	}
	if err != nil {
		s.abort()
		cerr := classifyConnectError(connectCtx, err)
		s.logger.Warnw("could not connect", err, "kind", cerr.Kind, "url", creds.URL)
		return nil, cerr
	}

	s.info = *info
	s.logger = s.logger.WithValues(
		"room", info.RoomName,
		"participantID", info.ParticipantID,
		"participant", info.Identity,
	)
	s.registry.UpsertParticipant(info.ParticipantID, info.Identity, true)
	s.startedAt = time.Now()
	prometheus.SessionStarted()

	s.inbound.Start()
	s.delivery.Start()

	s.logger.Infow("session connected", "url", creds.URL, "autoSubscribe", opts.AutoSubscribe)
	return s, nil
}

func newSession(params SessionParams) *Session {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	applySessionDefaults(&params.Config)

	s := &Session{
		params:    params,
		id:        guid.New(sessionPrefix),
		samplers:  make(map[livekit.TrackID][]*stats.SamplerHandle),
		listeners: orderedmap.NewOrderedMap[ListenerID, *listenerEntry](),
	}
	s.logger = params.Logger.WithValues("sessionID", s.id)

	s.registry = NewTrackRegistry(TrackRegistryParams{
		Logger: s.logger,
	})
	s.reconnection = supervisor.NewReconnectionController(supervisor.ReconnectionControllerParams{
		Freezer:      s.registry,
		OnTransition: s.onTransition,
		Logger:       s.logger,
	})
	s.hints = adaptivestream.NewBandwidthHintController(adaptivestream.BandwidthHintControllerParams{
		Sender:             params.Transport,
		LookupTrack:        s.lookupRemoteTrack,
		DimensionsDebounce: params.Config.HintDimensionsDebounce,
		HintTimeout:        params.Config.HintTimeout,
		Logger:             s.logger,
	})
	s.sampler = stats.NewStatsSampler(stats.StatsSamplerParams{
		Source:       params.Transport,
		Sink:         stats.SampleSinkFunc(s.onBitrateSample),
		FetchTimeout: params.Config.StatsFetchTimeout,
		Logger:       s.logger,
	})

	// only errors on a non-positive size
	s.deferred, _ = lru.New[livekit.ParticipantID, []types.TransportEvent](params.Config.DeferredUpdatesSize)

	s.inbound = utils.NewOpsQueue(utils.OpsQueueParams{
		Name:   "transport-events",
		Logger: s.logger,
	})
	s.delivery = utils.NewOpsQueue(utils.OpsQueueParams{
		Name:        "session-events",
		FlushOnStop: true,
		Logger:      s.logger,
	})
	return s
}

func applySessionDefaults(conf *config.SessionConfig) {
	if conf.ConnectTimeout <= 0 {
		conf.ConnectTimeout = defaultConnectTimeout
	}
	if conf.DisconnectTimeout <= 0 {
		conf.DisconnectTimeout = defaultDisconnectTimeout
	}
	if conf.StatsInterval <= 0 {
		conf.StatsInterval = defaultStatsInterval
	}
	if conf.DeferredUpdatesSize <= 0 {
		conf.DeferredUpdatesSize = defaultDeferredUpdatesSize
	}
	if conf.EventHistorySize < 0 {
		conf.EventHistorySize = 0
	}
}

func classifyConnectError(ctx context.Context, err error) *ConnectError {
	switch {
	case errors.Is(err, types.ErrUnauthorized):
		return &ConnectError{Kind: ConnectErrorUnauthorized, Err: err}
	case errors.Is(err, types.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &ConnectError{Kind: ConnectErrorTimeout, Err: err}
	default:
		return &ConnectError{Kind: ConnectErrorTransport, Err: err}
	}
}

// abort releases what newSession started when connecting fails.
func (s *Session) abort() {
	s.closed.Break()
	s.sampler.Stop()
	s.hints.Close()
	s.inbound.Stop()
	s.delivery.Stop()
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Info() types.SessionInfo {
	return s.info
}

func (s *Session) Logger() logger.Logger {
	return s.logger
}

// State is the session level connection state.
func (s *Session) State() types.ConnectionState {
	return s.reconnection.State(types.SessionSubject)
}

func (s *Session) IsClosed() bool {
	return s.closed.IsBroken()
}

// Closed fires once the session has reached its terminal state.
func (s *Session) Closed() <-chan struct{} {
	return s.closed.Watch()
}

// Drained fires after Closed, once every emitted event has reached the
// listeners.
func (s *Session) Drained() <-chan struct{} {
	return s.delivery.Done()
}

// Disconnect closes the transport and moves the session to Disconnected.
// Calling it more than once is harmless, the terminal state change is
// emitted exactly once.
func (s *Session) Disconnect(ctx context.Context, reason livekit.DisconnectReason) error {
	if s.disconnecting.Swap(true) {
		return nil
	}

	s.logger.Infow("disconnecting session", "reason", reason)
	err := s.closeTransport(ctx)

	s.stateLock.Lock()
	s.teardownLocked()
	s.stateLock.Unlock()

	if err != nil {
		return errors.Wrap(err, "could not close transport")
	}
	return nil
}

func (s *Session) closeTransport(ctx context.Context) error {
	if s.transportClosed.Swap(true) {
		return nil
	}
	closeCtx, cancel := context.WithTimeout(ctx, s.params.Config.DisconnectTimeout)
	defer cancel()

	if err := s.params.Transport.Close(closeCtx); err != nil {
		s.logger.Warnw("error closing transport", err)
		return err
	}
	return nil
}

// PublishTrack publishes a local track. A second track of a kind already
// published is rejected unless the transport can replace it, in which case
// the previous publication is unpublished first.
func (s *Session) PublishTrack(ctx context.Context, track *types.Track) (*types.TrackPublication, error) {
	if track == nil || track.IsReleased() {
		return nil, ErrInvalidTrack
	}
	if s.closed.IsBroken() {
		return nil, ErrSessionClosed
	}

	localID := s.info.ParticipantID
	if existing, ok := s.registry.Publication(localID, track.ID()); ok {
		return existing, nil
	}

	canReplace := s.params.Transport.SupportsTrackReplacement()
	if _, ok := s.registry.LocalPublicationOfKind(track.Kind()); ok && !canReplace {
		prometheus.RecordPublishAttempt(track.Kind().String(), "duplicate_kind")
		return nil, &PublishError{Kind: PublishErrorDuplicateKind}
	}

	pubInfo, err := s.params.Transport.Publish(ctx, track)
	if err == nil && pubInfo != nil && pubInfo.TrackID != "" && pubInfo.TrackID != track.ID() {
		err = errors.Errorf("transport assigned track id %s, expected %s", pubInfo.TrackID, track.ID())
	}
	if err != nil {
		prometheus.RecordPublishAttempt(track.Kind().String(), "rejected")
		s.logger.Warnw("could not publish track", err, "track", track)
		return nil, &PublishError{Kind: PublishErrorTransportRejected, Err: err}
	}

	s.stateLock.Lock()
	if s.closed.IsBroken() {
		s.stateLock.Unlock()
		return nil, ErrSessionClosed
	}

	existing, ok := s.registry.LocalPublicationOfKind(track.Kind())
	if ok && !canReplace {
		// lost a race with a concurrent publish of the same kind
		s.stateLock.Unlock()
		s.rollbackPublish(ctx, track)
		prometheus.RecordPublishAttempt(track.Kind().String(), "duplicate_kind")
		return nil, &PublishError{Kind: PublishErrorDuplicateKind}
	}
	if ok {
		s.removePublicationLocked(existing, true)
	}

	pub := types.NewLocalTrackPublication(localID, track)
	if _, err := s.registry.UpsertPublication(localID, pub); err != nil {
		s.stateLock.Unlock()
		s.rollbackPublish(ctx, track)
		prometheus.RecordPublishAttempt(track.Kind().String(), "rejected")
		return nil, &PublishError{Kind: PublishErrorTransportRejected, Err: err}
	}
	prometheus.RecordPublishAttempt(track.Kind().String(), "published")
	prometheus.AddPublishedTrack(track.Kind().String(), true)
	s.emitLocked(types.TrackPublishedEvent{
		ParticipantID: localID,
		IsLocal:       true,
		Publication:   pub,
	})
	s.stateLock.Unlock()

	s.logger.Infow("published track", "track", track)
	return pub, nil
}

func (s *Session) rollbackPublish(ctx context.Context, track *types.Track) {
	if err := s.params.Transport.Unpublish(ctx, track.ID()); err != nil {
		s.logger.Warnw("could not roll back publish", err, "track", track)
	}
}

// UnpublishTrack removes a local publication. Unknown tracks are ignored.
// The publication is removed locally even when the transport fails.
func (s *Session) UnpublishTrack(ctx context.Context, trackID livekit.TrackID) {
	if _, ok := s.registry.Publication(s.info.ParticipantID, trackID); !ok {
		return
	}

	if err := s.params.Transport.Unpublish(ctx, trackID); err != nil {
		s.logger.Warnw("transport failed to unpublish track", err, "trackID", trackID)
	}

	s.stateLock.Lock()
	defer s.stateLock.Unlock()

	if pub, ok := s.registry.Publication(s.info.ParticipantID, trackID); ok {
		s.removePublicationLocked(pub, true)
		s.logger.Infow("unpublished track", "trackID", trackID)
	}
}

// SetTrackVisibility reports whether a subscribed remote video track is
// rendered. Returns once the hint is queued.
func (s *Session) SetTrackVisibility(trackID livekit.TrackID, visible bool, dimensions *types.Dimensions) error {
	if s.closed.IsBroken() {
		return ErrSessionClosed
	}
	return s.hints.SetTrackVisibility(trackID, visible, dimensions)
}

// StartSampling samples the bitrate of a track. A non-positive interval uses
// the configured default.
func (s *Session) StartSampling(trackID livekit.TrackID, interval time.Duration) (*stats.SamplerHandle, error) {
	if s.closed.IsBroken() {
		return nil, ErrSessionClosed
	}
	track, ok := s.registry.Track(trackID)
	if !ok {
		return nil, ErrTrackNotFound
	}
	if interval <= 0 {
		interval = s.params.Config.StatsInterval
	}

	h, err := s.sampler.StartSampling(trackID, interval)
	if err != nil {
		return nil, err
	}

	s.stateLock.Lock()
	defer s.stateLock.Unlock()

	// the track may have been unsubscribed or replaced while the handle started
	if current, ok := s.registry.Track(trackID); s.closed.IsBroken() || !ok || current != track {
		s.sampler.StopSampling(h)
		if s.closed.IsBroken() {
			return nil, ErrSessionClosed
		}
		return nil, ErrTrackNotFound
	}
	s.samplers[trackID] = append(s.samplers[trackID], h)
	return h, nil
}

// StopSampling is idempotent and may be called from a listener. No sample
// from the handle is emitted after it returns.
func (s *Session) StopSampling(h *stats.SamplerHandle) {
	if h == nil {
		return
	}
	s.sampler.StopSampling(h)

	s.stateLock.Lock()
	handles := s.samplers[h.TrackID()]
	for i, other := range handles {
		if other == h {
			handles = append(handles[:i], handles[i+1:]...)
			break
		}
	}
	if len(handles) == 0 {
		delete(s.samplers, h.TrackID())
	} else {
		s.samplers[h.TrackID()] = handles
	}
	s.stateLock.Unlock()
}

// ------------------------------------------------

func (s *Session) LocalParticipant() types.ParticipantInfo {
	info, _ := s.registry.Participant(s.info.ParticipantID)
	return info
}

// RemoteParticipants returns remote participants in join order.
func (s *Session) RemoteParticipants() []types.ParticipantInfo {
	var remote []types.ParticipantInfo
	for _, p := range s.registry.Participants() {
		if !p.IsLocal {
			remote = append(remote, p)
		}
	}
	return remote
}

func (s *Session) Participant(participantID livekit.ParticipantID) (types.ParticipantInfo, bool) {
	return s.registry.Participant(participantID)
}

// GetTracks returns the subscribed tracks of a participant in publication order.
func (s *Session) GetTracks(participantID livekit.ParticipantID) []*types.Track {
	return s.registry.GetTracks(participantID)
}

func (s *Session) Publication(participantID livekit.ParticipantID, trackID livekit.TrackID) (*types.TrackPublication, bool) {
	return s.registry.Publication(participantID, trackID)
}

func (s *Session) DominantSpeaker() livekit.ParticipantID {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()

	return s.dominantSpeaker
}

func (s *Session) ConnectionState(subject types.Subject) types.ConnectionState {
	return s.reconnection.State(subject)
}

func (s *Session) ReconnectionRecord(subject types.Subject) (supervisor.ReconnectionRecord, bool) {
	return s.reconnection.Record(subject)
}

func (s *Session) ReconnectionRecords() []supervisor.ReconnectionRecord {
	return s.reconnection.Records()
}

// ------------------------------------------------

// AddListener registers a listener for events emitted after this call. With
// replay, the retained history is delivered to it first.
func (s *Session) AddListener(listener Listener, replay bool) ListenerID {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()

	entry := &listenerEntry{
		id:       ListenerID(s.nextListenerID.Inc()),
		listener: listener,
		addedSeq: s.seq,
	}

	s.listenersLock.Lock()
	s.listeners.Set(entry.id, entry)
	s.listenersLock.Unlock()

	if replay && s.history.Len() != 0 {
		past := make([]types.Event, 0, s.history.Len())
		for i := 0; i < s.history.Len(); i++ {
			past = append(past, s.history.At(i).event)
		}
		s.delivery.Enqueue(func() {
			for _, event := range past {
				if entry.removed.Load() {
					return
				}
				entry.listener.OnSessionEvent(s, event)
			}
		})
	}
	return entry.id
}

func (s *Session) RemoveListener(id ListenerID) {
	s.listenersLock.Lock()
	defer s.listenersLock.Unlock()

	if entry, ok := s.listeners.Get(id); ok {
		entry.removed.Store(true)
		s.listeners.Delete(id)
	}
}

// emitLocked appends an event to the stream. Listeners run on the delivery
// queue, never while stateLock is held.
func (s *Session) emitLocked(event types.Event) {
	s.seq++
	se := sequencedEvent{seq: s.seq, event: event}

	if size := s.params.Config.EventHistorySize; size > 0 {
		s.history.PushBack(se)
		for s.history.Len() > size {
			s.history.PopFront()
		}
	}

	s.delivery.Enqueue(func() {
		s.deliver(se)
	})
}

func (s *Session) deliver(se sequencedEvent) {
	s.listenersLock.RLock()
	entries := make([]*listenerEntry, 0, s.listeners.Len())
	for el := s.listeners.Front(); el != nil; el = el.Next() {
		entries = append(entries, el.Value)
	}
	s.listenersLock.RUnlock()

	for _, entry := range entries {
		if se.seq <= entry.addedSeq || entry.removed.Load() {
			continue
		}
		entry.listener.OnSessionEvent(s, se.event)
	}
	prometheus.RecordEventDelivered(string(se.event.Type()))
}

// teardownLocked moves the session to its terminal state. Runs once.
func (s *Session) teardownLocked() {
	if s.closed.IsBroken() {
		return
	}
	s.closed.Break()

	s.sampler.Stop()
	s.samplers = make(map[livekit.TrackID][]*stats.SamplerHandle)
	s.hints.Close()
	s.deferred.Purge()

	for _, p := range s.registry.Participants() {
		s.releaseParticipantMetrics(p)
		if !p.IsLocal {
			prometheus.SubParticipant()
		}
	}
	s.registry.Clear()
	s.dominantSpeaker = ""

	// emits the terminal state change unless the transport already reported it
	s.reconnection.Disconnect(types.SessionSubject)

	s.inbound.Stop()
	s.delivery.Stop()
	prometheus.SessionEnded(s.startedAt)
	s.logger.Infow("session closed")
}
