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

// Package loopback is an in-memory transport. Remote activity is scripted by
// the caller and local publications are echoed back as byte counters.
package loopback

import (
	"context"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/utils/guid"

	"github.com/livekit/livekit-session/pkg/rtc/types"
)

const participantPrefix = "PA_"

var (
	ErrNotConnected     = errors.New("transport is not connected")
	ErrAlreadyConnected = errors.New("transport is already connected")
	ErrStatsUnavailable = errors.New("stats unavailable")
)

type Params struct {
	Room     string
	Identity livekit.ParticipantIdentity
	// tokens accepted by Connect, any non-empty token when empty
	ValidTokens         []string
	SupportsReplacement bool
	// leaves TrackSwitchedChanged confirmations to the caller
	ManualHintConfirmation bool
	// applied before Connect returns
	ConnectDelay time.Duration
	Logger       logger.Logger
}

type trackCounter struct {
	participantID livekit.ParticipantID
	kind          types.TrackKind
	bytes         atomic.Uint64
}

type Transport struct {
	params Params

	lock      sync.Mutex
	sink      types.TransportEventSink
	info      *types.SessionInfo
	counters  map[livekit.TrackID]*trackCounter
	hints     map[livekit.TrackID]types.DeliveryHint
	numHints  int
	statsFail bool

	closed core.Fuse
}

func New(params Params) *Transport {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.Room == "" {
		params.Room = "loopback"
	}
	if params.Identity == "" {
		params.Identity = "local"
	}
	return &Transport{
		params:   params,
		counters: make(map[livekit.TrackID]*trackCounter),
		hints:    make(map[livekit.TrackID]types.DeliveryHint),
	}
}

func (t *Transport) Connect(
	ctx context.Context,
	creds types.Credentials,
	opts types.ConnectOptions,
	sink types.TransportEventSink,
) (*types.SessionInfo, error) {
	if !t.isTokenValid(creds.Token) {
		return nil, errors.Wrap(types.ErrUnauthorized, "invalid token")
	}

	if t.params.ConnectDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(types.ErrTimeout, ctx.Err().Error())
		case <-time.After(t.params.ConnectDelay):
		}
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed.IsBroken() {
		return nil, ErrNotConnected
	}
	if t.info != nil {
		return nil, ErrAlreadyConnected
	}

	t.sink = sink
	t.info = &types.SessionInfo{
		RoomName:      t.params.Room,
		ParticipantID: livekit.ParticipantID(guid.New(participantPrefix)),
		Identity:      t.params.Identity,
	}
	t.params.Logger.Debugw(
		"loopback connected",
		"url", creds.URL,
		"room", t.info.RoomName,
		"participantID", t.info.ParticipantID,
		"autoSubscribe", opts.AutoSubscribe,
	)
	info := *t.info
	return &info, nil
}

func (t *Transport) isTokenValid(token string) bool {
	if token == "" {
		return false
	}
	if len(t.params.ValidTokens) == 0 {
		return true
	}
	for _, valid := range t.params.ValidTokens {
		if token == valid {
			return true
		}
	}
	return false
}

func (t *Transport) Publish(_ context.Context, track *types.Track) (*types.PublicationInfo, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.isConnectedLocked() {
		return nil, ErrNotConnected
	}
	if _, ok := t.counters[track.ID()]; !ok {
		t.counters[track.ID()] = &trackCounter{
			participantID: t.info.ParticipantID,
			kind:          track.Kind(),
		}
	}
	return &types.PublicationInfo{TrackID: track.ID()}, nil
}

func (t *Transport) Unpublish(_ context.Context, trackID livekit.TrackID) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.isConnectedLocked() {
		return ErrNotConnected
	}
	delete(t.counters, trackID)
	return nil
}

// GetStats reports the bytes counted so far. Unknown tracks are left out.
func (t *Transport) GetStats(ctx context.Context, trackIDs []livekit.TrackID) (map[livekit.TrackID]types.TrackStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.isConnectedLocked() {
		return nil, ErrNotConnected
	}
	if t.statsFail {
		return nil, ErrStatsUnavailable
	}

	now := time.Now()
	res := make(map[livekit.TrackID]types.TrackStats, len(trackIDs))
	for _, trackID := range trackIDs {
		if c, ok := t.counters[trackID]; ok {
			res[trackID] = types.TrackStats{
				BytesTransferred: c.bytes.Load(),
				Timestamp:        now,
			}
		}
	}
	return res, nil
}

func (t *Transport) SetTrackDeliveryHint(_ context.Context, trackID livekit.TrackID, hint types.DeliveryHint) error {
	t.lock.Lock()
	if !t.isConnectedLocked() {
		t.lock.Unlock()
		return ErrNotConnected
	}
	t.hints[trackID] = hint
	t.numHints++
	sink := t.sink
	t.lock.Unlock()

	if !t.params.ManualHintConfirmation {
		sink.HandleTransportEvent(types.TrackSwitchedChanged{
			TrackID:     trackID,
			SwitchedOff: !hint.Enabled,
		})
	}
	return nil
}

func (t *Transport) SupportsTrackReplacement() bool {
	return t.params.SupportsReplacement
}

func (t *Transport) Close(_ context.Context) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed.IsBroken() {
		return nil
	}
	t.closed.Break()
	t.params.Logger.Debugw("loopback closed")
	return nil
}

func (t *Transport) isConnectedLocked() bool {
	return t.info != nil && !t.closed.IsBroken()
}

// ------------------------------------------------

// Emit hands an event to the connected session.
func (t *Transport) Emit(event types.TransportEvent) error {
	t.lock.Lock()
	if !t.isConnectedLocked() {
		t.lock.Unlock()
		return ErrNotConnected
	}
	sink := t.sink
	t.lock.Unlock()

	sink.HandleTransportEvent(event)
	return nil
}

func (t *Transport) Join(participantID livekit.ParticipantID, identity livekit.ParticipantIdentity) error {
	return t.Emit(types.ParticipantJoined{ParticipantID: participantID, Identity: identity})
}

func (t *Transport) Leave(participantID livekit.ParticipantID) error {
	t.lock.Lock()
	for trackID, c := range t.counters {
		if c.participantID == participantID {
			delete(t.counters, trackID)
		}
	}
	t.lock.Unlock()

	return t.Emit(types.ParticipantLeft{ParticipantID: participantID})
}

// PublishRemote announces a remote track and, when subscribe is set,
// subscribes to it.
func (t *Transport) PublishRemote(
	participantID livekit.ParticipantID,
	trackID livekit.TrackID,
	kind types.TrackKind,
	name string,
	subscribe bool,
) error {
	t.lock.Lock()
	t.counters[trackID] = &trackCounter{participantID: participantID, kind: kind}
	t.lock.Unlock()

	if err := t.Emit(types.RemoteTrackPublished{
		ParticipantID: participantID,
		TrackID:       trackID,
		Kind:          kind,
		Name:          name,
	}); err != nil {
		return err
	}
	if !subscribe {
		return nil
	}
	return t.Emit(types.RemoteTrackSubscribed{ParticipantID: participantID, TrackID: trackID})
}

func (t *Transport) UnpublishRemote(participantID livekit.ParticipantID, trackID livekit.TrackID) error {
	t.lock.Lock()
	delete(t.counters, trackID)
	t.lock.Unlock()

	return t.Emit(types.RemoteTrackUnpublished{ParticipantID: participantID, TrackID: trackID})
}

// AddBytes counts transferred bytes for a track. Returns false for unknown tracks.
func (t *Transport) AddBytes(trackID livekit.TrackID, n uint64) bool {
	t.lock.Lock()
	c, ok := t.counters[trackID]
	t.lock.Unlock()
	if !ok {
		return false
	}
	c.bytes.Add(n)
	return true
}

// TrackIDs returns every track with a byte counter.
func (t *Transport) TrackIDs() []livekit.TrackID {
	t.lock.Lock()
	defer t.lock.Unlock()

	trackIDs := make([]livekit.TrackID, 0, len(t.counters))
	for trackID := range t.counters {
		trackIDs = append(trackIDs, trackID)
	}
	return trackIDs
}

func (t *Transport) SetStatsFailure(fail bool) {
	t.lock.Lock()
	t.statsFail = fail
	t.lock.Unlock()
}

func (t *Transport) LastHint(trackID livekit.TrackID) (types.DeliveryHint, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	hint, ok := t.hints[trackID]
	return hint, ok
}

func (t *Transport) NumHints() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.numHints
}

func (t *Transport) IsClosed() bool {
	return t.closed.IsBroken()
}
