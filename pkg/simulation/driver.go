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

package simulation

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/utils/guid"

	"github.com/livekit/livekit-session/pkg/config"
	"github.com/livekit/livekit-session/pkg/rtc"
	"github.com/livekit/livekit-session/pkg/rtc/types"
	"github.com/livekit/livekit-session/pkg/transport/loopback"
)

const (
	participantPrefix = "PA_"

	speakerChangeProbability = 0.1
	qualityChangeProbability = 0.05
)

var ErrNoSession = errors.New("simulation has no session")

type DriverParams struct {
	Simulation config.SimulationConfig
	Session    config.SessionConfig
	// registered before any remote activity starts
	Listeners []rtc.Listener
	// seeded from the clock when nil
	Rand   *rand.Rand
	Logger logger.Logger
}

type TrackSummary struct {
	ParticipantID livekit.ParticipantID
	Identity      livekit.ParticipantIdentity
	IsLocal       bool
	TrackID       livekit.TrackID
	Kind          types.TrackKind
	Name          string
	State         types.SubscriptionState
	Bytes         uint64
	Bitrate       float64
}

type Summary struct {
	SessionID     string
	Room          string
	Elapsed       time.Duration
	Tracks        []TrackSummary
	EventCounts   map[types.EventType]int
	Reconnections int
}

// Driver runs a session against the loopback transport and plays remote
// participants publishing media, reconnecting and speaking.
type Driver struct {
	params    DriverParams
	rng       *rand.Rand
	transport *loopback.Transport
	session   *rtc.Session

	remotes      []livekit.ParticipantID
	reconnecting map[livekit.ParticipantID]bool

	lock          sync.Mutex
	eventCounts   map[types.EventType]int
	reconnections int
}

func NewDriver(params DriverParams) *Driver {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.Simulation.TickInterval <= 0 {
		params.Simulation.TickInterval = config.DefaultConfig.Simulation.TickInterval
	}
	rng := params.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Driver{
		params:       params,
		rng:          rng,
		reconnecting: make(map[livekit.ParticipantID]bool),
		eventCounts:  make(map[types.EventType]int),
	}
}

func (d *Driver) Transport() *loopback.Transport {
	return d.transport
}

func (d *Driver) Session() *rtc.Session {
	return d.session
}

// Run connects, drives remote activity until the configured duration elapses
// or ctx is done, then disconnects and returns what was observed.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	sim := d.params.Simulation
	d.transport = loopback.New(loopback.Params{
		Room:                sim.Room,
		Identity:            livekit.ParticipantIdentity(sim.Identity),
		SupportsReplacement: sim.SupportsReplacement,
		Logger:              d.params.Logger,
	})

	session, err := rtc.Connect(
		ctx,
		rtc.SessionParams{
			Transport: d.transport,
			Config:    d.params.Session,
			Logger:    d.params.Logger,
		},
		types.Credentials{
			URL:   fmt.Sprintf("loopback://%s", sim.Room),
			Token: sim.Token,
		},
		types.ConnectOptions{AutoSubscribe: true},
	)
	if err != nil {
		return nil, err
	}
	d.session = session

	session.AddListener(rtc.ListenerFunc(d.countEvent), false)
	for _, l := range d.params.Listeners {
		session.AddListener(l, false)
	}

	start := time.Now()
	if err := d.setup(ctx); err != nil {
		_ = session.Disconnect(context.Background(), livekit.DisconnectReason_CLIENT_INITIATED)
		return nil, err
	}

	d.loop(ctx)

	summary := d.summarize(time.Since(start))
	if err := session.Disconnect(context.Background(), livekit.DisconnectReason_CLIENT_INITIATED); err != nil {
		d.params.Logger.Warnw("disconnect failed", err)
	}
	<-session.Drained()
	d.lock.Lock()
	summary.EventCounts = make(map[types.EventType]int, len(d.eventCounts))
	for k, v := range d.eventCounts {
		summary.EventCounts[k] = v
	}
	summary.Reconnections = d.reconnections
	d.lock.Unlock()
	return summary, nil
}

func (d *Driver) setup(ctx context.Context) error {
	mic := types.NewTrack(types.TrackParams{Kind: types.TrackKindAudio, Name: "microphone"})
	if _, err := d.session.PublishTrack(ctx, mic); err != nil {
		return errors.Wrap(err, "publish microphone")
	}
	if err := d.sample(mic.ID()); err != nil {
		return err
	}

	for i := 0; i < d.params.Simulation.RemoteParticipants; i++ {
		participantID := livekit.ParticipantID(guid.New(participantPrefix))
		identity := livekit.ParticipantIdentity(fmt.Sprintf("remote-%d", i+1))
		if err := d.transport.Join(participantID, identity); err != nil {
			return err
		}
		d.remotes = append(d.remotes, participantID)

		for _, kind := range []types.TrackKind{types.TrackKindAudio, types.TrackKindVideo} {
			trackID := livekit.TrackID(guid.New("TR_"))
			if err := d.transport.PublishRemote(participantID, trackID, kind, kind.String(), true); err != nil {
				return err
			}
		}
	}

	// remote subscriptions are applied asynchronously
	for _, trackID := range d.transport.TrackIDs() {
		if trackID == mic.ID() {
			continue
		}
		if err := d.waitForTrack(ctx, trackID); err != nil {
			return err
		}
		if err := d.sample(trackID); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) waitForTrack(ctx context.Context, trackID livekit.TrackID) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, p := range d.session.RemoteParticipants() {
			for _, pub := range p.Publications {
				if pub.TrackID() == trackID && pub.Track() != nil {
					return nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.session.Closed():
			return ErrNoSession
		case <-ticker.C:
		}
	}
}

func (d *Driver) sample(trackID livekit.TrackID) error {
	if _, err := d.session.StartSampling(trackID, 0); err != nil {
		return errors.Wrapf(err, "sample %s", trackID)
	}
	return nil
}

func (d *Driver) loop(ctx context.Context) {
	sim := d.params.Simulation
	ticker := time.NewTicker(sim.TickInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if sim.Duration > 0 {
		timer := time.NewTimer(sim.Duration)
		defer timer.Stop()
		deadline = timer.C
	}

	bytesPerTick := float64(sim.BytesPerSecond) * sim.TickInterval.Seconds()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-d.session.Closed():
			return
		case <-ticker.C:
			d.tick(bytesPerTick)
		}
	}
}

func (d *Driver) tick(bytesPerTick float64) {
	for _, trackID := range d.transport.TrackIDs() {
		// +/- 25% jitter
		jitter := 0.75 + d.rng.Float64()*0.5
		d.transport.AddBytes(trackID, uint64(bytesPerTick*jitter))
	}

	for _, participantID := range d.remotes {
		if d.reconnecting[participantID] {
			delete(d.reconnecting, participantID)
			d.emit(types.ConnectionStateChanged{
				Subject: types.ParticipantSubject(participantID),
				State:   types.ConnectionStateConnected,
			})
			continue
		}
		if d.rng.Float64() < d.params.Simulation.ReconnectProbability {
			d.reconnecting[participantID] = true
			d.emit(types.ConnectionStateChanged{
				Subject:        types.ParticipantSubject(participantID),
				State:          types.ConnectionStateReconnecting,
				Classification: types.ErrorClassificationMediaReconnecting,
			})
		}
		if d.rng.Float64() < qualityChangeProbability {
			d.emit(types.ConnectionQualityChanged{
				ParticipantID: participantID,
				Quality:       livekit.ConnectionQuality(d.rng.Intn(3)),
			})
		}
	}

	if len(d.remotes) > 0 && d.rng.Float64() < speakerChangeProbability {
		d.emit(types.DominantSpeakerChanged{
			ParticipantID: d.remotes[d.rng.Intn(len(d.remotes))],
		})
	}
}

func (d *Driver) emit(event types.TransportEvent) {
	if err := d.transport.Emit(event); err != nil {
		d.params.Logger.Debugw("could not emit simulated event", "error", err)
	}
}

func (d *Driver) countEvent(_ *rtc.Session, event types.Event) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.eventCounts[event.Type()]++
	if sc, ok := event.(types.StateChangedEvent); ok && sc.State == types.ConnectionStateReconnecting {
		d.reconnections++
	}
}

func (d *Driver) summarize(elapsed time.Duration) *Summary {
	info := d.session.Info()
	summary := &Summary{
		SessionID: d.session.ID(),
		Room:      info.RoomName,
		Elapsed:   elapsed,
	}

	participants := append([]types.ParticipantInfo{d.session.LocalParticipant()}, d.session.RemoteParticipants()...)
	for _, p := range participants {
		for _, pub := range p.Publications {
			ts := TrackSummary{
				ParticipantID: p.ID,
				Identity:      p.Identity,
				IsLocal:       p.IsLocal,
				TrackID:       pub.TrackID(),
				Kind:          pub.Kind(),
				Name:          pub.Name(),
				State:         pub.State(),
			}
			if track := pub.Track(); track != nil {
				if sample, ok := track.LastSample(); ok {
					ts.Bytes = sample.Bytes
					ts.Bitrate = sample.Bitrate
				}
			}
			summary.Tracks = append(summary.Tracks, ts)
		}
	}
	sort.SliceStable(summary.Tracks, func(i, j int) bool {
		a, b := summary.Tracks[i], summary.Tracks[j]
		if a.IsLocal != b.IsLocal {
			return a.IsLocal
		}
		if a.Identity != b.Identity {
			return a.Identity < b.Identity
		}
		return a.Kind < b.Kind
	})
	return summary
}
