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
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap/zapcore"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/utils/guid"
)

const trackPrefix = "TR_"

type Dimensions struct {
	Width  uint32
	Height uint32
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// TrackStats is one reading of a track's transport counters.
type TrackStats struct {
	BytesTransferred uint64
	Timestamp        time.Time
}

type BitrateSample struct {
	TrackID livekit.TrackID
	At      time.Time
	Bytes   uint64
	// bits per second
	Bitrate float64
}

func (b BitrateSample) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddString("trackID", string(b.TrackID))
	e.AddTime("at", b.At)
	e.AddUint64("bytes", b.Bytes)
	e.AddFloat64("bitrate", b.Bitrate)
	return nil
}

type DeliveryHint struct {
	Enabled    bool
	Dimensions *Dimensions
}

// ------------------------------------------------

type TrackParams struct {
	ID   livekit.TrackID
	Kind TrackKind
	Name string
}

// Track is a media handle. Flags are safe for concurrent reads; the stats
// cursor only moves forward through ApplyBitrateSample.
type Track struct {
	id   livekit.TrackID
	kind TrackKind
	name string

	enabled     atomic.Bool
	switchedOff atomic.Bool
	frozen      atomic.Bool
	released    atomic.Bool

	lock        sync.RWMutex
	lastSample  BitrateSample
	sampleCount int
}

func NewTrack(params TrackParams) *Track {
	if params.ID == "" {
		params.ID = livekit.TrackID(guid.New(trackPrefix))
	}
	t := &Track{
		id:   params.ID,
		kind: params.Kind,
		name: params.Name,
	}
	t.enabled.Store(true)
	return t
}

func (t *Track) ID() livekit.TrackID {
	return t.id
}

func (t *Track) Kind() TrackKind {
	return t.kind
}

func (t *Track) Name() string {
	return t.name
}

func (t *Track) IsEnabled() bool {
	return t.enabled.Load()
}

// SetEnabled returns true if the flag changed.
func (t *Track) SetEnabled(enabled bool) bool {
	return t.enabled.Swap(enabled) != enabled
}

func (t *Track) IsSwitchedOff() bool {
	return t.switchedOff.Load()
}

// SetSwitchedOff only applies to video, other kinds are never switched off.
func (t *Track) SetSwitchedOff(switchedOff bool) bool {
	if t.kind != TrackKindVideo {
		return false
	}
	return t.switchedOff.Swap(switchedOff) != switchedOff
}

// IsFrozen is true while the owning participant, or the whole session, is reconnecting.
func (t *Track) IsFrozen() bool {
	return t.frozen.Load()
}

func (t *Track) SetFrozen(frozen bool) bool {
	return t.frozen.Swap(frozen) != frozen
}

func (t *Track) IsReleased() bool {
	return t.released.Load()
}

// Release marks the handle dead. Returns false if it was already released.
func (t *Track) Release() bool {
	return !t.released.Swap(true)
}

func (t *Track) ApplyBitrateSample(sample BitrateSample) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.lastSample = sample
	t.sampleCount++
}

// LastSample returns the most recent applied sample, false if none was applied yet.
func (t *Track) LastSample() (BitrateSample, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return t.lastSample, t.sampleCount > 0
}

func (t *Track) Bitrate() float64 {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return t.lastSample.Bitrate
}

func (t *Track) String() string {
	return fmt.Sprintf("Track{id: %s, kind: %s, name: %s}", t.id, t.kind, t.name)
}

func (t *Track) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddString("trackID", string(t.id))
	e.AddString("kind", t.kind.String())
	e.AddString("name", t.name)
	e.AddBool("enabled", t.IsEnabled())
	e.AddBool("switchedOff", t.IsSwitchedOff())
	e.AddBool("frozen", t.IsFrozen())
	return nil
}
