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

package supervisor

import (
	"sync"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/livekit-session/pkg/rtc/types"
	"github.com/livekit/livekit-session/pkg/telemetry/prometheus"
)

// TrackFreezer pauses and resumes the tracks affected by a subject's connectivity.
type TrackFreezer interface {
	SetTracksFrozen(subject types.Subject, frozen bool) int
}

// ReconnectionRecord exists for a subject exactly while it is not connected.
type ReconnectionRecord struct {
	Subject        types.Subject
	State          types.ConnectionState
	Classification types.ErrorClassification
	RetryDeadline  time.Time
	StartedAt      time.Time
	UpdatedAt      time.Time
	// incremented each time a subject comes back after being disconnected
	Lifecycle uint32
}

func (r ReconnectionRecord) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddString("subject", r.Subject.String())
	e.AddString("state", r.State.String())
	e.AddString("classification", r.Classification.String())
	if !r.RetryDeadline.IsZero() {
		e.AddTime("retryDeadline", r.RetryDeadline)
	}
	e.AddTime("startedAt", r.StartedAt)
	e.AddDuration("elapsed", r.UpdatedAt.Sub(r.StartedAt))
	e.AddUint32("lifecycle", r.Lifecycle)
	return nil
}

type Transition struct {
	Subject        types.Subject
	From           types.ConnectionState
	To             types.ConnectionState
	Classification types.ErrorClassification
	RetryDeadline  time.Time
	Lifecycle      uint32
}

type subjectState struct {
	state     types.ConnectionState
	lifecycle uint32
	record    *ReconnectionRecord
}

type ReconnectionControllerParams struct {
	Freezer      TrackFreezer
	OnTransition func(t Transition)
	Logger       logger.Logger
}

// ReconnectionController observes connectivity signals for the session and
// for each participant independently. It never retries anything itself.
type ReconnectionController struct {
	params ReconnectionControllerParams

	lock     sync.RWMutex
	subjects map[types.Subject]*subjectState
}

func NewReconnectionController(params ReconnectionControllerParams) *ReconnectionController {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	return &ReconnectionController{
		params:   params,
		subjects: make(map[types.Subject]*subjectState),
	}
}

// HandleSignal applies a transport reported state for a subject. Returns
// true if the subject changed state.
func (c *ReconnectionController) HandleSignal(
	subject types.Subject,
	to types.ConnectionState,
	classification types.ErrorClassification,
	retryDeadline time.Time,
) bool {
	now := time.Now()

	c.lock.Lock()
	st := c.getOrCreateLocked(subject)
	from := st.state

	var t *Transition
	switch to {
	case types.ConnectionStateReconnecting:
		switch from {
		case types.ConnectionStateConnected:
			if classification.IsTerminal() {
				c.disconnectLocked(st, classification, now)
				t = c.transitionLocked(subject, from, st)
				break
			}
			if classification == types.ErrorClassificationNone {
				classification = types.ErrorClassificationUnknown
			}
			st.state = types.ConnectionStateReconnecting
			st.record = &ReconnectionRecord{
				Subject:        subject,
				State:          types.ConnectionStateReconnecting,
				Classification: classification,
				RetryDeadline:  retryDeadline,
				StartedAt:      now,
				UpdatedAt:      now,
				Lifecycle:      st.lifecycle,
			}
			t = c.transitionLocked(subject, from, st)

		case types.ConnectionStateReconnecting:
			if classification.IsTerminal() {
				c.disconnectLocked(st, classification, now)
				t = c.transitionLocked(subject, from, st)
				break
			}
			if classification != types.ErrorClassificationNone {
				st.record.Classification = classification
			}
			if !retryDeadline.IsZero() {
				st.record.RetryDeadline = retryDeadline
			}
			st.record.UpdatedAt = now

		case types.ConnectionStateDisconnected:
			c.params.Logger.Debugw(
				"ignoring reconnecting signal for disconnected subject",
				"subject", subject,
				"classification", classification,
			)
		}

	case types.ConnectionStateConnected:
		switch from {
		case types.ConnectionStateReconnecting:
			st.state = types.ConnectionStateConnected
			st.record = nil
			t = c.transitionLocked(subject, from, st)

		case types.ConnectionStateDisconnected:
			// a new lifecycle, nothing carries over from the terminal record
			st.state = types.ConnectionStateConnected
			st.record = nil
			st.lifecycle++
			t = c.transitionLocked(subject, from, st)
		}

	case types.ConnectionStateDisconnected:
		if from != types.ConnectionStateDisconnected {
			c.disconnectLocked(st, classification, now)
			t = c.transitionLocked(subject, from, st)
		}
	}
	c.lock.Unlock()

	if t == nil {
		return false
	}
	c.notify(*t)
	return true
}

// Disconnect records an explicit disconnect of the subject.
func (c *ReconnectionController) Disconnect(subject types.Subject) bool {
	return c.HandleSignal(subject, types.ConnectionStateDisconnected, types.ErrorClassificationNone, time.Time{})
}

// Forget drops all bookkeeping for a subject, used when a participant leaves.
func (c *ReconnectionController) Forget(subject types.Subject) {
	c.lock.Lock()
	delete(c.subjects, subject)
	c.lock.Unlock()
}

func (c *ReconnectionController) State(subject types.Subject) types.ConnectionState {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if st, ok := c.subjects[subject]; ok {
		return st.state
	}
	return types.ConnectionStateConnected
}

func (c *ReconnectionController) Lifecycle(subject types.Subject) uint32 {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if st, ok := c.subjects[subject]; ok {
		return st.lifecycle
	}
	return 1
}

func (c *ReconnectionController) Record(subject types.Subject) (ReconnectionRecord, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	st, ok := c.subjects[subject]
	if !ok || st.record == nil {
		return ReconnectionRecord{}, false
	}
	return *st.record, true
}

func (c *ReconnectionController) Records() []ReconnectionRecord {
	c.lock.RLock()
	defer c.lock.RUnlock()

	var records []ReconnectionRecord
	for _, st := range c.subjects {
		if st.record != nil {
			records = append(records, *st.record)
		}
	}
	return records
}

func (c *ReconnectionController) getOrCreateLocked(subject types.Subject) *subjectState {
	st, ok := c.subjects[subject]
	if !ok {
		st = &subjectState{
			state:     types.ConnectionStateConnected,
			lifecycle: 1,
		}
		c.subjects[subject] = st
	}
	return st
}

func (c *ReconnectionController) disconnectLocked(st *subjectState, classification types.ErrorClassification, now time.Time) {
	record := st.record
	if record == nil {
		record = &ReconnectionRecord{
			StartedAt: now,
			Lifecycle: st.lifecycle,
		}
	}
	record.State = types.ConnectionStateDisconnected
	if classification != types.ErrorClassificationNone {
		record.Classification = classification
	}
	record.RetryDeadline = time.Time{}
	record.UpdatedAt = now

	st.state = types.ConnectionStateDisconnected
	st.record = record
}

func (c *ReconnectionController) transitionLocked(subject types.Subject, from types.ConnectionState, st *subjectState) *Transition {
	t := &Transition{
		Subject:   subject,
		From:      from,
		To:        st.state,
		Lifecycle: st.lifecycle,
	}
	if st.record != nil {
		st.record.Subject = subject
		t.Classification = st.record.Classification
		t.RetryDeadline = st.record.RetryDeadline
	}
	return t
}

func (c *ReconnectionController) notify(t Transition) {
	if c.params.Freezer != nil {
		switch t.To {
		case types.ConnectionStateReconnecting:
			c.params.Freezer.SetTracksFrozen(t.Subject, true)
		case types.ConnectionStateConnected:
			c.params.Freezer.SetTracksFrozen(t.Subject, false)
		}
	}

	prometheus.RecordReconnectionTransition(t.Subject.Kind(), t.To.String(), t.Classification.String())
	c.params.Logger.Infow(
		"connection state changed",
		"subject", t.Subject,
		"from", t.From,
		"to", t.To,
		"classification", t.Classification,
		"lifecycle", t.Lifecycle,
	)

	if c.params.OnTransition != nil {
		c.params.OnTransition(t)
	}
}
