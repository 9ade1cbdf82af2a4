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
	"context"
	"errors"
	"time"

	"github.com/livekit/protocol/livekit"
)

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -generate

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrTimeout      = errors.New("timed out")
)

type Credentials struct {
	URL   string
	Token string
}

type ConnectOptions struct {
	AutoSubscribe bool
	// overrides the configured connect timeout when non-zero
	Timeout time.Duration
}

type SessionInfo struct {
	RoomName      string
	ParticipantID livekit.ParticipantID
	Identity      livekit.ParticipantIdentity
}

type PublicationInfo struct {
	// empty, or equal to the published track's id
	TrackID livekit.TrackID
}

type TransportEventSink interface {
	HandleTransportEvent(event TransportEvent)
}

//counterfeiter:generate . Transport
type Transport interface {
	Connect(ctx context.Context, creds Credentials, opts ConnectOptions, sink TransportEventSink) (*SessionInfo, error)
	Publish(ctx context.Context, track *Track) (*PublicationInfo, error)
	Unpublish(ctx context.Context, trackID livekit.TrackID) error
	GetStats(ctx context.Context, trackIDs []livekit.TrackID) (map[livekit.TrackID]TrackStats, error)
	SetTrackDeliveryHint(ctx context.Context, trackID livekit.TrackID, hint DeliveryHint) error
	SupportsTrackReplacement() bool
	Close(ctx context.Context) error
}
