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
	"github.com/livekit/protocol/livekit"
)

// Subject identifies who a connection state applies to, the session as a
// whole or one remote participant.
type Subject struct {
	ParticipantID livekit.ParticipantID
}

var SessionSubject = Subject{}

func ParticipantSubject(participantID livekit.ParticipantID) Subject {
	return Subject{ParticipantID: participantID}
}

func (s Subject) IsSession() bool {
	return s.ParticipantID == ""
}

func (s Subject) String() string {
	if s.IsSession() {
		return "session"
	}
	return string(s.ParticipantID)
}

func (s Subject) Kind() string {
	if s.IsSession() {
		return "session"
	}
	return "participant"
}
