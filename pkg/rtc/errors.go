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
	"fmt"
)

var (
	ErrSessionClosed = errors.New("session is closed")
	ErrTrackNotFound = errors.New("track not found")
	ErrInvalidTrack  = errors.New("invalid track")

	ErrUnauthorized      = errors.New("unauthorized")
	ErrConnectTimeout    = errors.New("connect timed out")
	ErrConnectTransport  = errors.New("transport failed to connect")
	ErrDuplicateKind     = errors.New("a track of the same kind is already published")
	ErrTransportRejected = errors.New("transport rejected the track")
)

type ConnectErrorKind int

const (
	ConnectErrorUnauthorized ConnectErrorKind = iota
	ConnectErrorTimeout
	ConnectErrorTransport
)

func (k ConnectErrorKind) String() string {
	switch k {
	case ConnectErrorUnauthorized:
		return "unauthorized"
	case ConnectErrorTimeout:
		return "timeout"
	case ConnectErrorTransport:
		return "transport"
	default:
		return fmt.Sprintf("%d", int(k))
	}
}

func (k ConnectErrorKind) sentinel() error {
	switch k {
	case ConnectErrorUnauthorized:
		return ErrUnauthorized
	case ConnectErrorTimeout:
		return ErrConnectTimeout
	default:
		return ErrConnectTransport
	}
}

type ConnectError struct {
	Kind ConnectErrorKind
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return e.Kind.sentinel().Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind.sentinel(), e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

func (e *ConnectError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// ------------------------------------------------

type PublishErrorKind int

const (
	PublishErrorDuplicateKind PublishErrorKind = iota
	PublishErrorTransportRejected
)

func (k PublishErrorKind) String() string {
	switch k {
	case PublishErrorDuplicateKind:
		return "duplicate_kind"
	case PublishErrorTransportRejected:
		return "transport_rejected"
	default:
		return fmt.Sprintf("%d", int(k))
	}
}

func (k PublishErrorKind) sentinel() error {
	if k == PublishErrorDuplicateKind {
		return ErrDuplicateKind
	}
	return ErrTransportRejected
}

type PublishError struct {
	Kind PublishErrorKind
	Err  error
}

func (e *PublishError) Error() string {
	if e.Err == nil {
		return e.Kind.sentinel().Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind.sentinel(), e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

func (e *PublishError) Is(target error) bool {
	return target == e.Kind.sentinel()
}
