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

package utils

import (
	"sync"

	"github.com/gammazero/deque"

	"github.com/livekit/protocol/logger"
)

type OpsQueueParams struct {
	Name        string
	FlushOnStop bool
	Logger      logger.Logger
}

// OpsQueue runs enqueued functions one at a time, in order, on a single goroutine.
type OpsQueue struct {
	params OpsQueueParams

	lock      sync.Mutex
	ops       deque.Deque[func()]
	wake      chan struct{}
	isStarted bool
	isStopped bool
	done      chan struct{}
}

func NewOpsQueue(params OpsQueueParams) *OpsQueue {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	oq := &OpsQueue{
		params: params,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	return oq
}

func (oq *OpsQueue) Start() {
	oq.lock.Lock()
	if oq.isStarted || oq.isStopped {
		oq.lock.Unlock()
		return
	}
	oq.isStarted = true
	oq.lock.Unlock()

	go oq.process()
}

// Stop does not wait for the queue to drain, it is safe to call from within an op.
func (oq *OpsQueue) Stop() {
	oq.lock.Lock()
	if oq.isStopped {
		oq.lock.Unlock()
		return
	}
	oq.isStopped = true
	started := oq.isStarted
	oq.lock.Unlock()

	if started {
		oq.signal()
	} else {
		close(oq.done)
	}
}

// Done is closed once the processing goroutine has exited.
func (oq *OpsQueue) Done() <-chan struct{} {
	return oq.done
}

func (oq *OpsQueue) Enqueue(op func()) {
	oq.lock.Lock()
	if oq.isStopped {
		oq.lock.Unlock()
		return
	}
	oq.ops.PushBack(op)
	oq.lock.Unlock()

	oq.signal()
}

func (oq *OpsQueue) Len() int {
	oq.lock.Lock()
	defer oq.lock.Unlock()

	return oq.ops.Len()
}

func (oq *OpsQueue) signal() {
	select {
	case oq.wake <- struct{}{}:
	default:
	}
}

func (oq *OpsQueue) process() {
	defer close(oq.done)

	for range oq.wake {
		for {
			oq.lock.Lock()
			if oq.isStopped && (!oq.params.FlushOnStop || oq.ops.Len() == 0) {
				dropped := oq.ops.Len()
				oq.ops.Clear()
				oq.lock.Unlock()
				if dropped > 0 {
					oq.params.Logger.Debugw("ops queue stopped with pending ops", "name", oq.params.Name, "dropped", dropped)
				}
				return
			}
			if oq.ops.Len() == 0 {
				oq.lock.Unlock()
				break
			}
			op := oq.ops.PopFront()
			oq.lock.Unlock()

			op()
		}
	}
}
