/*
 * Copyright 2018 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package task provides the progress handle of long running operations such as bulk
// imports and commit validation. Cancellation is cooperative: the operation checks the
// tracker at safe points.
package task

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrCancelled is returned by operations stopped through their tracker.
var ErrCancelled = errors.New("task cancelled")

// Tracker reports progress of one operation and carries its cancel request.
type Tracker struct {
	title     string
	total     atomic.Int64
	done      atomic.Int64
	cancelled atomic.Bool

	mu      sync.Mutex
	message string
}

// NewTracker returns a tracker of an operation with total work units.
func NewTracker(title string, total int64) *Tracker {
	t := &Tracker{title: title}
	t.total.Store(total)
	return t
}

// Title returns the operation title.
func (t *Tracker) Title() string {
	return t.title
}

// AddTotal grows the expected work.
func (t *Tracker) AddTotal(n int64) {
	if t != nil {
		t.total.Add(n)
	}
}

// Completed records n finished work units.
func (t *Tracker) Completed(n int64) {
	if t != nil {
		t.done.Add(n)
	}
}

// Progress returns the finished and expected work units.
func (t *Tracker) Progress() (done, total int64) {
	if t == nil {
		return
	}
	return t.done.Load(), t.total.Load()
}

// SetMessage sets the current status line.
func (t *Tracker) SetMessage(msg string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.message = msg
	t.mu.Unlock()
}

// Message returns the current status line.
func (t *Tracker) Message() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.message
}

// Cancel requests the operation to stop at its next safe point.
func (t *Tracker) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called. A nil tracker is never cancelled.
func (t *Tracker) Cancelled() bool {
	return t != nil && t.cancelled.Load()
}

// Check returns ErrCancelled once the tracker is cancelled.
func (t *Tracker) Check() error {
	if t.Cancelled() {
		return ErrCancelled
	}
	return nil
}
