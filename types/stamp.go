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

package types

import (
	"fmt"
	"math"
	"strings"
)

const (
	// UncommittedTime marks a stamp that belongs to an open transaction.
	UncommittedTime int64 = math.MaxInt64
	// CancelledTime replaces the time of a stamp whose transaction was cancelled.
	CancelledTime int64 = math.MinInt64
	// LatestTime is the cutoff of a position that follows every committed change.
	LatestTime int64 = math.MaxInt64 - 1
)

// Status defines the status part of a STAMP.
type Status uint8

const (
	// Active marks an asserted fact.
	Active Status = iota
	// Inactive marks a retired fact.
	Inactive
	// Cancelled marks a fact whose transaction was cancelled; it is never visible.
	Cancelled
	// Primordial marks placeholder versions that exist before any authored change.
	Primordial
)

func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Inactive:
		return "Inactive"
	case Cancelled:
		return "Cancelled"
	case Primordial:
		return "Primordial"
	default:
		return "Unknown"
	}
}

// StatusSet is a bit set of statuses.
type StatusSet uint8

// NewStatusSet returns a set holding statuses.
func NewStatusSet(statuses ...Status) (s StatusSet) {
	for _, st := range statuses {
		s |= 1 << st
	}
	return
}

var (
	// ActiveOnly allows active versions.
	ActiveOnly = NewStatusSet(Active)
	// ActiveAndInactive allows every authored status.
	ActiveAndInactive = NewStatusSet(Active, Inactive)
)

// Contains reports whether status is in the set.
func (s StatusSet) Contains(status Status) bool {
	return s&(1<<status) != 0
}

func (s StatusSet) String() string {
	var names []string
	for st := Active; st <= Primordial; st++ {
		if s.Contains(st) {
			names = append(names, st.String())
		}
	}
	return "[" + strings.Join(names, ",") + "]"
}

// Stamp is the immutable Status/Time/Author/Module/Path tuple versioning every fact.
type Stamp struct {
	Status Status
	Time   int64
	Author int32
	Module int32
	Path   int32
}

// IsUncommitted reports whether the stamp still belongs to an open transaction.
func (s Stamp) IsUncommitted() bool {
	return s.Time == UncommittedTime
}

// IsCancelled reports whether the stamp's transaction was cancelled.
func (s Stamp) IsCancelled() bool {
	return s.Status == Cancelled
}

func (s Stamp) String() string {
	t := fmt.Sprint(s.Time)
	switch s.Time {
	case UncommittedTime:
		t = "uncommitted"
	case CancelledTime:
		t = "cancelled"
	}
	return fmt.Sprintf("%s t:%s a:%d m:%d p:%d", s.Status, t, s.Author, s.Module, s.Path)
}

// StampPosition is a point in a path history: the path and a time cutoff on it.
// As a path origin it means the path inherits originPath history up to Time.
type StampPosition struct {
	Path int32
	Time int64
}
