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

// Package timer measures the stages of an operation for logging.
package timer

import (
	"sync"
	"time"

	"github.com/logicahealth/komet-sub049/utils/log"
)

// Lap is one measured stage.
type Lap struct {
	Name     string
	Duration time.Duration
}

// Stopwatch records consecutive stages of one operation.
type Stopwatch struct {
	sync.Mutex
	start time.Time
	last  time.Time
	laps  []Lap
}

// Start returns a running stopwatch.
func Start() *Stopwatch {
	now := time.Now()
	return &Stopwatch{start: now, last: now}
}

// Lap ends the current stage as name and returns its duration.
func (s *Stopwatch) Lap(name string) time.Duration {
	s.Lock()
	defer s.Unlock()

	now := time.Now()
	d := now.Sub(s.last)
	s.last = now
	s.laps = append(s.laps, Lap{Name: name, Duration: d})
	return d
}

// Laps returns the stages in order.
func (s *Stopwatch) Laps() []Lap {
	s.Lock()
	defer s.Unlock()
	return append([]Lap(nil), s.laps...)
}

// Total returns the time from start to the last lap.
func (s *Stopwatch) Total() time.Duration {
	s.Lock()
	defer s.Unlock()
	return s.last.Sub(s.start)
}

// Fields returns every lap and the total as log fields.
func (s *Stopwatch) Fields() log.Fields {
	s.Lock()
	defer s.Unlock()

	f := make(log.Fields, len(s.laps)+1)
	for _, l := range s.laps {
		f[l.Name] = l.Duration
	}
	f["total"] = s.last.Sub(s.start)
	return f
}
