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
	"sort"
	"strings"

	"github.com/mohae/deepcopy"
)

// StampCoordinate selects a consistent view of the store: the allowed statuses, one time
// cutoff per viewed path, the module preference used to break ties, and optionally the
// set of modules whose versions are considered.
type StampCoordinate struct {
	AllowedStatuses  StatusSet
	PathCutoffs      map[int32]int64
	ModulePreference []int32
	// Modules restricts visible versions to these modules; empty means any module.
	Modules []int32
}

// NewStampCoordinate returns a coordinate viewing path up to cutoff.
func NewStampCoordinate(allowed StatusSet, path int32, cutoff int64) *StampCoordinate {
	return &StampCoordinate{
		AllowedStatuses: allowed,
		PathCutoffs:     map[int32]int64{path: cutoff},
	}
}

// WithPosition adds or replaces the cutoff of path and returns the coordinate.
func (c *StampCoordinate) WithPosition(path int32, cutoff int64) *StampCoordinate {
	if c.PathCutoffs == nil {
		c.PathCutoffs = make(map[int32]int64)
	}
	c.PathCutoffs[path] = cutoff
	return c
}

// WithModulePreference sets the module preference order and returns the coordinate.
func (c *StampCoordinate) WithModulePreference(modules ...int32) *StampCoordinate {
	c.ModulePreference = append([]int32(nil), modules...)
	return c
}

// Copy returns a deep copy the caller may mutate freely.
func (c *StampCoordinate) Copy() *StampCoordinate {
	return deepcopy.Copy(c).(*StampCoordinate)
}

// Validate checks the coordinate selects at least one position.
func (c *StampCoordinate) Validate() error {
	if c == nil || len(c.PathCutoffs) == 0 {
		return ErrInvalidCoordinate
	}
	return nil
}

// Positions returns the coordinate positions ordered by path.
func (c *StampCoordinate) Positions() (positions []StampPosition) {
	positions = make([]StampPosition, 0, len(c.PathCutoffs))
	for path, cutoff := range c.PathCutoffs {
		positions = append(positions, StampPosition{Path: path, Time: cutoff})
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Path < positions[j].Path })
	return
}

// AllowsModule reports whether versions on module are considered.
func (c *StampCoordinate) AllowsModule(module int32) bool {
	if len(c.Modules) == 0 {
		return true
	}
	for _, m := range c.Modules {
		if m == module {
			return true
		}
	}
	return false
}

// ModuleRank returns the preference rank of module, lower is preferred. Modules absent
// from the preference order rank after every listed module.
func (c *StampCoordinate) ModuleRank(module int32) int {
	for i, m := range c.ModulePreference {
		if m == module {
			return i
		}
	}
	return len(c.ModulePreference)
}

// Fingerprint returns a canonical string identifying equal coordinates.
func (c *StampCoordinate) Fingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "s%d", c.AllowedStatuses)
	for _, p := range c.Positions() {
		fmt.Fprintf(&b, "|p%d@%d", p.Path, p.Time)
	}
	b.WriteString("|mp")
	for _, m := range c.ModulePreference {
		fmt.Fprintf(&b, ",%d", m)
	}
	modules := append([]int32(nil), c.Modules...)
	sort.Slice(modules, func(i, j int) bool { return modules[i] < modules[j] })
	b.WriteString("|m")
	for _, m := range modules {
		fmt.Fprintf(&b, ",%d", m)
	}
	return b.String()
}
