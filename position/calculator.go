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

// Package position decides which versions a stamp coordinate sees.
//
// A calculator is built once per coordinate. It expands every coordinate position into
// the route of path segments the position inherits through path origins, each segment
// with the latest time visible on its path. Two stamps on the route are then ordered by
// time on the same path, or by ancestry across paths. Stamps on paths where neither
// inherits the other are contradictory; the calculator never picks one of them.
package position

import (
	"sort"

	"github.com/logicahealth/komet-sub049/types"
)

// Relation is the relative position of one stamp to another.
type Relation int

const (
	// Unreachable means a stamp is not on the route of the coordinate.
	Unreachable Relation = iota
	// Before means the first stamp precedes the second.
	Before
	// Equal means both stamps have the same position.
	Equal
	// After means the first stamp follows the second.
	After
	// Contradiction means neither stamp precedes the other.
	Contradiction
)

func (r Relation) String() string {
	switch r {
	case Before:
		return "Before"
	case Equal:
		return "Equal"
	case After:
		return "After"
	case Contradiction:
		return "Contradiction"
	default:
		return "Unreachable"
	}
}

// StampResolver resolves stamp sequences.
type StampResolver interface {
	Resolve(seq int32) types.Stamp
}

// CycleResolver is told about origin cycles found while building a route.
type CycleResolver interface {
	ResolveCycle(err *types.PathCycleError)
}

type segment struct {
	path   int32
	cutoff int64
	// ancestors maps each inherited path to the latest time inherited from it.
	ancestors map[int32]int64
}

// Calculator orders stamps for one coordinate. It is immutable and safe for concurrent
// use.
type Calculator struct {
	coord    *types.StampCoordinate
	stamps   StampResolver
	segments map[int32]*segment
}

// NewCalculator builds the route of coord over graph. An origin cycle fails the build
// with a PathCycleError, which is also passed to resolver when not nil.
func NewCalculator(coord *types.StampCoordinate, graph *PathGraph, stamps StampResolver,
	resolver CycleResolver) (c *Calculator, err error) {
	if err = coord.Validate(); err != nil {
		return
	}
	c = &Calculator{
		coord:    coord.Copy(),
		stamps:   stamps,
		segments: make(map[int32]*segment),
	}

	for _, p := range c.coord.Positions() {
		if err = c.visit(graph, p.Path, p.Time, nil); err != nil {
			if ce, ok := err.(*types.PathCycleError); ok && resolver != nil {
				resolver.ResolveCycle(ce)
			}
			return nil, err
		}
	}
	for _, seg := range c.segments {
		seg.ancestors = make(map[int32]int64)
		inherit(graph, seg.path, types.LatestTime, seg.ancestors)
	}
	return
}

func (c *Calculator) visit(graph *PathGraph, path int32, cutoff int64, stack []int32) error {
	for i, p := range stack {
		if p == path {
			cycle := append(append([]int32(nil), stack[i:]...), path)
			return &types.PathCycleError{Cycle: cycle}
		}
	}

	seg, seen := c.segments[path]
	if !seen {
		seg = &segment{path: path, cutoff: cutoff}
		c.segments[path] = seg
	} else if cutoff > seg.cutoff {
		seg.cutoff = cutoff
	} else {
		return nil
	}

	stack = append(stack, path)
	for _, o := range graph.Origins(path) {
		oc := o.Time
		if cutoff < oc {
			oc = cutoff
		}
		if err := c.visit(graph, o.Path, oc, stack); err != nil {
			return err
		}
	}
	return nil
}

// inherit records in ancestors every path inherited by path, with the latest inherited
// time over every origin chain. The graph below built segments is acyclic.
func inherit(graph *PathGraph, path int32, cutoff int64, ancestors map[int32]int64) {
	for _, o := range graph.Origins(path) {
		oc := o.Time
		if cutoff < oc {
			oc = cutoff
		}
		if prev, ok := ancestors[o.Path]; ok && prev >= oc {
			continue
		}
		ancestors[o.Path] = oc
		inherit(graph, o.Path, oc, ancestors)
	}
}

// Coordinate returns the coordinate of the calculator.
func (c *Calculator) Coordinate() *types.StampCoordinate {
	return c.coord
}

// OnRoute reports whether s is visible at the coordinate position: committed, not
// cancelled, on an allowed module and on a route segment no later than its cutoff.
// Statuses are not considered.
func (c *Calculator) OnRoute(s types.Stamp) bool {
	if s.IsUncommitted() || s.IsCancelled() {
		return false
	}
	if !c.coord.AllowsModule(s.Module) {
		return false
	}
	seg, ok := c.segments[s.Path]
	return ok && s.Time <= seg.cutoff
}

// Relative returns the position of a relative to b.
func (c *Calculator) Relative(a, b types.Stamp) Relation {
	if !c.OnRoute(a) || !c.OnRoute(b) {
		return Unreachable
	}
	if a.Path == b.Path {
		switch {
		case a.Time < b.Time:
			return Before
		case a.Time > b.Time:
			return After
		default:
			return Equal
		}
	}
	if cutoff, ok := c.segments[b.Path].ancestors[a.Path]; ok && a.Time <= cutoff {
		return Before
	}
	if cutoff, ok := c.segments[a.Path].ancestors[b.Path]; ok && b.Time <= cutoff {
		return After
	}
	return Contradiction
}

// Latest is the outcome of a latest computation: no stamp, one stamp, or the
// contradictory stamps the caller has to decide between.
type Latest struct {
	Stamps []int32
}

// IsEmpty reports whether no stamp is visible.
func (l Latest) IsEmpty() bool {
	return len(l.Stamps) == 0
}

// IsContradiction reports whether several incomparable stamps are latest.
func (l Latest) IsContradiction() bool {
	return len(l.Stamps) > 1
}

// Single returns the latest stamp when there is exactly one.
func (l Latest) Single() (seq int32, ok bool) {
	if len(l.Stamps) == 1 {
		return l.Stamps[0], true
	}
	return 0, false
}

// LatestOf returns the stamps of seqs no other stamp of seqs follows. Module preference
// decides between stamps at an equal position.
func (c *Calculator) LatestOf(seqs []int32) (latest Latest) {
	type candidate struct {
		seq   int32
		stamp types.Stamp
	}

	sorted := append([]int32(nil), seqs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var front []candidate
	for i, seq := range sorted {
		if i > 0 && sorted[i-1] == seq {
			continue
		}
		s := c.stamps.Resolve(seq)
		if !c.OnRoute(s) {
			continue
		}

		dominated := false
		kept := front[:0]
		for _, f := range front {
			if dominated {
				kept = append(kept, f)
				continue
			}
			switch c.Relative(s, f.stamp) {
			case Before:
				dominated = true
				kept = append(kept, f)
			case After:
			case Equal:
				ra, rb := c.coord.ModuleRank(s.Module), c.coord.ModuleRank(f.stamp.Module)
				if ra > rb {
					dominated = true
				}
				if ra >= rb {
					kept = append(kept, f)
				}
			default:
				kept = append(kept, f)
			}
		}
		front = kept
		if !dominated {
			front = append(front, candidate{seq: seq, stamp: s})
		}
	}

	for _, f := range front {
		latest.Stamps = append(latest.Stamps, f.seq)
	}
	sort.Slice(latest.Stamps, func(i, j int) bool { return latest.Stamps[i] < latest.Stamps[j] })
	return
}

// LatestVersion is the visible state of a chronology at a coordinate.
type LatestVersion struct {
	Versions []types.Version
	// Stamps are the latest stamps before the status filter.
	Stamps []int32
	// Contradiction is set when the latest stamps are incomparable, even when the
	// status filter leaves a single version.
	Contradiction bool
}

// IsPresent reports whether any version is visible.
func (l LatestVersion) IsPresent() bool {
	return len(l.Versions) > 0
}

// LatestVersion returns the latest versions of chron, keeping only those whose stamp
// status the coordinate allows. A chronology whose latest version is inactive under an
// active only coordinate has no visible version. The filter never hides a contradiction.
func (c *Calculator) LatestVersion(chron *types.Chronology) (lv LatestVersion) {
	latest := c.LatestOf(chron.StampSequences())
	lv.Stamps = latest.Stamps
	lv.Contradiction = latest.IsContradiction()
	for _, seq := range latest.Stamps {
		if !c.coord.AllowedStatuses.Contains(c.stamps.Resolve(seq).Status) {
			continue
		}
		lv.Versions = append(lv.Versions, chron.VersionsWithStamp(seq)...)
	}
	return
}
