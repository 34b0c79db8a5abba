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

package position

import (
	"sort"
	"sync"

	"github.com/logicahealth/komet-sub049/types"
)

// PathGraph holds the origins of every path. A path inherits the history of each origin
// path up to the origin time.
type PathGraph struct {
	mu      sync.RWMutex
	origins map[int32][]types.StampPosition
}

// NewPathGraph returns an empty graph.
func NewPathGraph() *PathGraph {
	return &PathGraph{origins: make(map[int32][]types.StampPosition)}
}

// SetOrigins replaces the origins of path. Passing no origin makes it a root path.
func (g *PathGraph) SetOrigins(path int32, origins ...types.StampPosition) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(origins) == 0 {
		delete(g.origins, path)
		return
	}
	g.origins[path] = append([]types.StampPosition(nil), origins...)
}

// Origins returns the origins of path.
func (g *PathGraph) Origins(path int32) []types.StampPosition {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]types.StampPosition(nil), g.origins[path]...)
}

// Paths returns every path with origins, ordered.
func (g *PathGraph) Paths() (paths []int32) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for p := range g.origins {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return
}
