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
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/logicahealth/komet-sub049/types"
)

// DefaultCacheSize is the number of calculators a cache keeps.
const DefaultCacheSize = 64

// Cache memoizes calculators by coordinate fingerprint.
type Cache struct {
	graph    *PathGraph
	stamps   StampResolver
	resolver CycleResolver
	cache    *lru.Cache
}

// NewCache returns a cache of size calculators over graph.
func NewCache(size int, graph *PathGraph, stamps StampResolver, resolver CycleResolver) (c *Cache, err error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c = &Cache{graph: graph, stamps: stamps, resolver: resolver}
	if c.cache, err = lru.New(size); err != nil {
		return nil, errors.Wrap(err, "create calculator cache failed")
	}
	return
}

// Get returns the calculator of coord, building it on a miss.
func (c *Cache) Get(coord *types.StampCoordinate) (calc *Calculator, err error) {
	if err = coord.Validate(); err != nil {
		return
	}
	key := coord.Fingerprint()
	if v, ok := c.cache.Get(key); ok {
		return v.(*Calculator), nil
	}
	if calc, err = NewCalculator(coord, c.graph, c.stamps, c.resolver); err != nil {
		return
	}
	c.cache.Add(key, calc)
	return
}

// Purge drops every calculator, routes change with the path graph.
func (c *Cache) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached calculators.
func (c *Cache) Len() int {
	return c.cache.Len()
}
