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

package conf

import "time"

// Defaults filled in by Normalize.
const (
	DefaultLogLevel            = "info"
	DefaultBlockSize           = 1024
	DefaultMemoryPolicy        = "hold_in_memory"
	DefaultFlushInterval       = 10 * time.Second
	DefaultMaxResidentSpines   = 256
	DefaultFlushWorkers        = 4
	DefaultMaxParallelWriters  = 8
	DefaultCalculatorCacheSize = 64
)
