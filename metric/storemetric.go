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

// Package metric exports store statistics to prometheus.
package metric

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/logicahealth/komet-sub049/datastore"
)

// StatsSource provides store statistics.
type StatsSource interface {
	Stats() datastore.Stats
}

// storeStatMetric provide description, value, and value type for one store stat.
type storeStatMetric struct {
	desc    *prometheus.Desc
	eval    func(*datastore.Stats) float64
	valType prometheus.ValueType
}

type storeStatsMetrics []storeStatMetric

// StoreCollector collects store metrics, the statistics are read once per scrape.
type StoreCollector struct {
	source StatsSource
	sync.Mutex

	// metrics to describe and collect
	metrics storeStatsMetrics
}

func storeStatNamespace(s string) string {
	return fmt.Sprintf("komet_%s", s)
}

func gauge(name, help string, eval func(*datastore.Stats) float64) storeStatMetric {
	return storeStatMetric{
		desc:    prometheus.NewDesc(storeStatNamespace(name), help, nil, nil),
		eval:    eval,
		valType: prometheus.GaugeValue,
	}
}

// NewStoreCollector returns a collector over source.
func NewStoreCollector(source StatsSource) *StoreCollector {
	return &StoreCollector{
		source: source,
		metrics: storeStatsMetrics{
			gauge("nids", "Assigned native identifiers",
				func(s *datastore.Stats) float64 { return float64(s.Nids) }),
			gauge("max_nid", "Largest assigned positive native identifier",
				func(s *datastore.Stats) float64 { return float64(s.MaxNid) }),
			gauge("stamps", "Interned stamps",
				func(s *datastore.Stats) float64 { return float64(s.Stamps) }),
			gauge("spines", "Spines in the directory",
				func(s *datastore.Stats) float64 { return float64(s.Spines) }),
			gauge("resident_spines", "Spines holding their slots in memory",
				func(s *datastore.Stats) float64 { return float64(s.ResidentSpines) }),
			gauge("spine_bytes_on_disk", "Bytes written by the spine backend",
				func(s *datastore.Stats) float64 { return float64(s.BytesOnDisk) }),
			gauge("commit_sequence", "Sequence of the last commit",
				func(s *datastore.Stats) float64 { return float64(s.CommitSequence) }),
			gauge("open_transactions", "Transactions neither committed nor cancelled",
				func(s *datastore.Stats) float64 { return float64(s.OpenTransactions) }),
			gauge("change_listeners", "Registered change listeners",
				func(s *datastore.Stats) float64 { return float64(s.Listeners) }),
			gauge("cached_calculators", "Cached position calculators",
				func(s *datastore.Stats) float64 { return float64(s.CachedCalculators) }),
		},
	}
}

// Describe returns all descriptions of the collector.
func (sc *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, i := range sc.metrics {
		ch <- i.desc
	}
}

// Collect returns the current state of all metrics of the collector.
func (sc *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	sc.Lock()
	stats := sc.source.Stats()
	sc.Unlock()

	for _, i := range sc.metrics {
		ch <- prometheus.MustNewConstMetric(i.desc, i.valType, i.eval(&stats))
	}
}
