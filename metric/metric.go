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

package metric

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/version"

	"github.com/logicahealth/komet-sub049/datastore"
	"github.com/logicahealth/komet-sub049/utils/log"
)

// SimpleMetricMap is map from metric name to MetricFamily.
type SimpleMetricMap map[string]*dto.MetricFamily

// Value returns the value of the first sample of name, gauges and counters only.
func (mm SimpleMetricMap) Value(name string) (v float64, ok bool) {
	mf := mm[name]
	if mf == nil || len(mf.Metric) == 0 {
		return
	}
	m := mf.Metric[0]
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue(), true
	case m.Counter != nil:
		return m.Counter.GetValue(), true
	}
	return
}

// Names returns the metric names in order.
func (mm SimpleMetricMap) Names() (names []string) {
	for name := range mm {
		names = append(names, name)
	}
	sort.Strings(names)
	return
}

// NewRegistry returns a registry collecting the store, its commit meters and the
// process metrics.
func NewRegistry(ds *datastore.Datastore) (registry *prometheus.Registry, err error) {
	registry = prometheus.NewRegistry()
	collectors := map[string]prometheus.Collector{
		"store":   NewStoreCollector(ds),
		"meters":  NewMeterCollector(ds.Transactions().MeterRegistry()),
		"version": version.NewCollector("komet"),
		"go":      prometheus.NewGoCollector(),
		"process": prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	}

	var names []string
	for name, c := range collectors {
		if err = registry.Register(c); err != nil {
			log.WithError(err).WithField("collector", name).Error("couldn't register collector")
			return nil, err
		}
		names = append(names, name)
	}
	sort.Strings(names)
	log.WithField("collectors", names).Info("enabled collectors")
	return
}

// Gather snapshots registry into a SimpleMetricMap.
func Gather(registry prometheus.Gatherer) (mm SimpleMetricMap, err error) {
	mfs, err := registry.Gather()
	if err != nil {
		return
	}
	mm = make(SimpleMetricMap, len(mfs))
	for _, mf := range mfs {
		mm[mf.GetName()] = mf
	}
	return
}
