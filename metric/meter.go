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
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	metrics "github.com/rcrowley/go-metrics"
)

// MeterCollector exports the meters of a go-metrics registry as prometheus counters.
type MeterCollector struct {
	registry metrics.Registry
}

// NewMeterCollector returns a collector over registry.
func NewMeterCollector(registry metrics.Registry) *MeterCollector {
	return &MeterCollector{registry: registry}
}

func meterDesc(name string) *prometheus.Desc {
	name = strings.Replace(name, "-", "_", -1)
	return prometheus.NewDesc(storeStatNamespace(name+"_total"), "Events counted by meter "+name, nil, nil)
}

// Describe sends nothing, the meter set of a registry may grow.
func (mc *MeterCollector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (mc *MeterCollector) Collect(ch chan<- prometheus.Metric) {
	mc.registry.Each(func(name string, i interface{}) {
		if m, ok := i.(metrics.Meter); ok {
			ch <- prometheus.MustNewConstMetric(meterDesc(name), prometheus.CounterValue, float64(m.Count()))
		}
	})
}
