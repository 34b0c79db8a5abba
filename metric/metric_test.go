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
	"context"
	"io/ioutil"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	metrics "github.com/rcrowley/go-metrics"
	uuid "github.com/satori/go.uuid"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/logicahealth/komet-sub049/conf"
	"github.com/logicahealth/komet-sub049/datastore"
	"github.com/logicahealth/komet-sub049/types"
)

type fixedStats datastore.Stats

func (f fixedStats) Stats() datastore.Stats {
	return datastore.Stats(f)
}

func TestStoreCollector(t *testing.T) {
	Convey("store stats are exported as gauges", t, func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(NewStoreCollector(fixedStats{Nids: 7, Spines: 2, BytesOnDisk: 4096}))

		mm, err := Gather(reg)
		So(err, ShouldBeNil)
		v, ok := mm.Value("komet_nids")
		So(ok, ShouldBeTrue)
		So(v, ShouldEqual, 7)
		v, _ = mm.Value("komet_spine_bytes_on_disk")
		So(v, ShouldEqual, 4096)
		_, ok = mm.Value("komet_no_such_metric")
		So(ok, ShouldBeFalse)
		So(mm.Names(), ShouldContain, "komet_cached_calculators")
	})

	Convey("meters are exported as counters", t, func() {
		r := metrics.NewRegistry()
		metrics.GetOrRegisterMeter("txn-commit-succ", r).Mark(3)
		metrics.GetOrRegisterCounter("ignored", r).Inc(1)

		reg := prometheus.NewRegistry()
		reg.MustRegister(NewMeterCollector(r))
		mm, err := Gather(reg)
		So(err, ShouldBeNil)
		v, ok := mm.Value("komet_txn_commit_succ_total")
		So(ok, ShouldBeTrue)
		So(v, ShouldEqual, 3)
		So(mm, ShouldHaveLength, 1)
	})
}

func TestServe(t *testing.T) {
	Convey("a datastore registry is served over http", t, func() {
		ds, err := datastore.Open(conf.NewMemConfig())
		So(err, ShouldBeNil)
		defer ds.Close()

		path, err := ds.Identifiers().GetOrCreateNid(uuid.Must(uuid.NewV4()))
		So(err, ShouldBeNil)
		chron, err := ds.Component(types.ConceptChronology, uuid.Must(uuid.NewV4()), 0, 0)
		So(err, ShouldBeNil)
		tx := ds.NewTransaction("metric")
		seq, err := tx.NewStamp(types.Active, path, path, path)
		So(err, ShouldBeNil)
		So(tx.AddVersion(chron, types.Version{StampSequence: seq, Payload: &types.ConceptPayload{}}), ShouldBeNil)
		_, err = tx.Commit(context.Background())
		So(err, ShouldBeNil)

		reg, err := NewRegistry(ds)
		So(err, ShouldBeNil)
		mm, err := Gather(reg)
		So(err, ShouldBeNil)
		v, _ := mm.Value("komet_commit_sequence")
		So(v, ShouldEqual, 1)
		v, _ = mm.Value("komet_txn_commit_succ_total")
		So(v, ShouldEqual, 1)

		s, err := Serve("127.0.0.1:0", reg)
		So(err, ShouldBeNil)
		defer s.Close()

		resp, err := http.Get("http://" + s.Addr() + MetricsPath)
		So(err, ShouldBeNil)
		defer resp.Body.Close()
		body, err := ioutil.ReadAll(resp.Body)
		So(err, ShouldBeNil)
		So(string(body), ShouldContainSubstring, "komet_nids")
		So(string(body), ShouldContainSubstring, "komet_build_info")
	})
}
