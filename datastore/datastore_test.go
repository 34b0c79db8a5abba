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

package datastore

import (
	"context"
	"io/ioutil"
	"os"
	"sync"
	"testing"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/logicahealth/komet-sub049/conf"
	"github.com/logicahealth/komet-sub049/identifier"
	"github.com/logicahealth/komet-sub049/task"
	"github.com/logicahealth/komet-sub049/types"
)

func newUUID() uuid.UUID {
	return uuid.Must(uuid.NewV4())
}

func text(seq int32, s string) types.Version {
	return types.Version{StampSequence: seq, Payload: &types.StringPayload{Value: s}}
}

type indexer struct {
	mu   sync.Mutex
	nids []int32
}

func (i *indexer) IndexNow(nid int32) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.nids = append(i.nids, nid)
}

type world struct {
	author, module, path int32
}

func newWorld(ds *Datastore) (w world) {
	var err error
	w.author, err = ds.Identifiers().GetOrCreateNid(newUUID())
	So(err, ShouldBeNil)
	w.module, err = ds.Identifiers().GetOrCreateNid(newUUID())
	So(err, ShouldBeNil)
	w.path, err = ds.Identifiers().GetOrCreateNid(newUUID())
	So(err, ShouldBeNil)
	return
}

func TestDatastore(t *testing.T) {
	Convey("an in-memory datastore", t, func() {
		ds, err := Open(conf.NewMemConfig())
		So(err, ShouldBeNil)
		defer ds.Close()
		w := newWorld(ds)
		coord := types.NewStampCoordinate(types.ActiveOnly, w.path, types.LatestTime)

		ix := &indexer{}
		sub := ds.AddIndexer(ix)
		defer sub.Close()

		u := newUUID()
		chron, err := ds.Component(types.ConceptChronology, u, 0, 0)
		So(err, ShouldBeNil)
		_, err = ds.Chronology(chron.Nid)
		So(types.IsUnknownIdentifier(err), ShouldBeTrue)

		tx := ds.NewTransaction("create concept")
		seq, err := tx.NewStamp(types.Active, w.author, w.module, w.path)
		So(err, ShouldBeNil)
		So(tx.AddVersion(chron, text(seq, "heart")), ShouldBeNil)

		lv, err := ds.Latest(chron.Nid, coord)
		So(err, ShouldBeNil)
		So(lv.IsPresent(), ShouldBeFalse)

		rec, err := tx.Commit(context.Background())
		So(err, ShouldBeNil)
		So(rec.Nids, ShouldResemble, []int32{chron.Nid})

		lv, err = ds.Latest(chron.Nid, coord)
		So(err, ShouldBeNil)
		So(lv.Versions, ShouldHaveLength, 1)
		So(lv.Versions[0].Payload, ShouldResemble, &types.StringPayload{Value: "heart"})
		So(ix.nids, ShouldResemble, []int32{chron.Nid})

		read, err := ds.ChronologyByUUID(u)
		So(err, ShouldBeNil)
		So(read.ReadMark, ShouldEqual, rec.Sequence)
		So(read.Type, ShouldEqual, types.ConceptChronology)

		Convey("a stale read is rejected", func() {
			tx2 := ds.NewTransaction("second edit")
			seq2, err := tx2.NewStamp(types.Inactive, w.author, w.module, w.path)
			So(err, ShouldBeNil)
			So(tx2.AddVersion(read, text(seq2, "retired")), ShouldBeNil)
			_, err = tx2.Commit(context.Background())
			So(err, ShouldBeNil)

			tx3 := ds.NewTransaction("late edit")
			seq3, err := tx3.NewStamp(types.Active, w.author, w.module, w.path)
			So(err, ShouldBeNil)
			err = tx3.AddVersion(read, text(seq3, "late"))
			_, stale := types.AsStaleVersion(err)
			So(stale, ShouldBeTrue)
			So(tx3.Cancel(), ShouldBeNil)

			lv, err := ds.Latest(chron.Nid, coord)
			So(err, ShouldBeNil)
			So(lv.IsPresent(), ShouldBeFalse)
			lv, err = ds.Latest(chron.Nid,
				types.NewStampCoordinate(types.ActiveAndInactive, w.path, types.LatestTime))
			So(err, ShouldBeNil)
			So(lv.Versions, ShouldHaveLength, 1)
			So(lv.Versions[0].Payload, ShouldResemble, &types.StringPayload{Value: "retired"})
		})

		Convey("merging a uuid adds an alias header", func() {
			alias := newUUID()
			So(ds.MergeUUID(alias, chron.Nid), ShouldBeNil)
			So(ds.MergeUUID(alias, chron.Nid), ShouldBeNil)
			merged, err := ds.ChronologyByUUID(alias)
			So(err, ShouldBeNil)
			So(merged.Nid, ShouldEqual, chron.Nid)
			So(merged.UUIDs(), ShouldResemble, []uuid.UUID{u, alias})
			So(merged.Versions, ShouldHaveLength, 1)

			other, err := ds.Identifiers().GetOrCreateNid(newUUID())
			So(err, ShouldBeNil)
			So(errors.Cause(ds.MergeUUID(alias, other)), ShouldEqual, identifier.ErrAlreadyMapped)
		})

		Convey("path origins drive visibility", func() {
			dev, err := ds.Identifiers().GetOrCreateNid(newUUID())
			So(err, ShouldBeNil)
			devCoord := types.NewStampCoordinate(types.ActiveOnly, dev, types.LatestTime)

			lv, err := ds.Latest(chron.Nid, devCoord)
			So(err, ShouldBeNil)
			So(lv.IsPresent(), ShouldBeFalse)

			So(ds.SetPathOrigins(dev, types.StampPosition{Path: w.path, Time: types.LatestTime}), ShouldBeNil)
			So(ds.PathOrigins(dev), ShouldHaveLength, 1)
			lv, err = ds.Latest(chron.Nid, devCoord)
			So(err, ShouldBeNil)
			So(lv.IsPresent(), ShouldBeTrue)

			So(ds.SetPathOrigins(w.path, types.StampPosition{Path: dev, Time: types.LatestTime}), ShouldBeNil)
			_, err = ds.Calculator(devCoord)
			_, cycle := types.AsPathCycle(err)
			So(cycle, ShouldBeTrue)

			So(ds.SetPathOrigins(w.path), ShouldBeNil)
			So(ds.PathOrigins(w.path), ShouldBeEmpty)
			_, err = ds.Calculator(devCoord)
			So(err, ShouldBeNil)
		})

		Convey("stats report the store", func() {
			s := ds.Stats()
			So(s.Nids, ShouldBeGreaterThanOrEqualTo, 4)
			So(s.Stamps, ShouldBeGreaterThanOrEqualTo, 1)
			So(s.Spines, ShouldEqual, 1)
			So(s.CommitSequence, ShouldEqual, rec.Sequence)
			So(s.Commits, ShouldEqual, 1)
			So(s.Listeners, ShouldEqual, 1)
			So(s.CachedCalculators, ShouldEqual, 1)
		})
	})

	Convey("bulk load", t, func() {
		cfg := conf.NewMemConfig()
		cfg.Transaction.MaxParallelWriters = 3
		ds, err := Open(cfg)
		So(err, ShouldBeNil)
		defer ds.Close()
		w := newWorld(ds)

		tx := ds.NewTransaction("import")
		seq, err := tx.NewStamp(types.Active, w.author, w.module, w.path)
		So(err, ShouldBeNil)

		var (
			items    []Item
			concepts []uuid.UUID
		)
		for i := 0; i < 40; i++ {
			u := newUUID()
			concepts = append(concepts, u)
			items = append(items,
				Item{UUID: u, Type: types.ConceptChronology, Version: text(seq, "first")},
				Item{UUID: u, Type: types.ConceptChronology, Version: text(seq, "second")})
		}

		tracker := task.NewTracker("import", 0)
		So(ds.BulkLoad(context.Background(), tx, items, tracker), ShouldBeNil)
		done, total := tracker.Progress()
		So(done, ShouldEqual, 80)
		So(total, ShouldEqual, 80)
		So(tx.Nids(), ShouldHaveLength, 40)

		_, err = tx.Commit(context.Background())
		So(err, ShouldBeNil)

		for _, u := range concepts {
			chron, err := ds.ChronologyByUUID(u)
			So(err, ShouldBeNil)
			So(chron.Versions, ShouldHaveLength, 2)
			So(chron.Versions[0].Payload, ShouldResemble, &types.StringPayload{Value: "first"})
			So(chron.Versions[1].Payload, ShouldResemble, &types.StringPayload{Value: "second"})
		}

		Convey("a cancelled tracker stops the load", func() {
			tx := ds.NewTransaction("cancelled import")
			seq, err := tx.NewStamp(types.Active, w.author, w.module, w.path)
			So(err, ShouldBeNil)
			tracker := task.NewTracker("cancelled", 0)
			tracker.Cancel()
			err = ds.BulkLoad(context.Background(), tx,
				[]Item{{UUID: newUUID(), Type: types.ConceptChronology, Version: text(seq, "x")}}, tracker)
			So(errors.Cause(err), ShouldEqual, task.ErrCancelled)
			So(tx.Cancel(), ShouldBeNil)
		})

		Convey("a cancelled context stops the load", func() {
			tx := ds.NewTransaction("aborted import")
			seq, err := tx.NewStamp(types.Active, w.author, w.module, w.path)
			So(err, ShouldBeNil)
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			err = ds.BulkLoad(ctx, tx,
				[]Item{{UUID: newUUID(), Type: types.ConceptChronology, Version: text(seq, "x")}}, nil)
			So(errors.Cause(err), ShouldEqual, context.Canceled)
			So(tx.Cancel(), ShouldBeNil)
		})
	})

	Convey("a datastore on disk survives reopening", t, func() {
		dir, err := ioutil.TempDir("", "komet-datastore-")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)

		cfg := conf.NewConfig(dir)
		cfg.Spine.BlockSize = 8
		ds, err := Open(cfg)
		So(err, ShouldBeNil)
		w := newWorld(ds)

		u := newUUID()
		chron, err := ds.Component(types.DescriptionChronology, u, 0, w.module)
		So(err, ShouldBeNil)
		tx := ds.NewTransaction("describe")
		seq, err := tx.NewStamp(types.Active, w.author, w.module, w.path)
		So(err, ShouldBeNil)
		So(tx.AddVersion(chron, types.Version{StampSequence: seq, Payload: &types.DescriptionPayload{
			Text: "Myocardial infarction", Language: w.module, DescriptionType: w.author}}), ShouldBeNil)
		rec, err := tx.Commit(context.Background())
		So(err, ShouldBeNil)

		pending := ds.NewTransaction("abandoned")
		abandoned, err := pending.NewStamp(types.Active, w.author, w.module, w.path)
		So(err, ShouldBeNil)

		dev, err := ds.Identifiers().GetOrCreateNid(newUUID())
		So(err, ShouldBeNil)
		So(ds.SetPathOrigins(dev, types.StampPosition{Path: w.path, Time: rec.Time}), ShouldBeNil)
		So(ds.Close(), ShouldBeNil)
		So(ds.Close(), ShouldEqual, ErrClosed)

		ds, err = Open(cfg)
		So(err, ShouldBeNil)
		defer ds.Close()

		read, err := ds.ChronologyByUUID(u)
		So(err, ShouldBeNil)
		So(read.Type, ShouldEqual, types.DescriptionChronology)
		So(read.ReferencedComponent, ShouldEqual, w.module)
		So(read.ReadMark, ShouldEqual, rec.Sequence)
		So(ds.Transactions().LastSequence(), ShouldEqual, rec.Sequence)
		So(ds.PathOrigins(dev), ShouldResemble, []types.StampPosition{{Path: w.path, Time: rec.Time}})
		So(ds.Stamps().Resolve(abandoned).IsCancelled(), ShouldBeTrue)

		lv, err := ds.Latest(read.Nid, types.NewStampCoordinate(types.ActiveOnly, dev, types.LatestTime))
		So(err, ShouldBeNil)
		So(lv.Versions, ShouldHaveLength, 1)
		So(ds.Stats().BytesOnDisk, ShouldBeGreaterThan, 0)
	})

	Convey("invalid configs are refused", t, func() {
		_, err := Open(&conf.Config{})
		So(errors.Cause(err), ShouldEqual, conf.ErrInvalidConfig)

		cfg := conf.NewMemConfig()
		cfg.Spine.MemoryPolicy = "keep_everything"
		_, err = Open(cfg)
		So(err, ShouldNotBeNil)
	})
}
