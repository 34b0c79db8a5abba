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

package notify

import (
	"runtime"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type recordingIndexer struct {
	mu   sync.Mutex
	nids []int32
}

func (i *recordingIndexer) IndexNow(nid int32) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.nids = append(i.nids, nid)
}

func TestRegistry(t *testing.T) {
	Convey("listeners receive commits until closed", t, func() {
		r := NewRegistry()
		var got []uint64
		sub := r.AddListener(ListenerFunc(func(seq uint64, nids []int32) {
			got = append(got, seq)
		}))
		So(r.Len(), ShouldEqual, 1)

		r.FireChanged(1, []int32{10})
		sub.Close()
		sub.Close()
		r.FireChanged(2, []int32{11})
		So(got, ShouldResemble, []uint64{1})
		So(r.Len(), ShouldEqual, 0)
	})

	Convey("a listener closed during a pass is skipped", t, func() {
		r := NewRegistry()
		var second *Subscription
		calls := 0
		first := r.AddListener(ListenerFunc(func(uint64, []int32) {
			second.Close()
		}))
		defer first.Close()
		second = r.AddListener(ListenerFunc(func(uint64, []int32) {
			calls++
		}))
		r.FireChanged(1, nil)
		So(calls, ShouldEqual, 0)
	})

	Convey("a panicking listener does not stop delivery", t, func() {
		r := NewRegistry()
		r.AddListener(ListenerFunc(func(uint64, []int32) {
			panic("listener failure")
		}))
		idx := &recordingIndexer{}
		sub := r.AddListener(IndexerListener{Indexer: idx})
		defer sub.Close()

		So(func() { r.FireChanged(3, []int32{1, 2}) }, ShouldNotPanic)
		So(idx.nids, ShouldResemble, []int32{1, 2})
	})

	Convey("a dropped subscription is pruned", t, func() {
		r := NewRegistry()
		func() {
			_ = r.AddListener(ListenerFunc(func(uint64, []int32) {}))
		}()

		deadline := time.Now().Add(5 * time.Second)
		for r.Len() > 0 && time.Now().Before(deadline) {
			runtime.GC()
			time.Sleep(10 * time.Millisecond)
		}
		So(r.Len(), ShouldEqual, 0)
		r.FireChanged(1, nil)
		r.lock.Lock()
		So(r.entries, ShouldBeEmpty)
		r.lock.Unlock()
	})
}
