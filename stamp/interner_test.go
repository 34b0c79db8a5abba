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

package stamp

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/logicahealth/komet-sub049/storage"
	"github.com/logicahealth/komet-sub049/types"
)

func TestInterner(t *testing.T) {
	Convey("interning and resolving", t, func() {
		st, err := storage.OpenMemStorage()
		So(err, ShouldBeNil)
		defer st.Close()
		in, err := NewInterner(st)
		So(err, ShouldBeNil)

		s1, err := in.Intern(types.Active, 100, 1, 2, 3)
		So(err, ShouldBeNil)
		So(s1, ShouldEqual, 1)
		So(in.Resolve(s1), ShouldResemble, types.Stamp{Status: types.Active, Time: 100, Author: 1, Module: 2, Path: 3})

		same, err := in.Intern(types.Active, 100, 1, 2, 3)
		So(err, ShouldBeNil)
		So(same, ShouldEqual, s1)

		u1, err := in.Intern(types.Active, types.UncommittedTime, 1, 2, 3)
		So(err, ShouldBeNil)
		u2, err := in.Intern(types.Active, types.UncommittedTime, 1, 2, 3)
		So(err, ShouldBeNil)
		So(u1, ShouldNotEqual, u2)
		So(in.IsUncommitted(u1), ShouldBeTrue)
		So(in.Count(), ShouldEqual, 3)

		_, err = in.Get(99)
		So(errors.Cause(err), ShouldEqual, ErrUnknownStamp)
		So(func() { in.Resolve(99) }, ShouldPanic)

		Convey("finalize publishes the commit time", func() {
			So(in.Finalize([]int32{u1, u2}, 200), ShouldBeNil)
			So(in.Resolve(u1).Time, ShouldEqual, 200)
			So(in.Resolve(u2).Time, ShouldEqual, 200)
			So(in.IsUncommitted(u1), ShouldBeFalse)

			err := in.Finalize([]int32{u1}, 300)
			So(errors.Cause(err), ShouldEqual, ErrNotUncommitted)

			dedupe, err := in.Intern(types.Active, 200, 1, 2, 3)
			So(err, ShouldBeNil)
			So(dedupe, ShouldEqual, u1)
		})

		Convey("cancel hides the stamp", func() {
			So(in.Cancel([]int32{u1}), ShouldBeNil)
			s := in.Resolve(u1)
			So(s.Status, ShouldEqual, types.Cancelled)
			So(s.Time, ShouldEqual, types.CancelledTime)
			So(s.IsCancelled(), ShouldBeTrue)
			So(errors.Cause(in.Cancel([]int32{u1})), ShouldEqual, ErrNotUncommitted)
		})

		Convey("a batch with one bad sequence changes nothing", func() {
			err := in.Finalize([]int32{u1, s1}, 500)
			So(errors.Cause(err), ShouldEqual, ErrNotUncommitted)
			So(in.IsUncommitted(u1), ShouldBeTrue)
		})
	})

	Convey("concurrent uncommitted interning never collides", t, func() {
		st, err := storage.OpenMemStorage()
		So(err, ShouldBeNil)
		defer st.Close()
		in, err := NewInterner(st)
		So(err, ShouldBeNil)

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			seen = make(map[int32]bool)
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					seq, err := in.Intern(types.Active, types.UncommittedTime, 1, 1, 1)
					if err != nil {
						panic(err)
					}
					committed, _ := in.Intern(types.Active, 10, 1, 1, 1)
					mu.Lock()
					seen[seq] = true
					seen[committed] = true
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		So(seen, ShouldHaveLength, 801)
	})

	Convey("reload cancels abandoned stamps", t, func() {
		dir, err := ioutil.TempDir("", "komet-stamp-")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)
		path := filepath.Join(dir, "stamps")

		st, err := storage.OpenStorage(path)
		So(err, ShouldBeNil)
		in, err := NewInterner(st)
		So(err, ShouldBeNil)
		c, _ := in.Intern(types.Inactive, 10, 1, 1, 1)
		u, _ := in.Intern(types.Active, types.UncommittedTime, 1, 1, 1)
		So(st.Close(), ShouldBeNil)

		st, err = storage.OpenStorage(path)
		So(err, ShouldBeNil)
		defer st.Close()
		in, err = NewInterner(st)
		So(err, ShouldBeNil)
		So(in.Count(), ShouldEqual, 2)
		So(in.Resolve(u).IsCancelled(), ShouldBeTrue)
		again, _ := in.Intern(types.Inactive, 10, 1, 1, 1)
		So(again, ShouldEqual, c)
	})
}
