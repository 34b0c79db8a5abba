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

package storage

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestStorage(t *testing.T) {
	Convey("leveldb storage operations", t, func() {
		dir, err := ioutil.TempDir("", "komet-storage-")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)

		st, err := OpenStorage(filepath.Join(dir, "kv"))
		So(err, ShouldBeNil)

		Convey("single values", func() {
			So(st.SetValue([]byte("k1"), []byte("v1")), ShouldBeNil)
			v, err := st.GetValue([]byte("k1"))
			So(err, ShouldBeNil)
			So(string(v), ShouldEqual, "v1")

			v, err = st.GetValue([]byte("absent"))
			So(err, ShouldBeNil)
			So(v, ShouldBeNil)

			So(st.DelValue([]byte("k1")), ShouldBeNil)
			v, err = st.GetValue([]byte("k1"))
			So(err, ShouldBeNil)
			So(v, ShouldBeNil)
			So(st.Close(), ShouldBeNil)
		})

		Convey("batches, iteration and prefix deletion", func() {
			var kvs []KV
			for i := 0; i < 10; i++ {
				kvs = append(kvs, KV{Key: []byte(fmt.Sprintf("a%02d", i)), Value: []byte{byte(i)}})
			}
			kvs = append(kvs, KV{Key: []byte("b00"), Value: []byte("other")})
			So(st.SetValues(kvs), ShouldBeNil)

			var seen []string
			err := st.Iterate([]byte("a"), func(key, value []byte) error {
				seen = append(seen, string(key))
				return nil
			})
			So(err, ShouldBeNil)
			So(seen, ShouldHaveLength, 10)
			So(seen[0], ShouldEqual, "a00")

			count := 0
			err = st.Iterate([]byte("a"), func(key, value []byte) error {
				count++
				if count == 3 {
					return ErrStopIteration
				}
				return nil
			})
			So(err, ShouldBeNil)
			So(count, ShouldEqual, 3)

			So(st.DeletePrefix([]byte("a")), ShouldBeNil)
			count = 0
			So(st.Iterate(nil, func(key, value []byte) error {
				count++
				return nil
			}), ShouldBeNil)
			So(count, ShouldEqual, 1)

			size, err := st.Size(nil)
			So(err, ShouldBeNil)
			So(size, ShouldBeGreaterThanOrEqualTo, 0)
			So(st.Close(), ShouldBeNil)
		})

		Convey("shared open and close", func() {
			st2, err := OpenStorage(filepath.Join(dir, "kv"))
			So(err, ShouldBeNil)
			So(st2, ShouldEqual, st)
			So(st2.Close(), ShouldBeNil)
			So(st.SetValue([]byte("k"), []byte("v")), ShouldBeNil)
			So(st.Close(), ShouldBeNil)
			So(st.SetValue([]byte("k"), []byte("v")), ShouldEqual, ErrStorageClosed)
			_, err = st.GetValue([]byte("k"))
			So(err, ShouldEqual, ErrStorageClosed)
		})
	})

	Convey("memory storage", t, func() {
		st, err := OpenMemStorage()
		So(err, ShouldBeNil)
		So(st.Path(), ShouldBeEmpty)
		So(st.SetValues([]KV{{Key: []byte("x"), Value: []byte("y")}}), ShouldBeNil)
		v, err := st.GetValue([]byte("x"))
		So(err, ShouldBeNil)
		So(string(v), ShouldEqual, "y")
		So(st.DelValues([][]byte{[]byte("x")}), ShouldBeNil)
		So(st.Close(), ShouldBeNil)
	})
}
