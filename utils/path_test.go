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

package utils

import (
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestWriteFileAtomic(t *testing.T) {
	Convey("atomic file write", t, func() {
		dir, err := ioutil.TempDir("", "komet-path-")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)

		sub := filepath.Join(dir, "a", "b")
		So(EnsureDir(sub), ShouldBeNil)
		So(Exist(sub), ShouldBeTrue)

		target := filepath.Join(sub, "file.dat")
		So(WriteFileAtomic(target, []byte("first")), ShouldBeNil)
		So(WriteFileAtomic(target, []byte("second")), ShouldBeNil)
		content, err := ioutil.ReadFile(target)
		So(err, ShouldBeNil)
		So(string(content), ShouldEqual, "second")

		entries, err := ioutil.ReadDir(sub)
		So(err, ShouldBeNil)
		So(entries, ShouldHaveLength, 1)

		err = WriteFileAtomic(filepath.Join(dir, "missing", "file.dat"), []byte("x"))
		So(err, ShouldNotBeNil)
	})
}

func TestHomeDirExpand(t *testing.T) {
	Convey("expand ~ dir", t, func() {
		usr, err := user.Current()
		So(err, ShouldBeNil)

		So(HomeDirExpand("~"), ShouldEqual, usr.HomeDir)
		So(HomeDirExpand("~/.local"), ShouldEqual, usr.HomeDir+"/.local")
		So(HomeDirExpand("/dev/null"), ShouldEqual, "/dev/null")
		So(HomeDirExpand(""), ShouldEqual, "")
	})
}

func TestExist(t *testing.T) {
	Convey("path exist or not", t, func() {
		So(Exist("/tmp/anemptypathshouldnotexist"), ShouldEqual, false)
		So(Exist("/"), ShouldEqual, true)
	})
}
