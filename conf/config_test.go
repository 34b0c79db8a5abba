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

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	yaml "gopkg.in/yaml.v2"
)

func TestConf(t *testing.T) {
	Convey("LoadConfig", t, func() {
		dir, err := ioutil.TempDir("", "komet-conf-")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)
		testFile := filepath.Join(dir, "config.yaml")

		raw := []byte(`
WorkingRoot: data
LogLevel: debug
Spine:
  BlockSize: 64
  MemoryPolicy: flush_and_clear
  FlushInterval: 2s
Transaction:
  MaxParallelWriters: 3
Metrics:
  ListenAddr: 127.0.0.1:9090
`)
		So(ioutil.WriteFile(testFile, raw, 0600), ShouldBeNil)

		config, err := LoadConfig(testFile)
		So(err, ShouldBeNil)
		So(config.WorkingRoot, ShouldEqual, filepath.Join(dir, "data"))
		So(config.LogLevel, ShouldEqual, "debug")
		So(config.Spine.BlockSize, ShouldEqual, 64)
		So(config.Spine.MemoryPolicy, ShouldEqual, "flush_and_clear")
		So(config.Spine.FlushInterval, ShouldEqual, 2*time.Second)
		So(config.Spine.MaxResidentSpines, ShouldEqual, DefaultMaxResidentSpines)
		So(config.Spine.FlushWorkers, ShouldEqual, DefaultFlushWorkers)
		So(config.Transaction.MaxParallelWriters, ShouldEqual, 3)
		So(config.Position.CalculatorCacheSize, ShouldEqual, DefaultCalculatorCacheSize)
		So(config.Metrics.ListenAddr, ShouldEqual, "127.0.0.1:9090")
		So(config.Path("spines"), ShouldEqual, filepath.Join(dir, "data", "spines"))

		Convey("round trips through SaveConfig", func() {
			out := filepath.Join(dir, "saved.yaml")
			So(SaveConfig(config, out), ShouldBeNil)
			again, err := LoadConfig(out)
			So(err, ShouldBeNil)
			So(again, ShouldResemble, config)
		})

		Convey("copies are independent", func() {
			cpy := config.Copy()
			cpy.Spine.BlockSize = 8
			So(config.Spine.BlockSize, ShouldEqual, 64)
			So(cpy.Metrics, ShouldResemble, config.Metrics)
		})
	})

	Convey("invalid configs", t, func() {
		_, err := LoadConfig("/no/such/config.yaml")
		So(err, ShouldNotBeNil)

		dir, err := ioutil.TempDir("", "komet-conf-")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)

		bad := filepath.Join(dir, "bad.yaml")
		So(ioutil.WriteFile(bad, []byte("Spine: [1, 2"), 0600), ShouldBeNil)
		_, err = LoadConfig(bad)
		So(err, ShouldNotBeNil)

		c := &Config{}
		c.Normalize()
		So(errors.Cause(c.Validate()), ShouldEqual, ErrInvalidConfig)

		c = NewMemConfig()
		So(c.Validate(), ShouldBeNil)
		c.Spine.BlockSize = MaxBlockSize + 1
		So(errors.Cause(c.Validate()), ShouldEqual, ErrInvalidConfig)

		c = NewConfig(dir)
		c.Transaction.MaxParallelWriters = MaxParallelWriters + 1
		So(errors.Cause(c.Validate()), ShouldEqual, ErrInvalidConfig)

		out, err := yaml.Marshal(NewMemConfig())
		So(err, ShouldBeNil)
		So(string(out), ShouldContainSubstring, "InMemory: true")
	})
}
