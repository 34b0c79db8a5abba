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

package timer

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestStopwatch(t *testing.T) {
	Convey("laps measure consecutive stages", t, func() {
		s := Start()
		So(s.Total(), ShouldEqual, 0)

		time.Sleep(20 * time.Millisecond)
		first := s.Lap("flush")
		time.Sleep(50 * time.Millisecond)
		second := s.Lap("log")

		So(first, ShouldBeGreaterThanOrEqualTo, 20*time.Millisecond)
		So(second, ShouldBeGreaterThanOrEqualTo, 50*time.Millisecond)
		So(s.Total(), ShouldEqual, first+second)

		laps := s.Laps()
		So(laps, ShouldHaveLength, 2)
		So(laps[0].Name, ShouldEqual, "flush")
		So(laps[1], ShouldResemble, Lap{Name: "log", Duration: second})

		f := s.Fields()
		So(f, ShouldHaveLength, 3)
		So(f["flush"], ShouldEqual, first)
		So(f["total"], ShouldEqual, first+second)
	})
}
