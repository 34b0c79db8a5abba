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
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSerialization(t *testing.T) {
	Convey("write and read back elements in order", t, func() {
		var (
			buf = new(bytes.Buffer)
			id  = uuid.NewV5(uuid.NamespaceOID, "1.2.840.10008")
		)
		err := WriteElements(buf, binary.BigEndian,
			true, uint8(7), uint16(1024), int32(-5), uint32(9), int64(-1)<<40, uint64(42),
			float32(1.5), "description text", []byte{1, 2, 3}, id)
		So(err, ShouldBeNil)

		var (
			b   bool
			u8  uint8
			u16 uint16
			i32 int32
			u32 uint32
			i64 int64
			u64 uint64
			f32 float32
			s   string
			raw []byte
			rid uuid.UUID
		)
		err = ReadElements(bytes.NewReader(buf.Bytes()), binary.BigEndian,
			&b, &u8, &u16, &i32, &u32, &i64, &u64, &f32, &s, &raw, &rid)
		So(err, ShouldBeNil)
		So(b, ShouldBeTrue)
		So(u8, ShouldEqual, 7)
		So(u16, ShouldEqual, 1024)
		So(i32, ShouldEqual, -5)
		So(u32, ShouldEqual, 9)
		So(i64, ShouldEqual, int64(-1)<<40)
		So(u64, ShouldEqual, 42)
		So(f32, ShouldEqual, float32(1.5))
		So(s, ShouldEqual, "description text")
		So(raw, ShouldResemble, []byte{1, 2, 3})
		So(uuid.Equal(rid, id), ShouldBeTrue)
	})

	Convey("short input and unsupported types", t, func() {
		var i64 int64
		err := ReadElements(bytes.NewReader([]byte{1, 2}), binary.BigEndian, &i64)
		So(err, ShouldNotBeNil)

		err = WriteElements(new(bytes.Buffer), binary.BigEndian, struct{}{})
		So(errors.Cause(err), ShouldEqual, ErrUnsupportedElement)

		var s string
		err = ReadElements(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}), binary.BigEndian, &s)
		So(err, ShouldEqual, ErrStringLengthExceed)
	})

	Convey("length limit holds on both sides", t, func() {
		buf := new(bytes.Buffer)
		long := make([]byte, MaxStringLength)
		So(WriteElements(buf, binary.BigEndian, long, string(long)), ShouldBeNil)

		var (
			raw []byte
			s   string
		)
		So(ReadElements(bytes.NewReader(buf.Bytes()), binary.BigEndian, &raw, &s), ShouldBeNil)
		So(raw, ShouldHaveLength, MaxStringLength)
		So(s, ShouldHaveLength, MaxStringLength)

		buf.Reset()
		tooLong := make([]byte, MaxStringLength+1)
		err := WriteElements(buf, binary.BigEndian, tooLong)
		So(errors.Cause(err), ShouldEqual, ErrStringLengthExceed)
		err = WriteElements(buf, binary.BigEndian, string(tooLong))
		So(errors.Cause(err), ShouldEqual, ErrStringLengthExceed)
		So(buf.Len(), ShouldEqual, 0)
	})
}
