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

package types

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/logicahealth/komet-sub049/utils"
)

func TestChronologyRecords(t *testing.T) {
	Convey("given a chronology with every payload kind", t, func() {
		primordial := uuid.NewV5(uuid.NamespaceURL, "http://snomed.info/id/22298006")
		alias := uuid.NewV5(uuid.NamespaceURL, "alias")
		c := NewChronology(7, SemanticChronology, primordial)
		c.Assemblage = 3
		c.ReferencedComponent = 11
		c.AdditionalUUIDs = []uuid.UUID{alias}
		c.Versions = []Version{
			{StampSequence: 1, Payload: &ConceptPayload{}},
			{StampSequence: 2, Payload: &DescriptionPayload{Text: "Myocardial infarction", Language: 4, DescriptionType: 5, CaseSignificance: 6}},
			{StampSequence: 3, Payload: &RelationshipPayload{Destination: 9, RelationshipType: 10, Group: 1, Characteristic: 12}},
			{StampSequence: 4, Payload: &MemberPayload{}},
			{StampSequence: 5, Payload: &IntegerPayload{Value: -3}},
			{StampSequence: 6, Payload: &LongPayload{Value: 1 << 40}},
			{StampSequence: 7, Payload: &FloatPayload{Value: 0.25}},
			{StampSequence: 8, Payload: &StringPayload{Value: "text"}},
			{StampSequence: 9, Payload: &ComponentPayload{Nid: 42}},
			{StampSequence: 10, Payload: &BytesPayload{Value: []byte{0xca, 0xfe}}},
		}

		records, err := c.Records()
		So(err, ShouldBeNil)
		So(records, ShouldHaveLength, len(c.Versions)+1)

		Convey("decoding restores identity and version order", func() {
			d, err := DecodeChronology(7, records)
			So(err, ShouldBeNil)
			So(d.Nid, ShouldEqual, 7)
			So(d.Type, ShouldEqual, SemanticChronology)
			So(d.Assemblage, ShouldEqual, 3)
			So(d.ReferencedComponent, ShouldEqual, 11)
			So(d.HasUUID(alias), ShouldBeTrue)
			So(d.UUIDs(), ShouldHaveLength, 2)
			So(d.StampSequences(), ShouldResemble, []int32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
			So(d.Versions, ShouldResemble, c.Versions)
		})

		Convey("a later header contributes aliases only", func() {
			other := uuid.NewV5(uuid.NamespaceURL, "second alias")
			h := NewChronology(7, ConceptChronology, other)
			header, err := h.EncodeHeader()
			So(err, ShouldBeNil)
			d, err := DecodeChronology(7, append(records, header))
			So(err, ShouldBeNil)
			So(d.Type, ShouldEqual, SemanticChronology)
			So(uuid.Equal(d.PrimordialUUID, primordial), ShouldBeTrue)
			So(d.HasUUID(other), ShouldBeTrue)
			So(d.VersionsWithStamp(2), ShouldHaveLength, 1)
		})

		Convey("corruption is reported", func() {
			_, err := DecodeChronology(8, records)
			So(errors.Cause(err), ShouldEqual, ErrCorruptedRecord)

			_, err = DecodeChronology(7, records[1:])
			So(errors.Cause(err), ShouldEqual, ErrCorruptedRecord)

			_, err = DecodeChronology(7, [][]byte{records[0], {0x09}})
			So(errors.Cause(err), ShouldEqual, ErrCorruptedRecord)

			_, err = DecodeChronology(7, [][]byte{records[0], {recordVersion, 0, 0, 0, 1, 0xee}})
			So(errors.Cause(err), ShouldEqual, ErrUnknownPayload)

			_, err = DecodeChronology(7, [][]byte{records[0][:5]})
			So(errors.Cause(err), ShouldEqual, ErrCorruptedRecord)

			_, err = DecodeChronology(7, nil)
			So(IsUnknownIdentifier(err), ShouldBeTrue)
		})
	})

	Convey("versions without payload are rejected", t, func() {
		_, err := EncodeVersion(Version{StampSequence: 1})
		So(errors.Cause(err), ShouldEqual, ErrUnknownPayload)
	})

	Convey("payloads at the element limit round trip, longer ones never encode", t, func() {
		c := NewChronology(1, SemanticChronology, uuid.NewV5(uuid.NamespaceURL, "limit"))
		c.Versions = []Version{
			{StampSequence: 1, Payload: &StringPayload{Value: strings.Repeat("x", utils.MaxStringLength)}},
			{StampSequence: 2, Payload: &BytesPayload{Value: make([]byte, utils.MaxStringLength)}},
		}
		records, err := c.Records()
		So(err, ShouldBeNil)
		d, err := DecodeChronology(1, records)
		So(err, ShouldBeNil)
		So(d.Versions[0].Payload.(*StringPayload).Value, ShouldHaveLength, utils.MaxStringLength)
		So(d.Versions[1].Payload.(*BytesPayload).Value, ShouldHaveLength, utils.MaxStringLength)

		_, err = EncodeVersion(Version{StampSequence: 3,
			Payload: &StringPayload{Value: strings.Repeat("x", utils.MaxStringLength+1)}})
		So(errors.Cause(err), ShouldEqual, utils.ErrStringLengthExceed)
		_, err = EncodeVersion(Version{StampSequence: 4,
			Payload: &BytesPayload{Value: make([]byte, utils.MaxStringLength+1)}})
		So(errors.Cause(err), ShouldEqual, utils.ErrStringLengthExceed)

		c.Versions = append(c.Versions, Version{StampSequence: 5,
			Payload: &StringPayload{Value: strings.Repeat("x", utils.MaxStringLength+1)}})
		_, err = c.Records()
		So(errors.Cause(err), ShouldEqual, utils.ErrStringLengthExceed)
	})
}

func TestStampAndCoordinate(t *testing.T) {
	Convey("stamp helpers", t, func() {
		s := Stamp{Status: Active, Time: UncommittedTime, Author: 1, Module: 2, Path: 3}
		So(s.IsUncommitted(), ShouldBeTrue)
		So(s.String(), ShouldContainSubstring, "uncommitted")
		s.Status = Cancelled
		So(s.IsCancelled(), ShouldBeTrue)

		set := NewStatusSet(Active, Primordial)
		So(set.Contains(Active), ShouldBeTrue)
		So(set.Contains(Inactive), ShouldBeFalse)
		So(set.String(), ShouldEqual, "[Active,Primordial]")
	})

	Convey("coordinate fingerprint is canonical", t, func() {
		a := NewStampCoordinate(ActiveOnly, 5, 100).WithPosition(2, 50).WithModulePreference(9, 8)
		b := NewStampCoordinate(ActiveOnly, 2, 50).WithPosition(5, 100).WithModulePreference(9, 8)
		So(a.Fingerprint(), ShouldEqual, b.Fingerprint())
		So(a.Positions(), ShouldResemble, []StampPosition{{Path: 2, Time: 50}, {Path: 5, Time: 100}})
		So(a.ModuleRank(9), ShouldEqual, 0)
		So(a.ModuleRank(7), ShouldEqual, 2)
		So(a.AllowsModule(7), ShouldBeTrue)

		c := a.Copy()
		c.WithPosition(5, 200)
		c.Modules = []int32{8}
		So(a.PathCutoffs[5], ShouldEqual, 100)
		So(c.Fingerprint(), ShouldNotEqual, a.Fingerprint())
		So(c.AllowsModule(7), ShouldBeFalse)

		So(a.Validate(), ShouldBeNil)
		So((&StampCoordinate{}).Validate(), ShouldEqual, ErrInvalidCoordinate)
	})

	Convey("error helpers see through wrapping", t, func() {
		err := errors.Wrap(&StaleVersionError{Nid: 3, Reason: "pending"}, "add version")
		stale, ok := AsStaleVersion(err)
		So(ok, ShouldBeTrue)
		So(stale.Nid, ShouldEqual, 3)

		cycle, ok := AsPathCycle(errors.WithMessage(&PathCycleError{Cycle: []int32{1, 2, 1}}, "build"))
		So(ok, ShouldBeTrue)
		So(cycle.Error(), ShouldContainSubstring, "[1 2 1]")
	})
}
