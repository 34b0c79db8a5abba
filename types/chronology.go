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
	"bytes"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"github.com/logicahealth/komet-sub049/utils"
)

// ChronologyType defines the component kind a chronology versions.
type ChronologyType uint8

const (
	// ConceptChronology versions a concept.
	ConceptChronology ChronologyType = iota + 1
	// DescriptionChronology versions a description of a concept.
	DescriptionChronology
	// RelationshipChronology versions a relationship originating at a concept.
	RelationshipChronology
	// SemanticChronology versions a generic semantic attached to any component.
	SemanticChronology
)

func (t ChronologyType) String() string {
	switch t {
	case ConceptChronology:
		return "Concept"
	case DescriptionChronology:
		return "Description"
	case RelationshipChronology:
		return "Relationship"
	case SemanticChronology:
		return "Semantic"
	default:
		return "Unknown"
	}
}

// record tags of the chronology record list kept in a spine slot.
const (
	recordHeader uint8 = iota + 1
	recordVersion
)

// Version is one immutable fact of a chronology.
type Version struct {
	StampSequence int32
	Payload       Payload
}

// Chronology is the append-only version history of one component.
type Chronology struct {
	Nid            int32
	Type           ChronologyType
	PrimordialUUID uuid.UUID
	// AdditionalUUIDs are non-primordial aliases resolving to the same nid.
	AdditionalUUIDs []uuid.UUID
	// Assemblage is the assemblage (semantic pattern) the component belongs to, 0 for concepts.
	Assemblage int32
	// ReferencedComponent is the component a semantic, description or relationship is
	// attached to, 0 for concepts.
	ReferencedComponent int32
	Versions            []Version

	// ReadMark is the commit sequence last seen for the nid when the chronology was read.
	// It is not persisted.
	ReadMark uint64
}

// NewChronology returns an empty chronology with its identity.
func NewChronology(nid int32, t ChronologyType, primordial uuid.UUID) *Chronology {
	return &Chronology{
		Nid:            nid,
		Type:           t,
		PrimordialUUID: primordial,
	}
}

// UUIDs returns the primordial uuid followed by the additional ones.
func (c *Chronology) UUIDs() []uuid.UUID {
	return append([]uuid.UUID{c.PrimordialUUID}, c.AdditionalUUIDs...)
}

// HasUUID reports whether u identifies the chronology.
func (c *Chronology) HasUUID(u uuid.UUID) bool {
	if uuid.Equal(c.PrimordialUUID, u) {
		return true
	}
	for _, a := range c.AdditionalUUIDs {
		if uuid.Equal(a, u) {
			return true
		}
	}
	return false
}

// StampSequences returns the stamp sequence of every version in append order.
func (c *Chronology) StampSequences() (seqs []int32) {
	seqs = make([]int32, len(c.Versions))
	for i, v := range c.Versions {
		seqs[i] = v.StampSequence
	}
	return
}

// VersionsWithStamp returns the versions carrying stamp sequence seq.
func (c *Chronology) VersionsWithStamp(seq int32) (versions []Version) {
	for _, v := range c.Versions {
		if v.StampSequence == seq {
			versions = append(versions, v)
		}
	}
	return
}

func (c *Chronology) addAlias(u uuid.UUID) {
	if !c.HasUUID(u) {
		c.AdditionalUUIDs = append(c.AdditionalUUIDs, u)
	}
}

// EncodeHeader serializes the identity of the chronology into a header record.
func (c *Chronology) EncodeHeader() (record []byte, err error) {
	buf := new(bytes.Buffer)
	if err = utils.WriteElements(buf, byteOrder,
		recordHeader, uint8(c.Type), c.Nid, c.PrimordialUUID, c.Assemblage, c.ReferencedComponent,
		uint32(len(c.AdditionalUUIDs))); err != nil {
		return nil, errors.Wrap(err, "encode chronology header failed")
	}
	for _, u := range c.AdditionalUUIDs {
		if err = utils.WriteElements(buf, byteOrder, u); err != nil {
			return nil, errors.Wrap(err, "encode chronology alias failed")
		}
	}
	return buf.Bytes(), nil
}

// EncodeVersion serializes a version into a version record.
func EncodeVersion(v Version) (record []byte, err error) {
	if v.Payload == nil {
		return nil, errors.Wrap(ErrUnknownPayload, "version without payload")
	}
	buf := new(bytes.Buffer)
	if err = utils.WriteElements(buf, byteOrder, recordVersion, v.StampSequence, uint8(v.Payload.Kind())); err != nil {
		return nil, errors.Wrap(err, "encode version failed")
	}
	if err = v.Payload.write(buf); err != nil {
		return nil, errors.Wrapf(err, "encode %s payload failed", v.Payload.Kind())
	}
	return buf.Bytes(), nil
}

// Records serializes the whole chronology as a header record followed by its versions.
func (c *Chronology) Records() (records [][]byte, err error) {
	var header []byte
	if header, err = c.EncodeHeader(); err != nil {
		return
	}
	records = make([][]byte, 0, len(c.Versions)+1)
	records = append(records, header)
	for _, v := range c.Versions {
		var r []byte
		if r, err = EncodeVersion(v); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return
}

// DecodeChronology rebuilds a chronology from its record list. The first header fixes the
// identity, later headers only contribute aliases, versions keep append order.
func DecodeChronology(nid int32, records [][]byte) (c *Chronology, err error) {
	if len(records) == 0 {
		return nil, errors.Wrapf(ErrUnknownIdentifier, "no records for nid %d", nid)
	}
	for i, record := range records {
		if len(record) == 0 {
			return nil, errors.Wrapf(ErrCorruptedRecord, "empty record %d of nid %d", i, nid)
		}
		r := bytes.NewReader(record[1:])
		switch record[0] {
		case recordHeader:
			var h *Chronology
			if h, err = decodeHeader(r); err != nil {
				return nil, errors.WithMessagef(err, "record %d of nid %d", i, nid)
			}
			if h.Nid != nid {
				return nil, errors.Wrapf(ErrCorruptedRecord, "header of nid %d found in slot of nid %d", h.Nid, nid)
			}
			if c == nil {
				c = h
				continue
			}
			c.addAlias(h.PrimordialUUID)
			for _, u := range h.AdditionalUUIDs {
				c.addAlias(u)
			}
		case recordVersion:
			if c == nil {
				return nil, errors.Wrapf(ErrCorruptedRecord, "version before header for nid %d", nid)
			}
			var v Version
			if v, err = decodeVersion(r); err != nil {
				return nil, errors.WithMessagef(err, "record %d of nid %d", i, nid)
			}
			c.Versions = append(c.Versions, v)
		default:
			return nil, errors.Wrapf(ErrCorruptedRecord, "unknown record tag %d for nid %d", record[0], nid)
		}
	}
	if c == nil {
		err = errors.Wrapf(ErrCorruptedRecord, "no header for nid %d", nid)
	}
	return
}

func decodeHeader(r *bytes.Reader) (c *Chronology, err error) {
	var (
		t     uint8
		count uint32
	)
	c = &Chronology{}
	if err = utils.ReadElements(r, byteOrder,
		&t, &c.Nid, &c.PrimordialUUID, &c.Assemblage, &c.ReferencedComponent, &count); err != nil {
		return nil, errors.Wrap(ErrCorruptedRecord, err.Error())
	}
	c.Type = ChronologyType(t)
	for i := uint32(0); i < count; i++ {
		var u uuid.UUID
		if err = utils.ReadElements(r, byteOrder, &u); err != nil {
			return nil, errors.Wrap(ErrCorruptedRecord, err.Error())
		}
		c.AdditionalUUIDs = append(c.AdditionalUUIDs, u)
	}
	return
}

func decodeVersion(r *bytes.Reader) (v Version, err error) {
	var kind uint8
	if err = utils.ReadElements(r, byteOrder, &v.StampSequence, &kind); err != nil {
		err = errors.Wrap(ErrCorruptedRecord, err.Error())
		return
	}
	if v.Payload, err = newPayload(PayloadKind(kind)); err != nil {
		return
	}
	if err = v.Payload.read(r); err != nil {
		err = errors.Wrap(ErrCorruptedRecord, err.Error())
	}
	return
}
