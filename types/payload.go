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
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/logicahealth/komet-sub049/utils"
)

// PayloadKind tags the closed set of version payloads.
type PayloadKind uint8

const (
	// KindConcept is the payload of concept versions, which carry only the stamp.
	KindConcept PayloadKind = iota + 1
	// KindDescription is a description text with its language and type.
	KindDescription
	// KindRelationship is a typed edge to a destination concept.
	KindRelationship
	// KindMember marks membership of the referenced component in the assemblage.
	KindMember
	// KindInteger is a 32-bit integer semantic.
	KindInteger
	// KindLong is a 64-bit integer semantic.
	KindLong
	// KindFloat is a float semantic.
	KindFloat
	// KindString is a string semantic.
	KindString
	// KindComponent is a semantic referencing another component by nid.
	KindComponent
	// KindBytes is an opaque byte array semantic.
	KindBytes
)

func (k PayloadKind) String() string {
	switch k {
	case KindConcept:
		return "Concept"
	case KindDescription:
		return "Description"
	case KindRelationship:
		return "Relationship"
	case KindMember:
		return "Member"
	case KindInteger:
		return "Integer"
	case KindLong:
		return "Long"
	case KindFloat:
		return "Float"
	case KindString:
		return "String"
	case KindComponent:
		return "Component"
	case KindBytes:
		return "Bytes"
	default:
		return "Unknown"
	}
}

var byteOrder = binary.BigEndian

// Payload is the type specific part of a version.
type Payload interface {
	Kind() PayloadKind
	write(w io.Writer) error
	read(r io.Reader) error
}

// ConceptPayload is the empty payload of concept versions.
type ConceptPayload struct{}

// DescriptionPayload holds a description version.
type DescriptionPayload struct {
	Text             string
	Language         int32
	DescriptionType  int32
	CaseSignificance int32
}

// RelationshipPayload holds a relationship version.
type RelationshipPayload struct {
	Destination      int32
	RelationshipType int32
	Group            int32
	Characteristic   int32
}

// MemberPayload is the empty payload of membership semantics.
type MemberPayload struct{}

// IntegerPayload holds a 32-bit integer semantic version.
type IntegerPayload struct{ Value int32 }

// LongPayload holds a 64-bit integer semantic version.
type LongPayload struct{ Value int64 }

// FloatPayload holds a float semantic version.
type FloatPayload struct{ Value float32 }

// StringPayload holds a string semantic version.
type StringPayload struct{ Value string }

// ComponentPayload holds a component reference semantic version.
type ComponentPayload struct{ Nid int32 }

// BytesPayload holds an opaque byte array semantic version.
type BytesPayload struct{ Value []byte }

func (*ConceptPayload) Kind() PayloadKind      { return KindConcept }
func (*ConceptPayload) write(io.Writer) error  { return nil }
func (*ConceptPayload) read(io.Reader) error   { return nil }
func (*MemberPayload) Kind() PayloadKind       { return KindMember }
func (*MemberPayload) write(io.Writer) error   { return nil }
func (*MemberPayload) read(io.Reader) error    { return nil }
func (*DescriptionPayload) Kind() PayloadKind  { return KindDescription }
func (*RelationshipPayload) Kind() PayloadKind { return KindRelationship }
func (*IntegerPayload) Kind() PayloadKind      { return KindInteger }
func (*LongPayload) Kind() PayloadKind         { return KindLong }
func (*FloatPayload) Kind() PayloadKind        { return KindFloat }
func (*StringPayload) Kind() PayloadKind       { return KindString }
func (*ComponentPayload) Kind() PayloadKind    { return KindComponent }
func (*BytesPayload) Kind() PayloadKind        { return KindBytes }

func (p *DescriptionPayload) write(w io.Writer) error {
	return utils.WriteElements(w, byteOrder, p.Text, p.Language, p.DescriptionType, p.CaseSignificance)
}

func (p *DescriptionPayload) read(r io.Reader) error {
	return utils.ReadElements(r, byteOrder, &p.Text, &p.Language, &p.DescriptionType, &p.CaseSignificance)
}

func (p *RelationshipPayload) write(w io.Writer) error {
	return utils.WriteElements(w, byteOrder, p.Destination, p.RelationshipType, p.Group, p.Characteristic)
}

func (p *RelationshipPayload) read(r io.Reader) error {
	return utils.ReadElements(r, byteOrder, &p.Destination, &p.RelationshipType, &p.Group, &p.Characteristic)
}

func (p *IntegerPayload) write(w io.Writer) error   { return utils.WriteElements(w, byteOrder, p.Value) }
func (p *IntegerPayload) read(r io.Reader) error    { return utils.ReadElements(r, byteOrder, &p.Value) }
func (p *LongPayload) write(w io.Writer) error      { return utils.WriteElements(w, byteOrder, p.Value) }
func (p *LongPayload) read(r io.Reader) error       { return utils.ReadElements(r, byteOrder, &p.Value) }
func (p *FloatPayload) write(w io.Writer) error     { return utils.WriteElements(w, byteOrder, p.Value) }
func (p *FloatPayload) read(r io.Reader) error      { return utils.ReadElements(r, byteOrder, &p.Value) }
func (p *StringPayload) write(w io.Writer) error    { return utils.WriteElements(w, byteOrder, p.Value) }
func (p *StringPayload) read(r io.Reader) error     { return utils.ReadElements(r, byteOrder, &p.Value) }
func (p *ComponentPayload) write(w io.Writer) error { return utils.WriteElements(w, byteOrder, p.Nid) }
func (p *ComponentPayload) read(r io.Reader) error  { return utils.ReadElements(r, byteOrder, &p.Nid) }
func (p *BytesPayload) write(w io.Writer) error     { return utils.WriteElements(w, byteOrder, p.Value) }
func (p *BytesPayload) read(r io.Reader) error      { return utils.ReadElements(r, byteOrder, &p.Value) }

func newPayload(kind PayloadKind) (p Payload, err error) {
	switch kind {
	case KindConcept:
		p = &ConceptPayload{}
	case KindDescription:
		p = &DescriptionPayload{}
	case KindRelationship:
		p = &RelationshipPayload{}
	case KindMember:
		p = &MemberPayload{}
	case KindInteger:
		p = &IntegerPayload{}
	case KindLong:
		p = &LongPayload{}
	case KindFloat:
		p = &FloatPayload{}
	case KindString:
		p = &StringPayload{}
	case KindComponent:
		p = &ComponentPayload{}
	case KindBytes:
		p = &BytesPayload{}
	default:
		err = errors.Wrapf(ErrUnknownPayload, "kind %d", kind)
	}
	return
}
