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
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

const (
	maxPooledBufferLength = 32
	maxPooledBufferNumber = 1024
)

// MaxStringLength is the longest string or byte slice element accepted on both sides of the codec.
const MaxStringLength = 1 << 24

type simpleSerializer chan []byte

var (
	serializer simpleSerializer = make(chan []byte, maxPooledBufferNumber)

	// ErrStringLengthExceed indicates that a string or byte slice length exceeds limit during
	// serialization or deserialization.
	ErrStringLengthExceed = errors.New("string length exceeds limit")

	// ErrUnsupportedElement indicates the element type has no binary layout.
	ErrUnsupportedElement = errors.New("unsupported element type")
)

func (s simpleSerializer) borrowBuffer(len int) []byte {
	if len > maxPooledBufferLength {
		return make([]byte, len)
	}

	select {
	case buffer := <-s:
		return buffer[:len]
	default:
	}

	return make([]byte, len, maxPooledBufferLength)
}

func (s simpleSerializer) returnBuffer(buffer []byte) {
	if cap(buffer) != maxPooledBufferLength {
		return
	}

	select {
	case s <- buffer[:maxPooledBufferLength]:
	default:
	}
}

func (s simpleSerializer) readN(r io.Reader, n int, f func(b []byte)) (err error) {
	buffer := s.borrowBuffer(n)
	defer s.returnBuffer(buffer)

	if _, err = io.ReadFull(r, buffer); err == nil {
		f(buffer)
	}
	return
}

func (s simpleSerializer) readLength(r io.Reader, bo binary.ByteOrder) (l uint32, err error) {
	if err = s.readN(r, 4, func(b []byte) { l = bo.Uint32(b) }); err != nil {
		return
	}
	if l > MaxStringLength {
		err = ErrStringLengthExceed
	}
	return
}

func (s simpleSerializer) writeN(w io.Writer, n int, f func(b []byte)) (err error) {
	buffer := s.borrowBuffer(n)
	defer s.returnBuffer(buffer)

	f(buffer)
	_, err = w.Write(buffer)
	return
}

func readElement(r io.Reader, bo binary.ByteOrder, element interface{}) (err error) {
	switch e := element.(type) {
	case *bool:
		err = serializer.readN(r, 1, func(b []byte) { *e = b[0] != 0x00 })
	case *uint8:
		err = serializer.readN(r, 1, func(b []byte) { *e = b[0] })
	case *uint16:
		err = serializer.readN(r, 2, func(b []byte) { *e = bo.Uint16(b) })
	case *int32:
		err = serializer.readN(r, 4, func(b []byte) { *e = int32(bo.Uint32(b)) })
	case *uint32:
		err = serializer.readN(r, 4, func(b []byte) { *e = bo.Uint32(b) })
	case *int64:
		err = serializer.readN(r, 8, func(b []byte) { *e = int64(bo.Uint64(b)) })
	case *uint64:
		err = serializer.readN(r, 8, func(b []byte) { *e = bo.Uint64(b) })
	case *float32:
		err = serializer.readN(r, 4, func(b []byte) { *e = math.Float32frombits(bo.Uint32(b)) })
	case *string:
		var l uint32
		if l, err = serializer.readLength(r, bo); err != nil {
			return
		}
		buf := make([]byte, l)
		if _, err = io.ReadFull(r, buf); err == nil {
			*e = string(buf)
		}
	case *[]byte:
		var l uint32
		if l, err = serializer.readLength(r, bo); err != nil {
			return
		}
		buf := make([]byte, l)
		if _, err = io.ReadFull(r, buf); err == nil {
			*e = buf
		}
	case *uuid.UUID:
		_, err = io.ReadFull(r, e[:])
	default:
		err = errors.Wrapf(ErrUnsupportedElement, "read %T", element)
	}

	return
}

// ReadElements reads the element list in order from the given reader.
func ReadElements(r io.Reader, bo binary.ByteOrder, elements ...interface{}) (err error) {
	for _, element := range elements {
		if err = readElement(r, bo, element); err != nil {
			break
		}
	}

	return
}

func writeElement(w io.Writer, bo binary.ByteOrder, element interface{}) (err error) {
	switch e := element.(type) {
	case bool:
		err = serializer.writeN(w, 1, func(b []byte) {
			b[0] = 0x00
			if e {
				b[0] = 0x01
			}
		})
	case uint8:
		err = serializer.writeN(w, 1, func(b []byte) { b[0] = e })
	case uint16:
		err = serializer.writeN(w, 2, func(b []byte) { bo.PutUint16(b, e) })
	case int32:
		err = serializer.writeN(w, 4, func(b []byte) { bo.PutUint32(b, uint32(e)) })
	case uint32:
		err = serializer.writeN(w, 4, func(b []byte) { bo.PutUint32(b, e) })
	case int64:
		err = serializer.writeN(w, 8, func(b []byte) { bo.PutUint64(b, uint64(e)) })
	case uint64:
		err = serializer.writeN(w, 8, func(b []byte) { bo.PutUint64(b, e) })
	case float32:
		err = serializer.writeN(w, 4, func(b []byte) { bo.PutUint32(b, math.Float32bits(e)) })
	case string:
		if len(e) > MaxStringLength {
			return errors.Wrapf(ErrStringLengthExceed, "write string of %d bytes", len(e))
		}
		if err = serializer.writeN(w, 4, func(b []byte) { bo.PutUint32(b, uint32(len(e))) }); err == nil {
			_, err = io.WriteString(w, e)
		}
	case []byte:
		if len(e) > MaxStringLength {
			return errors.Wrapf(ErrStringLengthExceed, "write %d bytes", len(e))
		}
		if err = serializer.writeN(w, 4, func(b []byte) { bo.PutUint32(b, uint32(len(e))) }); err == nil {
			_, err = w.Write(e)
		}
	case uuid.UUID:
		_, err = w.Write(e[:])
	default:
		err = errors.Wrapf(ErrUnsupportedElement, "write %T", element)
	}

	return
}

// WriteElements writes the element list in order to the given writer.
func WriteElements(w io.Writer, bo binary.ByteOrder, elements ...interface{}) (err error) {
	for _, element := range elements {
		if err = writeElement(w, bo, element); err != nil {
			break
		}
	}

	return
}
