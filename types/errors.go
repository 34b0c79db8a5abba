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
	"fmt"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

var (
	// ErrUnknownIdentifier indicates the nid or uuid is not registered.
	ErrUnknownIdentifier = errors.New("unknown identifier")
	// ErrCorruptedRecord indicates a chronology record could not be decoded.
	ErrCorruptedRecord = errors.New("corrupted chronology record")
	// ErrUnknownPayload indicates the payload kind tag is not part of the closed payload set.
	ErrUnknownPayload = errors.New("unknown payload kind")
	// ErrInvalidCoordinate indicates the stamp coordinate selects no position.
	ErrInvalidCoordinate = errors.New("invalid stamp coordinate")
)

// StaleVersionError reports an optimistic conflict on a component: another transaction
// holds a pending version for it, or committed it after the caller read the chronology.
// The caller must re-read the chronology and retry.
type StaleVersionError struct {
	Nid         int32
	Transaction uuid.UUID
	Reason      string
}

func (e *StaleVersionError) Error() string {
	return fmt.Sprintf("stale version for nid %d: %s (transaction %s)", e.Nid, e.Reason, e.Transaction)
}

// PathCycleError reports a cycle in the path origin graph.
type PathCycleError struct {
	Cycle []int32
}

func (e *PathCycleError) Error() string {
	return fmt.Sprintf("path origin cycle detected: %v", e.Cycle)
}

// IsUnknownIdentifier reports whether err is caused by ErrUnknownIdentifier.
func IsUnknownIdentifier(err error) bool {
	return errors.Cause(err) == ErrUnknownIdentifier
}

// AsStaleVersion returns the StaleVersionError cause of err, if any.
func AsStaleVersion(err error) (e *StaleVersionError, ok bool) {
	e, ok = errors.Cause(err).(*StaleVersionError)
	return
}

// AsPathCycle returns the PathCycleError cause of err, if any.
func AsPathCycle(err error) (e *PathCycleError, ok bool) {
	e, ok = errors.Cause(err).(*PathCycleError)
	return
}
