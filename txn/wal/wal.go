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

// Package wal keeps the commit log: one record per committed transaction, indexed by
// commit sequence.
package wal

import (
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

var (
	// ErrLogClosed represents the log is already closed.
	ErrLogClosed = errors.New("commit log is closed")
	// ErrInvalidRecord represents a nil or zero sequence record.
	ErrInvalidRecord = errors.New("invalid commit record")
	// ErrAlreadyExists represents a record with the same sequence exists.
	ErrAlreadyExists = errors.New("commit record already exists")
	// ErrNotExists represents the record does not exist.
	ErrNotExists = errors.New("commit record not exists")
)

// Record describes one committed transaction.
type Record struct {
	Sequence      uint64
	Time          int64
	TransactionID uuid.UUID
	Comment       string
	Nids          []int32
}

// Log is the commit log.
type Log interface {
	// Write appends a record, sequences may arrive out of order.
	Write(r *Record) error
	// Read returns the next record in sequence order on each call, io.EOF when done.
	Read() (*Record, error)
	// Get returns the record of seq.
	Get(seq uint64) (*Record, error)
	// Base returns the sequence below which every record is written.
	Base() uint64
	Close()
}
