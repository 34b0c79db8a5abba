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

// Package stamp interns STAMP tuples into dense stamp sequences.
//
// Committed tuples are deduplicated by value. A tuple interned with the uncommitted
// time always gets a fresh sequence, it is finalized or cancelled later by its
// transaction. Every stamp is persisted when interned, so versions already flushed to a
// spine resolve after a restart; stamps left uncommitted by a previous process are
// cancelled on load.
package stamp

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"

	"github.com/logicahealth/komet-sub049/storage"
	"github.com/logicahealth/komet-sub049/types"
	"github.com/logicahealth/komet-sub049/utils"
	"github.com/logicahealth/komet-sub049/utils/log"
)

var stampKeyPrefix = []byte("S")

var (
	// ErrUnknownStamp indicates the stamp sequence was never interned.
	ErrUnknownStamp = errors.New("unknown stamp sequence")
	// ErrNotUncommitted indicates a finalize or cancel of a stamp that is not uncommitted.
	ErrNotUncommitted = errors.New("stamp is not uncommitted")
	// ErrCorruptedStampTable indicates the persisted stamp table could not be decoded.
	ErrCorruptedStampTable = errors.New("corrupted stamp table")
)

// Interner is the process wide stamp table.
type Interner struct {
	mu        sync.RWMutex
	st        *storage.Storage
	stamps    []types.Stamp
	committed map[types.Stamp]int32
}

func stampKey(seq int32) []byte {
	key := make([]byte, len(stampKeyPrefix)+4)
	copy(key, stampKeyPrefix)
	binary.BigEndian.PutUint32(key[len(stampKeyPrefix):], uint32(seq))
	return key
}

func encodeStamp(s types.Stamp) (b []byte, err error) {
	buf, err := utils.EncodeMsgPack(&s)
	if err != nil {
		return nil, errors.Wrap(err, "encode stamp failed")
	}
	return buf.Bytes(), nil
}

// NewInterner loads the stamp table persisted in st.
func NewInterner(st *storage.Storage) (in *Interner, err error) {
	in = &Interner{
		st:        st,
		committed: make(map[types.Stamp]int32),
	}

	if err = st.Iterate(stampKeyPrefix, func(key, value []byte) (err error) {
		if len(key) != len(stampKeyPrefix)+4 {
			return errors.Wrapf(ErrCorruptedStampTable, "key %x", key)
		}
		seq := int32(binary.BigEndian.Uint32(key[len(stampKeyPrefix):]))
		if int(seq) != len(in.stamps)+1 {
			return errors.Wrapf(ErrCorruptedStampTable, "sequence %d follows %d", seq, len(in.stamps))
		}
		var s types.Stamp
		if err = utils.DecodeMsgPack(value, &s); err != nil {
			return errors.Wrapf(ErrCorruptedStampTable, "stamp %d: %v", seq, err)
		}
		in.stamps = append(in.stamps, s)
		return
	}); err != nil {
		return nil, errors.Wrap(err, "load stamp table failed")
	}

	var abandoned []int32
	for i, s := range in.stamps {
		seq := int32(i + 1)
		if s.IsUncommitted() {
			abandoned = append(abandoned, seq)
			continue
		}
		if s.IsCancelled() {
			continue
		}
		if _, ok := in.committed[s]; !ok {
			in.committed[s] = seq
		}
	}
	if len(abandoned) > 0 {
		if err = in.Cancel(abandoned); err != nil {
			return nil, errors.WithMessage(err, "cancel abandoned stamps failed")
		}
		log.WithField("count", len(abandoned)).Warning("cancelled stamps of abandoned transactions")
	}

	log.WithField("stamps", len(in.stamps)).Info("stamp table loaded")
	return
}

// Intern returns the sequence of the tuple. Equal committed tuples share a sequence, an
// uncommitted tuple always gets a new one.
func (in *Interner) Intern(status types.Status, time int64, author, module, path int32) (seq int32, err error) {
	s := types.Stamp{Status: status, Time: time, Author: author, Module: module, Path: path}

	if !s.IsUncommitted() {
		in.mu.RLock()
		seq = in.committed[s]
		in.mu.RUnlock()
		if seq != 0 {
			return
		}
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if !s.IsUncommitted() {
		if seq = in.committed[s]; seq != 0 {
			return
		}
	}

	seq = int32(len(in.stamps) + 1)
	var value []byte
	if value, err = encodeStamp(s); err != nil {
		return 0, err
	}
	if err = in.st.SetValue(stampKey(seq), value); err != nil {
		return 0, errors.WithMessagef(err, "persist stamp %d failed", seq)
	}

	in.stamps = append(in.stamps, s)
	if !s.IsUncommitted() && !s.IsCancelled() {
		in.committed[s] = seq
	}
	return
}

// Get returns the stamp of seq.
func (in *Interner) Get(seq int32) (s types.Stamp, err error) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if seq <= 0 || int(seq) > len(in.stamps) {
		err = errors.Wrapf(ErrUnknownStamp, "sequence %d", seq)
		return
	}
	return in.stamps[seq-1], nil
}

// Resolve returns the stamp of seq. Versions only ever carry interned sequences, so an
// unknown sequence is a corrupted store and panics.
func (in *Interner) Resolve(seq int32) types.Stamp {
	s, err := in.Get(seq)
	if err != nil {
		log.WithError(err).Panicf("resolve stamp %d", seq)
	}
	return s
}

// IsUncommitted reports whether seq is interned and still uncommitted.
func (in *Interner) IsUncommitted(seq int32) bool {
	s, err := in.Get(seq)
	return err == nil && s.IsUncommitted()
}

// Count returns the number of interned stamps.
func (in *Interner) Count() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.stamps)
}

// Finalize replaces the uncommitted time of every stamp in seqs by commitTime. The batch
// is persisted as one write before it is published, readers see either every stamp of
// the batch finalized or none.
func (in *Interner) Finalize(seqs []int32, commitTime int64) (err error) {
	return in.replace(seqs, func(s *types.Stamp) {
		s.Time = commitTime
	}, true)
}

// Cancel marks every stamp in seqs cancelled, they are never visible afterwards.
func (in *Interner) Cancel(seqs []int32) (err error) {
	return in.replace(seqs, func(s *types.Stamp) {
		s.Status = types.Cancelled
		s.Time = types.CancelledTime
	}, false)
}

func (in *Interner) replace(seqs []int32, update func(s *types.Stamp), index bool) (err error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	updated := make([]types.Stamp, len(seqs))
	kvs := make([]storage.KV, len(seqs))
	for i, seq := range seqs {
		if seq <= 0 || int(seq) > len(in.stamps) {
			return errors.Wrapf(ErrUnknownStamp, "sequence %d", seq)
		}
		s := in.stamps[seq-1]
		if !s.IsUncommitted() {
			return errors.Wrapf(ErrNotUncommitted, "sequence %d is %s", seq, s)
		}
		update(&s)
		updated[i] = s
		kvs[i].Key = stampKey(seq)
		if kvs[i].Value, err = encodeStamp(s); err != nil {
			return
		}
	}

	if err = in.st.SetValues(kvs); err != nil {
		return errors.WithMessage(err, "persist stamp batch failed")
	}

	for i, seq := range seqs {
		in.stamps[seq-1] = updated[i]
		if _, ok := in.committed[updated[i]]; index && !ok {
			in.committed[updated[i]] = seq
		}
	}
	return
}
