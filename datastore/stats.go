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

package datastore

import "github.com/logicahealth/komet-sub049/utils/log"

// Stats is a point in time view of the store size and activity.
type Stats struct {
	Nids              int64
	MaxNid            int32
	Stamps            int
	Spines            int
	ResidentSpines    int
	BytesOnDisk       int64
	CommitSequence    uint64
	LastCommitTime    int64
	Commits           int64
	FailedCommits     int64
	Cancelled         int64
	OpenTransactions  int
	Listeners         int
	CachedCalculators int
}

// Stats collects the current statistics.
func (ds *Datastore) Stats() (s Stats) {
	var err error
	if s.BytesOnDisk, err = ds.spines.SizeOnDisk(); err != nil {
		log.WithError(err).Warning("read spine size failed")
	}
	s.Nids = ds.ids.Count()
	s.MaxNid = ds.ids.MaxNid()
	s.Stamps = ds.stamps.Count()
	s.Spines = ds.spines.SpineCount()
	s.ResidentSpines = ds.spines.ResidentCount()
	s.CommitSequence = ds.txns.LastSequence()
	s.LastCommitTime = ds.txns.LastCommitTime()
	s.Commits, s.FailedCommits, s.Cancelled = ds.txns.Meters()
	s.OpenTransactions = len(ds.txns.Open())
	s.Listeners = ds.notifier.Len()
	s.CachedCalculators = ds.calcs.Len()
	return
}
