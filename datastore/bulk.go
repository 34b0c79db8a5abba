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

import (
	"context"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/logicahealth/komet-sub049/task"
	"github.com/logicahealth/komet-sub049/txn"
	"github.com/logicahealth/komet-sub049/types"
	"github.com/logicahealth/komet-sub049/utils/log"
)

// Item is one version to load for the component named by UUID. Type, Assemblage and
// ReferencedComponent are only used when the component is new.
type Item struct {
	UUID                uuid.UUID
	Type                types.ChronologyType
	Assemblage          int32
	ReferencedComponent int32
	Version             types.Version
}

// BulkLoad adds items to tx with at most the configured number of parallel writers.
// Items of one component are added in order by a single writer. The first failure stops
// the load, versions already added stay pending in tx.
func (ds *Datastore) BulkLoad(ctx context.Context, tx *txn.Transaction, items []Item, tracker *task.Tracker) (
	err error) {
	var (
		order  []uuid.UUID
		groups = make(map[uuid.UUID][]Item)
	)
	for _, item := range items {
		if _, ok := groups[item.UUID]; !ok {
			order = append(order, item.UUID)
		}
		groups[item.UUID] = append(groups[item.UUID], item)
	}
	tracker.AddTotal(int64(len(items)))

	sem := semaphore.NewWeighted(int64(ds.cfg.Transaction.MaxParallelWriters))
	g, gctx := errgroup.WithContext(ctx)

	for _, u := range order {
		if err = sem.Acquire(gctx, 1); err != nil {
			break
		}
		if err = tracker.Check(); err != nil {
			sem.Release(1)
			break
		}
		group := groups[u]
		g.Go(func() error {
			defer sem.Release(1)
			return ds.load(gctx, tx, group, tracker)
		})
	}

	if werr := g.Wait(); werr != nil {
		err = werr
	} else if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		done, total := tracker.Progress()
		log.WithError(err).WithFields(log.Fields{
			"transaction": tx.ID(),
			"done":        done,
			"total":       total,
		}).Warning("bulk load stopped")
		return errors.WithMessage(err, "bulk load failed")
	}
	return
}

func (ds *Datastore) load(ctx context.Context, tx *txn.Transaction, group []Item, tracker *task.Tracker) (err error) {
	first := group[0]
	chron, err := ds.Component(first.Type, first.UUID, first.Assemblage, first.ReferencedComponent)
	if err != nil {
		return
	}
	for _, item := range group {
		if err = ctx.Err(); err != nil {
			return
		}
		if err = tracker.Check(); err != nil {
			return
		}
		if err = tx.AddVersion(chron, item.Version); err != nil {
			return errors.WithMessagef(err, "load version of %s", item.UUID)
		}
		tracker.Completed(1)
	}
	return
}
