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

// Package datastore wires the identifier registry, the stamp interner, the spine store,
// the commit manager and the position calculators into one embedded store.
package datastore

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"github.com/logicahealth/komet-sub049/conf"
	"github.com/logicahealth/komet-sub049/identifier"
	"github.com/logicahealth/komet-sub049/meta"
	"github.com/logicahealth/komet-sub049/notify"
	"github.com/logicahealth/komet-sub049/position"
	"github.com/logicahealth/komet-sub049/spine"
	"github.com/logicahealth/komet-sub049/stamp"
	"github.com/logicahealth/komet-sub049/storage"
	"github.com/logicahealth/komet-sub049/txn"
	"github.com/logicahealth/komet-sub049/txn/wal"
	"github.com/logicahealth/komet-sub049/types"
	"github.com/logicahealth/komet-sub049/utils/log"
)

const (
	identifierDir = "identifiers"
	stampDir      = "stamps"
	spineDir      = "spines"
	commitLogDir  = "commitlog"
	metaDir       = "meta"

	pathStoreName = "paths"
)

// ErrClosed indicates the datastore was closed.
var ErrClosed = errors.New("datastore is closed")

// Datastore is the embedded versioned component store.
type Datastore struct {
	cfg *conf.Config

	idStorage    *storage.Storage
	stampStorage *storage.Storage

	ids      *identifier.Registry
	stamps   *stamp.Interner
	spines   *spine.Store
	log      wal.Log
	notifier *notify.Registry
	txns     *txn.Manager
	meta     *meta.Service
	paths    *meta.Store
	graph    *position.PathGraph
	calcs    *position.Cache

	pathMu sync.Mutex

	closeOnce sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

type closer func() error

// Open opens the store described by cfg, in memory when cfg.InMemory is set.
func Open(cfg *conf.Config) (ds *Datastore, err error) {
	cfg = cfg.Copy()
	cfg.Normalize()
	if err = cfg.Validate(); err != nil {
		return
	}

	ds = &Datastore{cfg: cfg, stopCh: make(chan struct{})}

	var opened []closer
	defer func() {
		if err == nil {
			return
		}
		for i := len(opened) - 1; i >= 0; i-- {
			if cerr := opened[i](); cerr != nil {
				log.WithError(cerr).Warning("release partially opened datastore failed")
			}
		}
		ds = nil
	}()

	openStorage := func(name string) (*storage.Storage, error) {
		if cfg.InMemory {
			return storage.OpenMemStorage()
		}
		return storage.OpenStorage(cfg.Path(name))
	}

	if ds.idStorage, err = openStorage(identifierDir); err != nil {
		return
	}
	opened = append(opened, ds.idStorage.Close)
	if ds.ids, err = identifier.NewRegistry(identifier.NewLevelDBStore(ds.idStorage)); err != nil {
		return
	}

	if ds.stampStorage, err = openStorage(stampDir); err != nil {
		return
	}
	opened = append(opened, ds.stampStorage.Close)
	if ds.stamps, err = stamp.NewInterner(ds.stampStorage); err != nil {
		return
	}

	var policy spine.MemoryPolicy
	if policy, err = spine.ParseMemoryPolicy(cfg.Spine.MemoryPolicy); err != nil {
		return
	}
	var backend spine.Backend
	if cfg.InMemory {
		backend = spine.NewMemBackend()
	} else if backend, err = spine.NewFileBackend(cfg.Path(spineDir)); err != nil {
		return
	}
	if ds.spines, err = spine.NewStore(backend, spine.Options{
		BlockSize:         cfg.Spine.BlockSize,
		Policy:            policy,
		FlushInterval:     cfg.Spine.FlushInterval,
		MaxResidentSpines: cfg.Spine.MaxResidentSpines,
		FlushWorkers:      cfg.Spine.FlushWorkers,
	}); err != nil {
		return
	}
	opened = append(opened, ds.spines.Close)

	if cfg.InMemory {
		ds.log = wal.NewMemLog()
	} else if ds.log, err = wal.NewLevelDBLog(cfg.Path(commitLogDir)); err != nil {
		return
	}
	opened = append(opened, func() error { ds.log.Close(); return nil })

	ds.notifier = notify.NewRegistry()
	if ds.txns, err = txn.NewManager(ds.stamps, ds.spines, ds.log, ds.notifier, txn.SystemClock); err != nil {
		return
	}

	metaRoot := ""
	if !cfg.InMemory {
		metaRoot = cfg.Path(metaDir)
	}
	if ds.meta, err = meta.NewService(metaRoot); err != nil {
		return
	}
	opened = append(opened, ds.meta.Shutdown)
	if ds.paths, err = ds.meta.Open(pathStoreName); err != nil {
		return
	}
	ds.graph = position.NewPathGraph()
	if err = ds.loadPaths(); err != nil {
		return
	}
	if ds.calcs, err = position.NewCache(cfg.Position.CalculatorCacheSize, ds.graph, ds.stamps,
		cycleLogger{}); err != nil {
		return
	}

	if cfg.Transaction.ReapAfter > 0 {
		ds.wg.Add(1)
		go ds.reaper(cfg.Transaction.ReapAfter)
	}

	log.WithFields(log.Fields{
		"root":      cfg.WorkingRoot,
		"in_memory": cfg.InMemory,
		"nids":      ds.ids.Count(),
		"stamps":    ds.stamps.Count(),
		"sequence":  ds.txns.LastSequence(),
	}).Info("datastore opened")
	return
}

type cycleLogger struct{}

func (cycleLogger) ResolveCycle(err *types.PathCycleError) {
	log.WithField("cycle", err.Cycle).Error("path origin cycle found")
}

func (ds *Datastore) reaper(olderThan time.Duration) {
	defer ds.wg.Done()

	interval := olderThan / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ds.stopCh:
			return
		case <-ticker.C:
			if n := ds.txns.Reap(olderThan); n > 0 {
				log.WithField("count", n).Warning("abandoned transactions cancelled")
			}
		}
	}
}

// Config returns a copy of the config the store runs with.
func (ds *Datastore) Config() *conf.Config {
	return ds.cfg.Copy()
}

// Identifiers returns the identifier registry.
func (ds *Datastore) Identifiers() *identifier.Registry {
	return ds.ids
}

// Stamps returns the stamp interner.
func (ds *Datastore) Stamps() *stamp.Interner {
	return ds.stamps
}

// Spines returns the spine store.
func (ds *Datastore) Spines() *spine.Store {
	return ds.spines
}

// Transactions returns the commit manager.
func (ds *Datastore) Transactions() *txn.Manager {
	return ds.txns
}

// Notifier returns the change listener registry.
func (ds *Datastore) Notifier() *notify.Registry {
	return ds.notifier
}

// Meta returns the side store service.
func (ds *Datastore) Meta() *meta.Service {
	return ds.meta
}

// CommitLog returns the commit log.
func (ds *Datastore) CommitLog() wal.Log {
	return ds.log
}

// NewTransaction starts a transaction.
func (ds *Datastore) NewTransaction(comment string) *txn.Transaction {
	return ds.txns.NewTransaction(comment)
}

// AddIndexer subscribes ix to committed changes.
func (ds *Datastore) AddIndexer(ix notify.Indexer) *notify.Subscription {
	return ds.notifier.AddListener(notify.IndexerListener{Indexer: ix})
}

// Chronology reads the chronology of nid. The returned chronology holds every version
// ever written, visibility is up to a calculator.
func (ds *Datastore) Chronology(nid int32) (chron *types.Chronology, err error) {
	// The mark must be taken before the records are read, a commit in between is then
	// reported as stale by AddVersion.
	mark := ds.txns.CommitMark(nid)

	records, err := ds.spines.Get(nid)
	if err != nil {
		if errors.Cause(err) == spine.ErrInvalidNid {
			err = errors.Wrapf(types.ErrUnknownIdentifier, "nid %d", nid)
		}
		return
	}
	if chron, err = types.DecodeChronology(nid, records); err != nil {
		return
	}
	chron.ReadMark = mark
	return
}

// ChronologyByUUID reads the chronology named by u.
func (ds *Datastore) ChronologyByUUID(u uuid.UUID) (chron *types.Chronology, err error) {
	nid, err := ds.ids.GetNid(u)
	if err != nil {
		return
	}
	return ds.Chronology(nid)
}

// Component returns the chronology named by u, or a new empty one with the given identity
// when u has no stored records yet. The nid is assigned on first use.
func (ds *Datastore) Component(t types.ChronologyType, u uuid.UUID, assemblage, referenced int32) (
	chron *types.Chronology, err error) {
	nid, err := ds.ids.GetOrCreateNid(u)
	if err != nil {
		return
	}
	mark := ds.txns.CommitMark(nid)

	var records [][]byte
	if records, err = ds.spines.Get(nid); err != nil {
		return
	}
	if len(records) > 0 {
		if chron, err = types.DecodeChronology(nid, records); err != nil {
			return
		}
		chron.ReadMark = mark
		return
	}

	var uuids []uuid.UUID
	if uuids, err = ds.ids.UUIDs(nid); err != nil {
		return
	}
	chron = types.NewChronology(nid, t, uuids[0])
	chron.AdditionalUUIDs = uuids[1:]
	chron.Assemblage = assemblage
	chron.ReferencedComponent = referenced
	chron.ReadMark = mark
	return
}

// Calculator returns the position calculator of coord.
func (ds *Datastore) Calculator(coord *types.StampCoordinate) (*position.Calculator, error) {
	return ds.calcs.Get(coord)
}

// Latest returns the visible versions of nid at coord.
func (ds *Datastore) Latest(nid int32, coord *types.StampCoordinate) (lv position.LatestVersion, err error) {
	calc, err := ds.Calculator(coord)
	if err != nil {
		return
	}
	chron, err := ds.Chronology(nid)
	if err != nil {
		return
	}
	return calc.LatestVersion(chron), nil
}

// MergeUUID makes u another name of nid. A chronology already stored gets a header record
// carrying the alias.
func (ds *Datastore) MergeUUID(u uuid.UUID, nid int32) (err error) {
	if err = ds.ids.Merge(u, nid); err != nil {
		return
	}

	records, err := ds.spines.Get(nid)
	if err != nil || len(records) == 0 {
		return
	}
	chron, err := types.DecodeChronology(nid, records)
	if err != nil {
		return
	}
	if chron.HasUUID(u) {
		return
	}

	alias := types.NewChronology(nid, chron.Type, chron.PrimordialUUID)
	alias.Assemblage = chron.Assemblage
	alias.ReferencedComponent = chron.ReferencedComponent
	alias.AdditionalUUIDs = []uuid.UUID{u}
	header, err := alias.EncodeHeader()
	if err != nil {
		return
	}
	return ds.spines.Put(nid, header)
}

// Close flushes every spine and releases the store. Open transactions are left as they
// are, their stamps are reaped on the next open.
func (ds *Datastore) Close() (err error) {
	err = ErrClosed
	ds.closeOnce.Do(func() {
		close(ds.stopCh)
		ds.wg.Wait()

		err = nil
		record := func(cerr error, what string) {
			if cerr != nil {
				log.WithError(cerr).WithField("component", what).Error("close datastore component failed")
				if err == nil {
					err = cerr
				}
			}
		}
		if n := len(ds.txns.Open()); n > 0 {
			log.WithField("count", n).Warning("closing datastore with open transactions")
		}
		record(ds.spines.Close(), "spines")
		ds.log.Close()
		record(ds.meta.Shutdown(), "meta")
		record(ds.stampStorage.Close(), "stamps")
		record(ds.idStorage.Close(), "identifiers")
		log.WithField("root", ds.cfg.WorkingRoot).Info("datastore closed")
	})
	return
}
