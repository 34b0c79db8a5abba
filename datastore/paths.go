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
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/logicahealth/komet-sub049/position"
	"github.com/logicahealth/komet-sub049/types"
	"github.com/logicahealth/komet-sub049/utils"
	"github.com/logicahealth/komet-sub049/utils/log"
)

func pathKey(path int32) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, uint32(path))
	return key
}

func (ds *Datastore) loadPaths() error {
	return ds.paths.Iterate(nil, func(key, value []byte) (err error) {
		if len(key) != 4 {
			return errors.Errorf("unexpected path origin key %x", key)
		}
		var origins []types.StampPosition
		if err = utils.DecodeMsgPack(value, &origins); err != nil {
			return errors.Wrapf(err, "decode origins of path key %x failed", key)
		}
		ds.graph.SetOrigins(int32(binary.BigEndian.Uint32(key)), origins...)
		return
	})
}

// SetPathOrigins records the origins of path, none removes them. The change is
// persisted before it becomes visible, cached calculators are dropped.
func (ds *Datastore) SetPathOrigins(path int32, origins ...types.StampPosition) (err error) {
	if path == 0 {
		return errors.Wrap(types.ErrUnknownIdentifier, "path nid 0")
	}

	ds.pathMu.Lock()
	defer ds.pathMu.Unlock()

	if len(origins) == 0 {
		err = ds.paths.Delete(pathKey(path))
	} else {
		err = ds.paths.PutObject(pathKey(path), origins)
	}
	if err != nil {
		return errors.WithMessagef(err, "save origins of path %d failed", path)
	}

	ds.graph.SetOrigins(path, origins...)
	ds.calcs.Purge()
	log.WithFields(log.Fields{"path": path, "origins": origins}).Debug("path origins changed")
	return
}

// PathOrigins returns the origins of path.
func (ds *Datastore) PathOrigins(path int32) []types.StampPosition {
	return ds.graph.Origins(path)
}

// PathGraph returns the live path origin graph.
func (ds *Datastore) PathGraph() *position.PathGraph {
	return ds.graph
}
