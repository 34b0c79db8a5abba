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

package main

import (
	"fmt"
	"io"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"github.com/logicahealth/komet-sub049/conf"
	"github.com/logicahealth/komet-sub049/datastore"
	"github.com/logicahealth/komet-sub049/types"
)

func runInspect(cfg *conf.Config, out io.Writer, nid int32, id string) (err error) {
	ds, err := datastore.Open(cfg)
	if err != nil {
		return
	}
	defer ds.Close()

	var chron *types.Chronology
	switch {
	case id != "":
		var u uuid.UUID
		if u, err = uuid.FromString(id); err != nil {
			return errors.Wrapf(err, "parse uuid %q failed", id)
		}
		chron, err = ds.ChronologyByUUID(u)
	case nid != 0:
		chron, err = ds.Chronology(nid)
	default:
		return errors.New("inspect needs -nid or -uuid")
	}
	if err != nil {
		return
	}

	spewCfg := spew.NewDefaultConfig()
	spewCfg.MaxDepth = 6
	spewCfg.DisableMethods = true
	fmt.Fprintf(out, "%s nid %d\n", chron.Type, chron.Nid)
	spewCfg.Fdump(out, chron)
	for _, v := range chron.Versions {
		fmt.Fprintf(out, "stamp %d: %s\n", v.StampSequence, ds.Stamps().Resolve(v.StampSequence))
	}
	return
}
