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
	"text/tabwriter"
	"time"

	"github.com/logicahealth/komet-sub049/conf"
	"github.com/logicahealth/komet-sub049/datastore"
)

func runStats(cfg *conf.Config, out io.Writer) (err error) {
	ds, err := datastore.Open(cfg)
	if err != nil {
		return
	}
	defer ds.Close()

	s := ds.Stats()
	last := "never"
	if s.LastCommitTime > 0 {
		last = time.Unix(0, s.LastCommitTime*int64(time.Millisecond)).UTC().Format(time.RFC3339)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "nids\t%d\n", s.Nids)
	fmt.Fprintf(w, "max nid\t%d\n", s.MaxNid)
	fmt.Fprintf(w, "stamps\t%d\n", s.Stamps)
	fmt.Fprintf(w, "spines\t%d (%d resident)\n", s.Spines, s.ResidentSpines)
	fmt.Fprintf(w, "spine bytes\t%d\n", s.BytesOnDisk)
	fmt.Fprintf(w, "commit sequence\t%d\n", s.CommitSequence)
	fmt.Fprintf(w, "last commit\t%s\n", last)
	return w.Flush()
}
