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
	"context"

	"github.com/logicahealth/komet-sub049/conf"
	"github.com/logicahealth/komet-sub049/datastore"
	"github.com/logicahealth/komet-sub049/metric"
	"github.com/logicahealth/komet-sub049/utils"
	"github.com/logicahealth/komet-sub049/utils/log"
)

func runServe(cfg *conf.Config) (err error) {
	ctx, stop := utils.ExitContext(context.Background())
	defer stop()
	return serve(ctx, cfg, nil)
}

// serve runs the store until ctx is done. ready, if not nil, receives the metrics
// address once serving, empty when metrics are disabled.
func serve(ctx context.Context, cfg *conf.Config, ready chan<- string) (err error) {
	ds, err := datastore.Open(cfg)
	if err != nil {
		return
	}
	defer func() {
		if cerr := ds.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	addr := ""
	if cfg.Metrics.ListenAddr != "" {
		reg, err := metric.NewRegistry(ds)
		if err != nil {
			return err
		}
		s, err := metric.Serve(cfg.Metrics.ListenAddr, reg)
		if err != nil {
			return err
		}
		defer s.Close()
		addr = s.Addr()
	}

	log.WithField("root", cfg.WorkingRoot).Info("kometd started")
	if ready != nil {
		ready <- addr
	}
	<-ctx.Done()
	log.Info("kometd stopping")
	return
}
