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
	"github.com/pkg/errors"

	"github.com/logicahealth/komet-sub049/conf"
	"github.com/logicahealth/komet-sub049/utils"
	"github.com/logicahealth/komet-sub049/utils/log"
)

func runConfgen(path, root string) (err error) {
	if path == "" {
		return errors.New("confgen needs -config")
	}
	if utils.Exist(path) {
		return errors.Errorf("%s already exists", path)
	}
	if root == "" {
		root = "data"
	}
	cfg := conf.NewConfig(root)
	cfg.Metrics.ListenAddr = "127.0.0.1:9464"
	if err = conf.SaveConfig(cfg, path); err != nil {
		return
	}
	log.WithField("path", path).Info("config generated")
	return
}
