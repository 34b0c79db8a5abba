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
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/logicahealth/komet-sub049/conf"
	"github.com/logicahealth/komet-sub049/utils"
	"github.com/logicahealth/komet-sub049/utils/log"
)

var (
	version     = "unknown"
	tool        string
	configFile  string
	inMemory    bool
	workingRoot string
	logLevel    string
	inspectNid  int
	inspectUUID string
	cpuProfile  string
	memProfile  string
	showVersion bool
)

const name = "kometd"

func init() {
	flag.StringVar(&tool, "tool", "serve", "Tool type: serve, stats, inspect, confgen")
	flag.StringVar(&configFile, "config", "", "Config file path")
	flag.BoolVar(&inMemory, "mem", false, "Run on an in-memory store, ignores -config")
	flag.StringVar(&workingRoot, "root", "", "Working root, overrides the config")
	flag.StringVar(&logLevel, "log-level", "", "Log level, overrides the config")
	flag.IntVar(&inspectNid, "nid", 0, "Native identifier to inspect")
	flag.StringVar(&inspectUUID, "uuid", "", "Component uuid to inspect")
	flag.StringVar(&cpuProfile, "cpu-profile", "", "Path to file for CPU profiling information")
	flag.StringVar(&memProfile, "mem-profile", "", "Path to file for memory profiling information")
	flag.BoolVar(&showVersion, "version", false, "Show version information and exit")
}

func loadConfig() (cfg *conf.Config, err error) {
	switch {
	case inMemory:
		cfg = conf.NewMemConfig()
	case configFile != "":
		if cfg, err = conf.LoadConfig(configFile); err != nil {
			return
		}
	default:
		cfg = conf.NewConfig(workingRoot)
	}
	if workingRoot != "" && !inMemory {
		cfg.WorkingRoot = workingRoot
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	cfg.Normalize()
	conf.GConf = cfg
	return cfg, cfg.Validate()
}

func main() {
	flag.Parse()
	if showVersion {
		fmt.Printf("%v %v %v %v %v\n",
			name, version, runtime.GOOS, runtime.GOARCH, runtime.Version())
		os.Exit(0)
	}

	if tool == "confgen" {
		if err := runConfgen(configFile, workingRoot); err != nil {
			log.WithError(err).Fatal("generate config failed")
		}
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.WithError(err).Fatal("load config failed")
	}
	log.SetStringLevel(cfg.LogLevel, log.InfoLevel)
	log.Infof("kometd build: %#v", version)

	profile, err := utils.StartProfile(cpuProfile, memProfile)
	if err != nil {
		log.WithError(err).Fatal("start profile failed")
	}

	switch tool {
	case "serve":
		err = runServe(cfg)
	case "stats":
		err = runStats(cfg, os.Stdout)
	case "inspect":
		err = runInspect(cfg, os.Stdout, int32(inspectNid), inspectUUID)
	default:
		flag.Usage()
		os.Exit(1)
	}
	if perr := profile.Stop(); perr != nil {
		log.WithError(perr).Warning("stop profile failed")
	}
	if err != nil {
		log.WithError(err).Fatalf("%s failed", tool)
	}
}
