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

package utils

import (
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/pkg/errors"

	"github.com/logicahealth/komet-sub049/utils/log"
)

// Profile is a running CPU and memory profile.
type Profile struct {
	cpu *os.File
	mem *os.File
}

// StartProfile starts the CPU profile into cpuprofile and prepares the heap profile
// written to memprofile on Stop. Empty paths disable the profile.
func StartProfile(cpuprofile, memprofile string) (p *Profile, err error) {
	p = &Profile{}
	if cpuprofile != "" {
		if p.cpu, err = os.Create(cpuprofile); err != nil {
			log.WithField("file", cpuprofile).WithError(err).Error("failed to create CPU profile file")
			return nil, errors.Wrap(err, "create CPU profile failed")
		}
		if err = pprof.StartCPUProfile(p.cpu); err != nil {
			p.cpu.Close()
			return nil, errors.Wrap(err, "start CPU profile failed")
		}
		log.WithField("file", cpuprofile).Info("writing CPU profiling to file")
	}

	if memprofile != "" {
		if p.mem, err = os.Create(memprofile); err != nil {
			log.WithField("file", memprofile).WithError(err).Error("failed to create memory profile file")
			p.Stop()
			return nil, errors.Wrap(err, "create memory profile failed")
		}
		log.WithField("file", memprofile).Info("writing memory profiling to file")
		runtime.MemProfileRate = 4096
	}
	return
}

// Stop ends the CPU profile and writes the heap profile.
func (p *Profile) Stop() (err error) {
	if p.cpu != nil {
		pprof.StopCPUProfile()
		err = p.cpu.Close()
		p.cpu = nil
		log.Info("CPU profiling stopped")
	}
	if p.mem != nil {
		if werr := pprof.WriteHeapProfile(p.mem); werr != nil && err == nil {
			err = errors.Wrap(werr, "write heap profile failed")
		}
		if cerr := p.mem.Close(); cerr != nil && err == nil {
			err = cerr
		}
		p.mem = nil
		log.Info("memory profiling stopped")
	}
	return
}
