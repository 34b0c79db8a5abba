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

// Package conf loads the store configuration from yaml.
package conf

import (
	"io/ioutil"
	"path/filepath"
	"time"

	"github.com/mohae/deepcopy"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/logicahealth/komet-sub049/utils"
	"github.com/logicahealth/komet-sub049/utils/log"
)

// ErrInvalidConfig indicates a config value out of its accepted range.
var ErrInvalidConfig = errors.New("invalid config")

// SpineConfig tunes the spine store.
type SpineConfig struct {
	BlockSize int `yaml:"BlockSize"`
	// MemoryPolicy is "hold_in_memory" or "flush_and_clear".
	MemoryPolicy      string        `yaml:"MemoryPolicy"`
	FlushInterval     time.Duration `yaml:"FlushInterval"`
	MaxResidentSpines int           `yaml:"MaxResidentSpines"`
	FlushWorkers      int           `yaml:"FlushWorkers"`
}

// TransactionConfig tunes transactions.
type TransactionConfig struct {
	// MaxParallelWriters bounds the bulk load writers of one transaction.
	MaxParallelWriters int `yaml:"MaxParallelWriters"`
	// ReapAfter cancels transactions left open longer than this, zero disables.
	ReapAfter time.Duration `yaml:"ReapAfter"`
}

// PositionConfig tunes the relative position calculators.
type PositionConfig struct {
	CalculatorCacheSize int `yaml:"CalculatorCacheSize"`
}

// MetricsConfig holds the metrics endpoint.
type MetricsConfig struct {
	ListenAddr string `yaml:"ListenAddr"`
}

// Config holds all the config read from yaml config file.
type Config struct {
	// WorkingRoot holds every persistent file, ignored in memory mode.
	WorkingRoot string `yaml:"WorkingRoot"`
	InMemory    bool   `yaml:"InMemory"`
	LogLevel    string `yaml:"LogLevel"`

	Spine       SpineConfig       `yaml:"Spine"`
	Transaction TransactionConfig `yaml:"Transaction"`
	Position    PositionConfig    `yaml:"Position"`
	Metrics     MetricsConfig     `yaml:"Metrics"`
}

// GConf is the global config pointer.
var GConf *Config

// NewConfig returns a normalized config rooted at workingRoot.
func NewConfig(workingRoot string) *Config {
	c := &Config{WorkingRoot: workingRoot}
	c.Normalize()
	return c
}

// NewMemConfig returns a normalized in-memory config.
func NewMemConfig() *Config {
	c := &Config{InMemory: true}
	c.Normalize()
	return c
}

// Normalize fills unset fields with their defaults.
func (c *Config) Normalize() {
	if c.WorkingRoot != "" {
		c.WorkingRoot = utils.HomeDirExpand(c.WorkingRoot)
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Spine.BlockSize <= 0 {
		c.Spine.BlockSize = DefaultBlockSize
	}
	if c.Spine.MemoryPolicy == "" {
		c.Spine.MemoryPolicy = DefaultMemoryPolicy
	}
	if c.Spine.FlushInterval <= 0 {
		c.Spine.FlushInterval = DefaultFlushInterval
	}
	if c.Spine.MaxResidentSpines <= 0 {
		c.Spine.MaxResidentSpines = DefaultMaxResidentSpines
	}
	if c.Spine.FlushWorkers <= 0 {
		c.Spine.FlushWorkers = DefaultFlushWorkers
	}
	if c.Transaction.MaxParallelWriters <= 0 {
		c.Transaction.MaxParallelWriters = DefaultMaxParallelWriters
	}
	if c.Position.CalculatorCacheSize <= 0 {
		c.Position.CalculatorCacheSize = DefaultCalculatorCacheSize
	}
}

// Validate checks the normalized config.
func (c *Config) Validate() error {
	if !c.InMemory && c.WorkingRoot == "" {
		return errors.Wrap(ErrInvalidConfig, "WorkingRoot is required unless InMemory is set")
	}
	if c.Spine.BlockSize > MaxBlockSize {
		return errors.Wrapf(ErrInvalidConfig, "BlockSize %d exceeds %d", c.Spine.BlockSize, MaxBlockSize)
	}
	if c.Transaction.MaxParallelWriters > MaxParallelWriters {
		return errors.Wrapf(ErrInvalidConfig, "MaxParallelWriters %d exceeds %d",
			c.Transaction.MaxParallelWriters, MaxParallelWriters)
	}
	return nil
}

// Path returns name under the working root.
func (c *Config) Path(name string) string {
	return filepath.Join(c.WorkingRoot, name)
}

// Copy returns a deep copy of the config.
func (c *Config) Copy() *Config {
	return deepcopy.Copy(c).(*Config)
}

// LoadConfig loads config from configPath.
func LoadConfig(configPath string) (config *Config, err error) {
	configBytes, err := ioutil.ReadFile(configPath)
	if err != nil {
		log.WithError(err).Error("read config file failed")
		return nil, errors.Wrapf(err, "read config %s failed", configPath)
	}
	config = &Config{}
	if err = yaml.Unmarshal(configBytes, config); err != nil {
		log.WithError(err).Error("unmarshal config file failed")
		return nil, errors.Wrapf(err, "unmarshal config %s failed", configPath)
	}
	if config.WorkingRoot != "" && !filepath.IsAbs(utils.HomeDirExpand(config.WorkingRoot)) {
		config.WorkingRoot = filepath.Join(filepath.Dir(configPath), config.WorkingRoot)
	}
	config.Normalize()
	if err = config.Validate(); err != nil {
		return nil, err
	}
	return
}

// SaveConfig writes config as yaml to configPath.
func SaveConfig(config *Config, configPath string) (err error) {
	out, err := yaml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "marshal config failed")
	}
	return utils.WriteFileAtomic(configPath, out)
}
