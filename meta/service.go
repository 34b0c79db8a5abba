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

// Package meta keeps named key/value side stores for data that is not terminology
// content, such as path origins and service settings.
package meta

import (
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/pkg/errors"

	"github.com/logicahealth/komet-sub049/storage"
	"github.com/logicahealth/komet-sub049/utils"
	"github.com/logicahealth/komet-sub049/utils/log"
)

var (
	// ErrInvalidName indicates a store name that is not a plain identifier.
	ErrInvalidName = errors.New("invalid meta store name")
	// ErrServiceClosed indicates the service was closed.
	ErrServiceClosed = errors.New("meta service is closed")

	validName = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)
)

// Store is one named side store.
type Store struct {
	name string
	st   *storage.Storage
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.name
}

// Put sets the value of key.
func (s *Store) Put(key, value []byte) error {
	return s.st.SetValue(key, value)
}

// Get returns the value of key, nil when absent.
func (s *Store) Get(key []byte) ([]byte, error) {
	return s.st.GetValue(key)
}

// Delete removes key.
func (s *Store) Delete(key []byte) error {
	return s.st.DelValue(key)
}

// Iterate calls fn for every key with prefix in key order.
func (s *Store) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return s.st.Iterate(prefix, fn)
}

// PutObject stores obj msgpack encoded under key.
func (s *Store) PutObject(key []byte, obj interface{}) (err error) {
	buf, err := utils.EncodeMsgPack(obj)
	if err != nil {
		return errors.Wrapf(err, "encode meta value of %s failed", s.name)
	}
	return s.st.SetValue(key, buf.Bytes())
}

// GetObject decodes the value of key into obj, found is false when absent.
func (s *Store) GetObject(key []byte, obj interface{}) (found bool, err error) {
	var value []byte
	if value, err = s.st.GetValue(key); err != nil || value == nil {
		return
	}
	if err = utils.DecodeMsgPack(value, obj); err != nil {
		return false, errors.Wrapf(err, "decode meta value of %s failed", s.name)
	}
	return true, nil
}

// Service opens, closes and removes named stores. Stores live in directories under
// root, or in memory when root is empty.
type Service struct {
	root   string
	mu     sync.Mutex
	stores map[string]*Store
	closed bool
}

// NewService returns a service keeping stores under root.
func NewService(root string) (s *Service, err error) {
	if root != "" {
		if err = utils.EnsureDir(root); err != nil {
			return
		}
	}
	return &Service{root: root, stores: make(map[string]*Store)}, nil
}

func (s *Service) path(name string) string {
	return filepath.Join(s.root, name)
}

// Open returns the store name, creating it when missing.
func (s *Service) Open(name string) (store *Store, err error) {
	if !validName.MatchString(name) {
		return nil, errors.Wrapf(ErrInvalidName, "%q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrServiceClosed
	}
	if store = s.stores[name]; store != nil {
		return
	}

	var st *storage.Storage
	if s.root == "" {
		st, err = storage.OpenMemStorage()
	} else {
		st, err = storage.OpenStorage(s.path(name))
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "open meta store %s failed", name)
	}
	store = &Store{name: name, st: st}
	s.stores[name] = store
	log.WithField("store", name).Debug("meta store opened")
	return
}

// Names returns the open store names.
func (s *Service) Names() (names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.stores {
		names = append(names, name)
	}
	return
}

// Close closes the store name, a missing store is ignored.
func (s *Service) Close(name string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked(name)
}

func (s *Service) closeLocked(name string) (err error) {
	store := s.stores[name]
	if store == nil {
		return
	}
	delete(s.stores, name)
	return store.st.Close()
}

// Remove closes the store name and deletes its content.
func (s *Service) Remove(name string) (err error) {
	if !validName.MatchString(name) {
		return errors.Wrapf(ErrInvalidName, "%q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.closeLocked(name); err != nil {
		return
	}
	if s.root != "" {
		if err = os.RemoveAll(s.path(name)); err != nil {
			return errors.Wrapf(err, "remove meta store %s failed", name)
		}
	}
	log.WithField("store", name).Info("meta store removed")
	return
}

// Shutdown closes every store.
func (s *Service) Shutdown() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for name := range s.stores {
		if cerr := s.closeLocked(name); cerr != nil && err == nil {
			err = cerr
		}
	}
	return
}
