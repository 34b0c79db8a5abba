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

package spine

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/logicahealth/komet-sub049/utils"
)

// ErrUnsupportedOperation is returned by every method of UnsupportedBackend.
var ErrUnsupportedOperation = errors.New("unsupported spine operation")

// Key identifies a spine: its directory and its index in the directory.
type Key struct {
	Negative bool
	Index    int32
}

func (k Key) String() string {
	if k.Negative {
		return fmt.Sprintf("n%08d", k.Index)
	}
	return fmt.Sprintf("p%08d", k.Index)
}

// Slots is the record lists of every slot of one spine, nil entries are empty slots.
type Slots [][][]byte

// Backend persists whole spines.
type Backend interface {
	// Write replaces the persisted content of the spine.
	Write(key Key, slots Slots) error
	// Read returns the persisted content of the spine, nil when it was never written.
	Read(key Key) (Slots, error)
	// Size returns the aggregate bytes held by the backend.
	Size() (int64, error)
}

const spineFileSuffix = ".spine"

// FileBackend keeps one msgpack encoded file per spine in a directory. Files are
// replaced atomically, a crash leaves the previous content.
type FileBackend struct {
	dir   string
	mu    sync.Mutex
	sizes map[Key]int64
}

// NewFileBackend opens the spine directory dir, creating it when missing.
func NewFileBackend(dir string) (b *FileBackend, err error) {
	if err = utils.EnsureDir(dir); err != nil {
		return nil, errors.Wrapf(err, "create spine dir %s failed", dir)
	}
	b = &FileBackend{dir: dir, sizes: make(map[Key]int64)}

	var infos []os.FileInfo
	if infos, err = ioutil.ReadDir(dir); err != nil {
		return nil, errors.Wrapf(err, "scan spine dir %s failed", dir)
	}
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !strings.HasSuffix(name, spineFileSuffix) {
			continue
		}
		var (
			key  Key
			kind byte
		)
		if _, err = fmt.Sscanf(strings.TrimSuffix(name, spineFileSuffix), "%c%d", &kind, &key.Index); err != nil {
			return nil, errors.Wrapf(err, "unexpected spine file %s", name)
		}
		key.Negative = kind == 'n'
		b.sizes[key] = info.Size()
	}
	return
}

func (b *FileBackend) path(key Key) string {
	return filepath.Join(b.dir, key.String()+spineFileSuffix)
}

// Write implements Backend.Write.
func (b *FileBackend) Write(key Key, slots Slots) (err error) {
	buf, err := utils.EncodeMsgPack(slots)
	if err != nil {
		return errors.Wrapf(err, "encode spine %s failed", key)
	}
	if err = utils.WriteFileAtomic(b.path(key), buf.Bytes()); err != nil {
		return errors.Wrapf(err, "write spine %s failed", key)
	}
	b.mu.Lock()
	b.sizes[key] = int64(buf.Len())
	b.mu.Unlock()
	return
}

// Read implements Backend.Read.
func (b *FileBackend) Read(key Key) (slots Slots, err error) {
	data, err := ioutil.ReadFile(b.path(key))
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "read spine %s failed", key)
	}
	if err = utils.DecodeMsgPack(data, &slots); err != nil {
		return nil, errors.Wrapf(ErrCorruptedSpine, "decode spine %s: %v", key, err)
	}
	return
}

// Size implements Backend.Size.
func (b *FileBackend) Size() (size int64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sizes {
		size += s
	}
	return
}

// MemBackend keeps spines in memory, used by in-memory stores and tests.
type MemBackend struct {
	mu     sync.Mutex
	spines map[Key]Slots
	writes int
}

// NewMemBackend returns an empty memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{spines: make(map[Key]Slots)}
}

// Write implements Backend.Write.
func (b *MemBackend) Write(key Key, slots Slots) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spines[key] = append(Slots(nil), slots...)
	b.writes++
	return nil
}

// Read implements Backend.Read.
func (b *MemBackend) Read(key Key) (Slots, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slots, ok := b.spines[key]; ok {
		return append(Slots(nil), slots...), nil
	}
	return nil, nil
}

// Size implements Backend.Size.
func (b *MemBackend) Size() (size int64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, slots := range b.spines {
		for _, records := range slots {
			for _, r := range records {
				size += int64(len(r))
			}
		}
	}
	return
}

// Writes returns the number of spine writes so far.
func (b *MemBackend) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// UnsupportedBackend rejects every operation. It marks a store configured without
// persistence, any flush or hydration through it is a misconfiguration.
type UnsupportedBackend struct{}

// Write implements Backend.Write.
func (UnsupportedBackend) Write(key Key, _ Slots) error {
	return errors.Wrapf(ErrUnsupportedOperation, "write spine %s", key)
}

// Read implements Backend.Read.
func (UnsupportedBackend) Read(key Key) (Slots, error) {
	return nil, errors.Wrapf(ErrUnsupportedOperation, "read spine %s", key)
}

// Size implements Backend.Size.
func (UnsupportedBackend) Size() (int64, error) {
	return 0, ErrUnsupportedOperation
}
