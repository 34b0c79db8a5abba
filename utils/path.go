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
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// HomeDirExpand tries to expand the tilde (~) in the front of a path
// to a fullpath directory.
func HomeDirExpand(path string) string {
	usr, err := user.Current()
	if err != nil {
		return path
	}

	if path == "~" {
		return usr.HomeDir
	} else if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, strings.TrimPrefix(path, "~/"))
	}

	return path
}

// Exist return if file or path is exist.
func Exist(path string) bool {
	_, err := os.Stat(path)
	return err == nil || os.IsExist(err)
}

// EnsureDir creates dir and its parents if missing.
func EnsureDir(dir string) (err error) {
	if err = os.MkdirAll(dir, 0755); err != nil {
		err = errors.Wrapf(err, "create directory %s failed", dir)
	}
	return
}

// WriteFileAtomic writes data to a temp file in the same directory and renames it over
// filename, so readers observe either the previous or the new content.
func WriteFileAtomic(filename string, data []byte) (err error) {
	var tmp *os.File
	if tmp, err = ioutil.TempFile(filepath.Dir(filename), "."+filepath.Base(filename)+".tmp"); err != nil {
		return errors.Wrap(err, "create temp file failed")
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write temp file failed")
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "sync temp file failed")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file failed")
	}
	if err = os.Rename(tmp.Name(), filename); err != nil {
		return errors.Wrap(err, "rename temp file failed")
	}
	return
}
