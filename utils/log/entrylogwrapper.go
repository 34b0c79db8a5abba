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

package log

import (
	"github.com/sirupsen/logrus"
)

// Entry wraps logrus entry type.
type Entry logrus.Entry

// WithError adds an error as single field to the Entry.
func (entry *Entry) WithError(err error) *Entry {
	return (*Entry)((*logrus.Entry)(entry).WithError(err))
}

// WithField adds a single field to the Entry.
func (entry *Entry) WithField(key string, value interface{}) *Entry {
	return (*Entry)((*logrus.Entry)(entry).WithField(key, value))
}

// WithFields adds a map of fields to the Entry.
func (entry *Entry) WithFields(fields Fields) *Entry {
	return (*Entry)((*logrus.Entry)(entry).WithFields((logrus.Fields)(fields)))
}

func (entry *Entry) Debug(args ...interface{}) {
	(*logrus.Entry)(entry).Debug(args...)
}

func (entry *Entry) Info(args ...interface{}) {
	(*logrus.Entry)(entry).Info(args...)
}

func (entry *Entry) Warning(args ...interface{}) {
	(*logrus.Entry)(entry).Warning(args...)
}

func (entry *Entry) Error(args ...interface{}) {
	(*logrus.Entry)(entry).Error(args...)
}

func (entry *Entry) Fatal(args ...interface{}) {
	(*logrus.Entry)(entry).Fatal(args...)
}

func (entry *Entry) Panic(args ...interface{}) {
	(*logrus.Entry)(entry).Panic(args...)
}

func (entry *Entry) Debugf(format string, args ...interface{}) {
	(*logrus.Entry)(entry).Debugf(format, args...)
}

func (entry *Entry) Infof(format string, args ...interface{}) {
	(*logrus.Entry)(entry).Infof(format, args...)
}

func (entry *Entry) Warningf(format string, args ...interface{}) {
	(*logrus.Entry)(entry).Warningf(format, args...)
}

func (entry *Entry) Errorf(format string, args ...interface{}) {
	(*logrus.Entry)(entry).Errorf(format, args...)
}

func (entry *Entry) Panicf(format string, args ...interface{}) {
	(*logrus.Entry)(entry).Panicf(format, args...)
}

func (entry *Entry) Fatalf(format string, args ...interface{}) {
	(*logrus.Entry)(entry).Fatalf(format, args...)
}
