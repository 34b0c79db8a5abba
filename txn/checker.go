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

package txn

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/logicahealth/komet-sub049/types"
)

var (
	// ErrNotOpen indicates the transaction was already committed or cancelled.
	ErrNotOpen = errors.New("transaction is not open")
	// ErrForeignStamp indicates a version stamp not created by the transaction.
	ErrForeignStamp = errors.New("version stamp is not an uncommitted stamp of the transaction")
)

// Alert is a checker finding on a pending chronology.
type Alert struct {
	Nid     int32
	Checker string
	Message string
	// Fatal alerts prevent the commit.
	Fatal bool
}

func (a Alert) String() string {
	level := "warning"
	if a.Fatal {
		level = "fatal"
	}
	return fmt.Sprintf("%s %s nid %d: %s", level, a.Checker, a.Nid, a.Message)
}

// CheckError is returned by a commit whose checks raised fatal alerts.
type CheckError struct {
	Alerts []Alert
}

func (e *CheckError) Error() string {
	var fatal []string
	for _, a := range e.Alerts {
		if a.Fatal {
			fatal = append(fatal, a.String())
		}
	}
	return "commit checks failed: " + strings.Join(fatal, "; ")
}

// Checker validates a pending chronology before commit. Non fatal alerts are collected
// and returned to the caller; an error aborts the check.
type Checker interface {
	Name() string
	Check(ctx context.Context, chron *types.Chronology, pending []types.Version) ([]Alert, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	CheckerName string
	Fn          func(ctx context.Context, chron *types.Chronology, pending []types.Version) ([]Alert, error)
}

// Name implements Checker.
func (c CheckerFunc) Name() string {
	return c.CheckerName
}

// Check implements Checker.
func (c CheckerFunc) Check(ctx context.Context, chron *types.Chronology, pending []types.Version) ([]Alert, error) {
	return c.Fn(ctx, chron, pending)
}
