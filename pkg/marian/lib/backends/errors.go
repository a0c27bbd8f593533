// Copyright 2025 The Marian Go Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backends

import (
	"errors"
	"fmt"
)

// FaultKind classifies an unrecoverable backend fault.
type FaultKind int

const (
	// FaultInternal is an unspecified internal backend fault.
	FaultInternal FaultKind = iota
	// FaultDevice is corrupted or inaccessible device memory.
	FaultDevice
	// FaultAlloc is a tensor allocation failure.
	FaultAlloc
)

// String returns the fault classification used in log output.
func (k FaultKind) String() string {
	switch k {
	case FaultDevice:
		return "device"
	case FaultAlloc:
		return "alloc"
	default:
		return "internal"
	}
}

// FatalError is an unrecoverable fault surfaced by a model or scorer
// collaborator. A crashed kernel leaves no safely resumable state, so the
// orchestrator escalates it to process termination instead of retrying.
type FatalError struct {
	Kind FaultKind
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal %s fault: %v", e.Kind, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatalf creates a FatalError with the given classification.
func Fatalf(kind FaultKind, format string, args ...any) error {
	return &FatalError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// AsFatal extracts a FatalError from err, if it carries one.
func AsFatal(err error) (*FatalError, bool) {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
