// Copyright 2025 the terraform-index authors
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


package core

import "errors"

// Pipeline error taxonomy. Components wrap these with fmt.Errorf("...: %w")
// so callers can branch with errors.Is.
var (
	// ErrConnection indicates a source or sink is unreachable. Fatal to the
	// Start of the component that returns it, never to the process.
	ErrConnection = errors.New("connection failed")

	// ErrParse indicates one document could not be decoded. Always contained
	// at the scope of that document.
	ErrParse = errors.New("parse failed")

	// ErrTimeout is returned by a timed queue Get when no item arrived.
	// It is control flow, not a failure; pump loops use it to observe stop
	// requests while a queue is empty.
	ErrTimeout = errors.New("timed out")

	// ErrTransport indicates a durable queue backend I/O failure. Callers
	// log and retry on the next loop iteration.
	ErrTransport = errors.New("transport failed")

	// ErrStopped indicates an operation was attempted on a stopped component.
	ErrStopped = errors.New("component is stopped")
)
