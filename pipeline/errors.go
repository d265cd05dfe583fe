package pipeline

import "errors"

// ErrAlreadyStarted is returned by Start when a worker is not idle.
var ErrAlreadyStarted = errors.New("worker already started")
