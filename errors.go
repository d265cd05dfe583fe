package terraformindex

import "errors"

// ErrNoSources is returned by New when the configuration enables no state
// source.
var ErrNoSources = errors.New("no sources enabled")
