package engine

import "errors"

// ErrEngine wraps every failure reported by the engine client.
var ErrEngine = errors.New("engine")
