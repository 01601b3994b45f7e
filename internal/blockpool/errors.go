package blockpool

import "errors"

// ErrOutOfSpace is returned when no free block is available to satisfy an
// allocation. The device pool retries every channel before surfacing this.
var ErrOutOfSpace = errors.New("blockpool: out of space")

// ErrNotInUsedSet is a programmer-error invariant violation: an attempt to
// move a block from a used set (data or translation) that does not contain
// it.
var ErrNotInUsedSet = errors.New("blockpool: block not in expected used set")
