package config

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// Accessor is a single shared object holding the parsed config and exposing
// an atomically hot-swappable immutable snapshot. Readers that call Access
// get a stable pointer that remains valid even if Reload runs concurrently;
// Reload never mutates a published Snapshot in place, it only swaps the
// pointer.
type Accessor struct {
	path string
	ptr  atomic.Pointer[Snapshot]
}

// NewAccessor parses path and returns an Accessor seeded with the result.
func NewAccessor(path string) (*Accessor, error) {
	snap, err := Parse(path)
	if err != nil {
		return nil, err
	}
	a := &Accessor{path: path}
	a.ptr.Store(snap)
	return a, nil
}

// Access returns the currently published snapshot. The returned pointer is
// safe to hold for the lifetime of an in-flight request; it will not be
// mutated or invalidated by a subsequent Reload.
func (a *Accessor) Access() *Snapshot {
	return a.ptr.Load()
}

// Reload re-parses the config file and atomically publishes the result. On
// parse failure the previous snapshot remains published and the error is
// returned so the caller can log it; the server keeps running on the old
// snapshot rather than falling over on a bad reload.
func (a *Accessor) Reload() error {
	snap, err := Parse(a.path)
	if err != nil {
		return errors.Wrap(err, "reload config")
	}
	a.ptr.Store(snap)
	return nil
}
