// Package resolver maps references to the concrete locations of their
// content.
//
// Resolution is an explicit state machine. Resolve never performs I/O: when
// it needs a trie node that is not cached it returns a Result with
// StatusNeedData and a Need describing the bytes to fetch. The caller fetches
// them however it likes, hands them to Need.Supply and calls Resolve again.
// Driver implements that loop on top of a blobstore.Store.
package resolver

import (
	"errors"
	"fmt"

	"github.com/hupe1980/slicemap/href"
	"github.com/hupe1980/slicemap/model"
	"github.com/hupe1980/slicemap/trie"
)

var (
	// ErrNotFound is returned by Driver when a reference does not resolve.
	ErrNotFound = errors.New("resolver: not found")

	// ErrBadReference is returned for malformed reference text.
	ErrBadReference = href.ErrBadReference

	// ErrUnsupportedReference is returned when a resolver does not handle the
	// kind of reference it was given.
	ErrUnsupportedReference = errors.New("resolver: unsupported reference")

	// ErrRetryBudgetExceeded is returned when resolution keeps asking for
	// data after the configured number of attempts. It points at a corrupt
	// index or at a cache too small to hold one lookup path.
	ErrRetryBudgetExceeded = errors.New("resolver: retry budget exceeded")
)

// ResolveError wraps a resolution failure with the reference being resolved.
type ResolveError struct {
	Ref href.Reference
	Err error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Ref, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

func wrap(ref href.Reference, err error) error {
	if err == nil {
		return nil
	}
	var re *ResolveError
	if errors.As(err, &re) {
		return err
	}
	return &ResolveError{Ref: ref, Err: err}
}

// Status is the state of a resolution step.
type Status uint8

const (
	// StatusResolved means Result.Location is the answer.
	StatusResolved Status = iota + 1
	// StatusNotFound means the reference does not resolve.
	StatusNotFound
	// StatusNeedData means Result.Need must be satisfied before resolving
	// again.
	StatusNeedData
)

func (s Status) String() string {
	switch s {
	case StatusResolved:
		return "resolved"
	case StatusNotFound:
		return "not_found"
	case StatusNeedData:
		return "need_data"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Result is the outcome of one Resolve call.
type Result struct {
	Status   Status
	Location model.ConcreteLocation
	Need     *Need
}

// Resolved returns a resolved result.
func Resolved(loc model.ConcreteLocation) Result {
	return Result{Status: StatusResolved, Location: loc}
}

// NotFound returns a not-found result.
func NotFound() Result {
	return Result{Status: StatusNotFound}
}

// Need describes trie node bytes a resolver is waiting for.
type Need struct {
	// Location is where the node bytes are stored.
	Location model.ConcreteLocation
	// Slice is the same location in slice form.
	Slice model.SliceLocation

	reader *trie.Reader
}

// Supply hands the fetched bytes to the reader that asked for them. Supplying
// a Need more than once is harmless. Abandoning a Need leaks nothing.
func (n *Need) Supply(data []byte) error {
	if n == nil || n.reader == nil {
		return errors.New("resolver: supply on empty need")
	}
	return n.reader.NodeDataAvailable(n.Slice, data)
}

// Resolver resolves references. Implementations must be safe for concurrent
// use.
type Resolver interface {
	// Resolve performs one resolution step. Errors are reserved for bad or
	// unsupported references and for corrupt data; a missing key is
	// StatusNotFound.
	Resolve(ref href.Reference) (Result, error)
}

// ResolveText parses s and resolves the reference.
func ResolveText(r Resolver, s string) (Result, error) {
	ref, err := href.Parse(s)
	if err != nil {
		return Result{}, err
	}
	return r.Resolve(ref)
}
