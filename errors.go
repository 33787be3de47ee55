package slicemap

import (
	"errors"
	"fmt"

	"github.com/hupe1980/slicemap/manifest"
	"github.com/hupe1980/slicemap/resolver"
	"github.com/hupe1980/slicemap/trie"
)

var (
	// ErrNotFound is returned when a reference does not resolve.
	ErrNotFound = resolver.ErrNotFound

	// ErrNoBuild is returned by Open when the repository has no build to
	// open.
	ErrNoBuild = errors.New("no build")

	// ErrClosed is returned by operations on a closed Index.
	ErrClosed = errors.New("index closed")

	// ErrInvalidRepo is returned for an empty repository name.
	ErrInvalidRepo = errors.New("invalid repo")
)

// ErrTrieWrite indicates that writing one of the tries of a build failed.
// Nothing of the build is published when it occurs.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrTrieWrite struct {
	Build string
	Trie  string
	cause error
}

func (e *ErrTrieWrite) Error() string {
	return fmt.Sprintf("build %s: write %s: %v", e.Build, e.Trie, e.cause)
}

func (e *ErrTrieWrite) Unwrap() error { return e.cause }

// IsKeyOrderError reports whether err is caused by build input that is not
// strictly increasing.
func IsKeyOrderError(err error) bool {
	return errors.Is(err, trie.ErrOutOfOrderKey) || errors.Is(err, trie.ErrDuplicateKey)
}

func isNotFound(err error) bool {
	return errors.Is(err, resolver.ErrNotFound)
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, manifest.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNoBuild, err)
	}
	return err
}
