package manifest

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/slicemap/compress"
	"github.com/hupe1980/slicemap/model"
)

const (
	// CurrentFileName is the name of the pointer to the active build.
	CurrentFileName = "CURRENT"
	// CurrentVersion is the version of the manifest format.
	CurrentVersion = 1
)

// TrieInfo describes one trie of a build.
type TrieInfo struct {
	// Root is the location of the root node.
	Root model.SliceLocation
	// Entries is the number of keys in the trie.
	Entries uint64
}

// Manifest describes one build of a repository.
type Manifest struct {
	Version   int
	Repo      string
	Build     string
	CreatedAt time.Time

	// RootNodeID is the node id of the repository root directory.
	RootNodeID model.NodeID

	// Compression is applied to every node of the three tries.
	Compression compress.Mode
	// Widths are the trie level widths, lowest level first.
	Widths []uint32

	NodeMap TrieInfo
	SymMap  TrieInfo
	RefMap  TrieInfo

	// Blobs holds every blob id the build references: node blobs of the
	// three tries, reused ones included, and the entity blobs their entries
	// point at.
	Blobs *roaring64.Bitmap
}

// New creates an empty manifest for build of repo.
func New(repo, build string) *Manifest {
	return &Manifest{
		Version:   CurrentVersion,
		Repo:      repo,
		Build:     build,
		CreatedAt: time.Now(),
		Blobs:     roaring64.New(),
	}
}

// Validate checks the names and the root locations.
func (m *Manifest) Validate() error {
	if err := validateRepo(m.Repo); err != nil {
		return err
	}
	if err := validateBuild(m.Build); err != nil {
		return err
	}
	for name, t := range map[string]TrieInfo{"nodemap": m.NodeMap, "symmap": m.SymMap, "refmap": m.RefMap} {
		if t.Root.End < t.Root.Start {
			return fmt.Errorf("manifest: %s root %s: inverted range", name, t.Root)
		}
	}
	return nil
}

// Equal reports whether two manifests describe the same build.
func (m *Manifest) Equal(o *Manifest) bool {
	if m.Repo != o.Repo || m.Build != o.Build || !m.CreatedAt.Equal(o.CreatedAt) {
		return false
	}
	if m.RootNodeID != o.RootNodeID || m.Compression != o.Compression || !slices.Equal(m.Widths, o.Widths) {
		return false
	}
	if m.NodeMap != o.NodeMap || m.SymMap != o.SymMap || m.RefMap != o.RefMap {
		return false
	}
	switch {
	case m.Blobs == nil || o.Blobs == nil:
		return (m.Blobs == nil || m.Blobs.IsEmpty()) && (o.Blobs == nil || o.Blobs.IsEmpty())
	default:
		return m.Blobs.Equals(o.Blobs)
	}
}

func validateRepo(repo string) error {
	if repo == "" || strings.HasPrefix(repo, "/") || strings.HasSuffix(repo, "/") {
		return fmt.Errorf("%w: repo %q", ErrInvalidName, repo)
	}
	for _, part := range strings.Split(repo, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: repo %q", ErrInvalidName, repo)
		}
	}
	return nil
}

func validateBuild(build string) error {
	if build == "" || build == CurrentFileName || build == "." || build == ".." || strings.Contains(build, "/") {
		return fmt.Errorf("%w: build %q", ErrInvalidName, build)
	}
	return nil
}
