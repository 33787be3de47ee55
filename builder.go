package slicemap

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/google/uuid"
	"github.com/hupe1980/slicemap/blobstore"
	"github.com/hupe1980/slicemap/dedup"
	"github.com/hupe1980/slicemap/manifest"
	"github.com/hupe1980/slicemap/model"
	"github.com/hupe1980/slicemap/trie"
	"golang.org/x/sync/errgroup"
)

// Names of the three tries of a build, as used in logs and errors.
const (
	NodeMap = "nodemap"
	SymMap  = "symmap"
	RefMap  = "refmap"
)

// NodeEntry maps a node id to the bytes of its entity.
type NodeEntry struct {
	ID       model.NodeID
	Location model.SliceLocation
}

// SymbolEntry maps a symbol id to the bytes of its entity.
type SymbolEntry struct {
	ID       model.SymID
	Location model.SliceLocation
}

// RefEntry maps a token to the bytes of its reference list.
type RefEntry struct {
	Token    model.TokenLocation
	Location model.SliceLocation
}

// BuildInput is the content of one build. Every sequence must be strictly
// increasing by key; RefEntry keys order by node id, then offset. A nil
// sequence yields an empty trie.
type BuildInput struct {
	// RootNodeID is the node id of the repository root directory.
	RootNodeID model.NodeID

	Nodes   iter.Seq[NodeEntry]
	Symbols iter.Seq[SymbolEntry]
	Refs    iter.Seq[RefEntry]
}

// BuildResult describes a finished build.
type BuildResult struct {
	Manifest *manifest.Manifest
	NodeMap  trie.Result
	SymMap   trie.Result
	RefMap   trie.Result
	Duration time.Duration
}

// Builder writes builds of one repository into a blob store.
//
// Entity blobs are written with WriteBlob and trie content with Build. A
// Builder runs one Build at a time.
type Builder struct {
	store     blobstore.Store
	repo      string
	opts      options
	logger    *Logger
	index     dedup.Index
	memIndex  *dedup.MemoryIndex
	writer    *trie.Writer
	manifests *manifest.Store

	mu sync.Mutex
}

// NewBuilder creates a Builder for repo. Without WithDedupIndex it loads the
// repository's persisted dedup index, if any.
func NewBuilder(ctx context.Context, store blobstore.Store, repo string, optFns ...Option) (*Builder, error) {
	if repo == "" {
		return nil, ErrInvalidRepo
	}
	opts := applyOptions(optFns)
	logger := opts.logger.WithRepo(repo)

	b := &Builder{
		store:     store,
		repo:      repo,
		opts:      opts,
		logger:    logger,
		index:     opts.dedupIndex,
		manifests: manifest.NewStore(store),
	}
	if b.index == nil {
		idx, err := dedup.LoadMemoryIndex(ctx, store, b.dedupPath())
		if err != nil {
			return nil, fmt.Errorf("load dedup index: %w", err)
		}
		if err := b.reserveStoredBlobs(ctx, idx); err != nil {
			return nil, fmt.Errorf("scan blobs: %w", err)
		}
		b.index = idx
		b.memIndex = idx
	}

	w, err := trie.NewWriter(blobWriter{store}, b.index, repo,
		trie.WithGeometry(opts.geometry),
		trie.WithCompression(opts.compression),
		trie.WithWriterLogger(logger.Logger),
	)
	if err != nil {
		return nil, err
	}
	b.writer = w
	return b, nil
}

// Repo returns the repository name.
func (b *Builder) Repo() string {
	return b.repo
}

func (b *Builder) dedupPath() string {
	return model.NodesPath(b.repo, dedup.DefaultIndexPath)
}

// reserveStoredBlobs moves the allocator of a loaded index past every blob of
// the repository, including blobs of builders whose index snapshot was
// never saved or was overwritten.
func (b *Builder) reserveStoredBlobs(ctx context.Context, idx *dedup.MemoryIndex) error {
	prefix := model.NodesPath(b.repo, "f/")
	names, err := b.store.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		id, err := strconv.ParseUint(strings.TrimPrefix(name, prefix), 10, 64)
		if err != nil {
			continue
		}
		idx.Reserve(model.BlobID(id))
	}
	return nil
}

// WriteBlob stores data as a new entity blob and returns its id. Locations
// of build entries point into such blobs. A blob is never replaced: ids whose
// blob already exists are skipped.
func (b *Builder) WriteBlob(ctx context.Context, data []byte) (model.BlobID, error) {
	id, err := dedup.ClaimBlobID(ctx, b.index, func(ctx context.Context, id model.BlobID) error {
		return blobstore.PutIfAbsent(ctx, b.store, model.NodesPath(b.repo, model.BlobPath(id)), data)
	})
	if err != nil {
		return 0, fmt.Errorf("write blob: %w", err)
	}
	return id, nil
}

// blobWriter adds the conditional put the trie writer claims blobs with to
// any Store.
type blobWriter struct {
	blobstore.Store
}

func (w blobWriter) PutIfAbsent(ctx context.Context, name string, data []byte) error {
	return blobstore.PutIfAbsent(ctx, w.Store, name, data)
}

// Build writes the three tries of in concurrently, then saves the manifest
// and, unless WithoutPublish was given, makes the build current. Nothing is
// published when a trie fails.
func (b *Builder) Build(ctx context.Context, in BuildInput) (*BuildResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()
	build := b.opts.build
	if build == "" {
		build = uuid.NewString()
	}
	logger := b.logger.WithBuild(build)

	res, err := b.build(ctx, logger, build, in)
	res.Duration = time.Since(start)

	entries := res.NodeMap.Entries + res.SymMap.Entries + res.RefMap.Entries
	written := res.NodeMap.BytesWritten + res.SymMap.BytesWritten + res.RefMap.BytesWritten
	reused := res.NodeMap.ReusedNodes + res.SymMap.ReusedNodes + res.RefMap.ReusedNodes
	b.opts.metricsCollector.RecordBuild(entries, written, reused, res.Duration, err)
	logger.LogBuild(ctx, build, res.Duration, err)

	if err != nil {
		return nil, err
	}
	return res, nil
}

func (b *Builder) build(ctx context.Context, logger *Logger, build string, in BuildInput) (*BuildResult, error) {
	res := &BuildResult{}

	if _, err := b.manifests.Load(ctx, b.repo, build); err == nil {
		return res, fmt.Errorf("%w: %s", manifest.ErrBuildExists, manifest.Path(b.repo, build))
	} else if !errors.Is(err, manifest.ErrNotFound) {
		return res, err
	}

	g, gctx := errgroup.WithContext(ctx)
	write := func(name string, out *trie.Result, entries iter.Seq[trie.Entry]) {
		g.Go(func() error {
			r, err := b.writer.Write(gctx, entries)
			if err != nil {
				return &ErrTrieWrite{Build: build, Trie: name, cause: err}
			}
			*out = r
			logger.LogTrieWritten(gctx, name, r)
			return nil
		})
	}
	write(NodeMap, &res.NodeMap, nodeEntries(in.Nodes))
	write(SymMap, &res.SymMap, symbolEntries(in.Symbols))
	write(RefMap, &res.RefMap, refEntries(in.Refs))
	if err := g.Wait(); err != nil {
		return res, err
	}

	// Digests of the written nodes are safe to persist: their blobs exist.
	if b.memIndex != nil {
		if err := b.memIndex.Save(ctx, b.store, b.dedupPath()); err != nil {
			return res, fmt.Errorf("save dedup index: %w", err)
		}
	}

	m := manifest.New(b.repo, build)
	m.RootNodeID = in.RootNodeID
	m.Compression = b.writer.Compression()
	m.Widths = b.writer.Geometry().Widths()
	m.NodeMap = trieInfo(res.NodeMap)
	m.SymMap = trieInfo(res.SymMap)
	m.RefMap = trieInfo(res.RefMap)
	m.Blobs = roaring64.New()
	for _, r := range []trie.Result{res.NodeMap, res.SymMap, res.RefMap} {
		m.Blobs.Or(r.NodeBlobs)
		m.Blobs.Or(r.ValueBlobs)
	}
	if err := b.manifests.Save(ctx, m); err != nil {
		return res, err
	}
	res.Manifest = m

	if b.opts.publish {
		if err := b.manifests.SetCurrent(ctx, b.repo, build); err != nil {
			return res, fmt.Errorf("publish %s: %w", build, err)
		}
	}
	return res, nil
}

func trieInfo(r trie.Result) manifest.TrieInfo {
	return manifest.TrieInfo{Root: r.Root, Entries: uint64(r.Entries)}
}

func nodeEntries(seq iter.Seq[NodeEntry]) iter.Seq[trie.Entry] {
	return func(yield func(trie.Entry) bool) {
		if seq == nil {
			return
		}
		for e := range seq {
			if !yield(trie.Entry{Key: e.ID, Location: e.Location}) {
				return
			}
		}
	}
}

func symbolEntries(seq iter.Seq[SymbolEntry]) iter.Seq[trie.Entry] {
	return func(yield func(trie.Entry) bool) {
		if seq == nil {
			return
		}
		for e := range seq {
			if !yield(trie.Entry{Key: uint64(e.ID), Location: e.Location}) {
				return
			}
		}
	}
}

func refEntries(seq iter.Seq[RefEntry]) iter.Seq[trie.Entry] {
	return func(yield func(trie.Entry) bool) {
		if seq == nil {
			return
		}
		for e := range seq {
			entry := trie.Entry{
				Key:          e.Token.NodeID,
				Secondary:    e.Token.Offset,
				HasSecondary: true,
				Location:     e.Location,
			}
			if !yield(entry) {
				return
			}
		}
	}
}
