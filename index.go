package slicemap

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hupe1980/slicemap/blobstore"
	"github.com/hupe1980/slicemap/cache"
	"github.com/hupe1980/slicemap/href"
	icache "github.com/hupe1980/slicemap/internal/cache"
	"github.com/hupe1980/slicemap/internal/resource"
	"github.com/hupe1980/slicemap/manifest"
	"github.com/hupe1980/slicemap/model"
	"github.com/hupe1980/slicemap/resolver"
	"github.com/hupe1980/slicemap/trie"
)

// Index answers references against one build of a repository. Trie nodes
// are read lazily and kept in a bounded node cache. An Index is safe for
// concurrent use.
type Index struct {
	repo       string
	manifest   *manifest.Manifest
	nodes      *cache.NodeCache[*trie.Node]
	namespaces []string
	tries      *resolver.TrieResolver
	driver     *resolver.Driver
	controller *resource.Controller
	logger     *Logger
	metrics    MetricsCollector
	closed     atomic.Bool
}

// Namespace returns the cache namespace of one trie of a build.
func Namespace(repo, build, trieName string) string {
	return repo + "/" + build + "/" + trieName[:1]
}

// Open opens the current build of repo, or the build named with WithBuild.
func Open(ctx context.Context, store blobstore.Store, repo string, optFns ...Option) (*Index, error) {
	if repo == "" {
		return nil, ErrInvalidRepo
	}
	opts := applyOptions(optFns)

	manifests := manifest.NewStore(store)
	var (
		m   *manifest.Manifest
		err error
	)
	if opts.build != "" {
		m, err = manifests.Load(ctx, repo, opts.build)
	} else {
		m, err = manifests.LoadCurrent(ctx, repo)
	}
	if err != nil {
		return nil, translateError(err)
	}
	return OpenManifest(store, m, optFns...)
}

// OpenManifest opens the build m describes.
func OpenManifest(store blobstore.Store, m *manifest.Manifest, optFns ...Option) (*Index, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil manifest", ErrNoBuild)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	opts := applyOptions(optFns)

	nodes := opts.cache
	if nodes == nil {
		nodes = cache.New[*trie.Node](opts.cacheCapacity)
	}

	controller := resource.NewController(resource.Config{
		MaxConcurrentFetches: opts.fetchConcurrency,
		FetchBytesPerSec:     opts.fetchRate,
	})
	if opts.blockCacheBytes > 0 {
		store = blobstore.NewCachingStore(store, icache.NewShardedLRUBlockCache(opts.blockCacheBytes, controller), 0)
	}

	ix := &Index{
		repo:       m.Repo,
		manifest:   m,
		nodes:      nodes,
		controller: controller,
		logger:     opts.logger.WithRepo(m.Repo).WithBuild(m.Build),
		metrics:    opts.metricsCollector,
	}

	reader := func(name string, t manifest.TrieInfo) *trie.Reader {
		ns := Namespace(m.Repo, m.Build, name)
		ix.namespaces = append(ix.namespaces, ns)
		return trie.NewReader(t.Root, nodes.Handle(ns), m.Compression)
	}
	ix.tries = resolver.NewTrieResolver(opts.backup,
		reader(NodeMap, m.NodeMap),
		reader(SymMap, m.SymMap),
		reader(RefMap, m.RefMap),
		m.RootNodeID,
	)

	ix.driver = resolver.NewDriver(ix.tries, store, m.Repo, resolver.DriverOptions{
		MaxAttempts: opts.maxAttempts,
		Controller:  controller,
		Logger:      ix.logger.Logger,
		OnFetch: func(bytes int, d time.Duration, err error) {
			ix.metrics.RecordFetch(bytes, d, err)
			ix.logger.LogFetch(context.Background(), bytes, d, err)
		},
	})
	return ix, nil
}

// Repo returns the repository name.
func (ix *Index) Repo() string {
	return ix.repo
}

// Build returns the name of the open build.
func (ix *Index) Build() string {
	return ix.manifest.Build
}

// Manifest returns the manifest of the open build. It must not be modified.
func (ix *Index) Manifest() *manifest.Manifest {
	return ix.manifest
}

// Resolver returns the non-blocking resolver of the index, for callers that
// fetch node data themselves.
func (ix *Index) Resolver() *resolver.TrieResolver {
	return ix.tries
}

// Resolve returns the location of the bytes ref points to, reading trie
// nodes from the blob store as needed. A reference that is not in the build
// yields an error matching ErrNotFound.
func (ix *Index) Resolve(ctx context.Context, ref href.Reference) (model.ConcreteLocation, error) {
	if ix.closed.Load() {
		return model.ConcreteLocation{}, ErrClosed
	}
	start := time.Now()
	loc, err := ix.driver.Resolve(ctx, ref)
	ix.record(ctx, ref, start, err)
	return loc, err
}

// ResolveText parses s and resolves it.
func (ix *Index) ResolveText(ctx context.Context, s string) (model.ConcreteLocation, error) {
	ref, err := href.Parse(s)
	if err != nil {
		return model.ConcreteLocation{}, err
	}
	return ix.Resolve(ctx, ref)
}

// Read resolves ref and returns the bytes it points to. The slice may be
// shared with concurrent readers and must not be modified.
func (ix *Index) Read(ctx context.Context, ref href.Reference) ([]byte, model.ConcreteLocation, error) {
	if ix.closed.Load() {
		return nil, model.ConcreteLocation{}, ErrClosed
	}
	start := time.Now()
	data, loc, err := ix.driver.Read(ctx, ref)
	ix.record(ctx, ref, start, err)
	return data, loc, err
}

// ResolveNode resolves a node id.
func (ix *Index) ResolveNode(ctx context.Context, id model.NodeID) (model.ConcreteLocation, error) {
	return ix.Resolve(ctx, href.Node(id))
}

// ResolveSymbol resolves a symbol id.
func (ix *Index) ResolveSymbol(ctx context.Context, id model.SymID) (model.ConcreteLocation, error) {
	return ix.Resolve(ctx, href.Symbol(id))
}

// ResolveRefs resolves the reference list of a token.
func (ix *Index) ResolveRefs(ctx context.Context, tok model.TokenLocation) (model.ConcreteLocation, error) {
	return ix.Resolve(ctx, href.Refs(tok))
}

func (ix *Index) record(ctx context.Context, ref href.Reference, start time.Time, err error) {
	ix.metrics.RecordResolve(ref.Kind, time.Since(start), err)
	ix.logger.LogResolve(ctx, ref, err)
}

// CacheStats returns the counters of the node cache. A shared cache reports
// the totals of every index using it.
func (ix *Index) CacheStats() cache.Stats {
	return ix.nodes.Stats()
}

// InFlightFetches returns the number of blob reads currently running.
func (ix *Index) InFlightFetches() int64 {
	return ix.controller.InFlight()
}

// Close drops the cached nodes of the index. Close is idempotent.
func (ix *Index) Close() error {
	if ix.closed.Swap(true) {
		return nil
	}
	for _, ns := range ix.namespaces {
		ix.nodes.Purge(ns)
	}
	return nil
}
