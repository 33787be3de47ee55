package slicemap

import (
	"log/slog"

	"github.com/hupe1980/slicemap/cache"
	"github.com/hupe1980/slicemap/compress"
	"github.com/hupe1980/slicemap/dedup"
	"github.com/hupe1980/slicemap/resolver"
	"github.com/hupe1980/slicemap/trie"
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger

	// Build side.
	compression compress.Mode
	geometry    trie.Geometry
	dedupIndex  dedup.Index
	publish     bool

	// Read side.
	build            string
	cache            *cache.NodeCache[*trie.Node]
	cacheCapacity    int
	maxAttempts      int
	fetchConcurrency int64
	fetchRate        int64
	blockCacheBytes  int64
	backup           resolver.Resolver
}

// Option configures NewBuilder and Open.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &slicemap.BasicMetricsCollector{}
//	ix, _ := slicemap.Open(ctx, store, "repo", slicemap.WithMetricsCollector(metrics))
//	// ... resolve ...
//	stats := metrics.GetStats()
//	fmt.Printf("Resolves: %d, fetched: %d bytes\n", stats.ResolveCount, stats.FetchBytes)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := slicemap.NewJSONLogger(slog.LevelInfo)
//	b, _ := slicemap.NewBuilder(store, "repo", slicemap.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithCompression sets the compression of written trie nodes. Readers take
// the mode from the manifest.
func WithCompression(m compress.Mode) Option {
	return func(o *options) {
		o.compression = m
	}
}

// WithGeometry sets the level layout of written tries.
func WithGeometry(g trie.Geometry) Option {
	return func(o *options) {
		o.geometry = g
	}
}

// WithDedupIndex makes the builder deduplicate nodes through idx, for
// example a dynamo.Index shared by several builders. By default a
// dedup.MemoryIndex is loaded from and saved to the blob store.
func WithDedupIndex(idx dedup.Index) Option {
	return func(o *options) {
		o.dedupIndex = idx
	}
}

// WithoutPublish keeps Build from moving the CURRENT pointer. The manifest
// is still saved and can be opened with WithBuild.
func WithoutPublish() Option {
	return func(o *options) {
		o.publish = false
	}
}

// WithBuild selects the build Open loads, or names the build a Builder
// writes. By default Open loads the current build and Build generates a
// random id.
func WithBuild(build string) Option {
	return func(o *options) {
		o.build = build
	}
}

// WithCache shares a node cache between indexes. Each index uses its own
// namespaces in it.
func WithCache(c *cache.NodeCache[*trie.Node]) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithCacheCapacity sets the number of decoded nodes a private cache holds.
// Ignored when WithCache is set.
func WithCacheCapacity(n int) Option {
	return func(o *options) {
		o.cacheCapacity = n
	}
}

// WithMaxAttempts bounds the resolve and fetch rounds of one resolve.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		o.maxAttempts = n
	}
}

// WithFetchConcurrency limits the number of blob reads in flight.
func WithFetchConcurrency(n int64) Option {
	return func(o *options) {
		o.fetchConcurrency = n
	}
}

// WithFetchRateLimit limits fetch throughput in bytes per second.
func WithFetchRateLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.fetchRate = bytesPerSec
	}
}

// WithBlockCache caches blob reads in aligned blocks, up to the given number
// of bytes. Useful in front of remote stores.
func WithBlockCache(bytes int64) Option {
	return func(o *options) {
		o.blockCacheBytes = bytes
	}
}

// WithBackupResolver sets the resolver for references the tries do not
// cover. The default is resolver.BasicResolver. Pass nil to reject them.
func WithBackupResolver(r resolver.Resolver) Option {
	return func(o *options) {
		o.backup = r
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		compression:      compress.None,
		geometry:         trie.DefaultGeometry(),
		publish:          true,
		cacheCapacity:    cache.DefaultCapacity,
		maxAttempts:      resolver.DefaultMaxAttempts,
		backup:           resolver.BasicResolver{},
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
