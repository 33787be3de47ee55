package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hupe1980/slicemap/blobstore"
	"github.com/hupe1980/slicemap/href"
	"github.com/hupe1980/slicemap/internal/resource"
	"github.com/hupe1980/slicemap/model"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxAttempts bounds the resolve, fetch and retry loop of a Driver.
// A four level trie needs five attempts on a cold cache. The bound is a
// heuristic for detecting cache thrash or corrupt data, not a correctness
// limit.
const DefaultMaxAttempts = 10

// DefaultFetchTimeout bounds a single blob read shared by concurrent callers.
const DefaultFetchTimeout = 30 * time.Second

// FetchObserver is called after every blob fetch.
type FetchObserver func(bytes int, d time.Duration, err error)

// DriverOptions configures a Driver.
type DriverOptions struct {
	// MaxAttempts is the number of Resolve calls allowed per reference.
	MaxAttempts int
	// FetchTimeout bounds one blob read. A read shared by several callers
	// outlives the cancellation of any one of them, up to this timeout.
	FetchTimeout time.Duration
	// Controller limits fetch concurrency and throughput. Nil means no limit.
	Controller *resource.Controller
	// Logger receives debug output. Nil discards it.
	Logger *slog.Logger
	// OnFetch, if set, observes every fetch.
	OnFetch FetchObserver
}

// DefaultDriverOptions returns the default options.
func DefaultDriverOptions() DriverOptions {
	return DriverOptions{MaxAttempts: DefaultMaxAttempts, FetchTimeout: DefaultFetchTimeout}
}

// Driver resolves references to completion by fetching the node bytes a
// Resolver asks for from a blob store. Paths of a ConcreteLocation are
// relative to "nodes/{repo}/".
//
// Concurrent fetches of the same byte range share one read. Each caller
// waits for it under its own context.
type Driver struct {
	resolver Resolver
	store    blobstore.Store
	repo     string
	opts     DriverOptions
	logger   *slog.Logger
	fetches  singleflight.Group
}

// NewDriver returns a Driver.
func NewDriver(r Resolver, store blobstore.Store, repo string, opts DriverOptions) *Driver {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Driver{
		resolver: r,
		store:    store,
		repo:     repo,
		opts:     opts,
		logger:   logger,
	}
}

// Resolver returns the underlying resolver.
func (d *Driver) Resolver() Resolver {
	return d.resolver
}

// Resolve resolves ref, fetching missing trie nodes as needed. A reference
// that does not resolve yields an error matching ErrNotFound.
func (d *Driver) Resolve(ctx context.Context, ref href.Reference) (model.ConcreteLocation, error) {
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return model.ConcreteLocation{}, wrap(ref, err)
		}

		res, err := d.resolver.Resolve(ref)
		if err != nil {
			return model.ConcreteLocation{}, wrap(ref, err)
		}

		switch res.Status {
		case StatusResolved:
			return res.Location, nil
		case StatusNotFound:
			return model.ConcreteLocation{}, wrap(ref, ErrNotFound)
		case StatusNeedData:
			data, err := d.fetch(ctx, res.Need.Location)
			if err != nil {
				return model.ConcreteLocation{}, wrap(ref, err)
			}
			if err := res.Need.Supply(data); err != nil {
				return model.ConcreteLocation{}, wrap(ref, err)
			}
			d.logger.Debug("fetched trie node",
				slog.String("ref", ref.String()),
				slog.String("node", res.Need.Location.String()),
				slog.Int("attempt", attempt))
		default:
			return model.ConcreteLocation{}, wrap(ref, fmt.Errorf("resolver: invalid status %s", res.Status))
		}
	}
	return model.ConcreteLocation{}, wrap(ref, fmt.Errorf("%w: %d attempts", ErrRetryBudgetExceeded, d.opts.MaxAttempts))
}

// ResolveText parses s and resolves it.
func (d *Driver) ResolveText(ctx context.Context, s string) (model.ConcreteLocation, error) {
	ref, err := href.Parse(s)
	if err != nil {
		return model.ConcreteLocation{}, err
	}
	return d.Resolve(ctx, ref)
}

// Read resolves ref and returns the bytes it points to. The slice may be
// shared with concurrent readers of the same range and must not be modified.
func (d *Driver) Read(ctx context.Context, ref href.Reference) ([]byte, model.ConcreteLocation, error) {
	loc, err := d.Resolve(ctx, ref)
	if err != nil {
		return nil, loc, err
	}
	data, err := d.fetch(ctx, loc)
	if err != nil {
		return nil, loc, wrap(ref, err)
	}
	return data, loc, nil
}

// Fetch returns the bytes at loc.
func (d *Driver) Fetch(ctx context.Context, loc model.ConcreteLocation) ([]byte, error) {
	return d.fetch(ctx, loc)
}

func (d *Driver) fetch(ctx context.Context, loc model.ConcreteLocation) ([]byte, error) {
	name := model.NodesPath(d.repo, loc.Path)
	key := name
	var expect int64
	if loc.BlobBytes != nil {
		if loc.BlobBytes.End < loc.BlobBytes.Start {
			return nil, fmt.Errorf("%w: %s", blobstore.ErrOutOfRange, loc)
		}
		key = fmt.Sprintf("%s[%d:%d]", name, loc.BlobBytes.Start, loc.BlobBytes.End)
		expect = int64(loc.BlobBytes.End - loc.BlobBytes.Start)
	}

	ch := d.fetches.DoChan(key, func() (any, error) {
		// The read serves every waiter, so no single caller may cancel it.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.FetchTimeout)
		defer cancel()

		start := time.Now()
		var data []byte
		err := d.opts.Controller.Fetch(ctx, expect, func(ctx context.Context) error {
			var err error
			if loc.BlobBytes != nil {
				data, err = blobstore.ReadRange(ctx, d.store, name, loc.BlobBytes.Start, loc.BlobBytes.End)
			} else {
				data, err = blobstore.ReadAll(ctx, d.store, name)
			}
			return err
		})
		if d.opts.OnFetch != nil {
			d.opts.OnFetch(len(data), time.Since(start), err)
		}
		return data, err
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch %s: %w", key, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, fmt.Errorf("fetch %s: %w", key, r.Err)
		}
		return r.Val.([]byte), nil
	}
}
