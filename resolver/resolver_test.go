package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/slicemap/blobstore"
	"github.com/hupe1980/slicemap/cache"
	"github.com/hupe1980/slicemap/compress"
	"github.com/hupe1980/slicemap/dedup"
	"github.com/hupe1980/slicemap/href"
	"github.com/hupe1980/slicemap/model"
	"github.com/hupe1980/slicemap/trie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	testRepo    = "repo"
	entityBlob  = model.BlobID(100)
	rootNodeID  = model.NodeID(1)
	entityBytes = "rootalphabetagammadelta"
)

// entity ranges inside entityBlob.
var (
	rootLoc  = model.SliceLocation{BlobID: entityBlob, Start: 0, End: 4}
	alphaLoc = model.SliceLocation{BlobID: entityBlob, Start: 4, End: 9}
	betaLoc  = model.SliceLocation{BlobID: entityBlob, Start: 9, End: 13}
	gammaLoc = model.SliceLocation{BlobID: entityBlob, Start: 13, End: 18}
	deltaLoc = model.SliceLocation{BlobID: entityBlob, Start: 18, End: 23}
)

type fixture struct {
	store *blobstore.MemoryStore
	roots [3]model.SliceLocation
}

func newFixture(t *testing.T, mode compress.Mode) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: blobstore.NewMemoryStore()}
	require.NoError(t, f.store.Put(ctx, model.NodesPath(testRepo, model.BlobPath(entityBlob)), []byte(entityBytes)))

	w, err := trie.NewWriter(f.store, dedup.NewMemoryIndex(), testRepo, trie.WithCompression(mode))
	require.NoError(t, err)

	nodes, err := w.WriteSlice(ctx, []trie.Entry{
		{Key: rootNodeID, Location: rootLoc},
		{Key: 2, Location: alphaLoc},
		{Key: 1000123, Location: betaLoc},
		{Key: 92834934, Location: gammaLoc},
	})
	require.NoError(t, err)

	syms, err := w.WriteSlice(ctx, []trie.Entry{
		{Key: 7, Location: betaLoc},
		{Key: 1 << 40, Location: gammaLoc},
	})
	require.NoError(t, err)

	refs, err := w.WriteSlice(ctx, []trie.Entry{
		{Key: 2, Secondary: 3, HasSecondary: true, Location: betaLoc},
		{Key: 2, Secondary: 9, HasSecondary: true, Location: deltaLoc},
		{Key: 5, Secondary: 0, HasSecondary: true, Location: gammaLoc},
	})
	require.NoError(t, err)

	f.roots = [3]model.SliceLocation{nodes.Root, syms.Root, refs.Root}
	return f
}

func (f *fixture) resolver(nodes *cache.NodeCache[*trie.Node], mode compress.Mode, backup Resolver) *TrieResolver {
	return NewTrieResolver(backup,
		trie.NewReader(f.roots[0], nodes.Handle("repo/b/n"), mode),
		trie.NewReader(f.roots[1], nodes.Handle("repo/b/s"), mode),
		trie.NewReader(f.roots[2], nodes.Handle("repo/b/r"), mode),
		rootNodeID,
	)
}

func TestDriver_ResolvesEveryKind(t *testing.T) {
	for _, mode := range []compress.Mode{compress.None, compress.Zstd} {
		t.Run(mode.String(), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, mode)
			r := f.resolver(cache.New[*trie.Node](cache.DefaultCapacity), mode, BasicResolver{})
			d := NewDriver(r, f.store, testRepo, DefaultDriverOptions())

			tests := []struct {
				ref  href.Reference
				want model.ConcreteLocation
			}{
				{href.Node(2), model.LocationOf(alphaLoc)},
				{href.Node(92834934), model.LocationOf(gammaLoc)},
				{href.Node(1000123), model.LocationOf(betaLoc)},
				{href.Symbol(7), model.LocationOf(betaLoc)},
				{href.Symbol(1 << 40), model.LocationOf(gammaLoc)},
				{href.Refs(model.TokenLocation{NodeID: 2, Offset: 9}), model.LocationOf(deltaLoc)},
				{href.Refs(model.TokenLocation{NodeID: 2, Offset: 3}), model.LocationOf(betaLoc)},
				{href.Path(""), model.LocationOf(rootLoc)},
				{href.Slice(alphaLoc), model.LocationOf(alphaLoc)},
				{href.Direct(42), model.ConcreteLocation{Path: "id:42"}},
			}
			for _, tt := range tests {
				got, err := d.Resolve(ctx, tt.ref)
				require.NoError(t, err, tt.ref.String())
				assert.True(t, tt.want.Equal(got), "%s: want %s, got %s", tt.ref, tt.want, got)
			}

			for _, ref := range []href.Reference{
				href.Node(4),
				href.Symbol(8),
				href.Refs(model.TokenLocation{NodeID: 2, Offset: 4}),
				href.Refs(model.TokenLocation{NodeID: 3, Offset: 3}),
			} {
				_, err := d.Resolve(ctx, ref)
				assert.ErrorIs(t, err, ErrNotFound, ref.String())

				var re *ResolveError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, ref, re.Ref)
			}
		})
	}
}

func TestDriver_Read(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, compress.None)
	d := NewDriver(f.resolver(cache.New[*trie.Node](64), compress.None, nil), f.store, testRepo, DefaultDriverOptions())

	data, loc, err := d.Read(ctx, href.Node(1000123))
	require.NoError(t, err)
	assert.Equal(t, "beta", string(data))
	assert.Equal(t, "f/100", loc.Path)

	data, _, err = d.Read(ctx, href.Path(""))
	require.NoError(t, err)
	assert.Equal(t, "root", string(data))

	loc, err = d.ResolveText(ctx, "refs:2/9")
	require.NoError(t, err)
	assert.True(t, model.LocationOf(deltaLoc).Equal(loc))

	_, err = d.ResolveText(ctx, "bogus:1")
	assert.ErrorIs(t, err, ErrBadReference)
}

func TestTrieResolver_StateMachine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, compress.None)
	r := f.resolver(cache.New[*trie.Node](64), compress.None, nil)

	var needs []model.SliceLocation
	for {
		res, err := r.Resolve(href.Node(92834934))
		require.NoError(t, err)
		if res.Status != StatusNeedData {
			require.Equal(t, StatusResolved, res.Status)
			assert.True(t, model.LocationOf(gammaLoc).Equal(res.Location))
			break
		}
		require.NotNil(t, res.Need)
		require.Less(t, len(needs), 8, "resolution does not converge")
		needs = append(needs, res.Need.Slice)

		data, err := blobstore.ReadRange(ctx, f.store, model.NodesPath(testRepo, res.Need.Location.Path),
			res.Need.Slice.Start, res.Need.Slice.End)
		require.NoError(t, err)
		require.NoError(t, res.Need.Supply(data))
		// Supplying twice is harmless.
		require.NoError(t, res.Need.Supply(data))
	}

	// One node per level of the default geometry, root first.
	require.Len(t, needs, 4)
	assert.Equal(t, f.roots[0], needs[0])

	// Everything on the path is cached now.
	res, err := r.Resolve(href.Node(92834934))
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, res.Status)
}

func TestTrieResolver_AbandonedNeed(t *testing.T) {
	f := newFixture(t, compress.None)
	r := f.resolver(cache.New[*trie.Node](64), compress.None, nil)

	first, err := r.Resolve(href.Node(2))
	require.NoError(t, err)
	require.Equal(t, StatusNeedData, first.Status)

	// Resolving again without supplying yields the same request.
	again, err := r.Resolve(href.Node(2))
	require.NoError(t, err)
	require.Equal(t, StatusNeedData, again.Status)
	assert.Equal(t, first.Need.Slice, again.Need.Slice)
}

func TestTrieResolver_Backup(t *testing.T) {
	f := newFixture(t, compress.None)

	withBackup := f.resolver(cache.New[*trie.Node](64), compress.None, BasicResolver{})
	res, err := withBackup.Resolve(href.Direct(7))
	require.NoError(t, err)
	assert.Equal(t, "id:7", res.Location.Path)

	_, err = withBackup.Resolve(href.Path("src/main.go"))
	assert.ErrorIs(t, err, ErrUnsupportedReference)

	noBackup := f.resolver(cache.New[*trie.Node](64), compress.None, nil)
	_, err = noBackup.Resolve(href.Slice(alphaLoc))
	assert.ErrorIs(t, err, ErrUnsupportedReference)

	var re *ResolveError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, href.KindSlice, re.Ref.Kind)
}

func TestDriver_BoundedRetry(t *testing.T) {
	f := newFixture(t, compress.None)
	// A single-entry cache evicts the parent while the child is fetched, so
	// the lookup never gets past the second level.
	nodes := cache.New[*trie.Node](1)
	d := NewDriver(f.resolver(nodes, compress.None, nil), f.store, testRepo, DriverOptions{MaxAttempts: 6})

	_, err := d.Resolve(context.Background(), href.Node(2))
	assert.ErrorIs(t, err, ErrRetryBudgetExceeded)
	assert.Equal(t, 1, nodes.Len())
}

func TestDriver_MissingBlob(t *testing.T) {
	f := newFixture(t, compress.None)
	d := NewDriver(f.resolver(cache.New[*trie.Node](64), compress.None, nil),
		blobstore.NewMemoryStore(), testRepo, DefaultDriverOptions())

	_, err := d.Resolve(context.Background(), href.Node(2))
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestDriver_CorruptNode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, compress.None)

	// Replace the node blob with garbage of the same size.
	name := model.NodesPath(testRepo, f.roots[0].BlobPath())
	orig, err := blobstore.ReadAll(ctx, f.store, name)
	require.NoError(t, err)
	garbage := make([]byte, len(orig))
	for i := range garbage {
		garbage[i] = 0xff
	}
	require.NoError(t, f.store.Put(ctx, name, garbage))

	d := NewDriver(f.resolver(cache.New[*trie.Node](64), compress.None, nil), f.store, testRepo, DefaultDriverOptions())
	_, err = d.Resolve(ctx, href.Node(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, trie.ErrCorruptNode)
}

func TestDriver_ContextCanceled(t *testing.T) {
	f := newFixture(t, compress.None)
	d := NewDriver(f.resolver(cache.New[*trie.Node](64), compress.None, nil), f.store, testRepo, DefaultDriverOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Resolve(ctx, href.Node(2))
	assert.ErrorIs(t, err, context.Canceled)
}

type countingStore struct {
	blobstore.Store
	opens atomic.Int64
}

func (c *countingStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	c.opens.Add(1)
	return c.Store.Open(ctx, name)
}

func TestDriver_Concurrent(t *testing.T) {
	f := newFixture(t, compress.None)
	store := &countingStore{Store: f.store}

	var fetched atomic.Int64
	opts := DefaultDriverOptions()
	opts.OnFetch = func(n int, _ time.Duration, err error) {
		if err == nil {
			fetched.Add(int64(n))
		}
	}
	d := NewDriver(f.resolver(cache.New[*trie.Node](64), compress.None, nil), store, testRepo, opts)

	keys := []model.NodeID{rootNodeID, 2, 1000123, 92834934}
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Resolve(context.Background(), href.Node(keys[i%len(keys)]))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Positive(t, store.opens.Load())
	assert.Positive(t, fetched.Load())
}

// gatedStore blocks every Open until the gate is closed.
type gatedStore struct {
	blobstore.Store
	opened chan struct{}
	gate   chan struct{}
	once   sync.Once
}

func (g *gatedStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	g.once.Do(func() { close(g.opened) })
	select {
	case <-g.gate:
		return g.Store.Open(ctx, name)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestDriver_SharedFetchSurvivesCanceledCaller(t *testing.T) {
	f := newFixture(t, compress.None)
	store := &gatedStore{Store: f.store, opened: make(chan struct{}), gate: make(chan struct{})}
	d := NewDriver(f.resolver(cache.New[*trie.Node](64), compress.None, nil), store, testRepo, DefaultDriverOptions())
	loc := model.LocationOf(betaLoc)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := d.Fetch(ctxA, loc)
		errA <- err
	}()
	<-store.opened

	type result struct {
		data []byte
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		data, err := d.Fetch(context.Background(), loc)
		resB <- result{data, err}
	}()

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	// Let the second caller join the pending read before it completes.
	time.Sleep(20 * time.Millisecond)
	close(store.gate)

	r := <-resB
	require.NoError(t, r.err)
	assert.Equal(t, "beta", string(r.data))
}

func TestDriver_FetchTimeout(t *testing.T) {
	f := newFixture(t, compress.None)
	store := &gatedStore{Store: f.store, opened: make(chan struct{}), gate: make(chan struct{})}
	opts := DefaultDriverOptions()
	opts.FetchTimeout = 10 * time.Millisecond
	d := NewDriver(f.resolver(cache.New[*trie.Node](64), compress.None, nil), store, testRepo, opts)

	_, err := d.Fetch(context.Background(), model.LocationOf(betaLoc))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBasicResolver(t *testing.T) {
	var r BasicResolver

	res, err := r.Resolve(href.Direct(12))
	require.NoError(t, err)
	assert.Equal(t, Resolved(model.ConcreteLocation{Path: "id:12"}), res)

	res, err = ResolveText(r, "slice:f/6[7:8]")
	require.NoError(t, err)
	assert.True(t, model.LocationOf(model.SliceLocation{BlobID: 6, Start: 7, End: 8}).Equal(res.Location))

	for _, ref := range []href.Reference{href.Node(1), href.Symbol(1), href.Path(""), href.Refs(model.TokenLocation{})} {
		_, err := r.Resolve(ref)
		assert.ErrorIs(t, err, ErrUnsupportedReference, ref.String())
	}

	_, err = ResolveText(r, "slice:f/6[7:")
	assert.ErrorIs(t, err, ErrBadReference)
}

// appendRecord appends a length-delimited entity message with the given node
// id and an opaque payload field.
func appendRecord(b []byte, id model.NodeID, payload string) []byte {
	var msg []byte
	msg = protowire.AppendTag(msg, 2, protowire.BytesType)
	msg = protowire.AppendString(msg, payload)
	msg = protowire.AppendTag(msg, 1, protowire.VarintType)
	msg = protowire.AppendVarint(msg, id)
	b = protowire.AppendVarint(b, uint64(len(msg)))
	return append(b, msg...)
}

func TestSingleBlobResolver(t *testing.T) {
	var blob []byte
	blob = appendRecord(blob, 5, "five")
	second := len(blob)
	blob = appendRecord(blob, 300, "three hundred")

	r, err := ReadBlob(blob)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	res, err := r.Resolve(href.Node(300))
	require.NoError(t, err)
	require.Equal(t, StatusResolved, res.Status)
	assert.Equal(t, "f/0", res.Location.Path)
	require.NotNil(t, res.Location.BlobBytes)
	// The range excludes the one-byte length prefix.
	assert.Equal(t, uint64(second+1), res.Location.BlobBytes.Start)
	assert.Equal(t, uint64(len(blob)), res.Location.BlobBytes.End)

	res, err = r.Resolve(href.Node(6))
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, res.Status)

	_, err = r.Resolve(href.Symbol(5))
	assert.ErrorIs(t, err, ErrUnsupportedReference)

	empty, err := ReadBlob(nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}

func TestReadBlob_Malformed(t *testing.T) {
	valid := appendRecord(nil, 1, "x")

	tests := map[string][]byte{
		"overrun":    valid[:len(valid)-1],
		"bad length": {0xff},
		"bad field":  {0x02, 0x08, 0xff},
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadBlob(data)
			assert.ErrorIs(t, err, ErrMalformedBlob)
		})
	}
}

func TestResolveError(t *testing.T) {
	inner := errors.New("boom")
	err := wrap(href.Node(3), inner)
	assert.EqualError(t, err, "resolve id:3: boom")
	assert.ErrorIs(t, err, inner)

	// Wrapping twice keeps the innermost reference.
	assert.Same(t, err, wrap(href.Node(4), err))
	assert.NoError(t, wrap(href.Node(3), nil))
}
