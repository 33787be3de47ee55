package trie

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/slicemap/compress"
	"github.com/hupe1980/slicemap/dedup"
	"github.com/hupe1980/slicemap/internal/hash"
	"github.com/hupe1980/slicemap/model"
)

// BlobWriter stores trie blobs. PutIfAbsent must fail with an error matching
// blobstore.ErrExists when the blob already exists.
type BlobWriter interface {
	Put(ctx context.Context, name string, data []byte) error
	PutIfAbsent(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) error
}

// Entry is one key of a trie and the location of its value.
//
// Tries with secondary keys (the references map) set HasSecondary on every
// entry; several entries may then share Key as long as Secondary increases.
type Entry struct {
	Key          uint64
	Secondary    model.Offset
	HasSecondary bool
	Location     model.SliceLocation
}

// Result describes a finished trie.
type Result struct {
	// Root is the location of the root node.
	Root model.SliceLocation
	// BlobID is the blob the new nodes were appended to. Zero when every
	// node was reused and no blob was written.
	BlobID model.BlobID
	// Entries is the number of entries written.
	Entries int
	// Nodes is the number of nodes in the trie, reused ones included.
	Nodes int
	// ReusedNodes is the number of nodes found in the dedup index.
	ReusedNodes int
	// BytesWritten is the size of the written blob.
	BytesWritten int
	// Duration is the wall time of the write.
	Duration time.Duration
	// NodeBlobs holds the ids of every blob a node of the trie lives in,
	// reused nodes included.
	NodeBlobs *roaring64.Bitmap
	// ValueBlobs holds the blob ids of the entry locations.
	ValueBlobs *roaring64.Bitmap
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithGeometry sets the level layout of written tries.
func WithGeometry(g Geometry) WriterOption {
	return func(w *Writer) {
		w.geometry = g
	}
}

// WithCompression sets the compression applied to every written node.
func WithCompression(m compress.Mode) WriterOption {
	return func(w *Writer) {
		w.compression = m
	}
}

// WithWriterLogger sets the logger.
func WithWriterLogger(l *slog.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = l
	}
}

// Writer builds tries into a blob store. A Writer is safe for concurrent use;
// each Write call builds an independent trie.
type Writer struct {
	store       BlobWriter
	index       dedup.Index
	repo        string
	geometry    Geometry
	compression compress.Mode
	logger      *slog.Logger
}

// NewWriter creates a Writer that appends nodes of repo to store and
// deduplicates them through index.
func NewWriter(store BlobWriter, index dedup.Index, repo string, opts ...WriterOption) (*Writer, error) {
	w := &Writer{
		store:       store,
		index:       index,
		repo:        repo,
		geometry:    DefaultGeometry(),
		compression: compress.None,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(w)
	}
	if !w.geometry.Valid() {
		return nil, fmt.Errorf("%w: zero geometry", ErrInvalidGeometry)
	}
	return w, nil
}

// Geometry returns the geometry of written tries.
func (w *Writer) Geometry() Geometry {
	return w.geometry
}

// Compression returns the compression of written nodes.
func (w *Writer) Compression() compress.Mode {
	return w.compression
}

// Write builds a trie from entries, which must be strictly increasing by
// (Key, Secondary). Nothing is written and the dedup index is left untouched
// when Write returns an error.
//
// The blob of a trie is claimed empty with PutIfAbsent when its first node is
// appended and filled once the trie is complete, so a blob id is never
// written by two writers.
func (w *Writer) Write(ctx context.Context, entries iter.Seq[Entry]) (Result, error) {
	b := &build{
		w:          w,
		ctx:        ctx,
		levels:     make([][]Branch, w.geometry.Levels()),
		pending:    make(map[hash.Digest]model.SliceLocation),
		nodeBlobs:  roaring64.New(),
		valueBlobs: roaring64.New(),
	}
	res, err := b.run(entries)
	if err != nil && b.claimed && !b.written {
		if derr := w.store.Delete(context.WithoutCancel(ctx), w.blobName(b.blobID)); derr != nil {
			w.logger.Warn("trie: release claimed blob", "repo", w.repo, "blob", b.blobID, "error", derr)
		}
	}
	return res, err
}

func (w *Writer) blobName(id model.BlobID) string {
	return model.NodesPath(w.repo, model.BlobPath(id))
}

func (b *build) run(entries iter.Seq[Entry]) (Result, error) {
	w, ctx := b.w, b.ctx
	start := time.Now()

	for e := range entries {
		if err := b.add(e); err != nil {
			return Result{}, err
		}
	}
	root, err := b.finish()
	if err != nil {
		return Result{}, err
	}

	if b.claimed {
		if err := w.store.Put(ctx, w.blobName(b.blobID), b.buf); err != nil {
			return Result{}, fmt.Errorf("trie: write blob %d: %w", b.blobID, err)
		}
		b.written = true
		// Publish digests only once the bytes they point at exist.
		for _, d := range b.order {
			if _, _, err := w.index.LookupOrInsert(ctx, d, b.pending[d]); err != nil {
				return Result{}, fmt.Errorf("trie: record digest: %w", err)
			}
		}
	}

	res := Result{
		Root:         root,
		BlobID:       b.blobID,
		Entries:      b.entries,
		Nodes:        b.nodes,
		ReusedNodes:  b.reused,
		BytesWritten: len(b.buf),
		Duration:     time.Since(start),
		NodeBlobs:    b.nodeBlobs,
		ValueBlobs:   b.valueBlobs,
	}
	w.logger.Debug("trie written",
		"repo", w.repo,
		"root", root.String(),
		"entries", res.Entries,
		"nodes", res.Nodes,
		"reused", res.ReusedNodes,
		"bytes", res.BytesWritten,
	)
	return res, nil
}

// WriteSlice is Write over a slice.
func (w *Writer) WriteSlice(ctx context.Context, entries []Entry) (Result, error) {
	return w.Write(ctx, func(yield func(Entry) bool) {
		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	})
}

// build is the state of one Write call.
type build struct {
	w   *Writer
	ctx context.Context

	// levels[l] collects the branches of the open node at level l.
	levels [][]Branch

	prev    Entry
	hasPrev bool

	blobID  model.BlobID
	claimed bool
	written bool
	buf     []byte
	pending map[hash.Digest]model.SliceLocation
	order   []hash.Digest

	nodeBlobs  *roaring64.Bitmap
	valueBlobs *roaring64.Bitmap

	entries int
	nodes   int
	reused  int
}

func (b *build) add(e Entry) error {
	g := b.w.geometry
	if b.hasPrev {
		if err := checkOrder(b.prev, e); err != nil {
			return err
		}
		// Close every open node below the highest level where the keys differ.
		if level := highestDifferingLevel(g, b.prev.Key^e.Key); level > 0 {
			br, err := b.closeSubtree(level - 1)
			if err != nil {
				return err
			}
			b.levels[level] = append(b.levels[level], br)
		}
	}

	loc := e.Location
	b.valueBlobs.Add(uint64(loc.BlobID))
	leaf := Branch{Prefix: g.Prefix(e.Key, 0), Location: &loc}
	if e.HasSecondary {
		off := e.Secondary
		leaf.TokenOffset = &off
	}
	b.levels[0] = append(b.levels[0], leaf)

	b.prev = e
	b.hasPrev = true
	b.entries++
	if b.entries%4096 == 0 {
		return b.ctx.Err()
	}
	return nil
}

// finish closes every open node and returns the root location. The root is
// always at the top level, also for empty and single-entry tries.
func (b *build) finish() (model.SliceLocation, error) {
	if err := b.ctx.Err(); err != nil {
		return model.SliceLocation{}, err
	}
	top := b.w.geometry.Top()
	if b.hasPrev && top > 0 {
		br, err := b.closeSubtree(top - 1)
		if err != nil {
			return model.SliceLocation{}, err
		}
		b.levels[top] = append(b.levels[top], br)
	}
	return b.flush(top)
}

// closeSubtree flushes the open nodes of levels 0..level, each becoming a
// branch of the one above, and returns the branch for the node at level.
func (b *build) closeSubtree(level int) (Branch, error) {
	if level > 0 {
		br, err := b.closeSubtree(level - 1)
		if err != nil {
			return Branch{}, err
		}
		b.levels[level] = append(b.levels[level], br)
	}
	loc, err := b.flush(level)
	if err != nil {
		return Branch{}, err
	}
	return Branch{
		Prefix:   b.w.geometry.Prefix(b.prev.Key, level+1),
		Location: &loc,
		Inner:    true,
	}, nil
}

// flush serializes the open node of level and returns its location, reusing
// an identical node already in this build or in the dedup index.
func (b *build) flush(level int) (model.SliceLocation, error) {
	g := b.w.geometry
	node := &Node{
		BitOffset: g.Offset(level),
		BitWidth:  g.Width(level),
		Branches:  b.levels[level],
	}
	b.levels[level] = nil
	b.nodes++

	// A reader decodes every node of a trie with the mode it was written
	// with, so only nodes stored under the same mode are interchangeable.
	raw := MarshalNode(node)
	digest := hash.ContentWithTag(byte(b.w.compression), raw)

	if loc, ok := b.pending[digest]; ok {
		b.reused++
		return loc, nil
	}
	loc, ok, err := b.w.index.Lookup(b.ctx, digest)
	if err != nil {
		return model.SliceLocation{}, fmt.Errorf("trie: dedup lookup: %w", err)
	}
	if ok {
		b.reused++
		b.nodeBlobs.Add(uint64(loc.BlobID))
		return loc, nil
	}

	data, err := compress.Compress(b.w.compression, raw)
	if err != nil {
		return model.SliceLocation{}, err
	}
	if !b.claimed {
		id, err := dedup.ClaimBlobID(b.ctx, b.w.index, func(ctx context.Context, id model.BlobID) error {
			return b.w.store.PutIfAbsent(ctx, b.w.blobName(id), nil)
		})
		if err != nil {
			return model.SliceLocation{}, fmt.Errorf("trie: allocate blob id: %w", err)
		}
		b.blobID = id
		b.claimed = true
		b.buf = make([]byte, 0, 64<<10)
		b.nodeBlobs.Add(uint64(id))
	}

	startOff := uint64(len(b.buf))
	if uint64(len(data)) > math.MaxUint64-startOff {
		return model.SliceLocation{}, ErrOffsetOverflow
	}
	loc = model.SliceLocation{
		BlobID: b.blobID,
		Start:  startOff,
		End:    startOff + uint64(len(data)),
	}
	b.buf = append(b.buf, data...)
	b.pending[digest] = loc
	b.order = append(b.order, digest)
	return loc, nil
}

// highestDifferingLevel returns the highest level whose digit is non-zero in
// diff, or 0.
func highestDifferingLevel(g Geometry, diff uint64) int {
	for l := g.Top(); l > 0; l-- {
		if g.Prefix(diff, l) != 0 {
			return l
		}
	}
	return 0
}

func checkOrder(prev, cur Entry) error {
	switch {
	case cur.Key > prev.Key:
		return nil
	case cur.Key < prev.Key:
		return fmt.Errorf("%w: %d after %d", ErrOutOfOrderKey, cur.Key, prev.Key)
	case !cur.HasSecondary || !prev.HasSecondary:
		return fmt.Errorf("%w: %d", ErrDuplicateKey, cur.Key)
	case cur.Secondary > prev.Secondary:
		return nil
	case cur.Secondary < prev.Secondary:
		return fmt.Errorf("%w: %d/%d after %d/%d", ErrOutOfOrderKey, cur.Key, cur.Secondary, prev.Key, prev.Secondary)
	default:
		return fmt.Errorf("%w: %d/%d", ErrDuplicateKey, cur.Key, cur.Secondary)
	}
}
