// Package slicemap provides a lazily loaded, content-addressed index from
// 64-bit identifiers to byte ranges of immutable blobs.
//
// A build maps three key spaces to the serialized entities of a code index:
// node ids (nodemap), symbol ids (symmap) and token locations (refmap). Each
// map is a radix trie whose nodes are stored in blobs and deduplicated by
// content across builds, so an incremental rebuild only writes the paths
// that changed.
//
// # Quick Start
//
// Writing a build:
//
//	ctx := context.Background()
//	store := blobstore.NewLocalStore("./data")
//	b, _ := slicemap.NewBuilder(ctx, store, "github/territory")
//	blob, _ := b.WriteBlob(ctx, entities)
//	res, _ := b.Build(ctx, slicemap.BuildInput{
//	    RootNodeID: 1,
//	    Nodes:      slices.Values(nodes),
//	})
//
// Reading it back:
//
//	ix, _ := slicemap.Open(ctx, store, "github/territory")
//	defer ix.Close()
//	data, loc, _ := ix.Read(ctx, href.Node(42))
//
// Cloud mode:
//
//	s3Store, _ := s3.New(ctx, "my-bucket", s3.WithPrefix("index/"))
//	ix, _ := slicemap.Open(ctx, s3Store, "github/territory", slicemap.WithBlockCache(64<<20))
//
// # Lazy Loading
//
// Open reads only the manifest. A lookup walks the trie from the root; each
// node missing from the cache becomes a fetch of its byte range. Nodes are
// held in a bounded LRU cache that several indexes can share (WithCache).
// The non-blocking resolver behind Index is available through
// Index.Resolver for callers that want to schedule I/O themselves.
//
// # Storage Layout
//
//	nodes/{repo}/f/{blob_id}         trie node and entity blobs
//	nodes/{repo}/dedup/index.bin     persisted dedup index
//	builds/{repo}/{build}            build manifests
//	builds/{repo}/CURRENT            active build
//
// # References
//
// References have a textual form (see package href) such as "id:42",
// "sym:7", "refs:42/3", "path:" or "slice:f/3[10:20]".
package slicemap
