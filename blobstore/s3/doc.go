// Package s3 provides an Amazon S3 implementation of the blobstore.Store
// interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("slicemap/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	idx, err := slicemap.Open(ctx, store, "my-repo")
//
// # Features
//
//   - Range reads for trie node and entity slices
//   - CRC32C-checked single-part puts for small blobs
//   - Multipart uploads for large blobs
//   - Conditional creates (If-None-Match) for build manifests
//   - Automatic pagination for listing
package s3
