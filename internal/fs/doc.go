// Package fs abstracts the filesystem operations of the local blob store so
// that tests can inject failures.
//
// Blobs are published with WriteFileAtomic: the bytes go to a temporary file
// in the target directory, which is synced and renamed over the final name.
// Readers therefore see either no blob or the complete blob, never a prefix.
//
// FaultyFS wraps another FileSystem and fails writes, syncs or renames of
// files whose name contains a configured pattern.
package fs
