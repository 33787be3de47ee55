// Package mmap maps immutable blob files into memory.
//
// Blobs written by the index never change after they are renamed into place,
// so a read-only shared mapping is a zero-copy view of a blob for as long as
// the Mapping is open:
//
//	m, err := mmap.Open("nodes/linux/f/3")
//	if err != nil { ... }
//	defer m.Close()
//
//	node, err := m.Slice(loc.Start, loc.End)
//
// Trie readers jump between nodes, so Open advises random access. On
// platforms without mmap(2) the file is read into memory instead.
package mmap
