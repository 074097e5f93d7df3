// Package storage provides the byte-level persistence substrate for the
// cache engine: a blob store that maps slash-separated names onto files
// under a storage root with atomic temp-file + rename writes, and a
// SerialQueue that gives each storage root a single ordered execution
// context for disk work. Higher layers (resource cache, origin partition
// directory) never touch the filesystem directly; they compose these two
// primitives so that all I/O against one root is serialized while separate
// roots proceed independently.
package storage
