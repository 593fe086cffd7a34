// Package store provides the shared memory object store daemon.
// This package implements:
// - fixed-width object ids
// - create, seal, get, release and delete of objects backed by files in a
//   shared memory directory
// - blocking get with a deadline, woken by seals instead of polling
// - LRU eviction of idle sealed objects under a capacity limit
// - a length-prefixed JSON protocol over a unix socket
package store
