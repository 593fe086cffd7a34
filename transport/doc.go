// Package transport moves tables in and out of a store.
//
// A Client sizes a table with the codec, allocates an object of exactly
// that size, encodes into the shared memory mapping and seals it. Readers
// block until the object is sealed or their timeout passes.
package transport
