// Package codec provides the table wire format.
// This package implements:
// - Arrow IPC stream encoding of data.Table values in bounded row batches
// - dry-run sizing for exact pre-allocation of shared buffers
// - decoding that reassembles batches into a single Table
package codec
