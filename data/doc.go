// Package data provides the typed columnar value model of the engine.
// This package implements:
// - Fields, Schemas and ordered Metadata
// - single-dtype Builders that finish into immutable Arrays
// - Tables of equal-length columns with zero-copy slicing
//
// Handles follow a single-owner rule. Builder.Finish consumes the builder,
// NewTable consumes its arrays, and Table.Column returns borrowed views.
package data
