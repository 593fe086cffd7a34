package csv

import (
	"github.com/VanDung-dev/TableStore-Engine/errs"
)

// ParseOptions describe the CSV dialect.
type ParseOptions struct {
	Delimiter        rune
	Quoting          bool
	QuoteChar        rune
	DoubleQuote      bool
	Escaping         bool
	EscapeChar       rune
	NewlinesInValues bool
	IgnoreEmptyLines bool
}

// ReadOptions control how input is consumed.
type ReadOptions struct {
	// UseThreads converts columns concurrently.
	UseThreads bool
	// BlockSize is the number of bytes requested per stream read.
	BlockSize int
	// SkipRows drops that many lines before the header or first record.
	SkipRows int
	// ColumnNames, when set, name the columns and the input has no header.
	ColumnNames []string
	// AutogenerateColumnNames names columns f0, f1, ... and treats the
	// first line as data. Ignored when ColumnNames is set.
	AutogenerateColumnNames bool
}

// DefaultParseOptions returns the default dialect: comma separated, double
// quoted, no escape character, empty lines skipped.
func DefaultParseOptions() ParseOptions {
	return ParseOptions{
		Delimiter:        ',',
		Quoting:          true,
		QuoteChar:        '"',
		DoubleQuote:      true,
		Escaping:         false,
		EscapeChar:       '\\',
		NewlinesInValues: false,
		IgnoreEmptyLines: true,
	}
}

// DefaultReadOptions returns the default read options.
func DefaultReadOptions() ReadOptions {
	return ReadOptions{
		UseThreads: true,
		BlockSize:  1 << 20,
	}
}

// Validate rejects dialects the parser cannot honor.
func (po ParseOptions) Validate() error {
	switch po.Delimiter {
	case 0, '"', '\r', '\n', 0xFFFD:
		return errs.Newf(errs.InvalidArgument, "invalid delimiter %q", po.Delimiter)
	}
	if !po.Quoting {
		return errs.New(errs.Unsupported, "quoting cannot be disabled")
	}
	if po.QuoteChar != '"' {
		return errs.Newf(errs.Unsupported, "quote character %q is not supported", po.QuoteChar)
	}
	if !po.DoubleQuote {
		return errs.New(errs.Unsupported, "double quoting cannot be disabled")
	}
	if po.Escaping {
		return errs.New(errs.Unsupported, "escape characters are not supported")
	}
	if !po.IgnoreEmptyLines {
		return errs.New(errs.Unsupported, "empty lines are always skipped")
	}
	return nil
}

// Validate checks the read options.
func (ro ReadOptions) Validate() error {
	if ro.BlockSize <= 0 {
		return errs.Newf(errs.InvalidArgument, "block size must be positive, got %d", ro.BlockSize)
	}
	if ro.SkipRows < 0 {
		return errs.Newf(errs.InvalidArgument, "skip rows must not be negative, got %d", ro.SkipRows)
	}
	return nil
}
