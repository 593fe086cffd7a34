package csv

import (
	"bufio"
	"bytes"
	stdcsv "encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	arrowcsv "github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"golang.org/x/sync/errgroup"

	"github.com/VanDung-dev/TableStore-Engine/data"
	"github.com/VanDung-dev/TableStore-Engine/errs"
)

var streams = NewRegistry()

// Read parses CSV from r into a Table.
func Read(r io.Reader, ro ReadOptions, po ParseOptions) (*data.Table, error) {
	id := streams.Alloc(r)
	defer streams.Release(id)
	return ReadStream(NewStream(streams, id), ro, po)
}

// ReadStream parses CSV pulled from in into a Table. Column types are
// inferred from the first record; types outside the supported set are
// rendered as strings. Empty cells in non-string columns fail with
// Unsupported, failures of in with IoError and malformed input with
// CorruptStream.
func ReadStream(in InputStream, ro ReadOptions, po ParseOptions) (*data.Table, error) {
	if err := po.Validate(); err != nil {
		return nil, err
	}
	if err := ro.Validate(); err != nil {
		return nil, err
	}

	mem := memory.DefaultAllocator
	sr := &streamReader{in: in, blockSize: ro.BlockSize}
	src := bufio.NewReaderSize(sr, ro.BlockSize)

	if err := skipLines(src, ro.SkipRows); err != nil {
		return nil, sr.classify(err)
	}

	names := ro.ColumnNames
	var first string
	if len(names) == 0 && ro.AutogenerateColumnNames {
		line, n, err := peekRecord(src, po.Delimiter)
		if err != nil {
			return nil, sr.classify(err)
		}
		first = line
		names = make([]string, n)
		for i := range names {
			names[i] = fmt.Sprintf("f%d", i)
		}
	}

	if first == "" {
		if _, err := src.Peek(1); err != nil {
			if errors.Is(err, io.EOF) {
				return emptyTable(mem, names)
			}
			return nil, sr.classify(err)
		}
	}

	var body io.Reader = src
	if len(names) > 0 {
		header, err := headerLine(names, po.Delimiter)
		if err != nil {
			return nil, err
		}
		body = io.MultiReader(bytes.NewReader(header), strings.NewReader(first), src)
	}

	reader := arrowcsv.NewInferringReader(body,
		arrowcsv.WithAllocator(mem),
		arrowcsv.WithComma(po.Delimiter),
		arrowcsv.WithHeader(true),
		arrowcsv.WithChunk(-1),
		arrowcsv.WithNullReader(false, ""),
	)
	defer reader.Release()

	var records []arrow.Record
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()
	for reader.Next() {
		rec := reader.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := reader.Err(); err != nil {
		return nil, sr.classify(err)
	}
	if len(records) == 0 {
		return emptyTable(mem, names)
	}

	return buildTable(mem, records, ro.UseThreads)
}

func skipLines(src *bufio.Reader, n int) error {
	for i := 0; i < n; i++ {
		if _, err := src.ReadString('\n'); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	return nil
}

// peekRecord reads the first non-empty line and counts its fields.
func peekRecord(src *bufio.Reader, delim rune) (string, int, error) {
	for {
		line, err := src.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", 0, err
		}
		if strings.TrimRight(line, "\r\n") != "" {
			r := stdcsv.NewReader(strings.NewReader(line))
			r.Comma = delim
			r.FieldsPerRecord = -1
			fields, perr := r.Read()
			if perr != nil {
				return "", 0, errs.Wrap(perr, errs.CorruptStream, "malformed first record")
			}
			if !strings.HasSuffix(line, "\n") {
				line += "\n"
			}
			return line, len(fields), nil
		}
		if err != nil {
			return "", 0, nil
		}
	}
}

func headerLine(names []string, delim rune) ([]byte, error) {
	var buf bytes.Buffer
	w := stdcsv.NewWriter(&buf)
	w.Comma = delim
	if err := w.Write(names); err != nil {
		return nil, errs.Wrap(err, errs.InvalidArgument, "bad column names")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errs.Wrap(err, errs.InvalidArgument, "bad column names")
	}
	return buf.Bytes(), nil
}

// emptyTable returns a table without rows with one string column per name.
func emptyTable(mem memory.Allocator, names []string) (*data.Table, error) {
	fields := make([]arrow.Field, len(names))
	cols := make([]arrow.Array, len(names))
	for i, name := range names {
		fields[i] = arrow.Field{Name: name, Type: arrow.BinaryTypes.String}
		b := array.NewStringBuilder(mem)
		cols[i] = b.NewArray()
		b.Release()
	}
	defer releaseAll(cols)
	return data.NewTableFromArrow(arrow.NewSchema(fields, nil), cols)
}

func buildTable(mem memory.Allocator, records []arrow.Record, useThreads bool) (*data.Table, error) {
	schema := records[0].Schema()
	cols := make([]arrow.Array, schema.NumFields())
	defer releaseAll(cols)

	convertColumn := func(i int) error {
		chunks := make([]arrow.Array, len(records))
		for j, rec := range records {
			chunks[j] = rec.Column(i)
		}
		col, err := convert(mem, schema.Field(i).Name, chunks)
		if err != nil {
			return err
		}
		cols[i] = col
		return nil
	}

	if useThreads {
		var g errgroup.Group
		for i := range cols {
			g.Go(func() error { return convertColumn(i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range cols {
			if err := convertColumn(i); err != nil {
				return nil, err
			}
		}
	}

	fields := make([]arrow.Field, len(cols))
	for i, col := range cols {
		fields[i] = arrow.Field{Name: schema.Field(i).Name, Type: col.DataType()}
	}
	return data.NewTableFromArrow(arrow.NewSchema(fields, nil), cols)
}

func releaseAll(arrs []arrow.Array) {
	for _, a := range arrs {
		if a != nil {
			a.Release()
		}
	}
}

// classify keeps failures of the stream as they are and reports everything
// else as a malformed input.
func (sr *streamReader) classify(err error) error {
	if sr.err != nil {
		return sr.err
	}
	if errs.KindOf(err) != "" {
		return err
	}
	return errs.Wrap(err, errs.CorruptStream, "failed to parse csv")
}
