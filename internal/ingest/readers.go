package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/segmentio/parquet-go"
)

// maxLineSize bounds a single newline-delimited JSON record
const maxLineSize = 4 << 20

// RecordReader yields records in file order and io.EOF at the end. A
// *RecordError describes one bad record; any other error is fatal.
type RecordReader interface {
	Next() (Record, error)
}

// NewReader opens a reader for format over r, extracting column
func NewReader(format Format, r io.ReaderAt, size int64, column string) (RecordReader, error) {
	switch format {
	case FormatCSV:
		return newCSVReader(io.NewSectionReader(r, 0, size), column)
	case FormatNDJSON:
		return newNDJSONReader(io.NewSectionReader(r, 0, size), column), nil
	case FormatParquet:
		return newParquetReader(r, column)
	default:
		return nil, fmt.Errorf("unsupported file format: %q", format)
	}
}

type csvReader struct {
	reader *csv.Reader
	column int
	index  int
}

func newCSVReader(r io.Reader, column string) (*csvReader, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i, name := range header {
		if name == column {
			return &csvReader{reader: reader, column: i}, nil
		}
	}
	return nil, fmt.Errorf("column %q not found in CSV header", column)
}

func (c *csvReader) Next() (Record, error) {
	row, err := c.reader.Read()
	if err == io.EOF {
		return Record{}, io.EOF
	}

	index := c.index
	c.index++

	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return Record{}, &RecordError{Index: index, Err: err}
	}
	if err != nil {
		return Record{}, err
	}
	if c.column >= len(row) {
		return Record{}, &RecordError{Index: index, Err: errors.New("missing column")}
	}
	return Record{Index: index, Text: row[c.column]}, nil
}

type ndjsonReader struct {
	scanner *bufio.Scanner
	column  string
	index   int
}

func newNDJSONReader(r io.Reader, column string) *ndjsonReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &ndjsonReader{scanner: scanner, column: column}
}

func (n *ndjsonReader) Next() (Record, error) {
	for n.scanner.Scan() {
		line := bytes.TrimSpace(n.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		index := n.index
		n.index++

		var obj map[string]any
		if err := json.Unmarshal(line, &obj); err != nil {
			return Record{}, &RecordError{Index: index, Err: err}
		}
		text, ok := obj[n.column].(string)
		if !ok {
			return Record{}, &RecordError{Index: index, Err: fmt.Errorf("field %q missing or not a string", n.column)}
		}
		return Record{Index: index, Text: text}, nil
	}
	if err := n.scanner.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, io.EOF
}

type parquetReader struct {
	reader *parquet.Reader
	column int
	rows   []parquet.Row
	buffer []Record
	eof    bool
	index  int
}

func newParquetReader(r io.ReaderAt, column string) (*parquetReader, error) {
	reader := parquet.NewReader(r)
	leaf, ok := reader.Schema().Lookup(column)
	if !ok {
		reader.Close()
		return nil, fmt.Errorf("column %q not found in Parquet schema", column)
	}
	return &parquetReader{
		reader: reader,
		column: leaf.ColumnIndex,
		rows:   make([]parquet.Row, 64),
	}, nil
}

func (p *parquetReader) Next() (Record, error) {
	for len(p.buffer) == 0 {
		if p.eof {
			return Record{}, io.EOF
		}
		if err := p.fill(); err != nil {
			return Record{}, err
		}
	}

	rec := p.buffer[0]
	p.buffer = p.buffer[1:]
	if rec.Index < 0 {
		return Record{}, &RecordError{Index: -rec.Index - 1, Err: errors.New("null value")}
	}
	return rec, nil
}

// fill decodes the next chunk of rows. Null cells are buffered with a
// negative index so Next can report them in order.
func (p *parquetReader) fill() error {
	n, err := p.reader.ReadRows(p.rows)
	for _, row := range p.rows[:n] {
		index := p.index
		p.index++

		rec := Record{Index: -index - 1}
		for _, v := range row {
			if v.Column() == p.column && !v.IsNull() {
				rec = Record{Index: index, Text: string(v.ByteArray())}
				break
			}
		}
		p.buffer = append(p.buffer, rec)
	}

	if err == io.EOF || (err == nil && n == 0) {
		p.eof = true
		p.reader.Close()
		return nil
	}
	return err
}
