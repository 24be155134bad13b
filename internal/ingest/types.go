package ingest

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/raaihank/phi-sentinel/internal/privacy"
	"github.com/raaihank/phi-sentinel/internal/redact"
)

// Record is one text value read from an input file. Index is the zero-based
// position of the record among the file's data rows.
type Record struct {
	Index int
	Text  string
}

// RecordError marks a single unreadable record. The pipeline reports it and
// keeps going.
type RecordError struct {
	Index int
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// RecordResult is written as one JSON line per input record, in input order
type RecordResult struct {
	Index          int               `json:"index"`
	MatchCount     int               `json:"matchCount"`
	PHITypes       []string          `json:"phiTypes,omitempty"`
	RiskLevel      privacy.RiskLevel `json:"riskLevel,omitempty"`
	RedactedText   string            `json:"redactedText,omitempty"`
	RedactionCount int               `json:"redactionCount,omitempty"`
	Error          string            `json:"error,omitempty"`

	confidence privacy.Confidence
}

// ProcessingResult summarizes a processed file
type ProcessingResult struct {
	File           string        `json:"file"`
	Format         Format        `json:"format"`
	TotalRecords   int64         `json:"total_records"`
	RecordsWithPHI int64         `json:"records_with_phi"`
	Redactions     int64         `json:"redactions"`
	Skipped        int64         `json:"skipped"`
	Duration       time.Duration `json:"duration"`
}

// Config contains batch scan configuration
type Config struct {
	Column         string         // CSV header, JSON key or Parquet column holding the text
	Workers        int            // 4
	BatchSize      int            // 256
	Redact         bool           // also rewrite each record
	Options        redact.Options // used when Redact is set
	UserID         string         // recorded on audit events
	ProgressReport int            // 1000
}

const (
	defaultColumn         = "text"
	defaultWorkers        = 4
	defaultBatchSize      = 256
	defaultUserID         = "phiscan"
	defaultProgressReport = 1000
)

func (c Config) withDefaults() Config {
	if c.Column == "" {
		c.Column = defaultColumn
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.UserID == "" {
		c.UserID = defaultUserID
	}
	if c.ProgressReport <= 0 {
		c.ProgressReport = defaultProgressReport
	}
	if c.Options == (redact.Options{}) {
		c.Options = redact.DefaultOptions()
	}
	return c
}

// Format represents supported file formats
type Format string

const (
	FormatCSV     Format = "csv"
	FormatNDJSON  Format = "ndjson"
	FormatParquet Format = "parquet"
)

// DetectFormat detects the input format from the file extension
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".json", ".jsonl", ".ndjson":
		return FormatNDJSON, nil
	case ".parquet":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported file format: %q", filepath.Ext(filename))
	}
}
