package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/raaihank/phi-sentinel/internal/audit"
	"github.com/raaihank/phi-sentinel/internal/metrics"
	"github.com/raaihank/phi-sentinel/internal/privacy"
	"github.com/raaihank/phi-sentinel/internal/redact"
)

// Pipeline scans record files for PHI and audits what it finds
type Pipeline struct {
	scanner redact.Scanner
	audit   *audit.Logger
	metrics *metrics.Metrics
	config  Config
	logger  *zap.Logger
}

// NewPipeline creates a new batch scan pipeline
func NewPipeline(
	scanner redact.Scanner,
	auditLog *audit.Logger,
	m *metrics.Metrics,
	config Config,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		scanner: scanner,
		audit:   auditLog,
		metrics: m,
		config:  config.withDefaults(),
		logger:  logger,
	}
}

// ProcessFile scans a CSV, newline-delimited JSON or Parquet file and writes
// one JSON line per record to out
func (p *Pipeline) ProcessFile(ctx context.Context, filePath string, out io.Writer) (*ProcessingResult, error) {
	format, err := DetectFormat(filePath)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat input file: %w", err)
	}

	reader, err := NewReader(format, file, info.Size(), p.config.Column)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(filePath)
	if _, err := p.audit.LogFileOperation(ctx, p.config.UserID, audit.ActionFileUploaded, name, info.Size(), string(format)); err != nil {
		return nil, fmt.Errorf("failed to audit file upload: %w", err)
	}

	p.logger.Info("Starting batch scan",
		zap.String("file", filePath),
		zap.String("format", string(format)),
		zap.String("column", p.config.Column),
		zap.Int("workers", p.config.Workers),
		zap.Bool("redact", p.config.Redact))

	result := &ProcessingResult{File: name, Format: format}
	err = p.Process(ctx, reader, name, out, result)

	p.logger.Info("Batch scan completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("records_with_phi", result.RecordsWithPHI),
		zap.Int64("redactions", result.Redactions),
		zap.Int64("skipped", result.Skipped),
		zap.Duration("duration", result.Duration))

	return result, err
}

// Process drains reader in batches. Records within a batch are scanned
// concurrently; output and audit events follow input order.
func (p *Pipeline) Process(ctx context.Context, reader RecordReader, resource string, out io.Writer, result *ProcessingResult) error {
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	enc := json.NewEncoder(out)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, done, err := p.readBatch(reader)
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) > 0 {
			results, err := p.scanBatch(ctx, batch)
			if err != nil {
				return err
			}
			if err := p.emit(ctx, enc, resource, results, result); err != nil {
				return err
			}
		}
		if done {
			return nil
		}
	}
}

// batchItem is either a record to scan or a record that failed to read
type batchItem struct {
	record Record
	err    *RecordError
}

func (p *Pipeline) readBatch(reader RecordReader) ([]batchItem, bool, error) {
	batch := make([]batchItem, 0, p.config.BatchSize)
	for len(batch) < p.config.BatchSize {
		rec, err := reader.Next()
		if err == io.EOF {
			return batch, true, nil
		}

		var recErr *RecordError
		if errors.As(err, &recErr) {
			batch = append(batch, batchItem{err: recErr})
			continue
		}
		if err != nil {
			return nil, false, err
		}
		batch = append(batch, batchItem{record: rec})
	}
	return batch, false, nil
}

func (p *Pipeline) scanBatch(ctx context.Context, batch []batchItem) ([]RecordResult, error) {
	results := make([]RecordResult, len(batch))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)
	for i, item := range batch {
		if item.err != nil {
			results[i] = RecordResult{Index: item.err.Index, Error: item.err.Err.Error()}
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = p.scanRecord(item.record)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Pipeline) scanRecord(rec Record) RecordResult {
	matches := p.scanner.Detect(rec.Text)
	res := RecordResult{
		Index:      rec.Index,
		MatchCount: len(matches),
		PHITypes:   privacy.Types(matches),
		RiskLevel:  privacy.AssessMatches(matches).RiskLevel,
		confidence: privacy.HighestConfidence(matches),
	}

	if p.config.Redact {
		redacted := redact.RedactMatches(rec.Text, matches, p.config.Options)
		res.RedactedText = redacted.RedactedText
		res.RedactionCount = redacted.RedactionCount
	}
	return res
}

// emit writes results and records their audit events, in order
func (p *Pipeline) emit(ctx context.Context, enc *json.Encoder, resource string, results []RecordResult, summary *ProcessingResult) error {
	for _, res := range results {
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
		summary.TotalRecords++

		if res.Error != "" {
			summary.Skipped++
			p.metrics.RecordIngested("skipped")
			p.logger.Warn("Skipping unreadable record",
				zap.Int("index", res.Index),
				zap.String("error", res.Error))
			continue
		}

		if res.MatchCount == 0 {
			p.metrics.RecordIngested("clean")
		} else {
			summary.RecordsWithPHI++
			p.metrics.RecordIngested("phi")
			p.metrics.MatchesFound(res.PHITypes)

			resourceID := fmt.Sprintf("%s#%d", resource, res.Index)
			if _, err := p.audit.LogPHIDetection(ctx, p.config.UserID, resourceID, res.PHITypes, string(res.confidence), res.MatchCount); err != nil {
				return fmt.Errorf("failed to audit detection: %w", err)
			}
			if res.RedactionCount > 0 {
				summary.Redactions += int64(res.RedactionCount)
				p.metrics.Redacted(res.RedactionCount)
				if _, err := p.audit.LogPHIRedaction(ctx, p.config.UserID, resourceID, res.RedactionCount, p.config.Options.Method()); err != nil {
					return fmt.Errorf("failed to audit redaction: %w", err)
				}
			}
		}

		if summary.TotalRecords%int64(p.config.ProgressReport) == 0 {
			p.reportProgress(summary)
		}
	}
	return nil
}

func (p *Pipeline) reportProgress(result *ProcessingResult) {
	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_with_phi", result.RecordsWithPHI),
		zap.Int64("skipped", result.Skipped))
}
