package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/audit"
	"github.com/raaihank/phi-sentinel/internal/config"
	"github.com/raaihank/phi-sentinel/internal/logger"
	"github.com/raaihank/phi-sentinel/internal/privacy"
	"github.com/raaihank/phi-sentinel/internal/redact"
)

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, *audit.Logger) {
	t.Helper()
	detector, err := privacy.New(config.PrivacyConfig{Enabled: true, Detectors: []string{"all"}}, logger.NewNop())
	require.NoError(t, err)

	auditLog := audit.New(config.GetDefaults().Audit, nil, zap.NewNop())
	t.Cleanup(func() { auditLog.Close() })

	return NewPipeline(detector, auditLog, nil, cfg, zap.NewNop()), auditLog
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func decodeLines(t *testing.T, out *bytes.Buffer) []RecordResult {
	t.Helper()
	var results []RecordResult
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var res RecordResult
		require.NoError(t, json.Unmarshal([]byte(line), &res), line)
		results = append(results, res)
	}
	return results
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		file    string
		want    Format
		wantErr bool
	}{
		{"records.csv", FormatCSV, false},
		{"RECORDS.CSV", FormatCSV, false},
		{"records.json", FormatNDJSON, false},
		{"records.jsonl", FormatNDJSON, false},
		{"records.ndjson", FormatNDJSON, false},
		{"records.parquet", FormatParquet, false},
		{"records.xlsx", "", true},
		{"records", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			got, err := DetectFormat(tt.file)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProcessCSV(t *testing.T) {
	path := writeFile(t, "input.csv", "id,text\n"+
		"1,Patient SSN: 123-45-6789\n"+
		"2,nothing here\n"+
		"3,\"mail john.doe@example.com\"\n")

	p, auditLog := newTestPipeline(t, Config{Workers: 2, BatchSize: 2, Redact: true, UserID: "batch-user"})

	var out bytes.Buffer
	result, err := p.ProcessFile(context.Background(), path, &out)
	require.NoError(t, err)

	assert.Equal(t, "input.csv", result.File)
	assert.Equal(t, FormatCSV, result.Format)
	assert.Equal(t, int64(3), result.TotalRecords)
	assert.Equal(t, int64(2), result.RecordsWithPHI)
	assert.Equal(t, int64(0), result.Skipped)

	lines := decodeLines(t, &out)
	require.Len(t, lines, 3)
	for i, res := range lines {
		assert.Equal(t, i, res.Index)
	}

	assert.Equal(t, 1, lines[0].MatchCount)
	assert.Equal(t, []string{privacy.PatternSSN}, lines[0].PHITypes)
	assert.Equal(t, privacy.RiskMedium, lines[0].RiskLevel)
	assert.Equal(t, "Patient SSN: ***********", lines[0].RedactedText)
	assert.Equal(t, 1, lines[0].RedactionCount)

	assert.Equal(t, 0, lines[1].MatchCount)
	assert.Equal(t, privacy.RiskNone, lines[1].RiskLevel)
	assert.Equal(t, "nothing here", lines[1].RedactedText)

	assert.Contains(t, lines[2].PHITypes, privacy.PatternEmail)
	assert.NotContains(t, lines[2].RedactedText, "john.doe@example.com")

	uploads := auditLog.GetEvents(audit.Filter{Action: audit.ActionFileUploaded})
	require.Len(t, uploads, 1)
	assert.Equal(t, "batch-user", uploads[0].UserID)
	assert.Equal(t, "input.csv", uploads[0].ResourceID)
	assert.Equal(t, "csv", uploads[0].Details["fileType"])
	assert.Equal(t, []string{audit.FlagStructuredUpload}, uploads[0].ComplianceFlags)

	detections := auditLog.GetEvents(audit.Filter{Action: audit.ActionPHIDetected})
	require.Len(t, detections, 2)
	assert.Equal(t, "input.csv#2", detections[0].ResourceID)
	assert.Equal(t, "input.csv#0", detections[1].ResourceID)
	assert.Equal(t, audit.RiskHigh, detections[1].RiskLevel)

	redactions := auditLog.GetEvents(audit.Filter{Action: audit.ActionPHIRedacted})
	require.Len(t, redactions, 2)
	assert.Equal(t, "mask", redactions[0].Details["redactionMethod"])
	assert.Equal(t, result.Redactions, int64(lines[0].RedactionCount+lines[2].RedactionCount))
}

func TestProcessCSVErrors(t *testing.T) {
	t.Run("missing column", func(t *testing.T) {
		path := writeFile(t, "input.csv", "id,body\n1,SSN 123-45-6789\n")
		p, auditLog := newTestPipeline(t, Config{})

		_, err := p.ProcessFile(context.Background(), path, &bytes.Buffer{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `column "text" not found`)
		assert.Empty(t, auditLog.GetEvents(audit.Filter{}))
	})

	t.Run("short row is skipped", func(t *testing.T) {
		path := writeFile(t, "input.csv", "id,text\n1\n2,SSN 123-45-6789\n")
		p, _ := newTestPipeline(t, Config{})

		var out bytes.Buffer
		result, err := p.ProcessFile(context.Background(), path, &out)
		require.NoError(t, err)
		assert.Equal(t, int64(2), result.TotalRecords)
		assert.Equal(t, int64(1), result.Skipped)

		lines := decodeLines(t, &out)
		require.Len(t, lines, 2)
		assert.Equal(t, "missing column", lines[0].Error)
		assert.Equal(t, 1, lines[1].MatchCount)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		p, _ := newTestPipeline(t, Config{})
		_, err := p.ProcessFile(context.Background(), "records.xlsx", &bytes.Buffer{})
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		p, _ := newTestPipeline(t, Config{})
		_, err := p.ProcessFile(context.Background(), filepath.Join(t.TempDir(), "none.csv"), &bytes.Buffer{})
		assert.Error(t, err)
	})
}

func TestProcessNDJSON(t *testing.T) {
	path := writeFile(t, "notes.jsonl", `{"note":"SSN 123-45-6789"}`+"\n"+
		"not json\n"+
		`{"other":1}`+"\n"+
		"\n"+
		`{"note":"clean"}`+"\n")

	p, auditLog := newTestPipeline(t, Config{Column: "note"})

	var out bytes.Buffer
	result, err := p.ProcessFile(context.Background(), path, &out)
	require.NoError(t, err)
	assert.Equal(t, FormatNDJSON, result.Format)
	assert.Equal(t, int64(4), result.TotalRecords)
	assert.Equal(t, int64(2), result.Skipped)
	assert.Equal(t, int64(1), result.RecordsWithPHI)
	assert.Equal(t, int64(0), result.Redactions)

	lines := decodeLines(t, &out)
	require.Len(t, lines, 4)
	assert.Equal(t, 1, lines[0].MatchCount)
	assert.Empty(t, lines[0].RedactedText)
	assert.NotEmpty(t, lines[1].Error)
	assert.Contains(t, lines[2].Error, `field "note"`)
	assert.Equal(t, 3, lines[3].Index)
	assert.Equal(t, 0, lines[3].MatchCount)

	assert.Len(t, auditLog.GetEvents(audit.Filter{Action: audit.ActionPHIDetected}), 1)
	assert.Empty(t, auditLog.GetEvents(audit.Filter{Action: audit.ActionPHIRedacted}))
}

type parquetNote struct {
	ID   int64  `parquet:"id"`
	Note string `parquet:"note"`
}

func writeParquet(t *testing.T, rows []parquetNote) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notes.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)

	w := parquet.NewWriter(f)
	for _, row := range rows {
		require.NoError(t, w.Write(row))
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func TestProcessParquet(t *testing.T) {
	path := writeParquet(t, []parquetNote{
		{ID: 1, Note: "Patient SSN: 123-45-6789"},
		{ID: 2, Note: "follow up in two weeks"},
		{ID: 3, Note: "mail john.doe@example.com"},
	})

	t.Run("scan", func(t *testing.T) {
		p, auditLog := newTestPipeline(t, Config{Column: "note", Redact: true, Options: redact.Options{RedactionChar: '#'}})

		var out bytes.Buffer
		result, err := p.ProcessFile(context.Background(), path, &out)
		require.NoError(t, err)
		assert.Equal(t, FormatParquet, result.Format)
		assert.Equal(t, int64(3), result.TotalRecords)
		assert.Equal(t, int64(2), result.RecordsWithPHI)

		lines := decodeLines(t, &out)
		require.Len(t, lines, 3)
		assert.Equal(t, "Patient SSN: [#REDACTED#]", lines[0].RedactedText)
		assert.Equal(t, "follow up in two weeks", lines[1].RedactedText)

		redactions := auditLog.GetEvents(audit.Filter{Action: audit.ActionPHIRedacted})
		require.Len(t, redactions, 2)
		assert.Equal(t, "placeholder", redactions[0].Details["redactionMethod"])
	})

	t.Run("unknown column", func(t *testing.T) {
		p, _ := newTestPipeline(t, Config{Column: "body"})
		_, err := p.ProcessFile(context.Background(), path, &bytes.Buffer{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found in Parquet schema")
	})
}

func TestProcessPreservesOrder(t *testing.T) {
	var b strings.Builder
	b.WriteString("text\n")
	for i := 0; i < 100; i++ {
		if i%3 == 0 {
			fmt.Fprintf(&b, "record %d SSN 123-45-6789\n", i)
		} else {
			fmt.Fprintf(&b, "record %d is clean\n", i)
		}
	}
	path := writeFile(t, "many.csv", b.String())

	p, _ := newTestPipeline(t, Config{Workers: 8, BatchSize: 16})

	var out bytes.Buffer
	result, err := p.ProcessFile(context.Background(), path, &out)
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.TotalRecords)
	assert.Equal(t, int64(34), result.RecordsWithPHI)

	lines := decodeLines(t, &out)
	require.Len(t, lines, 100)
	for i, res := range lines {
		require.Equal(t, i, res.Index)
		if i%3 == 0 {
			assert.Equal(t, 1, res.MatchCount, "record %d", i)
		} else {
			assert.Equal(t, 0, res.MatchCount, "record %d", i)
		}
	}
}

func TestProcessCancelled(t *testing.T) {
	path := writeFile(t, "input.csv", "text\nSSN 123-45-6789\n")
	p, auditLog := newTestPipeline(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	_, err := p.ProcessFile(ctx, path, &out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out.String())
	assert.Empty(t, auditLog.GetEvents(audit.Filter{Action: audit.ActionPHIDetected}))
}
