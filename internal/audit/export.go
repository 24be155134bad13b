package audit

import (
	"encoding/json"
	"fmt"
	"strings"
)

const csvTimeLayout = "2006-01-02T15:04:05.000Z07:00"

var csvHeader = []string{
	"ID", "Timestamp", "UserID", "Action", "ResourceType",
	"ResourceID", "RiskLevel", "ComplianceFlags", "IPAddress",
}

// ExportAuditLog serializes the events matching filter as indented JSON or
// as CSV with every field quoted.
func (l *Logger) ExportAuditLog(format Format, filter Filter) ([]byte, error) {
	return EncodeEvents(format, l.GetEvents(filter))
}

// EncodeEvents serializes an already selected set of events in the export
// format. Callers that also describe the export use it to work from one
// snapshot.
func EncodeEvents(format Format, events []Event) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal audit events: %w", err)
		}
		return data, nil
	case FormatCSV:
		return encodeCSV(events), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

// encodeCSV quotes every field; encoding/csv only quotes when needed
func encodeCSV(events []Event) []byte {
	var b strings.Builder
	writeCSVRow(&b, csvHeader)
	for _, e := range events {
		writeCSVRow(&b, []string{
			e.ID,
			e.Timestamp.UTC().Format(csvTimeLayout),
			e.UserID,
			string(e.Action),
			string(e.ResourceType),
			e.ResourceID,
			string(e.RiskLevel),
			strings.Join(e.ComplianceFlags, ";"),
			e.IPAddress,
		})
	}
	return []byte(b.String())
}

func writeCSVRow(b *strings.Builder, fields []string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
}
