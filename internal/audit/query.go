package audit

import (
	"strings"
)

// Searchable event fields
const (
	FieldID              = "id"
	FieldUserID          = "userId"
	FieldAction          = "action"
	FieldResourceType    = "resourceType"
	FieldResourceID      = "resourceId"
	FieldRiskLevel       = "riskLevel"
	FieldComplianceFlags = "complianceFlags"
	FieldIPAddress       = "ipAddress"
	FieldUserAgent       = "userAgent"
)

// DefaultSearchFields are searched when SearchLogs gets no fields
var DefaultSearchFields = []string{FieldAction, FieldResourceID}

// GetEvents returns copies of the in-memory events matching f, newest first
func (l *Logger) GetEvents(f Filter) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	events := make([]Event, 0)
	for i := 0; i < l.events.len(); i++ {
		if f.Limit > 0 && len(events) >= f.Limit {
			break
		}
		e := l.events.at(i)
		if f.matches(e) {
			events = append(events, e.clone())
		}
	}
	return events
}

func (f Filter) matches(e Event) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.RiskLevel != "" && e.RiskLevel != f.RiskLevel {
		return false
	}
	if f.DateRange != nil && !f.DateRange.Contains(e.Timestamp) {
		return false
	}
	return true
}

// GetComplianceMetrics aggregates the whole window, or only events inside
// dateRange when given. Without a range the reported time range spans the
// oldest to newest considered event; an empty window reports now to now.
func (l *Logger) GetComplianceMetrics(dateRange *DateRange) ComplianceMetrics {
	events := l.GetEvents(Filter{DateRange: dateRange})

	m := ComplianceMetrics{TotalEvents: len(events)}
	for _, e := range events {
		switch e.Action {
		case ActionPHIDetected:
			m.PHIDetections++
		case ActionPHIRedacted:
			m.Redactions++
		}
		if e.RiskLevel.elevated() {
			m.HighRiskEvents++
		}
		for _, flag := range e.ComplianceFlags {
			if isViolation(flag) {
				m.Violations++
				break
			}
		}
	}

	switch {
	case dateRange != nil:
		m.TimeRange = *dateRange
	case len(events) == 0:
		now := l.now()
		m.TimeRange = DateRange{Start: now, End: now}
	default:
		m.TimeRange = DateRange{Start: events[len(events)-1].Timestamp, End: events[0].Timestamp}
	}

	return m
}

// SearchLogs returns events where any of fields contains query, ignoring
// case. Unknown field names are ignored.
func (l *Logger) SearchLogs(query string, fields []string) []Event {
	if len(fields) == 0 {
		fields = DefaultSearchFields
	}
	needle := strings.ToLower(query)

	l.mu.RLock()
	defer l.mu.RUnlock()

	events := make([]Event, 0)
	for i := 0; i < l.events.len(); i++ {
		e := l.events.at(i)
		if eventContains(e, fields, needle) {
			events = append(events, e.clone())
		}
	}
	return events
}

func eventContains(e Event, fields []string, needle string) bool {
	for _, field := range fields {
		for _, value := range fieldValues(e, field) {
			if strings.Contains(strings.ToLower(value), needle) {
				return true
			}
		}
	}
	return false
}

func fieldValues(e Event, field string) []string {
	switch field {
	case FieldID:
		return []string{e.ID}
	case FieldUserID:
		return []string{e.UserID}
	case FieldAction:
		return []string{string(e.Action)}
	case FieldResourceType:
		return []string{string(e.ResourceType)}
	case FieldResourceID:
		return []string{e.ResourceID}
	case FieldRiskLevel:
		return []string{string(e.RiskLevel)}
	case FieldComplianceFlags:
		return e.ComplianceFlags
	case FieldIPAddress:
		return []string{e.IPAddress}
	case FieldUserAgent:
		return []string{e.UserAgent}
	default:
		return nil
	}
}
