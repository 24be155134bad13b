package audit

import (
	"errors"
	"maps"
	"slices"
	"time"
)

var (
	// ErrClosed is returned by Log after Close
	ErrClosed = errors.New("audit logger closed")
	// ErrUnknownFormat is returned by ExportAuditLog for unsupported formats
	ErrUnknownFormat = errors.New("unknown export format")
)

// Action identifies what an audit event records
type Action string

const (
	ActionPHIDetected               Action = "phi_detected"
	ActionPHIRedacted               Action = "phi_redacted"
	ActionFileUploaded              Action = "file_uploaded"
	ActionFileDownloaded            Action = "file_downloaded"
	ActionDataAccessed              Action = "data_accessed"
	ActionDataExported              Action = "data_exported"
	ActionComplianceReportGenerated Action = "compliance_report_generated"
	ActionSystemLogin               Action = "system_login"
	ActionSystemLogout              Action = "system_logout"
	ActionPermissionDenied          Action = "permission_denied"
	ActionSecurityViolation         Action = "security_violation"
)

var actions = map[Action]bool{
	ActionPHIDetected:               true,
	ActionPHIRedacted:               true,
	ActionFileUploaded:              true,
	ActionFileDownloaded:            true,
	ActionDataAccessed:              true,
	ActionDataExported:              true,
	ActionComplianceReportGenerated: true,
	ActionSystemLogin:               true,
	ActionSystemLogout:              true,
	ActionPermissionDenied:          true,
	ActionSecurityViolation:         true,
}

// Valid reports whether a is a known action
func (a Action) Valid() bool {
	return actions[a]
}

// ResourceType classifies the resource an event refers to
type ResourceType string

const (
	ResourceFile   ResourceType = "file"
	ResourceData   ResourceType = "data"
	ResourceSystem ResourceType = "system"
)

// RiskLevel is the severity attached to an event
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether r is a known risk level
func (r RiskLevel) Valid() bool {
	return r.Rank() > 0
}

// Rank orders risk levels from 1 (low) to 4 (critical); unknown levels are 0
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return 0
}

func (r RiskLevel) elevated() bool {
	return r.Rank() >= RiskHigh.Rank()
}

// Details is the key/value payload carried by an event
type Details map[string]any

// Event is a single immutable audit record
type Event struct {
	ID              string       `json:"id"`
	Timestamp       time.Time    `json:"timestamp"`
	UserID          string       `json:"userId"`
	Action          Action       `json:"action"`
	ResourceType    ResourceType `json:"resourceType"`
	ResourceID      string       `json:"resourceId"`
	Details         Details      `json:"details"`
	RiskLevel       RiskLevel    `json:"riskLevel"`
	ComplianceFlags []string     `json:"complianceFlags"`
	IPAddress       string       `json:"ipAddress,omitempty"`
	UserAgent       string       `json:"userAgent,omitempty"`
}

// clone copies the flag slice and details map so callers cannot reach the
// stored event. Details values are copied shallowly.
func (e Event) clone() Event {
	e.ComplianceFlags = slices.Clone(e.ComplianceFlags)
	e.Details = maps.Clone(e.Details)
	return e
}

// DateRange is an inclusive time window
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the range, bounds included
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Filter narrows GetEvents. Zero-valued fields do not filter. Limit is
// applied after every other criterion and keeps the newest events.
type Filter struct {
	UserID    string
	Action    Action
	RiskLevel RiskLevel
	DateRange *DateRange
	Limit     int
}

// ComplianceMetrics aggregates a window of events
type ComplianceMetrics struct {
	TotalEvents    int       `json:"totalEvents"`
	PHIDetections  int       `json:"phiDetections"`
	Redactions     int       `json:"redactions"`
	HighRiskEvents int       `json:"highRiskEvents"`
	Violations     int       `json:"violations"`
	TimeRange      DateRange `json:"timeRange"`
}

// Format selects the export encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)
