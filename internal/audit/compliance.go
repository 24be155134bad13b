package audit

import "strings"

// Compliance flags attached to events
const (
	FlagPHIDetection     = "hipaa_phi_detection"
	FlagHighRiskPHI      = "hipaa_high_risk_phi"
	FlagPHIRedaction     = "hipaa_phi_redaction"
	FlagPHIExport        = "hipaa_phi_export"
	FlagAccessViolation  = "access_control_violation"
	FlagStructuredUpload = "structured_data_upload"
)

var structuredFileTypes = map[string]bool{
	"xlsx": true,
	"csv":  true,
	"txt":  true,
}

// complianceFlags derives the flags for a new event. The result only depends
// on its arguments and is never recomputed once the event exists.
func complianceFlags(action Action, details Details, risk RiskLevel) []string {
	flags := make([]string, 0, 2)

	switch action {
	case ActionPHIDetected:
		flags = append(flags, FlagPHIDetection)
		if risk == RiskHigh {
			flags = append(flags, FlagHighRiskPHI)
		}
	case ActionPHIRedacted:
		flags = append(flags, FlagPHIRedaction)
	case ActionDataExported:
		if truthy(details["containsPHI"]) {
			flags = append(flags, FlagPHIExport)
		}
	case ActionPermissionDenied:
		flags = append(flags, FlagAccessViolation)
	case ActionFileUploaded:
		if fileType, ok := details["fileType"].(string); ok && structuredFileTypes[fileType] {
			flags = append(flags, FlagStructuredUpload)
		}
	}

	return flags
}

// isViolation reports whether a flag marks a violation or breach
func isViolation(flag string) bool {
	return strings.Contains(flag, "violation") || strings.Contains(flag, "breach")
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}
