package audit

// Payload produces the details map stored on an event. Each action has a
// typed payload documenting the keys it writes.
type Payload interface {
	Details() Details
}

// Fields is a free-form payload
type Fields map[string]any

func (f Fields) Details() Details {
	d := make(Details, len(f))
	for k, v := range f {
		d[k] = v
	}
	return d
}

// PHIDetectionDetails is the payload of phi_detected events
type PHIDetectionDetails struct {
	PHITypes   []string
	Confidence string
	MatchCount int
}

func (p PHIDetectionDetails) Details() Details {
	types := p.PHITypes
	if types == nil {
		types = []string{}
	}
	return Details{
		"phiTypes":   types,
		"confidence": p.Confidence,
		"matchCount": p.MatchCount,
	}
}

// PHIRedactionDetails is the payload of phi_redacted events
type PHIRedactionDetails struct {
	RedactionCount  int
	RedactionMethod string
}

func (p PHIRedactionDetails) Details() Details {
	return Details{
		"redactionCount":  p.RedactionCount,
		"redactionMethod": p.RedactionMethod,
	}
}

// FileDetails is the payload of file_uploaded and file_downloaded events
type FileDetails struct {
	FileName string
	FileSize int64
	FileType string
}

func (p FileDetails) Details() Details {
	return Details{
		"fileName": p.FileName,
		"fileSize": p.FileSize,
		"fileType": p.FileType,
	}
}

// ExportDetails is the payload of data_exported events
type ExportDetails struct {
	Format      string
	RecordCount int
	ContainsPHI bool
}

func (p ExportDetails) Details() Details {
	return Details{
		"format":      p.Format,
		"recordCount": p.RecordCount,
		"containsPHI": p.ContainsPHI,
	}
}

// AccessDetails is the payload of data_accessed, permission_denied and
// security_violation events
type AccessDetails struct {
	Method string
	Path   string
	Reason string
}

func (p AccessDetails) Details() Details {
	d := Details{
		"method": p.Method,
		"path":   p.Path,
	}
	if p.Reason != "" {
		d["reason"] = p.Reason
	}
	return d
}
