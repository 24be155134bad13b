package privacy

import "regexp"

// Pattern names, in registration order.
const (
	PatternSSN         = "SSN"
	PatternMedicare    = "Medicare Number"
	PatternEmail       = "Email"
	PatternPhone       = "Phone Number"
	PatternMRN         = "Medical Record Number"
	PatternDOB         = "Date of Birth"
	PatternCreditCard  = "Credit Card"
	PatternIPAddress   = "IP Address"
	PatternPatientName = "Patient Name Context"
	PatternDoctorName  = "Doctor Name Context"
	PatternAddress     = "Address"
)

const (
	categoryIdentifier  = "identifier"
	categoryContact     = "contact"
	categoryMedical     = "medical"
	categoryDemographic = "demographic"
	categoryFinancial   = "financial"
	categoryTechnical   = "technical"
	categoryProvider    = "provider"
)

const (
	octet           = `(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)`
	capitalizedWord = `[A-Z][a-z]+`
	streetSuffixes  = `(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct)`

	creditCardAlternatives = `4\d{12}(?:\d{3})?` + // Visa
		`|5[1-5]\d{14}` + // Mastercard
		`|3[47]\d{13}` + // Amex
		`|6(?:011|5\d{2})\d{12}` // Discover
)

// registry is compiled once and never mutated. Go regexps carry no scan
// cursor between calls, so sharing them across goroutines is safe.
var registry = []Pattern{
	{
		Name:       PatternSSN,
		Pattern:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b|\b\d{9}\b`),
		Confidence: ConfidenceHigh,
		Category:   categoryIdentifier,
	},
	{
		Name:       PatternMedicare,
		Pattern:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}-[A-Za-z]\b`),
		Confidence: ConfidenceHigh,
		Category:   categoryIdentifier,
	},
	{
		Name:       PatternEmail,
		Pattern:    regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		Confidence: ConfidenceMedium,
		Category:   categoryContact,
	},
	{
		Name:       PatternPhone,
		Pattern:    regexp.MustCompile(`(?:\+?1[-.\s]?)?(?:\(\d{3}\)|\b\d{3})[-.\s]?\d{3}[-.\s]?\d{4}\b`),
		Confidence: ConfidenceMedium,
		Category:   categoryContact,
	},
	{
		Name:       PatternMRN,
		Pattern:    regexp.MustCompile(`(?i)\b(?:MRN|Medical\s+Record\s+Number)\s*[:#]?\s*[\w-]{4,20}\b`),
		Confidence: ConfidenceHigh,
		Category:   categoryMedical,
	},
	{
		Name:       PatternDOB,
		Pattern:    regexp.MustCompile(`(?i)\b(?:DOB|Date\s+of\s+Birth)\s*:?\s*\d{1,2}[-/]\d{1,2}[-/]\d{2,4}\b`),
		Confidence: ConfidenceHigh,
		Category:   categoryDemographic,
	},
	{
		Name:       PatternCreditCard,
		Pattern:    regexp.MustCompile(`\b(?:` + creditCardAlternatives + `)\b`),
		Confidence: ConfidenceHigh,
		Category:   categoryFinancial,
	},
	{
		Name:       PatternIPAddress,
		Pattern:    regexp.MustCompile(`\b(?:` + octet + `\.){3}` + octet + `\b`),
		Confidence: ConfidenceLow,
		Category:   categoryTechnical,
	},
	{
		Name:       PatternPatientName,
		Pattern:    regexp.MustCompile(`\b(?i:patient)\s*:?\s+` + capitalizedWord + `(?:\s+` + capitalizedWord + `)+\b`),
		Confidence: ConfidenceMedium,
		Category:   categoryDemographic,
	},
	{
		Name:       PatternDoctorName,
		Pattern:    regexp.MustCompile(`(?:\bDr\.|\b(?i:doctor|physician|provider)\b)\s*:?\s*` + capitalizedWord + `(?:\s+` + capitalizedWord + `)?\b`),
		Confidence: ConfidenceMedium,
		Category:   categoryProvider,
	},
	{
		Name:       PatternAddress,
		Pattern:    regexp.MustCompile(`(?i)\b\d+\s+(?:[a-z]+\s+)+` + streetSuffixes + `\b`),
		Confidence: ConfidenceMedium,
		Category:   categoryDemographic,
	},
}

// DefaultPatterns returns a copy of the registered PHI patterns in
// registration order.
func DefaultPatterns() []Pattern {
	patterns := make([]Pattern, len(registry))
	copy(patterns, registry)
	return patterns
}
