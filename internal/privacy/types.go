package privacy

import (
	"errors"
	"regexp"
)

// ErrUnknownRule is returned when a rule name is not in the registry.
var ErrUnknownRule = errors.New("unknown detection rule")

// Confidence is the detector's certainty tier for a pattern
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// rank orders confidence tiers; unknown values rank below low.
func (c Confidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// Pattern is a single named PHI detection rule
type Pattern struct {
	Name       string
	Pattern    *regexp.Regexp
	Confidence Confidence
	Category   string
}

// Match is one occurrence of a pattern in a scanned text. StartIndex and
// EndIndex are half-open character offsets into the source text.
type Match struct {
	Type       string     `json:"type"`
	Value      string     `json:"value"`
	StartIndex int        `json:"startIndex"`
	EndIndex   int        `json:"endIndex"`
	Confidence Confidence `json:"confidence"`
	Category   string     `json:"category"`
}

// RiskLevel classifies a scanned text by the PHI it contains
type RiskLevel string

const (
	RiskNone   RiskLevel = "none"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskAssessment is the result of AnalyzeRisk
type RiskAssessment struct {
	RiskLevel           RiskLevel `json:"riskLevel"`
	PHICount            int       `json:"phiCount"`
	Categories          []string  `json:"categories"`
	HighConfidenceCount int       `json:"highConfidenceCount"`
}

// Summary breaks a scan down by pattern name, category and confidence
type Summary struct {
	TotalMatches int                `json:"totalMatches"`
	ByType       map[string]int     `json:"byType"`
	ByCategory   map[string]int     `json:"byCategory"`
	ByConfidence map[Confidence]int `json:"byConfidence"`
}
