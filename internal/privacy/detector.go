package privacy

import (
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/raaihank/phi-sentinel/internal/config"
	"github.com/raaihank/phi-sentinel/internal/logger"
	"go.uber.org/zap"
)

// Risk thresholds used by AnalyzeRisk.
const (
	highRiskHighConfidence   = 3
	highRiskTotalMatches     = 5
	mediumRiskHighConfidence = 1
	mediumRiskTotalMatches   = 2
)

// Detector scans text for PHI using the pattern registry
type Detector struct {
	patterns []Pattern
	logger   *logger.Logger

	mu      sync.RWMutex
	enabled map[string]bool
	active  bool
}

// New creates a new PHI detector instance
func New(cfg config.PrivacyConfig, log *logger.Logger) (*Detector, error) {
	detector := &Detector{
		patterns: DefaultPatterns(),
		enabled:  make(map[string]bool),
		logger:   log,
	}

	if err := detector.Configure(cfg); err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	log.Info("PHI detector initialized",
		zap.Int("total_rules", len(detector.patterns)),
		zap.Int("enabled_rules", len(detector.EnabledRules())),
	)

	return detector, nil
}

// Configure applies a privacy configuration. It is safe to call while scans
// are in flight; on error the previous rule set is kept.
func (d *Detector) Configure(cfg config.PrivacyConfig) error {
	enabled := make(map[string]bool, len(d.patterns))
	for _, p := range d.patterns {
		enabled[p.Name] = false
	}

	for _, name := range cfg.Detectors {
		if name == "all" {
			for _, p := range d.patterns {
				enabled[p.Name] = true
			}
			continue
		}

		if _, ok := enabled[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRule, name)
		}
		enabled[name] = true
	}

	d.mu.Lock()
	d.enabled = enabled
	d.active = cfg.Enabled
	d.mu.Unlock()

	return nil
}

// Detect returns every match of every enabled pattern, sorted ascending by
// start offset. Matches at the same offset keep registration order. Overlaps
// between different patterns are kept.
func (d *Detector) Detect(text string) []Match {
	matches := make([]Match, 0)
	if text == "" {
		return matches
	}

	d.mu.RLock()
	active := d.active
	enabled := d.enabled
	d.mu.RUnlock()

	if !active {
		return matches
	}

	offsets := newOffsetIndex(text)
	for _, p := range d.patterns {
		if !enabled[p.Name] {
			continue
		}

		locs := p.Pattern.FindAllStringIndex(text, -1)
		for _, loc := range locs {
			if loc[0] == loc[1] {
				continue
			}
			matches = append(matches, Match{
				Type:       p.Name,
				Value:      text[loc[0]:loc[1]],
				StartIndex: offsets.char(loc[0]),
				EndIndex:   offsets.char(loc[1]),
				Confidence: p.Confidence,
				Category:   p.Category,
			})
		}

		if len(locs) > 0 {
			d.logger.Debug("PHI pattern matched",
				zap.String("pattern", p.Name),
				zap.Int("count", len(locs)),
			)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].StartIndex < matches[j].StartIndex
	})

	return matches
}

// ContainsPHI reports whether text has at least one match
func (d *Detector) ContainsPHI(text string) bool {
	return len(d.Detect(text)) > 0
}

// AnalyzeRisk classifies text by the number and confidence of its matches
func (d *Detector) AnalyzeRisk(text string) RiskAssessment {
	return AssessMatches(d.Detect(text))
}

// AssessMatches classifies an already computed match list.
func AssessMatches(matches []Match) RiskAssessment {
	assessment := RiskAssessment{
		RiskLevel:  RiskNone,
		PHICount:   len(matches),
		Categories: make([]string, 0),
	}
	if len(matches) == 0 {
		return assessment
	}

	seen := make(map[string]bool)
	for _, m := range matches {
		if m.Confidence == ConfidenceHigh {
			assessment.HighConfidenceCount++
		}
		if !seen[m.Category] {
			seen[m.Category] = true
			assessment.Categories = append(assessment.Categories, m.Category)
		}
	}

	h, n := assessment.HighConfidenceCount, assessment.PHICount
	switch {
	case h >= highRiskHighConfidence || n >= highRiskTotalMatches:
		assessment.RiskLevel = RiskHigh
	case h >= mediumRiskHighConfidence || n >= mediumRiskTotalMatches:
		assessment.RiskLevel = RiskMedium
	default:
		assessment.RiskLevel = RiskLow
	}

	return assessment
}

// Summary counts matches by pattern name, category and confidence. The
// confidence breakdown always carries all three tiers.
func (d *Detector) Summary(text string) Summary {
	matches := d.Detect(text)
	summary := Summary{
		TotalMatches: len(matches),
		ByType:       make(map[string]int),
		ByCategory:   make(map[string]int),
		ByConfidence: map[Confidence]int{
			ConfidenceHigh:   0,
			ConfidenceMedium: 0,
			ConfidenceLow:    0,
		},
	}

	for _, m := range matches {
		summary.ByType[m.Type]++
		summary.ByCategory[m.Category]++
		summary.ByConfidence[m.Confidence]++
	}

	return summary
}

// HighestConfidence returns the strongest confidence among matches, or the
// empty string for no matches.
func HighestConfidence(matches []Match) Confidence {
	var best Confidence
	for _, m := range matches {
		if m.Confidence.rank() > best.rank() {
			best = m.Confidence
		}
	}
	return best
}

// Types returns the distinct pattern names in matches, first-seen order.
func Types(matches []Match) []string {
	types := make([]string, 0)
	seen := make(map[string]bool)
	for _, m := range matches {
		if !seen[m.Type] {
			seen[m.Type] = true
			types = append(types, m.Type)
		}
	}
	return types
}

// Patterns returns the registry this detector scans with
func (d *Detector) Patterns() []Pattern {
	patterns := make([]Pattern, len(d.patterns))
	copy(patterns, d.patterns)
	return patterns
}

// EnabledRules returns enabled rule names in registration order
func (d *Detector) EnabledRules() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var names []string
	for _, p := range d.patterns {
		if d.enabled[p.Name] {
			names = append(names, p.Name)
		}
	}
	return names
}

// EnableRule enables a specific detection rule
func (d *Detector) EnableRule(ruleName string) error {
	return d.setRule(ruleName, true)
}

// DisableRule disables a specific detection rule
func (d *Detector) DisableRule(ruleName string) error {
	return d.setRule(ruleName, false)
}

func (d *Detector) setRule(ruleName string, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.enabled[ruleName]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownRule, ruleName)
	}

	// Copy so scans holding the previous map are unaffected
	enabled := make(map[string]bool, len(d.enabled))
	for k, v := range d.enabled {
		enabled[k] = v
	}
	enabled[ruleName] = on
	d.enabled = enabled

	d.logger.Info("Detection rule updated", zap.String("rule", ruleName), zap.Bool("enabled", on))
	return nil
}

// offsetIndex converts byte offsets reported by regexp into character
// offsets. ASCII text maps one to one and skips the table.
type offsetIndex struct {
	table []int
}

func newOffsetIndex(text string) offsetIndex {
	if utf8.RuneCountInString(text) == len(text) {
		return offsetIndex{}
	}

	table := make([]int, len(text)+1)
	char, next := 0, 0
	for i := range text {
		// Continuation bytes of the previous character
		for j := next; j < i; j++ {
			table[j] = char - 1
		}
		table[i] = char
		char++
		next = i + 1
	}
	for j := next; j < len(text); j++ {
		table[j] = char - 1
	}
	table[len(text)] = char
	return offsetIndex{table: table}
}

func (o offsetIndex) char(byteOffset int) int {
	if o.table == nil {
		return byteOffset
	}
	return o.table[byteOffset]
}
