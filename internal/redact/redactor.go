package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/raaihank/phi-sentinel/internal/logger"
	"github.com/raaihank/phi-sentinel/internal/privacy"
	"go.uber.org/zap"
)

// Scanner produces position-ordered PHI matches for a text
type Scanner interface {
	Detect(text string) []privacy.Match
}

// Redactor rewrites PHI spans found by a Scanner
type Redactor struct {
	scanner Scanner
	logger  *logger.Logger
}

// New creates a redactor backed by scanner
func New(scanner Scanner, log *logger.Logger) *Redactor {
	return &Redactor{scanner: scanner, logger: log}
}

// Redact replaces every detected span in text
func (r *Redactor) Redact(text string, opts Options) Result {
	result := RedactMatches(text, r.scanner.Detect(text), opts)
	r.logResult("redact", result)
	return result
}

// RedactByType replaces only spans whose pattern name is in allowedTypes.
// Other spans are left verbatim and are not reported.
func (r *Redactor) RedactByType(text string, allowedTypes []string, opts Options) Result {
	allowed := make(map[string]bool, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[t] = true
	}

	selected := make([]privacy.Match, 0)
	for _, m := range r.scanner.Detect(text) {
		if allowed[m.Type] {
			selected = append(selected, m)
		}
	}

	result := RedactMatches(text, selected, opts)
	r.logResult("redact_by_type", result)
	return result
}

// RedactBatch redacts each text independently, preserving input order
func (r *Redactor) RedactBatch(texts []string, opts Options) []Result {
	results := make([]Result, len(texts))
	for i, text := range texts {
		results[i] = RedactMatches(text, r.scanner.Detect(text), opts)
	}

	r.logger.Debug("Batch redaction completed", zap.Int("texts", len(texts)))
	return results
}

// CreateSafePreview redacts every match to a bracketed placeholder and
// truncates to maxLength characters, appending an ellipsis when cut. A
// non-positive maxLength uses the default of 200.
func (r *Redactor) CreateSafePreview(text string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = defaultPreviewLength
	}

	preset := Options{RedactionChar: PreviewChar}
	redacted := []rune(RedactMatches(text, r.scanner.Detect(text), preset).RedactedText)
	if len(redacted) <= maxLength {
		return r.maskResidual(redacted, "")
	}
	return r.maskResidual(redacted[:maxLength], ellipsis)
}

// maskResidual blanks characters of body that still form a match once the
// preview is assembled, such as a long digit run cut down to nine digits.
// Masking keeps the length so the maxLength bound still holds.
func (r *Redactor) maskResidual(body []rune, suffix string) string {
	for {
		preview := string(body) + suffix
		changed := false
		for _, m := range r.scanner.Detect(preview) {
			for i := m.StartIndex; i < m.EndIndex && i < len(body); i++ {
				if body[i] != PreviewChar {
					body[i] = PreviewChar
					changed = true
				}
			}
		}
		if !changed {
			return preview
		}
	}
}

func (r *Redactor) logResult(op string, result Result) {
	if result.RedactionCount == 0 {
		return
	}
	r.logger.Debug("PHI redacted",
		zap.String("operation", op),
		zap.Int("redactions", result.RedactionCount),
		zap.Strings("types", privacy.Types(result.Matches)),
	)
}

// span is a rewrite region in character offsets
type span struct {
	start, end int
}

// RedactMatches rewrites text using the given matches. Matches that overlap
// are coalesced into one region covering their union, and the replacement is
// generated from the region's original text. Regions are spliced from the
// end of the text backwards so earlier offsets stay valid. The returned
// matches are in ascending position order.
func RedactMatches(text string, matches []privacy.Match, opts Options) Result {
	runes := []rune(text)
	applied := make([]privacy.Match, 0, len(matches))
	for _, m := range matches {
		if m.StartIndex < 0 || m.EndIndex > len(runes) || m.StartIndex >= m.EndIndex {
			continue
		}
		applied = append(applied, m)
	}

	result := Result{
		RedactedText:   text,
		Matches:        applied,
		RedactionCount: len(applied),
		OriginalLength: len(runes),
		RedactedLength: len(runes),
	}
	if len(applied) == 0 {
		return result
	}

	sort.SliceStable(applied, func(i, j int) bool {
		return applied[i].StartIndex < applied[j].StartIndex
	})

	regions := make([]span, 0, len(applied))
	for _, m := range applied {
		last := len(regions) - 1
		if last >= 0 && m.StartIndex < regions[last].end {
			if m.EndIndex > regions[last].end {
				regions[last].end = m.EndIndex
			}
			continue
		}
		regions = append(regions, span{start: m.StartIndex, end: m.EndIndex})
	}

	// Pieces are collected back to front
	pieces := make([]string, 0, 2*len(regions)+1)
	cursor := len(runes)
	for i := len(regions) - 1; i >= 0; i-- {
		region := regions[i]
		pieces = append(pieces,
			string(runes[region.end:cursor]),
			GenerateReplacement(string(runes[region.start:region.end]), opts),
		)
		cursor = region.start
	}
	pieces = append(pieces, string(runes[:cursor]))

	var b strings.Builder
	b.Grow(len(text))
	for i := len(pieces) - 1; i >= 0; i-- {
		b.WriteString(pieces[i])
	}

	result.RedactedText = b.String()
	result.RedactedLength = utf8.RuneCountInString(result.RedactedText)
	return result
}

// GenerateReplacement computes the replacement for one value. Exactly one
// strategy applies, in priority order: hash, partial, preserve length,
// bracketed placeholder.
func GenerateReplacement(value string, opts Options) string {
	length := utf8.RuneCountInString(value)
	fill := string(opts.RedactionChar)

	switch {
	case opts.UseHash:
		sum := sha256.Sum256([]byte(value))
		return opts.HashPrefix + hex.EncodeToString(sum[:])[:hashLength]
	case opts.ShowPartial && length > 2*opts.PartialChars:
		runes := []rune(value)
		k := max(opts.PartialChars, 0)
		return string(runes[:k]) + strings.Repeat(fill, length-2*k) + string(runes[length-k:])
	case opts.PreserveLength:
		return strings.Repeat(fill, length)
	default:
		return "[" + fill + "REDACTED" + fill + "]"
	}
}
