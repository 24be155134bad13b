package redact

import (
	"fmt"
	"unicode/utf8"

	"github.com/raaihank/phi-sentinel/internal/config"
	"github.com/raaihank/phi-sentinel/internal/privacy"
)

// PreviewChar is the fill glyph used by CreateSafePreview.
const PreviewChar = '█'

const (
	defaultPreviewLength = 200
	ellipsis             = "..."
	hashLength           = 8
)

// Options controls how matched spans are replaced
type Options struct {
	RedactionChar  rune
	PreserveLength bool
	ShowPartial    bool
	PartialChars   int
	UseHash        bool
	HashPrefix     string
}

// DefaultOptions returns masking with '*' that preserves length
func DefaultOptions() Options {
	return Options{
		RedactionChar:  '*',
		PreserveLength: true,
		PartialChars:   2,
		HashPrefix:     "HASH_",
	}
}

// OptionsFromConfig converts the configured redaction defaults
func OptionsFromConfig(cfg config.RedactionConfig) Options {
	opts := DefaultOptions()
	if r, _ := utf8.DecodeRuneInString(cfg.Char); r != utf8.RuneError {
		opts.RedactionChar = r
	}
	opts.PreserveLength = cfg.PreserveLength
	opts.ShowPartial = cfg.ShowPartial
	opts.PartialChars = cfg.PartialChars
	opts.UseHash = cfg.UseHash
	opts.HashPrefix = cfg.HashPrefix
	return opts
}

// Validate rejects options that cannot produce a replacement
func (o Options) Validate() error {
	if o.RedactionChar == 0 || o.RedactionChar == utf8.RuneError {
		return fmt.Errorf("invalid redaction char %q", o.RedactionChar)
	}
	if o.PartialChars < 0 {
		return fmt.Errorf("invalid partial chars: %d", o.PartialChars)
	}
	return nil
}

// Method names the replacement strategy these options select, in priority
// order: hash, partial, mask, placeholder.
func (o Options) Method() string {
	switch {
	case o.UseHash:
		return "hash"
	case o.ShowPartial:
		return "partial"
	case o.PreserveLength:
		return "mask"
	default:
		return "placeholder"
	}
}

// Result is the outcome of a redaction pass
type Result struct {
	RedactedText   string          `json:"redactedText"`
	Matches        []privacy.Match `json:"matches"`
	RedactionCount int             `json:"redactionCount"`
	OriginalLength int             `json:"originalLength"`
	RedactedLength int             `json:"redactedLength"`
}
