package utils

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// NormalizeText prepares message text for pattern matching: compatibility
// decomposition (so fullwidth and styled digits become ASCII), width folding,
// case folding and whitespace collapsing.
func NormalizeText(text string) string {
	text = SanitizeUTF8(text)
	text = norm.NFKC.String(text)
	text = width.Fold.String(text)
	// Casers keep state and must not be shared between goroutines
	text = cases.Fold().String(text)
	return strings.Join(strings.Fields(text), " ")
}

// NormalizeSender canonicalizes a sender ID for lookups in keyword and allow lists.
// It does not rewrite phone numbers; that is the ingestion layer's job.
func NormalizeSender(sender string) string {
	return strings.ToUpper(strings.TrimSpace(width.Fold.String(sender)))
}

// SenderSuffix strips the operator/circle prefix used by Indian DLT headers ("VM-HDFCBK" -> "HDFCBK")
func SenderSuffix(sender string) string {
	s := NormalizeSender(sender)
	if i := strings.LastIndexByte(s, '-'); i >= 0 && i < len(s)-1 {
		return s[i+1:]
	}
	return s
}

// SanitizeUTF8 drops invalid UTF-8 bytes
func SanitizeUTF8(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// TextProcessor provides logged text clean-up for values headed to storage
type TextProcessor struct {
	logger *zap.Logger
}

// NewTextProcessor creates a new TextProcessor
func NewTextProcessor(logger *zap.Logger) *TextProcessor {
	return &TextProcessor{
		logger: logger,
	}
}

// TruncateText safely truncates text to maxSize bytes on a rune boundary
func (tp *TextProcessor) TruncateText(text string, maxSize int) string {
	if maxSize <= 0 || len(text) <= maxSize {
		return text
	}

	truncated := text[:maxSize]
	for !utf8.ValidString(truncated) && len(truncated) > 0 {
		truncated = truncated[:len(truncated)-1]
	}

	tp.logger.Debug("Text truncated",
		zap.Int("original_size", len(text)),
		zap.Int("truncated_size", len(truncated)),
		zap.Int("max_size", maxSize))

	return truncated + "..."
}

// CleanBody sanitizes a message body before it is classified and stored
func (tp *TextProcessor) CleanBody(text string) string {
	if utf8.ValidString(text) {
		return text
	}

	cleaned := SanitizeUTF8(text)
	tp.logger.Debug("Message body sanitized",
		zap.Int("original_size", len(text)),
		zap.Int("sanitized_size", len(cleaned)))

	return cleaned
}
