package sanitize

import (
	"context"
	"regexp"
	"unicode/utf8"

	"github.com/mikey/llm-email-triage/internal/core"
	"go.uber.org/zap"
)

// defaultPatterns match embedded-instruction attacks that must never
// reach the inference service.
var defaultPatterns = []string{
	`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`,
	`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+instructions`,
	`(?i)you\s+are\s+now\s+(a|an|in)\s+`,
	`(?i)system\s*prompt\s*:`,
	`(?i)\bdo\s+anything\s+now\b`,
	`(?i)reveal\s+your\s+(system\s+)?prompt`,
}

// Sanitizer is the default preprocessing/security collaborator: it
// scrubs invalid UTF-8, bounds the body size, and blocks messages
// matching known injection patterns.
type Sanitizer struct {
	patterns    []*regexp.Regexp
	maxBodySize int
	logger      *zap.Logger
}

// New creates a sanitizer. Empty patterns fall back to the built-in
// injection pattern list; a maxBodySize of 0 disables truncation.
func New(patterns []string, maxBodySize int, logger *zap.Logger) (*Sanitizer, error) {
	if len(patterns) == 0 {
		patterns = defaultPatterns
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, re)
	}
	return &Sanitizer{patterns: compiled, maxBodySize: maxBodySize, logger: logger}, nil
}

// Sanitize checks an email against the blocklist and returns cleaned
// content. A blocked result short-circuits the pipeline upstream.
func (s *Sanitizer) Sanitize(ctx context.Context, email *core.Email) (*core.SanitizeResult, error) {
	text := email.Subject + "\n" + email.Body
	for _, re := range s.patterns {
		if re.MatchString(text) {
			s.logger.Warn("Blocked message matching security pattern",
				zap.String("message_id", email.MessageID),
				zap.String("pattern", re.String()))
			return &core.SanitizeResult{Blocked: true, Pattern: re.String()}, nil
		}
	}

	content := truncate(scrubUTF8(email.Body), s.maxBodySize)
	return &core.SanitizeResult{Content: content}, nil
}

// scrubUTF8 drops invalid UTF-8 sequences so the content is safe to
// embed in a JSON prompt.
func scrubUTF8(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	result := make([]rune, 0, len(text))
	for i, r := range text {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(text[i:]); size == 1 {
				continue
			}
		}
		result = append(result, r)
	}
	return string(result)
}

// truncate bounds text to maxSize bytes on a rune boundary.
func truncate(text string, maxSize int) string {
	if maxSize <= 0 || len(text) <= maxSize {
		return text
	}
	truncated := text[:maxSize]
	for !utf8.ValidString(truncated) && len(truncated) > 0 {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated + "\n[... Content truncated due to size limits ...]"
}
