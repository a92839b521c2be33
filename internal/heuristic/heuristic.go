package heuristic

import (
	"strings"
	"unicode"

	"github.com/mikey/llm-email-triage/internal/core"
)

// Rules is the scoring table for the quick classifier. The same input
// and rule table always yields the same output.
type Rules struct {
	UrgentKeywords     []string
	DeadlinePhrases    []string
	LowPriorityMarkers []string

	SubjectKeywordScore int
	BodyKeywordScore    int
	DeadlineScore       int
	LowPriorityScore    int
	AllCapsScore        int
	ReplyScore          int

	HighThreshold int
	LowThreshold  int
}

// DefaultRules returns the built-in scoring table.
func DefaultRules() Rules {
	return Rules{
		UrgentKeywords: []string{
			"urgent", "asap", "immediately", "critical", "emergency",
			"action required", "important", "time sensitive",
		},
		DeadlinePhrases: []string{
			"by end of day", "eod", "by tomorrow", "deadline", "due date",
			"expires", "before friday", "final notice",
		},
		LowPriorityMarkers: []string{
			"unsubscribe", "newsletter", "no-reply", "noreply",
			"promotional", "view in browser", "special offer",
		},
		SubjectKeywordScore: 2,
		BodyKeywordScore:    1,
		DeadlineScore:       1,
		LowPriorityScore:    -2,
		AllCapsScore:        1,
		ReplyScore:          1,
		HighThreshold:       3,
		LowThreshold:        -2,
	}
}

// Classifier produces an instant priority guess from surface features
// of a message. It performs no I/O and has no side effects.
type Classifier struct {
	rules Rules
}

// New creates a classifier with the given rule table.
func New(rules Rules) *Classifier {
	return &Classifier{rules: rules}
}

// Classify scores an email against the rule table. Malformed or empty
// input degrades to Medium with low confidence rather than failing.
func (c *Classifier) Classify(email *core.Email) core.QuickResult {
	if email == nil || (email.Subject == "" && email.Body == "") {
		return core.QuickResult{Priority: core.PriorityMedium, Confidence: 0.2}
	}

	subject := strings.ToLower(email.Subject)
	body := strings.ToLower(email.Body)
	sender := strings.ToLower(email.From)

	score := 0
	hits := 0

	for _, kw := range c.rules.UrgentKeywords {
		if strings.Contains(subject, kw) {
			score += c.rules.SubjectKeywordScore
			hits++
		} else if strings.Contains(body, kw) {
			score += c.rules.BodyKeywordScore
			hits++
		}
	}
	for _, phrase := range c.rules.DeadlinePhrases {
		if strings.Contains(subject, phrase) || strings.Contains(body, phrase) {
			score += c.rules.DeadlineScore
			hits++
		}
	}
	for _, marker := range c.rules.LowPriorityMarkers {
		if strings.Contains(sender, marker) || strings.Contains(subject, marker) || strings.Contains(body, marker) {
			score += c.rules.LowPriorityScore
			hits++
		}
	}
	if isShouting(email.Subject) {
		score += c.rules.AllCapsScore
		hits++
	}
	if strings.HasPrefix(subject, "re:") {
		score += c.rules.ReplyScore
		hits++
	}

	priority := core.PriorityMedium
	switch {
	case score >= c.rules.HighThreshold:
		priority = core.PriorityHigh
	case score <= c.rules.LowThreshold:
		priority = core.PriorityLow
	}

	return core.QuickResult{Priority: priority, Confidence: confidenceFor(hits)}
}

// confidenceFor maps the number of matched rules to a confidence in
// [0.3, 0.8]. More independent signals mean a stronger guess, but the
// heuristic never claims certainty.
func confidenceFor(hits int) float64 {
	conf := 0.3 + 0.1*float64(hits)
	if conf > 0.8 {
		conf = 0.8
	}
	return conf
}

// isShouting reports whether a subject consists of mostly uppercase
// letters. Short subjects are ignored to avoid matching acronyms.
func isShouting(subject string) bool {
	letters, upper := 0, 0
	for _, r := range subject {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return letters >= 6 && upper*10 >= letters*8
}
