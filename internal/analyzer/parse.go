package analyzer

import (
	"encoding/json"
	"strings"

	"github.com/mikey/llm-email-triage/internal/core"
)

// triageResponse is the structured response expected from the model.
type triageResponse struct {
	Priority    string   `json:"priority"`
	Confidence  float64  `json:"confidence"`
	Summary     string   `json:"summary"`
	Tags        []string `json:"tags"`
	Sentiment   string   `json:"sentiment"`
	ActionItems []string `json:"action_items"`
}

// parsed is the tagged outcome of interpreting model output: a full
// parse, a partial heuristic recovery, or nothing usable.
type parsed struct {
	Status      core.ParseStatus
	Priority    core.Priority
	Confidence  float64
	Summary     string
	Tags        []string
	Sentiment   string
	ActionItems []string
}

// parseResponse interprets raw model output. Parse failure never
// surfaces as an error; it degrades through JSON extraction to a
// keyword scan, preferring a partial low-confidence result over total
// failure.
func parseResponse(text string) parsed {
	var resp triageResponse
	if err := json.Unmarshal([]byte(text), &resp); err == nil {
		return fromResponse(resp, core.ParseStatusParsed)
	}

	// The model often wraps JSON in prose or code fences; try the
	// outermost brace pair before giving up on structure.
	if inner, ok := extractJSON(text); ok {
		if err := json.Unmarshal([]byte(inner), &resp); err == nil {
			return fromResponse(resp, core.ParseStatusParsed)
		}
	}

	return extractHeuristically(text)
}

func fromResponse(resp triageResponse, status core.ParseStatus) parsed {
	return parsed{
		Status:      status,
		Priority:    core.ParsePriority(resp.Priority),
		Confidence:  clamp01(resp.Confidence),
		Summary:     strings.TrimSpace(resp.Summary),
		Tags:        normalizeTags(resp.Tags),
		Sentiment:   normalizeSentiment(resp.Sentiment),
		ActionItems: capItems(resp.ActionItems, 5),
	}
}

// extractJSON returns the substring spanning the first '{' to the last
// '}' when one exists.
func extractJSON(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// extractHeuristically recovers what it can from free-form output: a
// keyword priority scan and the first sentence as summary.
func extractHeuristically(text string) parsed {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return parsed{
			Status:     core.ParseStatusUnparseable,
			Priority:   core.PriorityMedium,
			Confidence: 0.1,
			Tags:       []string{"general"},
			Sentiment:  core.SentimentNeutral,
		}
	}

	lower := strings.ToLower(trimmed)
	priority := core.PriorityMedium
	switch {
	case strings.Contains(lower, "high priority") || strings.Contains(lower, "urgent"):
		priority = core.PriorityHigh
	case strings.Contains(lower, "low priority") || strings.Contains(lower, "not important"):
		priority = core.PriorityLow
	}

	return parsed{
		Status:     core.ParseStatusPartiallyParsed,
		Priority:   priority,
		Confidence: 0.3,
		Summary:    firstSentence(trimmed),
		Tags:       []string{"general"},
		Sentiment:  core.SentimentNeutral,
	}
}

// firstSentence returns text up to the first sentence terminator,
// bounded to keep degenerate output short.
func firstSentence(text string) string {
	if idx := strings.IndexAny(text, ".!?\n"); idx > 0 {
		text = text[:idx+1]
	}
	text = strings.TrimRight(text, "\n")
	if len(text) > 200 {
		text = text[:200]
	}
	return strings.TrimSpace(text)
}

// normalizeTags lowercases and trims tags, drops empties and
// duplicates, caps at five, and guarantees at least one tag.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
		if len(out) == 5 {
			break
		}
	}
	if len(out) == 0 {
		out = append(out, "general")
	}
	return out
}

func normalizeSentiment(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case core.SentimentPositive:
		return core.SentimentPositive
	case core.SentimentNegative:
		return core.SentimentNegative
	default:
		return core.SentimentNeutral
	}
}

func capItems(items []string, max int) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
		if len(out) == max {
			break
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
