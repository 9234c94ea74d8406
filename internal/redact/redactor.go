// Package redact removes personally identifiable information from incident
// free text before it reaches the LLM or leaves the platform.
//
// A primary Analyzer (an external PII-detection service) is preferred; when
// it is unavailable or fails, a regex fallback covers the highest-risk
// entity shapes. Scrubbing is idempotent: placeholders never re-match.
package redact

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/maniltns/AEGIS/internal/incident"
)

// Entity is a detected PII span from the primary analyzer.
type Entity struct {
	Type  string // PERSON, EMAIL_ADDRESS, PHONE_NUMBER, ...
	Start int
	End   int
}

// Analyzer detects PII entities in text. Implementations wrap an external
// detection engine; a nil Analyzer selects the regex fallback.
type Analyzer interface {
	Analyze(text string) ([]Entity, error)
}

// Placeholders per analyzer entity type. DATE_TIME is deliberately absent:
// dates are kept for temporal context.
var placeholders = map[string]string{
	"PERSON":          "<PERSON>",
	"EMAIL_ADDRESS":   "<EMAIL>",
	"PHONE_NUMBER":    "<PHONE>",
	"CREDIT_CARD":     "<CARD>",
	"IBAN_CODE":       "<IBAN>",
	"IP_ADDRESS":      "<IP>",
	"LOCATION":        "<LOCATION>",
	"NRP":             "<ID>",
	"MEDICAL_LICENSE": "<MEDICAL_ID>",
	"URL":             "<URL>",
}

// Fallback patterns. Order matters: cards before phones so a 16-digit
// grouped number is not half-eaten by the phone pattern.
var fallbackPatterns = []struct {
	re          *regexp.Regexp
	placeholder string
}{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "<EMAIL>"},
	{regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), "<CARD>"},
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`), "<PHONE>"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "<IP>"},
	{regexp.MustCompile(`\b\d{3}[-\s]?\d{2}[-\s]?\d{4}\b`), "<SSN>"},
}

// Redactor applies PII scrubbing to free-text fields.
type Redactor struct {
	analyzer Analyzer
	log      *slog.Logger
}

// New returns a Redactor. analyzer may be nil, in which case only the
// regex fallback runs.
func New(analyzer Analyzer, log *slog.Logger) *Redactor {
	if log == nil {
		log = slog.Default()
	}
	return &Redactor{analyzer: analyzer, log: log.With("component", "redact")}
}

// Scrub replaces PII in text with fixed placeholders. Empty and
// whitespace-only inputs are returned unchanged. Scrub(Scrub(x)) == Scrub(x).
func (r *Redactor) Scrub(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}

	if r.analyzer != nil {
		entities, err := r.analyzer.Analyze(text)
		if err == nil {
			return applyEntities(text, entities)
		}
		r.log.Warn("analyzer unavailable, using regex fallback", "error", err)
	}

	return fallbackScrub(text)
}

// ScrubIncident scrubs only the named free-text fields of an incident,
// returning a copy. Structural and numeric fields are untouched.
func (r *Redactor) ScrubIncident(inc incident.Incident) incident.Incident {
	out := inc
	out.ShortDescription = r.Scrub(inc.ShortDescription)
	out.Description = r.Scrub(inc.Description)
	return out
}

// applyEntities replaces spans back-to-front so earlier offsets stay valid.
func applyEntities(text string, entities []Entity) string {
	for i := len(entities) - 1; i >= 0; i-- {
		e := entities[i]
		if e.Start < 0 || e.End > len(text) || e.Start >= e.End {
			continue
		}
		placeholder, ok := placeholders[e.Type]
		if !ok {
			continue // unknown type, or DATE_TIME kept for context
		}
		text = text[:e.Start] + placeholder + text[e.End:]
	}
	return text
}

func fallbackScrub(text string) string {
	for _, p := range fallbackPatterns {
		text = p.re.ReplaceAllString(text, p.placeholder)
	}
	return text
}
