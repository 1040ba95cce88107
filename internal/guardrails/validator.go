// Package guardrails implements the three gates that wrap the query
// pipeline: input validation, retrieval relevance scoring, and
// hallucination detection.
package guardrails

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/groundling/groundling/internal/domain"
)

const ValidatorGate = "input_validator"

// denyPatterns are the built-in unsafe-input families: prompt injection,
// code execution requests, and SQL injection markers.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (previous|above|all) (instructions|rules)`),
	regexp.MustCompile(`(?i)\byou are now\b`),
	regexp.MustCompile(`(?i)\bsystem prompt\b`),
	regexp.MustCompile(`(?i)\bdisregard\b`),
	regexp.MustCompile(`(?i)\b(run|execute|eval)\b.{0,20}\b(code|script|command|shell)\b`),
	regexp.MustCompile(`(?i)\brm\s+-rf\b`),
	regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|ALTER|EXEC)\b.{0,40}\b(FROM|INTO|TABLE|WHERE)\b`),
	// Comment markers and tautologies only count as injection next to a
	// quote or semicolon; a plain "--" dash in prose is fine.
	regexp.MustCompile(`(?i)['";]\s*(--|/\*)`),
	regexp.MustCompile(`(?i)\b(or|and)\b\s+\d+\s*=\s*\d+`),
	regexp.MustCompile(`(?i)\b(xp_|sp_)\w+`),
}

// Validator rejects malicious or unsafe queries before any tool runs.
// It is the first line of defense and never calls a collaborator.
type Validator struct {
	maxLen   int
	patterns []*regexp.Regexp
}

// NewValidator builds a validator with the configured maximum query
// length and optional extra denylist patterns. Invalid extra patterns
// are skipped with a warning rather than failing startup.
func NewValidator(maxLen int, extra []string) *Validator {
	patterns := make([]*regexp.Regexp, 0, len(denyPatterns)+len(extra))
	patterns = append(patterns, denyPatterns...)
	for _, p := range extra {
		re, err := regexp.Compile(p)
		if err != nil {
			slog.Warn("skipping invalid deny pattern", "pattern", p, "error", err)
			continue
		}
		patterns = append(patterns, re)
	}
	return &Validator{maxLen: maxLen, patterns: patterns}
}

// Validate checks the raw query against length and denylist rules.
func (v *Validator) Validate(query string) domain.GuardrailVerdict {
	if strings.TrimSpace(query) == "" {
		return domain.GuardrailVerdict{
			Gate:   ValidatorGate,
			Passed: false,
			Reason: "query cannot be empty",
		}
	}
	if len(query) > v.maxLen {
		return domain.GuardrailVerdict{
			Gate:   ValidatorGate,
			Passed: false,
			Reason: fmt.Sprintf("query too long (max %d characters)", v.maxLen),
		}
	}
	for _, re := range v.patterns {
		if re.MatchString(query) {
			slog.Warn("query rejected by denylist", "pattern", re.String())
			return domain.GuardrailVerdict{
				Gate:   ValidatorGate,
				Passed: false,
				Reason: "query contains disallowed content",
			}
		}
	}
	return domain.GuardrailVerdict{Gate: ValidatorGate, Passed: true, Reason: ""}
}

// Sanitize collapses whitespace and strips control characters.
func Sanitize(query string) string {
	query = strings.Join(strings.Fields(query), " ")
	var b strings.Builder
	for _, r := range query {
		if r >= 32 || r == '\n' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
