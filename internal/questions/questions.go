// Package questions checks RSVP answers against an event's question list.
package questions

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"wedding-invites/internal/apperr"
	"wedding-invites/internal/models"
)

// Slugify turns a question label into an answer key: diacritics stripped,
// lowercased, runs of other characters collapsed to "_".
func Slugify(label string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, label)
	if err != nil {
		plain = label
	}

	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(plain) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			sep = false
			continue
		}
		sep = true
	}
	return b.String()
}

// AnswerKey is the canonical key of the question at index i
func AnswerKey(q models.Question, i int) string {
	if key := strings.TrimSpace(q.Key); key != "" {
		return key
	}
	if slug := Slugify(q.Label); slug != "" {
		return slug
	}
	return fmt.Sprintf("q_%d", i+1)
}

// candidates lists where an answer may be found, canonical key first.
// Older clients posted positional keys, both zero- and one-based.
func candidates(q models.Question, i int) []string {
	keys := []string{AnswerKey(q, i)}
	if slug := Slugify(q.Label); slug != "" {
		keys = append(keys, slug)
	}
	return append(keys, fmt.Sprintf("q_%d", i+1), fmt.Sprintf("q_%d", i))
}

// Validate checks answers against questions and returns a copy of answers
// with every answer found under a fallback key also stored under its
// canonical key. Existing keys are never overwritten.
func Validate(qs models.Questions, answers map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(answers))
	for k, v := range answers {
		out[k] = v
	}

	for i, q := range qs {
		canonical := AnswerKey(q, i)
		value, found := lookup(answers, candidates(q, i))
		if found {
			if _, exists := out[canonical]; !exists {
				out[canonical] = value
			}
		}

		if !present(value) {
			if q.Required {
				return nil, apperr.InvalidField(apperr.ReasonInvalidAnswer, q.Label, "answer is required")
			}
			continue
		}
		if err := check(q, value); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func lookup(answers map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := answers[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func present(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	}
	return true
}

func check(q models.Question, value any) error {
	switch q.Type {
	case models.QuestionNumber:
		if !isNumber(value) {
			return apperr.InvalidField(apperr.ReasonInvalidAnswer, q.Label, "answer must be a number")
		}
	case models.QuestionSelect:
		if len(q.Options) == 0 {
			return nil
		}
		s, ok := scalar(value)
		if !ok || !oneOf(s, q.Options) {
			return apperr.InvalidField(apperr.ReasonInvalidAnswer, q.Label, "answer must be one of %s", strings.Join(q.Options, ", "))
		}
	default:
		if _, ok := scalar(value); !ok {
			return apperr.InvalidField(apperr.ReasonInvalidAnswer, q.Label, "answer must be text")
		}
	}
	return nil
}

// decimal is a plain number typed into a form, with a dot or a comma
var decimal = regexp.MustCompile(`^[+-]?(\d+([.,]\d*)?|[.,]\d+)$`)

func isNumber(v any) bool {
	switch v := v.(type) {
	case int, int32, int64:
		return true
	case float32:
		return finite(float64(v))
	case float64:
		return finite(v)
	case json.Number:
		f, err := v.Float64()
		return err == nil && finite(f)
	case string:
		return decimal.MatchString(strings.TrimSpace(v))
	}
	return false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// scalar formats v as a string when it is not a list or an object.
func scalar(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case bool, int, int32, int64, float32, float64, json.Number:
		return fmt.Sprint(v), true
	}
	return "", false
}

func oneOf(s string, options []string) bool {
	s = strings.TrimSpace(s)
	for _, opt := range options {
		if strings.EqualFold(s, strings.TrimSpace(opt)) {
			return true
		}
	}
	return false
}
