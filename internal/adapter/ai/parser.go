package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clduab11/pricehawk/internal/domain"
)

// Verdict is the structured validation decision a model must produce.
type Verdict struct {
	IsGlitch   bool    `json:"is_glitch"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	GlitchType string  `json:"glitch_type"`
}

// ExtractObject locates the first balanced JSON object in a model reply,
// tolerating surrounding prose and markdown fences. No repair is attempted:
// a reply without one balanced object is rejected.
func ExtractObject(reply string) (string, error) {
	reply = stripFences(reply)
	start := strings.IndexByte(reply, '{')
	if start == -1 {
		return "", fmt.Errorf("%w: no object in reply", domain.ErrEmptyResponse)
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(reply); i++ {
		ch := reply[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return reply[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: unbalanced object in reply", domain.ErrEmptyResponse)
}

// ParseVerdict extracts and validates a Verdict from a raw model reply. The
// is_glitch field must be a boolean and confidence is clamped to [0,100];
// unknown glitch types collapse to "unknown".
func ParseVerdict(reply string) (Verdict, error) {
	obj, err := ExtractObject(reply)
	if err != nil {
		return Verdict{}, err
	}

	// Decode into a loose map first so a missing or non-boolean is_glitch is
	// distinguishable from false.
	var loose map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &loose); err != nil {
		return Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	rawIsGlitch, ok := loose["is_glitch"]
	if !ok {
		return Verdict{}, fmt.Errorf("verdict missing is_glitch")
	}
	var isGlitch bool
	if err := json.Unmarshal(rawIsGlitch, &isGlitch); err != nil {
		return Verdict{}, fmt.Errorf("is_glitch not boolean: %w", err)
	}

	var v Verdict
	if err := json.Unmarshal([]byte(obj), &v); err != nil {
		return Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	v.Confidence = domain.ClampConfidence(v.Confidence)
	if normalizeGlitchType(v.GlitchType) == domain.GlitchUnknown {
		v.GlitchType = string(domain.GlitchUnknown)
	}
	return v, nil
}

// GlitchType returns the typed classification for the verdict.
func (v Verdict) Type() domain.GlitchType { return normalizeGlitchType(v.GlitchType) }

func normalizeGlitchType(s string) domain.GlitchType {
	switch domain.GlitchType(strings.ToLower(strings.TrimSpace(s))) {
	case domain.GlitchDecimalError:
		return domain.GlitchDecimalError
	case domain.GlitchDatabaseError:
		return domain.GlitchDatabaseError
	case domain.GlitchClearance:
		return domain.GlitchClearance
	case domain.GlitchCouponStack:
		return domain.GlitchCouponStack
	default:
		return domain.GlitchUnknown
	}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
