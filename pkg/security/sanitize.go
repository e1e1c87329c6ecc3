package security

import (
	"fmt"
	"regexp"
)

// defaultInjectionPatterns flags common prompt-injection markers seen in
// action results before they are fed back to the calling LLM.
var defaultInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all )?previous instructions`),
	regexp.MustCompile(`(?i)disregard (the|your) (system|prior) prompt`),
	regexp.MustCompile(`(?i)you are now (in )?(developer|jailbreak|dan) mode`),
	regexp.MustCompile(`(?i)<\|?(system|assistant)\|?>`),
	regexp.MustCompile(`(?i)reveal (your|the) (system prompt|instructions)`),
}

// OutputSanitizer walks an action's result tree, truncating anything over
// its configured bounds and redacting prompt-injection markers, so a
// malicious or runaway provider cannot smuggle instructions back to the LLM.
type OutputSanitizer struct {
	maxDepth int
	maxLen   int
	maxNodes int
	patterns []*regexp.Regexp
}

// NewOutputSanitizer creates a sanitizer with the given bounds and the
// default redaction pattern set.
func NewOutputSanitizer(maxDepth, maxLen, maxNodes int) *OutputSanitizer {
	return &OutputSanitizer{
		maxDepth: maxDepth,
		maxLen:   maxLen,
		maxNodes: maxNodes,
		patterns: defaultInjectionPatterns,
	}
}

// WithPatterns replaces the redaction pattern set.
func (s *OutputSanitizer) WithPatterns(patterns []*regexp.Regexp) *OutputSanitizer {
	s.patterns = patterns
	return s
}

// Sanitize returns a depth/length/size-bounded, redacted copy of result.
func (s *OutputSanitizer) Sanitize(result interface{}) interface{} {
	nodes := 0
	return s.walk(result, 0, &nodes)
}

func (s *OutputSanitizer) walk(v interface{}, depth int, nodes *int) interface{} {
	*nodes++
	if *nodes > s.maxNodes {
		return "[sanitizer: node limit exceeded]"
	}
	if depth > s.maxDepth {
		return "[sanitizer: depth limit exceeded]"
	}

	switch val := v.(type) {
	case string:
		return s.redactAndTruncate(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = s.walk(item, depth+1, nodes)
			if *nodes > s.maxNodes {
				break
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(val))
		for _, item := range val {
			out = append(out, s.walk(item, depth+1, nodes))
			if *nodes > s.maxNodes {
				break
			}
		}
		return out
	default:
		return val
	}
}

func (s *OutputSanitizer) redactAndTruncate(str string) string {
	for _, pattern := range s.patterns {
		str = pattern.ReplaceAllString(str, "[redacted]")
	}
	if len(str) > s.maxLen {
		return fmt.Sprintf("%s... [truncated, %d bytes]", str[:s.maxLen], len(str))
	}
	return str
}
