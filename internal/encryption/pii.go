package encryption

import "regexp"

// PII value patterns used to flag values that should never be stored in the
// clear. These classify values, not fields; field lists are configured by
// the caller.
var piiPatterns = map[string]*regexp.Regexp{
	"email":       regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	"phone":       regexp.MustCompile(`\+?[1-9]\d{1,14}`),
	"ssn":         regexp.MustCompile(`\d{3}-?\d{2}-?\d{4}`),
	"credit_card": regexp.MustCompile(`\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}`),
}

// piiPatternOrder fixes the reporting order for DetectPII.
var piiPatternOrder = []string{"credit_card", "email", "phone", "ssn"}

// DetectPII returns the pattern names that match the given value.
// An empty result means no known PII pattern matched.
func DetectPII(value string) []string {
	var matched []string
	for _, name := range piiPatternOrder {
		if piiPatterns[name].MatchString(value) {
			matched = append(matched, name)
		}
	}
	return matched
}
