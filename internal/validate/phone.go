package validate

import (
	"errors"
	"regexp"
	"strings"
)

// Phone validation errors
var (
	ErrInvalidPhone = errors.New("invalid phone number format")
)

// phonePattern accepts E.164 numbers: a leading +, a non-zero country code
// digit, then up to 14 more digits.
var phonePattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// Phone validates a phone number in E.164 format, as required for SMS
// delivery. Spaces, dashes, dots, and parentheses are stripped before
// validation so common display formats are accepted.
func Phone(number string) (string, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return "", ErrEmpty
	}

	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, number)

	if !phonePattern.MatchString(cleaned) {
		return "", ErrInvalidPhone
	}
	return cleaned, nil
}
