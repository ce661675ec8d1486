package contacts

import (
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var formattingPattern = regexp.MustCompile(`[\s()+-]`)

// StripNumber removes formatting characters and leading zeros.
// "+1 (555) 123-4567" becomes "15551234567".
func StripNumber(number string) string {
	return strings.TrimLeft(formattingPattern.ReplaceAllString(number, ""), "0")
}

// Normalize returns the E.164 form of number, using country as the parsing
// hint when the number is not in international form. Parse failure is not
// fatal: the stripped-but-unformatted input is returned instead, and
// downstream matching falls back to raw-string comparison.
func Normalize(number, country string) string {
	if number == "" {
		return number
	}
	parsed, err := phonenumbers.Parse(number, country)
	if err != nil {
		return StripNumber(number)
	}
	if !phonenumbers.IsPossibleNumber(parsed) && !phonenumbers.IsValidNumber(parsed) {
		return StripNumber(number)
	}
	return phonenumbers.Format(parsed, phonenumbers.E164)
}

// formatE164 parses a stripped candidate and returns its E.164 form, or ""
// when the candidate cannot be parsed.
func formatE164(number, country string) string {
	parsed, err := phonenumbers.Parse(number, country)
	if err != nil {
		return ""
	}
	if !phonenumbers.IsPossibleNumber(parsed) {
		return ""
	}
	return phonenumbers.Format(parsed, phonenumbers.E164)
}
