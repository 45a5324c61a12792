package roster

import (
	"regexp"
	"strings"
)

var (
	reDigits    = regexp.MustCompile(`\d+`)
	reRoom      = regexp.MustCompile(`^R\d+$`)
	reFloor     = regexp.MustCompile(`^F\d+$`)
	reBareDigit = regexp.MustCompile(`^\d$`)
)

// Normalize maps a free-form room identifier to the canonical token used
// for comparison. It never fails; empty input yields an empty token.
//
//	"r 0", " R0"       -> "R0"
//	"2 dorm", "DORMITORY2" -> "2DORM"
//	"f1"               -> "F1"
//	"5"                -> "R5"
func Normalize(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return ""
	}

	// "DORMITORY" contains "DORM". Ambiguous strings take the first numeral.
	if strings.Contains(s, "DORM") {
		if n := reDigits.FindString(s); n != "" {
			return n + "DORM"
		}
		return s
	}

	switch {
	case reRoom.MatchString(s), reFloor.MatchString(s):
		return s
	case reBareDigit.MatchString(s):
		return "R" + s
	}
	return s
}

// NormalizeMobile trims a mobile number and strips a leading "+".
func NormalizeMobile(raw string) string {
	return strings.TrimPrefix(strings.TrimSpace(raw), "+")
}

// MaskMobile hides all but the last four digits of a mobile number for logs.
func MaskMobile(mobile string) string {
	if len(mobile) <= 4 {
		return strings.Repeat("*", len(mobile))
	}
	return strings.Repeat("*", len(mobile)-4) + mobile[len(mobile)-4:]
}
