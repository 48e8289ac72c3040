package domain

import (
	"regexp"
	"strings"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{6,15}$`)

// phoneNoise is stripped before validation: formatting people type.
var phoneNoise = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "", "\t", "")

// NormalizePhone strips formatting characters and validates the result.
// The canonical form is what contacts are keyed on.
func NormalizePhone(s string) (string, bool) {
	p := phoneNoise.Replace(strings.TrimSpace(s))
	if !phonePattern.MatchString(p) {
		return "", false
	}
	return p, true
}

// NormalizeEmail trims and lowercases an address and performs a minimal
// shape check (one "@", non-empty local part and domain).
func NormalizeEmail(s string) (string, bool) {
	e := strings.ToLower(strings.TrimSpace(s))
	at := strings.LastIndex(e, "@")
	if at <= 0 || at == len(e)-1 || strings.ContainsAny(e, " \t<>") || strings.Count(e, "@") != 1 {
		return "", false
	}
	return e, true
}
