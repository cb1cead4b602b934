package router

import (
	"regexp"
	"strings"
)

var (
	subjectPattern = regexp.MustCompile(`(?i)(?:patient|subject)\s+(?:id\s+)?(\d+)`)

	namePattern        = regexp.MustCompile(`(?i)\b(?:named?|family)\s+(?:is\s+)?([A-Za-z]+)`)
	patientNamePattern = regexp.MustCompile(`(?i)\bpatient\s+(?:is\s+)?([A-Za-z]+)`)
)

// fillers are words that follow "patient" in a query without being a name.
var fillers = map[string]bool{
	"search": true,
	"name":   true,
	"named":  true,
	"family": true,
	"with":   true,
	"for":    true,
	"by":     true,
	"id":     true,
}

// ExtractSubject returns the first patient/subject id in message, or fallback.
func ExtractSubject(message, fallback string) string {
	if m := subjectPattern.FindStringSubmatch(message); m != nil {
		return m[1]
	}
	return fallback
}

// ExtractFamilyName returns the family name of a patient search, or "" when
// the message names none. An explicit "name"/"family" wins over a word
// directly after "patient".
func ExtractFamilyName(message string) string {
	if m := namePattern.FindStringSubmatch(message); m != nil {
		return m[1]
	}
	for _, m := range patientNamePattern.FindAllStringSubmatch(message, -1) {
		if !fillers[strings.ToLower(m[1])] {
			return m[1]
		}
	}
	return ""
}
