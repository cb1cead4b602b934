package router

import "strings"

// Category is the kind of lookup a message was routed to.
type Category int

const (
	CategoryHelp Category = iota
	CategoryPatient
	CategoryCondition
	CategoryProcedure
	CategoryEncounter
	CategoryObservation
	CategoryPrescription
)

// rule pairs a category with the substrings that select it.
type rule struct {
	category Category
	keywords []string
}

// rules are tested in order and the first hit wins, so a message mentioning
// both "condition" and "procedure" is a condition query.
var rules = []rule{
	{CategoryPatient, []string{"search patient", "find patient", "patient search"}},
	{CategoryCondition, []string{"condition", "diagnosis"}},
	{CategoryProcedure, []string{"procedure"}},
	{CategoryEncounter, []string{"encounter"}},
	{CategoryObservation, []string{"observation", "lab", "test"}},
	{CategoryPrescription, []string{"prescription", "medication"}},
}

// Classify returns the category of the first rule whose keyword occurs in
// the lowercased, trimmed message, or CategoryHelp.
func Classify(message string) Category {
	text := normalize(message)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.category
			}
		}
	}
	return CategoryHelp
}

func (c Category) String() string {
	switch c {
	case CategoryHelp:
		return "help"
	case CategoryPatient:
		return "patient"
	case CategoryCondition:
		return "condition"
	case CategoryProcedure:
		return "procedure"
	case CategoryEncounter:
		return "encounter"
	case CategoryObservation:
		return "observation"
	case CategoryPrescription:
		return "prescription"
	default:
		return "unknown"
	}
}

// Kind is the singular noun used in replies.
func (c Category) Kind() string {
	return c.String()
}

// DefaultSubject is the demo patient id used when a message names none.
func (c Category) DefaultSubject() string {
	switch c {
	case CategoryCondition, CategoryEncounter:
		return "10006"
	case CategoryProcedure:
		return "10117"
	case CategoryObservation:
		return "10011"
	case CategoryPrescription:
		return "42458"
	default:
		return ""
	}
}
