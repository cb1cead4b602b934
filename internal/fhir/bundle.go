package fhir

import (
	"bytes"
	"encoding/json"
)

// Resource types queried by the client.
const (
	ResourcePatient           = "Patient"
	ResourceCondition         = "Condition"
	ResourceProcedure         = "Procedure"
	ResourceEncounter         = "Encounter"
	ResourceObservation       = "Observation"
	ResourceMedicationRequest = "MedicationRequest"
)

// Bundle is a FHIR search-result envelope. Only total and entry are
// interpreted; everything else in the body is ignored.
type Bundle struct {
	ResourceType string  `json:"resourceType,omitempty"`
	Total        *int    `json:"total,omitempty"`
	Entry        []Entry `json:"entry,omitempty"`
}

// Entry wraps one search result. The resource is kept as raw JSON so that
// re-encoding preserves the server's key order.
type Entry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// Count returns total, treating an absent value as zero.
func (b *Bundle) Count() int {
	if b == nil || b.Total == nil {
		return 0
	}
	return *b.Total
}

// FirstResource returns the first entry's resource indented with two spaces.
// ok is false when the bundle has no entries.
func (b *Bundle) FirstResource() (pretty string, ok bool) {
	if b == nil || len(b.Entry) == 0 {
		return "", false
	}
	raw := b.Entry[0].Resource
	if len(raw) == 0 {
		return "null", true
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw), true
	}
	return buf.String(), true
}
