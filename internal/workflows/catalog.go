// ABOUTME: Catalog of clinical workflow tools served to the chat engine over MCP
// ABOUTME: Each definition carries its JSON schema, routing keywords and a stub handler

package workflows

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// HandlerFunc executes a workflow with validated arguments and returns the
// structured payload.
type HandlerFunc func(args map[string]any) (map[string]any, error)

// Definition describes one workflow tool.
type Definition struct {
	Name        string
	Description string
	Properties  map[string]Property
	Required    []string
	Keywords    []string
	Handler     HandlerFunc
}

// Property is a single input parameter.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Schema renders the JSON Schema for the tool input.
func (d Definition) Schema() json.RawMessage {
	required := d.Required
	if required == nil {
		required = []string{}
	}
	data, err := json.Marshal(map[string]any{
		"type":       "object",
		"properties": d.Properties,
		"required":   required,
	})
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}

// Validate checks that every required parameter is present and non-empty.
func (d Definition) Validate(args map[string]any) error {
	var missing []string
	for _, name := range d.Required {
		v, ok := args[name]
		if !ok || v == nil {
			missing = append(missing, name)
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required parameter(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

func ok(data map[string]any) (map[string]any, error) {
	return map[string]any{"status": "ok", "data": data}, nil
}

func str(desc string) Property     { return Property{Type: "string", Description: desc} }
func boolean(desc string) Property { return Property{Type: "boolean", Description: desc} }

// Shared parameter descriptions.
var (
	patientID   = str("Patient identifier.")
	locationID  = str("Clinic/location identifier.")
	insuranceID = str("Insurance plan identifier.")
	providerID  = str("Provider identifier.")
	serviceID   = str("Service identifier.")
	rangeStart  = str("Start date (YYYY-MM-DD).")
	rangeEnd    = str("End date (YYYY-MM-DD).")
)

// Catalog returns the workflow definitions in their canonical order.
func Catalog() []Definition {
	return []Definition{
		{
			Name:        "service_catalog_search",
			Description: "Search the service catalog for available care services.",
			Properties: map[string]Property{
				"query":        str("Search query."),
				"location_id":  locationID,
				"insurance_id": insuranceID,
				"patient_id":   patientID,
			},
			Required: []string{"query"},
			Keywords: []string{"service", "catalog", "find service", "visit type"},
			Handler: func(map[string]any) (map[string]any, error) {
				return ok(map[string]any{"results": []string{"Primary Care Visit", "Dermatology", "Therapy"}})
			},
		},
		{
			Name:        "provider_search",
			Description: "Find clinicians by specialty, location, or preference.",
			Properties: map[string]Property{
				"specialty":         str("Provider specialty."),
				"location_id":       locationID,
				"language":          str("Preferred language."),
				"gender_preference": str("Preferred gender."),
				"patient_id":        patientID,
				"insurance_id":      insuranceID,
			},
			Required: []string{"specialty"},
			Keywords: []string{"provider", "doctor", "clinician", "specialist"},
			Handler: func(map[string]any) (map[string]any, error) {
				return ok(map[string]any{"providers": []string{"Dr. Patel", "Dr. Nguyen", "Dr. Chen"}})
			},
		},
		{
			Name:        "availability_search",
			Description: "Check appointment slots for a provider and service.",
			Properties: map[string]Property{
				"provider_id":      str("Clinician identifier."),
				"service_id":       str("Service or visit type identifier."),
				"location_id":      locationID,
				"date_range_start": rangeStart,
				"date_range_end":   rangeEnd,
				"time_of_day":      str("morning/afternoon/evening"),
			},
			Required: []string{"provider_id", "service_id"},
			Keywords: []string{"availability", "openings", "slots", "schedule"},
			Handler: func(map[string]any) (map[string]any, error) {
				return ok(map[string]any{"slots": []string{"2026-02-12T10:00:00Z", "2026-02-12T14:30:00Z"}})
			},
		},
		{
			Name:        "appointment_book",
			Description: "Book an appointment for a patient.",
			Properties: map[string]Property{
				"patient_id":   str("Unique patient identifier."),
				"provider_id":  str("Clinician identifier."),
				"service_id":   str("Service or visit type identifier."),
				"start_time":   str("ISO 8601 datetime."),
				"location_id":  locationID,
				"visit_reason": str("Short reason for visit."),
				"insurance_id": insuranceID,
			},
			Required: []string{"patient_id", "provider_id", "service_id", "start_time", "location_id"},
			Keywords: []string{"book", "schedule appointment", "set up appointment"},
			Handler: func(map[string]any) (map[string]any, error) {
				return ok(map[string]any{"appointment_id": "apt_123", "status": "confirmed"})
			},
		},
		{
			Name:        "appointment_reschedule",
			Description: "Reschedule an existing appointment.",
			Properties: map[string]Property{
				"appointment_id": str("Appointment identifier."),
				"new_start_time": str("ISO 8601 datetime."),
				"reason":         str("Reason for reschedule."),
			},
			Required: []string{"appointment_id", "new_start_time"},
			Keywords: []string{"reschedule", "move appointment", "change appointment"},
			Handler: func(args map[string]any) (map[string]any, error) {
				return ok(map[string]any{"appointment_id": args["appointment_id"], "status": "rescheduled"})
			},
		},
		{
			Name:        "appointment_cancel",
			Description: "Cancel an existing appointment.",
			Properties: map[string]Property{
				"appointment_id": str("Appointment identifier."),
				"reason":         str("Reason for cancellation."),
				"cancel_mode":    str("patient/provider"),
			},
			Required: []string{"appointment_id"},
			Keywords: []string{"cancel appointment", "cancel visit", "cancel"},
			Handler: func(args map[string]any) (map[string]any, error) {
				return ok(map[string]any{"appointment_id": args["appointment_id"], "status": "cancelled"})
			},
		},
		{
			Name:        "dependent_add",
			Description: "Add a dependent to a patient's account.",
			Properties: map[string]Property{
				"primary_patient_id":   str("Primary patient identifier."),
				"dependent_first_name": str("First name."),
				"dependent_last_name":  str("Last name."),
				"dob":                  str("Date of birth (YYYY-MM-DD)."),
				"relationship":         str("Relationship to primary patient."),
				"gender":               str("Gender."),
				"insurance_id":         insuranceID,
			},
			Required: []string{"primary_patient_id", "dependent_first_name", "dependent_last_name", "dob", "relationship"},
			Keywords: []string{"add dependent", "add child", "add spouse"},
			Handler: func(map[string]any) (map[string]any, error) {
				return ok(map[string]any{"dependent_id": "dep_456", "status": "added"})
			},
		},
		{
			Name:        "insurance_verify",
			Description: "Verify insurance eligibility and coverage.",
			Properties: map[string]Property{
				"patient_id":   patientID,
				"insurance_id": insuranceID,
				"service_id":   serviceID,
				"location_id":  locationID,
			},
			Required: []string{"patient_id", "insurance_id"},
			Keywords: []string{"insurance", "coverage", "eligibility", "verify"},
			Handler: func(map[string]any) (map[string]any, error) {
				return ok(map[string]any{"eligible": true, "copay": "$25"})
			},
		},
		{
			Name:        "symptom_triage",
			Description: "Provide basic triage routing based on symptoms.",
			Properties: map[string]Property{
				"patient_id": patientID,
				"symptoms":   str("Symptom description."),
				"duration":   str("How long symptoms have lasted."),
				"age":        str("Patient age."),
				"pregnant":   boolean("Pregnancy status."),
				"severity":   str("mild/moderate/severe"),
				"red_flags":  str("Any red flags."),
			},
			Required: []string{"patient_id", "symptoms", "duration"},
			Keywords: []string{"symptom", "triage", "not feeling well", "sick"},
			Handler: func(map[string]any) (map[string]any, error) {
				return ok(map[string]any{"recommendation": "Primary care visit within 48 hours"})
			},
		},
		{
			Name:        "billing_estimate",
			Description: "Estimate patient out-of-pocket costs.",
			Properties: map[string]Property{
				"patient_id":   patientID,
				"service_id":   serviceID,
				"insurance_id": insuranceID,
				"location_id":  locationID,
				"provider_id":  providerID,
			},
			Required: []string{"patient_id", "service_id", "insurance_id", "location_id"},
			Keywords: []string{"estimate", "cost", "billing", "price"},
			Handler: func(map[string]any) (map[string]any, error) {
				return ok(map[string]any{
					"estimate":  "$120",
					"breakdown": map[string]any{"copay": "$25", "coinsurance": "$95"},
				})
			},
		},
		{
			Name:        "prescription_refill",
			Description: "Request a prescription refill.",
			Properties: map[string]Property{
				"patient_id":      patientID,
				"medication_name": str("Medication name."),
				"pharmacy_id":     str("Pharmacy identifier."),
				"rx_number":       str("Prescription number."),
				"dosage":          str("Dosage."),
				"quantity":        str("Quantity."),
			},
			Required: []string{"patient_id", "medication_name"},
			Keywords: []string{"refill", "prescription", "medication"},
			Handler: func(map[string]any) (map[string]any, error) {
				return ok(map[string]any{"refill_status": "submitted"})
			},
		},
		{
			Name:        "lab_results_get",
			Description: "Retrieve lab results for a patient.",
			Properties: map[string]Property{
				"patient_id":       patientID,
				"date_range_start": rangeStart,
				"date_range_end":   rangeEnd,
				"lab_test_name":    str("Lab test name."),
			},
			Required: []string{"patient_id"},
			Keywords: []string{"lab results", "labs", "test results"},
			Handler: func(map[string]any) (map[string]any, error) {
				return ok(map[string]any{
					"results": []map[string]any{{"test": "A1C", "value": "6.1%", "date": "2026-01-10"}},
				})
			},
		},
		{
			Name:        "referral_authorization",
			Description: "Request authorization for a referral.",
			Properties: map[string]Property{
				"patient_id":     patientID,
				"referral_id":    str("Referral identifier."),
				"service_id":     serviceID,
				"provider_id":    providerID,
				"diagnosis_code": str("Diagnosis code."),
			},
			Required: []string{"patient_id", "referral_id"},
			Keywords: []string{"referral", "authorization", "prior auth"},
			Handler: func(map[string]any) (map[string]any, error) {
				return ok(map[string]any{"authorization_status": "pending"})
			},
		},
		{
			Name:        "handoff_to_human",
			Description: "Escalate the conversation to a human care coordinator.",
			Properties: map[string]Property{
				"patient_id": patientID,
				"summary":    str("Summary of the issue."),
				"reason":     str("Why handoff is needed."),
				"urgency":    str("low/medium/high"),
			},
			Required: []string{"patient_id", "summary"},
			Keywords: []string{"human", "representative", "agent", "help"},
			Handler: func(map[string]any) (map[string]any, error) {
				return ok(map[string]any{"handoff_id": "handoff_789", "status": "queued"})
			},
		},
	}
}

// Lookup finds a definition by name.
func Lookup(defs []Definition, name string) (Definition, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}
