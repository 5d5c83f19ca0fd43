// ABOUTME: System prompt, request hints and title prompt for the care assistant
// ABOUTME: Request hints are read opportunistically from geo headers set by the edge proxy

package prompt

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CareAssistant is the base system prompt for every chat turn.
const CareAssistant = `You are a virtual care assistant within a digital health platform.

# Core Responsibilities
- Use available tools to complete tasks such as booking or canceling appointments, refilling prescriptions, retrieving lab results, and verifying insurance.
- Always use the patient ID: pat_001.
- Request only the minimal necessary information to complete tasks; do not ask for optional fields.
- Treat the user's response as final and confirmed. Do not re-verify unless specifically instructed by guidelines.
- Be conversational and friendly. Avoid bullet lists when they are not necessary.
- Ask only one or two questions at a time and guide the user step by step.

# Interaction Guidelines
1. Prefer clickable UI elements over free text whenever possible.
2. For tasks needing a choice from a short, explicit list (2-8 options), always use the options-select tool so the user can select instead of typing.
3. When you need a specific date from the user, always use the date-select tool. Dates are returned in YYYY-MM-DD format. If the date maps to a parameter, set resultKey to that parameter name.
4. After calling availability_search, always use the timeslot-select tool to present the slots. Do not list the slots in text; pass the slots array directly from the availability_search result.
5. Request free-form input only if structured selection is not possible.
6. If user input is unclear, briefly ask for clarification.

# Tool Usage
- Invoke tools as soon as a task requires them.
- If required parameters are missing, use options-select or date-select if possible; otherwise ask the user directly.
- When you receive availability slots, immediately call timeslot-select to show them.
- Always wait for the user's input or selection before proceeding to the next step.

# Context
- The clinic is located in Montreal, Canada. Any clinic is fine.`

// Title instructs the title model. The user's first message is sent as the
// only user message.
const Title = `Generate a short chat title (2-5 words) summarizing the user's message.

Output ONLY the title text. No prefixes, no formatting.

Examples:
- "what's the weather in nyc" -> Weather in NYC
- "help me write an essay about space" -> Space Essay Help
- "hi" -> New Conversation
- "debug my python code" -> Python Debugging

Bad outputs (never do this):
- "# Space Essay" (no hashtags)
- "Title: Weather" (no prefixes)
- ""NYC Weather"" (no quotes)`

// Geo header names. Both the Vercel edge names and generic X-Geo-* names are
// accepted; the first non-empty value wins.
var (
	latitudeHeaders  = []string{"X-Vercel-IP-Latitude", "X-Geo-Latitude"}
	longitudeHeaders = []string{"X-Vercel-IP-Longitude", "X-Geo-Longitude"}
	cityHeaders      = []string{"X-Vercel-IP-City", "X-Geo-City"}
	countryHeaders   = []string{"X-Vercel-IP-Country", "X-Geo-Country"}
	timezoneHeaders  = []string{"X-Vercel-IP-Timezone", "X-Geo-Timezone"}
)

// RequestHints describe where and when a request originated.
type RequestHints struct {
	Latitude  string
	Longitude string
	City      string
	Country   string
	Timezone  string
	Time      time.Time
}

// HintsFromHeaders builds request hints from optional geo headers. Missing
// headers leave fields empty; the timezone falls back to now's location.
func HintsFromHeaders(h http.Header, now time.Time) RequestHints {
	hints := RequestHints{
		Latitude:  firstHeader(h, latitudeHeaders),
		Longitude: firstHeader(h, longitudeHeaders),
		City:      firstHeader(h, cityHeaders),
		Country:   firstHeader(h, countryHeaders),
		Timezone:  firstHeader(h, timezoneHeaders),
		Time:      now,
	}
	if hints.Timezone == "" {
		hints.Timezone = now.Location().String()
	}
	return hints
}

func firstHeader(h http.Header, names []string) string {
	for _, name := range names {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// Hints renders the request-origin block appended to the system prompt.
// The clinic operates in Montreal, so city and country default there.
func Hints(h RequestHints) string {
	city := orDefault(h.City, "Montreal")
	country := orDefault(h.Country, "Canada")
	ts := ""
	if !h.Time.IsZero() {
		ts = h.Time.UTC().Format(time.RFC3339)
	}

	var b strings.Builder
	b.WriteString("About the origin of user's request:\n")
	fmt.Fprintf(&b, "- lat: %s\n", orDefault(h.Latitude, "unknown"))
	fmt.Fprintf(&b, "- lon: %s\n", orDefault(h.Longitude, "unknown"))
	fmt.Fprintf(&b, "- city: %s\n", city)
	fmt.Fprintf(&b, "- country: %s\n", country)
	fmt.Fprintf(&b, "- timezone: %s\n", orDefault(h.Timezone, "UTC"))
	fmt.Fprintf(&b, "- time: %s\n", orDefault(ts, "unknown"))
	return b.String()
}

// System returns the full system prompt for a turn.
func System(hints RequestHints) string {
	return CareAssistant + "\n\n" + Hints(hints)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
