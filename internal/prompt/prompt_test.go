package prompt

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "Weather in NYC", "Weather in NYC"},
		{"heading", "# Space Essay", "Space Essay"},
		{"bold", "**Prescription Refill**", "Prescription Refill"},
		{"quoted", `"NYC Weather"`, "NYC Weather"},
		{"prefix", "Title: Weather", "Weather"},
		{"multiline keeps first line", "Lab Results\nHere is why", "Lab Results"},
		{"collapses whitespace", "  Book   a   Visit  ", "Book a Visit"},
		{"empty falls back", "   ", FallbackTitle},
		{"only quotes falls back", `""`, FallbackTitle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanTitle(tt.raw))
		})
	}
}

func TestCleanTitle_Truncates(t *testing.T) {
	got := CleanTitle(strings.Repeat("word ", 40))
	assert.LessOrEqual(t, len([]rune(got)), MaxTitleLength)
	assert.False(t, strings.HasSuffix(got, " "))
}

func TestHintsFromHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("X-Vercel-IP-Latitude", "45.50")
	h.Set("X-Geo-Longitude", "-73.56")
	h.Set("X-Geo-City", "Laval")

	now := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)
	hints := HintsFromHeaders(h, now)

	assert.Equal(t, "45.50", hints.Latitude)
	assert.Equal(t, "-73.56", hints.Longitude)
	assert.Equal(t, "Laval", hints.City)
	assert.Empty(t, hints.Country)
	assert.Equal(t, "UTC", hints.Timezone)
	assert.Equal(t, now, hints.Time)
}

func TestSystem_IncludesHints(t *testing.T) {
	now := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)
	got := System(RequestHints{Latitude: "45.5", Time: now})

	assert.True(t, strings.HasPrefix(got, CareAssistant))
	assert.Contains(t, got, "pat_001")
	assert.Contains(t, got, "- lat: 45.5\n")
	assert.Contains(t, got, "- lon: unknown\n")
	assert.Contains(t, got, "- city: Montreal\n")
	assert.Contains(t, got, "- country: Canada\n")
	assert.Contains(t, got, "- time: 2026-03-04T15:30:00Z\n")
}
