// ABOUTME: Keyword confidence model scoring workflow relevance for a message
// ABOUTME: Scores are keyword density passed through a temperature-scaled softmax

package workflows

import (
	"context"
	"math"
	"sort"
	"strings"
)

// MinTemperature is the floor applied to the softmax temperature.
const MinTemperature = 0.1

// Score is one workflow's confidence.
type Score struct {
	Name       string
	Confidence float64
}

// Scoring is the outcome of scoring a message against the catalog.
type Scoring struct {
	// Selected is the most likely workflow, or "" when no keyword matched.
	Selected   string
	Confidence float64
	// Scores holds every workflow's score in catalog order. When no keyword
	// matched these are the raw zero densities.
	Scores []Score
}

// Ranked returns the scores sorted by confidence, highest first. Ties keep
// catalog order.
func (s Scoring) Ranked() []Score {
	out := append([]Score(nil), s.Scores...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// Scorer rates the catalog against conversation text.
type Scorer interface {
	Score(ctx context.Context, text string, defs []Definition) Scoring
}

// KeywordModel scores workflows by case-insensitive keyword matches.
type KeywordModel struct {
	temperature float64
}

// NewKeywordModel creates a model; temperatures below MinTemperature are
// raised to it.
func NewKeywordModel(temperature float64) *KeywordModel {
	return &KeywordModel{temperature: math.Max(MinTemperature, temperature)}
}

// Temperature returns the effective softmax temperature.
func (m *KeywordModel) Temperature() float64 {
	return m.temperature
}

// Score rates every definition against text. The raw score is the share of
// a tool's keywords found in the text.
func (m *KeywordModel) Score(_ context.Context, text string, defs []Definition) Scoring {
	text = strings.ToLower(text)

	raw := make([]Score, len(defs))
	anyMatch := false
	for i, d := range defs {
		matches := 0
		for _, kw := range d.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				matches++
			}
		}
		density := float64(matches) / float64(max(1, len(d.Keywords)))
		raw[i] = Score{Name: d.Name, Confidence: density}
		if matches > 0 {
			anyMatch = true
		}
	}
	if !anyMatch {
		return Scoring{Scores: raw}
	}

	scores := softmax(raw, m.temperature)
	best := 0
	for i := range scores {
		if scores[i].Confidence > scores[best].Confidence {
			best = i
		}
	}
	return Scoring{
		Selected:   scores[best].Name,
		Confidence: scores[best].Confidence,
		Scores:     scores,
	}
}

func softmax(in []Score, temperature float64) []Score {
	if len(in) == 0 {
		return nil
	}
	maxScore := in[0].Confidence
	for _, s := range in[1:] {
		maxScore = math.Max(maxScore, s.Confidence)
	}

	out := make([]Score, len(in))
	total := 0.0
	for i, s := range in {
		v := math.Exp((s.Confidence - maxScore) / temperature)
		out[i] = Score{Name: s.Name, Confidence: v}
		total += v
	}
	if total == 0 {
		for i := range out {
			out[i].Confidence = 0
		}
		return out
	}
	for i := range out {
		out[i].Confidence /= total
	}
	return out
}
