// Package ranking scores candidate transfer results against a requested
// item's metadata. Scoring is a pure function of the target, the candidate,
// and the configured weights; candidate order only matters for breaking ties.
package ranking

import (
	"sort"
	"strings"
)

// Target describes the item the candidates are being ranked for.
type Target struct {
	Title          string
	Author         string
	RuntimeSeconds int
}

// Candidate is one search result from an indexer.
type Candidate struct {
	Title       string
	Format      string
	SizeBytes   int64
	Seeders     int
	Indexer     string
	DownloadURL string
	InfoHash    string
}

// Breakdown exposes per-signal sub-scores for the selection UI and logs.
type Breakdown struct {
	Title    float64
	Format   float64
	Size     float64
	Seeder   float64
	Modifier float64
	Total    float64
}

// Scored pairs a candidate with its score and original discovery position.
type Scored struct {
	Candidate Candidate
	Breakdown Breakdown
	Position  int
}

// Weights tunes the relative importance of each signal. Bonus and penalty
// keywords are flat modifiers applied on top of the weighted sum when they
// appear as tokens in a release name.
type Weights struct {
	Title            float64
	Format           float64
	Size             float64
	Seeder           float64
	PreferredFormats []string
	MinSeeders       int
	BonusKeywords    []string
	PenaltyKeywords  []string
}

// DefaultWeights returns the scoring profile used when configuration is
// silent.
func DefaultWeights() Weights {
	return Weights{
		Title:            0.5,
		Format:           0.2,
		Size:             0.15,
		Seeder:           0.15,
		PreferredFormats: []string{"m4b", "flac"},
		MinSeeders:       1,
		BonusKeywords:    []string{"unabridged"},
		PenaltyKeywords:  []string{"abridged", "sample"},
	}
}

const (
	keywordBonus   = 0.1
	keywordPenalty = 0.15
)

// Audiobook payloads cluster around 64 kbit/s; used only as a plausibility
// anchor, not a hard bound.
const expectedBytesPerSecond = 8000

// seederSaturation is the seeder count past which more seeders add nothing.
const seederSaturation = 30

// Rank filters and scores candidates, returning them best-first. Candidates
// below the seeder floor are dropped. Equal scores preserve discovery order.
func Rank(target Target, candidates []Candidate, weights Weights) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for position, candidate := range candidates {
		if candidate.Seeders < weights.MinSeeders {
			continue
		}
		scored = append(scored, Scored{
			Candidate: candidate,
			Breakdown: Score(target, candidate, weights),
			Position:  position,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Breakdown.Total > scored[j].Breakdown.Total
	})
	return scored
}

// Score computes the weighted breakdown for one candidate.
func Score(target Target, candidate Candidate, weights Weights) Breakdown {
	breakdown := Breakdown{
		Title:    titleScore(target, candidate),
		Format:   formatScore(candidate, weights.PreferredFormats),
		Size:     sizeScore(target, candidate),
		Seeder:   seederScore(candidate.Seeders),
		Modifier: modifierScore(candidate, weights),
	}
	breakdown.Total = weights.Title*breakdown.Title +
		weights.Format*breakdown.Format +
		weights.Size*breakdown.Size +
		weights.Seeder*breakdown.Seeder +
		breakdown.Modifier
	return breakdown
}

// modifierScore applies keyword bonuses and penalties against the release
// name tokens. Keyword matching is whole-token, so "abridged" never fires on
// an "unabridged" release.
func modifierScore(candidate Candidate, weights Weights) float64 {
	if len(weights.BonusKeywords) == 0 && len(weights.PenaltyKeywords) == 0 {
		return 0
	}
	tokens := make(map[string]struct{})
	for _, token := range tokenize(candidate.Title) {
		tokens[token] = struct{}{}
	}
	var modifier float64
	for _, keyword := range weights.BonusKeywords {
		if _, ok := tokens[normalizeText(keyword)]; ok {
			modifier += keywordBonus
		}
	}
	for _, keyword := range weights.PenaltyKeywords {
		if _, ok := tokens[normalizeText(keyword)]; ok {
			modifier -= keywordPenalty
		}
	}
	return modifier
}

// titleScore measures how much of the requested title and author appears in
// the candidate's release name. The title carries twice the author's weight.
func titleScore(target Target, candidate Candidate) float64 {
	haveTokens := tokenize(candidate.Title)
	titleMatch := tokenOverlap(tokenize(target.Title), haveTokens)
	if target.Author == "" {
		return titleMatch
	}
	authorMatch := tokenOverlap(tokenize(target.Author), haveTokens)
	return (2*titleMatch + authorMatch) / 3
}

// formatScore rewards preferred container formats in configured order. A
// candidate's format comes from its explicit field or, failing that, a token
// in the release name.
func formatScore(candidate Candidate, preferred []string) float64 {
	if len(preferred) == 0 {
		return 0
	}
	format := strings.ToLower(strings.TrimSpace(candidate.Format))
	tokens := tokenize(candidate.Title)
	for rank, want := range preferred {
		want = strings.ToLower(want)
		if format == want {
			return positionalScore(rank, len(preferred))
		}
		for _, token := range tokens {
			if token == want {
				return positionalScore(rank, len(preferred))
			}
		}
	}
	return 0
}

func positionalScore(rank, total int) float64 {
	return float64(total-rank) / float64(total)
}

// sizeScore checks whether the payload size is plausible for the item's
// runtime. Without a known runtime the signal is neutral.
func sizeScore(target Target, candidate Candidate) float64 {
	if target.RuntimeSeconds <= 0 || candidate.SizeBytes <= 0 {
		return 0.5
	}
	expected := float64(target.RuntimeSeconds) * expectedBytesPerSecond
	ratio := float64(candidate.SizeBytes) / expected
	switch {
	case ratio >= 0.5 && ratio <= 2.0:
		return 1
	case ratio >= 0.25 && ratio < 0.5:
		return 0.5
	case ratio > 2.0 && ratio <= 4.0:
		return 0.5
	default:
		return 0
	}
}

func seederScore(seeders int) float64 {
	if seeders <= 0 {
		return 0
	}
	if seeders >= seederSaturation {
		return 1
	}
	return float64(seeders) / seederSaturation
}
