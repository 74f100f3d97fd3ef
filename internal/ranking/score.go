package ranking

import (
	"cmp"
	"slices"

	"github.com/onnwee/casematch/internal/feature"
)

// DefaultTopContributors is the number of features listed in an explanation.
const DefaultTopContributors = 3

// Contribution is one feature's share of a raw score.
type Contribution struct {
	Code  string  `json:"code"`
	Name  string  `json:"name"`
	Delta float64 `json:"delta"`
	// Share is Delta / raw score, 0 when the raw score is 0.
	Share float64 `json:"share"`
}

// MatchResult is the scored outcome for one candidate.
type MatchResult struct {
	LawyerID     string         `json:"lawyer_id"`
	RawScore     float64        `json:"raw_score"`
	EquityWeight float64        `json:"equity_weight"`
	FairScore    float64        `json:"fair_score"`
	Features     feature.Vector `json:"features"`
	Deltas       feature.Vector `json:"deltas"`
	// Rank is the 1-based position assigned by Rank; 0 before ranking.
	Rank int `json:"rank"`
	// TopContributors is filled by Rank for the returned results.
	TopContributors []Contribution `json:"top_contributors,omitempty"`
}

// Score combines features and weights into a MatchResult. Features, equity
// weight and lambda are clamped to [0, 1], so with weights that sum to 1 both
// scores are in [0, 1].
func Score(lawyerID string, features feature.Vector, weights Weights, equityWeight, lambda float64) MatchResult {
	features = features.Clamped()
	equityWeight = feature.Clamp01(equityWeight)
	lambda = feature.Clamp01(lambda)

	var deltas feature.Vector
	var raw float64
	for i := range features {
		deltas[i] = weights[i] * features[i]
		raw += deltas[i]
	}

	fair := raw*(1-lambda) + raw*equityWeight*lambda

	return MatchResult{
		LawyerID:     lawyerID,
		RawScore:     raw,
		EquityWeight: equityWeight,
		FairScore:    fair,
		Features:     features,
		Deltas:       deltas,
	}
}

// compareResults orders by fair score desc, raw score desc, lawyer id asc.
func compareResults(a, b MatchResult) int {
	if c := cmp.Compare(b.FairScore, a.FairScore); c != 0 {
		return c
	}
	if c := cmp.Compare(b.RawScore, a.RawScore); c != 0 {
		return c
	}
	return cmp.Compare(a.LawyerID, b.LawyerID)
}

// Rank sorts a copy of results, keeps at most topN (all when topN <= 0),
// assigns 1-based positions and fills the explanation. The input slice is
// not modified.
func Rank(results []MatchResult, topN int) []MatchResult {
	ranked := slices.Clone(results)
	slices.SortStableFunc(ranked, compareResults)

	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
		ranked[i].TopContributors = TopContributors(ranked[i], DefaultTopContributors)
	}
	return ranked
}

// TopContributors returns the n features with the largest positive deltas,
// largest first. Ties keep feature code order.
func TopContributors(r MatchResult, n int) []Contribution {
	out := make([]Contribution, 0, feature.NumCodes)
	for _, c := range feature.Codes() {
		delta := r.Deltas.Get(c)
		if delta <= 0 {
			continue
		}
		share := 0.0
		if r.RawScore > 0 {
			share = delta / r.RawScore
		}
		out = append(out, Contribution{
			Code:  c.String(),
			Name:  c.Name(),
			Delta: delta,
			Share: share,
		})
	}
	slices.SortStableFunc(out, func(a, b Contribution) int {
		return cmp.Compare(b.Delta, a.Delta)
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
