package feature

import "strings"

// Prior is a Beta(Alpha, Beta) prior for Bayesian-smoothed win rates.
type Prior struct {
	Alpha float64 `koanf:"alpha" json:"alpha"`
	Beta  float64 `koanf:"beta" json:"beta"`
}

// UniformPrior is Beta(1,1); its mean is 0.5.
var UniformPrior = Prior{Alpha: 1, Beta: 1}

// Mean returns the prior mean.
func (p Prior) Mean() float64 {
	return p.Alpha / (p.Alpha + p.Beta)
}

func (p Prior) valid() bool {
	return p.Alpha > 0 && p.Beta > 0
}

// Priors maps legal areas to success-rate priors. Areas are matched case
// insensitively; unknown areas use Default.
type Priors struct {
	Default Prior            `koanf:"default" json:"default"`
	ByArea  map[string]Prior `koanf:"by_area" json:"by_area"`
}

// For returns the prior configured for area.
func (p Priors) For(area string) Prior {
	if pr, ok := p.ByArea[normalize(area)]; ok && pr.valid() {
		return pr
	}
	if p.Default.valid() {
		return p.Default
	}
	return UniformPrior
}

// SmoothedRate returns (wins+α)/(wins+losses+α+β).
// With no observations it returns the prior mean.
func SmoothedRate(wins, losses int, prior Prior) float64 {
	if !prior.valid() {
		prior = UniformPrior
	}
	if wins < 0 {
		wins = 0
	}
	if losses < 0 {
		losses = 0
	}
	return (float64(wins) + prior.Alpha) / (float64(wins+losses) + prior.Alpha + prior.Beta)
}

// ShrinkToMean pulls an observed rate toward mean, weighting the
// observation by n samples against k pseudo-samples of the mean.
func ShrinkToMean(observed float64, n int, mean, k float64) float64 {
	if n <= 0 {
		return mean
	}
	if k < 0 {
		k = 0
	}
	return (float64(n)*observed + k*mean) / (float64(n) + k)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
