package abtest

import (
	"math"
	"time"
)

// liftBand is the |lift| in percent below which a significant result is
// treated as a wash.
const liftBand = 5.0

// Analyze runs a pooled two-proportion Z-test on counts.
//
// Either group without exposures yields p = 1 and RecommendInsufficientData.
// Zero pooled variance (both rates 0 or both 1) yields p = 1. A test that has
// not reached its minimum sample in both groups is reported as-is with
// RecommendContinue.
func Analyze(cfg Config, counts Counts) Result {
	cfg = cfg.WithDefaults()
	res := Result{
		TestID:     cfg.ID,
		Counts:     counts,
		PValue:     1,
		ComputedAt: time.Now().UTC(),
	}

	nc, nt := float64(counts.ControlExposures), float64(counts.TreatmentExposures)
	if nc <= 0 || nt <= 0 {
		res.Recommendation = RecommendInsufficientData
		return res
	}

	rc := float64(counts.ControlConversions) / nc
	rt := float64(counts.TreatmentConversions) / nt
	res.ControlRate = rc
	res.TreatmentRate = rt
	if rc > 0 {
		res.Lift = (rt - rc) / rc * 100
	}

	diff := rt - rc
	crit := criticalZ(cfg.SignificanceLevel)
	seDiff := math.Sqrt(rc*(1-rc)/nc + rt*(1-rt)/nt)
	res.CILow = diff - crit*seDiff
	res.CIHigh = diff + crit*seDiff

	res.SampleSufficient = counts.ControlExposures >= cfg.MinSampleSize &&
		counts.TreatmentExposures >= cfg.MinSampleSize

	pooled := float64(counts.ControlConversions+counts.TreatmentConversions) / (nc + nt)
	se := math.Sqrt(pooled * (1 - pooled) * (1/nc + 1/nt))
	if se == 0 || math.IsNaN(se) {
		res.Recommendation = RecommendContinue
		return res
	}

	res.ZScore = diff / se
	res.PValue = TwoTailedP(res.ZScore)
	res.Significant = res.PValue < cfg.SignificanceLevel
	res.Recommendation = recommend(res)
	return res
}

func recommend(r Result) Recommendation {
	switch {
	case !r.SampleSufficient, !r.Significant:
		return RecommendContinue
	case r.Lift > liftBand:
		return RecommendAdoptTreatment
	case r.Lift < -liftBand:
		return RecommendKeepControl
	default:
		return RecommendWeighOther
	}
}

// TwoTailedP returns the two-tailed p-value of a standard normal z score.
func TwoTailedP(z float64) float64 {
	return math.Erfc(math.Abs(z) / math.Sqrt2)
}

// criticalZ returns the z value leaving alpha/2 in each tail.
func criticalZ(alpha float64) float64 {
	if alpha <= 0 || alpha >= 1 {
		alpha = DefaultSignificanceLevel
	}
	return math.Sqrt2 * math.Erfinv(1-alpha)
}

// ShouldRollback reports whether a result warrants rolling the treatment
// back: enough treatment exposures, a significant difference and a lift
// below the configured maximum degradation.
func ShouldRollback(cfg Config, r Result) bool {
	cfg = cfg.WithDefaults()
	return r.TreatmentExposures >= cfg.MinSampleSize &&
		r.Significant &&
		r.Lift < cfg.MaxDegradation
}
