package feature

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/onnwee/casematch/internal/geo"
)

// Neutral defaults used when an input is missing.
const (
	NeutralScore       = 0.5
	DefaultAreaPartial = 0.6
	DefaultSubareaMin  = 5
	DefaultGeoDecayKm  = 10.0
	DefaultGeoMaxKm    = 100.0
	DefaultRatingMean  = 0.5
	DefaultRatingK     = 5.0
	DefaultKPIWeight   = 10
	ratingScale        = 5.0
	saturationLoad     = 0.9
)

// Enricher looks up enrichment data for a lawyer. Implementations must
// return within the context deadline and report failure through the Err
// field instead of panicking.
type Enricher interface {
	Enrich(ctx context.Context, lawyerID string) Enrichment
}

// Config tunes the feature formulas.
type Config struct {
	// AreaPartialCredit is the A score for an area-only match.
	AreaPartialCredit float64
	// SubareaMinCases is the number of subarea outcomes needed before the
	// subarea history replaces the global history for T.
	SubareaMinCases int
	// Priors are the success-rate priors per legal area.
	Priors Priors
	// GeoDecayKm is the distance at which G halves.
	GeoDecayKm float64
	// GeoMaxRadiusKm is the radius beyond which G is 0.
	GeoMaxRadiusKm float64
	// RatingPriorMean is the normalized global rating mean.
	RatingPriorMean float64
	// RatingPriorWeight is the pseudo review count for the rating prior.
	RatingPriorWeight float64
	// KPISuccessWeight is the number of outcomes the aggregated KPI success
	// rate counts as when a lawyer has no outcome history.
	KPISuccessWeight int
	// Logger for enrichment degradation.
	Logger *slog.Logger
}

// DefaultConfig returns the default feature configuration.
func DefaultConfig() Config {
	return Config{
		AreaPartialCredit: DefaultAreaPartial,
		SubareaMinCases:   DefaultSubareaMin,
		Priors:            Priors{Default: UniformPrior},
		GeoDecayKm:        DefaultGeoDecayKm,
		GeoMaxRadiusKm:    DefaultGeoMaxKm,
		RatingPriorMean:   DefaultRatingMean,
		RatingPriorWeight: DefaultRatingK,
		KPISuccessWeight:  DefaultKPIWeight,
	}
}

// Calculator computes feature vectors. It is safe for concurrent use.
type Calculator struct {
	cfg      Config
	enricher Enricher
	logger   *slog.Logger
}

// NewCalculator creates a Calculator. enricher may be nil, in which case
// missing curriculum and soft-skill data resolve to defaults directly.
func NewCalculator(cfg Config, enricher Enricher) *Calculator {
	if cfg.AreaPartialCredit <= 0 || cfg.AreaPartialCredit > 1 {
		cfg.AreaPartialCredit = DefaultAreaPartial
	}
	if cfg.SubareaMinCases <= 0 {
		cfg.SubareaMinCases = DefaultSubareaMin
	}
	if cfg.GeoDecayKm <= 0 {
		cfg.GeoDecayKm = DefaultGeoDecayKm
	}
	if cfg.GeoMaxRadiusKm <= 0 {
		cfg.GeoMaxRadiusKm = DefaultGeoMaxKm
	}
	if cfg.RatingPriorMean <= 0 || cfg.RatingPriorMean > 1 {
		cfg.RatingPriorMean = DefaultRatingMean
	}
	if cfg.RatingPriorWeight < 0 {
		cfg.RatingPriorWeight = DefaultRatingK
	}
	if cfg.KPISuccessWeight <= 0 {
		cfg.KPISuccessWeight = DefaultKPIWeight
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Calculator{cfg: cfg, enricher: enricher, logger: cfg.Logger}
}

// Compute returns the feature vector for a case and a lawyer.
// It fails only when the case or lawyer identity is missing; every other
// missing input resolves to a neutral default.
func (c *Calculator) Compute(ctx context.Context, cs *Case, l *Lawyer) (Vector, error) {
	if err := cs.Validate(); err != nil {
		return Vector{}, err
	}
	if err := l.Validate(); err != nil {
		return Vector{}, err
	}

	curriculum, softSkill := c.resolveProfile(ctx, l)

	var v Vector
	v[CodeArea] = AreaMatch(cs, l.Expertise, c.cfg.AreaPartialCredit)
	v[CodeSimilarity] = CaseSimilarity(cs.Embedding, l.HistoryEmbeddings)
	v[CodeSuccess] = c.successRate(cs, l)
	v[CodeGeo] = GeoScore(cs.Location, l.Location, c.cfg.GeoDecayKm, c.cfg.GeoMaxRadiusKm)
	v[CodeQualification] = qualification(curriculum, l.KPI)
	v[CodeUrgency] = UrgencyCapacity(l.KPI, cs.UrgencyHours)
	v[CodeReview] = ReviewScore(l.KPI, c.cfg.RatingPriorMean, c.cfg.RatingPriorWeight)
	v[CodeSoftSkills] = SoftSkills(softSkill)

	for i, x := range v {
		if math.IsNaN(x) {
			v[i] = NeutralScore
		}
	}
	return v.Clamped(), nil
}

// resolveProfile prefers data on the lawyer record and falls back to the
// enricher for whatever is missing.
func (c *Calculator) resolveProfile(ctx context.Context, l *Lawyer) (*Curriculum, *float64) {
	curriculum, softSkill := l.Curriculum, l.SoftSkill
	if (curriculum != nil && softSkill != nil) || c.enricher == nil {
		return curriculum, softSkill
	}

	res := c.enricher.Enrich(ctx, l.ID)
	if res.Err != nil {
		level := slog.LevelWarn
		if errors.Is(res.Err, context.Canceled) {
			level = slog.LevelDebug
		}
		c.logger.Log(ctx, level, "enrichment degraded to defaults",
			"lawyer_id", l.ID,
			"error", res.Err)
	}
	if res.Data == nil {
		return curriculum, softSkill
	}
	if curriculum == nil {
		curriculum = res.Data.Curriculum
	}
	if softSkill == nil {
		softSkill = res.Data.SoftSkill
	}
	return curriculum, softSkill
}

func (c *Calculator) successRate(cs *Case, l *Lawyer) float64 {
	prior := c.cfg.Priors.For(cs.Area)

	subWins, subLosses := subareaRecord(l, cs.Subarea)
	if subWins+subLosses >= c.cfg.SubareaMinCases {
		return SmoothedRate(subWins, subLosses, prior)
	}

	if len(l.Outcomes) == 0 && l.KPI.SuccessRate > 0 {
		return ShrinkToMean(Clamp01(l.KPI.SuccessRate), c.cfg.KPISuccessWeight, prior.Mean(), prior.Alpha+prior.Beta)
	}

	wins, losses := 0, 0
	for _, o := range l.Outcomes {
		if o.Won {
			wins++
		} else {
			losses++
		}
	}
	return SmoothedRate(wins, losses, prior)
}

// qualification scores the curriculum, falling back to the precomputed CV
// score when no curriculum is available.
func qualification(cv *Curriculum, kpi KPI) float64 {
	if cv == nil && kpi.CVScore > 0 {
		return Clamp01(kpi.CVScore)
	}
	return Qualification(cv)
}

// subareaRecord prefers the aggregated subarea KPI and falls back to
// counting the outcome history.
func subareaRecord(l *Lawyer, subarea string) (wins, losses int) {
	key := normalize(subarea)
	if key == "" {
		return 0, 0
	}
	for name, kpi := range l.SubareaKPI {
		if normalize(name) == key {
			return kpi.Wins, kpi.Losses
		}
	}
	for _, o := range l.Outcomes {
		if normalize(o.Subarea) != key {
			continue
		}
		if o.Won {
			wins++
		} else {
			losses++
		}
	}
	return wins, losses
}

// AreaMatch returns 1 for an exact subarea match, partial for an area-only
// match and 0 otherwise.
func AreaMatch(cs *Case, expertise []string, partial float64) float64 {
	area, sub := normalize(cs.Area), normalize(cs.Subarea)
	areaHit := false
	for _, tag := range expertise {
		t := normalize(tag)
		if t == "" {
			continue
		}
		if sub != "" && t == sub {
			return 1.0
		}
		if area != "" && t == area {
			areaHit = true
		}
	}
	if areaHit {
		return partial
	}
	return 0
}

// CaseSimilarity returns the cosine similarity between the case embedding
// and the centroid of the lawyer's historical embeddings, floored at 0.
func CaseSimilarity(caseEmb []float64, history [][]float64) float64 {
	if len(caseEmb) == 0 || len(history) == 0 {
		return 0
	}
	centroid := make([]float64, len(caseEmb))
	n := 0
	for _, h := range history {
		if len(h) != len(caseEmb) {
			continue
		}
		for i, x := range h {
			centroid[i] += x
		}
		n++
	}
	if n == 0 {
		return 0
	}
	for i := range centroid {
		centroid[i] /= float64(n)
	}
	return Clamp01(Cosine(caseEmb, centroid))
}

// Cosine returns the cosine similarity of a and b, or 0 for mismatched
// lengths or zero vectors.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// GeoScore applies inverse-distance decay: 1/(1+d/decay) inside maxRadius,
// 0 beyond. Missing coordinates score neutral.
func GeoScore(a, b geo.Point, decayKm, maxRadiusKm float64) float64 {
	if !a.Valid() || !b.Valid() {
		return NeutralScore
	}
	d := geo.DistanceKm(a, b)
	if d > maxRadiusKm {
		return 0
	}
	return Clamp01(1.0 / (1.0 + d/decayKm))
}

// UrgencyCapacity scores how well the lawyer's spare capacity and
// responsiveness fit the case urgency window.
func UrgencyCapacity(kpi KPI, urgencyHours float64) float64 {
	if kpi.MonthlyCapacity <= 0 {
		return NeutralScore
	}
	load := float64(kpi.CasesLast30d) / float64(kpi.MonthlyCapacity)
	spare := Clamp01(1 - load)
	if load >= saturationLoad {
		spare *= 0.5
	}

	// A response time of zero or less is unknown, not instantaneous.
	responsiveness := NeutralScore
	if urgencyHours > 0 && kpi.ResponseTimeHours > 0 {
		responsiveness = Clamp01(1 - kpi.ResponseTimeHours/urgencyHours)
	}

	return Clamp01(0.6*spare + 0.4*responsiveness)
}

// ReviewScore normalizes the average rating and shrinks it toward mean for
// small review counts.
func ReviewScore(kpi KPI, mean, k float64) float64 {
	if kpi.AvgRating <= 0 {
		return mean
	}
	observed := Clamp01(kpi.AvgRating / ratingScale)
	n := kpi.ReviewCount
	if n <= 0 {
		n = 1
	}
	return Clamp01(ShrinkToMean(observed, n, mean, k))
}

// SoftSkills returns the precomputed soft-skill score or the neutral
// midpoint.
func SoftSkills(score *float64) float64 {
	if score == nil || math.IsNaN(*score) {
		return NeutralScore
	}
	return Clamp01(*score)
}
