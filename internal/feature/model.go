package feature

import (
	"errors"
	"strings"

	"github.com/onnwee/casematch/internal/geo"
)

// Validation errors.
var (
	// ErrInvalidInput is returned when a mandatory identity is missing.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEnrichmentUnavailable marks an enrichment call that failed or timed
	// out. It is recovered with default feature values and never surfaced
	// to ranking callers.
	ErrEnrichmentUnavailable = errors.New("enrichment unavailable")
)

// Complexity is the case complexity tier.
type Complexity int

// Complexity tiers.
const (
	ComplexityLow Complexity = iota + 1
	ComplexityMedium
	ComplexityHigh
)

// Case is the legal case being matched. It is treated as immutable once
// matching starts.
type Case struct {
	ID           string     `json:"id"`
	Area         string     `json:"area"`
	Subarea      string     `json:"subarea"`
	UrgencyHours float64    `json:"urgency_hours"`
	Complexity   Complexity `json:"complexity"`
	Location     geo.Point  `json:"location"`
	Embedding    []float64  `json:"embedding,omitempty"`
}

// Validate checks the case identity.
func (c *Case) Validate() error {
	if c == nil || strings.TrimSpace(c.ID) == "" {
		return errors.Join(ErrInvalidInput, errors.New("case id is required"))
	}
	return nil
}

// KPI is the per-lawyer key performance block.
//
// Zero values mean unknown. SuccessRate backs T only for lawyers without an
// outcome history, and CVScore backs Q only when no curriculum is available.
type KPI struct {
	SuccessRate       float64 `json:"success_rate"` // 0-1
	CasesLast30d      int     `json:"cases_last_30d"`
	MonthlyCapacity   int     `json:"monthly_capacity"`
	AvgRating         float64 `json:"avg_rating"` // 0-5 scale
	ReviewCount       int     `json:"review_count"`
	ResponseTimeHours float64 `json:"response_time_hours"`
	CVScore           float64 `json:"cv_score"` // 0-1
}

// SubareaKPI holds aggregated outcomes within one subarea.
type SubareaKPI struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
}

// Outcome is one closed case in a lawyer's history.
type Outcome struct {
	Subarea string `json:"subarea"`
	Won     bool   `json:"won"`
}

// DegreeLevel is the highest academic level of a degree.
type DegreeLevel string

// Degree levels.
const (
	DegreeBachelor       DegreeLevel = "bachelor"
	DegreeSpecialization DegreeLevel = "specialization"
	DegreeMaster         DegreeLevel = "master"
	DegreeDoctorate      DegreeLevel = "doctorate"
)

// Publication is an academic or professional publication.
type Publication struct {
	Title string `json:"title"`
	Tier  int    `json:"tier"` // 1 = top venue, 3 = general press; 0 = unknown
}

// Curriculum is the academic and professional background of a lawyer.
type Curriculum struct {
	YearsExperience  float64       `json:"years_experience"`
	Degrees          []DegreeLevel `json:"degrees"`
	Publications     []Publication `json:"publications"`
	ResearchProjects int           `json:"research_projects"`
	Awards           int           `json:"awards"`
	Languages        []string      `json:"languages"`
	Events           int           `json:"events"`
}

// Lawyer is a candidate for a case.
type Lawyer struct {
	ID                string                `json:"id"`
	Expertise         []string              `json:"expertise"`
	Location          geo.Point             `json:"location"`
	KPI               KPI                   `json:"kpi"`
	SubareaKPI        map[string]SubareaKPI `json:"subarea_kpi,omitempty"`
	SoftSkill         *float64              `json:"soft_skill,omitempty"`
	Outcomes          []Outcome             `json:"outcomes,omitempty"`
	HistoryEmbeddings [][]float64           `json:"history_embeddings,omitempty"`
	Curriculum        *Curriculum           `json:"curriculum,omitempty"`
}

// Validate checks the lawyer identity.
func (l *Lawyer) Validate() error {
	if l == nil || strings.TrimSpace(l.ID) == "" {
		return errors.Join(ErrInvalidInput, errors.New("lawyer id is required"))
	}
	return nil
}

// Profile is enrichment data fetched from the feature store for one lawyer.
type Profile struct {
	Curriculum *Curriculum `json:"curriculum,omitempty" cbor:"curriculum,omitempty"`
	SoftSkill  *float64    `json:"soft_skill,omitempty" cbor:"soft_skill,omitempty"`
}

// Enrichment is the (data|nil, confidence, error) triple returned by an
// enrichment lookup. Partial failure is expressed through Err, never a panic.
type Enrichment struct {
	Data       *Profile
	Confidence float64
	Err        error
}
