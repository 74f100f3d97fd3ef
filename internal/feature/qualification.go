package feature

import "math"

// Qualification sub-score caps and weights.
const (
	experienceCapYears = 30.0
	publicationCap     = 10.0
	researchProjectCap = 5.0
	awardCap           = 5.0
	weightExperience   = 0.30
	weightDegree       = 0.25
	weightPublications = 0.20
	weightResearch     = 0.10
	weightAwards       = 0.15
	unknownTierWeight  = 0.5
)

var degreeScore = map[DegreeLevel]float64{
	DegreeBachelor:       0.25,
	DegreeSpecialization: 0.50,
	DegreeMaster:         0.75,
	DegreeDoctorate:      1.00,
}

// tierWeight maps a publication tier to its contribution.
func tierWeight(tier int) float64 {
	switch tier {
	case 1:
		return 1.0
	case 2:
		return 0.7
	case 3:
		return 0.4
	default:
		return unknownTierWeight
	}
}

// Qualification combines experience, degree level, publications, research
// projects and awards into a score in [0, 1]. Each component is capped so a
// single outlier cannot dominate. A nil curriculum scores neutral.
func Qualification(cv *Curriculum) float64 {
	if cv == nil {
		return NeutralScore
	}

	experience := 0.0
	if cv.YearsExperience > 0 {
		experience = math.Log1p(cv.YearsExperience) / math.Log1p(experienceCapYears)
	}

	degree := 0.0
	for _, d := range cv.Degrees {
		if s := degreeScore[d]; s > degree {
			degree = s
		}
	}

	var pubs float64
	for _, p := range cv.Publications {
		pubs += tierWeight(p.Tier)
	}

	score := weightExperience*Clamp01(experience) +
		weightDegree*degree +
		weightPublications*Clamp01(pubs/publicationCap) +
		weightResearch*Clamp01(float64(cv.ResearchProjects)/researchProjectCap) +
		weightAwards*Clamp01(float64(cv.Awards)/awardCap)

	return Clamp01(score)
}
