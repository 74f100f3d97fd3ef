// Package feature computes the canonical per-candidate match features for a
// (case, lawyer) pair.
//
// Features are addressed by a closed Code enum and stored in a fixed-size
// Vector, so a misspelled feature name is a compile error rather than a
// silently zeroed map entry.
package feature

import (
	"encoding/json"
	"fmt"
	"math"
)

// Code identifies one of the canonical match features.
type Code uint8

// Feature codes. The order is the storage order inside a Vector.
const (
	CodeArea          Code = iota // A: legal area / subarea match
	CodeSimilarity                // S: case summary similarity
	CodeSuccess                   // T: smoothed success rate
	CodeGeo                       // G: geographic proximity
	CodeQualification             // Q: academic and professional qualification
	CodeUrgency                   // U: capacity versus urgency
	CodeReview                    // R: smoothed client rating
	CodeSoftSkills                // C: soft-skill sentiment

	// NumCodes is the number of features in a Vector.
	NumCodes
)

var codeLetters = [NumCodes]string{"A", "S", "T", "G", "Q", "U", "R", "C"}

var codeNames = [NumCodes]string{
	"area_match",
	"case_similarity",
	"success_rate",
	"geo_score",
	"qualification",
	"urgency_capacity",
	"review_score",
	"soft_skills",
}

// Codes returns all feature codes in storage order.
func Codes() []Code {
	codes := make([]Code, NumCodes)
	for i := range codes {
		codes[i] = Code(i)
	}
	return codes
}

// String returns the single-letter code (A, S, T, ...).
func (c Code) String() string {
	if c >= NumCodes {
		return fmt.Sprintf("Code(%d)", uint8(c))
	}
	return codeLetters[c]
}

// Name returns the descriptive snake_case name used in metrics labels.
func (c Code) Name() string {
	if c >= NumCodes {
		return c.String()
	}
	return codeNames[c]
}

// ParseCode resolves a single-letter code.
func ParseCode(s string) (Code, bool) {
	for i, l := range codeLetters {
		if l == s {
			return Code(i), true
		}
	}
	return 0, false
}

// Vector holds one value per feature code.
type Vector [NumCodes]float64

// Get returns the value for code c.
func (v Vector) Get(c Code) float64 {
	return v[c]
}

// Clamped returns a copy with every value forced into [0, 1].
// NaN values become 0.
func (v Vector) Clamped() Vector {
	var out Vector
	for i, x := range v {
		out[i] = Clamp01(x)
	}
	return out
}

// Sum returns the sum of all values.
func (v Vector) Sum() float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}

// Map returns the vector keyed by single-letter code.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, NumCodes)
	for i, x := range v {
		m[codeLetters[i]] = x
	}
	return m
}

// MarshalJSON encodes the vector as an object keyed by letter code.
func (v Vector) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Map())
}

// UnmarshalJSON decodes an object keyed by letter code. Unknown keys are an
// error; missing keys stay zero.
func (v *Vector) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	var out Vector
	for k, x := range m {
		c, ok := ParseCode(k)
		if !ok {
			return fmt.Errorf("unknown feature code %q", k)
		}
		out[c] = x
	}
	*v = out
	return nil
}

// Clamp01 forces x into [0, 1]. NaN maps to 0.
func Clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
