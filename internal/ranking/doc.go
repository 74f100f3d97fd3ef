// Package ranking turns per-candidate feature vectors into ranked, explained
// match results.
//
// A named Preset selects a weight vector from the Catalog. Score combines the
// weights with a candidate's features into a raw score and applies the
// equity adjustment:
//
//	raw  = Σ w_i × f_i
//	fair = raw×(1−λ) + raw×equity×λ
//
// Each per-feature delta w_i × f_i is kept on the result so the deltas always
// add up to the raw score. Rank orders results by fair score, then raw score,
// then lawyer id, so identical inputs always produce the same ordering.
//
// Engine runs the whole pipeline for one request: features are computed on a
// bounded worker pool, a candidate whose features cannot be computed is
// dropped and counted, and the response reports how many candidates were
// requested and evaluated.
package ranking
