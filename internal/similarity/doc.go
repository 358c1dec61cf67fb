// Package similarity scores and ranks catalog images against a query
// fingerprint.
//
// Each modality has its own measure: normalized Hamming similarity for the
// hashes, cosine similarity for color histograms and embeddings, and a
// bounded Euclidean conversion for shape descriptors. Aggregate combines
// them with caller-supplied weights, leaving out any modality missing on
// either side. Scorer narrows candidates through the vector index or a
// hash-prefix lookup and falls back to a full catalog scan.
package similarity
