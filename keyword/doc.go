// Package keyword implements the sparse half of hybrid retrieval: an
// in-memory inverted index over chunk text ranked with Okapi BM25.
//
// The index is rebuilt from the chunk store at startup and kept current
// incrementally as files are ingested or deleted. Scores returned by Search
// are normalized to [0, 1] against the best match of the same query.
package keyword
