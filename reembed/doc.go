// Package reembed rebuilds the vectors of stored chunks, typically after
// switching embedding models.
//
// Chunks are visited in batches, embedded with retry and exponential
// backoff, normalized to unit length for cosine similarity and written
// back. Dense indexes registered with the Reembedder receive the new
// vectors as each batch completes.
package reembed
