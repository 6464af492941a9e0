// Package ingestion feeds document text into the chunk store and indexes.
//
// The Pipeline splits page text into overlapping word windows, stores the
// resulting chunks, then embeds them asynchronously on a worker pool.
// Embedded chunks are registered with every configured search.Indexer so
// the keyword and dense indexes stay in step with the store.
//
// Errors during async processing are collected and reported by Wait.
package ingestion
