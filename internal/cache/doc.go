// Package cache stores versioned buckets of HTTP responses. A bucket is named
// by the worker's cache version and maps an absolute request URL to the
// stored status, headers and body. The Storage interface lets the worker open,
// enumerate and delete buckets without knowing whether they live in memory, on
// disk (StoragePath/<bucket>/<sha256(url)>) or in a SQLite file. Every backend
// is safe for concurrent use; writes are keyed by URL so concurrent puts of the
// same asset simply overwrite each other.
package cache
