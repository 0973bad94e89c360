// Package cache implements the shared in-memory object store that sits behind
// the relay. Objects live in a fixed number of independently locked buckets;
// each bucket keeps its entries in recency order so a hit can be promoted and
// eviction can take the bucket-local least recently used entry. Eviction walks
// buckets round-robin, which approximates global LRU at constant cost per step.
// Lookups share a read gate while inserts (and the eviction they trigger) hold
// it exclusively, so relay workers never observe a half-applied mutation.
package cache
