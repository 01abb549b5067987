// Package cache holds the ephemeral (edge) tier of the read path: the normalized
// request identity (Key), the validator protocols used to revalidate entries
// against an origin, and the Tier implementations that store Entry values.
// Entries are best-effort: a Tier may evict at any time and callers must treat
// ErrNotFound as an ordinary miss. The durable tier lives in package storage.
package cache
