// Package storage implements the durable tier: named buckets of immutable-ish
// objects with per-key read-after-write consistency. Every object carries its
// content type, an MD5 checksum computed while it is written, the outward HTTP
// headers to replay on read and free-form custom metadata (the read path keeps
// the origin validator there).
//
// Two backends are provided: a filesystem layout with JSON metadata sidecars and
// a single SQLite database. Both are safe for concurrent use.
package storage
