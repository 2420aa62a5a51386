// Package cachestore implements the cache registry: named, versioned partitions
// mapping a request key to the most recently stored response.
//
// Three partitions are live at any time (static, dynamic and api), named
// "<prefix>-v<version>-<kind>". A partition holds at most one entry per request
// key; Put overwrites. Partitions are created on first Open and removed as a
// whole when the version rolls over.
//
// Two Registry implementations are provided: MemoryRegistry keeps partitions in
// go-cache instances, DBRegistry persists them through the datastore.
package cachestore
