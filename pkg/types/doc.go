// Package types defines the shared data model and boundary interfaces
// of the lumaview cache core: cache keys and entries, load priorities,
// statistics, eviction reasons, and the collaborator contracts (item
// source, decoder, event sink) the core consumes.
package types
