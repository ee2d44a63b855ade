// Package cache implements the bounded entry cache: a deterministic
// LRU tier built on an intrusive list, a low-overhead fast tier backed
// by hashicorp/golang-lru, and a hybrid composite that reads through
// the fast tier and writes through both.
//
// Every tier bounds residency by entry count and by estimated cost
// (width x height x bytesPerPixel). Set never fails; a write that would
// exceed the limits synchronously evicts first. No entry leaves a tier
// without being counted as an eviction.
package cache
