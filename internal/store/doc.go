// Package store declares the persistence contracts of the scheduler: the
// task queue with its atomic claim, subject analysis state, the worker
// registry and the priority index. Implementations live under
// internal/platform.
package store
