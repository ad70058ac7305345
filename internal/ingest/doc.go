// Package ingest accepts worker results. Coherence checks run first with
// no lock held; the component write, task completion and worker counters
// then commit together in one unit of work.
package ingest
