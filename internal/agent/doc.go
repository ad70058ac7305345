// Package agent is the worker side of the swarm. An Agent registers with
// the scheduler, keeps a heartbeat going and cycles through requesting
// work, generating each assigned component and submitting the results.
// Idle polls and transport errors back off with doubling delays.
package agent
