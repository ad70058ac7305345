// Package domain holds the scheduler's entities (subjects, components,
// tasks, workers) and the rules that need no storage: component routing by
// capability, the task lifecycle and worker liveness.
package domain
