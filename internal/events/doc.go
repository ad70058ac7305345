// Package events provides the in-process lifecycle event bus.
//
// Services emit events after their writes commit; handlers react without
// the emitting service knowing about them. The priority engine, for
// example, refreshes a subject's score when a subject.progressed event
// arrives.
package events
