// Package api exposes the scheduler to workers and operators over HTTP.
// Handlers decode and validate JSON requests, call the dispatch, ingest
// and maintenance services and translate their errors into status codes
// without leaking internal detail.
package api
