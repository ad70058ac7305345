// Package service holds the error conventions shared by the scheduler's
// application services (dispatch, ingest and maintenance).
//
// Error handling principles:
//  1. Services return domain and store sentinel errors unchanged for
//     expected conditions, so callers can match them with errors.Is.
//  2. Unexpected errors are wrapped in *Error with the service and
//     operation that failed.
//  3. The API layer maps sentinels to HTTP status codes and never shows
//     the wrapped text to clients.
package service
