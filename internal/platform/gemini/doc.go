// Package gemini implements generation.Generator and generation.Reasoner
// on top of Google's Gemini API. Calls are retried with exponential backoff
// and jitter; safety blocks and malformed responses are not retried.
package gemini
