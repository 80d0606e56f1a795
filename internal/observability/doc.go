// Package observability builds the process logger and carries the request ID
// through contexts so provider calls and dispatch events can be correlated
// with the HTTP request that caused them.
package observability
