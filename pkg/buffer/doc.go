// Package buffer provides a thread-safe ring buffer holding the most recent
// elements written to it.
package buffer
