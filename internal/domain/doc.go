// Package domain defines the shared data model for inkwell: source
// documents, chunks, conversation sessions and turns, processing jobs,
// and the error taxonomy used across the interactive and asynchronous
// paths.
//
// The package is dependency-free (standard library plus uuid) so that
// every other internal package can import it without cycles.
package domain
