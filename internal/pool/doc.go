// Package pool runs search key jobs on a bounded set of workers.
//
// Drain Results in its own goroutine, Submit every job, then Stop; each
// submitted job yields exactly one Result. A panic inside a job is
// recovered and reported as that job's failed outcome.
package pool
