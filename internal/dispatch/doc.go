// Package dispatch implements the subscription registry the supervisor
// reports admissions and bulk drops to.
//
// One goroutine owns the registry map; every operation is a request on a
// channel, so lookups can be bounded by a context deadline.
package dispatch
