// Package database opens PostgreSQL connection pools.
//
// The supervisor itself keeps no persistent state; the pool backs the
// optional lifecycle journal.
package database
