// Package journal persists supervisor lifecycle events to PostgreSQL.
//
// Events (mode changes, admission rejections, dropped consumers) are
// recorded without blocking the caller, accumulated in memory and written
// in batches. The journal is append-only; rows are never updated.
//
// Expected table layout:
//
//	CREATE TABLE supervisor_events (
//	    instance_id TEXT        NOT NULL,
//	    at          TIMESTAMPTZ NOT NULL,
//	    kind        TEXT        NOT NULL,
//	    consumer_id TEXT,
//	    from_mode   TEXT,
//	    to_mode     TEXT,
//	    detail      TEXT
//	);
package journal
