package config

import "time"

const (
	// DefaultSourceURL is the node-local interface of a single-node 1.x
	// deployment.
	DefaultSourceURL = "http://localhost:5986"
	// DefaultTargetURL is the clustered interface of a 2.x deployment.
	DefaultTargetURL = "http://localhost:5984"

	// DefaultStallTimeout is the default number of unchanged consecutive
	// polls after which a replication is considered stalled.
	DefaultStallTimeout = 30
	// DefaultRebuildTimeout is the default bound in seconds for a view read
	// that triggers an index rebuild.
	DefaultRebuildTimeout = 5

	// PollInterval is the replication monitor poll cadence. The stall
	// timeout counts ticks, not wall-clock time, so one tick approximates
	// one second.
	PollInterval = time.Second

	// ProgressLogInterval throttles monitor progress log lines.
	ProgressLogInterval = 5 * time.Second
)
