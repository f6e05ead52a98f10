package migrate

import (
	"github.com/dustin/go-humanize"

	"github.com/couchup/couchup/log"
)

// ProgressSink receives (current, max) progress updates. It is push-only:
// there is no backpressure and dropped updates are acceptable.
type ProgressSink func(current, max int64)

// LogProgress returns a sink that logs humanized progress for a database.
func LogProgress(db string) ProgressSink {
	lg := log.New("progress").With(log.DB(db))

	return func(current, maxSize int64) {
		lg.Debugf("%s of %s",
			humanize.Bytes(uint64(max(current, 0))),
			humanize.Bytes(uint64(max(maxSize, 0))))
	}
}
