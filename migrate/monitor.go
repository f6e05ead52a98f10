package migrate

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/couchup/couchup/config"
	"github.com/couchup/couchup/couch"
	"github.com/couchup/couchup/errors"
	"github.com/couchup/couchup/log"
	"github.com/couchup/couchup/metrics"
)

// Outcome is the terminal state of a monitored replication.
type Outcome string

const (
	// OutcomeCompleted indicates doc-count convergence between source and
	// target.
	OutcomeCompleted Outcome = "completed"
	// OutcomeStalled indicates the observed doc count stopped advancing for
	// the configured number of consecutive polls before completion.
	OutcomeStalled Outcome = "stalled"
	// OutcomeFailed indicates a transport failure during polling.
	OutcomeFailed Outcome = "failed"
)

// Monitor observes one in-flight replication by polling database metadata.
// The store gives no event for "replication finished", so doc-count
// convergence is the only observable completion signal.
type Monitor struct {
	Source *couch.Client
	Target *couch.Client

	// DB is the database under replication.
	DB string

	// StallTimeout is the number of unchanged consecutive polls after which
	// the replication is reported as stalled. 0 disables stall detection.
	StallTimeout int

	// Tick overrides the poll cadence. Defaults to [config.PollInterval].
	Tick time.Duration

	// Progress, when set, receives (copied, total) byte counts each poll.
	Progress ProgressSink
}

// Watch polls until the replication completes, stalls, or fails. Stall is a
// result value, not an error: the caller decides how to surface it.
func (m *Monitor) Watch(ctx context.Context) (Outcome, error) {
	lg := log.New("monitor").With(log.DB(m.DB))

	tick := m.Tick
	if tick <= 0 {
		tick = config.PollInterval
	}

	src, err := m.Source.DatabaseInfo(ctx, m.DB)
	if err != nil {
		return OutcomeFailed, errors.Wrap(err, "source database metadata")
	}

	if src.DataSize == 0 {
		lg.Info("Source database is empty, nothing to copy")

		return OutcomeCompleted, nil
	}

	t := time.NewTicker(tick)
	defer t.Stop()

	prev := int64(-1)
	streak := 0
	lastPrintAt := time.Time{}

	for {
		info, err := m.pollTarget(ctx)
		if err != nil {
			return OutcomeFailed, err
		}

		metrics.IncPollTick()
		metrics.SetObservedDocCount(m.DB, info.DocCount)

		if info.DocCount >= src.DocCount {
			if m.Progress != nil {
				m.Progress(src.DataSize, src.DataSize)
			}

			return OutcomeCompleted, nil
		}

		if info.DocCount == prev {
			streak++
		} else {
			streak = 0
		}

		prev = info.DocCount
		metrics.SetStallStreak(m.DB, streak)

		if m.StallTimeout > 0 && streak == m.StallTimeout {
			return OutcomeStalled, nil
		}

		if m.Progress != nil {
			// The clustered store may report an inflated size; clamp to the
			// source size.
			m.Progress(min(info.DataSize, src.DataSize), src.DataSize)
		}

		now := time.Now()
		if now.Sub(lastPrintAt) >= config.ProgressLogInterval {
			lg.Infof("Replicated %d of %d documents (%s of %s)",
				info.DocCount, src.DocCount,
				humanize.Bytes(uint64(max(min(info.DataSize, src.DataSize), 0))),
				humanize.Bytes(uint64(max(src.DataSize, 0))))
			lastPrintAt = now
		}

		select {
		case <-ctx.Done():
			return OutcomeFailed, ctx.Err() //nolint:wrapcheck

		case <-t.C:
		}
	}
}

// pollTarget reads the target database metadata. A 404 means the replication
// has not created the target database yet and counts as zero, not an error.
func (m *Monitor) pollTarget(ctx context.Context) (*couch.DatabaseInfo, error) {
	info, err := m.Target.DatabaseInfo(ctx, m.DB)
	if err != nil {
		if couch.IsNotFound(err) {
			return &couch.DatabaseInfo{DBName: m.DB}, nil
		}

		return nil, errors.Wrap(err, "target database metadata")
	}

	return info, nil
}
