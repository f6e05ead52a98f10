package migrate

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchup/couchup/couch"
	"github.com/couchup/couchup/errors"
	"github.com/couchup/couchup/log"
	"github.com/couchup/couchup/metrics"
)

const (
	// FilterDesignDocName is the well-known design document holding the
	// deleted-documents replication filter on the source.
	FilterDesignDocName = "couchup"
	// FilterName is the filter function name inside the design document.
	FilterName = "deleted"

	deletedFilterSource = "function(doc, req) { if (doc._deleted) { return false; } return true; }"
)

// Orchestrator migrates databases one at a time: it ensures the optional
// replication filter, triggers a replication job on the target, and runs a
// [Monitor] alongside the trigger. Databases are processed strictly
// sequentially; the monitor is the only concurrent unit per database and is
// joined before the next database begins.
type Orchestrator struct {
	Source *couch.Client
	Target *couch.Client

	// StallTimeout is passed to the per-database [Monitor].
	StallTimeout int

	// FilterDeleted skips deleted documents via the source-side filter.
	FilterDeleted bool

	// Credentials, when set, are embedded as precomputed basic-auth headers
	// on both endpoint references inside the job document. The target-side
	// replication engine performs the source fetches itself, so the job body
	// is the only place the credentials can travel.
	Credentials *couch.Credentials

	// Progress receives byte-level progress updates per database.
	Progress ProgressSink

	// tick overrides the monitor poll cadence in tests.
	tick time.Duration
}

// Replicate migrates the databases in order. The first failure aborts the
// remaining run: continuing past a partial migration is dangerous.
func (o *Orchestrator) Replicate(ctx context.Context, databases []string) error {
	for _, db := range databases {
		err := o.replicateOne(ctx, db)
		if err != nil {
			metrics.IncDatabasesFailed()

			return errors.Wrapf(err, "replicate %q", db)
		}

		metrics.IncDatabasesReplicated()
	}

	return nil
}

func (o *Orchestrator) replicateOne(ctx context.Context, db string) error {
	lg := log.New("replicate").With(log.DB(db))
	startedAt := time.Now()

	lg.Info("Starting replication")

	if o.FilterDeleted {
		err := o.ensureFilter(ctx, db)
		if err != nil {
			return err
		}
	}

	progress := o.Progress
	if progress == nil {
		progress = LogProgress(db)
	}

	job := o.buildJob(db)
	mon := &Monitor{
		Source:       o.Source,
		Target:       o.Target,
		DB:           db,
		StallTimeout: o.StallTimeout,
		Tick:         o.tick,
		Progress:     progress,
	}

	g, gctx := errgroup.WithContext(ctx)

	// The monitor starts before the trigger POST so it does not miss the
	// earliest progress ticks. A stalled outcome becomes an error here to
	// cancel the in-flight trigger via the group context.
	g.Go(func() error {
		outcome, err := mon.Watch(gctx)
		if err != nil {
			return err
		}

		if outcome == OutcomeStalled {
			return errors.Wrapf(errors.ErrStalled,
				"no progress over %d consecutive polls", o.StallTimeout)
		}

		return nil
	})

	g.Go(func() error {
		res, err := o.Target.Replicate(gctx, job)
		if err != nil {
			return errors.Wrap(err, "trigger replication")
		}

		if res.NoChanges {
			lg.Info("Already caught up")
		}

		return nil
	})

	err := g.Wait()
	if err != nil {
		return err //nolint:wrapcheck
	}

	lg.With(log.Elapsed(time.Since(startedAt))).Info("Replication complete")

	return nil
}

// ensureFilter makes sure the deterministic filter design document exists on
// the source. A user-modified filter is never overwritten: a content mismatch
// aborts the whole operation.
func (o *Orchestrator) ensureFilter(ctx context.Context, db string) error {
	doc, err := o.Source.GetDesignDoc(ctx, db, FilterDesignDocName)
	if err != nil {
		if !couch.IsNotFound(err) {
			return errors.Wrap(err, "get filter design document")
		}

		err = o.Source.PutDesignDoc(ctx, db, FilterDoc())
		if err != nil {
			return errors.Wrap(err, "create filter design document")
		}

		log.New("replicate").With(log.DB(db)).Debug("Created filter design document")

		return nil
	}

	if doc.Filters[FilterName] != deletedFilterSource {
		return errors.Wrapf(errors.ErrFilterConflict,
			"_design/%s exists with a different %q filter", FilterDesignDocName, FilterName)
	}

	return nil
}

// FilterDoc returns the expected filter design document definition.
func FilterDoc() *couch.DesignDoc {
	return &couch.DesignDoc{
		ID:       "_design/" + FilterDesignDocName,
		Language: "javascript",
		Filters:  map[string]string{FilterName: deletedFilterSource},
	}
}

func (o *Orchestrator) buildJob(db string) *couch.ReplicationJob {
	job := &couch.ReplicationJob{
		Source:       couch.Endpoint{URL: o.Source.DatabaseURL(db)},
		Target:       couch.Endpoint{URL: o.Target.DatabaseURL(db)},
		Continuous:   false,
		CreateTarget: true,
	}

	if o.FilterDeleted {
		job.Filter = FilterDesignDocName + "/" + FilterName
	}

	if o.Credentials != nil {
		auth := map[string]string{"Authorization": o.Credentials.BasicAuthHeader()}
		job.Source.Headers = auth
		job.Target.Headers = auth
	}

	return job
}
