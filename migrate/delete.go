package migrate

import (
	"context"

	"github.com/couchup/couchup/couch"
	"github.com/couchup/couchup/errors"
	"github.com/couchup/couchup/log"
)

// Deleter removes migrated databases from the source endpoint. Deletion is
// irreversible, so it is gated on a doc-count parity check between source and
// target unless forced. The target is never touched.
type Deleter struct {
	Source *couch.Client
	Target *couch.Client

	// Force bypasses the parity check entirely.
	Force bool
}

// Delete removes the databases from the source, in order. The first failure
// aborts the remaining deletions to avoid cascading damage from a systemic
// problem.
func (d *Deleter) Delete(ctx context.Context, databases []string) error {
	for _, db := range databases {
		err := d.deleteOne(ctx, db)
		if err != nil {
			return errors.Wrapf(err, "delete %q", db)
		}
	}

	return nil
}

func (d *Deleter) deleteOne(ctx context.Context, db string) error {
	lg := log.New("delete").With(log.DB(db))

	if !d.Force {
		src, err := d.Source.DatabaseInfo(ctx, db)
		if err != nil {
			return errors.Wrap(err, "source doc count")
		}

		tgt, err := d.Target.DatabaseInfo(ctx, db)
		if err != nil {
			return errors.Wrap(err, "target doc count")
		}

		if tgt.DocCount < src.DocCount {
			return errors.Errorf(
				"target has fewer documents than source (%d < %d): deletion would be lossy",
				tgt.DocCount, src.DocCount)
		}
	}

	err := d.Source.DeleteDB(ctx, db)
	if err != nil {
		return errors.Wrap(err, "delete source database")
	}

	lg.Info("Deleted source database")

	return nil
}
