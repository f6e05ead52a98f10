package migrate

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/couchup/couchup/couch"
	"github.com/couchup/couchup/errors"
	"github.com/couchup/couchup/log"
	"github.com/couchup/couchup/metrics"
	"github.com/couchup/couchup/util"
)

// Rebuilder triggers view index recomputation on the target. All views of a
// design document share one computation pass on the server, so querying a
// single view recomputes the whole group.
type Rebuilder struct {
	Target *couch.Client

	// Timeout bounds each triggering view read. An expired bound is
	// expected: the rebuild proceeds asynchronously server-side.
	Timeout time.Duration
}

// Rebuild triggers index recomputation for the databases. Explicit views
// ("ddoc/view") apply only when exactly one database is targeted.
func (r *Rebuilder) Rebuild(ctx context.Context, databases, views []string) error {
	if len(views) > 0 && len(databases) != 1 {
		return errors.New("explicit views require exactly one database")
	}

	for _, db := range databases {
		err := r.rebuildDB(ctx, db, views)
		if err != nil {
			return errors.Wrapf(err, "rebuild %q", db)
		}
	}

	return nil
}

func (r *Rebuilder) rebuildDB(ctx context.Context, db string, views []string) error {
	lg := log.New("rebuild").With(log.DB(db))

	if len(views) > 0 {
		for _, v := range views {
			ddoc, view, ok := strings.Cut(v, "/")
			if !ok || ddoc == "" || view == "" {
				return errors.Errorf("invalid view name %q: expected ddoc/view", v)
			}

			r.trigger(ctx, db, ddoc, view)
		}

		return nil
	}

	ids, err := r.Target.DesignDocIDs(ctx, db)
	if err != nil {
		return errors.Wrap(err, "list design documents")
	}

	for _, id := range ids {
		name := strings.TrimPrefix(id, "_design/")

		doc, err := r.Target.GetDesignDoc(ctx, db, name)
		if err != nil {
			// fatal for this design document only
			lg.Error(err, "Get design document "+id)

			continue
		}

		view := firstView(doc)
		if view == "" {
			lg.Infof("Design document %s has no views, skipping", id)

			continue
		}

		r.trigger(ctx, db, name, view)
	}

	return nil
}

// trigger issues a bounded limit=1 read against one view of the design
// document.
func (r *Rebuilder) trigger(ctx context.Context, db, ddoc, view string) {
	lg := log.New("rebuild").With(log.DB(db))

	err := util.WithTimeout(ctx, r.Timeout, func(ctx context.Context) error {
		return r.Target.QueryView(ctx, db, ddoc, view, 1)
	})

	metrics.IncViewRebuilds()

	switch {
	case err == nil:
		lg.Debugf("View _design/%s/_view/%s is up to date", ddoc, view)

	case couch.IsTimeout(err):
		lg.Infof("Rebuild of _design/%s timed out; it continues on the server", ddoc)

	default:
		lg.Error(err, "Trigger rebuild of _design/"+ddoc)
	}
}

// firstView returns one arbitrary view name of the design document, or ""
// when it defines none. The pick is deterministic only for log readability.
func firstView(doc *couch.DesignDoc) string {
	if len(doc.Views) == 0 {
		return ""
	}

	names := make([]string, 0, len(doc.Views))
	for name := range doc.Views {
		names = append(names, name)
	}

	sort.Strings(names)

	return names[0]
}
