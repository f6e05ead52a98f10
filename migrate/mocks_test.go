package migrate //nolint:testpackage

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/couchup/couchup/couch"
)

// fakeCouch is an httptest-backed double for one CouchDB endpoint. Database
// metadata is served from a per-database sequence of responses, so tests can
// script how doc counts evolve across monitor polls.
type fakeCouch struct {
	mu sync.Mutex

	// infos holds per-database metadata sequences. A nil entry serves a 404.
	// The last entry repeats once the sequence is exhausted; an absent
	// database always serves 404.
	infos map[string][]*couch.DatabaseInfo
	polls map[string]int

	// infoStatus forces an error status for a database's metadata endpoint.
	infoStatus map[string]int

	ddocs    map[string]map[string]couch.DesignDoc
	putDdocs []couch.DesignDoc

	jobs []couch.ReplicationJob

	viewDelay  time.Duration
	viewStatus int
	viewCalls  []string

	deleted []string

	srv *httptest.Server
}

func newFakeCouch(t *testing.T) *fakeCouch {
	t.Helper()

	f := &fakeCouch{
		infos:      make(map[string][]*couch.DatabaseInfo),
		polls:      make(map[string]int),
		infoStatus: make(map[string]int),
		ddocs:      make(map[string]map[string]couch.DesignDoc),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /_all_dbs", f.handleAllDBs)
	mux.HandleFunc("POST /_replicate", f.handleReplicate)
	mux.HandleFunc("GET /{db}", f.handleInfo)
	mux.HandleFunc("DELETE /{db}", f.handleDelete)
	mux.HandleFunc("GET /{db}/_all_docs", f.handleAllDocs)
	mux.HandleFunc("GET /{db}/_design/{name}", f.handleGetDdoc)
	mux.HandleFunc("PUT /{db}/_design/{name}", f.handlePutDdoc)
	mux.HandleFunc("GET /{db}/_design/{ddoc}/_view/{view}", f.handleView)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeCouch) client() *couch.Client {
	return couch.NewClient(f.srv.URL, nil)
}

// setInfoSeq scripts the metadata responses for a database, one per poll.
func (f *fakeCouch) setInfoSeq(db string, seq ...*couch.DatabaseInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.infos[db] = seq
}

func (f *fakeCouch) setDdoc(db string, name string, doc couch.DesignDoc) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ddocs[db] == nil {
		f.ddocs[db] = make(map[string]couch.DesignDoc)
	}

	f.ddocs[db][name] = doc
}

func (f *fakeCouch) pollCount(db string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.polls[db]
}

func (f *fakeCouch) recordedJobs() []couch.ReplicationJob {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]couch.ReplicationJob(nil), f.jobs...)
}

func (f *fakeCouch) recordedPuts() []couch.DesignDoc {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]couch.DesignDoc(nil), f.putDdocs...)
}

func (f *fakeCouch) recordedViewCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.viewCalls...)
}

func (f *fakeCouch) recordedDeletes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.deleted...)
}

func notFound(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"error":"not_found","reason":"Database does not exist."}`))
}

func (f *fakeCouch) handleAllDBs(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	names := make([]string, 0, len(f.infos))
	for name := range f.infos {
		names = append(names, name)
	}
	f.mu.Unlock()

	sort.Strings(names)
	_ = json.NewEncoder(w).Encode(names)
}

func (f *fakeCouch) handleInfo(w http.ResponseWriter, r *http.Request) {
	db := r.PathValue("db")

	f.mu.Lock()

	if status := f.infoStatus[db]; status != 0 {
		f.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"boom"}`))

		return
	}

	seq, ok := f.infos[db]
	idx := f.polls[db]
	f.polls[db]++
	f.mu.Unlock()

	if !ok || len(seq) == 0 {
		notFound(w)

		return
	}

	info := seq[min(idx, len(seq)-1)]
	if info == nil {
		notFound(w)

		return
	}

	out := *info
	out.DBName = db
	_ = json.NewEncoder(w).Encode(out)
}

func (f *fakeCouch) handleReplicate(w http.ResponseWriter, r *http.Request) {
	var job couch.ReplicationJob
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		w.WriteHeader(http.StatusBadRequest)

		return
	}

	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()

	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (f *fakeCouch) handleAllDocs(w http.ResponseWriter, r *http.Request) {
	db := r.PathValue("db")

	f.mu.Lock()
	names := make([]string, 0, len(f.ddocs[db]))
	for name := range f.ddocs[db] {
		names = append(names, name)
	}
	f.mu.Unlock()

	sort.Strings(names)

	res := couch.AllDocsResponse{TotalRows: int64(len(names))}
	for _, name := range names {
		id := "_design/" + name
		res.Rows = append(res.Rows, couch.AllDocsRow{ID: id, Key: id})
	}

	_ = json.NewEncoder(w).Encode(res)
}

func (f *fakeCouch) handleGetDdoc(w http.ResponseWriter, r *http.Request) {
	db, name := r.PathValue("db"), r.PathValue("name")

	f.mu.Lock()
	doc, ok := f.ddocs[db][name]
	f.mu.Unlock()

	if !ok {
		notFound(w)

		return
	}

	_ = json.NewEncoder(w).Encode(doc)
}

func (f *fakeCouch) handlePutDdoc(w http.ResponseWriter, r *http.Request) {
	var doc couch.DesignDoc
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		w.WriteHeader(http.StatusBadRequest)

		return
	}

	f.mu.Lock()
	f.putDdocs = append(f.putDdocs, doc)
	f.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (f *fakeCouch) handleView(w http.ResponseWriter, r *http.Request) {
	call := r.PathValue("db") + "/" + r.PathValue("ddoc") + "/" + r.PathValue("view")

	f.mu.Lock()
	f.viewCalls = append(f.viewCalls, call)
	delay := f.viewDelay
	status := f.viewStatus
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"boom"}`))

		return
	}

	_, _ = w.Write([]byte(`{"total_rows":0,"rows":[]}`))
}

func (f *fakeCouch) handleDelete(w http.ResponseWriter, r *http.Request) {
	db := r.PathValue("db")

	f.mu.Lock()
	f.deleted = append(f.deleted, db)
	f.mu.Unlock()

	_, _ = w.Write([]byte(`{"ok":true}`))
}
